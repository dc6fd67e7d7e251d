package status

import (
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bnema/bidbot/internal/application"
)

var ErrUnexpectedRenderModel = errors.New("unexpected final bubbletea model type")

// sessionBlockMsg carries one rendered session back to the model.
type sessionBlockMsg struct {
	index int
	block string
}

type emptyOverviewMsg struct{}

// overviewModel renders every session in its own command and quits once
// the last block has arrived. Blocks keep the order of the statuses.
type overviewModel struct {
	statuses []application.SessionStatus
	opts     RenderOptions
	styles   styles
	blocks   []string
	pending  int
	frame    string
}

func newOverviewModel(statuses []application.SessionStatus, opts RenderOptions) overviewModel {
	return overviewModel{
		statuses: statuses,
		opts:     opts,
		styles:   newStyles(),
		blocks:   make([]string, len(statuses)),
		pending:  len(statuses),
	}
}

func (m overviewModel) Init() tea.Cmd {
	if m.pending == 0 {
		return func() tea.Msg { return emptyOverviewMsg{} }
	}

	cmds := make([]tea.Cmd, 0, len(m.statuses))
	for i, st := range m.statuses {
		cmds = append(cmds, func() tea.Msg {
			return sessionBlockMsg{index: i, block: m.styles.section.Render(renderSession(st, m.opts, m.styles))}
		})
	}
	return tea.Batch(cmds...)
}

func (m overviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case emptyOverviewMsg:
		m.frame = renderFrame(m.statuses, nil, m.styles)
		return m, tea.Quit
	case sessionBlockMsg:
		m.blocks[msg.index] = msg.block
		m.pending--
		if m.pending > 0 {
			return m, nil
		}
		m.frame = renderFrame(m.statuses, m.blocks, m.styles)
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m overviewModel) View() string {
	return m.frame
}

// Render draws the session overview headlessly and returns the final frame.
func Render(statuses []application.SessionStatus, opts RenderOptions) (string, error) {
	final, err := tea.NewProgram(
		newOverviewModel(statuses, opts),
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	).Run()
	if err != nil {
		return "", fmt.Errorf("render session overview: %w", err)
	}

	rendered, ok := final.(overviewModel)
	if !ok {
		return "", ErrUnexpectedRenderModel
	}
	return rendered.View(), nil
}
