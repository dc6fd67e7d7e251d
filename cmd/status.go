package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	statusadapter "github.com/bnema/bidbot/internal/adapters/render/status"
	"github.com/bnema/bidbot/internal/application"
	"github.com/bnema/bidbot/internal/domain"
)

func newStatusCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status [session-id]",
		Short: "Show the latest run of each session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := ""
			if len(args) == 1 {
				sessionID = args[0]
			}

			statuses, err := loadStatuses(cmd, app, sessionID)
			if err != nil {
				return err
			}

			return writeStatusesOutput(cmd, app, statuses, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}

func writeStatusesOutput(cmd *cobra.Command, app *app, statuses []application.SessionStatus, asJSON bool) error {
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), statuses)
	}

	rendered, err := app.statusRenderer(statuses, statusadapter.RenderOptions{Now: app.now()})
	if err != nil {
		return fmt.Errorf("render status: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}

func loadStatuses(cmd *cobra.Command, app *app, sessionID string) ([]application.SessionStatus, error) {
	if sessionID == "" {
		return app.registry.Overview(cmd.Context())
	}

	if _, err := app.registry.Get(cmd.Context(), domain.SessionID(sessionID)); err != nil {
		return nil, err
	}

	statuses, err := app.registry.Overview(cmd.Context())
	if err != nil {
		return nil, err
	}
	for _, status := range statuses {
		if status.Session.ID == domain.SessionID(sessionID) {
			return []application.SessionStatus{status}, nil
		}
	}

	return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionNotFound)
}

func newStatsCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats [session-id]",
		Short: "Show counters summed over all runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				stats, err := app.registry.Statistics(cmd.Context(), domain.SessionID(args[0]))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, stats)
				}
				_, err = fmt.Fprintln(out, formatStatistics(stats))
				return err
			}

			overall, err := app.registry.OverallStatistics(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, overall)
			}

			for _, stats := range overall.Sessions {
				_, _ = fmt.Fprintln(out, formatStatistics(stats))
			}
			_, err = fmt.Fprintf(out, "total\t%d running\t%s\n", overall.Running, formatCounters(overall.Totals))
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}

func formatStatistics(stats domain.SessionStatistics) string {
	last := "never"
	if stats.LastRun != nil {
		last = string(stats.LastRun.Status)
		if stats.LastRun.StopReason != "" {
			last += " (" + string(stats.LastRun.StopReason) + ")"
		}
	}
	return fmt.Sprintf("%s\t%d runs\t%s\tlast: %s", stats.SessionID, stats.Runs, formatCounters(stats.Totals), last)
}

func formatCounters(c domain.RunCounters) string {
	return fmt.Sprintf("found=%d filtered=%d placed=%d failed=%d errors=%d",
		c.ProjectsFound, c.ProjectsFiltered, c.BidsPlaced, c.BidsFailed, c.Errors)
}
