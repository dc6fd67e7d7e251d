package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bnema/bidbot/internal/domain"
	"github.com/bnema/bidbot/internal/ports"
)

const timeLayout = "2006-01-02 15:04:05"

// historyFlags are shared by the bids, runs and logs commands.
type historyFlags struct {
	sessionID string
	runID     string
	since     string
	until     string
	limit     int
	asJSON    bool
}

func (f *historyFlags) register(flags *pflag.FlagSet, withRun bool, defaultLimit int) {
	flags.StringVar(&f.sessionID, "session", "", "Session ID")
	if withRun {
		flags.StringVar(&f.runID, "run", "", "Run ID")
	}
	flags.StringVar(&f.since, "since", "", "Start of the range: RFC3339 time or a duration back from now (e.g. 2h)")
	flags.StringVar(&f.until, "until", "", "End of the range (exclusive), same formats as --since")
	flags.IntVar(&f.limit, "limit", defaultLimit, "Newest entries to show (0 for all)")
	flags.BoolVar(&f.asJSON, "json", false, "Print JSON")
}

func (f *historyFlags) timeRange(now time.Time) (ports.TimeRange, error) {
	since, err := parseTimeBound(f.since, now)
	if err != nil {
		return ports.TimeRange{}, fmt.Errorf("parse --since: %w", err)
	}
	until, err := parseTimeBound(f.until, now)
	if err != nil {
		return ports.TimeRange{}, fmt.Errorf("parse --until: %w", err)
	}
	return ports.TimeRange{Since: since, Until: until}, nil
}

func parseTimeBound(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return now.Add(-d), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func newBidsCmd(app *app) *cobra.Command {
	var f historyFlags

	cmd := &cobra.Command{
		Use:   "bids",
		Short: "List bid attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := f.timeRange(app.now())
			if err != nil {
				return err
			}

			bids, err := app.registry.Bids(cmd.Context(), ports.BidQuery{
				SessionID: domain.SessionID(f.sessionID),
				RunID:     domain.RunID(f.runID),
				Range:     r,
				Limit:     f.limit,
			})
			if err != nil {
				return err
			}
			if f.asJSON {
				return writeJSON(cmd.OutOrStdout(), bids)
			}

			for _, bid := range bids {
				writeBid(cmd.OutOrStdout(), bid)
			}
			return nil
		},
	}

	f.register(cmd.Flags(), true, 50)

	return cmd
}

func writeBid(w io.Writer, bid domain.BidRecord) {
	detail := bid.ProjectLink
	if bid.Outcome == domain.BidFailed {
		detail = bid.Error
	}
	_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f %s\t%dd\t%s\t%s\n",
		bid.CreatedAt.Local().Format(timeLayout),
		bid.SessionID,
		bid.Outcome,
		bid.Amount,
		bid.Currency,
		bid.Period,
		bid.ProjectTitle,
		detail,
	)
}

func newRunsCmd(app *app) *cobra.Command {
	var f historyFlags

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List run records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := f.timeRange(app.now())
			if err != nil {
				return err
			}

			runs, err := app.registry.Runs(cmd.Context(), ports.RunQuery{
				SessionID: domain.SessionID(f.sessionID),
				Range:     r,
				Limit:     f.limit,
			})
			if err != nil {
				return err
			}
			if f.asJSON {
				return writeJSON(cmd.OutOrStdout(), runs)
			}

			now := app.now()
			for _, run := range runs {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					run.StartedAt.Local().Format(timeLayout),
					run.SessionID,
					run.ID,
					run.Status,
					run.StopReason,
					run.Duration(now).Round(time.Second),
					formatCounters(run.Counters),
				)
			}
			return nil
		},
	}

	f.register(cmd.Flags(), false, 20)

	return cmd
}

func newLogsCmd(app *app) *cobra.Command {
	var f historyFlags

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the activity log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := f.timeRange(app.now())
			if err != nil {
				return err
			}

			entries, err := app.registry.Logs(cmd.Context(), ports.LogQuery{
				SessionID: domain.SessionID(f.sessionID),
				RunID:     domain.RunID(f.runID),
				Range:     r,
				Limit:     f.limit,
			})
			if err != nil {
				return err
			}
			if f.asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}

			for _, entry := range entries {
				line := fmt.Sprintf("%s\t%s\t%-7s\t%s",
					entry.At.Local().Format(timeLayout), entry.SessionID, entry.Level, entry.Message)
				if entry.ProjectID != 0 {
					line += fmt.Sprintf("\tproject=%d", entry.ProjectID)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	f.register(cmd.Flags(), true, 100)

	return cmd
}
