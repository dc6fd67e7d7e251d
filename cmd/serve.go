package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/bidbot/internal/domain"
)

func newServeCmd(app *app) *cobra.Command {
	var sessionIDs []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run sessions until interrupted",
		Long:  "serve closes run records left behind by a previous process, starts the named sessions (all autostart sessions by default) and keeps them running until SIGINT or SIGTERM, or until every loop has ended.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.prepare(ctx); err != nil {
				return err
			}

			ids, err := app.serveTargets(ctx, sessionIDs)
			if err != nil {
				return err
			}

			started := make([]domain.SessionID, 0, len(ids))
			var startErr error
			for _, id := range ids {
				handle, err := app.registry.Start(ctx, id)
				if err != nil {
					app.logger.Error("start session", "session_id", id, "error", err)
					startErr = errors.Join(startErr, fmt.Errorf("start session %s: %w", id, err))
					continue
				}
				started = append(started, id)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "started %s run %s\n", handle.SessionID, handle.RunID)
			}
			if len(started) == 0 {
				return errors.Join(errors.New("no session started"), startErr)
			}

			var g errgroup.Group
			for _, id := range started {
				g.Go(func() error {
					_, err := app.registry.Wait(ctx, id)
					return err
				})
			}
			loopsDone := make(chan struct{})
			go func() {
				_ = g.Wait()
				close(loopsDone)
			}()

			select {
			case <-ctx.Done():
				app.logger.Info("shutting down", "sessions", len(app.registry.Running()))
			case <-loopsDone:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), app.settings.ShutdownTimeout)
			defer cancel()
			if err := app.registry.Shutdown(shutdownCtx); err != nil {
				return err
			}

			return writeRunSummaries(cmd, app, started)
		},
	}

	cmd.Flags().StringSliceVar(&sessionIDs, "session", nil, "Session ID to start (repeatable; default: every autostart session)")

	return cmd
}

// prepare closes stale running records and trims the processed-id history.
func (a *app) prepare(ctx context.Context) error {
	recovered, err := a.registry.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover runs: %w", err)
	}
	if recovered > 0 {
		a.logger.Warn("closed abandoned runs", "count", recovered)
	}

	pruned, err := a.pruneSeen(ctx)
	if err != nil {
		return err
	}
	if pruned > 0 {
		a.logger.Info("pruned processed project history", "count", pruned)
	}

	return nil
}

func (a *app) serveTargets(ctx context.Context, requested []string) ([]domain.SessionID, error) {
	if len(requested) > 0 {
		ids := make([]domain.SessionID, 0, len(requested))
		for _, raw := range requested {
			ids = append(ids, domain.SessionID(raw))
		}
		return ids, nil
	}

	sessions, err := a.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	var ids []domain.SessionID
	for _, session := range sessions {
		if session.AutoStart {
			ids = append(ids, session.ID)
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("no autostart sessions configured; pass --session")
	}
	return ids, nil
}

func writeRunSummaries(cmd *cobra.Command, app *app, ids []domain.SessionID) error {
	for _, id := range ids {
		record, err := app.registry.Status(cmd.Context(), id)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), formatRunSummary(record))
	}
	return nil
}

func formatRunSummary(run domain.RunRecord) string {
	summary := fmt.Sprintf("%s run %s %s", run.SessionID, run.ID, run.Status)
	if run.StopReason != "" {
		summary += " (" + string(run.StopReason) + ")"
	}
	summary += ": " + formatCounters(run.Counters)
	if run.LastError != "" {
		summary += "; last error: " + run.LastError
	}
	return summary
}
