package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bnema/bidbot/internal/domain"
)

func newRunCmd(app *app) *cobra.Command {
	var recoverFirst bool

	cmd := &cobra.Command{
		Use:   "run <session-id>",
		Short: "Run one session in the foreground",
		Long:  "run starts one session and waits for its loop to end. Ctrl-C stops the loop and waits for it to close its run record.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := domain.SessionID(args[0])
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if recoverFirst {
				if err := app.prepare(ctx); err != nil {
					return err
				}
			}

			handle, err := app.registry.Start(ctx, id)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "started %s run %s\n", handle.SessionID, handle.RunID)

			record, err := app.registry.Wait(ctx, id)
			if err != nil {
				if ctx.Err() == nil {
					return err
				}
				// Interrupted: stop the loop and wait for its final record.
				if stopErr := app.registry.Stop(context.Background(), id); stopErr != nil {
					app.logger.Debug("stop after interrupt", "session_id", id, "error", stopErr)
				}
				waitCtx, cancel := context.WithTimeout(context.Background(), app.settings.ShutdownTimeout)
				defer cancel()
				if record, err = app.registry.Wait(waitCtx, id); err != nil {
					return fmt.Errorf("wait for loop to stop: %w", err)
				}
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), formatRunSummary(record))
			if record.Status == domain.RunStatusCrashed {
				return fmt.Errorf("run %s crashed: %s", record.ID, record.StopReason)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&recoverFirst, "recover", false, "Close run records left running by a crashed process before starting")

	return cmd
}
