package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bidbot",
		Short:         "bidbot: automated bidding on freelance marketplace projects",
		Long:          "bidbot runs one polling loop per configured session: it searches new projects, filters them, asks a language model whether they match, and places a drafted bid when they do.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		rootCmd.AddCommand(newVersionCmd())
		return rootCmd
	}
	rootCmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		return app.close()
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(app),
		newRunCmd(app),
		newSessionCmd(app),
		newStatusCmd(app),
		newStatsCmd(app),
		newBidsCmd(app),
		newRunsCmd(app),
		newLogsCmd(app),
	)

	return rootCmd
}
