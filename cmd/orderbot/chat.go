package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"orderbot/internal/channel"
)

func chatCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Place orders from the terminal",
		Long:  "Runs the order conversation in the terminal as a single contact. Useful for testing a catalog.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig(true)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()
			stopDispatch := a.run(ctx)
			defer stopDispatch()

			cli := channel.NewCLI(channel.CLIConfig{
				ChatID:      cfg.Channels.CLI.ChatID,
				DisplayName: name,
				Logger:      logger,
			})
			return cli.Start(ctx, a.bus)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name used in the greeting")
	return cmd
}
