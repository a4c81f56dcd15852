package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"focusmate/internal/app"
	"focusmate/internal/config"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "focusmate",
		Short: "Paired focus session service",
		Long: "focusmate runs the booking, matching and live-session service:\n" +
			"users book a focus slot, get paired with a study partner, and run\n" +
			"the session together over a shared countdown.",
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to YAML config file")

	root.AddCommand(serveCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			return runServer(cfg)
		},
	}
}

func runServer(cfg *config.Config) error {
	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("starting application: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received %s, shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	return application.Stop(shutdownCtx)
}
