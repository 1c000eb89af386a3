package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/realize-engineering/pipebird/internal/app"
	"github.com/realize-engineering/pipebird/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	command := newWorkerCommand()
	return command.Execute()
}

func newWorkerCommand() *cobra.Command {
	command := &cobra.Command{
		Use:          "pipebird-worker",
		Short:        "Run the pipebird transfer worker",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd)
		},
	}
	command.Flags().Int("concurrency", 0, "override worker concurrency")
	command.InitDefaultCompletionCmd()
	return command
}

func runWorker(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if concurrency, err := cmd.Flags().GetInt("concurrency"); err == nil && concurrency > 0 {
		cfg.Worker.Concurrency = concurrency
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("pipebird-worker starting, concurrency %d", cfg.Worker.Concurrency)
	if err := app.RunWorker(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Printf("pipebird-worker stopped")
	return nil
}
