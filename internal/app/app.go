// Package app wires the store, pools and coordinator into runnable services.
package app

import (
	"context"
	"net/http"

	"github.com/realize-engineering/pipebird/internal/config"
	"github.com/realize-engineering/pipebird/internal/notify"
	"github.com/realize-engineering/pipebird/internal/pool"
	"github.com/realize-engineering/pipebird/internal/store"
	"github.com/realize-engineering/pipebird/internal/telemetry"
	"github.com/realize-engineering/pipebird/internal/transfer"
	"github.com/realize-engineering/pipebird/internal/worker"
	"github.com/realize-engineering/pipebird/pkg/objectstore"
)

// Services holds the wired core components shared by the CLI and worker.
type Services struct {
	Config      *config.Config
	Store       *store.Store
	Pools       *pool.Registry
	Coordinator *transfer.Coordinator
}

// Build connects to the control-plane database, runs migrations and wires
// the coordinator. Callers own Close.
func Build(ctx context.Context, cfg *config.Config) (*Services, error) {
	st, err := store.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}

	pools := pool.NewRegistry()
	factory := &transfer.LoaderFactory{
		Pools: pools,
		Staging: objectstore.S3Config{
			Bucket:          cfg.Staging.Bucket,
			Region:          cfg.Staging.Region,
			AccessKeyID:     cfg.Staging.AccessKeyID,
			SecretAccessKey: cfg.Staging.SecretAccessKey,
			KMSKeyID:        cfg.Staging.KMSKeyID,
			Endpoint:        cfg.Staging.Endpoint,
			ForcePathStyle:  cfg.Staging.ForcePathStyle,
		},
	}
	notifier := &notify.WebhookNotifier{
		Store:  st,
		Client: &http.Client{Timeout: cfg.Webhook.Timeout},
	}
	coordinator := &transfer.Coordinator{
		Store:    st,
		Pools:    pools,
		Loaders:  factory,
		Notifier: notifier,
		Tracer:   telemetry.Tracer(cfg.Telemetry.ServiceName),
	}

	return &Services{
		Config:      cfg,
		Store:       st,
		Pools:       pools,
		Coordinator: coordinator,
	}, nil
}

func (s *Services) Close() {
	s.Pools.Close()
	s.Store.Close()
}

// RunWorker blocks in the worker poll loop until the context is cancelled.
func RunWorker(ctx context.Context, cfg *config.Config) error {
	services, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer services.Close()

	var retry worker.RetryPolicy = worker.NoRetry{}
	if cfg.Worker.RetryAttempts > 0 {
		retry = worker.ExponentialRetry{
			MaxAttempts: cfg.Worker.RetryAttempts,
			Base:        cfg.Worker.RetryBackoff,
		}
	}

	workers := &worker.Pool{
		Queue:        services.Store,
		Runner:       services.Coordinator,
		Retry:        retry,
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
	}
	return workers.Run(ctx)
}
