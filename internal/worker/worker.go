// Package worker polls for enqueued transfers and runs them on a bounded
// pool of goroutines.
package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/realize-engineering/pipebird/internal/model"
)

// Runner executes one transfer. Satisfied by transfer.Coordinator.
type Runner interface {
	Run(ctx context.Context, transferID int64) error
}

// Queue lists enqueued transfers. Satisfied by store.Store.
type Queue interface {
	ListTransfersByStatus(ctx context.Context, status model.TransferStatus, limit int) ([]model.Transfer, error)
}

// RetryPolicy decides whether a failed run attempt is retried and after how
// long. Attempt is 1-based.
type RetryPolicy interface {
	Next(attempt int) (time.Duration, bool)
}

// NoRetry fails a transfer on its first error. Transfers are not assumed
// idempotent on the destination side, so this is the default.
type NoRetry struct{}

func (NoRetry) Next(int) (time.Duration, bool) { return 0, false }

// ExponentialRetry retries up to MaxAttempts with doubling backoff.
type ExponentialRetry struct {
	MaxAttempts int
	Base        time.Duration
}

func (r ExponentialRetry) Next(attempt int) (time.Duration, bool) {
	if attempt >= r.MaxAttempts {
		return 0, false
	}
	backoff := r.Base
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	return backoff, true
}

// Pool is the polling worker loop. Concurrency bounds in-flight transfers;
// duplicate pickups are resolved by the coordinator's guarded claim.
type Pool struct {
	Queue        Queue
	Runner       Runner
	Retry        RetryPolicy
	Concurrency  int
	PollInterval time.Duration
	Logger       *log.Logger
}

func (p *Pool) logf(format string, args ...any) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (p *Pool) retry() RetryPolicy {
	if p.Retry != nil {
		return p.Retry
	}
	return NoRetry{}
}

// Run polls until the context is cancelled, then drains in-flight transfers.
func (p *Pool) Run(ctx context.Context) error {
	concurrency := p.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	interval := p.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
		}

		batch, err := p.Queue.ListTransfersByStatus(ctx, model.TransferStarted, concurrency)
		if err != nil {
			p.logf("worker: poll: %v", err)
			continue
		}
		for _, t := range batch {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				return ctx.Err()
			}
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				defer func() { <-sem }()
				p.execute(ctx, id)
			}(t.ID)
		}
	}
}

func (p *Pool) execute(ctx context.Context, transferID int64) {
	policy := p.retry()
	for attempt := 1; ; attempt++ {
		err := p.Runner.Run(ctx, transferID)
		if err == nil {
			return
		}
		backoff, again := policy.Next(attempt)
		if !again {
			p.logf("worker: transfer %d failed: %v", transferID, err)
			return
		}
		p.logf("worker: transfer %d attempt %d failed, retrying in %s: %v", transferID, attempt, backoff, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}
