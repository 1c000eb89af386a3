package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"pgregory.net/rapid"

	"github.com/realize-engineering/pipebird/internal/dialect"
	"github.com/realize-engineering/pipebird/pkg/replication"
)

type fakeAdapter struct {
	queries  atomic.Int64
	closed   atomic.Bool
	probeErr error
}

func (a *fakeAdapter) Query(context.Context, replication.Statement) ([]replication.Row, error) {
	a.queries.Add(1)
	if a.probeErr != nil {
		return nil, a.probeErr
	}
	return []replication.Row{{"?column?": true}}, nil
}

func (a *fakeAdapter) QueryStream(context.Context, replication.Statement) (replication.RowStream, error) {
	return nil, errors.New("not used")
}

func (a *fakeAdapter) QueryUnsafe(context.Context, string) ([]replication.Row, error) {
	return nil, nil
}

func (a *fakeAdapter) Close() error {
	a.closed.Store(true)
	return nil
}

func testParams(host string) replication.ConnectionParams {
	return replication.ConnectionParams{
		Engine:   replication.EnginePostgres,
		Host:     host,
		Port:     5432,
		Username: "app",
		Password: "secret",
		Database: "orders",
	}
}

func TestFingerprintDeterministicRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		params := replication.ConnectionParams{
			Engine:   replication.EngineType(rapid.SampledFrom([]string{"POSTGRES", "MYSQL", "SNOWFLAKE"}).Draw(t, "engine")),
			Host:     rapid.StringMatching(`[a-z0-9.-]{1,20}`).Draw(t, "host"),
			Port:     rapid.IntRange(1, 65535).Draw(t, "port"),
			Username: rapid.StringMatching(`[a-z_]{1,12}`).Draw(t, "user"),
			Password: rapid.StringMatching(`[a-zA-Z0-9|]{0,16}`).Draw(t, "password"),
			Database: rapid.StringMatching(`[a-z_]{1,12}`).Draw(t, "database"),
		}
		if Fingerprint(params) != Fingerprint(params) {
			t.Fatalf("fingerprint is not deterministic")
		}

		other := params
		other.Host = params.Host + "x"
		if Fingerprint(other) == Fingerprint(params) {
			t.Fatalf("distinct hosts produced the same fingerprint")
		}
	})
}

func TestFingerprintSeparatesAdjacentFields(t *testing.T) {
	first := testParams("db")
	first.Password = "p|d"
	first.Database = "x"

	second := testParams("db")
	second.Password = "p"
	second.Database = "d|x"

	if Fingerprint(first) == Fingerprint(second) {
		t.Fatalf("field contents shifted across boundaries should not collide")
	}
}

func TestAcquireReusesAdapterAcrossCalls(t *testing.T) {
	var opens atomic.Int64
	adapter := &fakeAdapter{}
	registry := NewRegistryWithOpener(func(context.Context, replication.ConnectionParams) (dialect.Adapter, error) {
		opens.Add(1)
		return adapter, nil
	})

	ctx := context.Background()
	first, err := registry.Acquire(ctx, testParams("db1"))
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	second, err := registry.Acquire(ctx, testParams("db1"))
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same adapter on reuse")
	}
	if opens.Load() != 1 {
		t.Fatalf("expected one open, got %d", opens.Load())
	}
	// Probe runs once; the cached path must not re-probe.
	if adapter.queries.Load() != 1 {
		t.Fatalf("expected one probe query, got %d", adapter.queries.Load())
	}
}

func TestAcquireConcurrentSameFingerprint(t *testing.T) {
	var opens atomic.Int64
	registry := NewRegistryWithOpener(func(context.Context, replication.ConnectionParams) (dialect.Adapter, error) {
		opens.Add(1)
		return &fakeAdapter{}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := registry.Acquire(context.Background(), testParams("db1")); err != nil {
				t.Errorf("acquire: %v", err)
			}
		}()
	}
	wg.Wait()
	if opens.Load() != 1 {
		t.Fatalf("expected exactly one open under contention, got %d", opens.Load())
	}
}

func TestAcquireDoesNotCacheFailures(t *testing.T) {
	var opens atomic.Int64
	registry := NewRegistryWithOpener(func(context.Context, replication.ConnectionParams) (dialect.Adapter, error) {
		if opens.Add(1) == 1 {
			return nil, fmt.Errorf("dial tcp: refused")
		}
		return &fakeAdapter{}, nil
	})

	ctx := context.Background()
	if _, err := registry.Acquire(ctx, testParams("db1")); !errors.Is(err, replication.ErrConnectionRefused) {
		t.Fatalf("expected ErrConnectionRefused, got %v", err)
	}
	if _, err := registry.Acquire(ctx, testParams("db1")); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if opens.Load() != 2 {
		t.Fatalf("expected two opens, got %d", opens.Load())
	}
}

func TestAcquireClosesAdapterOnFailedProbe(t *testing.T) {
	adapter := &fakeAdapter{probeErr: errors.New("permission denied")}
	registry := NewRegistryWithOpener(func(context.Context, replication.ConnectionParams) (dialect.Adapter, error) {
		return adapter, nil
	})

	if _, err := registry.Acquire(context.Background(), testParams("db1")); !errors.Is(err, replication.ErrConnectionRefused) {
		t.Fatalf("expected ErrConnectionRefused, got %v", err)
	}
	if !adapter.closed.Load() {
		t.Fatalf("expected failed adapter to be closed")
	}
}

func TestAcquirePreservesSentinelErrors(t *testing.T) {
	registry := NewRegistryWithOpener(func(_ context.Context, params replication.ConnectionParams) (dialect.Adapter, error) {
		return nil, fmt.Errorf("%w: %s", replication.ErrNotImplemented, params.Engine)
	})
	if _, err := registry.Acquire(context.Background(), testParams("db1")); !errors.Is(err, replication.ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented to pass through, got %v", err)
	}
}

func TestCloseTearsDownAdapters(t *testing.T) {
	adapter := &fakeAdapter{}
	registry := NewRegistryWithOpener(func(context.Context, replication.ConnectionParams) (dialect.Adapter, error) {
		return adapter, nil
	})
	if _, err := registry.Acquire(context.Background(), testParams("db1")); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	registry.Close()
	if !adapter.closed.Load() {
		t.Fatalf("expected Close to close adapters")
	}
}
