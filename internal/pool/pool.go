// Package pool caches one live adapter per connection fingerprint for the
// life of the process.
package pool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/realize-engineering/pipebird/internal/dialect"
	"github.com/realize-engineering/pipebird/pkg/replication"
)

// OpenFunc establishes an adapter for the given parameters. Swappable in
// tests.
type OpenFunc func(ctx context.Context, params replication.ConnectionParams) (dialect.Adapter, error)

// Registry owns every pooled connection, keyed by fingerprint. Create it at
// process start and Close it at shutdown; adapters are never torn down in
// between.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	open    OpenFunc
}

type entry struct {
	mu      sync.Mutex
	adapter dialect.Adapter
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}, open: dialect.Open}
}

// NewRegistryWithOpener is for tests that stub out real connections.
func NewRegistryWithOpener(open OpenFunc) *Registry {
	return &Registry{entries: map[string]*entry{}, open: open}
}

// Fingerprint hashes connection parameters into a stable cache key. Field
// order is fixed, so identical inputs always produce identical keys. Each
// field is length-prefixed so values containing the separator cannot shift
// bytes into a neighboring field and collide.
func Fingerprint(params replication.ConnectionParams) string {
	h := sha256.New()
	for _, field := range []string{
		params.Host,
		strconv.Itoa(params.Port),
		params.Username,
		params.Password,
		params.Database,
		string(params.Engine),
	} {
		fmt.Fprintf(h, "%d:%s|", len(field), field)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Acquire returns the cached adapter for the fingerprint, establishing and
// probing a new one on miss. Creation is serialized per fingerprint, so
// concurrent acquires never race to build two pools. A failed acquire is not
// cached; retrying is the caller's concern and needs external backoff.
func (r *Registry) Acquire(ctx context.Context, params replication.ConnectionParams) (replication.Conn, error) {
	fingerprint := Fingerprint(params)

	r.mu.Lock()
	e, ok := r.entries[fingerprint]
	if !ok {
		e = &entry{}
		r.entries[fingerprint] = e
	}
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.adapter != nil {
		return e.adapter, nil
	}

	adapter, err := r.open(ctx, params)
	if err != nil {
		if errors.Is(err, replication.ErrNotImplemented) || errors.Is(err, replication.ErrMissingCredentials) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", replication.ErrConnectionRefused, err)
	}

	if _, err := adapter.Query(ctx, replication.Statement{SQL: "SELECT 1=1"}); err != nil {
		if closeErr := adapter.Close(); closeErr != nil {
			log.Printf("close unprobed adapter: %v", closeErr)
		}
		return nil, fmt.Errorf("%w: probe failed: %v", replication.ErrConnectionRefused, err)
	}

	e.adapter = adapter
	log.Printf("registered %s pool with fingerprint %s", params.Engine, fingerprint[:12])
	return adapter, nil
}

// Probe verifies an endpoint is reachable. Used when registering sources and
// destinations; the established pool stays cached for later transfers.
func (r *Registry) Probe(ctx context.Context, params replication.ConnectionParams) error {
	_, err := r.Acquire(ctx, params)
	return err
}

// Close tears down every cached adapter. Only called at process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for fingerprint, e := range r.entries {
		e.mu.Lock()
		if e.adapter != nil {
			if err := e.adapter.Close(); err != nil {
				log.Printf("close pool %s: %v", fingerprint[:12], err)
			}
			e.adapter = nil
		}
		e.mu.Unlock()
	}
	r.entries = map[string]*entry{}
}
