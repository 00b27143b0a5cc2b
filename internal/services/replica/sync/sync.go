// Package sync pulls group-scoped deltas from the authority into the
// replica's mirror on a timer.
package sync

import (
	"context"
	"fmt"
	"log"
	gosync "sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/datarivers-io/alohomora/internal/services/replica/storage"
	"github.com/datarivers-io/alohomora/internal/services/shared/replication"
)

// DegradedThreshold is how many consecutive failed cycles mark the replica's
// freshness as degraded.
const DegradedThreshold = 3

// Client pulls one delta batch from the authority.
type Client interface {
	Pull(ctx context.Context, req replication.SyncRequest) (replication.Payload, error)
}

// Health reports the replica's sync freshness.
type Health struct {
	LastSyncAt          time.Time `json:"last_sync_at,omitzero"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Degraded            bool      `json:"degraded"`
}

// Engine runs the pull-and-apply cycle for one group.
type Engine struct {
	store     storage.Store
	client    Client
	replicaID string
	groupID   string
	interval  time.Duration
	tracer    trace.Tracer

	mu                  gosync.Mutex
	lastSyncAt          time.Time
	consecutiveFailures int
}

// Config carries the engine dependencies.
type Config struct {
	Store     storage.Store
	Client    Client
	ReplicaID string
	GroupID   string
	Interval  time.Duration
}

// New creates a sync engine.
func New(cfg Config) *Engine {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Engine{
		store:     cfg.Store,
		client:    cfg.Client,
		replicaID: cfg.ReplicaID,
		groupID:   cfg.GroupID,
		interval:  interval,
		tracer:    otel.Tracer("alohomora/replica/sync"),
	}
}

// SyncOnce runs one pull-and-apply cycle. A failed cycle leaves both the
// mirror and the cursor untouched.
func (e *Engine) SyncOnce(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "sync.cycle")
	defer span.End()

	cursor, err := e.store.Cursor(ctx, e.groupID)
	if err != nil {
		return e.fail(fmt.Errorf("read cursor: %w", err))
	}

	// After a restart the in-memory freshness starts empty; the persisted
	// cursor is the last applied sync, so report from there until a cycle
	// succeeds.
	e.mu.Lock()
	if e.lastSyncAt.IsZero() && !cursor.IsZero() {
		e.lastSyncAt = cursor
	}
	e.mu.Unlock()

	payload, err := e.client.Pull(ctx, replication.SyncRequest{
		ReplicaID: e.replicaID,
		GroupID:   e.groupID,
		LastSync:  cursor,
	})
	if err != nil {
		return e.fail(fmt.Errorf("pull delta: %w", err))
	}

	if err := e.store.ApplyPayload(ctx, e.groupID, payload); err != nil {
		return e.fail(fmt.Errorf("apply delta: %w", err))
	}

	e.mu.Lock()
	e.lastSyncAt = payload.SyncTimestamp
	e.consecutiveFailures = 0
	e.mu.Unlock()
	return nil
}

func (e *Engine) fail(err error) error {
	e.mu.Lock()
	e.consecutiveFailures++
	e.mu.Unlock()
	return err
}

// Health returns the current freshness signal.
func (e *Engine) Health() Health {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Health{
		LastSyncAt:          e.lastSyncAt,
		ConsecutiveFailures: e.consecutiveFailures,
		Degraded:            e.consecutiveFailures >= DegradedThreshold,
	}
}

// Run cycles until the context ends. Failures back off exponentially and
// never stop the loop; the replica keeps serving its last-known-good
// snapshot in the meantime.
func (e *Engine) Run(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = e.interval

	for {
		wait := e.interval
		if err := e.SyncOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("sync group %s: %v", e.groupID, err)
			wait = policy.NextBackOff()
		} else {
			policy.Reset()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
