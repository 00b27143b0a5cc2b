// Package storage defines the persistence contract for a replica's mirror.
//
// A replica never originates records. The only write path is ApplyPayload,
// which folds one sync batch and the cursor advance into a single atomic
// step; everything else is a read against last-known-good state.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/datarivers-io/alohomora/internal/services/authority/instance"
	"github.com/datarivers-io/alohomora/internal/services/authority/registry"
	"github.com/datarivers-io/alohomora/internal/services/authority/token"
	"github.com/datarivers-io/alohomora/internal/services/shared/replication"
)

// ErrNotFound indicates a requested record is missing from the mirror.
var ErrNotFound = errors.New("record not found")

// Store is the replica persistence surface.
type Store interface {
	// Cursor returns how far the group has been synced; zero when never.
	Cursor(ctx context.Context, groupID string) (time.Time, error)

	// ApplyPayload upserts one sync batch and advances the cursor to the
	// payload's sync timestamp in a single transaction. A failed apply
	// leaves both the mirror and the cursor untouched.
	ApplyPayload(ctx context.Context, groupID string, payload replication.Payload) error

	GetSystem(ctx context.Context, id string) (registry.System, error)
	GetSystemByName(ctx context.Context, name string) (registry.System, error)
	GetWorkflow(ctx context.Context, id string) (registry.Workflow, error)
	GetInstance(ctx context.Context, id string) (instance.Instance, error)
	CountInstances(ctx context.Context, workflowID string) (instance.Counts, error)
	FindSharedToken(ctx context.Context, userID, tokenID, systemID string, maxAge time.Duration, now time.Time) (token.Token, error)
}
