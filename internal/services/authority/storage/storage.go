// Package storage defines the persistence contracts for the authority's
// canonical stores. The authority is the single writer of truth; replicas
// only ever mirror what these stores hold.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/datarivers-io/alohomora/internal/services/authority/instance"
	"github.com/datarivers-io/alohomora/internal/services/authority/registry"
	"github.com/datarivers-io/alohomora/internal/services/authority/session"
	"github.com/datarivers-io/alohomora/internal/services/authority/token"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate indicates a write collided with an existing record on a
// uniqueness constraint.
var ErrDuplicate = errors.New("duplicate record")

// GroupStore persists replication groups.
type GroupStore interface {
	PutGroup(ctx context.Context, group registry.Group) error
	GetGroup(ctx context.Context, id string) (registry.Group, error)
}

// SystemStore persists registered systems.
type SystemStore interface {
	PutSystem(ctx context.Context, system registry.System) error
	GetSystem(ctx context.Context, id string) (registry.System, error)
	GetSystemByName(ctx context.Context, name string) (registry.System, error)
	// ListNotificationTargets returns systems in the group that carry a
	// callback URL, excluding the given system id when non-empty.
	ListNotificationTargets(ctx context.Context, groupID, excludeSystemID string) ([]registry.System, error)
}

// FunctionStore persists functions owned by systems.
type FunctionStore interface {
	PutFunction(ctx context.Context, function registry.Function) error
	GetFunction(ctx context.Context, id string) (registry.Function, error)
	ListFunctionsByGroup(ctx context.Context, groupID string) ([]registry.Function, error)
	// SystemOwnsFunction reports whether the function is registered to the
	// system.
	SystemOwnsFunction(ctx context.Context, systemID, functionID string) (bool, error)
}

// WorkflowStore persists workflow definitions with their step sequences.
type WorkflowStore interface {
	PutWorkflow(ctx context.Context, workflow registry.Workflow) error
	GetWorkflow(ctx context.Context, id string) (registry.Workflow, error)
}

// SessionStore persists time-bounded sessions.
type SessionStore interface {
	PutSession(ctx context.Context, s session.Session) error
	GetSession(ctx context.Context, id string) (session.Session, error)
	// DeleteExpiredSessions reaps sessions past their TTL and returns how
	// many were removed. Expiry checks never depend on the reaper running.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// TokenStore persists the append-only token ledger.
type TokenStore interface {
	PutToken(ctx context.Context, t token.Token) error
	// PutTokenWithInstance commits a token and the instance update it caused
	// in one transaction, so a crash can never leave one without the other.
	// A colliding token hash reports ErrDuplicate and writes nothing.
	PutTokenWithInstance(ctx context.Context, t token.Token, inst instance.Instance) error
	GetToken(ctx context.Context, id string) (token.Token, error)
	TokenHashExists(ctx context.Context, hash string) (bool, error)
	// FindSharedToken answers a shared-session inquiry: the token must match
	// the (user, token, system) triple and be younger than maxAge.
	FindSharedToken(ctx context.Context, userID, tokenID, systemID string, maxAge time.Duration, now time.Time) (token.Token, error)
	CountTokens(ctx context.Context) (int, error)
}

// InstanceStore persists workflow instances together with their step
// completion sub-records.
type InstanceStore interface {
	PutInstance(ctx context.Context, inst instance.Instance) error
	GetInstance(ctx context.Context, id string) (instance.Instance, error)
	// FindOpenInstance returns the in-progress instance for the pair, or
	// ErrNotFound when none is open.
	FindOpenInstance(ctx context.Context, workflowID, userID string) (instance.Instance, error)
	CountInstances(ctx context.Context, workflowID string) (instance.Counts, error)
}

// SyncSource exposes the group-filtered delta feed replicas pull from.
type SyncSource interface {
	// ChangedSince returns every group-owned record created or modified
	// after the given cursor position.
	ChangedSince(ctx context.Context, groupID string, since time.Time) (Delta, error)
}

// Delta is one batch of group-scoped records for replica application.
// Sessions stay authority-local; replicas validate tokens, not sessions.
type Delta struct {
	Groups    []registry.Group
	Systems   []registry.System
	Functions []registry.Function
	Workflows []registry.Workflow
	Tokens    []token.Token
	Instances []instance.Instance
}

// Store is the full authority persistence surface.
type Store interface {
	GroupStore
	SystemStore
	FunctionStore
	WorkflowStore
	SessionStore
	TokenStore
	InstanceStore
	SyncSource
}
