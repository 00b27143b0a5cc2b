package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/datarivers-io/alohomora/internal/services/authority/instance"
	"github.com/datarivers-io/alohomora/internal/services/replica/storage"
	"github.com/datarivers-io/alohomora/internal/services/shared/replication"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "replica.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testPayload(syncedAt time.Time) replication.Payload {
	return replication.Payload{
		SyncTimestamp: syncedAt,
		Groups: []replication.Group{
			{ID: "g1", Name: "partners", CreatedAt: syncedAt},
		},
		Systems: []replication.System{{
			ID: "s1", Name: "crm", GroupID: "g1", Status: "active", PublicKey: "pk",
			CreatedAt: syncedAt, LastSeenAt: syncedAt, UpdatedAt: syncedAt,
		}},
		Workflows: []replication.Workflow{{
			ID: "wf1", Name: "onboard", SystemID: "s1", GroupID: "g1",
			Steps:     []replication.Step{{StepID: "validate", FunctionID: "f1", SystemID: "s1"}},
			CreatedAt: syncedAt, UpdatedAt: syncedAt,
		}},
		Tokens: []replication.Token{{
			ID: "tok1", SessionID: "sess1", SystemID: "s1", WorkflowID: "wf1",
			FunctionID: "f1", UserID: "u1", Hash: "hash1",
			IssuedAt: syncedAt, ExpiresAt: syncedAt.Add(time.Hour),
		}},
		Instances: []replication.Instance{{
			ID: "inst1", WorkflowID: "wf1", UserID: "u1", Status: "in_progress",
			CreatedAt: syncedAt, UpdatedAt: syncedAt,
		}},
		InstanceSteps: []replication.InstanceStep{{
			InstanceID: "inst1", StepID: "validate", Status: "completed",
			TokenID: "tok1", StartedAt: syncedAt, CompletedAt: syncedAt,
		}},
	}
}

func TestApplyPayloadMakesRecordsVisibleAndAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	syncedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// The token is invisible before the sync cycle applies.
	if _, err := store.FindSharedToken(ctx, "u1", "tok1", "s1", time.Hour, syncedAt); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected token missing before apply, got %v", err)
	}

	if err := store.ApplyPayload(ctx, "g1", testPayload(syncedAt)); err != nil {
		t.Fatalf("apply payload: %v", err)
	}

	tok, err := store.FindSharedToken(ctx, "u1", "tok1", "s1", time.Hour, syncedAt)
	if err != nil {
		t.Fatalf("find token after apply: %v", err)
	}
	if tok.SessionID != "sess1" {
		t.Fatalf("unexpected token %+v", tok)
	}

	system, err := store.GetSystemByName(ctx, "crm")
	if err != nil {
		t.Fatalf("get system: %v", err)
	}
	if system.GroupID != "g1" {
		t.Fatalf("unexpected system %+v", system)
	}

	workflow, err := store.GetWorkflow(ctx, "wf1")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if len(workflow.Steps) != 1 || workflow.Steps[0].StepID != "validate" {
		t.Fatalf("unexpected workflow steps %+v", workflow.Steps)
	}

	inst, err := store.GetInstance(ctx, "inst1")
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if inst.Steps["validate"].TokenID != "tok1" {
		t.Fatalf("unexpected instance steps %+v", inst.Steps)
	}

	cursor, err := store.Cursor(ctx, "g1")
	if err != nil {
		t.Fatalf("read cursor: %v", err)
	}
	if !cursor.Equal(syncedAt) {
		t.Fatalf("expected cursor at %v, got %v", syncedAt, cursor)
	}
}

func TestApplyPayloadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	syncedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := testPayload(syncedAt)

	if err := store.ApplyPayload(ctx, "g1", payload); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := store.ApplyPayload(ctx, "g1", payload); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	counts, err := store.CountInstances(ctx, "wf1")
	if err != nil {
		t.Fatalf("count instances: %v", err)
	}
	if counts.Total != 1 {
		t.Fatalf("expected single instance after replay, got %+v", counts)
	}
}

func TestApplyPayloadUpsertsStatusTransitions(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	syncedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.ApplyPayload(ctx, "g1", testPayload(syncedAt)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	later := syncedAt.Add(time.Minute)
	completed := testPayload(later)
	completed.Instances[0].Status = "completed"
	completed.Instances[0].CompletedAt = &later
	if err := store.ApplyPayload(ctx, "g1", completed); err != nil {
		t.Fatalf("apply update: %v", err)
	}

	inst, err := store.GetInstance(ctx, "inst1")
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if inst.Status != instance.StatusCompleted || inst.CompletedAt == nil {
		t.Fatalf("expected completed instance, got %+v", inst)
	}

	cursor, _ := store.Cursor(ctx, "g1")
	if !cursor.Equal(later) {
		t.Fatalf("expected cursor advanced to %v, got %v", later, cursor)
	}
}

func TestCursorZeroWhenNeverSynced(t *testing.T) {
	store := openTestStore(t)
	cursor, err := store.Cursor(context.Background(), "g1")
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if !cursor.IsZero() {
		t.Fatalf("expected zero cursor, got %v", cursor)
	}
}
