package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	platformerrors "github.com/datarivers-io/alohomora/internal/platform/errors"
	"github.com/datarivers-io/alohomora/internal/services/replica/storage/sqlite"
	"github.com/datarivers-io/alohomora/internal/services/shared/replication"
)

type fakeClient struct {
	payloads []replication.Payload
	err      error
	requests []replication.SyncRequest
}

func (f *fakeClient) Pull(_ context.Context, req replication.SyncRequest) (replication.Payload, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return replication.Payload{}, f.err
	}
	if len(f.payloads) == 0 {
		return replication.Payload{}, nil
	}
	payload := f.payloads[0]
	if len(f.payloads) > 1 {
		f.payloads = f.payloads[1:]
	}
	return payload, nil
}

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "replica.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSyncOnceAppliesAndAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	syncedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	client := &fakeClient{payloads: []replication.Payload{{
		SyncTimestamp: syncedAt,
		Tokens: []replication.Token{{
			ID: "tok1", SessionID: "sess1", SystemID: "s1", WorkflowID: "wf1",
			FunctionID: "f1", UserID: "u1", Hash: "hash1",
			IssuedAt: syncedAt, ExpiresAt: syncedAt.Add(time.Hour),
		}},
	}}}
	engine := New(Config{Store: store, Client: client, ReplicaID: "r1", GroupID: "g1"})

	if err := engine.SyncOnce(ctx); err != nil {
		t.Fatalf("sync once: %v", err)
	}

	if _, err := store.FindSharedToken(ctx, "u1", "tok1", "s1", time.Hour, syncedAt); err != nil {
		t.Fatalf("expected token mirrored: %v", err)
	}

	health := engine.Health()
	if health.ConsecutiveFailures != 0 || health.Degraded {
		t.Fatalf("unexpected health %+v", health)
	}
	if !health.LastSyncAt.Equal(syncedAt) {
		t.Fatalf("expected last sync at %v, got %v", syncedAt, health.LastSyncAt)
	}

	// The next pull resumes from the persisted cursor.
	if err := engine.SyncOnce(ctx); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if len(client.requests) != 2 {
		t.Fatalf("expected 2 pulls, got %d", len(client.requests))
	}
	if !client.requests[1].LastSync.Equal(syncedAt) {
		t.Fatalf("expected cursor %v in second pull, got %v", syncedAt, client.requests[1].LastSync)
	}
}

func TestSyncFailureLeavesCursorAndCountsFailures(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	client := &fakeClient{err: errors.New("connection refused")}
	engine := New(Config{Store: store, Client: client, ReplicaID: "r1", GroupID: "g1"})

	for range DegradedThreshold {
		if err := engine.SyncOnce(ctx); err == nil {
			t.Fatal("expected sync failure")
		}
	}

	health := engine.Health()
	if health.ConsecutiveFailures != DegradedThreshold || !health.Degraded {
		t.Fatalf("expected degraded health, got %+v", health)
	}

	cursor, err := store.Cursor(ctx, "g1")
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if !cursor.IsZero() {
		t.Fatalf("expected unadvanced cursor, got %v", cursor)
	}

	// A successful cycle clears the failure streak.
	client.err = nil
	client.payloads = []replication.Payload{{SyncTimestamp: time.Now().UTC()}}
	if err := engine.SyncOnce(ctx); err != nil {
		t.Fatalf("recovery sync: %v", err)
	}
	if health := engine.Health(); health.Degraded || health.ConsecutiveFailures != 0 {
		t.Fatalf("expected recovered health, got %+v", health)
	}
}

func TestHealthSurvivesRestartFromPersistedCursor(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	syncedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := New(Config{
		Store:     store,
		Client:    &fakeClient{payloads: []replication.Payload{{SyncTimestamp: syncedAt}}},
		ReplicaID: "r1", GroupID: "g1",
	})
	if err := first.SyncOnce(ctx); err != nil {
		t.Fatalf("sync once: %v", err)
	}

	// A fresh engine on the same store stands in for a restarted process.
	// Even when the authority is unreachable, freshness reports the last
	// applied sync rather than never-synced.
	second := New(Config{
		Store:     store,
		Client:    &fakeClient{err: errors.New("connection refused")},
		ReplicaID: "r1", GroupID: "g1",
	})
	if err := second.SyncOnce(ctx); err == nil {
		t.Fatal("expected sync failure")
	}

	health := second.Health()
	if !health.LastSyncAt.Equal(syncedAt) {
		t.Fatalf("expected last sync %v after restart, got %v", syncedAt, health.LastSyncAt)
	}
	if health.ConsecutiveFailures != 1 {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestAuthorityClientDistinguishesFailures(t *testing.T) {
	ctx := context.Background()

	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer rejecting.Close()

	client := NewAuthorityClient(rejecting.URL, rejecting.Client())
	_, err := client.Pull(ctx, replication.SyncRequest{ReplicaID: "r1", GroupID: "g1"})
	if platformerrors.CodeOf(err) != platformerrors.CodeUpstreamRejected {
		t.Fatalf("expected upstream rejection, got %v", err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()

	client = NewAuthorityClient(down.URL, http.DefaultClient)
	_, err = client.Pull(ctx, replication.SyncRequest{ReplicaID: "r1", GroupID: "g1"})
	if platformerrors.CodeOf(err) != platformerrors.CodeUpstreamUnavailable {
		t.Fatalf("expected unavailability, got %v", err)
	}

	serving := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req replication.SyncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode sync request: %v", err)
		}
		if req.GroupID != "g1" {
			t.Errorf("unexpected group %s", req.GroupID)
		}
		json.NewEncoder(w).Encode(replication.Payload{SyncTimestamp: time.Now().UTC()})
	}))
	defer serving.Close()

	client = NewAuthorityClient(serving.URL, serving.Client())
	if _, err := client.Pull(ctx, replication.SyncRequest{ReplicaID: "r1", GroupID: "g1"}); err != nil {
		t.Fatalf("pull: %v", err)
	}
}
