package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/datarivers-io/alohomora/internal/services/replica/storage/sqlite"
	"github.com/datarivers-io/alohomora/internal/services/replica/sync"
	"github.com/datarivers-io/alohomora/internal/services/shared/replication"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, health func() sync.Health) *httptest.Server {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "replica.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	payload := replication.Payload{
		SyncTimestamp: testTime,
		Groups: []replication.Group{
			{ID: "g1", Name: "partners", CreatedAt: testTime},
		},
		Systems: []replication.System{{
			ID: "s1", Name: "crm", GroupID: "g1", Status: "active", PublicKey: "pk",
			CreatedAt: testTime, LastSeenAt: testTime, UpdatedAt: testTime,
		}},
		Workflows: []replication.Workflow{{
			ID: "wf1", Name: "onboard", SystemID: "s1", GroupID: "g1",
			Steps:     []replication.Step{{StepID: "validate", FunctionID: "f1", SystemID: "s1"}},
			CreatedAt: testTime, UpdatedAt: testTime,
		}},
		Tokens: []replication.Token{{
			ID: "tok1", SessionID: "sess1", SystemID: "s1", WorkflowID: "wf1",
			FunctionID: "f1", UserID: "u1", Hash: "hash1",
			IssuedAt: testTime, ExpiresAt: testTime.Add(time.Hour),
		}},
		Instances: []replication.Instance{{
			ID: "inst1", WorkflowID: "wf1", UserID: "u1", Status: "in_progress",
			CreatedAt: testTime, UpdatedAt: testTime,
		}},
		InstanceSteps: []replication.InstanceStep{{
			InstanceID: "inst1", StepID: "validate", Status: "completed",
			TokenID: "tok1", StartedAt: testTime, CompletedAt: testTime,
		}},
	}
	if err := store.ApplyPayload(context.Background(), "g1", payload); err != nil {
		t.Fatalf("seed mirror: %v", err)
	}

	mux := http.NewServeMux()
	New(store, health, "g1", func() time.Time { return testTime }).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func getJSON(t *testing.T, server *httptest.Server, path string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := server.Client().Get(server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", path, resp.StatusCode, wantStatus)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return body
}

func postJSON(t *testing.T, server *httptest.Server, path string, payload any, wantStatus int) map[string]any {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := server.Client().Post(server.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s: status %d, want %d", path, resp.StatusCode, wantStatus)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return body
}

func TestReadEndpointsServeMirror(t *testing.T) {
	server := newTestServer(t, nil)

	system := getJSON(t, server, "/system/s1", http.StatusOK)
	if system["system_name"] != "crm" || system["group_id"] != "g1" {
		t.Fatalf("unexpected system %+v", system)
	}

	byName := getJSON(t, server, "/system/name/crm", http.StatusOK)
	if byName["system_id"] != "s1" {
		t.Fatalf("unexpected system by name %+v", byName)
	}

	inst := getJSON(t, server, "/workflow_instance/inst1", http.StatusOK)
	if inst["status"] != "in_progress" || inst["total_instances"] != float64(1) {
		t.Fatalf("unexpected instance %+v", inst)
	}

	missing := getJSON(t, server, "/system/nope", http.StatusNotFound)
	if missing["code"] != "SYSTEM_NOT_FOUND" {
		t.Fatalf("unexpected error body %+v", missing)
	}
}

func TestSharedSessionInquiryAnswersFromMirror(t *testing.T) {
	server := newTestServer(t, nil)

	body := postJSON(t, server, "/shared_session_inquiry", map[string]string{
		"system_id": "s1", "user_id": "u1", "token": "tok1",
	}, http.StatusOK)
	if body["session_exists"] != true {
		t.Fatalf("expected fresh token vouched, got %+v", body)
	}
	sessions := body["sessions"].([]any)
	if sessions[0].(map[string]any)["session_id"] != "sess1" {
		t.Fatalf("unexpected sessions %+v", sessions)
	}

	body = postJSON(t, server, "/shared_session_inquiry", map[string]string{
		"system_id": "s1", "user_id": "someone-else", "token": "tok1",
	}, http.StatusOK)
	if body["session_exists"] != false {
		t.Fatalf("expected no match for other user, got %+v", body)
	}
}

func TestWriteEndpointsRejected(t *testing.T) {
	server := newTestServer(t, nil)

	for _, path := range []string{
		"/new_session",
		"/record_token",
		"/register_group",
		"/create_workflow_instance",
		"/mark_step_completion",
	} {
		body := postJSON(t, server, path, map[string]string{}, http.StatusForbidden)
		if body["code"] != "READ_ONLY_REPLICA" {
			t.Fatalf("POST %s: expected READ_ONLY_REPLICA, got %+v", path, body)
		}
	}
}

func TestHelloReportsSyncHealth(t *testing.T) {
	degraded := func() sync.Health {
		return sync.Health{ConsecutiveFailures: 5, Degraded: true}
	}
	server := newTestServer(t, degraded)

	body := getJSON(t, server, "/hello", http.StatusOK)
	if body["status"] != "degraded" || body["service"] != "replica" {
		t.Fatalf("unexpected hello %+v", body)
	}
	health := body["sync"].(map[string]any)
	if health["consecutive_failures"] != float64(5) {
		t.Fatalf("unexpected health %+v", health)
	}
}
