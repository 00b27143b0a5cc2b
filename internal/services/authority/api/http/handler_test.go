package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/datarivers-io/alohomora/internal/services/authority/ledger"
	"github.com/datarivers-io/alohomora/internal/services/authority/storage/sqlite"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "authority.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	counter := 0
	service := ledger.New(ledger.Config{
		Store:    store,
		AdminKey: "admin-key",
		Now:      func() time.Time { return testTime },
		NewID: func() (string, error) {
			counter++
			return fmt.Sprintf("id%03d", counter), nil
		},
	})

	mux := http.NewServeMux()
	New(service, func() time.Time { return testTime }).Register(mux)
	return mux
}

func postJSON(t *testing.T, mux *http.ServeMux, path string, body map[string]any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func getJSON(t *testing.T, mux *http.ServeMux, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

// seedRegistry walks the admin registration flow and returns the ids needed
// to record tokens: group, system, two functions, and a two-step workflow.
func seedRegistry(t *testing.T, mux *http.ServeMux) (systemID, workflowID, f1, f2 string) {
	t.Helper()

	rec, body := postJSON(t, mux, "/register_group", map[string]any{
		"admin_key": "admin-key", "group_name": "partners",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register group: %d %s", rec.Code, rec.Body.String())
	}
	groupID := body["group_id"].(string)

	rec, body = postJSON(t, mux, "/register_system", map[string]any{
		"admin_key": "admin-key", "system_name": "crm",
		"group_id": groupID, "public_key": "pk",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register system: %d %s", rec.Code, rec.Body.String())
	}
	systemID = body["system_id"].(string)

	functionIDs := make([]string, 0, 2)
	for _, name := range []string{"validate", "approve"} {
		rec, body = postJSON(t, mux, "/register_function", map[string]any{
			"system_id": systemID, "function_name": name,
			"url": "https://crm.example/" + name,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("register function %s: %d %s", name, rec.Code, rec.Body.String())
		}
		functionIDs = append(functionIDs, body["function_id"].(string))
	}
	f1, f2 = functionIDs[0], functionIDs[1]

	rec, body = postJSON(t, mux, "/register_workflow", map[string]any{
		"system_id": systemID, "name": "onboard",
		"steps": []map[string]any{
			{"step_id": "validate", "function_id": f1, "system_id": systemID},
			{"step_id": "approve", "function_id": f2, "system_id": systemID},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register workflow: %d %s", rec.Code, rec.Body.String())
	}
	workflowID = body["workflow_id"].(string)
	return systemID, workflowID, f1, f2
}

func TestOnboardFlowOverHTTP(t *testing.T) {
	mux := newTestMux(t)
	systemID, workflowID, f1, f2 := seedRegistry(t, mux)

	rec, body := postJSON(t, mux, "/new_session", map[string]any{"user_id": "u1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("new session: %d %s", rec.Code, rec.Body.String())
	}
	sessionID := body["session_id"].(string)

	rec, body = postJSON(t, mux, "/record_token", map[string]any{
		"session_id": sessionID, "token": "raw-token-1",
		"workflow_id": workflowID, "function_id": f1, "system_id": systemID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("record first token: %d %s", rec.Code, rec.Body.String())
	}
	if body["instance_status"] != "in_progress" {
		t.Fatalf("expected in_progress, got %v", body["instance_status"])
	}
	instanceID := body["instance_id"].(string)

	rec, body = getJSON(t, mux, "/workflow_instance/"+instanceID)
	if rec.Code != http.StatusOK {
		t.Fatalf("instance status: %d %s", rec.Code, rec.Body.String())
	}
	if body["completed_instances"].(float64) != 0 {
		t.Fatalf("expected 0 completed, got %v", body["completed_instances"])
	}

	rec, body = postJSON(t, mux, "/record_token", map[string]any{
		"session_id": sessionID, "token": "raw-token-2",
		"workflow_id": workflowID, "function_id": f2, "system_id": systemID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("record second token: %d %s", rec.Code, rec.Body.String())
	}
	if body["instance_status"] != "completed" {
		t.Fatalf("expected completed, got %v", body["instance_status"])
	}

	rec, body = getJSON(t, mux, "/workflow_instance/"+instanceID)
	if rec.Code != http.StatusOK {
		t.Fatalf("instance status: %d %s", rec.Code, rec.Body.String())
	}
	if body["completed_instances"].(float64) != 1 {
		t.Fatalf("expected 1 completed, got %v", body["completed_instances"])
	}
}

func TestRecordTokenMissingSessionIs404(t *testing.T) {
	mux := newTestMux(t)
	systemID, workflowID, f1, _ := seedRegistry(t, mux)

	rec, body := postJSON(t, mux, "/record_token", map[string]any{
		"session_id": "nope", "token": "raw-token-1",
		"workflow_id": workflowID, "function_id": f1, "system_id": systemID,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", rec.Code, rec.Body.String())
	}
	if body["code"] != "SESSION_NOT_FOUND" {
		t.Fatalf("unexpected code %v", body["code"])
	}
}

func TestRecordTokenDuplicateIs409(t *testing.T) {
	mux := newTestMux(t)
	systemID, workflowID, f1, _ := seedRegistry(t, mux)

	_, body := postJSON(t, mux, "/new_session", map[string]any{"user_id": "u1"})
	sessionID := body["session_id"].(string)

	request := map[string]any{
		"session_id": sessionID, "token": "same-token",
		"workflow_id": workflowID, "function_id": f1, "system_id": systemID,
	}
	if rec, _ := postJSON(t, mux, "/record_token", request); rec.Code != http.StatusCreated {
		t.Fatalf("first record: %d", rec.Code)
	}
	rec, _ := postJSON(t, mux, "/record_token", request)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRecordTokenRejectsBadMetadataExpiry(t *testing.T) {
	mux := newTestMux(t)
	systemID, workflowID, f1, _ := seedRegistry(t, mux)

	_, body := postJSON(t, mux, "/new_session", map[string]any{"user_id": "u1"})
	sessionID := body["session_id"].(string)

	rec, _ := postJSON(t, mux, "/record_token", map[string]any{
		"session_id": sessionID, "token": "raw-token",
		"workflow_id": workflowID, "function_id": f1, "system_id": systemID,
		"token_metadata": map[string]any{"expires_at": "not-a-time"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSharedSessionInquiry(t *testing.T) {
	mux := newTestMux(t)
	systemID, workflowID, f1, _ := seedRegistry(t, mux)

	_, body := postJSON(t, mux, "/new_session", map[string]any{"user_id": "u1"})
	sessionID := body["session_id"].(string)

	_, body = postJSON(t, mux, "/record_token", map[string]any{
		"session_id": sessionID, "token": "raw-token",
		"workflow_id": workflowID, "function_id": f1, "system_id": systemID,
	})
	tokenID := body["token_id"].(string)

	rec, body := postJSON(t, mux, "/shared_session_inquiry", map[string]any{
		"system_id": systemID, "user_id": "u1", "token": tokenID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("inquiry: %d %s", rec.Code, rec.Body.String())
	}
	if body["session_exists"] != true {
		t.Fatalf("expected session_exists, got %v", body)
	}

	rec, body = postJSON(t, mux, "/shared_session_inquiry", map[string]any{
		"system_id": systemID, "user_id": "u2", "token": tokenID,
	})
	if rec.Code != http.StatusOK || body["session_exists"] != false {
		t.Fatalf("expected no session for wrong user, got %d %v", rec.Code, body)
	}
}

func TestReplicaSyncReturnsGroupDelta(t *testing.T) {
	mux := newTestMux(t)
	systemID, _, _, _ := seedRegistry(t, mux)

	rec, body := postJSON(t, mux, "/replica_sync", map[string]any{
		"replica_id": "r1", "group_id": "id001",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("replica sync: %d %s", rec.Code, rec.Body.String())
	}
	systems, ok := body["systems"].([]any)
	if !ok || len(systems) != 1 {
		t.Fatalf("expected one system in delta, got %v", body["systems"])
	}
	if systems[0].(map[string]any)["id"] != systemID {
		t.Fatalf("unexpected system %v", systems[0])
	}
	if body["sync_timestamp"] == nil {
		t.Fatal("expected sync timestamp")
	}

	rec, _ = postJSON(t, mux, "/replica_sync", map[string]any{
		"replica_id": "r1", "group_id": "unknown",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown group, got %d", rec.Code)
	}
}
