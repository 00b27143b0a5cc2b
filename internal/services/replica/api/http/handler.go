// Package httpapi exposes a replica's mirrored state over HTTP JSON
// endpoints. Every write endpoint the authority serves exists here too, but
// answers with a fixed rejection pointing callers at the authority.
package httpapi

import (
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
	"github.com/datarivers-io/alohomora/internal/platform/httpjson"
	"github.com/datarivers-io/alohomora/internal/services/authority/ledger"
	"github.com/datarivers-io/alohomora/internal/services/authority/registry"
	"github.com/datarivers-io/alohomora/internal/services/replica/storage"
	"github.com/datarivers-io/alohomora/internal/services/replica/sync"
)

// Handler routes replica HTTP requests into the mirror.
type Handler struct {
	store   storage.Store
	health  func() sync.Health
	groupID string
	now     func() time.Time
}

// New creates a handler over the mirror store. health reports the sync
// engine's freshness and may be nil when no engine runs, as in tests.
func New(store storage.Store, health func() sync.Health, groupID string, now func() time.Time) *Handler {
	if health == nil {
		health = func() sync.Health { return sync.Health{} }
	}
	if now == nil {
		now = time.Now
	}
	return &Handler{store: store, health: health, groupID: groupID, now: now}
}

// Register attaches every replica route to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /hello", h.hello)
	mux.HandleFunc("GET /system/name/{system_name}", h.systemByName)
	mux.HandleFunc("GET /system/{system_id}", h.systemByID)
	mux.HandleFunc("GET /workflow_instance/{instance_id}", h.instanceStatus)
	mux.HandleFunc("POST /shared_session_inquiry", h.sharedSessionInquiry)

	for _, route := range []string{
		"POST /new_session",
		"POST /register_group",
		"POST /register_system",
		"POST /register_function",
		"POST /register_workflow",
		"POST /record_token",
		"POST /create_workflow_instance",
		"POST /mark_step_completion",
	} {
		mux.HandleFunc(route, h.rejectWrite)
	}
}

func (h *Handler) hello(w http.ResponseWriter, r *http.Request) {
	health := h.health()
	status := "ok"
	if health.Degraded {
		status = "degraded"
	}
	httpjson.Write(w, http.StatusOK, map[string]any{
		"status":    status,
		"service":   "replica",
		"group_id":  h.groupID,
		"sync":      health,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// rejectWrite is the fixed answer for every mutating endpoint. Replicas never
// originate records; the caller must talk to the authority.
func (h *Handler) rejectWrite(w http.ResponseWriter, r *http.Request) {
	httpjson.WriteError(w, errors.Newf(errors.CodeReadOnlyReplica, "%s is not served by a replica; send writes to the authority", strings.TrimPrefix(r.URL.Path, "/")))
}

func systemInfo(system registry.System) map[string]any {
	return map[string]any{
		"system_id":    system.ID,
		"system_name":  system.Name,
		"group_id":     system.GroupID,
		"status":       string(system.Status),
		"callback_url": system.CallbackURL,
		"created_at":   system.CreatedAt.Format(time.RFC3339),
		"last_seen_at": system.LastSeenAt.Format(time.RFC3339),
	}
}

func (h *Handler) systemByID(w http.ResponseWriter, r *http.Request) {
	system, err := h.store.GetSystem(r.Context(), r.PathValue("system_id"))
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			err = errors.Newf(errors.CodeSystemNotFound, "system %s not found", r.PathValue("system_id"))
		}
		httpjson.WriteError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, systemInfo(system))
}

func (h *Handler) systemByName(w http.ResponseWriter, r *http.Request) {
	system, err := h.store.GetSystemByName(r.Context(), r.PathValue("system_name"))
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			err = errors.Newf(errors.CodeSystemNotFound, "system %s not found", r.PathValue("system_name"))
		}
		httpjson.WriteError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, systemInfo(system))
}

func (h *Handler) instanceStatus(w http.ResponseWriter, r *http.Request) {
	inst, err := h.store.GetInstance(r.Context(), r.PathValue("instance_id"))
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			err = errors.Newf(errors.CodeInstanceNotFound, "workflow instance %s not found", r.PathValue("instance_id"))
		}
		httpjson.WriteError(w, err)
		return
	}
	counts, err := h.store.CountInstances(r.Context(), inst.WorkflowID)
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{
		"instance_id":           inst.ID,
		"workflow_id":           inst.WorkflowID,
		"user_id":               inst.UserID,
		"status":                string(inst.Status),
		"total_instances":       counts.Total,
		"completed_instances":   counts.Completed,
		"in_progress_instances": counts.InProgress,
		"failed_instances":      counts.Failed,
	})
}

// sharedSessionInquiry answers from the mirror with the same freshness window
// the authority applies. Sessions are not replicated, so the vouched expiry is
// the token's own.
func (h *Handler) sharedSessionInquiry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SystemID string `json:"system_id"`
		UserID   string `json:"user_id"`
		Token    string `json:"token"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, err)
		return
	}
	for name, value := range map[string]string{
		"system_id": req.SystemID,
		"user_id":   req.UserID,
		"token":     req.Token,
	} {
		if strings.TrimSpace(value) == "" {
			httpjson.WriteError(w, httpjson.MissingField(name))
			return
		}
	}

	entry, err := h.store.FindSharedToken(r.Context(), strings.TrimSpace(req.UserID), strings.TrimSpace(req.Token), strings.TrimSpace(req.SystemID), ledger.InquiryFreshnessWindow, h.now().UTC())
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			httpjson.Write(w, http.StatusOK, map[string]any{"session_exists": false})
			return
		}
		httpjson.WriteError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{
		"session_exists": true,
		"sessions": []map[string]any{{
			"session_id": entry.SessionID,
			"user_id":    entry.UserID,
			"token_id":   entry.ID,
			"issued_at":  entry.IssuedAt.Format(time.RFC3339),
			"expires_at": entry.ExpiresAt.Format(time.RFC3339),
		}},
	})
}
