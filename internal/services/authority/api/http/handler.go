// Package httpapi exposes the authority over HTTP JSON endpoints.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
	"github.com/datarivers-io/alohomora/internal/platform/httpjson"
	"github.com/datarivers-io/alohomora/internal/services/authority/ledger"
	"github.com/datarivers-io/alohomora/internal/services/authority/registry"
	"github.com/datarivers-io/alohomora/internal/services/authority/session"
	"github.com/datarivers-io/alohomora/internal/services/shared/replication"
)

// Handler routes authority HTTP requests into the ledger service.
type Handler struct {
	service *ledger.Service
	now     func() time.Time
}

// New creates a handler over the ledger service.
func New(service *ledger.Service, now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{service: service, now: now}
}

// Register attaches every authority route to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /hello", h.hello)
	mux.HandleFunc("POST /new_session", h.newSession)
	mux.HandleFunc("POST /register_group", h.registerGroup)
	mux.HandleFunc("POST /register_system", h.registerSystem)
	mux.HandleFunc("GET /system/name/{system_name}", h.systemByName)
	mux.HandleFunc("GET /system/{system_id}", h.systemByID)
	mux.HandleFunc("POST /register_function", h.registerFunction)
	mux.HandleFunc("POST /register_workflow", h.registerWorkflow)
	mux.HandleFunc("POST /record_token", h.recordToken)
	mux.HandleFunc("POST /shared_session_inquiry", h.sharedSessionInquiry)
	mux.HandleFunc("POST /create_workflow_instance", h.createInstance)
	mux.HandleFunc("POST /mark_step_completion", h.markStepCompletion)
	mux.HandleFunc("GET /workflow_instance/{instance_id}", h.instanceStatus)
	mux.HandleFunc("POST /replica_sync", h.replicaSync)
}

func (h *Handler) hello(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "authority",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) newSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Data   string `json:"data"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		httpjson.WriteError(w, httpjson.MissingField("user_id"))
		return
	}

	sess, err := h.service.CreateSession(r.Context(), session.CreateInput{UserID: req.UserID, Data: req.Data})
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, map[string]any{
		"session_id": sess.ID,
		"expires_at": sess.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) registerGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AdminKey    string `json:"admin_key"`
		GroupName   string `json:"group_name"`
		Description string `json:"description"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.GroupName) == "" {
		httpjson.WriteError(w, httpjson.MissingField("group_name"))
		return
	}

	group, err := h.service.RegisterGroup(r.Context(), req.AdminKey, registry.CreateGroupInput{
		Name:        req.GroupName,
		Description: req.Description,
	})
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, map[string]any{
		"group_id":   group.ID,
		"group_name": group.Name,
	})
}

func (h *Handler) registerSystem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AdminKey    string `json:"admin_key"`
		SystemName  string `json:"system_name"`
		GroupID     string `json:"group_id"`
		OwnerUserID string `json:"owner_user_id"`
		PublicKey   string `json:"public_key"`
		CallbackURL string `json:"callback_url"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.SystemName) == "" {
		httpjson.WriteError(w, httpjson.MissingField("system_name"))
		return
	}
	if strings.TrimSpace(req.PublicKey) == "" {
		httpjson.WriteError(w, httpjson.MissingField("public_key"))
		return
	}

	system, err := h.service.RegisterSystem(r.Context(), req.AdminKey, registry.CreateSystemInput{
		Name:        req.SystemName,
		GroupID:     req.GroupID,
		OwnerUserID: req.OwnerUserID,
		PublicKey:   req.PublicKey,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, map[string]any{
		"system_id":   system.ID,
		"system_name": system.Name,
		"group_id":    system.GroupID,
	})
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
	system, err := h.service.GetSystem(r.Context(), r.PathValue("system_id"))
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, systemInfo(system))
}

func (h *Handler) systemByName(w http.ResponseWriter, r *http.Request) {
	system, err := h.service.GetSystemByName(r.Context(), r.PathValue("system_name"))
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, systemInfo(system))
}

func (h *Handler) registerFunction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SystemID     string `json:"system_id"`
		FunctionName string `json:"function_name"`
		URL          string `json:"url"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, err)
		return
	}
	for name, value := range map[string]string{
		"system_id":     req.SystemID,
		"function_name": req.FunctionName,
		"url":           req.URL,
	} {
		if strings.TrimSpace(value) == "" {
			httpjson.WriteError(w, httpjson.MissingField(name))
			return
		}
	}

	function, err := h.service.RegisterFunction(r.Context(), registry.CreateFunctionInput{
		SystemID: req.SystemID,
		Name:     req.FunctionName,
		URL:      req.URL,
	})
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, map[string]any{
		"function_id":   function.ID,
		"function_name": function.Name,
		"system_id":     function.SystemID,
	})
}

func (h *Handler) registerWorkflow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SystemID    string `json:"system_id"`
		Name        string `json:"name"`
		OwnerUserID string `json:"owner_user_id"`
		Steps       []struct {
			StepID     string `json:"step_id"`
			FunctionID string `json:"function_id"`
			SystemID   string `json:"system_id"`
		} `json:"steps"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.SystemID) == "" {
		httpjson.WriteError(w, httpjson.MissingField("system_id"))
		return
	}
	if len(req.Steps) == 0 {
		httpjson.WriteError(w, httpjson.MissingField("steps"))
		return
	}

	input := registry.CreateWorkflowInput{
		Name:        req.Name,
		SystemID:    req.SystemID,
		OwnerUserID: req.OwnerUserID,
	}
	for _, step := range req.Steps {
		input.Steps = append(input.Steps, registry.StepSpec{
			StepID:     step.StepID,
			FunctionID: step.FunctionID,
			SystemID:   step.SystemID,
		})
	}

	workflow, err := h.service.RegisterWorkflow(r.Context(), input)
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, map[string]any{
		"workflow_id": workflow.ID,
		"name":        workflow.Name,
		"steps":       len(workflow.Steps),
	})
}

func (h *Handler) recordToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID     string          `json:"session_id"`
		Token         string          `json:"token"`
		WorkflowID    string          `json:"workflow_id"`
		FunctionID    string          `json:"function_id"`
		SystemID      string          `json:"system_id"`
		UserID        string          `json:"user_id"`
		TokenMetadata json.RawMessage `json:"token_metadata"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, err)
		return
	}
	for name, value := range map[string]string{
		"session_id":  req.SessionID,
		"token":       req.Token,
		"workflow_id": req.WorkflowID,
		"function_id": req.FunctionID,
		"system_id":   req.SystemID,
	} {
		if strings.TrimSpace(value) == "" {
			httpjson.WriteError(w, httpjson.MissingField(name))
			return
		}
	}

	expiresAt, err := tokenExpiry(req.TokenMetadata, h.now().UTC())
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}

	result, err := h.service.RecordToken(r.Context(), ledger.RecordTokenInput{
		SessionID:  req.SessionID,
		Token:      req.Token,
		WorkflowID: req.WorkflowID,
		FunctionID: req.FunctionID,
		SystemID:   req.SystemID,
		UserID:     req.UserID,
		Metadata:   string(req.TokenMetadata),
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, map[string]any{
		"token_id":        result.Token.ID,
		"session_id":      result.Token.SessionID,
		"instance_id":     result.Instance.ID,
		"instance_status": string(result.Instance.Status),
		"status":          "recorded",
	})
}

// tokenExpiry extracts an explicit expires_at from token metadata. It must be
// RFC3339 and in the future; absent metadata falls back to the default TTL.
func tokenExpiry(metadata json.RawMessage, now time.Time) (time.Time, error) {
	if len(metadata) == 0 {
		return time.Time{}, nil
	}
	var fields struct {
		ExpiresAt string `json:"expires_at"`
	}
	if err := json.Unmarshal(metadata, &fields); err != nil {
		return time.Time{}, errors.New(errors.CodeValidation, "token_metadata must be a JSON object")
	}
	if fields.ExpiresAt == "" {
		return time.Time{}, nil
	}
	expiresAt, err := time.Parse(time.RFC3339, fields.ExpiresAt)
	if err != nil {
		return time.Time{}, errors.New(errors.CodeValidation, "token_metadata.expires_at must be RFC3339")
	}
	if !expiresAt.After(now) {
		return time.Time{}, errors.New(errors.CodeValidation, "token_metadata.expires_at must be in the future")
	}
	return expiresAt, nil
}

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

	entry, sess, found, err := h.service.SharedSessionInquiry(r.Context(), req.SystemID, req.UserID, req.Token)
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	if !found {
		httpjson.Write(w, http.StatusOK, map[string]any{"session_exists": false})
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{
		"session_exists": true,
		"sessions": []map[string]any{{
			"session_id": entry.SessionID,
			"user_id":    entry.UserID,
			"token_id":   entry.ID,
			"issued_at":  entry.IssuedAt.Format(time.RFC3339),
			"expires_at": sess.ExpiresAt.Format(time.RFC3339),
		}},
	})
}

func (h *Handler) createInstance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkflowID string `json:"workflow_id"`
		UserID     string `json:"user_id"`
		SessionID  string `json:"session_id"`
		Metadata   string `json:"metadata"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.WorkflowID) == "" {
		httpjson.WriteError(w, httpjson.MissingField("workflow_id"))
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		httpjson.WriteError(w, httpjson.MissingField("user_id"))
		return
	}

	inst, created, err := h.service.CreateInstance(r.Context(), req.WorkflowID, req.UserID, req.SessionID, req.Metadata)
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	status := "created"
	httpStatus := http.StatusCreated
	if !created {
		status = "exists"
		httpStatus = http.StatusOK
	}
	httpjson.Write(w, httpStatus, map[string]any{
		"instance_id": inst.ID,
		"workflow_id": inst.WorkflowID,
		"status":      status,
	})
}

func (h *Handler) markStepCompletion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InstanceID   string `json:"instance_id"`
		StepID       string `json:"step_id"`
		TokenID      string `json:"token_id"`
		ResultData   string `json:"result_data"`
		ErrorMessage string `json:"error_message"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.InstanceID) == "" {
		httpjson.WriteError(w, httpjson.MissingField("instance_id"))
		return
	}
	if strings.TrimSpace(req.StepID) == "" {
		httpjson.WriteError(w, httpjson.MissingField("step_id"))
		return
	}

	inst, err := h.service.MarkStep(r.Context(), ledger.MarkStepInput{
		InstanceID:   req.InstanceID,
		StepID:       req.StepID,
		TokenID:      req.TokenID,
		ResultData:   req.ResultData,
		ErrorMessage: req.ErrorMessage,
	})
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, map[string]any{
		"instance_id": inst.ID,
		"step_id":     req.StepID,
		"status":      string(inst.Status),
	})
}

func (h *Handler) instanceStatus(w http.ResponseWriter, r *http.Request) {
	inst, counts, err := h.service.InstanceStatus(r.Context(), r.PathValue("instance_id"))
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

func (h *Handler) replicaSync(w http.ResponseWriter, r *http.Request) {
	var req replication.SyncRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.GroupID) == "" {
		httpjson.WriteError(w, httpjson.MissingField("group_id"))
		return
	}

	delta, syncedAt, err := h.service.SyncDelta(r.Context(), req.GroupID, req.LastSync)
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	httpjson.Write(w, http.StatusOK, replication.NewPayload(delta, syncedAt))
}
