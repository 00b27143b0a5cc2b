// Package httpapi exposes a member app over HTTP JSON endpoints: session
// creation proxied to the authority, token registration with optional local
// minting, token-gated function execution, and the notification receiver.
package httpapi

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
	"github.com/datarivers-io/alohomora/internal/platform/httpjson"
	"github.com/datarivers-io/alohomora/internal/services/app/client"
	"github.com/datarivers-io/alohomora/internal/services/app/storage"
	"github.com/datarivers-io/alohomora/internal/services/app/token"
	"github.com/datarivers-io/alohomora/internal/services/authority/session"
)

// Handler routes member app HTTP requests.
type Handler struct {
	store      storage.Store
	authority  *client.AuthorityClient
	inquirer   *client.Inquirer
	minter     *token.Minter
	systemID   string
	systemName string
	now        func() time.Time
}

// Config carries the handler dependencies.
type Config struct {
	Store      storage.Store
	Authority  *client.AuthorityClient
	Inquirer   *client.Inquirer
	Minter     *token.Minter
	SystemID   string
	SystemName string
	Now        func() time.Time
}

// New creates a handler.
func New(cfg Config) *Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		store:      cfg.Store,
		authority:  cfg.Authority,
		inquirer:   cfg.Inquirer,
		minter:     cfg.Minter,
		systemID:   cfg.SystemID,
		systemName: cfg.SystemName,
		now:        now,
	}
}

// Register attaches every member app route to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /hello", h.hello)
	mux.HandleFunc("POST /new_session", h.newSession)
	mux.HandleFunc("POST /register_token", h.registerToken)
	mux.HandleFunc("POST /function", h.executeFunction)
	mux.HandleFunc("POST /receive_session_notification", h.receiveNotification)
}

func (h *Handler) hello(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     "app",
		"system_id":   h.systemID,
		"system_name": h.systemName,
		"timestamp":   h.now().UTC().Format(time.RFC3339),
	})
}

// newSession creates the session at the authority and mirrors it locally
// under the same id, so later register_token calls can verify it without a
// round trip.
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

	created, err := h.authority.CreateSession(r.Context(), req.UserID, req.Data)
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}

	local := storage.LocalSession{
		ID:        created.SessionID,
		UserID:    req.UserID,
		Data:      req.Data,
		Source:    storage.SourceCreated,
		CreatedAt: h.now().UTC(),
		ExpiresAt: created.ExpiresAt,
	}
	if err := h.store.PutSession(r.Context(), local); err != nil {
		httpjson.WriteError(w, err)
		return
	}

	httpjson.Write(w, http.StatusCreated, map[string]any{
		"session_id": created.SessionID,
		"expires_at": created.ExpiresAt.Format(time.RFC3339),
	})
}

// registerToken forwards one token registration to the authority. A request
// without a token gets one minted here first. Authority rejections come back
// as 502 carrying the authority's own error; they are never retried.
func (h *Handler) registerToken(w http.ResponseWriter, r *http.Request) {
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
		"workflow_id": req.WorkflowID,
		"function_id": req.FunctionID,
	} {
		if strings.TrimSpace(value) == "" {
			httpjson.WriteError(w, httpjson.MissingField(name))
			return
		}
	}

	local, err := h.store.GetSession(r.Context(), req.SessionID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			err = errors.Newf(errors.CodeSessionNotFound, "session %s not found", req.SessionID)
		}
		httpjson.WriteError(w, err)
		return
	}
	if local.Expired(h.now().UTC()) {
		httpjson.WriteError(w, errors.Newf(errors.CodeSessionExpired, "session %s expired", local.ID))
		return
	}

	systemID := req.SystemID
	if systemID == "" {
		systemID = h.systemID
	}
	userID := req.UserID
	if userID == "" {
		userID = local.UserID
	}

	minted := false
	if strings.TrimSpace(req.Token) == "" {
		signed, err := h.minter.Mint(local.ID, userID, req.WorkflowID, req.FunctionID)
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}
		req.Token = signed
		minted = true
	}

	result, err := h.authority.RecordToken(r.Context(), client.RecordTokenRequest{
		SessionID:     req.SessionID,
		Token:         req.Token,
		WorkflowID:    req.WorkflowID,
		FunctionID:    req.FunctionID,
		SystemID:      systemID,
		UserID:        userID,
		TokenMetadata: req.TokenMetadata,
	})
	if err != nil {
		var upstream *client.UpstreamError
		if stderrors.As(err, &upstream) {
			httpjson.Write(w, errors.CodeUpstreamRejected.HTTPStatus(), map[string]any{
				"alohomora_error":  upstream.Message,
				"alohomora_status": upstream.HTTPStatus,
				"code":             string(upstream.UpstreamCode),
			})
			return
		}
		httpjson.WriteError(w, err)
		return
	}

	resp := map[string]any{
		"alohomora_token_id": result.TokenID,
		"session_id":         result.SessionID,
		"instance_id":        result.InstanceID,
		"instance_status":    result.InstanceStatus,
		"token_minted":       minted,
	}
	if minted {
		resp["token"] = req.Token
	}
	httpjson.Write(w, http.StatusCreated, resp)
}

// executeFunction gates a simulated business function behind a token
// inquiry. The inquiry is answered replica-first; a token that vouches for no
// fresh session is treated as an unknown session.
func (h *Handler) executeFunction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FunctionID string          `json:"function_id"`
		Token      string          `json:"token"`
		UserID     string          `json:"user_id"`
		SystemID   string          `json:"system_id"`
		Payload    json.RawMessage `json:"payload"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, err)
		return
	}
	for name, value := range map[string]string{
		"function_id": req.FunctionID,
		"token":       req.Token,
		"user_id":     req.UserID,
	} {
		if strings.TrimSpace(value) == "" {
			httpjson.WriteError(w, httpjson.MissingField(name))
			return
		}
	}

	systemID := req.SystemID
	if systemID == "" {
		systemID = h.systemID
	}

	// Tokens this app minted are checked locally before asking anyone. A
	// token signed elsewhere fails signature verification and falls through
	// to the shared-session inquiry, which treats tokens as opaque.
	if claims, err := h.minter.Verify(req.Token); err == nil {
		if claims.Subject != req.UserID {
			httpjson.WriteError(w, errors.New(errors.CodeUserMismatch, "token was minted for another user"))
			return
		}
	} else if errors.CodeOf(err) == errors.CodeTokenExpired {
		httpjson.WriteError(w, err)
		return
	}

	result, err := h.inquirer.Inquire(r.Context(), systemID, req.UserID, req.Token)
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	if !result.SessionExists {
		httpjson.WriteError(w, errors.Newf(errors.CodeSessionNotFound, "no shared session vouches for this token"))
		return
	}
	vouched := result.Sessions[0]
	if !vouched.ExpiresAfter(h.now().UTC()) {
		httpjson.WriteError(w, errors.New(errors.CodeSessionExpired, "vouched session expired"))
		return
	}

	// Simulated execution: a real deployment dispatches to the registered
	// function URL here.
	httpjson.Write(w, http.StatusOK, map[string]any{
		"function_id": req.FunctionID,
		"status":      "executed",
		"session_id":  vouched.SessionID,
		"user_id":     vouched.UserID,
		"executed_at": h.now().UTC().Format(time.RFC3339),
	})
}

// receiveNotification processes one token event from the authority's fanout.
// Processing is idempotent on token_id: redelivery returns the stored outcome
// and never creates a second local session.
func (h *Handler) receiveNotification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TokenID     string `json:"token_id"`
		SessionInfo struct {
			SessionID          string `json:"session_id"`
			UserID             string `json:"user_id"`
			CreateLocalSession bool   `json:"create_local_session"`
		} `json:"session_info"`
		Workflow struct {
			WorkflowID string `json:"workflow_id"`
			Status     string `json:"status"`
		} `json:"workflow_status"`
	}
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.TokenID) == "" {
		httpjson.WriteError(w, httpjson.MissingField("token_id"))
		return
	}

	if receipt, err := h.store.GetReceipt(r.Context(), req.TokenID); err == nil {
		h.writeReceipt(w, receipt)
		return
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		httpjson.WriteError(w, err)
		return
	}

	now := h.now().UTC()
	created := false
	if req.SessionInfo.CreateLocalSession && req.SessionInfo.SessionID != "" {
		_, err := h.store.GetSession(r.Context(), req.SessionInfo.SessionID)
		if stderrors.Is(err, storage.ErrNotFound) {
			err = h.store.PutSession(r.Context(), storage.LocalSession{
				ID:        req.SessionInfo.SessionID,
				UserID:    req.SessionInfo.UserID,
				Source:    storage.SourceNotified,
				CreatedAt: now,
				ExpiresAt: now.Add(session.DefaultTTL),
			})
			created = err == nil
		}
		if err != nil {
			httpjson.WriteError(w, err)
			return
		}
	}

	receipt := storage.Receipt{
		TokenID:             req.TokenID,
		SessionID:           req.SessionInfo.SessionID,
		UserID:              req.SessionInfo.UserID,
		WorkflowID:          req.Workflow.WorkflowID,
		WorkflowStatus:      req.Workflow.Status,
		LocalSessionCreated: created,
		ReceivedAt:          now,
	}
	if err := h.store.PutReceipt(r.Context(), receipt); err != nil {
		httpjson.WriteError(w, err)
		return
	}
	h.writeReceipt(w, receipt)
}

func (h *Handler) writeReceipt(w http.ResponseWriter, receipt storage.Receipt) {
	resp := map[string]any{
		"token_id":              receipt.TokenID,
		"processed_at":          receipt.ReceivedAt.Format(time.RFC3339),
		"local_session_created": receipt.LocalSessionCreated,
	}
	// The mapping is reported whether the session was created by this
	// notification or already existed locally.
	if receipt.SessionID != "" {
		resp["local_session_id"] = receipt.SessionID
	}
	httpjson.Write(w, http.StatusOK, resp)
}
