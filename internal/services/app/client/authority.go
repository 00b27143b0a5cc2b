// Package client implements the member app's outbound HTTP calls: writes to
// the authority and token inquiries answered replica-first.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
	"github.com/datarivers-io/alohomora/internal/platform/timeouts"
)

// UpstreamError carries the authority's own rejection alongside the local
// UPSTREAM_REJECTED code, so handlers can surface what the authority said.
type UpstreamError struct {
	HTTPStatus   int
	UpstreamCode errors.Code
	Message      string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("authority rejected request with status %d: %s", e.HTTPStatus, e.Message)
}

// Unwrap exposes the coded error so CodeOf reports UPSTREAM_REJECTED.
func (e *UpstreamError) Unwrap() error {
	return errors.New(errors.CodeUpstreamRejected, e.Message)
}

// AuthorityClient issues write calls against the authority. Calls are never
// retried automatically; the caller decides what a rejection means.
type AuthorityClient struct {
	baseURL string
	client  *http.Client
}

// NewAuthorityClient creates a client for the given authority base URL.
func NewAuthorityClient(baseURL string, client *http.Client) *AuthorityClient {
	if client == nil {
		client = &http.Client{}
	}
	return &AuthorityClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Session is the authority's answer to a session creation.
type Session struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateSession creates a session at the authority.
func (c *AuthorityClient) CreateSession(ctx context.Context, userID, data string) (Session, error) {
	var resp Session
	err := c.post(ctx, "/new_session", map[string]string{"user_id": userID, "data": data}, &resp)
	return resp, err
}

// RecordTokenRequest is one token registration forwarded to the authority.
type RecordTokenRequest struct {
	SessionID     string          `json:"session_id"`
	Token         string          `json:"token"`
	WorkflowID    string          `json:"workflow_id"`
	FunctionID    string          `json:"function_id"`
	SystemID      string          `json:"system_id"`
	UserID        string          `json:"user_id,omitempty"`
	TokenMetadata json.RawMessage `json:"token_metadata,omitempty"`
}

// RecordTokenResult is the authority's answer to a successful registration.
type RecordTokenResult struct {
	TokenID        string `json:"token_id"`
	SessionID      string `json:"session_id"`
	InstanceID     string `json:"instance_id"`
	InstanceStatus string `json:"instance_status"`
}

// RecordToken registers a token at the authority.
func (c *AuthorityClient) RecordToken(ctx context.Context, req RecordTokenRequest) (RecordTokenResult, error) {
	var resp RecordTokenResult
	err := c.post(ctx, "/record_token", req, &resp)
	return resp, err
}

// post sends one JSON request. Transport failures surface as retryable
// unavailability; an HTTP-level rejection carries the authority's error
// through as an UpstreamError.
func (c *AuthorityClient) post(ctx context.Context, path string, payload, target any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.AuthorityRequest)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Newf(errors.CodeUpstreamUnavailable, "authority unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return upstreamError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func upstreamError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var body struct {
		Error string      `json:"error"`
		Code  errors.Code `json:"code"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
	}
	return &UpstreamError{
		HTTPStatus:   resp.StatusCode,
		UpstreamCode: body.Code,
		Message:      body.Error,
	}
}
