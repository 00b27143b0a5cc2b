// Package notify pushes token events to group peers with callback URLs.
//
// Delivery is best effort: a peer that is down or slow never fails the
// originating request, and failures are logged rather than retried. Receivers
// are required to be idempotent on token_id, so redelivery by an operator is
// always safe.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/timeouts"
	"github.com/datarivers-io/alohomora/internal/services/authority/instance"
	"github.com/datarivers-io/alohomora/internal/services/authority/storage"
)

// TokenEvent describes a successfully recorded token.
type TokenEvent struct {
	TokenID        string
	SessionID      string
	UserID         string
	GroupID        string
	OriginSystemID string
	WorkflowID     string
	InstanceStatus instance.Status
	Counts         instance.Counts
	Metadata       string
}

// notification is the wire payload pushed to peer callback endpoints.
type notification struct {
	TokenID     string          `json:"token_id"`
	SessionInfo sessionInfo     `json:"session_info"`
	Workflow    workflowStatus  `json:"workflow_status"`
	Metadata    json.RawMessage `json:"notification_metadata,omitempty"`
}

type sessionInfo struct {
	SessionID          string `json:"session_id"`
	UserID             string `json:"user_id"`
	CreateLocalSession bool   `json:"create_local_session"`
}

type workflowStatus struct {
	WorkflowID string          `json:"workflow_id"`
	Status     instance.Status `json:"status"`
	instance.Counts
}

// Exchange fans token events out to callback-capable systems in the group.
type Exchange struct {
	targets storage.SystemStore
	client  *http.Client
	timeout time.Duration
}

// New creates an exchange over the given system store.
func New(targets storage.SystemStore, client *http.Client) *Exchange {
	if client == nil {
		client = &http.Client{}
	}
	return &Exchange{
		targets: targets,
		client:  client,
		timeout: timeouts.NotificationSend,
	}
}

// TokenRecorded delivers the event to group peers in the background. The
// fanout detaches from the request context so the caller's response never
// waits on peer callbacks.
func (e *Exchange) TokenRecorded(ctx context.Context, event TokenEvent) {
	detached := context.WithoutCancel(ctx)
	go e.fanout(detached, event)
}

func (e *Exchange) fanout(ctx context.Context, event TokenEvent) {
	targets, err := e.targets.ListNotificationTargets(ctx, event.GroupID, event.OriginSystemID)
	if err != nil {
		log.Printf("notify: list targets for group %s: %v", event.GroupID, err)
		return
	}

	payload := notification{
		TokenID: event.TokenID,
		SessionInfo: sessionInfo{
			SessionID:          event.SessionID,
			UserID:             event.UserID,
			CreateLocalSession: true,
		},
		Workflow: workflowStatus{
			WorkflowID: event.WorkflowID,
			Status:     event.InstanceStatus,
			Counts:     event.Counts,
		},
	}
	if strings.TrimSpace(event.Metadata) != "" {
		payload.Metadata = json.RawMessage(event.Metadata)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("notify: marshal event for token %s: %v", event.TokenID, err)
		return
	}

	for _, target := range targets {
		if err := e.send(ctx, target.CallbackURL, body); err != nil {
			log.Printf("notify: deliver token %s to %s: %v", event.TokenID, target.Name, err)
		}
	}
}

func (e *Exchange) send(ctx context.Context, callbackURL string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	url := strings.TrimRight(callbackURL, "/") + "/receive_session_notification"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer responded %d", resp.StatusCode)
	}
	return nil
}
