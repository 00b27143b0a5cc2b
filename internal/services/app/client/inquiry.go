package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
	"github.com/datarivers-io/alohomora/internal/platform/timeouts"
)

// InquiryResult is the shared-session inquiry answer.
type InquiryResult struct {
	SessionExists bool             `json:"session_exists"`
	Sessions      []InquirySession `json:"sessions,omitempty"`
}

// InquirySession is one vouched session entry.
type InquirySession struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	TokenID   string `json:"token_id"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
}

// Inquirer answers shared-session inquiries replica-first. A configured
// replica is tried before the authority; any replica failure falls through to
// the authority rather than failing the inquiry.
type Inquirer struct {
	replicaURL   string
	authorityURL string
	client       *http.Client
}

// NewInquirer creates an inquirer. replicaURL may be empty, which sends every
// inquiry straight to the authority.
func NewInquirer(replicaURL, authorityURL string, client *http.Client) *Inquirer {
	if client == nil {
		client = &http.Client{}
	}
	return &Inquirer{
		replicaURL:   strings.TrimRight(replicaURL, "/"),
		authorityURL: strings.TrimRight(authorityURL, "/"),
		client:       client,
	}
}

// Inquire asks whether a token vouches for a shared session.
func (i *Inquirer) Inquire(ctx context.Context, systemID, userID, token string) (InquiryResult, error) {
	if i.replicaURL != "" {
		result, err := i.ask(ctx, i.replicaURL, systemID, userID, token)
		if err == nil {
			return result, nil
		}
		log.Printf("inquiry via replica failed, asking authority: %v", err)
	}

	result, err := i.ask(ctx, i.authorityURL, systemID, userID, token)
	if err != nil {
		return InquiryResult{}, err
	}
	return result, nil
}

func (i *Inquirer) ask(ctx context.Context, baseURL, systemID, userID, token string) (InquiryResult, error) {
	body, err := json.Marshal(map[string]string{
		"system_id": systemID,
		"user_id":   userID,
		"token":     token,
	})
	if err != nil {
		return InquiryResult{}, fmt.Errorf("marshal inquiry: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.InquiryRequest)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/shared_session_inquiry", bytes.NewReader(body))
	if err != nil {
		return InquiryResult{}, fmt.Errorf("build inquiry: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return InquiryResult{}, errors.Newf(errors.CodeUpstreamUnavailable, "inquiry target unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return InquiryResult{}, errors.Newf(errors.CodeUpstreamRejected, "inquiry rejected with status %d", resp.StatusCode)
	}

	var result InquiryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return InquiryResult{}, fmt.Errorf("decode inquiry result: %w", err)
	}
	return result, nil
}

// ExpiresAfter reports whether the vouched session outlives the given time.
// Malformed expiries count as expired.
func (s InquirySession) ExpiresAfter(now time.Time) bool {
	expiresAt, err := time.Parse(time.RFC3339, s.ExpiresAt)
	if err != nil {
		return false
	}
	return expiresAt.After(now)
}
