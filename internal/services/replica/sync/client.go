package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
	"github.com/datarivers-io/alohomora/internal/platform/timeouts"
	"github.com/datarivers-io/alohomora/internal/services/shared/replication"
)

// AuthorityClient pulls sync deltas from the authority over HTTP.
type AuthorityClient struct {
	baseURL string
	client  *http.Client
}

// NewAuthorityClient creates a pull client for the given authority base URL.
func NewAuthorityClient(baseURL string, client *http.Client) *AuthorityClient {
	if client == nil {
		client = &http.Client{}
	}
	return &AuthorityClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Pull requests one delta batch. Transport failures surface as retryable
// unavailability; an HTTP-level rejection is not retryable.
func (c *AuthorityClient) Pull(ctx context.Context, req replication.SyncRequest) (replication.Payload, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return replication.Payload{}, fmt.Errorf("marshal sync request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.SyncRequest)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/replica_sync", bytes.NewReader(body))
	if err != nil {
		return replication.Payload{}, fmt.Errorf("build sync request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return replication.Payload{}, errors.Newf(errors.CodeUpstreamUnavailable, "authority unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return replication.Payload{}, errors.Newf(errors.CodeUpstreamRejected, "authority rejected sync with status %d", resp.StatusCode)
	}

	var payload replication.Payload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return replication.Payload{}, fmt.Errorf("decode sync payload: %w", err)
	}
	return payload, nil
}
