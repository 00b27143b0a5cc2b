// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// AuthorityRequest caps the time a member app waits on a call to the
// authority (token registration, session creation).
const AuthorityRequest = 10 * time.Second

// InquiryRequest caps the time a token validation inquiry may take against
// either a replica or the authority.
const InquiryRequest = 5 * time.Second

// NotificationSend caps a single notification delivery to a peer system.
const NotificationSend = 5 * time.Second

// SyncRequest caps a replica's pull request against the authority.
const SyncRequest = 30 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
