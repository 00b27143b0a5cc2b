// Package ledger implements the authority's write path: session issuance,
// registry administration, token recording with workflow-instance advancement,
// and the sync feed replicas pull from.
package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/datarivers-io/alohomora/internal/platform/id"
	"github.com/datarivers-io/alohomora/internal/services/authority/notify"
	"github.com/datarivers-io/alohomora/internal/services/authority/storage"
)

// InquiryFreshnessWindow bounds how old a token may be and still vouch for a
// shared session.
const InquiryFreshnessWindow = 5 * time.Minute

// Notifier receives token events for asynchronous fanout to group peers.
type Notifier interface {
	TokenRecorded(ctx context.Context, event notify.TokenEvent)
}

// Service coordinates the authority stores behind the write endpoints.
type Service struct {
	store    storage.Store
	notifier Notifier
	adminKey string
	now      func() time.Time
	newID    func() (string, error)
	tracer   trace.Tracer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Config carries the service dependencies.
type Config struct {
	Store    storage.Store
	Notifier Notifier // optional; nil disables fanout
	AdminKey string
	Now      func() time.Time       // optional; defaults to time.Now
	NewID    func() (string, error) // optional; defaults to id.NewID
}

// New creates a ledger service.
func New(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = id.NewID
	}
	return &Service{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		adminKey: cfg.AdminKey,
		now:      now,
		newID:    newID,
		tracer:   otel.Tracer("alohomora/authority/ledger"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockInstance serializes mutations for one (workflow, user) pair. Locks are
// never freed; the map grows with distinct pairs, which is bounded by real
// workflow traffic.
func (s *Service) lockInstance(workflowID, userID string) func() {
	key := workflowID + "/" + userID

	s.mu.Lock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func trimmed(value string) string {
	return strings.TrimSpace(value)
}
