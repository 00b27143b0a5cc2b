package ledger

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
	"github.com/datarivers-io/alohomora/internal/services/authority/storage"
)

// SyncDelta answers one replica pull: every group-owned record changed after
// the cursor, plus the timestamp the replica should advance its cursor to.
//
// The timestamp is captured before the reads so changes committed while the
// query runs are re-sent on the next pull rather than skipped.
func (s *Service) SyncDelta(ctx context.Context, groupID string, since time.Time) (storage.Delta, time.Time, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.sync_delta")
	defer span.End()

	if _, err := s.store.GetGroup(ctx, trimmed(groupID)); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return storage.Delta{}, time.Time{}, errors.Newf(errors.CodeGroupNotFound, "group %s not found", groupID)
		}
		return storage.Delta{}, time.Time{}, fmt.Errorf("load group: %w", err)
	}

	syncedAt := s.now().UTC()
	delta, err := s.store.ChangedSince(ctx, trimmed(groupID), since)
	if err != nil {
		return storage.Delta{}, time.Time{}, fmt.Errorf("collect sync delta: %w", err)
	}
	return delta, syncedAt, nil
}
