package ledger

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
	"github.com/datarivers-io/alohomora/internal/services/authority/instance"
	"github.com/datarivers-io/alohomora/internal/services/authority/notify"
	"github.com/datarivers-io/alohomora/internal/services/authority/registry"
	"github.com/datarivers-io/alohomora/internal/services/authority/session"
	"github.com/datarivers-io/alohomora/internal/services/authority/storage"
	"github.com/datarivers-io/alohomora/internal/services/authority/token"
)

// RecordTokenInput carries one token registration request.
type RecordTokenInput struct {
	SessionID  string
	Token      string // raw opaque token value
	WorkflowID string
	FunctionID string
	SystemID   string
	UserID     string    // optional; defaults to the session's user
	Metadata   string    // raw metadata JSON, stored as-is
	ExpiresAt  time.Time // optional; zero means issued_at + DefaultTTL
}

// RecordTokenResult is the outcome of a successful registration.
type RecordTokenResult struct {
	Token    token.Token
	Instance instance.Instance
}

// RecordToken validates and appends a token to the ledger, then advances the
// workflow instance for the matched step.
//
// Validation is fail-fast in a fixed order: session, workflow, step, user.
// The first failure wins and leaves the ledger untouched. The token and its
// step completion commit in one transaction, so a failure mid-registration
// writes nothing and the same request can simply be retried.
func (s *Service) RecordToken(ctx context.Context, input RecordTokenInput) (RecordTokenResult, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.record_token")
	defer span.End()

	sess, err := s.store.GetSession(ctx, trimmed(input.SessionID))
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return RecordTokenResult{}, errors.Newf(errors.CodeSessionNotFound, "session %s not found", input.SessionID)
		}
		return RecordTokenResult{}, fmt.Errorf("load session: %w", err)
	}
	now := s.now().UTC()
	if sess.Expired(now) {
		return RecordTokenResult{}, errors.Newf(errors.CodeSessionExpired, "session %s expired", sess.ID)
	}

	workflow, err := s.store.GetWorkflow(ctx, trimmed(input.WorkflowID))
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return RecordTokenResult{}, errors.Newf(errors.CodeWorkflowNotFound, "workflow %s not found", input.WorkflowID)
		}
		return RecordTokenResult{}, fmt.Errorf("load workflow: %w", err)
	}

	step, ok := workflow.StepFor(trimmed(input.FunctionID), trimmed(input.SystemID))
	if !ok {
		return RecordTokenResult{}, errors.Newf(errors.CodeInvalidStep, "function %s on system %s is not a step of workflow %s", input.FunctionID, input.SystemID, workflow.ID)
	}

	userID := trimmed(input.UserID)
	if userID == "" {
		userID = sess.UserID
	} else if userID != sess.UserID {
		return RecordTokenResult{}, errors.New(errors.CodeUserMismatch, "user_id does not match the session's user")
	}

	if trimmed(input.Token) == "" {
		return RecordTokenResult{}, errors.New(errors.CodeMissingField, "token must be a non-empty string")
	}
	hash := token.Hash(input.Token)

	// The pair lock covers the dedup check as well as the commit, so two
	// registrations of the same value for the pair cannot both pass the
	// check. Cross-pair collisions still hit the hash constraint, which the
	// store reports as ErrDuplicate.
	unlock := s.lockInstance(workflow.ID, userID)
	defer unlock()

	exists, err := s.store.TokenHashExists(ctx, hash)
	if err != nil {
		return RecordTokenResult{}, fmt.Errorf("check token hash: %w", err)
	}
	if exists {
		return RecordTokenResult{}, errors.New(errors.CodeTokenExists, "token already recorded")
	}

	system, err := s.GetSystem(ctx, step.SystemID)
	if err != nil {
		return RecordTokenResult{}, err
	}

	tokenID, err := s.newID()
	if err != nil {
		return RecordTokenResult{}, fmt.Errorf("generate token id: %w", err)
	}
	expiresAt := input.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(token.DefaultTTL)
	}
	entry := token.Token{
		ID:         tokenID,
		SessionID:  sess.ID,
		SystemID:   step.SystemID,
		WorkflowID: workflow.ID,
		FunctionID: step.FunctionID,
		UserID:     userID,
		Hash:       hash,
		IssuedAt:   now,
		ExpiresAt:  expiresAt.UTC(),
		Metadata:   input.Metadata,
	}

	inst, err := s.stepCompletionInstance(ctx, workflow, userID, sess.ID, instance.StepCompletion{
		StepID:     step.StepID,
		FunctionID: step.FunctionID,
		SystemID:   step.SystemID,
		TokenID:    entry.ID,
	})
	if err != nil {
		return RecordTokenResult{}, err
	}

	if err := s.store.PutTokenWithInstance(ctx, entry, inst); err != nil {
		if stderrors.Is(err, storage.ErrDuplicate) {
			return RecordTokenResult{}, errors.New(errors.CodeTokenExists, "token already recorded")
		}
		return RecordTokenResult{}, fmt.Errorf("commit token: %w", err)
	}

	s.notifyTokenRecorded(ctx, system.GroupID, entry, inst)

	return RecordTokenResult{Token: entry, Instance: inst}, nil
}

// stepCompletionInstance applies a completion to the open instance for the
// (workflow, user) pair, creating one when none is open. Nothing is
// persisted; the caller commits the returned instance together with the
// token while holding the pair's lock.
func (s *Service) stepCompletionInstance(ctx context.Context, workflow registry.Workflow, userID, sessionID string, completion instance.StepCompletion) (instance.Instance, error) {
	inst, err := s.store.FindOpenInstance(ctx, workflow.ID, userID)
	if stderrors.Is(err, storage.ErrNotFound) {
		inst, err = instance.New(workflow.ID, userID, sessionID, "", s.now, s.newID)
	}
	if err != nil {
		return instance.Instance{}, fmt.Errorf("open instance: %w", err)
	}

	inst.ApplyCompletion(workflow, completion, s.now().UTC())
	return inst, nil
}

func (s *Service) notifyTokenRecorded(ctx context.Context, groupID string, entry token.Token, inst instance.Instance) {
	if s.notifier == nil || groupID == "" {
		return
	}
	counts, err := s.store.CountInstances(ctx, entry.WorkflowID)
	if err != nil {
		counts = instance.Counts{}
	}
	s.notifier.TokenRecorded(ctx, notify.TokenEvent{
		TokenID:        entry.ID,
		SessionID:      entry.SessionID,
		UserID:         entry.UserID,
		GroupID:        groupID,
		OriginSystemID: entry.SystemID,
		WorkflowID:     entry.WorkflowID,
		InstanceStatus: inst.Status,
		Counts:         counts,
		Metadata:       entry.Metadata,
	})
}

// SharedSessionInquiry reports whether a token recorded for (user, token,
// system) is fresh enough to vouch for a shared session.
func (s *Service) SharedSessionInquiry(ctx context.Context, systemID, userID, tokenID string) (token.Token, session.Session, bool, error) {
	now := s.now().UTC()
	entry, err := s.store.FindSharedToken(ctx, trimmed(userID), trimmed(tokenID), trimmed(systemID), InquiryFreshnessWindow, now)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return token.Token{}, session.Session{}, false, nil
		}
		return token.Token{}, session.Session{}, false, fmt.Errorf("find shared token: %w", err)
	}

	// A positive answer counts as a verification; the stamp lets operators
	// see when a token last vouched for anything.
	entry.LastVerifiedAt = &now
	if err := s.store.PutToken(ctx, entry); err != nil {
		return token.Token{}, session.Session{}, false, fmt.Errorf("stamp verification: %w", err)
	}

	sess, err := s.store.GetSession(ctx, entry.SessionID)
	if err != nil && !stderrors.Is(err, storage.ErrNotFound) {
		return token.Token{}, session.Session{}, false, fmt.Errorf("load session: %w", err)
	}
	return entry, sess, true, nil
}
