package ledger

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
	"github.com/datarivers-io/alohomora/internal/services/authority/instance"
	"github.com/datarivers-io/alohomora/internal/services/authority/storage"
)

// CreateInstance opens a workflow instance for a user. When the pair already
// has an open instance that one is returned instead of a duplicate, so the
// explicit creation call and auto-creation on token recording converge.
func (s *Service) CreateInstance(ctx context.Context, workflowID, userID, sessionID, metadata string) (instance.Instance, bool, error) {
	if trimmed(userID) == "" {
		return instance.Instance{}, false, errors.New(errors.CodeMissingField, "user_id must be a non-empty string")
	}

	workflow, err := s.store.GetWorkflow(ctx, trimmed(workflowID))
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return instance.Instance{}, false, errors.Newf(errors.CodeWorkflowNotFound, "workflow %s not found", workflowID)
		}
		return instance.Instance{}, false, fmt.Errorf("load workflow: %w", err)
	}

	unlock := s.lockInstance(workflow.ID, trimmed(userID))
	defer unlock()

	existing, err := s.store.FindOpenInstance(ctx, workflow.ID, trimmed(userID))
	if err == nil {
		return existing, false, nil
	}
	if !stderrors.Is(err, storage.ErrNotFound) {
		return instance.Instance{}, false, fmt.Errorf("find open instance: %w", err)
	}

	inst, err := instance.New(workflow.ID, trimmed(userID), trimmed(sessionID), metadata, s.now, s.newID)
	if err != nil {
		return instance.Instance{}, false, fmt.Errorf("create instance: %w", err)
	}
	if err := s.store.PutInstance(ctx, inst); err != nil {
		return instance.Instance{}, false, fmt.Errorf("persist instance: %w", err)
	}
	return inst, true, nil
}

// MarkStepInput carries one explicit step completion or failure report.
type MarkStepInput struct {
	InstanceID   string
	StepID       string
	TokenID      string
	ResultData   string
	ErrorMessage string // non-empty marks the step failed and fails the instance
}

// MarkStep records a step outcome against an instance by id.
func (s *Service) MarkStep(ctx context.Context, input MarkStepInput) (instance.Instance, error) {
	inst, err := s.loadInstance(ctx, trimmed(input.InstanceID))
	if err != nil {
		return instance.Instance{}, err
	}

	workflow, err := s.store.GetWorkflow(ctx, inst.WorkflowID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return instance.Instance{}, errors.Newf(errors.CodeWorkflowNotFound, "workflow %s not found", inst.WorkflowID)
		}
		return instance.Instance{}, fmt.Errorf("load workflow: %w", err)
	}
	step, ok := workflow.Step(trimmed(input.StepID))
	if !ok {
		return instance.Instance{}, errors.Newf(errors.CodeInvalidStep, "step %s is not part of workflow %s", input.StepID, workflow.ID)
	}

	// A completion that cites a token must cite one the ledger holds.
	if tokenID := trimmed(input.TokenID); tokenID != "" {
		if _, err := s.store.GetToken(ctx, tokenID); err != nil {
			if stderrors.Is(err, storage.ErrNotFound) {
				return instance.Instance{}, errors.Newf(errors.CodeValidation, "token %s is not recorded in the ledger", tokenID)
			}
			return instance.Instance{}, fmt.Errorf("load token: %w", err)
		}
	}

	unlock := s.lockInstance(inst.WorkflowID, inst.UserID)
	defer unlock()

	// Reload under the lock so a concurrent completion is not lost.
	inst, err = s.loadInstance(ctx, inst.ID)
	if err != nil {
		return instance.Instance{}, err
	}

	completion := instance.StepCompletion{
		StepID:       step.StepID,
		FunctionID:   step.FunctionID,
		SystemID:     step.SystemID,
		TokenID:      trimmed(input.TokenID),
		ResultData:   input.ResultData,
		ErrorMessage: input.ErrorMessage,
	}
	if input.ErrorMessage != "" {
		completion.Status = instance.StepStatusFailed
	}
	inst.ApplyCompletion(workflow, completion, s.now().UTC())

	if err := s.store.PutInstance(ctx, inst); err != nil {
		return instance.Instance{}, fmt.Errorf("persist instance: %w", err)
	}
	return inst, nil
}

// MarkInstanceFailed moves an instance to the terminal failed state.
func (s *Service) MarkInstanceFailed(ctx context.Context, instanceID, reason string) (instance.Instance, error) {
	inst, err := s.loadInstance(ctx, trimmed(instanceID))
	if err != nil {
		return instance.Instance{}, err
	}

	unlock := s.lockInstance(inst.WorkflowID, inst.UserID)
	defer unlock()

	inst, err = s.loadInstance(ctx, inst.ID)
	if err != nil {
		return instance.Instance{}, err
	}

	inst.Fail(reason, s.now().UTC())
	if err := s.store.PutInstance(ctx, inst); err != nil {
		return instance.Instance{}, fmt.Errorf("persist instance: %w", err)
	}
	return inst, nil
}

// InstanceStatus returns an instance and its workflow's aggregate counts.
func (s *Service) InstanceStatus(ctx context.Context, instanceID string) (instance.Instance, instance.Counts, error) {
	inst, err := s.loadInstance(ctx, trimmed(instanceID))
	if err != nil {
		return instance.Instance{}, instance.Counts{}, err
	}
	counts, err := s.store.CountInstances(ctx, inst.WorkflowID)
	if err != nil {
		return instance.Instance{}, instance.Counts{}, fmt.Errorf("count instances: %w", err)
	}
	return inst, counts, nil
}

func (s *Service) loadInstance(ctx context.Context, instanceID string) (instance.Instance, error) {
	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return instance.Instance{}, errors.Newf(errors.CodeInstanceNotFound, "instance %s not found", instanceID)
		}
		return instance.Instance{}, fmt.Errorf("load instance: %w", err)
	}
	return inst, nil
}
