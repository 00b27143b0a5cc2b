package ledger

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
	"github.com/datarivers-io/alohomora/internal/services/authority/registry"
	"github.com/datarivers-io/alohomora/internal/services/authority/storage"
)

// checkAdminKey guards the administrative registration endpoints.
func (s *Service) checkAdminKey(provided string) error {
	if s.adminKey == "" || provided != s.adminKey {
		return errors.New(errors.CodeAdminKeyInvalid, "invalid admin key")
	}
	return nil
}

// RegisterGroup creates a replication group. Admin only.
func (s *Service) RegisterGroup(ctx context.Context, adminKey string, input registry.CreateGroupInput) (registry.Group, error) {
	if err := s.checkAdminKey(adminKey); err != nil {
		return registry.Group{}, err
	}

	group, err := registry.CreateGroup(input, s.now, s.newID)
	if err != nil {
		return registry.Group{}, err
	}
	if err := s.store.PutGroup(ctx, group); err != nil {
		return registry.Group{}, fmt.Errorf("persist group: %w", err)
	}
	return group, nil
}

// RegisterSystem creates a system record. Admin only. The group is optional
// at registration but must exist when given; without one the system cannot
// register functions or workflows.
func (s *Service) RegisterSystem(ctx context.Context, adminKey string, input registry.CreateSystemInput) (registry.System, error) {
	if err := s.checkAdminKey(adminKey); err != nil {
		return registry.System{}, err
	}

	if trimmed(input.GroupID) != "" {
		if _, err := s.store.GetGroup(ctx, trimmed(input.GroupID)); err != nil {
			if stderrors.Is(err, storage.ErrNotFound) {
				return registry.System{}, errors.Newf(errors.CodeGroupNotFound, "group %s not found", input.GroupID)
			}
			return registry.System{}, fmt.Errorf("load group: %w", err)
		}
	}

	if _, err := s.store.GetSystemByName(ctx, trimmed(input.Name)); err == nil {
		return registry.System{}, errors.Newf(errors.CodeValidation, "system name %s already registered", input.Name)
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return registry.System{}, fmt.Errorf("check system name: %w", err)
	}

	system, err := registry.CreateSystem(input, s.now, s.newID)
	if err != nil {
		return registry.System{}, err
	}
	if err := s.store.PutSystem(ctx, system); err != nil {
		return registry.System{}, fmt.Errorf("persist system: %w", err)
	}
	return system, nil
}

// GetSystem loads a system by id.
func (s *Service) GetSystem(ctx context.Context, systemID string) (registry.System, error) {
	system, err := s.store.GetSystem(ctx, systemID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return registry.System{}, errors.Newf(errors.CodeSystemNotFound, "system %s not found", systemID)
		}
		return registry.System{}, fmt.Errorf("load system: %w", err)
	}
	return system, nil
}

// GetSystemByName loads a system by its unique name.
func (s *Service) GetSystemByName(ctx context.Context, name string) (registry.System, error) {
	system, err := s.store.GetSystemByName(ctx, name)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return registry.System{}, errors.Newf(errors.CodeSystemNotFound, "system %s not found", name)
		}
		return registry.System{}, fmt.Errorf("load system by name: %w", err)
	}
	return system, nil
}

// RegisterFunction creates a function owned by a grouped system.
func (s *Service) RegisterFunction(ctx context.Context, input registry.CreateFunctionInput) (registry.Function, error) {
	system, err := s.GetSystem(ctx, trimmed(input.SystemID))
	if err != nil {
		return registry.Function{}, err
	}
	if system.GroupID == "" {
		return registry.Function{}, errors.New(errors.CodeGroupRequired, "system must join a group before registering functions")
	}
	input.GroupID = system.GroupID

	function, err := registry.CreateFunction(input, s.now, s.newID)
	if err != nil {
		return registry.Function{}, err
	}
	if err := s.store.PutFunction(ctx, function); err != nil {
		return registry.Function{}, fmt.Errorf("persist function: %w", err)
	}

	s.touchSystem(ctx, system)
	return function, nil
}

// RegisterWorkflow creates a workflow after checking every step references a
// registered function owned by the step's system.
func (s *Service) RegisterWorkflow(ctx context.Context, input registry.CreateWorkflowInput) (registry.Workflow, error) {
	system, err := s.GetSystem(ctx, trimmed(input.SystemID))
	if err != nil {
		return registry.Workflow{}, err
	}
	if system.GroupID == "" {
		return registry.Workflow{}, errors.New(errors.CodeGroupRequired, "system must join a group before registering workflows")
	}
	input.GroupID = system.GroupID
	if trimmed(input.OwnerUserID) == "" {
		input.OwnerUserID = system.OwnerUserID
	}

	for _, step := range input.Steps {
		if _, err := s.GetSystem(ctx, trimmed(step.SystemID)); err != nil {
			return registry.Workflow{}, err
		}
		if _, err := s.store.GetFunction(ctx, trimmed(step.FunctionID)); err != nil {
			if stderrors.Is(err, storage.ErrNotFound) {
				return registry.Workflow{}, errors.Newf(errors.CodeFunctionNotFound, "function %s not found", step.FunctionID)
			}
			return registry.Workflow{}, fmt.Errorf("load function: %w", err)
		}
		owns, err := s.store.SystemOwnsFunction(ctx, trimmed(step.SystemID), trimmed(step.FunctionID))
		if err != nil {
			return registry.Workflow{}, fmt.Errorf("check step ownership: %w", err)
		}
		if !owns {
			return registry.Workflow{}, errors.Newf(errors.CodeOwnershipInvalid, "function %s is not owned by system %s", step.FunctionID, step.SystemID)
		}
	}

	workflow, err := registry.CreateWorkflow(input, s.now, s.newID)
	if err != nil {
		return registry.Workflow{}, err
	}
	if err := s.store.PutWorkflow(ctx, workflow); err != nil {
		return registry.Workflow{}, fmt.Errorf("persist workflow: %w", err)
	}

	s.touchSystem(ctx, system)
	return workflow, nil
}

// touchSystem refreshes last_seen_at after a successful registration call.
// Best effort; a failed touch never fails the registration.
func (s *Service) touchSystem(ctx context.Context, system registry.System) {
	now := s.now().UTC()
	system.LastSeenAt = now
	system.UpdatedAt = now
	_ = s.store.PutSystem(ctx, system)
}
