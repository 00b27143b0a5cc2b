// Package registry holds the static definitions shared services register
// with the authority: groups, systems, functions, and workflows.
package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
	"github.com/datarivers-io/alohomora/internal/platform/id"
)

// SystemStatus describes the lifecycle state of a registered system.
type SystemStatus string

const (
	// SystemStatusActive indicates the system may register artifacts.
	SystemStatusActive SystemStatus = "active"
	// SystemStatusDisabled indicates the system is administratively disabled.
	SystemStatusDisabled SystemStatus = "disabled"
)

// Group is a replication group; systems in the same group share workflows
// and a replica serves exactly one group.
type Group struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// System is a registered member application.
type System struct {
	ID          string
	Name        string
	GroupID     string
	OwnerUserID string
	Status      SystemStatus
	PublicKey   string
	CallbackURL string
	CreatedAt   time.Time
	LastSeenAt  time.Time
	UpdatedAt   time.Time
}

// Function is a callable unit owned by a system.
type Function struct {
	ID        string
	SystemID  string
	GroupID   string
	Name      string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StepSpec is one required (function, system) pair within a workflow.
type StepSpec struct {
	StepID     string
	FunctionID string
	SystemID   string
}

// Workflow is an ordered sequence of steps registered by a system.
// Workflows are immutable once registered; there is no update path, which
// keeps historical instances valid.
type Workflow struct {
	ID          string
	Name        string
	SystemID    string
	GroupID     string
	OwnerUserID string
	Steps       []StepSpec
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StepFor returns the step matching the given function/system pair.
func (w Workflow) StepFor(functionID, systemID string) (StepSpec, bool) {
	for _, step := range w.Steps {
		if step.FunctionID == functionID && step.SystemID == systemID {
			return step, true
		}
	}
	return StepSpec{}, false
}

// Step returns the step with the given id.
func (w Workflow) Step(stepID string) (StepSpec, bool) {
	for _, step := range w.Steps {
		if step.StepID == stepID {
			return step, true
		}
	}
	return StepSpec{}, false
}

// RequiredStepIDs returns the set of step ids a complete instance must cover.
func (w Workflow) RequiredStepIDs() map[string]struct{} {
	required := make(map[string]struct{}, len(w.Steps))
	for _, step := range w.Steps {
		required[step.StepID] = struct{}{}
	}
	return required
}

// CreateGroupInput describes the metadata needed to create a group.
type CreateGroupInput struct {
	Name        string
	Description string
}

// CreateGroup creates a new group with a generated ID and timestamps.
func CreateGroup(input CreateGroupInput, now func() time.Time, idGenerator func() (string, error)) (Group, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return Group{}, errors.New(errors.CodeValidation, "group_name must be a non-empty string")
	}

	groupID, err := idGenerator()
	if err != nil {
		return Group{}, fmt.Errorf("generate group id: %w", err)
	}

	return Group{
		ID:          groupID,
		Name:        input.Name,
		Description: strings.TrimSpace(input.Description),
		CreatedAt:   now().UTC(),
	}, nil
}

// CreateSystemInput describes the metadata needed to register a system.
type CreateSystemInput struct {
	Name        string
	GroupID     string
	OwnerUserID string
	PublicKey   string
	CallbackURL string
}

// CreateSystem creates a new system record with a generated ID.
func CreateSystem(input CreateSystemInput, now func() time.Time, idGenerator func() (string, error)) (System, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return System{}, errors.New(errors.CodeValidation, "system_name must be a non-empty string")
	}
	input.PublicKey = strings.TrimSpace(input.PublicKey)
	if input.PublicKey == "" {
		return System{}, errors.New(errors.CodeValidation, "public_key must be a non-empty string")
	}

	systemID, err := idGenerator()
	if err != nil {
		return System{}, fmt.Errorf("generate system id: %w", err)
	}

	createdAt := now().UTC()
	return System{
		ID:          systemID,
		Name:        input.Name,
		GroupID:     strings.TrimSpace(input.GroupID),
		OwnerUserID: strings.TrimSpace(input.OwnerUserID),
		Status:      SystemStatusActive,
		PublicKey:   input.PublicKey,
		CallbackURL: strings.TrimSpace(input.CallbackURL),
		CreatedAt:   createdAt,
		LastSeenAt:  createdAt,
		UpdatedAt:   createdAt,
	}, nil
}

// CreateFunctionInput describes the metadata needed to register a function.
type CreateFunctionInput struct {
	SystemID string
	GroupID  string
	Name     string
	URL      string
}

// CreateFunction creates a new function record owned by a system.
func CreateFunction(input CreateFunctionInput, now func() time.Time, idGenerator func() (string, error)) (Function, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return Function{}, errors.New(errors.CodeValidation, "function_name must be a non-empty string")
	}
	input.URL = strings.TrimSpace(input.URL)
	if input.URL == "" {
		return Function{}, errors.New(errors.CodeValidation, "url must be a non-empty string")
	}
	if strings.TrimSpace(input.SystemID) == "" {
		return Function{}, errors.New(errors.CodeValidation, "system_id must be a non-empty string")
	}
	if strings.TrimSpace(input.GroupID) == "" {
		return Function{}, errors.New(errors.CodeGroupRequired, "system must belong to a group")
	}

	functionID, err := idGenerator()
	if err != nil {
		return Function{}, fmt.Errorf("generate function id: %w", err)
	}

	createdAt := now().UTC()
	return Function{
		ID:        functionID,
		SystemID:  strings.TrimSpace(input.SystemID),
		GroupID:   strings.TrimSpace(input.GroupID),
		Name:      input.Name,
		URL:       input.URL,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}

// CreateWorkflowInput describes the metadata needed to register a workflow.
type CreateWorkflowInput struct {
	Name        string
	SystemID    string
	GroupID     string
	OwnerUserID string
	Steps       []StepSpec
}

// CreateWorkflow creates a workflow after validating its step sequence:
// at least one step, unique step ids, and non-empty function/system refs.
// Referential checks against the registry happen in the service layer where
// the stores live.
func CreateWorkflow(input CreateWorkflowInput, now func() time.Time, idGenerator func() (string, error)) (Workflow, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	if strings.TrimSpace(input.SystemID) == "" {
		return Workflow{}, errors.New(errors.CodeValidation, "system_id must be a non-empty string")
	}
	if strings.TrimSpace(input.GroupID) == "" {
		return Workflow{}, errors.New(errors.CodeGroupRequired, "system must belong to a group to register workflows")
	}
	if len(input.Steps) == 0 {
		return Workflow{}, errors.New(errors.CodeValidation, "workflow requires at least one step")
	}

	seen := make(map[string]struct{}, len(input.Steps))
	steps := make([]StepSpec, 0, len(input.Steps))
	for _, step := range input.Steps {
		step.StepID = strings.TrimSpace(step.StepID)
		step.FunctionID = strings.TrimSpace(step.FunctionID)
		step.SystemID = strings.TrimSpace(step.SystemID)
		if step.StepID == "" {
			return Workflow{}, errors.New(errors.CodeValidation, "step_id must be a non-empty string")
		}
		if step.FunctionID == "" || step.SystemID == "" {
			return Workflow{}, errors.Newf(errors.CodeValidation, "step %s must reference a function and a system", step.StepID)
		}
		if _, dup := seen[step.StepID]; dup {
			return Workflow{}, errors.Newf(errors.CodeValidation, "duplicate step_id %s", step.StepID)
		}
		seen[step.StepID] = struct{}{}
		steps = append(steps, step)
	}

	workflowID, err := idGenerator()
	if err != nil {
		return Workflow{}, fmt.Errorf("generate workflow id: %w", err)
	}

	createdAt := now().UTC()
	return Workflow{
		ID:          workflowID,
		Name:        strings.TrimSpace(input.Name),
		SystemID:    strings.TrimSpace(input.SystemID),
		GroupID:     strings.TrimSpace(input.GroupID),
		OwnerUserID: strings.TrimSpace(input.OwnerUserID),
		Steps:       steps,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}, nil
}
