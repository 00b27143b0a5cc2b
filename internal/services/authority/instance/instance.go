// Package instance models per-user workflow executions tracked by step
// completions.
//
// Status is a pure function of the completion set against the workflow's
// required steps, so replaying the same event (redelivered notification,
// re-applied sync delta) always converges on the same stored state.
package instance

import (
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/id"
	"github.com/datarivers-io/alohomora/internal/services/authority/registry"
)

// Status describes the lifecycle state of a workflow instance.
type Status string

const (
	// StatusInProgress indicates at least one required step is outstanding.
	StatusInProgress Status = "in_progress"
	// StatusCompleted indicates every required step has a completion entry.
	StatusCompleted Status = "completed"
	// StatusFailed indicates an explicit failure signal was recorded.
	StatusFailed Status = "failed"
)

// StepStatus describes the outcome recorded for a single step.
type StepStatus string

const (
	// StepStatusCompleted indicates the step finished successfully.
	StepStatusCompleted StepStatus = "completed"
	// StepStatusFailed indicates the step reported an error.
	StepStatusFailed StepStatus = "failed"
)

// StepCompletion is the record kept per completed (or failed) step.
type StepCompletion struct {
	StepID       string
	FunctionID   string
	SystemID     string
	Status       StepStatus
	TokenID      string
	StartedAt    time.Time
	CompletedAt  time.Time
	ResultData   string
	ErrorMessage string
}

// Instance is one execution of a workflow by one user.
type Instance struct {
	ID            string
	WorkflowID    string
	UserID        string
	SessionID     string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
	FailureReason string
	Metadata      string
	Steps         map[string]StepCompletion
}

// Counts aggregates instance statuses across a workflow.
type Counts struct {
	Total      int `json:"total_instances"`
	Completed  int `json:"completed_instances"`
	InProgress int `json:"in_progress_instances"`
	Failed     int `json:"failed_instances"`
}

// New creates an open instance for a (workflow, user) pair.
func New(workflowID, userID, sessionID, metadata string, now func() time.Time, idGenerator func() (string, error)) (Instance, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	instanceID, err := idGenerator()
	if err != nil {
		return Instance{}, err
	}
	createdAt := now().UTC()
	return Instance{
		ID:         instanceID,
		WorkflowID: workflowID,
		UserID:     userID,
		SessionID:  sessionID,
		Status:     StatusInProgress,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
		Metadata:   metadata,
		Steps:      make(map[string]StepCompletion),
	}, nil
}

// ApplyCompletion records a step completion and recomputes status.
//
// Last writer wins on repeated step ids. A completed instance keeps
// superseding timestamps for audit but its status stays pinned, and a failed
// instance records the entry without leaving the terminal state.
func (inst *Instance) ApplyCompletion(workflow registry.Workflow, completion StepCompletion, now time.Time) {
	if inst.Steps == nil {
		inst.Steps = make(map[string]StepCompletion)
	}
	if completion.Status == "" {
		completion.Status = StepStatusCompleted
	}
	if prior, ok := inst.Steps[completion.StepID]; ok && completion.StartedAt.IsZero() {
		completion.StartedAt = prior.StartedAt
	}
	if completion.StartedAt.IsZero() {
		completion.StartedAt = now.UTC()
	}
	if completion.CompletedAt.IsZero() {
		completion.CompletedAt = now.UTC()
	}
	inst.Steps[completion.StepID] = completion
	inst.UpdatedAt = now.UTC()

	if inst.Status == StatusFailed || inst.Status == StatusCompleted {
		return
	}
	if completion.Status == StepStatusFailed {
		inst.Fail(completion.ErrorMessage, now)
		return
	}
	inst.recomputeStatus(workflow, now)
}

// Fail moves the instance to the terminal failed state.
func (inst *Instance) Fail(reason string, now time.Time) {
	if inst.Status == StatusCompleted {
		return
	}
	inst.Status = StatusFailed
	inst.FailureReason = reason
	inst.UpdatedAt = now.UTC()
}

// recomputeStatus derives status from the completed-step set. Completed iff
// every required step id has a successful entry.
func (inst *Instance) recomputeStatus(workflow registry.Workflow, now time.Time) {
	required := workflow.RequiredStepIDs()
	if len(required) == 0 {
		return
	}
	for stepID := range required {
		completion, ok := inst.Steps[stepID]
		if !ok || completion.Status != StepStatusCompleted {
			inst.Status = StatusInProgress
			return
		}
	}
	inst.Status = StatusCompleted
	completedAt := now.UTC()
	inst.CompletedAt = &completedAt
}
