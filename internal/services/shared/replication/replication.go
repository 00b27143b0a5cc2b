// Package replication defines the wire format of the authority's sync feed.
// Both ends depend on it: the authority renders deltas into a payload and a
// replica folds a payload back into domain records for its mirror store.
package replication

import (
	"time"

	"github.com/datarivers-io/alohomora/internal/services/authority/instance"
	"github.com/datarivers-io/alohomora/internal/services/authority/registry"
	"github.com/datarivers-io/alohomora/internal/services/authority/storage"
	"github.com/datarivers-io/alohomora/internal/services/authority/token"
)

// SyncRequest is a replica's pull.
type SyncRequest struct {
	ReplicaID string    `json:"replica_id"`
	GroupID   string    `json:"group_id"`
	LastSync  time.Time `json:"last_sync,omitzero"`
}

// Payload is one batch of group-scoped changes.
type Payload struct {
	SyncTimestamp time.Time      `json:"sync_timestamp"`
	Groups        []Group        `json:"groups"`
	Systems       []System       `json:"systems"`
	Functions     []Function     `json:"system_functions"`
	Workflows     []Workflow     `json:"workflows"`
	Tokens        []Token        `json:"shared_tokens"`
	Instances     []Instance     `json:"workflow_instances"`
	InstanceSteps []InstanceStep `json:"instance_steps"`
}

// Group mirrors a replication group row.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// System mirrors a registered system row.
type System struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	GroupID     string    `json:"group_id"`
	OwnerUserID string    `json:"owner_user_id,omitempty"`
	Status      string    `json:"status"`
	PublicKey   string    `json:"public_key"`
	CallbackURL string    `json:"callback_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Function mirrors a registered function row.
type Function struct {
	ID        string    `json:"id"`
	SystemID  string    `json:"system_id"`
	GroupID   string    `json:"group_id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Step mirrors one workflow step spec.
type Step struct {
	StepID     string `json:"step_id"`
	FunctionID string `json:"function_id"`
	SystemID   string `json:"system_id"`
}

// Workflow mirrors a workflow row with its ordered steps inline.
type Workflow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	SystemID    string    `json:"system_id"`
	GroupID     string    `json:"group_id"`
	OwnerUserID string    `json:"owner_user_id,omitempty"`
	Steps       []Step    `json:"steps"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Token mirrors a ledger row.
type Token struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	SystemID       string     `json:"system_id"`
	WorkflowID     string     `json:"workflow_id"`
	FunctionID     string     `json:"function_id"`
	UserID         string     `json:"user_id"`
	Hash           string     `json:"token_hash"`
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`
	Metadata       string     `json:"metadata,omitempty"`
}

// Instance mirrors a workflow instance row without its steps.
type Instance struct {
	ID            string     `json:"id"`
	WorkflowID    string     `json:"workflow_id"`
	UserID        string     `json:"user_id"`
	SessionID     string     `json:"session_id,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	Metadata      string     `json:"metadata,omitempty"`
}

// InstanceStep mirrors one step completion row, keyed back to its instance.
type InstanceStep struct {
	InstanceID   string    `json:"instance_id"`
	StepID       string    `json:"step_id"`
	FunctionID   string    `json:"function_id,omitempty"`
	SystemID     string    `json:"system_id,omitempty"`
	Status       string    `json:"status"`
	TokenID      string    `json:"token_id,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	ResultData   string    `json:"result_data,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// NewPayload renders a storage delta into the wire shape.
func NewPayload(delta storage.Delta, syncedAt time.Time) Payload {
	payload := Payload{SyncTimestamp: syncedAt.UTC()}

	for _, group := range delta.Groups {
		payload.Groups = append(payload.Groups, Group{
			ID:          group.ID,
			Name:        group.Name,
			Description: group.Description,
			CreatedAt:   group.CreatedAt,
		})
	}
	for _, system := range delta.Systems {
		payload.Systems = append(payload.Systems, System{
			ID:          system.ID,
			Name:        system.Name,
			GroupID:     system.GroupID,
			OwnerUserID: system.OwnerUserID,
			Status:      string(system.Status),
			PublicKey:   system.PublicKey,
			CallbackURL: system.CallbackURL,
			CreatedAt:   system.CreatedAt,
			LastSeenAt:  system.LastSeenAt,
			UpdatedAt:   system.UpdatedAt,
		})
	}
	for _, function := range delta.Functions {
		payload.Functions = append(payload.Functions, Function{
			ID:        function.ID,
			SystemID:  function.SystemID,
			GroupID:   function.GroupID,
			Name:      function.Name,
			URL:       function.URL,
			CreatedAt: function.CreatedAt,
			UpdatedAt: function.UpdatedAt,
		})
	}
	for _, workflow := range delta.Workflows {
		wire := Workflow{
			ID:          workflow.ID,
			Name:        workflow.Name,
			SystemID:    workflow.SystemID,
			GroupID:     workflow.GroupID,
			OwnerUserID: workflow.OwnerUserID,
			CreatedAt:   workflow.CreatedAt,
			UpdatedAt:   workflow.UpdatedAt,
		}
		for _, step := range workflow.Steps {
			wire.Steps = append(wire.Steps, Step(step))
		}
		payload.Workflows = append(payload.Workflows, wire)
	}
	for _, entry := range delta.Tokens {
		payload.Tokens = append(payload.Tokens, Token{
			ID:             entry.ID,
			SessionID:      entry.SessionID,
			SystemID:       entry.SystemID,
			WorkflowID:     entry.WorkflowID,
			FunctionID:     entry.FunctionID,
			UserID:         entry.UserID,
			Hash:           entry.Hash,
			IssuedAt:       entry.IssuedAt,
			ExpiresAt:      entry.ExpiresAt,
			LastVerifiedAt: entry.LastVerifiedAt,
			Metadata:       entry.Metadata,
		})
	}
	for _, inst := range delta.Instances {
		payload.Instances = append(payload.Instances, Instance{
			ID:            inst.ID,
			WorkflowID:    inst.WorkflowID,
			UserID:        inst.UserID,
			SessionID:     inst.SessionID,
			Status:        string(inst.Status),
			CreatedAt:     inst.CreatedAt,
			UpdatedAt:     inst.UpdatedAt,
			CompletedAt:   inst.CompletedAt,
			FailureReason: inst.FailureReason,
			Metadata:      inst.Metadata,
		})
		for _, step := range inst.Steps {
			payload.InstanceSteps = append(payload.InstanceSteps, InstanceStep{
				InstanceID:   inst.ID,
				StepID:       step.StepID,
				FunctionID:   step.FunctionID,
				SystemID:     step.SystemID,
				Status:       string(step.Status),
				TokenID:      step.TokenID,
				StartedAt:    step.StartedAt,
				CompletedAt:  step.CompletedAt,
				ResultData:   step.ResultData,
				ErrorMessage: step.ErrorMessage,
			})
		}
	}
	return payload
}

// Empty reports whether the payload carries no records.
func (p Payload) Empty() bool {
	return len(p.Groups) == 0 && len(p.Systems) == 0 && len(p.Functions) == 0 &&
		len(p.Workflows) == 0 && len(p.Tokens) == 0 && len(p.Instances) == 0
}

// DomainGroups folds the wire groups back into domain records.
func (p Payload) DomainGroups() []registry.Group {
	groups := make([]registry.Group, 0, len(p.Groups))
	for _, group := range p.Groups {
		groups = append(groups, registry.Group{
			ID:          group.ID,
			Name:        group.Name,
			Description: group.Description,
			CreatedAt:   group.CreatedAt,
		})
	}
	return groups
}

// DomainSystems folds the wire systems back into domain records.
func (p Payload) DomainSystems() []registry.System {
	systems := make([]registry.System, 0, len(p.Systems))
	for _, system := range p.Systems {
		systems = append(systems, registry.System{
			ID:          system.ID,
			Name:        system.Name,
			GroupID:     system.GroupID,
			OwnerUserID: system.OwnerUserID,
			Status:      registry.SystemStatus(system.Status),
			PublicKey:   system.PublicKey,
			CallbackURL: system.CallbackURL,
			CreatedAt:   system.CreatedAt,
			LastSeenAt:  system.LastSeenAt,
			UpdatedAt:   system.UpdatedAt,
		})
	}
	return systems
}

// DomainFunctions folds the wire functions back into domain records.
func (p Payload) DomainFunctions() []registry.Function {
	functions := make([]registry.Function, 0, len(p.Functions))
	for _, function := range p.Functions {
		functions = append(functions, registry.Function{
			ID:        function.ID,
			SystemID:  function.SystemID,
			GroupID:   function.GroupID,
			Name:      function.Name,
			URL:       function.URL,
			CreatedAt: function.CreatedAt,
			UpdatedAt: function.UpdatedAt,
		})
	}
	return functions
}

// DomainWorkflows folds the wire workflows back into domain records.
func (p Payload) DomainWorkflows() []registry.Workflow {
	workflows := make([]registry.Workflow, 0, len(p.Workflows))
	for _, workflow := range p.Workflows {
		domain := registry.Workflow{
			ID:          workflow.ID,
			Name:        workflow.Name,
			SystemID:    workflow.SystemID,
			GroupID:     workflow.GroupID,
			OwnerUserID: workflow.OwnerUserID,
			CreatedAt:   workflow.CreatedAt,
			UpdatedAt:   workflow.UpdatedAt,
		}
		for _, step := range workflow.Steps {
			domain.Steps = append(domain.Steps, registry.StepSpec(step))
		}
		workflows = append(workflows, domain)
	}
	return workflows
}

// DomainTokens folds the wire tokens back into domain records.
func (p Payload) DomainTokens() []token.Token {
	tokens := make([]token.Token, 0, len(p.Tokens))
	for _, entry := range p.Tokens {
		tokens = append(tokens, token.Token{
			ID:             entry.ID,
			SessionID:      entry.SessionID,
			SystemID:       entry.SystemID,
			WorkflowID:     entry.WorkflowID,
			FunctionID:     entry.FunctionID,
			UserID:         entry.UserID,
			Hash:           entry.Hash,
			IssuedAt:       entry.IssuedAt,
			ExpiresAt:      entry.ExpiresAt,
			LastVerifiedAt: entry.LastVerifiedAt,
			Metadata:       entry.Metadata,
		})
	}
	return tokens
}

// DomainInstances reassembles instances with their step completions.
func (p Payload) DomainInstances() []instance.Instance {
	stepsByInstance := make(map[string]map[string]instance.StepCompletion)
	for _, step := range p.InstanceSteps {
		if stepsByInstance[step.InstanceID] == nil {
			stepsByInstance[step.InstanceID] = make(map[string]instance.StepCompletion)
		}
		stepsByInstance[step.InstanceID][step.StepID] = instance.StepCompletion{
			StepID:       step.StepID,
			FunctionID:   step.FunctionID,
			SystemID:     step.SystemID,
			Status:       instance.StepStatus(step.Status),
			TokenID:      step.TokenID,
			StartedAt:    step.StartedAt,
			CompletedAt:  step.CompletedAt,
			ResultData:   step.ResultData,
			ErrorMessage: step.ErrorMessage,
		}
	}

	instances := make([]instance.Instance, 0, len(p.Instances))
	for _, wire := range p.Instances {
		steps := stepsByInstance[wire.ID]
		if steps == nil {
			steps = make(map[string]instance.StepCompletion)
		}
		instances = append(instances, instance.Instance{
			ID:            wire.ID,
			WorkflowID:    wire.WorkflowID,
			UserID:        wire.UserID,
			SessionID:     wire.SessionID,
			Status:        instance.Status(wire.Status),
			CreatedAt:     wire.CreatedAt,
			UpdatedAt:     wire.UpdatedAt,
			CompletedAt:   wire.CompletedAt,
			FailureReason: wire.FailureReason,
			Metadata:      wire.Metadata,
			Steps:         steps,
		})
	}
	return instances
}
