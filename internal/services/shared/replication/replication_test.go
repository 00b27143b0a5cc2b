package replication

import (
	"testing"
	"time"

	"github.com/datarivers-io/alohomora/internal/services/authority/instance"
	"github.com/datarivers-io/alohomora/internal/services/authority/registry"
	"github.com/datarivers-io/alohomora/internal/services/authority/storage"
)

func TestPayloadRoundtripReassemblesInstances(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	delta := storage.Delta{
		Workflows: []registry.Workflow{{
			ID: "wf1", SystemID: "s1", GroupID: "g1",
			Steps:     []registry.StepSpec{{StepID: "validate", FunctionID: "f1", SystemID: "s1"}},
			CreatedAt: now, UpdatedAt: now,
		}},
		Instances: []instance.Instance{{
			ID: "inst1", WorkflowID: "wf1", UserID: "u1",
			Status: instance.StatusInProgress, CreatedAt: now, UpdatedAt: now,
			Steps: map[string]instance.StepCompletion{
				"validate": {
					StepID: "validate", FunctionID: "f1", SystemID: "s1",
					Status: instance.StepStatusCompleted, TokenID: "tok1",
					StartedAt: now, CompletedAt: now,
				},
			},
		}},
	}

	payload := NewPayload(delta, now)
	if len(payload.InstanceSteps) != 1 || payload.InstanceSteps[0].InstanceID != "inst1" {
		t.Fatalf("expected flattened instance step, got %+v", payload.InstanceSteps)
	}

	workflows := payload.DomainWorkflows()
	if len(workflows) != 1 || len(workflows[0].Steps) != 1 {
		t.Fatalf("unexpected workflows %+v", workflows)
	}

	instances := payload.DomainInstances()
	if len(instances) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(instances))
	}
	got := instances[0]
	if got.Steps["validate"].TokenID != "tok1" {
		t.Fatalf("expected step reattached, got %+v", got.Steps)
	}
	if got.Status != instance.StatusInProgress {
		t.Fatalf("unexpected status %s", got.Status)
	}
}

func TestPayloadEmpty(t *testing.T) {
	if !(Payload{}).Empty() {
		t.Fatal("zero payload should be empty")
	}
	payload := NewPayload(storage.Delta{Groups: []registry.Group{{ID: "g1"}}}, time.Now())
	if payload.Empty() {
		t.Fatal("payload with a group is not empty")
	}
}
