package registry

import (
	"testing"
	"time"

	"github.com/datarivers-io/alohomora/internal/platform/errors"
)

var fixedNow = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func staticID(value string) func() (string, error) {
	return func() (string, error) { return value, nil }
}

func TestCreateSystemRequiresName(t *testing.T) {
	_, err := CreateSystem(CreateSystemInput{Name: "   ", PublicKey: "pk"}, fixedNow, staticID("sys1"))
	if err == nil {
		t.Fatal("expected error for blank name")
	}
	if errors.CodeOf(err) != errors.CodeValidation {
		t.Fatalf("expected VALIDATION, got %s", errors.CodeOf(err))
	}
}

func TestCreateSystemDefaults(t *testing.T) {
	system, err := CreateSystem(CreateSystemInput{
		Name:        " billing ",
		GroupID:     "group_1",
		PublicKey:   "pk",
		CallbackURL: "http://billing.internal",
	}, fixedNow, staticID("sys1"))
	if err != nil {
		t.Fatalf("create system: %v", err)
	}
	if system.ID != "sys1" || system.Name != "billing" {
		t.Fatalf("unexpected system %+v", system)
	}
	if system.Status != SystemStatusActive {
		t.Fatalf("expected active status, got %s", system.Status)
	}
	if !system.LastSeenAt.Equal(system.CreatedAt) {
		t.Fatal("expected last_seen_at to start at created_at")
	}
}

func TestCreateFunctionRequiresGroup(t *testing.T) {
	_, err := CreateFunction(CreateFunctionInput{
		SystemID: "sys1",
		Name:     "charge",
		URL:      "http://billing.internal/charge",
	}, fixedNow, staticID("fn1"))
	if errors.CodeOf(err) != errors.CodeGroupRequired {
		t.Fatalf("expected GROUP_REQUIRED, got %v", err)
	}
}

func TestCreateWorkflowValidatesSteps(t *testing.T) {
	tests := []struct {
		name  string
		steps []StepSpec
		code  errors.Code
	}{
		{"empty", nil, errors.CodeValidation},
		{"blank step id", []StepSpec{{StepID: " ", FunctionID: "f", SystemID: "s"}}, errors.CodeValidation},
		{"missing function", []StepSpec{{StepID: "validate", SystemID: "s"}}, errors.CodeValidation},
		{"duplicate step id", []StepSpec{
			{StepID: "validate", FunctionID: "f1", SystemID: "s1"},
			{StepID: "validate", FunctionID: "f2", SystemID: "s2"},
		}, errors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateWorkflow(CreateWorkflowInput{
				SystemID: "sys1",
				GroupID:  "group_1",
				Steps:    tt.steps,
			}, fixedNow, staticID("wf1"))
			if errors.CodeOf(err) != tt.code {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestCreateWorkflowRequiresGroup(t *testing.T) {
	_, err := CreateWorkflow(CreateWorkflowInput{
		SystemID: "sys1",
		Steps:    []StepSpec{{StepID: "validate", FunctionID: "f1", SystemID: "sys1"}},
	}, fixedNow, staticID("wf1"))
	if errors.CodeOf(err) != errors.CodeGroupRequired {
		t.Fatalf("expected GROUP_REQUIRED, got %v", err)
	}
}

func TestWorkflowStepLookups(t *testing.T) {
	wf, err := CreateWorkflow(CreateWorkflowInput{
		Name:     "onboard",
		SystemID: "sys1",
		GroupID:  "group_1",
		Steps: []StepSpec{
			{StepID: "validate", FunctionID: "f1", SystemID: "sys1"},
			{StepID: "approve", FunctionID: "f2", SystemID: "sys2"},
		},
	}, fixedNow, staticID("wf1"))
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	step, ok := wf.StepFor("f2", "sys2")
	if !ok || step.StepID != "approve" {
		t.Fatalf("expected approve step, got %+v ok=%v", step, ok)
	}
	if _, ok := wf.StepFor("f2", "sys1"); ok {
		t.Fatal("expected mismatched system to miss")
	}
	if _, ok := wf.Step("approve"); !ok {
		t.Fatal("expected step lookup by id")
	}

	required := wf.RequiredStepIDs()
	if len(required) != 2 {
		t.Fatalf("expected 2 required steps, got %d", len(required))
	}
	if _, ok := required["validate"]; !ok {
		t.Fatal("expected validate in required set")
	}
}
