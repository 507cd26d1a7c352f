package progress

import (
	"errors"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/systeminit/pluto/internal/store"
	"github.com/systeminit/pluto/pkg/model"
)

func testDB(t *testing.T) *bolt.DB {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "pluto.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s.DB()
}

func TestCreateDeploymentIsVisibleImmediately(t *testing.T) {
	r := NewRecorder(testDB(t), zap.NewNop())
	if err := r.CreateDeployment("d1", "cfg-1", "acme", nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	dep, err := r.GetDeployment("d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if dep.Status != model.DeploymentStarted {
		t.Fatalf("unexpected status: %s", dep.Status)
	}
	if len(dep.Steps) != 0 {
		t.Fatalf("new deployment must have an empty step list, got %d", len(dep.Steps))
	}
}

func TestStepLifecycleKeepsOneRecordPerStep(t *testing.T) {
	r := NewRecorder(testDB(t), zap.NewNop())
	if err := r.CreateDeployment("d1", "cfg-1", "acme", nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.StepStarted("d1", model.StepInitialize, "step started"); err != nil {
		t.Fatalf("step started: %v", err)
	}
	dep, _ := r.GetDeployment("d1")
	if dep.CurrentStep != model.StepInitialize {
		t.Fatalf("currentStep = %q, want initialize", dep.CurrentStep)
	}
	if len(dep.Steps) != 1 || dep.Steps[0].Status != model.StepInProgress {
		t.Fatalf("unexpected step log: %+v", dep.Steps)
	}

	if err := r.StepFinished("d1", model.StepInitialize, model.StepCompleted, "config loaded", map[string]any{"config_id": "cfg-1"}); err != nil {
		t.Fatalf("step finished: %v", err)
	}
	dep, _ = r.GetDeployment("d1")
	if len(dep.Steps) != 1 {
		t.Fatalf("finishing a step must transition its record in place, got %d records", len(dep.Steps))
	}
	if dep.Steps[0].Status != model.StepCompleted || dep.Steps[0].Message != "config loaded" {
		t.Fatalf("unexpected record: %+v", dep.Steps[0])
	}
	if dep.Status != model.DeploymentStarted {
		t.Fatal("non-terminal step must not complete the deployment")
	}
}

func TestFailedStepFailsDeployment(t *testing.T) {
	r := NewRecorder(testDB(t), zap.NewNop())
	r.CreateDeployment("d1", "cfg-1", "acme", nil)
	r.StepStarted("d1", model.StepOpenChangeSet, "step started")

	if err := r.StepFinished("d1", model.StepOpenChangeSet, model.StepFailed, "control plane returned 409", nil); err != nil {
		t.Fatalf("step finished: %v", err)
	}

	dep, _ := r.GetDeployment("d1")
	if dep.Status != model.DeploymentFailed {
		t.Fatalf("status = %s, want failed", dep.Status)
	}
	if dep.Error != "control plane returned 409" {
		t.Fatalf("error not surfaced verbatim: %q", dep.Error)
	}
	if dep.EndTime == nil {
		t.Fatal("endTime not stamped on failure")
	}
}

func TestCompletingTerminalStepCompletesDeployment(t *testing.T) {
	r := NewRecorder(testDB(t), zap.NewNop())
	r.CreateDeployment("d1", "cfg-1", "acme", nil)

	for _, step := range model.PipelineSteps {
		r.StepStarted("d1", step, "step started")
		if err := r.StepFinished("d1", step, model.StepCompleted, "ok", nil); err != nil {
			t.Fatalf("step %s: %v", step, err)
		}
	}

	dep, _ := r.GetDeployment("d1")
	if dep.Status != model.DeploymentCompleted {
		t.Fatalf("status = %s, want completed", dep.Status)
	}
	if dep.EndTime == nil {
		t.Fatal("endTime not stamped on completion")
	}
	if len(dep.Steps) != len(model.PipelineSteps) {
		t.Fatalf("got %d step records, want %d", len(dep.Steps), len(model.PipelineSteps))
	}
	for i, rec := range dep.Steps {
		if rec.Step != model.PipelineSteps[i] {
			t.Fatalf("step %d = %q, want %q", i, rec.Step, model.PipelineSteps[i])
		}
		if i > 0 && rec.Timestamp.Before(dep.Steps[i-1].Timestamp) {
			t.Fatalf("timestamps regress at step %d", i)
		}
	}
}

func TestGetDeploymentSurvivesRestart(t *testing.T) {
	db := testDB(t)
	r := NewRecorder(db, zap.NewNop())
	r.CreateDeployment("d1", "cfg-1", "acme", map[string]any{"config_id": "cfg-1"})
	r.SetChangeSet("d1", "cs-9")
	r.StepStarted("d1", model.StepInitialize, "step started")
	r.StepFinished("d1", model.StepInitialize, model.StepCompleted, "ok", nil)

	// a fresh recorder over the same bolt file sees the same history
	r2 := NewRecorder(db, zap.NewNop())
	dep, err := r2.GetDeployment("d1")
	if err != nil {
		t.Fatalf("get after restart: %v", err)
	}
	if dep.ChangeSetID != "cs-9" {
		t.Fatalf("change set id lost: %q", dep.ChangeSetID)
	}
	if len(dep.Steps) != 1 || dep.Steps[0].Status != model.StepCompleted {
		t.Fatalf("step log lost: %+v", dep.Steps)
	}
}

func TestGetDeploymentNotFound(t *testing.T) {
	r := NewRecorder(testDB(t), zap.NewNop())
	_, err := r.GetDeployment("ghost")
	var nf *model.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestOnStepFiresPerTransition(t *testing.T) {
	r := NewRecorder(testDB(t), zap.NewNop())
	var events []model.StepEvent
	r.OnStep = func(ev model.StepEvent) { events = append(events, ev) }

	r.CreateDeployment("d1", "cfg-1", "acme", nil)
	r.SetChangeSet("d1", "cs-1") // must not emit an event
	r.StepStarted("d1", model.StepInitialize, "step started")
	r.StepFinished("d1", model.StepInitialize, model.StepCompleted, "ok", nil)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0].Status != model.StepInProgress || events[1].Status != model.StepCompleted {
		t.Fatalf("unexpected event statuses: %+v", events)
	}
}

func TestListDeployments(t *testing.T) {
	r := NewRecorder(testDB(t), zap.NewNop())
	r.CreateDeployment("d1", "cfg-1", "acme", nil)
	r.CreateDeployment("d2", "cfg-1", "globex", nil)

	deps, err := r.ListDeployments()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(deps) != 2 {
		t.Fatalf("got %d deployments, want 2", len(deps))
	}
}
