// Package progress keeps the append-only audit trail of every
// provisioning run. Bolt is the source of truth; a process-wide map of
// latest snapshots serves the cheap mid-flight read path. Every write
// lands durably before the orchestrator is allowed to take its next
// step.
package progress

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/systeminit/pluto/internal/store"
	"github.com/systeminit/pluto/pkg/model"
)

type Recorder struct {
	db     *bolt.DB
	logger *zap.Logger

	// OnStep, when set, is invoked after every durable step transition.
	// Purely observational; errors in the hook cannot exist because it
	// returns nothing, and it must not block.
	OnStep func(ev model.StepEvent)

	mu     sync.RWMutex
	latest map[string]*model.Deployment
}

func NewRecorder(db *bolt.DB, logger *zap.Logger) *Recorder {
	return &Recorder{
		db:     db,
		logger: logger,
		latest: make(map[string]*model.Deployment),
	}
}

// CreateDeployment writes the initial record synchronously. The
// deployment is visible to GetDeployment before this returns.
func (r *Recorder) CreateDeployment(id, configID, accountName string, snapshot map[string]any) error {
	dep := &model.Deployment{
		ID:          id,
		ConfigID:    configID,
		AccountName: accountName,
		Snapshot:    snapshot,
		Status:      model.DeploymentStarted,
		StartTime:   time.Now(),
		Steps:       []model.StepRecord{},
	}
	if err := r.persist(dep); err != nil {
		return err
	}
	r.mu.Lock()
	r.latest[id] = dep
	r.mu.Unlock()
	return nil
}

// SetChangeSet stamps the change set id once one has been opened, so a
// failure result can always point at the unit it got as far as creating.
func (r *Recorder) SetChangeSet(id, changeSetID string) error {
	return r.mutate(id, false, func(dep *model.Deployment) {
		dep.ChangeSetID = changeSetID
	})
}

// StepStarted appends the step's in_progress record and moves
// currentStep. Exactly one call per attempted pipeline step.
func (r *Recorder) StepStarted(id, step, message string) error {
	return r.mutate(id, true, func(dep *model.Deployment) {
		dep.Steps = append(dep.Steps, model.StepRecord{
			Step:      step,
			Status:    model.StepInProgress,
			Message:   message,
			Timestamp: time.Now(),
		})
		dep.CurrentStep = step
	})
}

// StepFinished transitions the step's in_progress record to its terminal
// status in place, keeping one record per attempted step. A failed step
// fails the deployment; completing the final step completes it. Both
// stamp endTime.
func (r *Recorder) StepFinished(id, step string, status model.StepStatus, message string, details map[string]any) error {
	return r.mutate(id, true, func(dep *model.Deployment) {
		rec := model.StepRecord{
			Step:      step,
			Status:    status,
			Message:   message,
			Timestamp: time.Now(),
			Details:   details,
		}
		if n := len(dep.Steps); n > 0 && dep.Steps[n-1].Step == step && dep.Steps[n-1].Status == model.StepInProgress {
			dep.Steps[n-1] = rec
		} else {
			dep.Steps = append(dep.Steps, rec)
		}
		dep.CurrentStep = step

		now := time.Now()
		switch {
		case status == model.StepFailed:
			dep.Status = model.DeploymentFailed
			dep.Error = message
			dep.EndTime = &now
		case status == model.StepCompleted && step == model.StepComplete:
			dep.Status = model.DeploymentCompleted
			dep.EndTime = &now
		}
	})
}

// GetDeployment returns a copy of the deployment's current state.
// Read-your-writes holds for the instance that made the append: the
// in-memory snapshot is updated under the same lock as the durable
// write, and bolt covers restarts and historical reads.
func (r *Recorder) GetDeployment(id string) (*model.Deployment, error) {
	r.mu.RLock()
	dep, ok := r.latest[id]
	if ok {
		cp := copyDeployment(dep)
		r.mu.RUnlock()
		return cp, nil
	}
	r.mu.RUnlock()

	return r.load(id)
}

// ListDeployments reads the full history from bolt.
func (r *Recorder) ListDeployments() ([]model.Deployment, error) {
	deps := []model.Deployment{}
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(store.DeploymentsBucket)).ForEach(func(k, v []byte) error {
			var dep model.Deployment
			if err := json.Unmarshal(v, &dep); err != nil {
				return err
			}
			deps = append(deps, dep)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return deps, nil
}

func (r *Recorder) mutate(id string, notify bool, fn func(dep *model.Deployment)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dep, ok := r.latest[id]
	if !ok {
		loaded, err := r.load(id)
		if err != nil {
			return err
		}
		dep = loaded
		r.latest[id] = dep
	}

	fn(dep)
	if err := r.persist(dep); err != nil {
		return err
	}

	if notify && r.OnStep != nil && len(dep.Steps) > 0 {
		last := dep.Steps[len(dep.Steps)-1]
		r.OnStep(model.StepEvent{
			DeploymentID: dep.ID,
			Step:         last.Step,
			Status:       last.Status,
			Message:      last.Message,
			Timestamp:    last.Timestamp,
		})
	}
	return nil
}

func (r *Recorder) persist(dep *model.Deployment) error {
	data, err := json.Marshal(dep)
	if err != nil {
		return fmt.Errorf("marshal deployment %s: %w", dep.ID, err)
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(store.DeploymentsBucket)).Put([]byte(dep.ID), data)
	})
}

func (r *Recorder) load(id string) (*model.Deployment, error) {
	var dep model.Deployment
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(store.DeploymentsBucket)).Get([]byte(id))
		if v == nil {
			return &model.NotFoundError{Kind: "deployment", ID: id}
		}
		return json.Unmarshal(v, &dep)
	})
	if err != nil {
		return nil, err
	}
	return &dep, nil
}

func copyDeployment(dep *model.Deployment) *model.Deployment {
	cp := *dep
	cp.Steps = make([]model.StepRecord, len(dep.Steps))
	copy(cp.Steps, dep.Steps)
	return &cp
}
