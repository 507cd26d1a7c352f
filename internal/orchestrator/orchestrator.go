// Package orchestrator runs the tenant provisioning pipeline: open a
// change set, create the tenant's components, commit, wait for the
// control plane to converge, harvest the derived secret and account id,
// persist them, and kick off the downstream template run. Every run
// leaves a durable, append-only step trail behind it.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/systeminit/pluto/internal/controlplane"
	"github.com/systeminit/pluto/internal/metrics"
	"github.com/systeminit/pluto/internal/progress"
	"github.com/systeminit/pluto/internal/runner"
	"github.com/systeminit/pluto/internal/store"
	"github.com/systeminit/pluto/pkg/model"
)

type Options struct {
	// CommitTimeout bounds the precondition retry budget of the commit
	// step.
	CommitTimeout time.Duration
	// ExtractInterval/ExtractTimeout drive the derived-value polls.
	// Extraction timeouts are hard: later steps need the values.
	ExtractInterval time.Duration
	ExtractTimeout  time.Duration
	// OverallTimeout is the only bound on an indefinitely stuck
	// external dependency; a run never outlives it.
	OverallTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.CommitTimeout == 0 {
		o.CommitTimeout = 2 * time.Minute
	}
	if o.ExtractInterval == 0 {
		o.ExtractInterval = 2 * time.Second
	}
	if o.ExtractTimeout == 0 {
		o.ExtractTimeout = 5 * time.Minute
	}
	if o.OverallTimeout == 0 {
		o.OverallTimeout = 15 * time.Minute
	}
}

type Orchestrator struct {
	cp     *controlplane.Client
	store  *store.Store
	rec    *progress.Recorder
	runner runner.Runner
	logger *zap.Logger
	opts   Options

	// rootCtx parents every pipeline run; deployments survive the HTTP
	// request that started them but not the process.
	rootCtx context.Context
}

func New(rootCtx context.Context, cp *controlplane.Client, st *store.Store, rec *progress.Recorder, run runner.Runner, logger *zap.Logger, opts Options) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		cp:      cp,
		store:   st,
		rec:     rec,
		runner:  run,
		logger:  logger,
		opts:    opts,
		rootCtx: rootCtx,
	}
}

var accountNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,62}$`)

// StartDeployment validates its inputs synchronously, creates the
// durable deployment record, and returns as soon as the pipeline is
// running in the background. Concurrent deployments are independent;
// uniqueness of accountName is the caller's problem.
func (o *Orchestrator) StartDeployment(ctx context.Context, configID, accountName string) (string, error) {
	if configID == "" {
		return "", &model.ValidationError{Field: "config_id", Reason: "must not be empty"}
	}
	if accountName == "" {
		return "", &model.ValidationError{Field: "account_name", Reason: "must not be empty"}
	}
	if !accountNameRe.MatchString(accountName) {
		return "", &model.ValidationError{Field: "account_name", Reason: "must be 1-63 characters of [a-zA-Z0-9._-], starting alphanumeric"}
	}

	id := uuid.NewString()
	snapshot := map[string]any{
		"config_id":    configID,
		"account_name": accountName,
	}
	if err := o.rec.CreateDeployment(id, configID, accountName, snapshot); err != nil {
		return "", fmt.Errorf("create deployment record: %w", err)
	}

	o.logger.Info("deployment started",
		zap.String("deployment_id", id),
		zap.String("config_id", configID),
		zap.String("account_name", accountName))

	go o.runPipeline(id, configID, accountName)
	return id, nil
}

// GetProgress returns the deployment's progress view: done yet, outcome,
// and the full ordered step log so far.
func (o *Orchestrator) GetProgress(id string) (*model.Progress, error) {
	dep, err := o.rec.GetDeployment(id)
	if err != nil {
		return nil, err
	}
	return &model.Progress{
		DeploymentID: dep.ID,
		Completed:    dep.Status != model.DeploymentStarted,
		Success:      dep.Status == model.DeploymentCompleted,
		Error:        dep.Error,
		ChangeSetID:  dep.ChangeSetID,
		Steps:        dep.Steps,
	}, nil
}

func (o *Orchestrator) runPipeline(id, configID, accountName string) {
	ctx, cancel := context.WithTimeout(o.rootCtx, o.opts.OverallTimeout)
	defer cancel()

	metrics.DeploymentStarted()

	tracer := otel.Tracer("pluto/orchestrator")
	ctx, span := tracer.Start(ctx, "ProvisionTenant")
	span.SetAttributes(
		attribute.String("pluto.deployment_id", id),
		attribute.String("pluto.config_id", configID),
		attribute.String("pluto.account_name", accountName),
	)
	defer span.End()

	p := &pipelineRun{
		o:           o,
		id:          id,
		configID:    configID,
		accountName: accountName,
		machine:     newPipelineFSM(),
	}

	// A panic anywhere in a step must still land the deployment on a
	// terminal status.
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("pipeline panicked",
				zap.String("deployment_id", id),
				zap.Any("panic", r))
			step := p.current
			if step == "" {
				step = model.StepInitialize
			}
			_ = o.rec.StepFinished(id, step, model.StepFailed, "internal error", nil)
			metrics.DeploymentFinished(string(model.DeploymentFailed))
		}
	}()

	status := p.execute(ctx)
	metrics.DeploymentFinished(string(status))
}
