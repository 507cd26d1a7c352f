package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/systeminit/pluto/internal/controlplane"
	"github.com/systeminit/pluto/internal/metrics"
	"github.com/systeminit/pluto/internal/runner"
	"github.com/systeminit/pluto/pkg/model"
)

// Candidate payload locations for the values harvested after
// convergence. Control-plane versions disagree on where these land, so
// each is an ordered list and the first hit wins.
var (
	credentialSecretPaths = []string{
		"secret/credential",
		"resource_value/secretString",
		"payload/secret",
	}
	accountIDPaths = []string{
		"resource_value/AccountId",
		"payload/accountId",
	}
)

// Action kinds held on the credential component before commit, so the
// credential does not refresh until the account it references exists.
var credentialHoldKinds = []string{"refresh"}

const eventFail = "fail"

// newPipelineFSM builds the strict-order machine over the pipeline
// steps: one advance event per transition plus a fail event reachable
// from every non-terminal state.
func newPipelineFSM() *fsm.FSM {
	var transitions []fsm.EventDesc
	for i := 1; i < len(model.PipelineSteps); i++ {
		transitions = append(transitions, fsm.EventDesc{
			Name: "to_" + model.PipelineSteps[i],
			Src:  []string{model.PipelineSteps[i-1]},
			Dst:  model.PipelineSteps[i],
		})
	}
	transitions = append(transitions, fsm.EventDesc{
		Name: eventFail,
		Src:  model.PipelineSteps,
		Dst:  model.StateFailed,
	})
	return fsm.NewFSM(model.PipelineSteps[0], transitions, fsm.Callbacks{})
}

// pipelineRun is the mutable state of one provisioning run. Each handler
// performs one external effect (or a small cohesive group) and reports a
// message plus optional structured details for the step record.
type pipelineRun struct {
	o           *Orchestrator
	id          string
	configID    string
	accountName string
	machine     *fsm.FSM
	current     string

	cfg                   *model.ProvisioningConfig
	changeSetID           string
	accountComponentID    string
	credentialComponentID string
	accountID             string
	secret                string
}

// stepResult carries a handler's outcome into the step record. Warning
// marks a soft timeout or best-effort miss: the step completes, but the
// message says what could not be confirmed.
type stepResult struct {
	message string
	details map[string]any
}

type stepHandler func(ctx context.Context) (stepResult, error)

// execute walks the pipeline in order, recording exactly one in_progress
// and one terminal transition per step. The first hard error halts
// everything; no compensation is attempted for resources already
// created.
func (p *pipelineRun) execute(ctx context.Context) model.DeploymentStatus {
	handlers := map[string]stepHandler{
		model.StepInitialize:              p.initialize,
		model.StepOpenChangeSet:           p.openChangeSet,
		model.StepCreateTenantAccount:     p.createTenantAccount,
		model.StepCreateAccessCredential:  p.createAccessCredential,
		model.StepCommitChangeSet:         p.commitChangeSet,
		model.StepExtractCredentialSecret: p.extractCredentialSecret,
		model.StepExtractAccountID:        p.extractAccountID,
		model.StepPersistOutputs:          p.persistOutputs,
		model.StepTriggerInfra:            p.triggerInfra,
		model.StepComplete:                p.complete,
	}

	for i, step := range model.PipelineSteps {
		if p.machine.Current() != step {
			p.fail(ctx, step, fmt.Errorf("pipeline out of order: at %q, expected %q", p.machine.Current(), step))
			return model.DeploymentFailed
		}
		p.current = step

		if err := p.o.rec.StepStarted(p.id, step, "step started"); err != nil {
			p.o.logger.Error("failed to record step start",
				zap.String("deployment_id", p.id), zap.String("step", step), zap.Error(err))
			return model.DeploymentFailed
		}

		begin := time.Now()
		res, err := handlers[step](ctx)
		metrics.ObserveStep(step, time.Since(begin).Seconds())
		if err != nil {
			p.fail(ctx, step, err)
			return model.DeploymentFailed
		}

		if err := p.o.rec.StepFinished(p.id, step, model.StepCompleted, res.message, res.details); err != nil {
			p.o.logger.Error("failed to record step completion",
				zap.String("deployment_id", p.id), zap.String("step", step), zap.Error(err))
			return model.DeploymentFailed
		}

		if i+1 < len(model.PipelineSteps) {
			if err := p.machine.Event(ctx, "to_"+model.PipelineSteps[i+1]); err != nil {
				p.fail(ctx, model.PipelineSteps[i+1], err)
				return model.DeploymentFailed
			}
		}
	}

	p.o.logger.Info("deployment completed",
		zap.String("deployment_id", p.id),
		zap.String("account_name", p.accountName),
		zap.String("change_set_id", p.changeSetID))
	return model.DeploymentCompleted
}

// fail halts the pipeline: the triggering error is surfaced verbatim on
// the step record, the deployment goes terminal, and the change set id
// plus partial log stay on the record for the caller.
func (p *pipelineRun) fail(ctx context.Context, step string, err error) {
	p.o.logger.Error("deployment step failed",
		zap.String("deployment_id", p.id),
		zap.String("step", step),
		zap.Error(err))
	if recErr := p.o.rec.StepFinished(p.id, step, model.StepFailed, err.Error(), nil); recErr != nil {
		p.o.logger.Error("failed to record step failure",
			zap.String("deployment_id", p.id), zap.Error(recErr))
	}
	if p.machine.Current() != model.StateFailed {
		_ = p.machine.Event(ctx, eventFail)
	}
}

func (p *pipelineRun) initialize(ctx context.Context) (stepResult, error) {
	cfg, err := p.o.store.GetConfig(p.configID)
	if err != nil {
		return stepResult{}, fmt.Errorf("load provisioning config: %w", err)
	}
	if cfg.AccountSchema == "" || cfg.CredentialSchema == "" {
		return stepResult{}, &model.ValidationError{Field: "provisioning config", Reason: "account and credential schemas are required"}
	}
	p.cfg = cfg
	return stepResult{
		message: "provisioning config loaded",
		details: map[string]any{"config_id": cfg.ID},
	}, nil
}

func (p *pipelineRun) openChangeSet(ctx context.Context) (stepResult, error) {
	name := fmt.Sprintf("provision-%s-%s", p.accountName, p.id[:8])
	csID, err := p.o.cp.OpenChangeSet(ctx, name)
	if err != nil {
		return stepResult{}, err
	}
	p.changeSetID = csID
	if err := p.o.rec.SetChangeSet(p.id, csID); err != nil {
		return stepResult{}, err
	}
	return stepResult{
		message: "change set opened",
		details: map[string]any{"change_set_id": csID},
	}, nil
}

func (p *pipelineRun) createTenantAccount(ctx context.Context) (stepResult, error) {
	attrs := map[string]any{
		"domain/Name":   p.accountName,
		"domain/Region": p.cfg.Region,
	}
	compID, err := p.o.cp.CreateComponent(ctx, p.changeSetID, p.cfg.AccountSchema, p.accountName, attrs)
	if err != nil {
		return stepResult{}, err
	}
	p.accountComponentID = compID
	return stepResult{
		message: "tenant account component created",
		details: map[string]any{"component_id": compID},
	}, nil
}

func (p *pipelineRun) createAccessCredential(ctx context.Context) (stepResult, error) {
	// The account id only exists after the account's action runs, so the
	// credential carries a reference the control plane resolves
	// post-commit. Reading it locally before convergence is never valid.
	attrs := map[string]any{
		"domain/UserName":  p.accountName + "-provisioner",
		"domain/AccountId": controlplane.Ref(p.accountComponentID, accountIDPaths[0]),
	}
	compID, err := p.o.cp.CreateComponent(ctx, p.changeSetID, p.cfg.CredentialSchema, p.accountName+"-credential", attrs)
	if err != nil {
		return stepResult{}, err
	}
	p.credentialComponentID = compID

	msg := "access credential component created"
	if err := p.o.cp.SuspendPendingActions(ctx, p.changeSetID, compID, credentialHoldKinds); err != nil {
		// Best-effort: the hold failing only means the credential may
		// refresh once before the account lands.
		p.o.logger.Warn("could not hold credential actions",
			zap.String("deployment_id", p.id), zap.Error(err))
		msg += " (warning: could not hold pending actions)"
	}
	return stepResult{
		message: msg,
		details: map[string]any{"component_id": compID},
	}, nil
}

func (p *pipelineRun) commitChangeSet(ctx context.Context) (stepResult, error) {
	monitored := []string{p.accountComponentID, p.credentialComponentID}
	res, err := p.o.cp.Commit(ctx, p.changeSetID, monitored, p.o.opts.CommitTimeout)
	if err != nil {
		return stepResult{}, err
	}

	msg := "change set committed"
	switch {
	case res.PreconditionUnconfirmed && res.DrainTimedOut:
		msg += " (warning: precondition unconfirmed; actions may still be in flight)"
	case res.PreconditionUnconfirmed:
		msg += " (warning: precondition unconfirmed at commit time)"
	case res.DrainTimedOut:
		msg += " (warning: actions may still be in flight)"
	}
	return stepResult{message: msg}, nil
}

func (p *pipelineRun) extractCredentialSecret(ctx context.Context) (stepResult, error) {
	secret, err := p.o.cp.ExtractWithPolling(ctx, controlplane.HeadChangeSet,
		p.credentialComponentID, credentialSecretPaths,
		p.o.opts.ExtractInterval, p.o.opts.ExtractTimeout)
	if err != nil {
		return stepResult{}, fmt.Errorf("credential secret never appeared: %w", err)
	}
	p.secret = secret
	return stepResult{message: "credential secret extracted"}, nil
}

func (p *pipelineRun) extractAccountID(ctx context.Context) (stepResult, error) {
	accountID, err := p.o.cp.ExtractWithPolling(ctx, controlplane.HeadChangeSet,
		p.accountComponentID, accountIDPaths,
		p.o.opts.ExtractInterval, p.o.opts.ExtractTimeout)
	if err != nil {
		return stepResult{}, fmt.Errorf("account id never appeared: %w", err)
	}
	p.accountID = accountID
	return stepResult{
		message: "account id extracted",
		details: map[string]any{"account_id": accountID},
	}, nil
}

func (p *pipelineRun) persistOutputs(ctx context.Context) (stepResult, error) {
	if err := p.o.store.PutSecret(p.accountName, p.secret); err != nil {
		return stepResult{}, fmt.Errorf("persist tenant secret: %w", err)
	}
	return stepResult{
		message: "derived values persisted",
		details: map[string]any{"account_id": p.accountID, "tenant_key": p.accountName},
	}, nil
}

func (p *pipelineRun) triggerInfra(ctx context.Context) (stepResult, error) {
	if p.cfg.TemplateRef == "" {
		return stepResult{message: "no template configured, skipping infrastructure run"}, nil
	}

	in := runner.RunInput{
		Key:      p.accountName,
		InputRef: p.cfg.InputRef,
		Credentials: runner.CredentialScope{
			TenantKey: p.accountName,
			AccountID: p.accountID,
			Secret:    p.secret,
			Region:    p.cfg.Region,
		},
	}
	if err := p.o.runner.Run(ctx, p.cfg.TemplateRef, in); err != nil {
		// The tenant's resources already exist; a failed template run is
		// recorded but does not fail the deployment.
		p.o.logger.Warn("template run failed",
			zap.String("deployment_id", p.id),
			zap.String("template_ref", p.cfg.TemplateRef),
			zap.Error(err))
		return stepResult{
			message: fmt.Sprintf("warning: template run failed: %v", err),
		}, nil
	}
	return stepResult{
		message: "infrastructure template run triggered",
		details: map[string]any{"template_ref": p.cfg.TemplateRef},
	}, nil
}

func (p *pipelineRun) complete(ctx context.Context) (stepResult, error) {
	return stepResult{message: "tenant provisioned"}, nil
}
