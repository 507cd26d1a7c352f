package controlplane

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/systeminit/pluto/internal/poll"
	"github.com/systeminit/pluto/pkg/model"
)

// CommitResult reports the soft outcomes of a commit. Both flags let the
// pipeline proceed; they only downgrade the step message to a warning.
type CommitResult struct {
	// PreconditionUnconfirmed: the precondition signal never cleared
	// within the budget and the final attempt was made regardless.
	PreconditionUnconfirmed bool
	// DrainTimedOut: monitored actions were still in flight when the
	// drain window closed.
	DrainTimedOut bool
}

// OpenChangeSet opens a new change set. A duplicate or invalid name is
// rejected by the control plane and surfaces as UpstreamError.
func (c *Client) OpenChangeSet(ctx context.Context, name string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	_, err := c.do(ctx, "open change set", http.MethodPost, "/v1/change-sets",
		map[string]string{"name": name}, &resp)
	if err != nil {
		return "", err
	}
	c.logger.Info("change set opened", zap.String("change_set_id", resp.ID), zap.String("name", name))
	return resp.ID, nil
}

// Commit commits a change set. The precondition signal (HTTP 428,
// outstanding dependent-value computations) is retried every
// CommitRetryInterval until fewer than one interval remains in timeout,
// at which point the attempt just made counts as the final one and the
// commit proceeds on a best-effort basis. Any other failure is hard.
//
// After the commit call, if monitored is non-empty, the merge status
// view is polled until no in-flight action references a monitored
// component id. That wait is bounded by DrainTimeout and soft.
func (c *Client) Commit(ctx context.Context, changeSetID string, monitored []string, timeout time.Duration) (CommitResult, error) {
	var res CommitResult
	deadline := time.Now().Add(timeout)

	for {
		status, err := c.do(ctx, "commit change set", http.MethodPost,
			"/v1/change-sets/"+changeSetID+"/commit", nil, nil)
		if err == nil {
			break
		}
		if status != http.StatusPreconditionRequired {
			return res, err
		}

		remaining := time.Until(deadline)
		if remaining <= c.CommitRetryInterval {
			c.logger.Warn("commit precondition never cleared, proceeding anyway",
				zap.String("change_set_id", changeSetID))
			res.PreconditionUnconfirmed = true
			break
		}
		c.logger.Info("commit precondition not met, retrying",
			zap.String("change_set_id", changeSetID),
			zap.Duration("remaining", remaining))
		if err := sleep(ctx, c.CommitRetryInterval); err != nil {
			return res, err
		}
	}

	if len(monitored) == 0 {
		return res, nil
	}

	watch := map[string]bool{}
	for _, id := range monitored {
		watch[id] = true
	}
	_, err := poll.Until(ctx, "drain change set actions", func(ctx context.Context) (struct{}, bool, error) {
		actions, err := c.MergeStatus(ctx, changeSetID)
		if err != nil {
			return struct{}{}, false, err
		}
		for _, a := range actions {
			if a.InFlight() && watch[a.ComponentID] {
				return struct{}{}, false, nil
			}
		}
		return struct{}{}, true, nil
	}, c.DrainInterval, c.DrainTimeout)
	if err != nil {
		var te *model.TimeoutError
		if errors.As(err, &te) {
			c.logger.Warn("actions still in flight after drain window",
				zap.String("change_set_id", changeSetID),
				zap.Duration("elapsed", te.Elapsed))
			res.DrainTimedOut = true
			return res, nil
		}
		return res, err
	}
	return res, nil
}

// MergeStatus lists the change set's actions as the control plane
// currently sees them.
func (c *Client) MergeStatus(ctx context.Context, changeSetID string) ([]Action, error) {
	var resp struct {
		Actions []Action `json:"actions"`
	}
	_, err := c.do(ctx, "merge status", http.MethodGet,
		"/v1/change-sets/"+changeSetID+"/merge-status", nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Actions, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
