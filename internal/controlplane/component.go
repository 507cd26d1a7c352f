package controlplane

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/systeminit/pluto/pkg/model"
)

// CreateComponent creates a component inside an open change set.
// Attribute values may be literals or Ref(...) cross-component
// references; references resolve after commit, not here.
func (c *Client) CreateComponent(ctx context.Context, changeSetID, schemaName, name string, attributes map[string]any) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	_, err := c.do(ctx, "create component", http.MethodPost,
		"/v1/change-sets/"+changeSetID+"/components",
		map[string]any{
			"schema_name": schemaName,
			"name":        name,
			"attributes":  attributes,
		}, &resp)
	if err != nil {
		return "", err
	}
	c.logger.Info("component created",
		zap.String("component_id", resp.ID),
		zap.String("schema", schemaName),
		zap.String("name", name))
	return resp.ID, nil
}

// GetComponent reads a component from an open change set, or from the
// current merged state when changeSetID is HeadChangeSet. A 404 is a
// NotFoundError: the component itself is missing, which is never the
// same thing as its payload not having populated yet.
func (c *Client) GetComponent(ctx context.Context, changeSetID, componentID string) (*Component, error) {
	var comp Component
	status, err := c.do(ctx, "get component", http.MethodGet,
		"/v1/change-sets/"+changeSetID+"/components/"+componentID, nil, &comp)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, &model.NotFoundError{Kind: "component", ID: componentID}
		}
		return nil, err
	}
	return &comp, nil
}

// SuspendPendingActions asks the control plane to place the component's
// pending actions of the given kinds on hold, so a dependent component
// can be created and committed first without triggering them this cycle.
// Strictly best-effort: every failure is reported to the caller, which
// logs and moves on.
func (c *Client) SuspendPendingActions(ctx context.Context, changeSetID, componentID string, kinds []string) error {
	actions, err := c.MergeStatus(ctx, changeSetID)
	if err != nil {
		return err
	}

	want := map[string]bool{}
	for _, k := range kinds {
		want[k] = true
	}

	for _, a := range actions {
		if a.ComponentID != componentID || a.State != ActionPending || !want[a.Kind] {
			continue
		}
		_, err := c.do(ctx, "hold action", http.MethodPost,
			"/v1/change-sets/"+changeSetID+"/actions/"+a.ID+"/hold", nil, nil)
		if err != nil {
			return err
		}
		c.logger.Info("action placed on hold",
			zap.String("action_id", a.ID),
			zap.String("kind", a.Kind),
			zap.String("component_id", componentID))
	}
	return nil
}
