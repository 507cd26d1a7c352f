// Package controlplane talks to the infrastructure control plane: change
// sets, components, actions. The control plane executes side effects
// asynchronously after a change set commits, so nothing here assumes a
// commit's return means the work is done — callers that depend on
// post-commit state poll for it explicitly.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/systeminit/pluto/pkg/model"
)

// HeadChangeSet queries the current merged state instead of an open
// change set. Derived payloads only populate on merged state.
const HeadChangeSet = "head"

type ActionState string

const (
	ActionPending ActionState = "pending"
	ActionRunning ActionState = "running"
	ActionSuccess ActionState = "success"
	ActionFailed  ActionState = "failed"
	ActionOnHold  ActionState = "on_hold"
)

// Action is an asynchronous unit of execution the control plane runs
// against a component after commit. We only ever observe these.
type Action struct {
	ID          string      `json:"id"`
	Kind        string      `json:"kind"`
	ComponentID string      `json:"component_id"`
	State       ActionState `json:"state"`
}

// InFlight reports whether the action still has work ahead of it.
func (a Action) InFlight() bool {
	return a.State == ActionPending || a.State == ActionRunning
}

// Component is a managed resource definition plus whatever runtime state
// the control plane has resolved for it so far. Payload stays nil until
// the component's action has executed on merged state.
type Component struct {
	ID           string         `json:"id"`
	SchemaName   string         `json:"schema_name"`
	Attributes   map[string]any `json:"attributes"`
	Payload      map[string]any `json:"payload,omitempty"`
	DerivedProps []string       `json:"derived_props,omitempty"`
}

// Reference is a cross-component attribute value resolved by the control
// plane after commit. An attribute holding one is not locally computable
// and must never be read before the target's action converges.
type Reference struct {
	ComponentID string `json:"component"`
	Path        string `json:"path"`
}

// Ref wraps a Reference in the attribute encoding the control plane
// expects.
func Ref(componentID, path string) map[string]any {
	return map[string]any{"$ref": Reference{ComponentID: componentID, Path: path}}
}

type Client struct {
	BaseURL string
	Token   string

	HTTPClient *http.Client

	// Commit retries on the precondition signal at this interval until
	// fewer than one interval remains in the caller's budget.
	CommitRetryInterval time.Duration
	// Post-commit action drain cadence and bound. Drain timeout is soft.
	DrainInterval time.Duration
	DrainTimeout  time.Duration

	logger *zap.Logger
}

func New(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		BaseURL:             baseURL,
		Token:               token,
		HTTPClient:          &http.Client{Timeout: 30 * time.Second},
		CommitRetryInterval: 5 * time.Second,
		DrainInterval:       2 * time.Second,
		DrainTimeout:        60 * time.Second,
		logger:              logger,
	}
}

// do issues one JSON request and decodes a 2xx body into out (if out is
// non-nil). Non-2xx statuses come back as (*status, body) so callers can
// special-case the precondition signal; transport failures are wrapped
// as UpstreamError.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%s: encode request: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return 0, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, &model.UpstreamError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &model.UpstreamError{Op: op, StatusCode: resp.StatusCode, Message: string(msg)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return resp.StatusCode, nil
}
