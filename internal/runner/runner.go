// Package runner is the downstream infrastructure collaborator: once a
// tenant's resources exist, a template run builds the infrastructure
// inside them. Credentials are scoped per call and passed explicitly —
// never smuggled through process-wide environment state.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/systeminit/pluto/pkg/model"
)

// CredentialScope is the credential material one template run executes
// under. It travels with the call and dies with it.
type CredentialScope struct {
	TenantKey string `json:"tenant_key"`
	AccountID string `json:"account_id"`
	Secret    string `json:"secret"`
	Region    string `json:"region,omitempty"`
}

type RunInput struct {
	Key         string          `json:"key"`
	InputRef    string          `json:"input_ref"`
	Credentials CredentialScope `json:"credentials"`
}

type Runner interface {
	Run(ctx context.Context, templateRef string, in RunInput) error
}

// HTTPRunner posts runs to a remote template-runner service.
type HTTPRunner struct {
	BaseURL    string
	HTTPClient *http.Client
	logger     *zap.Logger
}

func NewHTTP(baseURL string, logger *zap.Logger) *HTTPRunner {
	return &HTTPRunner{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
	}
}

func (r *HTTPRunner) Run(ctx context.Context, templateRef string, in RunInput) error {
	body, err := json.Marshal(struct {
		TemplateRef string `json:"template_ref"`
		RunInput
	}{TemplateRef: templateRef, RunInput: in})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/v1/runs", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return &model.UpstreamError{Op: "template run", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &model.UpstreamError{Op: "template run", StatusCode: resp.StatusCode, Message: string(msg)}
	}
	r.logger.Info("template run accepted",
		zap.String("template_ref", templateRef),
		zap.String("key", in.Key))
	return nil
}

// Nop stands in when no runner endpoint is configured. It logs and
// succeeds so a bare install can still complete deployments.
type Nop struct {
	Logger *zap.Logger
}

func (n Nop) Run(ctx context.Context, templateRef string, in RunInput) error {
	n.Logger.Warn("no template runner configured, skipping run",
		zap.String("template_ref", templateRef),
		zap.String("key", in.Key))
	return nil
}
