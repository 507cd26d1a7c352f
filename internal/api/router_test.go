package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/systeminit/pluto/internal/controlplane"
	"github.com/systeminit/pluto/internal/orchestrator"
	"github.com/systeminit/pluto/internal/progress"
	"github.com/systeminit/pluto/internal/runner"
	"github.com/systeminit/pluto/internal/store"
	"github.com/systeminit/pluto/pkg/model"
)

func newTestRouter(t *testing.T) (*gin.Engine, *store.Store, *progress.Recorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(filepath.Join(t.TempDir(), "pluto.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	rec := progress.NewRecorder(st.DB(), zap.NewNop())
	cp := controlplane.New("http://127.0.0.1:1", "", zap.NewNop())
	orc := orchestrator.New(context.Background(), cp, st, rec, runner.Nop{Logger: zap.NewNop()}, zap.NewNop(), orchestrator.Options{})

	return NewRouter(orc, st, rec, zap.NewNop()), st, rec
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", w.Code)
	}
}

func TestStartDeploymentAccepted(t *testing.T) {
	r, st, _ := newTestRouter(t)
	if err := st.PutConfig(model.ProvisioningConfig{
		ID: "cfg-1", AccountSchema: "A", CredentialSchema: "C",
	}); err != nil {
		t.Fatalf("put config: %v", err)
	}

	w := doJSON(t, r, http.MethodPost, "/api/v1/deployments",
		`{"config_id":"cfg-1","account_name":"acme"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		DeploymentID string `json:"deployment_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.DeploymentID == "" {
		t.Fatal("deployment_id missing from response")
	}

	// the id is immediately resolvable even though the pipeline runs async
	w = doJSON(t, r, http.MethodGet, "/api/v1/deployments/"+resp.DeploymentID+"/progress", "")
	if w.Code != http.StatusOK {
		t.Fatalf("progress lookup returned %d", w.Code)
	}
}

func TestStartDeploymentValidation(t *testing.T) {
	r, _, _ := newTestRouter(t)

	cases := []string{
		`{}`,
		`{"config_id":"cfg-1"}`,
		`{"account_name":"acme"}`,
		`{"config_id":"cfg-1","account_name":"bad name!"}`,
		`not json`,
	}
	for _, body := range cases {
		w := doJSON(t, r, http.MethodPost, "/api/v1/deployments", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status %d, want 400", body, w.Code)
		}
	}
}

func TestProgressNotFound(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/api/v1/deployments/nope/progress", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/api/v1/deployments/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", w.Code)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/configs",
		`{"id":"cfg-1","account_schema":"Tenant::Account","credential_schema":"Tenant::AccessCredential","region":"eu-central-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("put config: status %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/configs/cfg-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get config: status %d", w.Code)
	}
	var cfg model.ProvisioningConfig
	if err := json.Unmarshal(w.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.AccountSchema != "Tenant::Account" || cfg.Region != "eu-central-1" {
		t.Fatalf("config mangled: %+v", cfg)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/configs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list configs: status %d", w.Code)
	}
	var list struct {
		Configs []model.ProvisioningConfig `json:"configs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Configs) != 1 {
		t.Fatalf("got %d configs, want 1", len(list.Configs))
	}
}

func TestConfigValidation(t *testing.T) {
	r, _, _ := newTestRouter(t)

	cases := []string{
		`{"account_schema":"A","credential_schema":"C"}`,
		`{"id":"cfg-1","credential_schema":"C"}`,
		`{"id":"cfg-1","account_schema":"A"}`,
	}
	for _, body := range cases {
		w := doJSON(t, r, http.MethodPost, "/api/v1/configs", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status %d, want 400", body, w.Code)
		}
	}

	w := doJSON(t, r, http.MethodGet, "/api/v1/configs/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing config: status %d, want 404", w.Code)
	}
}

func TestListDeployments(t *testing.T) {
	r, _, rec := newTestRouter(t)

	if err := rec.CreateDeployment("dep-1", "cfg-1", "acme", nil); err != nil {
		t.Fatalf("create deployment: %v", err)
	}
	rec.StepStarted("dep-1", model.StepInitialize, "")
	rec.StepFinished("dep-1", model.StepInitialize, model.StepCompleted, "", nil)

	w := doJSON(t, r, http.MethodGet, "/api/v1/deployments", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var list struct {
		Deployments []model.Deployment `json:"deployments"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Deployments) != 1 || list.Deployments[0].ID != "dep-1" {
		t.Fatalf("unexpected listing: %+v", list.Deployments)
	}
	if len(list.Deployments[0].Steps) != 1 {
		t.Fatalf("step log not included in listing")
	}
}

func TestCORSPreflight(t *testing.T) {
	r, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/deployments", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("CORS header missing")
	}
}
