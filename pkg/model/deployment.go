package model

import "time"

type DeploymentStatus string

const (
	DeploymentStarted   DeploymentStatus = "started"
	DeploymentCompleted DeploymentStatus = "completed"
	DeploymentFailed    DeploymentStatus = "failed"
)

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// Pipeline step names, in execution order. The orchestrator walks this
// list front to back; "failed" is reachable from any of them.
const (
	StepInitialize              = "initialize"
	StepOpenChangeSet           = "open_change_set"
	StepCreateTenantAccount     = "create_tenant_account"
	StepCreateAccessCredential  = "create_access_credential"
	StepCommitChangeSet         = "commit_change_set"
	StepExtractCredentialSecret = "extract_credential_secret"
	StepExtractAccountID        = "extract_account_id"
	StepPersistOutputs          = "persist_outputs"
	StepTriggerInfra            = "trigger_infra"
	StepComplete                = "complete"

	StateFailed = "failed"
)

// PipelineSteps is the canonical step order for a tenant provisioning run.
var PipelineSteps = []string{
	StepInitialize,
	StepOpenChangeSet,
	StepCreateTenantAccount,
	StepCreateAccessCredential,
	StepCommitChangeSet,
	StepExtractCredentialSecret,
	StepExtractAccountID,
	StepPersistOutputs,
	StepTriggerInfra,
	StepComplete,
}

// StepRecord is one entry in a deployment's audit log. Records are
// append-only across steps; a step's own record transitions from
// in_progress to its terminal status in place.
type StepRecord struct {
	Step      string         `json:"step"`
	Status    StepStatus     `json:"status"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Deployment is the durable record of one provisioning run. It is owned
// by the orchestrator instance that created it and only ever mutated by
// appending step records or stamping the terminal fields.
type Deployment struct {
	ID          string           `json:"id"`
	ConfigID    string           `json:"config_id"`
	AccountName string           `json:"account_name"`
	Snapshot    map[string]any   `json:"snapshot,omitempty"`
	ChangeSetID string           `json:"change_set_id,omitempty"`
	Status      DeploymentStatus `json:"status"`
	CurrentStep string           `json:"current_step"`
	StartTime   time.Time        `json:"start_time"`
	EndTime     *time.Time       `json:"end_time,omitempty"`
	Error       string           `json:"error,omitempty"`
	Steps       []StepRecord     `json:"steps"`
}

// Progress is the cheap read-path view served while a pipeline runs.
type Progress struct {
	DeploymentID string       `json:"deployment_id"`
	Completed    bool         `json:"completed"`
	Success      bool         `json:"success"`
	Error        string       `json:"error,omitempty"`
	ChangeSetID  string       `json:"change_set_id,omitempty"`
	Steps        []StepRecord `json:"steps"`
}

// ProvisioningConfig is a stored config record describing how to
// provision one flavor of tenant.
type ProvisioningConfig struct {
	ID               string `json:"id" yaml:"id"`
	AccountSchema    string `json:"account_schema" yaml:"account_schema"`
	CredentialSchema string `json:"credential_schema" yaml:"credential_schema"`
	Region           string `json:"region" yaml:"region"`
	TemplateRef      string `json:"template_ref" yaml:"template_ref"`
	InputRef         string `json:"input_ref" yaml:"input_ref"`
}

// StepEvent is the wire shape published to the events broker on every
// step transition.
type StepEvent struct {
	DeploymentID string     `json:"deployment_id"`
	Step         string     `json:"step"`
	Status       StepStatus `json:"status"`
	Message      string     `json:"message,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}
