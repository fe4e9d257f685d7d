package models

import "time"

// WorkflowKind discriminates the durable workflows run by pkg/workflow.
type WorkflowKind string

const (
	WorkflowKindDocumentExtraction WorkflowKind = "document-extraction"
	WorkflowKindChunkingIndexing   WorkflowKind = "chunking-indexing"
	WorkflowKindAgentQA            WorkflowKind = "agent-qa"
	WorkflowKindWorkflowExecution  WorkflowKind = "workflow-execution"
)

// WorkflowStatus is the lifecycle state of a durable workflow run.
type WorkflowStatus string

const (
	WorkflowStatusRunning   WorkflowStatus = "RUNNING"
	WorkflowStatusCompleted WorkflowStatus = "COMPLETED"
	WorkflowStatusFailed    WorkflowStatus = "FAILED"
)

// WorkflowRun is the persisted state of one durable workflow execution,
// keyed by its deterministic WorkflowID. A duplicate Start with the same id
// returns the existing run, whatever its status, instead of starting a new one
// (start policy USE_EXISTING, §6.4).
type WorkflowRun struct {
	ID              int64
	WorkflowID      string
	Kind            WorkflowKind
	Status          WorkflowStatus
	InputJSON       []byte
	ErrorMessage    *string
	TraceHeaders    map[string]string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastHeartbeatAt time.Time
}

// WorkflowActivityResult is one recorded, idempotent activity outcome
// within a workflow run, keyed by (workflow run id, activity name).
type WorkflowActivityResult struct {
	WorkflowRunID int64
	ActivityName  string
	OutputJSON    []byte
	ErrorMessage  *string
	CompletedAt   time.Time
}

// ExecutionManifest is the manifest format for workflow executions (§6.3).
type ExecutionManifest struct {
	ExecutionID   string                 `json:"execution_id"`
	OutputFiles   []ManifestFile         `json:"output_files"`
	ScratchFiles  []ManifestFile         `json:"scratch_files"`
	Metadata      ExecutionMetadata      `json:"metadata"`
}

// ManifestFile describes one file produced by a workflow execution.
type ManifestFile struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	Path         string `json:"path"`
	RelativePath string `json:"relative_path"`
}

// ExecutionMetadata is the free-form execution outcome summary in a
// manifest.
type ExecutionMetadata struct {
	Success    bool     `json:"success"`
	CostUSD    *float64 `json:"cost_usd,omitempty"`
	DurationMS *int64   `json:"duration_ms,omitempty"`
	Error      *string  `json:"error,omitempty"`
}

// WorkflowExecutionStatus is the lifecycle state of a workflow_execution row
// (§4.6.5).
type WorkflowExecutionStatus string

const (
	WorkflowExecutionStatusQueued    WorkflowExecutionStatus = "QUEUED"
	WorkflowExecutionStatusRunning   WorkflowExecutionStatus = "RUNNING"
	WorkflowExecutionStatusCompleted WorkflowExecutionStatus = "COMPLETED"
	WorkflowExecutionStatusFailed    WorkflowExecutionStatus = "FAILED"
)

// WorkflowExecution is one launched code/agent job run by the Workflow
// Execution Workflow, tracked from launch through manifest extraction.
type WorkflowExecution struct {
	ID            int64
	CompanyID     string
	Status        WorkflowExecutionStatus
	AgentJobID    *string
	OutputFiles   []ManifestFile
	TotalBytes    int64
	Metadata      ExecutionMetadata
	ErrorMessage  *string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}
