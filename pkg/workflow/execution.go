package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matrixqa/engine/pkg/models"
)

// AgentJobStatus is the external status of a launched code/agent job, as
// reported by the agent runtime the workflow polls.
type AgentJobStatus string

const (
	AgentJobStatusRunning   AgentJobStatus = "RUNNING"
	AgentJobStatusSucceeded AgentJobStatus = "SUCCEEDED"
	AgentJobStatusFailed    AgentJobStatus = "FAILED"
)

// AgentJobLauncher launches the code/agent job backing a workflow execution
// and returns the external job id the launcher and poller both key on.
type AgentJobLauncher interface {
	Launch(ctx context.Context, execution models.WorkflowExecution) (agentJobID string, err error)
}

// AgentJobPoller reports the current status of a launched agent job.
// Callers poll until the status leaves AgentJobStatusRunning.
type AgentJobPoller interface {
	Poll(ctx context.Context, agentJobID string) (AgentJobStatus, error)
}

// AgentJobCleaner tears down the agent job and its service account once the
// workflow has extracted everything it needs from the manifest. Cleanup is
// best-effort: a failure here never fails the workflow (§4.6.5).
type AgentJobCleaner interface {
	Cleanup(ctx context.Context, agentJobID string) error
}

// ManifestReader reads the `.manifest.json` sibling file a completed agent
// job writes to object storage, in the format described by §6.3.
type ManifestReader interface {
	ReadManifest(ctx context.Context, agentJobID string) (models.ExecutionManifest, error)
}

// pollInterval is how long the poll-status activity waits between attempts
// while the agent job is still RUNNING.
const pollInterval = 2 * time.Second

// maxPollAttempts bounds the poll-status activity so a stuck agent job
// eventually fails the workflow instead of retrying forever.
const maxPollAttempts = 150

// WorkflowExecutionWorkflow implements §4.6.5: launch an agent job, poll it
// to completion, extract its manifest, and record the resulting file list
// and totals on the workflow_execution row.
type WorkflowExecutionWorkflow struct {
	engine   *Engine
	pool     *pgxpool.Pool
	launcher AgentJobLauncher
	poller   AgentJobPoller
	manifest ManifestReader
	cleaner  AgentJobCleaner
}

// NewWorkflowExecutionWorkflow constructs a WorkflowExecutionWorkflow.
func NewWorkflowExecutionWorkflow(engine *Engine, pool *pgxpool.Pool, launcher AgentJobLauncher, poller AgentJobPoller, manifest ManifestReader, cleaner AgentJobCleaner) *WorkflowExecutionWorkflow {
	return &WorkflowExecutionWorkflow{engine: engine, pool: pool, launcher: launcher, poller: poller, manifest: manifest, cleaner: cleaner}
}

// Start begins (or resumes) workflow-execution-{execution_id}.
func (w *WorkflowExecutionWorkflow) Start(ctx context.Context, input WorkflowExecutionInput) error {
	workflowID := fmt.Sprintf("workflow-execution-%d", input.ExecutionID)
	handle, err := w.engine.Start(ctx, workflowID, KindWorkflowExecution, input)
	if err != nil {
		return err
	}

	if err := w.run(ctx, handle, input); err != nil {
		_ = w.markFailed(ctx, input.ExecutionID, err)
		_ = handle.Fail(ctx, err.Error())
		return err
	}
	return handle.Complete(ctx)
}

func (w *WorkflowExecutionWorkflow) run(ctx context.Context, handle *Handle, input WorkflowExecutionInput) error {
	execution, err := w.loadExecution(ctx, input.ExecutionID)
	if err != nil {
		return err
	}

	if _, err := handle.Activity(ctx, "mark-running", func(ctx context.Context) (json.RawMessage, error) {
		return nil, w.setStatus(ctx, input.ExecutionID, models.WorkflowExecutionStatusRunning, nil)
	}); err != nil {
		return err
	}

	jobIDRaw, err := handle.Activity(ctx, "launch-agent-job", func(ctx context.Context) (json.RawMessage, error) {
		agentJobID, err := w.launcher.Launch(ctx, execution)
		if err != nil {
			return nil, fmt.Errorf("launch agent job for execution %d: %w", input.ExecutionID, err)
		}
		if err := w.setAgentJobID(ctx, input.ExecutionID, agentJobID); err != nil {
			return nil, err
		}
		return json.Marshal(agentJobID)
	})
	if err != nil {
		return err
	}

	var agentJobID string
	if err := json.Unmarshal(jobIDRaw, &agentJobID); err != nil {
		return fmt.Errorf("unmarshal agent job id: %w", err)
	}

	// cleanup runs regardless of outcome below, but only once agentJobID is
	// known; it is deferred here so it fires even if the poll or manifest
	// steps fail.
	defer w.cleanupBestEffort(ctx, agentJobID)

	if _, err := handle.Activity(ctx, "poll-status", func(ctx context.Context) (json.RawMessage, error) {
		return nil, w.pollUntilDone(ctx, agentJobID)
	}); err != nil {
		return err
	}

	manifestRaw, err := handle.Activity(ctx, "read-manifest", func(ctx context.Context) (json.RawMessage, error) {
		manifest, err := w.manifest.ReadManifest(ctx, agentJobID)
		if err != nil {
			return nil, fmt.Errorf("read manifest for agent job %s: %w", agentJobID, err)
		}
		return json.Marshal(manifest)
	})
	if err != nil {
		return err
	}

	var manifest models.ExecutionManifest
	if err := json.Unmarshal(manifestRaw, &manifest); err != nil {
		return fmt.Errorf("unmarshal manifest: %w", err)
	}

	if manifest.Metadata.Error != nil {
		return fmt.Errorf("agent job %s reported failure: %s", agentJobID, *manifest.Metadata.Error)
	}

	if _, err := handle.Activity(ctx, "record-results", func(ctx context.Context) (json.RawMessage, error) {
		return nil, w.recordResults(ctx, input.ExecutionID, manifest)
	}); err != nil {
		return err
	}

	return nil
}

// pollUntilDone polls until the agent job leaves RUNNING or maxPollAttempts
// is exhausted. It is itself one retried activity, so each poll failure
// (transport error) is retried by the engine's backoff before this loop
// gives up.
func (w *WorkflowExecutionWorkflow) pollUntilDone(ctx context.Context, agentJobID string) error {
	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		status, err := w.poller.Poll(ctx, agentJobID)
		if err != nil {
			return fmt.Errorf("poll agent job %s: %w", agentJobID, err)
		}
		switch status {
		case AgentJobStatusSucceeded:
			return nil
		case AgentJobStatusFailed:
			return fmt.Errorf("agent job %s failed", agentJobID)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return fmt.Errorf("agent job %s did not finish within %d poll attempts", agentJobID, maxPollAttempts)
}

// cleanupBestEffort implements "cleanup is best-effort and must not fail the
// workflow outcome" (§4.6.5): any error from Cleanup is discarded; it is
// neither logged nor surfaced as a failure.
func (w *WorkflowExecutionWorkflow) cleanupBestEffort(ctx context.Context, agentJobID string) {
	if agentJobID == "" {
		return
	}
	_ = w.cleaner.Cleanup(context.WithoutCancel(ctx), agentJobID)
}

func (w *WorkflowExecutionWorkflow) loadExecution(ctx context.Context, executionID int64) (models.WorkflowExecution, error) {
	var execution models.WorkflowExecution
	err := w.pool.QueryRow(ctx,
		`SELECT id, company_id, status, agent_job_id FROM workflow_execution WHERE id = $1`,
		executionID,
	).Scan(&execution.ID, &execution.CompanyID, &execution.Status, &execution.AgentJobID)
	if err != nil {
		return models.WorkflowExecution{}, fmt.Errorf("load workflow execution %d: %w", executionID, err)
	}
	return execution, nil
}

func (w *WorkflowExecutionWorkflow) setStatus(ctx context.Context, executionID int64, status models.WorkflowExecutionStatus, errMsg *string) error {
	_, err := w.pool.Exec(ctx,
		`UPDATE workflow_execution SET status = $1, error_message = $2 WHERE id = $3`,
		status, errMsg, executionID,
	)
	if err != nil {
		return fmt.Errorf("set workflow execution %d status %s: %w", executionID, status, err)
	}
	return nil
}

func (w *WorkflowExecutionWorkflow) setAgentJobID(ctx context.Context, executionID int64, agentJobID string) error {
	_, err := w.pool.Exec(ctx,
		`UPDATE workflow_execution SET agent_job_id = $1 WHERE id = $2`, agentJobID, executionID,
	)
	if err != nil {
		return fmt.Errorf("set agent job id for execution %d: %w", executionID, err)
	}
	return nil
}

func (w *WorkflowExecutionWorkflow) recordResults(ctx context.Context, executionID int64, manifest models.ExecutionManifest) error {
	outputFilesJSON, err := json.Marshal(manifest.OutputFiles)
	if err != nil {
		return fmt.Errorf("marshal output files: %w", err)
	}
	metadataJSON, err := json.Marshal(manifest.Metadata)
	if err != nil {
		return fmt.Errorf("marshal execution metadata: %w", err)
	}

	var totalBytes int64
	for _, f := range manifest.OutputFiles {
		totalBytes += f.Size
	}

	now := time.Now().UTC()
	_, err = w.pool.Exec(ctx,
		`UPDATE workflow_execution
		 SET status = $1, output_files_json = $2, total_bytes = $3, metadata_json = $4, completed_at = $5
		 WHERE id = $6`,
		models.WorkflowExecutionStatusCompleted, outputFilesJSON, totalBytes, metadataJSON, now, executionID,
	)
	if err != nil {
		return fmt.Errorf("record results for execution %d: %w", executionID, err)
	}
	return nil
}

func (w *WorkflowExecutionWorkflow) markFailed(ctx context.Context, executionID int64, cause error) error {
	now := time.Now().UTC()
	errMsg := cause.Error()
	_, err := w.pool.Exec(ctx,
		`UPDATE workflow_execution SET status = $1, error_message = $2, completed_at = $3 WHERE id = $4`,
		models.WorkflowExecutionStatusFailed, errMsg, now, executionID,
	)
	if err != nil {
		return fmt.Errorf("mark execution %d failed (original error %v): %w", executionID, cause, err)
	}
	return nil
}
