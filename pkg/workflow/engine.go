// Package workflow implements the small in-process durable workflow engine
// spec.md's §4.6 describes only by contract ("Temporal-style": deterministic
// workflow id, USE_EXISTING start policy, activities retried with backoff,
// workflows pass only serializable inputs to activities) plus the four
// concrete workflows built on top of it (SPEC_FULL.md §C.2).
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Kind discriminates the four workflows this engine runs.
type Kind string

const (
	KindDocumentExtraction Kind = "document-extraction"
	KindChunkingIndexing   Kind = "chunking-indexing"
	KindAgentQA            Kind = "agent-qa"
	KindWorkflowExecution  Kind = "workflow-execution"
)

// Status is a workflow_run's lifecycle state.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// ErrActivityFailed wraps an activity's error after its retry budget is
// exhausted, so callers can distinguish "activity exceeded retries" from
// other engine-level errors.
var ErrActivityFailed = errors.New("workflow: activity failed after retries")

// Engine starts and resumes workflow runs against Postgres-backed state.
type Engine struct {
	pool *pgxpool.Pool
}

// New constructs an Engine.
func New(pool *pgxpool.Pool) *Engine {
	return &Engine{pool: pool}
}

// Handle is a running (or resumed) workflow instance. Activity replays
// previously recorded results instead of re-executing them, giving
// at-least-once execution without duplicate side effects per workflow id.
type Handle struct {
	engine     *Engine
	runID      int64
	WorkflowID string
	Kind       Kind
}

// Start enforces the USE_EXISTING policy: if workflowID already has a
// non-terminal (or even terminal — the row is never re-created) run, Start
// returns a handle to it instead of inserting a new one. input is recorded
// for observability/debugging only; it is never read back by the engine.
func (e *Engine) Start(ctx context.Context, workflowID string, kind Kind, input any) (*Handle, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow input: %w", err)
	}

	var runID int64
	err = e.pool.QueryRow(ctx,
		`INSERT INTO workflow_run (workflow_id, kind, status, input_json)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (workflow_id) DO NOTHING
		 RETURNING id`,
		workflowID, kind, StatusRunning, inputJSON,
	).Scan(&runID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict: a run already exists. Load it instead.
		err = e.pool.QueryRow(ctx,
			`SELECT id FROM workflow_run WHERE workflow_id = $1`, workflowID,
		).Scan(&runID)
	}
	if err != nil {
		return nil, fmt.Errorf("start workflow %s: %w", workflowID, err)
	}

	return &Handle{engine: e, runID: runID, WorkflowID: workflowID, Kind: kind}, nil
}

// Activity runs fn, retried with exponential backoff, unless name was
// already recorded as completed for this run (replay). The recorded output
// is returned verbatim on replay without calling fn again.
func (h *Handle) Activity(ctx context.Context, name string, fn func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	recorded, found, err := h.engine.loadActivityResult(ctx, h.runID, name)
	if err != nil {
		return nil, err
	}
	if found {
		if recorded.errorMessage != "" {
			return nil, fmt.Errorf("%w: %s: %s", ErrActivityFailed, name, recorded.errorMessage)
		}
		return recorded.output, nil
	}

	var output json.RawMessage
	operation := func() error {
		out, err := fn(ctx)
		if err != nil {
			return err
		}
		output = out
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	runErr := backoff.Retry(operation, backoff.WithContext(b, ctx))

	var errMsg string
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := h.engine.recordActivityResult(ctx, h.runID, name, output, errMsg); err != nil {
		return nil, err
	}
	if runErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrActivityFailed, name, runErr)
	}
	return output, nil
}

// Complete marks the run COMPLETED.
func (h *Handle) Complete(ctx context.Context) error {
	return h.engine.setStatus(ctx, h.runID, StatusCompleted, "")
}

// Fail marks the run FAILED with errMsg.
func (h *Handle) Fail(ctx context.Context, errMsg string) error {
	return h.engine.setStatus(ctx, h.runID, StatusFailed, errMsg)
}

// Heartbeat bumps last_heartbeat_at so external monitoring can detect a
// stalled (not crashed, but stuck) run.
func (h *Handle) Heartbeat(ctx context.Context) error {
	_, err := h.engine.pool.Exec(ctx,
		`UPDATE workflow_run SET last_heartbeat_at = $1 WHERE id = $2`, time.Now().UTC(), h.runID,
	)
	if err != nil {
		return fmt.Errorf("heartbeat workflow run %d: %w", h.runID, err)
	}
	return nil
}

func (e *Engine) setStatus(ctx context.Context, runID int64, status Status, errMsg string) error {
	var errMsgPtr *string
	if errMsg != "" {
		errMsgPtr = &errMsg
	}
	_, err := e.pool.Exec(ctx,
		`UPDATE workflow_run SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
		status, errMsgPtr, time.Now().UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("set workflow run %d status %s: %w", runID, status, err)
	}
	return nil
}

type activityResult struct {
	output       json.RawMessage
	errorMessage string
}

func (e *Engine) loadActivityResult(ctx context.Context, runID int64, name string) (activityResult, bool, error) {
	var output []byte
	var errMsg *string
	err := e.pool.QueryRow(ctx,
		`SELECT output_json, error_message FROM workflow_activity_result
		 WHERE workflow_run_id = $1 AND activity_name = $2`,
		runID, name,
	).Scan(&output, &errMsg)
	if errors.Is(err, pgx.ErrNoRows) {
		return activityResult{}, false, nil
	}
	if err != nil {
		return activityResult{}, false, fmt.Errorf("load activity result %s/%d: %w", name, runID, err)
	}
	result := activityResult{output: output}
	if errMsg != nil {
		result.errorMessage = *errMsg
	}
	return result, true, nil
}

func (e *Engine) recordActivityResult(ctx context.Context, runID int64, name string, output json.RawMessage, errMsg string) error {
	var errMsgPtr *string
	if errMsg != "" {
		errMsgPtr = &errMsg
	}
	_, err := e.pool.Exec(ctx,
		`INSERT INTO workflow_activity_result (workflow_run_id, activity_name, output_json, error_message)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (workflow_run_id, activity_name) DO NOTHING`,
		runID, name, output, errMsgPtr,
	)
	if err != nil {
		return fmt.Errorf("record activity result %s/%d: %w", name, runID, err)
	}
	return nil
}
