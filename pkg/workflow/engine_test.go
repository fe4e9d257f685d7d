package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/matrixqa/engine/test/database"

	"github.com/matrixqa/engine/pkg/workflow"
)

// TestEngine_Start_UseExisting covers the USE_EXISTING start policy: a
// second Start call against the same workflow id resumes the first run
// instead of creating a new one.
func TestEngine_Start_UseExisting(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	engine := workflow.New(client.Pool)

	first, err := engine.Start(ctx, "document-extraction-1", workflow.KindDocumentExtraction, map[string]int64{"document_id": 1})
	require.NoError(t, err)

	second, err := engine.Start(ctx, "document-extraction-1", workflow.KindDocumentExtraction, map[string]int64{"document_id": 1})
	require.NoError(t, err)

	var runCount int
	err = client.Pool.QueryRow(ctx, `SELECT count(*) FROM workflow_run WHERE workflow_id = $1`, "document-extraction-1").Scan(&runCount)
	require.NoError(t, err)
	assert.Equal(t, 1, runCount, "USE_EXISTING must not create a second row")
	assert.Equal(t, first.WorkflowID, second.WorkflowID)
}

// TestHandle_Activity_ReplaysRecordedResult covers replay: once an activity
// has recorded a result, a later call under the same run never invokes fn
// again, even if fn would now behave differently.
func TestHandle_Activity_ReplaysRecordedResult(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	engine := workflow.New(client.Pool)

	handle, err := engine.Start(ctx, "chunking-indexing-1", workflow.KindChunkingIndexing, map[string]int64{"document_id": 1})
	require.NoError(t, err)

	calls := 0
	runOnce := func(ctx context.Context) (json.RawMessage, error) {
		calls++
		return json.Marshal(calls)
	}

	out1, err := handle.Activity(ctx, "count-calls", runOnce)
	require.NoError(t, err)
	var v1 int
	require.NoError(t, json.Unmarshal(out1, &v1))
	assert.Equal(t, 1, v1)

	out2, err := handle.Activity(ctx, "count-calls", runOnce)
	require.NoError(t, err)
	var v2 int
	require.NoError(t, json.Unmarshal(out2, &v2))
	assert.Equal(t, 1, v2, "replay must return the recorded output, not re-run fn")
	assert.Equal(t, 1, calls, "fn must not be invoked again on replay")
}

// TestHandle_Activity_RetriesThenSucceeds covers the backoff-retried
// execution path: an activity that fails twice then succeeds must surface
// the eventual success without exhausting the engine's retry budget.
func TestHandle_Activity_RetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	engine := workflow.New(client.Pool)

	handle, err := engine.Start(ctx, "agent-qa-1-1", workflow.KindAgentQA, map[string]int64{"job_id": 1, "cell_id": 1})
	require.NoError(t, err)

	attempts := 0
	out, err := handle.Activity(ctx, "flaky", func(ctx context.Context) (json.RawMessage, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient failure")
		}
		return json.Marshal("ok")
	})
	require.NoError(t, err)
	var v string
	require.NoError(t, json.Unmarshal(out, &v))
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, attempts)
}

// TestHandle_Activity_FailsAfterRetriesExhausted covers an activity that
// never succeeds: Activity must wrap the final error in ErrActivityFailed
// and record the failure so a later Activity call with the same name
// replays the failure instead of retrying from scratch.
func TestHandle_Activity_FailsAfterRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	engine := workflow.New(client.Pool)

	handle, err := engine.Start(ctx, "workflow-execution-1", workflow.KindWorkflowExecution, map[string]int64{"execution_id": 1})
	require.NoError(t, err)

	calls := 0
	alwaysFails := func(ctx context.Context) (json.RawMessage, error) {
		calls++
		return nil, errors.New("permanent failure")
	}

	_, err = handle.Activity(ctx, "doomed", alwaysFails)
	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrActivityFailed)
	callsAfterFirst := calls

	_, err = handle.Activity(ctx, "doomed", alwaysFails)
	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrActivityFailed)
	assert.Equal(t, callsAfterFirst, calls, "a recorded failure must replay, not retry again")
}

// TestHandle_Complete_And_Fail cover the two terminal status transitions.
func TestHandle_Complete_And_Fail(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	engine := workflow.New(client.Pool)

	completed, err := engine.Start(ctx, "document-extraction-2", workflow.KindDocumentExtraction, map[string]int64{"document_id": 2})
	require.NoError(t, err)
	require.NoError(t, completed.Complete(ctx))

	var status string
	require.NoError(t, client.Pool.QueryRow(ctx, `SELECT status FROM workflow_run WHERE workflow_id = $1`, "document-extraction-2").Scan(&status))
	assert.Equal(t, string(workflow.StatusCompleted), status)

	failed, err := engine.Start(ctx, "document-extraction-3", workflow.KindDocumentExtraction, map[string]int64{"document_id": 3})
	require.NoError(t, err)
	require.NoError(t, failed.Fail(ctx, "boom"))

	var failedStatus string
	var errMsg *string
	require.NoError(t, client.Pool.QueryRow(ctx,
		`SELECT status, error_message FROM workflow_run WHERE workflow_id = $1`, "document-extraction-3",
	).Scan(&failedStatus, &errMsg))
	assert.Equal(t, string(workflow.StatusFailed), failedStatus)
	require.NotNil(t, errMsg)
	assert.Equal(t, "boom", *errMsg)
}

// TestHandle_Heartbeat covers that Heartbeat advances last_heartbeat_at
// without touching status.
func TestHandle_Heartbeat(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	engine := workflow.New(client.Pool)

	handle, err := engine.Start(ctx, "chunking-indexing-2", workflow.KindChunkingIndexing, map[string]int64{"document_id": 2})
	require.NoError(t, err)

	var before, after struct{ heartbeat string }
	require.NoError(t, client.Pool.QueryRow(ctx,
		`SELECT last_heartbeat_at::text FROM workflow_run WHERE workflow_id = $1`, "chunking-indexing-2",
	).Scan(&before.heartbeat))

	require.NoError(t, handle.Heartbeat(ctx))

	require.NoError(t, client.Pool.QueryRow(ctx,
		`SELECT last_heartbeat_at::text FROM workflow_run WHERE workflow_id = $1`, "chunking-indexing-2",
	).Scan(&after.heartbeat))
	assert.NotEqual(t, before.heartbeat, after.heartbeat, "heartbeat must advance last_heartbeat_at")

	var status string
	require.NoError(t, client.Pool.QueryRow(ctx, `SELECT status FROM workflow_run WHERE workflow_id = $1`, "chunking-indexing-2").Scan(&status))
	assert.Equal(t, string(workflow.StatusRunning), status, "heartbeat must not change status")
}
