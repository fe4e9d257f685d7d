package qaworker

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/matrixqa/engine/test/database"

	"github.com/matrixqa/engine/pkg/answer"
	"github.com/matrixqa/engine/pkg/aiprovider"
	"github.com/matrixqa/engine/pkg/cellstrategy"
	"github.com/matrixqa/engine/pkg/database"
	"github.com/matrixqa/engine/pkg/lock"
	"github.com/matrixqa/engine/pkg/models"
	"github.com/matrixqa/engine/pkg/workflow"
)

const companyID = "company-1"

type fakeContentLoader struct{ content string }

func (f *fakeContentLoader) LoadExtractedContent(_ context.Context, _ models.Document) (string, error) {
	return f.content, nil
}

type fakeProvider struct {
	answerSet models.AIAnswerSet
}

func (f *fakeProvider) Answer(_ context.Context, _ aiprovider.AnswerRequest) (models.AIAnswerSet, error) {
	return f.answerSet, nil
}

type fakeAgentQAStarter struct {
	started []workflow.AgentQAInput
}

func (f *fakeAgentQAStarter) StartAgentQA(_ context.Context, input workflow.AgentQAInput) error {
	f.started = append(f.started, input)
	return nil
}

type fixture struct {
	matrixID   int64
	cellID     int64
	questionID int64
	documentID int64
	jobID      int64
}

// seedStandardCell inserts a STANDARD matrix with one document×question
// cell, its refs, and a qa_job row, wired for reader.LoadDocumentContent to
// resolve through fakeContentLoader.
func seedStandardCell(t *testing.T, client *database.Client, useAgentQA bool) fixture {
	t.Helper()
	ctx := context.Background()
	pool := client.Pool

	var matrixID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO matrix (workspace_id, company_id, name, matrix_type) VALUES (1, $1, 'M', 'STANDARD') RETURNING id`,
		companyID,
	).Scan(&matrixID))

	var docSetID, qSetID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO entity_set (matrix_id, company_id, name, entity_type) VALUES ($1, $2, 'docs', 'DOCUMENT') RETURNING id`,
		matrixID, companyID,
	).Scan(&docSetID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO entity_set (matrix_id, company_id, name, entity_type) VALUES ($1, $2, 'questions', 'QUESTION') RETURNING id`,
		matrixID, companyID,
	).Scan(&qSetID))

	var documentID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO document (company_id, filename, storage_key, checksum, content_type, file_size_bytes, extraction_status)
		 VALUES ($1, 'doc.txt', 'k', 'sum', 'text/plain', 10, 'COMPLETED') RETURNING id`,
		companyID,
	).Scan(&documentID))

	var questionID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO question (company_id, text, question_type_id, use_agent_qa) VALUES ($1, 'what is it?', 1, $2) RETURNING id`,
		companyID, useAgentQA,
	).Scan(&questionID))

	var docMemberID, qMemberID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO entity_set_member (entity_set_id, entity_type, entity_id, member_order) VALUES ($1, 'DOCUMENT', $2, 0) RETURNING id`,
		docSetID, documentID,
	).Scan(&docMemberID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO entity_set_member (entity_set_id, entity_type, entity_id, member_order) VALUES ($1, 'QUESTION', $2, 0) RETURNING id`,
		qSetID, questionID,
	).Scan(&qMemberID))

	var cellID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO matrix_cell (matrix_id, company_id, status, cell_type, cell_signature) VALUES ($1, $2, 'PENDING', 'STANDARD', $3) RETURNING id`,
		matrixID, companyID, fmt.Sprintf("sig-%d-%d", documentID, questionID),
	).Scan(&cellID))

	_, err := pool.Exec(ctx,
		`INSERT INTO cell_entity_ref (matrix_cell_id, matrix_id, entity_set_id, entity_set_member_id, role, entity_order, company_id)
		 VALUES ($1, $2, $3, $4, 'DOCUMENT', 0, $5)`,
		cellID, matrixID, docSetID, docMemberID, companyID,
	)
	require.NoError(t, err)
	_, err = pool.Exec(ctx,
		`INSERT INTO cell_entity_ref (matrix_cell_id, matrix_id, entity_set_id, entity_set_member_id, role, entity_order, company_id)
		 VALUES ($1, $2, $3, $4, 'QUESTION', 1, $5)`,
		cellID, matrixID, qSetID, qMemberID, companyID,
	)
	require.NoError(t, err)

	var jobID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO qa_job (matrix_cell_id, status) VALUES ($1, 'QUEUED') RETURNING id`, cellID,
	).Scan(&jobID))

	return fixture{matrixID: matrixID, cellID: cellID, questionID: questionID, documentID: documentID, jobID: jobID}
}

func newWorker(client *database.Client, locker lock.Locker, provider cellstrategy.AnswerProvider, agentQA AgentQAStarter) *Worker {
	reader := cellstrategy.NewPostgresReader(client.Pool, &fakeContentLoader{content: "the answer is 42"})
	persister := answer.New(client.Pool)
	return NewWorker(client.Pool, locker, reader, provider, agentQA, persister, nil)
}

func jobStatus(t *testing.T, client *database.Client, jobID int64) (models.QAJobStatus, *string) {
	t.Helper()
	var status models.QAJobStatus
	var errMsg *string
	require.NoError(t, client.Pool.QueryRow(context.Background(),
		`SELECT status, error_message FROM qa_job WHERE id = $1`, jobID,
	).Scan(&status, &errMsg))
	return status, errMsg
}

func cellStatus(t *testing.T, client *database.Client, cellID int64) models.CellStatus {
	t.Helper()
	var status models.CellStatus
	require.NoError(t, client.Pool.QueryRow(context.Background(),
		`SELECT status FROM matrix_cell WHERE id = $1`, cellID,
	).Scan(&status))
	return status
}

func TestWorker_SyncBranch_AnswersAndCompletesCell(t *testing.T) {
	client := testdb.NewTestClient(t)
	fx := seedStandardCell(t, client, false)

	provider := &fakeProvider{answerSet: models.AIAnswerSet{
		Answers: []models.AIAnswer{{
			Data:      models.AnswerData{Variant: models.AnswerVariantText, Text: "42"},
			Citations: []models.AICitation{{DocumentID: fx.documentID, QuoteText: "the answer is 42"}},
		}},
	}}
	agentQA := &fakeAgentQAStarter{}
	worker := newWorker(client, lock.NewFakeLocker(), provider, agentQA)

	ctx := context.Background()
	err := worker.process(ctx, models.QAJobMessage{JobID: fx.jobID, MatrixCellID: fx.cellID})
	require.NoError(t, err)

	status, errMsg := jobStatus(t, client, fx.jobID)
	assert.Equal(t, models.QAJobStatusCompleted, status)
	assert.Nil(t, errMsg)
	assert.Equal(t, models.CellStatusCompleted, cellStatus(t, client, fx.cellID))
	assert.Empty(t, agentQA.started)

	var answerSetCount int
	require.NoError(t, client.Pool.QueryRow(ctx,
		`SELECT count(*) FROM answer_set WHERE matrix_cell_id = $1`, fx.cellID,
	).Scan(&answerSetCount))
	assert.Equal(t, 1, answerSetCount)
}

func TestWorker_AgentBranch_HandsOffAndCompletesJobWithoutAnswering(t *testing.T) {
	client := testdb.NewTestClient(t)
	fx := seedStandardCell(t, client, true)

	agentQA := &fakeAgentQAStarter{}
	worker := newWorker(client, lock.NewFakeLocker(), &fakeProvider{}, agentQA)

	ctx := context.Background()
	err := worker.process(ctx, models.QAJobMessage{JobID: fx.jobID, MatrixCellID: fx.cellID})
	require.NoError(t, err)

	status, _ := jobStatus(t, client, fx.jobID)
	assert.Equal(t, models.QAJobStatusCompleted, status)
	// The cell stays PROCESSING: the agent workflow, not the worker, marks
	// it COMPLETED once it has actually produced and persisted an answer.
	assert.Equal(t, models.CellStatusProcessing, cellStatus(t, client, fx.cellID))

	require.Len(t, agentQA.started, 1)
	input := agentQA.started[0]
	assert.Equal(t, fx.jobID, input.JobID)
	assert.Equal(t, fx.cellID, input.CellID)
	assert.Equal(t, []int64{fx.documentID}, input.DocumentIDs)
	assert.Equal(t, 1, input.MinAnswers)
	assert.Equal(t, 1, input.MaxAnswers)
}

func TestWorker_LockAlreadyHeld_CompletesJobWithNote(t *testing.T) {
	client := testdb.NewTestClient(t)
	fx := seedStandardCell(t, client, false)

	locker := lock.NewFakeLocker()
	_, ok, err := locker.Acquire(context.Background(), fmt.Sprintf("matrix_cell:%d", fx.cellID), cellLockTTL)
	require.NoError(t, err)
	require.True(t, ok)

	worker := newWorker(client, locker, &fakeProvider{}, &fakeAgentQAStarter{})
	err = worker.process(context.Background(), models.QAJobMessage{JobID: fx.jobID, MatrixCellID: fx.cellID})
	require.NoError(t, err)

	status, errMsg := jobStatus(t, client, fx.jobID)
	assert.Equal(t, models.QAJobStatusCompleted, status)
	require.NotNil(t, errMsg)
	assert.Equal(t, "Cell being processed by another worker", *errMsg)
	assert.Equal(t, models.CellStatusPending, cellStatus(t, client, fx.cellID))
}

func TestWorker_CellAlreadyCompleted_CompletesJobWithNote(t *testing.T) {
	client := testdb.NewTestClient(t)
	fx := seedStandardCell(t, client, false)
	_, err := client.Pool.Exec(context.Background(), `UPDATE matrix_cell SET status = 'COMPLETED' WHERE id = $1`, fx.cellID)
	require.NoError(t, err)

	worker := newWorker(client, lock.NewFakeLocker(), &fakeProvider{}, &fakeAgentQAStarter{})
	err = worker.process(context.Background(), models.QAJobMessage{JobID: fx.jobID, MatrixCellID: fx.cellID})
	require.NoError(t, err)

	status, errMsg := jobStatus(t, client, fx.jobID)
	assert.Equal(t, models.QAJobStatusCompleted, status)
	require.NotNil(t, errMsg)
	assert.Equal(t, "Cell already completed", *errMsg)
}
