package batch_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/matrixqa/engine/test/database"

	"github.com/matrixqa/engine/pkg/batch"
	"github.com/matrixqa/engine/pkg/broker"
	"github.com/matrixqa/engine/pkg/database"
	"github.com/matrixqa/engine/pkg/entityset"
	"github.com/matrixqa/engine/pkg/models"
)

const companyID = "company-1"

func setupStandardMatrix(ctx context.Context, t *testing.T, client *database.Client) (matrixID, documentSetID, questionSetID int64) {
	t.Helper()
	require.NoError(t, client.Pool.QueryRow(ctx,
		`INSERT INTO matrix (workspace_id, company_id, name, matrix_type) VALUES (1, $1, 'M', 'STANDARD') RETURNING id`,
		companyID,
	).Scan(&matrixID))

	require.NoError(t, client.Pool.QueryRow(ctx,
		`INSERT INTO entity_set (matrix_id, company_id, name, entity_type) VALUES ($1, $2, 'Docs', 'DOCUMENT') RETURNING id`,
		matrixID, companyID,
	).Scan(&documentSetID))

	require.NoError(t, client.Pool.QueryRow(ctx,
		`INSERT INTO entity_set (matrix_id, company_id, name, entity_type) VALUES ($1, $2, 'Questions', 'QUESTION') RETURNING id`,
		matrixID, companyID,
	).Scan(&questionSetID))

	return matrixID, documentSetID, questionSetID
}

func TestService_ProcessEntityAddedToSet_Standard(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	es := entityset.New(client.Pool)
	b := broker.NewFakeBroker()
	svc := batch.New(client.Pool, b)

	matrixID, documentSetID, questionSetID := setupStandardMatrix(ctx, t, client)

	questions, err := es.AddMembersBatch(ctx, questionSetID, []int64{1, 2}, models.EntityTypeQuestion, companyID)
	require.NoError(t, err)
	require.Len(t, questions, 2)

	documents, err := es.AddMembersBatch(ctx, documentSetID, []int64{100}, models.EntityTypeDocument, companyID)
	require.NoError(t, err)
	require.Len(t, documents, 1)

	result, err := svc.ProcessEntityAddedToSet(ctx, matrixID, 100, documentSetID, true)
	require.NoError(t, err)
	assert.Len(t, result.Cells, 2)
	assert.Len(t, result.Jobs, 2)

	published := b.Published()
	assert.Len(t, published, 2)
}

func TestService_ProcessEntityAddedToSet_DedupsAgainstExistingSignature(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	es := entityset.New(client.Pool)
	b := broker.NewFakeBroker()
	svc := batch.New(client.Pool, b)

	matrixID, documentSetID, questionSetID := setupStandardMatrix(ctx, t, client)
	_, err := es.AddMembersBatch(ctx, questionSetID, []int64{1}, models.EntityTypeQuestion, companyID)
	require.NoError(t, err)
	_, err = es.AddMembersBatch(ctx, documentSetID, []int64{100}, models.EntityTypeDocument, companyID)
	require.NoError(t, err)

	first, err := svc.ProcessEntityAddedToSet(ctx, matrixID, 100, documentSetID, true)
	require.NoError(t, err)
	require.Len(t, first.Cells, 1)

	second, err := svc.ProcessEntityAddedToSet(ctx, matrixID, 100, documentSetID, true)
	require.NoError(t, err)
	assert.Empty(t, second.Cells)
	assert.Empty(t, second.Jobs)
}

func TestService_ProcessEntityAddedToSet_PublishFailureDowngradesJob(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	es := entityset.New(client.Pool)
	b := broker.NewFakeBroker()
	require.NoError(t, b.Close())
	svc := batch.New(client.Pool, b)

	matrixID, documentSetID, questionSetID := setupStandardMatrix(ctx, t, client)
	_, err := es.AddMembersBatch(ctx, questionSetID, []int64{1}, models.EntityTypeQuestion, companyID)
	require.NoError(t, err)
	_, err = es.AddMembersBatch(ctx, documentSetID, []int64{100}, models.EntityTypeDocument, companyID)
	require.NoError(t, err)

	result, err := svc.ProcessEntityAddedToSet(ctx, matrixID, 100, documentSetID, true)
	require.NoError(t, err)
	require.Len(t, result.Jobs, 1)

	var status, errMsg string
	require.NoError(t, client.Pool.QueryRow(ctx, `SELECT status, error_message FROM qa_job WHERE id = $1`, result.Jobs[0].ID).Scan(&status, &errMsg))
	assert.Equal(t, "FAILED", status)
	assert.Equal(t, "Failed to queue job", errMsg)

	var cellStatus string
	require.NoError(t, client.Pool.QueryRow(ctx, `SELECT status FROM matrix_cell WHERE id = $1`, result.Cells[0].ID).Scan(&cellStatus))
	assert.Equal(t, "PENDING", cellStatus)
}
