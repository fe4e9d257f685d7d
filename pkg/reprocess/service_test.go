package reprocess_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/matrixqa/engine/test/database"

	"github.com/matrixqa/engine/pkg/broker"
	"github.com/matrixqa/engine/pkg/models"
	"github.com/matrixqa/engine/pkg/reprocess"
)

const companyID = "company-1"

type fixture struct {
	matrixID     int64
	cellIDs      []int64
	docSetID     int64
	questionID   int64
	documentID   int64
	documentID2  int64
}

// seedCells builds a matrix with two standard cells, each referencing a
// distinct document (documentID / documentID2) answering the same
// question, so entity_set_filters can distinguish between them.
func seedCells(t *testing.T, ctx context.Context, pool *pgxpool.Pool) fixture {
	t.Helper()

	var matrixID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO matrix (workspace_id, company_id, name, matrix_type) VALUES (1, $1, 'M', 'STANDARD') RETURNING id`,
		companyID,
	).Scan(&matrixID))

	var docSetID, qSetID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO entity_set (matrix_id, company_id, name, entity_type) VALUES ($1, $2, 'Docs', 'DOCUMENT') RETURNING id`,
		matrixID, companyID,
	).Scan(&docSetID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO entity_set (matrix_id, company_id, name, entity_type) VALUES ($1, $2, 'Questions', 'QUESTION') RETURNING id`,
		matrixID, companyID,
	).Scan(&qSetID))

	documentID := int64(100)
	documentID2 := int64(200)
	questionID := int64(7)

	var docMemberID, docMember2ID, qMemberID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO entity_set_member (entity_set_id, entity_type, entity_id, member_order) VALUES ($1, 'DOCUMENT', $2, 0) RETURNING id`,
		docSetID, documentID,
	).Scan(&docMemberID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO entity_set_member (entity_set_id, entity_type, entity_id, member_order) VALUES ($1, 'DOCUMENT', $2, 1) RETURNING id`,
		docSetID, documentID2,
	).Scan(&docMember2ID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO entity_set_member (entity_set_id, entity_type, entity_id, member_order) VALUES ($1, 'QUESTION', $2, 0) RETURNING id`,
		qSetID, questionID,
	).Scan(&qMemberID))

	var cellIDs []int64
	for i, docMemberID := range []int64{docMemberID, docMember2ID} {
		var cellID int64
		require.NoError(t, pool.QueryRow(ctx,
			`INSERT INTO matrix_cell (matrix_id, company_id, status, cell_type, cell_signature) VALUES ($1, $2, 'COMPLETED', 'STANDARD', $3) RETURNING id`,
			matrixID, companyID, fmt.Sprintf("sig-%d", i),
		).Scan(&cellID))
		cellIDs = append(cellIDs, cellID)

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
	}

	return fixture{
		matrixID: matrixID, cellIDs: cellIDs, docSetID: docSetID,
		questionID: questionID, documentID: documentID, documentID2: documentID2,
	}
}

func TestService_Reprocess_WholeMatrix(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	f := seedCells(t, ctx, client.Pool)
	b := broker.NewFakeBroker()
	svc := reprocess.New(client.Pool, b)

	result, err := svc.Reprocess(ctx, f.matrixID, reprocess.Selection{WholeMatrix: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.MatchedCells)
	assert.Len(t, result.Jobs, 2)
	assert.Len(t, b.Published(), 2)
}

func TestService_Reprocess_ByCellIDs(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	f := seedCells(t, ctx, client.Pool)
	b := broker.NewFakeBroker()
	svc := reprocess.New(client.Pool, b)

	result, err := svc.Reprocess(ctx, f.matrixID, reprocess.Selection{CellIDs: []int64{f.cellIDs[0]}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.MatchedCells)
	require.Len(t, result.Jobs, 1)
	assert.Equal(t, f.cellIDs[0], result.Jobs[0].MatrixCellID)
}

func TestService_Reprocess_ByEntitySetFilter_MatchesOnlyReferencingCell(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	f := seedCells(t, ctx, client.Pool)
	b := broker.NewFakeBroker()
	svc := reprocess.New(client.Pool, b)

	result, err := svc.Reprocess(ctx, f.matrixID, reprocess.Selection{
		EntitySetFilters: []reprocess.EntitySetFilter{
			{EntitySetID: f.docSetID, Role: models.RoleDocument, EntityIDs: []int64{f.documentID}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.MatchedCells)
	require.Len(t, result.Jobs, 1)
	assert.Equal(t, f.cellIDs[0], result.Jobs[0].MatrixCellID)
}

func TestService_Reprocess_NoSelectionCriteria_Errors(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	f := seedCells(t, ctx, client.Pool)
	svc := reprocess.New(client.Pool, broker.NewFakeBroker())

	_, err := svc.Reprocess(ctx, f.matrixID, reprocess.Selection{})
	assert.Error(t, err)
}

func TestService_Reprocess_PublishFailure_MarksJobFailed(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	f := seedCells(t, ctx, client.Pool)
	b := broker.NewFakeBroker()
	require.NoError(t, b.Close())
	svc := reprocess.New(client.Pool, b)

	result, err := svc.Reprocess(ctx, f.matrixID, reprocess.Selection{CellIDs: []int64{f.cellIDs[0]}})
	require.NoError(t, err)
	require.Len(t, result.Jobs, 1)
	assert.Equal(t, models.QAJobStatusFailed, result.Jobs[0].Status)

	var status models.QAJobStatus
	require.NoError(t, client.Pool.QueryRow(ctx, `SELECT status FROM qa_job WHERE id = $1`, result.Jobs[0].ID).Scan(&status))
	assert.Equal(t, models.QAJobStatusFailed, status)
}
