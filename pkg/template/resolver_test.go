package template_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/matrixqa/engine/test/database"

	"github.com/matrixqa/engine/pkg/models"
	"github.com/matrixqa/engine/pkg/template"
)

type fakeVariableStore struct {
	values map[int64]string
}

func (f fakeVariableStore) LoadVariableValue(ctx context.Context, matrixID, variableID int64) (string, bool, error) {
	v, ok := f.values[variableID]
	return v, ok, nil
}

func TestResolver_Resolve_IDPlaceholder(t *testing.T) {
	r := template.New(fakeVariableStore{values: map[int64]string{7: "Acme Corp"}})

	out, err := r.Resolve(context.Background(), 1, "What did #{{7}} report?", nil)
	require.NoError(t, err)
	assert.Equal(t, "What did Acme Corp report?", out)
}

func TestResolver_Resolve_IDPlaceholder_MissingLeftInPlace(t *testing.T) {
	r := template.New(fakeVariableStore{})

	out, err := r.Resolve(context.Background(), 1, "What did #{{99}} report?", nil)
	require.NoError(t, err)
	assert.Equal(t, "What did #{{99}} report?", out)
}

func TestResolver_Resolve_RolePlaceholder(t *testing.T) {
	r := template.New(fakeVariableStore{})

	out, err := r.Resolve(context.Background(), 1, "Compare @{{LEFT}} against @{{RIGHT}}", map[models.Role]int64{
		models.RoleLeft:  10,
		models.RoleRight: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, "Compare Document 10 against Document 20", out)
}

func TestResolver_Resolve_RolePlaceholder_UnboundLeftInPlace(t *testing.T) {
	r := template.New(fakeVariableStore{})

	out, err := r.Resolve(context.Background(), 1, "See @{{DOCUMENT}}", nil)
	require.NoError(t, err)
	assert.Equal(t, "See @{{DOCUMENT}}", out)
}

func TestExtractVariableIDs(t *testing.T) {
	ids := template.ExtractVariableIDs("#{{1}} and #{{2}} and #{{1}} again")
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestPostgresVariableStore_LoadVariableValue(t *testing.T) {
	ctx := context.Background()
	client := testdb.NewTestClient(t)

	var matrixID int64
	require.NoError(t, client.Pool.QueryRow(ctx,
		`INSERT INTO matrix (workspace_id, company_id, name, matrix_type) VALUES (1, 'company-1', 'M', 'STANDARD') RETURNING id`,
	).Scan(&matrixID))

	var variableID int64
	require.NoError(t, client.Pool.QueryRow(ctx,
		`INSERT INTO matrix_template_variable (matrix_id, template_string, value) VALUES ($1, '#{{1}}', 'Acme Corp') RETURNING id`,
		matrixID,
	).Scan(&variableID))

	store := template.NewPostgresVariableStore(client.Pool)
	value, found, err := store.LoadVariableValue(ctx, matrixID, variableID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Acme Corp", value)

	_, found, err = store.LoadVariableValue(ctx, matrixID, variableID+999)
	require.NoError(t, err)
	assert.False(t, found)
}
