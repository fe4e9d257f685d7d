package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/matrixqa/engine/test/database"
)

func TestPostgresVectorIndex_SearchRanksByCosineSimilarity(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	pool := client.Pool

	var matrixID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO matrix (workspace_id, company_id, name, matrix_type) VALUES (1, 'acme', 'M', 'STANDARD') RETURNING id`,
	).Scan(&matrixID))

	var docID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO document (company_id, filename, storage_key, checksum, content_type, file_size_bytes, extraction_status)
		 VALUES ('acme', 'doc.txt', 'k', 'sum', 'text/plain', 10, 'COMPLETED') RETURNING id`,
	).Scan(&docID))

	insertChunk := func(ordinal int, embedding []float32) int64 {
		var chunkID int64
		require.NoError(t, pool.QueryRow(ctx,
			`INSERT INTO chunk (document_id, company_id, ordinal, content) VALUES ($1, 'acme', $2, 'c') RETURNING id`,
			docID, ordinal,
		).Scan(&chunkID))
		idx := NewPostgresVectorIndex(pool)
		require.NoError(t, idx.Index(ctx, chunkID, embedding))
		return chunkID
	}

	closeID := insertChunk(1, []float32{1, 0})
	farID := insertChunk(2, []float32{0, 1})

	idx := NewPostgresVectorIndex(pool)
	results, err := idx.Search(ctx, "acme", []float32{1, 0.01}, nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, closeID, results[0].ChunkID)
	assert.Equal(t, farID, results[1].ChunkID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestPostgresVectorIndex_DeleteRemovesEmbedding(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()
	pool := client.Pool

	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO matrix (workspace_id, company_id, name, matrix_type) VALUES (1, 'acme', 'M', 'STANDARD') RETURNING id`,
	).Scan(new(int64)))

	var docID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO document (company_id, filename, storage_key, checksum, content_type, file_size_bytes, extraction_status)
		 VALUES ('acme', 'doc.txt', 'k', 'sum', 'text/plain', 10, 'COMPLETED') RETURNING id`,
	).Scan(&docID))

	var chunkID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO chunk (document_id, company_id, ordinal, content) VALUES ($1, 'acme', 1, 'c') RETURNING id`,
		docID,
	).Scan(&chunkID))

	idx := NewPostgresVectorIndex(pool)
	require.NoError(t, idx.Index(ctx, chunkID, []float32{1, 0}))
	require.NoError(t, idx.Delete(ctx, chunkID))

	results, err := idx.Search(ctx, "acme", []float32{1, 0}, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}
