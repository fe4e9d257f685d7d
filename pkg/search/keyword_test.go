package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixqa/engine/pkg/models"
)

func TestBleveKeywordIndex_SearchFindsIndexedChunk(t *testing.T) {
	idx := NewBleveKeywordIndex(t.TempDir())
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, "acme", models.Chunk{ID: 1, Content: "the quarterly revenue figures for Acme Corp"}))
	require.NoError(t, idx.Index(ctx, "acme", models.Chunk{ID: 2, Content: "unrelated text about office supplies"}))

	results, err := idx.Search(ctx, "acme", "revenue", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, int64(1), results[0].ChunkID)
}

func TestBleveKeywordIndex_SearchIsolatedPerTenant(t *testing.T) {
	idx := NewBleveKeywordIndex(t.TempDir())
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, "tenant-a", models.Chunk{ID: 1, Content: "shared keyword zephyr"}))

	results, err := idx.Search(ctx, "tenant-b", "zephyr", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBleveKeywordIndex_DeleteRemovesChunk(t *testing.T) {
	idx := NewBleveKeywordIndex(t.TempDir())
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, "acme", models.Chunk{ID: 1, Content: "evanescent keyword"}))
	require.NoError(t, idx.Delete(ctx, "acme", 1))

	results, err := idx.Search(ctx, "acme", "evanescent", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}
