package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixqa/engine/pkg/models"
)

// kwIndex/vecIndex/fakeEmbedder are minimal KeywordIndex/VectorIndex/
// Embedder test doubles; HybridIndex.Search never calls Index/Delete.
type kwIndex struct {
	results []KeywordResult
	err     error
}

func (k *kwIndex) Index(context.Context, string, models.Chunk) error { return nil }
func (k *kwIndex) Delete(context.Context, string, int64) error       { return nil }
func (k *kwIndex) Search(_ context.Context, _, _ string, _ int) ([]KeywordResult, error) {
	return k.results, k.err
}

type vecIndex struct {
	results []VectorResult
	err     error
}

func (v *vecIndex) Index(context.Context, int64, []float32) error { return nil }
func (v *vecIndex) Delete(context.Context, int64) error           { return nil }
func (v *vecIndex) Search(_ context.Context, _ string, _ []float32, _ []int64, _ int) ([]VectorResult, error) {
	return v.results, v.err
}

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return f.vector, f.err }
func (f *fakeEmbedder) Dimensions() int                                  { return len(f.vector) }

func TestHybridIndex_Search_FusesKeywordAndVectorRankings(t *testing.T) {
	keyword := &kwIndex{results: []KeywordResult{{ChunkID: 1, Score: 9}, {ChunkID: 2, Score: 5}}}
	vector := &vecIndex{results: []VectorResult{{ChunkID: 2, Score: 0.9}, {ChunkID: 3, Score: 0.8}}}
	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2}}

	idx := NewHybridIndex(keyword, vector, embedder, 60)
	results, err := idx.Search(context.Background(), "acme", "revenue", nil, 0, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// chunk 2 appears in both rankings (rank 1 keyword, rank 0 vector) so it
	// should outrank chunks that appear in only one list.
	assert.Equal(t, int64(2), results[0].ChunkID)
}

func TestHybridIndex_Search_FallsBackToKeywordOnlyWhenVectorFails(t *testing.T) {
	keyword := &kwIndex{results: []KeywordResult{{ChunkID: 1, Score: 9}, {ChunkID: 2, Score: 5}}}
	vector := &vecIndex{err: errors.New("onnx runtime unavailable")}
	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2}}

	idx := NewHybridIndex(keyword, vector, embedder, 60)
	results, err := idx.Search(context.Background(), "acme", "revenue", nil, 0, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].ChunkID)
	assert.Equal(t, int64(2), results[1].ChunkID)
}

func TestHybridIndex_Search_FallsBackWhenEmbeddingFails(t *testing.T) {
	keyword := &kwIndex{results: []KeywordResult{{ChunkID: 1, Score: 9}}}
	vector := &vecIndex{}
	embedder := &fakeEmbedder{err: errors.New("embedding model not loaded")}

	idx := NewHybridIndex(keyword, vector, embedder, 60)
	results, err := idx.Search(context.Background(), "acme", "revenue", nil, 0, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ChunkID)
}

func TestHybridIndex_Search_PropagatesKeywordError(t *testing.T) {
	keyword := &kwIndex{err: errors.New("bleve index corrupt")}
	vector := &vecIndex{}
	embedder := &fakeEmbedder{vector: []float32{0.1}}

	idx := NewHybridIndex(keyword, vector, embedder, 60)
	_, err := idx.Search(context.Background(), "acme", "revenue", nil, 0, 10)
	assert.Error(t, err)
}

func TestHybridIndex_Search_Paginates(t *testing.T) {
	keyword := &kwIndex{results: []KeywordResult{{ChunkID: 1, Score: 3}, {ChunkID: 2, Score: 2}, {ChunkID: 3, Score: 1}}}
	vector := &vecIndex{}
	embedder := &fakeEmbedder{err: errors.New("skip vector")}

	idx := NewHybridIndex(keyword, vector, embedder, 60)
	results, err := idx.Search(context.Background(), "acme", "revenue", nil, 1, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(2), results[0].ChunkID)
}

func TestFuseRRF_ScoresHigherWhenPresentInBothRankings(t *testing.T) {
	keyword := []KeywordResult{{ChunkID: 1, Score: 9}, {ChunkID: 2, Score: 5}}
	vector := []VectorResult{{ChunkID: 2, Score: 0.9}}

	fused := fuseRRF(keyword, vector, 60)
	require.Len(t, fused, 2)
	assert.Equal(t, int64(2), fused[0].ChunkID)
}
