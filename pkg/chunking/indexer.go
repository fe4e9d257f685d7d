package chunking

import (
	"context"
	"fmt"

	"github.com/matrixqa/engine/pkg/models"
)

// KeywordIndexer is the subset of pkg/search.KeywordIndex the chunk indexer
// needs.
type KeywordIndexer interface {
	Index(ctx context.Context, companyID string, chunk models.Chunk) error
}

// VectorIndexer is the subset of pkg/search.VectorIndex plus an Embedder
// the chunk indexer needs.
type VectorIndexer interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Index(ctx context.Context, chunkID int64, embedding []float32) error
}

// Indexer implements workflow.ChunkIndexer: the keyword side is
// authoritative (a failure there fails the activity), the vector side is
// best-effort (§4.6.3).
type Indexer struct {
	keyword KeywordIndexer
	vector  VectorIndexer
}

// NewIndexer constructs an Indexer.
func NewIndexer(keyword KeywordIndexer, vector VectorIndexer) *Indexer {
	return &Indexer{keyword: keyword, vector: vector}
}

// embedderVectorIndex composes a search.Embedder and a search.VectorIndex
// into the single VectorIndexer shape Indexer needs.
type embedderVectorIndex struct {
	embed func(ctx context.Context, text string) ([]float32, error)
	index func(ctx context.Context, chunkID int64, embedding []float32) error
}

func (e embedderVectorIndex) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

func (e embedderVectorIndex) Index(ctx context.Context, chunkID int64, embedding []float32) error {
	return e.index(ctx, chunkID, embedding)
}

// NewVectorIndexer composes a search.Embedder and a search.VectorIndex into
// the VectorIndexer shape NewIndexer needs.
func NewVectorIndexer(
	embed func(ctx context.Context, text string) ([]float32, error),
	index func(ctx context.Context, chunkID int64, embedding []float32) error,
) VectorIndexer {
	return embedderVectorIndex{embed: embed, index: index}
}

// IndexKeyword implements workflow.ChunkIndexer.
func (i *Indexer) IndexKeyword(ctx context.Context, chunk models.Chunk) error {
	if err := i.keyword.Index(ctx, chunk.CompanyID, chunk); err != nil {
		return fmt.Errorf("index chunk %d into keyword store: %w", chunk.ID, err)
	}
	return nil
}

// IndexVector implements workflow.ChunkIndexer. Errors here are the
// caller's responsibility to log-and-continue, not fail the workflow.
func (i *Indexer) IndexVector(ctx context.Context, chunk models.Chunk) error {
	embedding, err := i.vector.Embed(ctx, chunk.Content)
	if err != nil {
		return fmt.Errorf("embed chunk %d: %w", chunk.ID, err)
	}
	if err := i.vector.Index(ctx, chunk.ID, embedding); err != nil {
		return fmt.Errorf("index chunk %d embedding: %w", chunk.ID, err)
	}
	return nil
}
