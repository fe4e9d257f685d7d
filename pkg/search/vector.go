package search

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// VectorResult is one cosine-similarity hit.
type VectorResult struct {
	ChunkID int64
	Score   float64
}

// Embedder turns text into a dense embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// VectorIndex is the semantic side of hybrid search. It is backed by
// Postgres, not a dedicated vector database (§C.3): embeddings live in
// chunk_embedding(chunk_id, embedding float4[]) and similarity is computed
// in Go over the tenant/document-filtered candidate set.
type VectorIndex interface {
	Index(ctx context.Context, chunkID int64, embedding []float32) error
	Delete(ctx context.Context, chunkID int64) error
	Search(ctx context.Context, companyID string, query []float32, documentIDs []int64, limit int) ([]VectorResult, error)
}

// PostgresVectorIndex implements VectorIndex over the chunk/chunk_embedding
// tables.
type PostgresVectorIndex struct {
	pool *pgxpool.Pool
}

// NewPostgresVectorIndex constructs a PostgresVectorIndex.
func NewPostgresVectorIndex(pool *pgxpool.Pool) *PostgresVectorIndex {
	return &PostgresVectorIndex{pool: pool}
}

func (v *PostgresVectorIndex) Index(ctx context.Context, chunkID int64, embedding []float32) error {
	_, err := v.pool.Exec(ctx,
		`INSERT INTO chunk_embedding (chunk_id, embedding) VALUES ($1, $2)
		 ON CONFLICT (chunk_id) DO UPDATE SET embedding = EXCLUDED.embedding`,
		chunkID, embedding,
	)
	if err != nil {
		return fmt.Errorf("index embedding for chunk %d: %w", chunkID, err)
	}
	return nil
}

func (v *PostgresVectorIndex) Delete(ctx context.Context, chunkID int64) error {
	_, err := v.pool.Exec(ctx, `DELETE FROM chunk_embedding WHERE chunk_id = $1`, chunkID)
	if err != nil {
		return fmt.Errorf("delete embedding for chunk %d: %w", chunkID, err)
	}
	return nil
}

// Search loads every candidate embedding for the tenant (optionally
// restricted to documentIDs), scores each by cosine similarity against
// query, and returns the top limit.
func (v *PostgresVectorIndex) Search(ctx context.Context, companyID string, query []float32, documentIDs []int64, limit int) ([]VectorResult, error) {
	var rows pgx.Rows
	var err error
	if len(documentIDs) > 0 {
		rows, err = v.pool.Query(ctx,
			`SELECT ce.chunk_id, ce.embedding
			 FROM chunk_embedding ce
			 JOIN chunk c ON c.id = ce.chunk_id
			 WHERE c.company_id = $1 AND c.document_id = ANY($2)`,
			companyID, documentIDs,
		)
	} else {
		rows, err = v.pool.Query(ctx,
			`SELECT ce.chunk_id, ce.embedding
			 FROM chunk_embedding ce
			 JOIN chunk c ON c.id = ce.chunk_id
			 WHERE c.company_id = $1`,
			companyID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query candidate embeddings: %w", err)
	}
	defer rows.Close()

	results := make([]VectorResult, 0)
	for rows.Next() {
		var chunkID int64
		var embedding []float32
		if err := rows.Scan(&chunkID, &embedding); err != nil {
			return nil, fmt.Errorf("scan candidate embedding: %w", err)
		}
		results = append(results, VectorResult{ChunkID: chunkID, Score: cosineSimilarity(query, embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate embeddings: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
