// Package search implements hybrid (BM25 + vector) retrieval over chunks
// (spec §4.9): keyword and vector candidates are fetched concurrently and
// fused with Reciprocal Rank Fusion, falling back to keyword-only ranking
// if the vector side fails.
package search

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"
)

// defaultRRFK is RRF's rank-damping constant (§4.9/§6.5).
const defaultRRFK = 60

// Result is one fused hybrid search hit.
type Result struct {
	ChunkID int64
	Score   float64
}

// HybridIndex combines a KeywordIndex and a VectorIndex behind one search
// call.
type HybridIndex struct {
	keyword  KeywordIndex
	vector   VectorIndex
	embedder Embedder
	rrfK     int
}

// NewHybridIndex constructs a HybridIndex. rrfK <= 0 uses defaultRRFK.
func NewHybridIndex(keyword KeywordIndex, vector VectorIndex, embedder Embedder, rrfK int) *HybridIndex {
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}
	return &HybridIndex{keyword: keyword, vector: vector, embedder: embedder, rrfK: rrfK}
}

// Search runs the keyword and vector queries concurrently, fuses them with
// RRF, and returns a skip/limit page of the fused ranking (§4.9 step 3).
// documentIDs restricts the vector candidate set to those documents; an
// empty slice means "no restriction".
func (h *HybridIndex) Search(ctx context.Context, companyID, query string, documentIDs []int64, skip, limit int) ([]Result, error) {
	fetchLimit := skip + limit
	if fetchLimit <= 0 {
		fetchLimit = limit
	}

	var keywordResults []KeywordResult
	var vectorResults []VectorResult
	var vectorErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		keywordResults, err = h.keyword.Search(gctx, companyID, query, fetchLimit)
		return err
	})
	g.Go(func() error {
		embedding, err := h.embedder.Embed(gctx, query)
		if err != nil {
			vectorErr = err
			return nil
		}
		vectorResults, err = h.vector.Search(gctx, companyID, embedding, documentIDs, fetchLimit)
		if err != nil {
			vectorErr = err
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var fused []Result
	if vectorErr != nil {
		slog.Warn("hybrid search: vector side failed, falling back to keyword-only ranking", "error", vectorErr)
		fused = keywordOnly(keywordResults)
	} else {
		fused = fuseRRF(keywordResults, vectorResults, h.rrfK)
	}

	return paginate(fused, skip, limit), nil
}

func keywordOnly(keyword []KeywordResult) []Result {
	out := make([]Result, len(keyword))
	for i, r := range keyword {
		out[i] = Result{ChunkID: r.ChunkID, Score: r.Score}
	}
	return out
}

// fuseRRF combines two rankings by reciprocal rank fusion: each list
// contributes 1/(k+rank+1) to a chunk's score, and a chunk present in both
// lists sums both contributions.
func fuseRRF(keyword []KeywordResult, vector []VectorResult, k int) []Result {
	scores := make(map[int64]float64, len(keyword)+len(vector))
	for rank, r := range keyword {
		scores[r.ChunkID] += 1.0 / float64(k+rank+1)
	}
	for rank, r := range vector {
		scores[r.ChunkID] += 1.0 / float64(k+rank+1)
	}

	fused := make([]Result, 0, len(scores))
	for chunkID, score := range scores {
		fused = append(fused, Result{ChunkID: chunkID, Score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ChunkID < fused[j].ChunkID
	})
	return fused
}

func paginate(results []Result, skip, limit int) []Result {
	if skip >= len(results) {
		return []Result{}
	}
	end := skip + limit
	if end > len(results) || limit <= 0 {
		end = len(results)
	}
	return results[skip:end]
}
