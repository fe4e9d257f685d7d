package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/matrixqa/engine/pkg/models"
)

// KeywordResult is one BM25 hit.
type KeywordResult struct {
	ChunkID int64
	Score   float64
}

// KeywordIndex is the BM25 side of hybrid search.
type KeywordIndex interface {
	Index(ctx context.Context, companyID string, chunk models.Chunk) error
	Delete(ctx context.Context, companyID string, chunkID int64) error
	Search(ctx context.Context, companyID, query string, limit int) ([]KeywordResult, error)
}

type bleveChunkDoc struct {
	Content string `json:"content"`
}

// BleveKeywordIndex implements KeywordIndex with one bleve.Index per
// tenant, opened lazily and kept open for the process lifetime, grounded
// on the pack's sagasu BleveIndex (open-if-exists-else-create, bleve's
// default BM25 scoring unmodified).
type BleveKeywordIndex struct {
	mu       sync.Mutex
	indexes  map[string]bleve.Index
	basePath string
}

// NewBleveKeywordIndex constructs a BleveKeywordIndex rooted at basePath;
// each tenant gets its own subdirectory `company_{tenant}`.
func NewBleveKeywordIndex(basePath string) *BleveKeywordIndex {
	return &BleveKeywordIndex{basePath: basePath, indexes: make(map[string]bleve.Index)}
}

func (k *BleveKeywordIndex) indexFor(companyID string) (bleve.Index, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if idx, ok := k.indexes[companyID]; ok {
		return idx, nil
	}

	path := filepath.Join(k.basePath, "company_"+companyID)
	var idx bleve.Index
	var err error
	if _, statErr := os.Stat(path); statErr == nil {
		idx, err = bleve.Open(path)
	} else {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve index for company %s: %w", companyID, err)
	}
	k.indexes[companyID] = idx
	return idx, nil
}

func (k *BleveKeywordIndex) Index(_ context.Context, companyID string, chunk models.Chunk) error {
	idx, err := k.indexFor(companyID)
	if err != nil {
		return err
	}
	if err := idx.Index(strconv.FormatInt(chunk.ID, 10), bleveChunkDoc{Content: chunk.Content}); err != nil {
		return fmt.Errorf("index chunk %d: %w", chunk.ID, err)
	}
	return nil
}

func (k *BleveKeywordIndex) Delete(_ context.Context, companyID string, chunkID int64) error {
	idx, err := k.indexFor(companyID)
	if err != nil {
		return err
	}
	if err := idx.Delete(strconv.FormatInt(chunkID, 10)); err != nil {
		return fmt.Errorf("delete chunk %d: %w", chunkID, err)
	}
	return nil
}

func (k *BleveKeywordIndex) Search(_ context.Context, companyID, query string, limit int) ([]KeywordResult, error) {
	idx, err := k.indexFor(companyID)
	if err != nil {
		return nil, err
	}

	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = limit
	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	out := make([]KeywordResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, KeywordResult{ChunkID: id, Score: hit.Score})
	}
	return out, nil
}
