package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matrixqa/engine/pkg/cellstrategy"
	"github.com/matrixqa/engine/pkg/models"
	"github.com/matrixqa/engine/pkg/quota"
)

// Chunker splits extracted content into ordered chunks under the chosen
// strategy.
type Chunker interface {
	Chunk(ctx context.Context, doc models.Document, content string, strategy models.ChunkingStrategy) ([]models.Chunk, error)
}

// ChunkIndexer indexes one persisted chunk. IndexKeyword is authoritative
// for availability; IndexVector is best-effort (§4.6.3).
type ChunkIndexer interface {
	IndexKeyword(ctx context.Context, chunk models.Chunk) error
	IndexVector(ctx context.Context, chunk models.Chunk) error
}

// QuotaReserver is the subset of pkg/quota.Service the chunking workflow
// needs.
type QuotaReserver interface {
	ReserveAgenticChunkingIfAvailable(ctx context.Context, companyID string) (quota.ReserveResult, error)
	RefundAgenticChunking(ctx context.Context, companyID string, originalEventID int64) error
	UpdateAgenticChunkingMetadata(ctx context.Context, usageEventID int64, chunkCount int) error
}

// ChunkingIndexingWorkflow implements §4.6.2 (strategy selection + agentic
// reservation/refund) and §4.6.3 (indexing).
type ChunkingIndexingWorkflow struct {
	engine  *Engine
	pool    *pgxpool.Pool
	content cellstrategy.ContentLoader
	chunker Chunker
	indexer ChunkIndexer
	quota   QuotaReserver
}

// NewChunkingIndexingWorkflow constructs a ChunkingIndexingWorkflow.
func NewChunkingIndexingWorkflow(engine *Engine, pool *pgxpool.Pool, content cellstrategy.ContentLoader, chunker Chunker, indexer ChunkIndexer, q QuotaReserver) *ChunkingIndexingWorkflow {
	return &ChunkingIndexingWorkflow{engine: engine, pool: pool, content: content, chunker: chunker, indexer: indexer, quota: q}
}

type chunkStrategyDecision struct {
	Strategy     models.ChunkingStrategy `json:"strategy"`
	UsageEventID int64                   `json:"usage_event_id,omitempty"`
	Reserved     bool                    `json:"reserved"`
}

// Start begins (or resumes) chunking-indexing-{document_id}.
func (w *ChunkingIndexingWorkflow) Start(ctx context.Context, input ChunkingIndexingInput) error {
	workflowID := fmt.Sprintf("chunking-indexing-%d", input.DocumentID)
	handle, err := w.engine.Start(ctx, workflowID, KindChunkingIndexing, input)
	if err != nil {
		return err
	}

	if err := w.run(ctx, handle, input); err != nil {
		_ = handle.Fail(ctx, err.Error())
		return err
	}
	return handle.Complete(ctx)
}

func (w *ChunkingIndexingWorkflow) run(ctx context.Context, handle *Handle, input ChunkingIndexingInput) error {
	doc, err := w.loadDocument(ctx, input.DocumentID)
	if err != nil {
		return err
	}

	decisionRaw, err := handle.Activity(ctx, "select-strategy", func(ctx context.Context) (json.RawMessage, error) {
		if !doc.UseAgenticChunking {
			return json.Marshal(chunkStrategyDecision{Strategy: models.ChunkingStrategySentence})
		}
		result, err := w.quota.ReserveAgenticChunkingIfAvailable(ctx, input.CompanyID)
		if err != nil {
			return nil, err
		}
		if !result.Reserved {
			return nil, fmt.Errorf("%w: company %s at %d/%d agentic chunkings this month", quota.ErrQuotaExceeded, input.CompanyID, result.CurrentUsage, result.Limit)
		}
		return json.Marshal(chunkStrategyDecision{Strategy: models.ChunkingStrategyAgentic, UsageEventID: result.UsageEventID, Reserved: true})
	})
	if err != nil {
		return err
	}

	var decision chunkStrategyDecision
	if err := json.Unmarshal(decisionRaw, &decision); err != nil {
		return fmt.Errorf("unmarshal chunking strategy decision: %w", err)
	}

	chunksRaw, err := handle.Activity(ctx, "chunk-document", func(ctx context.Context) (json.RawMessage, error) {
		content, err := w.content.LoadExtractedContent(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("load extracted content for document %d: %w", doc.ID, err)
		}
		chunks, err := w.chunker.Chunk(ctx, doc, content, decision.Strategy)
		if err != nil {
			return nil, fmt.Errorf("chunk document %d: %w", doc.ID, err)
		}
		return json.Marshal(chunks)
	})
	if err != nil {
		return w.refundIfReserved(ctx, input, decision, err)
	}

	var chunks []models.Chunk
	if err := json.Unmarshal(chunksRaw, &chunks); err != nil {
		return fmt.Errorf("unmarshal chunks: %w", err)
	}

	persistedRaw, err := handle.Activity(ctx, "persist-chunks", func(ctx context.Context) (json.RawMessage, error) {
		persisted, err := w.persistChunks(ctx, doc.ID, input.CompanyID, chunks)
		if err != nil {
			return nil, err
		}
		return json.Marshal(persisted)
	})
	if err != nil {
		return w.refundIfReserved(ctx, input, decision, err)
	}

	var persisted []models.Chunk
	if err := json.Unmarshal(persistedRaw, &persisted); err != nil {
		return fmt.Errorf("unmarshal persisted chunks: %w", err)
	}

	if _, err := handle.Activity(ctx, "index-chunks", func(ctx context.Context) (json.RawMessage, error) {
		return nil, w.indexChunks(ctx, persisted)
	}); err != nil {
		return err
	}

	if decision.Reserved {
		if _, err := handle.Activity(ctx, "update-agentic-metadata", func(ctx context.Context) (json.RawMessage, error) {
			return nil, w.quota.UpdateAgenticChunkingMetadata(ctx, decision.UsageEventID, len(persisted))
		}); err != nil {
			return err
		}
	}

	return nil
}

// refundIfReserved implements §4.6.2's refund path: if chunking fails after
// an agentic reservation was made, the reservation is refunded so the
// monthly signed sum returns to its pre-reservation value.
func (w *ChunkingIndexingWorkflow) refundIfReserved(ctx context.Context, input ChunkingIndexingInput, decision chunkStrategyDecision, cause error) error {
	if decision.Reserved {
		if refundErr := w.quota.RefundAgenticChunking(ctx, input.CompanyID, decision.UsageEventID); refundErr != nil {
			return fmt.Errorf("refund agentic chunking after failure (%v): %w", cause, refundErr)
		}
	}
	return cause
}

func (w *ChunkingIndexingWorkflow) loadDocument(ctx context.Context, documentID int64) (models.Document, error) {
	var doc models.Document
	err := w.pool.QueryRow(ctx,
		`SELECT id, company_id, filename, storage_key, checksum, content_type, file_size_bytes,
		        use_agentic_chunking, extraction_status, extracted_content_path, deleted
		 FROM document WHERE id = $1`,
		documentID,
	).Scan(&doc.ID, &doc.CompanyID, &doc.Filename, &doc.StorageKey, &doc.Checksum, &doc.ContentType,
		&doc.FileSizeBytes, &doc.UseAgenticChunking, &doc.ExtractionStatus, &doc.ExtractedContentPath, &doc.Deleted)
	if err != nil {
		return models.Document{}, fmt.Errorf("load document %d: %w", documentID, err)
	}
	return doc, nil
}

func (w *ChunkingIndexingWorkflow) persistChunks(ctx context.Context, documentID int64, companyID string, chunks []models.Chunk) ([]models.Chunk, error) {
	persisted := make([]models.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		metadataJSON, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal chunk metadata: %w", err)
		}
		var id int64
		if err := w.pool.QueryRow(ctx,
			`INSERT INTO chunk (document_id, company_id, ordinal, content, metadata)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			documentID, companyID, chunk.Ordinal, chunk.Content, metadataJSON,
		).Scan(&id); err != nil {
			return nil, fmt.Errorf("insert chunk ordinal %d for document %d: %w", chunk.Ordinal, documentID, err)
		}
		chunk.ID = id
		chunk.DocumentID = documentID
		chunk.CompanyID = companyID
		persisted = append(persisted, chunk)
	}
	return persisted, nil
}

func (w *ChunkingIndexingWorkflow) indexChunks(ctx context.Context, chunks []models.Chunk) error {
	for _, chunk := range chunks {
		if err := w.indexer.IndexKeyword(ctx, chunk); err != nil {
			return fmt.Errorf("keyword-index chunk %d: %w", chunk.ID, err)
		}
		if err := w.indexer.IndexVector(ctx, chunk); err != nil {
			slog.Warn("vector indexing failed, keyword index remains authoritative", "chunk_id", chunk.ID, "error", err)
		}
	}
	return nil
}
