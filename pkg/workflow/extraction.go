package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matrixqa/engine/pkg/broker"
	"github.com/matrixqa/engine/pkg/models"
)

// pageSeparator joins extracted per-page markdown into one document, per
// §4.6.1 step 4.
const pageSeparator = "\n\n---\n\n"

// Extractor turns one document's bytes into per-page markdown. Pages are
// returned in order; a blank page is an empty string, not an omitted one
// (§4.6.1 "preserving blank pages").
type Extractor interface {
	Extract(ctx context.Context, doc models.Document) ([]string, error)
}

// ExtractedContentStore saves combined extracted markdown to object storage
// and reports the key it was written under.
type ExtractedContentStore interface {
	SaveExtractedContent(ctx context.Context, documentID int64, companyID string, markdown string) (storageKey string, err error)
}

// extractableContentTypes mirrors §4.6.1 step 1 ("determine if the
// document is extractable by mime/extension"); anything else exits the
// workflow without any state change.
var extractableContentTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
	"text/markdown":   true,
}

// DocumentExtractionWorkflow implements §4.6.1.
type DocumentExtractionWorkflow struct {
	engine    *Engine
	pool      *pgxpool.Pool
	extractor Extractor
	store     ExtractedContentStore
	publisher broker.Publisher
}

// NewDocumentExtractionWorkflow constructs a DocumentExtractionWorkflow.
func NewDocumentExtractionWorkflow(engine *Engine, pool *pgxpool.Pool, extractor Extractor, store ExtractedContentStore, publisher broker.Publisher) *DocumentExtractionWorkflow {
	return &DocumentExtractionWorkflow{engine: engine, pool: pool, extractor: extractor, store: store, publisher: publisher}
}

// Start begins (or resumes, USE_EXISTING) document-extraction-{document_id}
// and runs it to completion before returning — extraction is invoked
// synchronously by its caller (the document-upload handler), unlike Agent
// QA which fires and forgets.
func (w *DocumentExtractionWorkflow) Start(ctx context.Context, input DocumentExtractionInput) error {
	workflowID := fmt.Sprintf("document-extraction-%d", input.DocumentID)
	handle, err := w.engine.Start(ctx, workflowID, KindDocumentExtraction, input)
	if err != nil {
		return err
	}

	if err := w.run(ctx, handle, input); err != nil {
		_ = handle.Fail(ctx, err.Error())
		return err
	}
	return handle.Complete(ctx)
}

func (w *DocumentExtractionWorkflow) run(ctx context.Context, handle *Handle, input DocumentExtractionInput) error {
	extractableRaw, err := handle.Activity(ctx, "check-extractable", func(ctx context.Context) (json.RawMessage, error) {
		var contentType string
		if err := w.pool.QueryRow(ctx, `SELECT content_type FROM document WHERE id = $1`, input.DocumentID).Scan(&contentType); err != nil {
			return nil, fmt.Errorf("load content type for document %d: %w", input.DocumentID, err)
		}
		return json.Marshal(extractableContentTypes[contentType])
	})
	if err != nil {
		return err
	}
	var extractable bool
	if err := json.Unmarshal(extractableRaw, &extractable); err != nil {
		return fmt.Errorf("unmarshal extractable flag: %w", err)
	}
	if !extractable {
		return nil
	}

	if _, err := handle.Activity(ctx, "mark-processing", func(ctx context.Context) (json.RawMessage, error) {
		return nil, w.markProcessing(ctx, input.DocumentID)
	}); err != nil {
		return err
	}

	pagesRaw, err := handle.Activity(ctx, "extract-pages", func(ctx context.Context) (json.RawMessage, error) {
		var doc models.Document
		if err := w.pool.QueryRow(ctx,
			`SELECT id, company_id, filename, storage_key, checksum, content_type, file_size_bytes,
			        use_agentic_chunking, extraction_status, extracted_content_path, deleted
			 FROM document WHERE id = $1`,
			input.DocumentID,
		).Scan(&doc.ID, &doc.CompanyID, &doc.Filename, &doc.StorageKey, &doc.Checksum, &doc.ContentType,
			&doc.FileSizeBytes, &doc.UseAgenticChunking, &doc.ExtractionStatus, &doc.ExtractedContentPath, &doc.Deleted,
		); err != nil {
			return nil, fmt.Errorf("load document %d: %w", input.DocumentID, err)
		}

		pages, err := w.extractor.Extract(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("extract document %d: %w", input.DocumentID, err)
		}
		return json.Marshal(pages)
	})
	if err != nil {
		return w.fail(ctx, input.DocumentID, err)
	}

	var pages []string
	if err := json.Unmarshal(pagesRaw, &pages); err != nil {
		return fmt.Errorf("unmarshal extracted pages: %w", err)
	}
	combined := strings.Join(pages, pageSeparator)

	keyRaw, err := handle.Activity(ctx, "save-content", func(ctx context.Context) (json.RawMessage, error) {
		key, err := w.store.SaveExtractedContent(ctx, input.DocumentID, input.CompanyID, combined)
		if err != nil {
			return nil, fmt.Errorf("save extracted content for document %d: %w", input.DocumentID, err)
		}
		return json.Marshal(key)
	})
	if err != nil {
		return w.fail(ctx, input.DocumentID, err)
	}

	var storageKey string
	if err := json.Unmarshal(keyRaw, &storageKey); err != nil {
		return fmt.Errorf("unmarshal storage key: %w", err)
	}

	if _, err := handle.Activity(ctx, "mark-completed", func(ctx context.Context) (json.RawMessage, error) {
		return nil, w.markCompleted(ctx, input.DocumentID, storageKey)
	}); err != nil {
		return err
	}

	if _, err := handle.Activity(ctx, "publish-indexing-intent", func(ctx context.Context) (json.RawMessage, error) {
		return nil, w.publisher.Publish(ctx, broker.QueueDocumentIndexing, models.DocumentIndexingMessage{DocumentID: input.DocumentID, CompanyID: input.CompanyID})
	}); err != nil {
		return err
	}

	return nil
}

func (w *DocumentExtractionWorkflow) markProcessing(ctx context.Context, documentID int64) error {
	now := time.Now().UTC()
	_, err := w.pool.Exec(ctx,
		`UPDATE document SET extraction_status = $1, extraction_started_at = $2 WHERE id = $3`,
		models.ExtractionStatusProcessing, now, documentID,
	)
	if err != nil {
		return fmt.Errorf("mark document %d processing: %w", documentID, err)
	}
	_, err = w.pool.Exec(ctx,
		`INSERT INTO document_extraction_job (document_id, status) VALUES ($1, $2)`,
		documentID, models.QAJobStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("insert extraction job for document %d: %w", documentID, err)
	}
	return nil
}

func (w *DocumentExtractionWorkflow) markCompleted(ctx context.Context, documentID int64, storageKey string) error {
	now := time.Now().UTC()
	_, err := w.pool.Exec(ctx,
		`UPDATE document SET extraction_status = $1, extraction_completed_at = $2, extracted_content_path = $3 WHERE id = $4`,
		models.ExtractionStatusCompleted, now, storageKey, documentID,
	)
	if err != nil {
		return fmt.Errorf("mark document %d completed: %w", documentID, err)
	}
	_, err = w.pool.Exec(ctx,
		`UPDATE document_extraction_job SET status = $1, completed_at = $2
		 WHERE document_id = $3 AND status = $4`,
		models.QAJobStatusCompleted, now, documentID, models.QAJobStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("complete extraction job for document %d: %w", documentID, err)
	}
	return nil
}

func (w *DocumentExtractionWorkflow) fail(ctx context.Context, documentID int64, cause error) error {
	now := time.Now().UTC()
	errMsg := cause.Error()
	if _, err := w.pool.Exec(ctx,
		`UPDATE document SET extraction_status = $1 WHERE id = $2`, models.ExtractionStatusFailed, documentID,
	); err != nil {
		return fmt.Errorf("mark document %d failed (original error %v): %w", documentID, cause, err)
	}
	if _, err := w.pool.Exec(ctx,
		`UPDATE document_extraction_job SET status = $1, error_message = $2, completed_at = $3
		 WHERE document_id = $4 AND status = $5`,
		models.QAJobStatusFailed, errMsg, now, documentID, models.QAJobStatusProcessing,
	); err != nil {
		return fmt.Errorf("record extraction job failure for document %d (original error %v): %w", documentID, cause, err)
	}
	return cause
}
