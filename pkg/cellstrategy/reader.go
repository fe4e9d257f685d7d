package cellstrategy

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matrixqa/engine/pkg/aiprovider"
	"github.com/matrixqa/engine/pkg/models"
)

// AnswerProvider is the subset of aiprovider.Client a strategy needs. Named
// narrowly so tests can fake it without depending on aiprovider's gRPC
// wiring.
type AnswerProvider interface {
	Answer(ctx context.Context, req aiprovider.AnswerRequest) (models.AIAnswerSet, error)
}

// CellReader loads the state ProcessCellToCompletion needs: the cell's
// refs, the documents and question those refs point at, and document
// content. Implemented against Postgres here; cmd/matrixqa shares one
// instance, backed by the same pool, between pkg/qaworker and the agent QA
// workflow.
type CellReader interface {
	LoadCell(ctx context.Context, cellID int64) (models.MatrixCell, error)
	LoadCellRefs(ctx context.Context, cellID int64) ([]models.CellEntityRef, error)
	LoadEntitySetMember(ctx context.Context, id int64) (models.EntitySetMember, error)
	LoadDocumentContent(ctx context.Context, documentID int64, companyID string) (models.Document, string, error)
	LoadQuestion(ctx context.Context, questionID int64, companyID string) (models.Question, error)
}

// ContentLoader reads a document's extracted text. Implemented by
// pkg/blobstore once a document's extracted_content_path resolves to an
// object in storage; kept as a narrow interface here so cellstrategy never
// imports blobstore directly.
type ContentLoader interface {
	LoadExtractedContent(ctx context.Context, doc models.Document) (string, error)
}

// PostgresReader implements CellReader directly against the engine schema.
type PostgresReader struct {
	pool    *pgxpool.Pool
	content ContentLoader
}

// NewPostgresReader constructs a PostgresReader. content resolves a
// document's extracted text; pass nil in tests that stub documents with
// inline content (PostgresReader then refuses to call it).
func NewPostgresReader(pool *pgxpool.Pool, content ContentLoader) *PostgresReader {
	return &PostgresReader{pool: pool, content: content}
}

// LoadCell implements CellReader.
func (r *PostgresReader) LoadCell(ctx context.Context, cellID int64) (models.MatrixCell, error) {
	var cell models.MatrixCell
	err := r.pool.QueryRow(ctx,
		`SELECT id, matrix_id, company_id, status, cell_type, current_answer_set_id, cell_signature, deleted
		 FROM matrix_cell WHERE id = $1`,
		cellID,
	).Scan(&cell.ID, &cell.MatrixID, &cell.CompanyID, &cell.Status, &cell.CellType, &cell.CurrentAnswerSetID, &cell.CellSignature, &cell.Deleted)
	if err != nil {
		return models.MatrixCell{}, fmt.Errorf("load cell %d: %w", cellID, err)
	}
	return cell, nil
}

// LoadCellRefs implements CellReader.
func (r *PostgresReader) LoadCellRefs(ctx context.Context, cellID int64) ([]models.CellEntityRef, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, matrix_cell_id, matrix_id, entity_set_id, entity_set_member_id, role, entity_order, company_id
		 FROM cell_entity_ref WHERE matrix_cell_id = $1 ORDER BY entity_order ASC`,
		cellID,
	)
	if err != nil {
		return nil, fmt.Errorf("load cell refs for %d: %w", cellID, err)
	}
	defer rows.Close()

	var refs []models.CellEntityRef
	for rows.Next() {
		var ref models.CellEntityRef
		if err := rows.Scan(&ref.ID, &ref.MatrixCellID, &ref.MatrixID, &ref.EntitySetID, &ref.EntitySetMemberID, &ref.Role, &ref.EntityOrder, &ref.CompanyID); err != nil {
			return nil, fmt.Errorf("scan cell ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// LoadEntitySetMember implements CellReader.
func (r *PostgresReader) LoadEntitySetMember(ctx context.Context, id int64) (models.EntitySetMember, error) {
	var m models.EntitySetMember
	err := r.pool.QueryRow(ctx,
		`SELECT id, entity_set_id, entity_type, entity_id, member_order, label, deleted
		 FROM entity_set_member WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.EntitySetID, &m.EntityType, &m.EntityID, &m.MemberOrder, &m.Label, &m.Deleted)
	if err != nil {
		return models.EntitySetMember{}, fmt.Errorf("load entity set member %d: %w", id, err)
	}
	return m, nil
}

// LoadDocumentContent implements CellReader, resolving the document row
// then its extracted text via the configured ContentLoader.
func (r *PostgresReader) LoadDocumentContent(ctx context.Context, documentID int64, companyID string) (models.Document, string, error) {
	var doc models.Document
	err := r.pool.QueryRow(ctx,
		`SELECT id, company_id, filename, storage_key, checksum, content_type, file_size_bytes,
		        use_agentic_chunking, extraction_status, extracted_content_path, deleted
		 FROM document WHERE id = $1 AND company_id = $2`,
		documentID, companyID,
	).Scan(&doc.ID, &doc.CompanyID, &doc.Filename, &doc.StorageKey, &doc.Checksum, &doc.ContentType,
		&doc.FileSizeBytes, &doc.UseAgenticChunking, &doc.ExtractionStatus, &doc.ExtractedContentPath, &doc.Deleted)
	if err != nil {
		return models.Document{}, "", fmt.Errorf("load document %d: %w", documentID, err)
	}

	if r.content == nil {
		return doc, "", fmt.Errorf("cellstrategy: no content loader configured for document %d", documentID)
	}
	content, err := r.content.LoadExtractedContent(ctx, doc)
	if err != nil {
		return models.Document{}, "", fmt.Errorf("load extracted content for document %d: %w", documentID, err)
	}
	return doc, content, nil
}

// LoadQuestion implements CellReader.
func (r *PostgresReader) LoadQuestion(ctx context.Context, questionID int64, companyID string) (models.Question, error) {
	var q models.Question
	err := r.pool.QueryRow(ctx,
		`SELECT id, company_id, text, question_type_id, use_agent_qa, deleted
		 FROM question WHERE id = $1 AND company_id = $2`,
		questionID, companyID,
	).Scan(&q.ID, &q.CompanyID, &q.Text, &q.QuestionTypeID, &q.UseAgentQA, &q.Deleted)
	if err != nil {
		return models.Question{}, fmt.Errorf("load question %d: %w", questionID, err)
	}
	return q, nil
}
