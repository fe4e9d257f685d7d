package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matrixqa/engine/pkg/models"
)

// PostgresDocumentIndex implements DocumentIndex directly against the
// engine schema's (company_id, checksum) unique partial index.
type PostgresDocumentIndex struct {
	pool *pgxpool.Pool
}

// NewPostgresDocumentIndex constructs a PostgresDocumentIndex.
func NewPostgresDocumentIndex(pool *pgxpool.Pool) *PostgresDocumentIndex {
	return &PostgresDocumentIndex{pool: pool}
}

// FindByChecksum implements DocumentIndex.
func (idx *PostgresDocumentIndex) FindByChecksum(ctx context.Context, companyID, checksum string) (models.Document, bool, error) {
	var doc models.Document
	err := idx.pool.QueryRow(ctx,
		`SELECT id, company_id, filename, storage_key, checksum, content_type, file_size_bytes,
		        use_agentic_chunking, extraction_status, extracted_content_path, deleted
		 FROM document WHERE company_id = $1 AND checksum = $2 AND NOT deleted`,
		companyID, checksum,
	).Scan(&doc.ID, &doc.CompanyID, &doc.Filename, &doc.StorageKey, &doc.Checksum, &doc.ContentType,
		&doc.FileSizeBytes, &doc.UseAgenticChunking, &doc.ExtractionStatus, &doc.ExtractedContentPath, &doc.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, false, nil
	}
	if err != nil {
		return models.Document{}, false, fmt.Errorf("find document by checksum: %w", err)
	}
	return doc, true, nil
}

// CreateDocument implements DocumentIndex.
func (idx *PostgresDocumentIndex) CreateDocument(ctx context.Context, doc models.Document) (models.Document, error) {
	err := idx.pool.QueryRow(ctx,
		`INSERT INTO document (company_id, filename, storage_key, checksum, content_type, file_size_bytes, use_agentic_chunking, extraction_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		doc.CompanyID, doc.Filename, doc.StorageKey, doc.Checksum, doc.ContentType, doc.FileSizeBytes, doc.UseAgenticChunking, doc.ExtractionStatus,
	).Scan(&doc.ID)
	if err != nil {
		return models.Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}
