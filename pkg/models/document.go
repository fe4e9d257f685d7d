package models

import "time"

// Document is an uploaded file and the extraction state machine's subject.
type Document struct {
	ID                     int64
	CompanyID              string
	Filename               string
	StorageKey             string
	Checksum               string // sha-256 hex
	ContentType            string
	FileSizeBytes          int64
	UseAgenticChunking     bool
	ExtractionStatus       ExtractionStatus
	ExtractedContentPath   *string
	ExtractionStartedAt    *time.Time
	ExtractionCompletedAt  *time.Time
	Deleted                bool
}

// DocumentExtractionJob mirrors the QAJob shape for the extraction phase.
type DocumentExtractionJob struct {
	ID           int64
	DocumentID   int64
	Status       QAJobStatus
	ErrorMessage *string
	CompletedAt  *time.Time
}

// DocumentIndexingJob mirrors the QAJob shape for the indexing phase.
type DocumentIndexingJob struct {
	ID           int64
	DocumentID   int64
	Status       QAJobStatus
	ErrorMessage *string
	CompletedAt  *time.Time
}

// DocumentIndexingMessage is the broker payload for the document_indexing
// queue (§6.1).
type DocumentIndexingMessage struct {
	JobID      int64  `json:"job_id"`
	DocumentID int64  `json:"document_id"`
	CompanyID  string `json:"company_id"`
}

// Chunk is one unit of a document produced by the chunking workflow and
// handed to the hybrid search index.
type Chunk struct {
	ID         int64
	DocumentID int64
	CompanyID  string
	Ordinal    int
	Content    string
	Metadata   map[string]string
}
