package models

import "time"

// QAJob is a durable record of one scheduling attempt for a cell. Multiple
// jobs per cell are allowed; the distributed lock (pkg/lock) prevents
// concurrent execution, not enqueuing.
type QAJob struct {
	ID              int64
	MatrixCellID    int64
	Status          QAJobStatus
	WorkerMessageID *string
	ErrorMessage    *string
	CompletedAt     *time.Time
}

// QAJobMessage is the broker payload for the qa_worker queue (§6.1).
type QAJobMessage struct {
	JobID        int64 `json:"job_id"`
	MatrixCellID int64 `json:"matrix_cell_id"`
}
