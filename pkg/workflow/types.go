package workflow

import "github.com/matrixqa/engine/pkg/models"

// DocumentExtractionInput is document-extraction-{document_id}'s input
// (§4.6.1).
type DocumentExtractionInput struct {
	DocumentID int64  `json:"document_id"`
	CompanyID  string `json:"company_id"`
}

// ChunkingIndexingInput is chunking-indexing-{document_id}'s input
// (§4.6.2/§4.6.3), started once extraction completes.
type ChunkingIndexingInput struct {
	DocumentID int64  `json:"document_id"`
	CompanyID  string `json:"company_id"`
}

// AgentQAInput is agent-qa-{job_id}-{cell_id}'s input, exactly the tuple
// §4.6.4 names. MinAnswers/MaxAnswers are a per-question policy spec.md
// leaves unmodeled; pinned to 1/1 (single-answer cells) since
// pkg/models.Question carries no such fields (DESIGN.md open question).
type AgentQAInput struct {
	JobID          int64             `json:"job_id"`
	CellID         int64             `json:"cell_id"`
	DocumentIDs    []int64           `json:"document_ids"`
	QuestionText   string            `json:"question_text"`
	MatrixType     models.MatrixType `json:"matrix_type"`
	QuestionTypeID int64             `json:"question_type_id"`
	QuestionID     int64             `json:"question_id"`
	CompanyID      string            `json:"company_id"`
	MinAnswers     int               `json:"min_answers"`
	MaxAnswers     int               `json:"max_answers"`
}

// WorkflowExecutionInput is workflow-execution-{execution_id}'s input
// (§4.6.5).
type WorkflowExecutionInput struct {
	ExecutionID int64  `json:"execution_id"`
	CompanyID   string `json:"company_id"`
}
