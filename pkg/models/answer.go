package models

import "time"

// AnswerSet is an append-only group of answers produced for one cell by one
// QA attempt. A cell's "current" pointer moves to the newest successful set.
type AnswerSet struct {
	ID             int64
	MatrixCellID   int64
	QuestionTypeID int64
	AnswerFound    bool
	Confidence     float64
	CreatedAt      time.Time
}

// AnswerData is the discriminated payload of an Answer. Exactly one of the
// typed fields is populated, selected by the owning question's
// question_type_id (see AnswerVariant).
type AnswerData struct {
	Variant AnswerVariant

	Text string // TEXT

	DateISO8601 string // DATE, formatted as YYYY-MM-DD

	CurrencyAmount float64 // CURRENCY
	CurrencyCode   string  // CURRENCY, ISO-4217

	SelectOptionID    int64  // SELECT
	SelectOptionValue string // SELECT
}

// Answer is one typed answer within an answer set.
type Answer struct {
	ID                  int64
	AnswerSetID         int64
	Data                AnswerData
	CurrentCitationSetID *int64
}

// CitationSet groups the citations supporting one answer.
type CitationSet struct {
	ID       int64
	AnswerID int64
}

// Citation is a single supporting quote from a document.
type Citation struct {
	ID            int64
	CitationSetID int64
	DocumentID    int64
	CitationOrder int
	QuoteText     string
}

// AIAnswer is one answer as produced by the AI provider, before
// persistence assigns ids.
type AIAnswer struct {
	Data      AnswerData
	Citations []AICitation
}

// AICitation is a citation as produced by the AI provider, before
// persistence assigns ids.
type AICitation struct {
	DocumentID int64
	QuoteText  string
}

// AIAnswerSet is the sequence of typed answers an AI provider call (or the
// agent QA workflow) returns for one cell.
type AIAnswerSet struct {
	Answers []AIAnswer
}
