// Package answer implements the single-transaction answer-set persistence
// step the QA worker and Agent QA workflow both call into (spec §4.7).
package answer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matrixqa/engine/pkg/models"
)

// Service persists AIAnswerSets as answer_set/answer/citation_set/citation
// rows, all within one transaction (§4.7).
type Service struct {
	pool *pgxpool.Pool
}

// New constructs a Service.
func New(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// answerDataJSON is the JSON shape persisted in answer.answer_data_json.
type answerDataJSON struct {
	Variant           models.AnswerVariant `json:"variant"`
	Text              string               `json:"text,omitempty"`
	DateISO8601       string               `json:"date_iso8601,omitempty"`
	CurrencyAmount    float64              `json:"currency_amount,omitempty"`
	CurrencyCode      string               `json:"currency_code,omitempty"`
	SelectOptionID    int64                `json:"select_option_id,omitempty"`
	SelectOptionValue string               `json:"select_option_value,omitempty"`
}

func toAnswerDataJSON(d models.AnswerData) answerDataJSON {
	return answerDataJSON{
		Variant: d.Variant, Text: d.Text, DateISO8601: d.DateISO8601,
		CurrencyAmount: d.CurrencyAmount, CurrencyCode: d.CurrencyCode,
		SelectOptionID: d.SelectOptionID, SelectOptionValue: d.SelectOptionValue,
	}
}

// confidence is the policy pinned for this implementation: a present
// answer set is fully confident, an empty one (no answer found) is not.
// The AI provider contract carries no per-answer confidence score to
// aggregate over, so this is the simplest rule consistent with
// answer_found.
func confidence(answerSet models.AIAnswerSet) float64 {
	if len(answerSet.Answers) > 0 {
		return 1.0
	}
	return 0.0
}

// Persist implements the §4.7 transaction. If setAsCurrent, matrix_cell's
// current_answer_set_id is updated to point at the new set.
func (s *Service) Persist(ctx context.Context, cellID, questionTypeID int64, answerSet models.AIAnswerSet, setAsCurrent bool) (models.AnswerSet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.AnswerSet{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	result, err := s.persistInTx(ctx, tx, cellID, questionTypeID, answerSet, setAsCurrent)
	if err != nil {
		return models.AnswerSet{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.AnswerSet{}, fmt.Errorf("commit tx: %w", err)
	}
	return result, nil
}

func (s *Service) persistInTx(ctx context.Context, tx pgx.Tx, cellID, questionTypeID int64, answerSet models.AIAnswerSet, setAsCurrent bool) (models.AnswerSet, error) {
	record := models.AnswerSet{
		MatrixCellID:   cellID,
		QuestionTypeID: questionTypeID,
		AnswerFound:    len(answerSet.Answers) > 0,
		Confidence:     confidence(answerSet),
	}

	err := tx.QueryRow(ctx,
		`INSERT INTO answer_set (matrix_cell_id, question_type_id, answer_found, confidence)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		record.MatrixCellID, record.QuestionTypeID, record.AnswerFound, record.Confidence,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return models.AnswerSet{}, fmt.Errorf("insert answer set: %w", err)
	}

	for _, aiAnswer := range answerSet.Answers {
		if err := ValidateAnswerData(questionTypeID, aiAnswer.Data); err != nil {
			return models.AnswerSet{}, err
		}
		if err := insertAnswer(ctx, tx, record.ID, aiAnswer); err != nil {
			return models.AnswerSet{}, err
		}
	}

	if setAsCurrent {
		if _, err := tx.Exec(ctx,
			`UPDATE matrix_cell SET current_answer_set_id = $1 WHERE id = $2`,
			record.ID, cellID,
		); err != nil {
			return models.AnswerSet{}, fmt.Errorf("set current answer set: %w", err)
		}
	}

	return record, nil
}

func insertAnswer(ctx context.Context, tx pgx.Tx, answerSetID int64, aiAnswer models.AIAnswer) error {
	dataJSON, err := json.Marshal(toAnswerDataJSON(aiAnswer.Data))
	if err != nil {
		return fmt.Errorf("marshal answer data: %w", err)
	}

	var answerID int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO answer (answer_set_id, answer_data_json) VALUES ($1, $2) RETURNING id`,
		answerSetID, dataJSON,
	).Scan(&answerID); err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}

	var citationSetID int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO citation_set (answer_id) VALUES ($1) RETURNING id`,
		answerID,
	).Scan(&citationSetID); err != nil {
		return fmt.Errorf("insert citation set: %w", err)
	}

	for i, citation := range aiAnswer.Citations {
		if _, err := tx.Exec(ctx,
			`INSERT INTO citation (citation_set_id, document_id, citation_order, quote_text)
			 VALUES ($1, $2, $3, $4)`,
			citationSetID, citation.DocumentID, i, citation.QuoteText,
		); err != nil {
			return fmt.Errorf("insert citation: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE answer SET current_citation_set_id = $1 WHERE id = $2`,
		citationSetID, answerID,
	); err != nil {
		return fmt.Errorf("set current citation set: %w", err)
	}

	return nil
}
