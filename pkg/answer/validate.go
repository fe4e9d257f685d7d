package answer

import (
	"fmt"
	"time"

	"github.com/matrixqa/engine/pkg/models"
	"github.com/matrixqa/engine/pkg/services"
)

// QuestionTypeID values. The spec leaves the question_type_id -> variant
// mapping implicit ("a discriminated record whose variant is determined
// by question_type_id"); this is the pinned mapping (DESIGN.md open
// question).
const (
	QuestionTypeText     int64 = 1
	QuestionTypeDate     int64 = 2
	QuestionTypeCurrency int64 = 3
	QuestionTypeSelect   int64 = 4
)

var variantForQuestionType = map[int64]models.AnswerVariant{
	QuestionTypeText:     models.AnswerVariantText,
	QuestionTypeDate:     models.AnswerVariantDate,
	QuestionTypeCurrency: models.AnswerVariantCurrency,
	QuestionTypeSelect:   models.AnswerVariantSelect,
}

// ValidateAnswerData checks that data's variant matches questionTypeID and
// that the variant's required fields are populated, before it is ever
// persisted.
func ValidateAnswerData(questionTypeID int64, data models.AnswerData) error {
	expected, ok := variantForQuestionType[questionTypeID]
	if !ok {
		return services.NewValidationError("question_type_id", fmt.Sprintf("unknown question_type_id %d", questionTypeID))
	}
	if data.Variant != expected {
		return services.NewValidationError("variant", fmt.Sprintf("question_type_id %d requires variant %s, got %s", questionTypeID, expected, data.Variant))
	}

	switch data.Variant {
	case models.AnswerVariantText:
		if data.Text == "" {
			return services.NewValidationError("text", "must not be empty for TEXT answers")
		}
	case models.AnswerVariantDate:
		if _, err := time.Parse("2006-01-02", data.DateISO8601); err != nil {
			return services.NewValidationError("date_iso8601", "must be an ISO-8601 date (YYYY-MM-DD)")
		}
	case models.AnswerVariantCurrency:
		if data.CurrencyCode == "" {
			return services.NewValidationError("currency_code", "must not be empty for CURRENCY answers")
		}
	case models.AnswerVariantSelect:
		if data.SelectOptionID == 0 {
			return services.NewValidationError("select_option_id", "must be set for SELECT answers")
		}
	}
	return nil
}
