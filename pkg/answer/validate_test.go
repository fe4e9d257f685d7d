package answer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/matrixqa/engine/pkg/answer"
	"github.com/matrixqa/engine/pkg/models"
	"github.com/matrixqa/engine/pkg/services"
)

func TestValidateAnswerData(t *testing.T) {
	t.Run("valid text", func(t *testing.T) {
		err := answer.ValidateAnswerData(answer.QuestionTypeText, models.AnswerData{Variant: models.AnswerVariantText, Text: "hello"})
		assert.NoError(t, err)
	})

	t.Run("valid date", func(t *testing.T) {
		err := answer.ValidateAnswerData(answer.QuestionTypeDate, models.AnswerData{Variant: models.AnswerVariantDate, DateISO8601: "2026-01-15"})
		assert.NoError(t, err)
	})

	t.Run("invalid date format", func(t *testing.T) {
		err := answer.ValidateAnswerData(answer.QuestionTypeDate, models.AnswerData{Variant: models.AnswerVariantDate, DateISO8601: "01/15/2026"})
		assert.True(t, services.IsValidationError(err))
	})

	t.Run("valid currency", func(t *testing.T) {
		err := answer.ValidateAnswerData(answer.QuestionTypeCurrency, models.AnswerData{Variant: models.AnswerVariantCurrency, CurrencyAmount: 10.5, CurrencyCode: "USD"})
		assert.NoError(t, err)
	})

	t.Run("missing currency code", func(t *testing.T) {
		err := answer.ValidateAnswerData(answer.QuestionTypeCurrency, models.AnswerData{Variant: models.AnswerVariantCurrency, CurrencyAmount: 10.5})
		assert.True(t, services.IsValidationError(err))
	})

	t.Run("valid select", func(t *testing.T) {
		err := answer.ValidateAnswerData(answer.QuestionTypeSelect, models.AnswerData{Variant: models.AnswerVariantSelect, SelectOptionID: 3, SelectOptionValue: "Yes"})
		assert.NoError(t, err)
	})

	t.Run("variant mismatch", func(t *testing.T) {
		err := answer.ValidateAnswerData(answer.QuestionTypeText, models.AnswerData{Variant: models.AnswerVariantDate, DateISO8601: "2026-01-15"})
		assert.True(t, services.IsValidationError(err))
	})

	t.Run("unknown question type", func(t *testing.T) {
		err := answer.ValidateAnswerData(999, models.AnswerData{Variant: models.AnswerVariantText, Text: "x"})
		assert.True(t, services.IsValidationError(err))
	})
}
