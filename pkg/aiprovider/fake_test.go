package aiprovider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixqa/engine/pkg/models"
)

func TestFakeClient_FallbackAndProgrammedResponses(t *testing.T) {
	fallback := models.AIAnswerSet{Answers: []models.AIAnswer{{Data: models.AnswerData{Variant: models.AnswerVariantText, Text: "fallback"}}}}
	client := NewFakeClient(fallback)

	got, err := client.Answer(context.Background(), AnswerRequest{QuestionText: "unprogrammed"})
	require.NoError(t, err)
	assert.Equal(t, fallback, got)

	programmed := models.AIAnswerSet{Answers: []models.AIAnswer{{Data: models.AnswerData{Variant: models.AnswerVariantText, Text: "programmed"}}}}
	client.SetResponse("known question", programmed)

	got, err = client.Answer(context.Background(), AnswerRequest{QuestionText: "known question"})
	require.NoError(t, err)
	assert.Equal(t, programmed, got)

	assert.Len(t, client.Requests, 2)
}

func TestFakeClient_ProgrammedError(t *testing.T) {
	client := NewFakeClient(models.AIAnswerSet{})
	client.SetError("bad question", ErrPermanent)

	_, err := client.Answer(context.Background(), AnswerRequest{QuestionText: "bad question"})
	require.True(t, errors.Is(err, ErrPermanent))
}
