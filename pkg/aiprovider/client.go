// Package aiprovider defines the request/response contract between the
// engine and the external AI service that answers questions against
// documents. Only the contract is modeled here — prompting, model choice,
// and retries live on the provider side of the wire.
package aiprovider

import (
	"context"
	"errors"

	"github.com/matrixqa/engine/pkg/models"
)

// ErrTransient marks a provider failure the caller should retry (timeouts,
// rate limits, connection resets).
var ErrTransient = errors.New("ai provider: transient error")

// ErrPermanent marks a provider failure that will not succeed on retry
// (invalid request, content policy rejection).
var ErrPermanent = errors.New("ai provider: permanent error")

// DocumentRef is one document made available to the provider as context
// for answering a question.
type DocumentRef struct {
	DocumentID int64
	Content    string
}

// AnswerRequest is everything the provider needs to answer one question
// against one or more documents (STANDARD cells pass one document;
// CORRELATION cells pass two).
type AnswerRequest struct {
	QuestionText   string
	QuestionTypeID int64
	Documents      []DocumentRef
}

// Client answers a question against the supplied documents and returns the
// AI's typed answer set. Implementations must distinguish ErrTransient from
// ErrPermanent so callers (QA worker, agent QA workflow) can decide whether
// to retry.
type Client interface {
	Answer(ctx context.Context, req AnswerRequest) (models.AIAnswerSet, error)
	Close() error
}
