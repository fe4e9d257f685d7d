package aiprovider

import (
	"context"
	"sync"

	"github.com/matrixqa/engine/pkg/models"
)

// FakeClient is an in-process Client for tests. Responses are programmed by
// test code via SetResponse / SetError; Requests records every call made.
type FakeClient struct {
	mu        sync.Mutex
	responses map[string]models.AIAnswerSet
	errs      map[string]error
	fallback  models.AIAnswerSet
	Requests  []AnswerRequest
}

// NewFakeClient returns a FakeClient that answers every question with
// fallback unless a more specific response was programmed via SetResponse.
func NewFakeClient(fallback models.AIAnswerSet) *FakeClient {
	return &FakeClient{
		responses: make(map[string]models.AIAnswerSet),
		errs:      make(map[string]error),
		fallback:  fallback,
	}
}

// SetResponse programs the answer set to return for exact question text.
func (c *FakeClient) SetResponse(questionText string, answerSet models.AIAnswerSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[questionText] = answerSet
}

// SetError programs Answer to fail for exact question text.
func (c *FakeClient) SetError(questionText string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[questionText] = err
}

// Answer implements Client.
func (c *FakeClient) Answer(_ context.Context, req AnswerRequest) (models.AIAnswerSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Requests = append(c.Requests, req)

	if err, ok := c.errs[req.QuestionText]; ok {
		return models.AIAnswerSet{}, err
	}
	if answerSet, ok := c.responses[req.QuestionText]; ok {
		return answerSet, nil
	}
	return c.fallback, nil
}

// Close implements Client.
func (c *FakeClient) Close() error { return nil }
