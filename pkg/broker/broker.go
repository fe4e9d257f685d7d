// Package broker publishes and consumes the two durable, DLQ-enabled
// queues this engine relies on: qa_worker and document_indexing. Messages
// are JSON, UTF-8; consumers must be idempotent since redelivery can
// happen after a crash or a nack.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Queue names per the broker message contract.
const (
	QueueQAWorker          = "qa_worker"
	QueueDocumentIndexing  = "document_indexing"
	dlqSuffix              = ".dlq"
)

// ErrTransient marks a publish/consume failure the caller may retry (a
// connection drop, a broker restart). Permanent failures (bad JSON) are
// returned unwrapped.
var ErrTransient = errors.New("broker: transient failure")

// Delivery is one message handed to a Consumer's handler. Ack/Nack report
// the outcome back to the broker; exactly one of them must be called.
type Delivery struct {
	Body []byte
	Ack  func() error
	Nack func(requeue bool) error
}

// Publisher publishes JSON-encoded messages to a named durable queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, message any) error
	Close() error
}

// Consumer delivers messages from a named durable queue to handler, one at
// a time, until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler func(Delivery) error) error
	Close() error
}

// marshal JSON-encodes message, wrapping marshal errors as permanent
// (never worth retrying).
func marshal(message any) ([]byte, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("marshal broker message: %w", err)
	}
	return body, nil
}
