package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMessage struct {
	JobID        int64 `json:"job_id"`
	MatrixCellID int64 `json:"matrix_cell_id"`
}

func TestFakeBroker_PublishThenConsume(t *testing.T) {
	b := NewFakeBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.Publish(ctx, QueueQAWorker, testMessage{JobID: 1, MatrixCellID: 2}))

	received := make(chan testMessage, 1)
	go func() {
		_ = b.Consume(ctx, QueueQAWorker, func(d Delivery) error {
			var msg testMessage
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				return err
			}
			received <- msg
			return d.Ack()
		})
	}()

	select {
	case msg := <-received:
		assert.Equal(t, testMessage{JobID: 1, MatrixCellID: 2}, msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestFakeBroker_NackWithRequeueRedelivers(t *testing.T) {
	b := NewFakeBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, b.Publish(ctx, QueueDocumentIndexing, testMessage{JobID: 5, MatrixCellID: 0}))

	attempts := make(chan int, 2)
	count := 0
	go func() {
		_ = b.Consume(ctx, QueueDocumentIndexing, func(d Delivery) error {
			count++
			attempts <- count
			if count == 1 {
				return d.Nack(true)
			}
			return d.Ack()
		})
	}()

	first := <-attempts
	second := <-attempts
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestFakeBroker_RecordsPublishedMessages(t *testing.T) {
	b := NewFakeBroker()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, QueueQAWorker, testMessage{JobID: 1}))
	require.NoError(t, b.Publish(ctx, QueueQAWorker, testMessage{JobID: 2}))

	published := b.Published()
	require.Len(t, published, 2)
	assert.Equal(t, QueueQAWorker, published[0].Queue)
}
