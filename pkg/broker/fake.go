package broker

import (
	"context"
	"fmt"
	"sync"
)

// FakeBroker is an in-process Publisher+Consumer for unit tests. Published
// messages queue up per-queue in FIFO order; Consume drains them until ctx
// is cancelled, matching the real AMQP consumer's blocking contract.
type FakeBroker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queues  map[string][][]byte
	closed  bool
	pubLog  []PublishedMessage
}

// PublishedMessage records one message handed to Publish, for test
// assertions that don't want to reach into queue internals.
type PublishedMessage struct {
	Queue   string
	Message any
}

// NewFakeBroker returns a ready-to-use in-process broker.
func NewFakeBroker() *FakeBroker {
	b := &FakeBroker{queues: make(map[string][][]byte)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish implements Publisher.
func (b *FakeBroker) Publish(_ context.Context, queue string, message any) error {
	body, err := marshal(message)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("%w: broker is closed", ErrTransient)
	}
	b.queues[queue] = append(b.queues[queue], body)
	b.pubLog = append(b.pubLog, PublishedMessage{Queue: queue, Message: message})
	b.cond.Broadcast()
	return nil
}

// Consume implements Consumer, draining queue until ctx is cancelled.
func (b *FakeBroker) Consume(ctx context.Context, queue string, handler func(Delivery) error) error {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
		close(done)
	}()

	for {
		b.mu.Lock()
		for len(b.queues[queue]) == 0 && ctx.Err() == nil && !b.closed {
			b.cond.Wait()
		}
		if ctx.Err() != nil || b.closed {
			b.mu.Unlock()
			return ctx.Err()
		}

		body := b.queues[queue][0]
		b.queues[queue] = b.queues[queue][1:]
		b.mu.Unlock()

		delivery := Delivery{
			Body: body,
			Ack:  func() error { return nil },
			Nack: func(requeue bool) error {
				if requeue {
					b.mu.Lock()
					b.queues[queue] = append(b.queues[queue], body)
					b.cond.Broadcast()
					b.mu.Unlock()
				}
				return nil
			},
		}
		if err := handler(delivery); err != nil {
			_ = delivery.Nack(false)
		}
	}
}

// Published returns every message handed to Publish, in order.
func (b *FakeBroker) Published() []PublishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PublishedMessage, len(b.pubLog))
	copy(out, b.pubLog)
	return out
}

// Close implements both Publisher and Consumer.
func (b *FakeBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	return nil
}
