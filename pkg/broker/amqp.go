package broker

import (
	"context"
	"fmt"

	"github.com/streadway/amqp"
)

// declareDurableQueue declares queue with a dead-letter exchange/queue so
// rejected or expired messages land in "<queue>.dlq" instead of being
// dropped, per the broker contract's "DLQ-enabled" requirement.
func declareDurableQueue(ch amqpChannel, queue string) error {
	dlq := queue + dlqSuffix

	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq %s: %w", dlq, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return nil
}

// AMQPClient implements both Publisher and Consumer against a real (or, in
// tests, faked) AMQP broker. A single connection and channel are shared;
// every queue used is declared lazily on first use.
type AMQPClient struct {
	dialer   amqpDialer
	conn     amqpConnection
	ch       amqpChannel
	declared map[string]bool
}

// NewAMQPClient dials url and opens a channel.
func NewAMQPClient(url string) (*AMQPClient, error) {
	return newAMQPClientWithDialer(url, realAMQPDialer{})
}

func newAMQPClientWithDialer(url string, dialer amqpDialer) (*AMQPClient, error) {
	conn, err := dialer.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial amqp: %v", ErrTransient, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: open channel: %v", ErrTransient, err)
	}

	return &AMQPClient{
		dialer:   dialer,
		conn:     conn,
		ch:       ch,
		declared: make(map[string]bool),
	}, nil
}

func (c *AMQPClient) ensureDeclared(queue string) error {
	if c.declared[queue] {
		return nil
	}
	if err := declareDurableQueue(c.ch, queue); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	c.declared[queue] = true
	return nil
}

// Publish implements Publisher.
func (c *AMQPClient) Publish(_ context.Context, queue string, message any) error {
	if err := c.ensureDeclared(queue); err != nil {
		return err
	}

	body, err := marshal(message)
	if err != nil {
		return err
	}

	err = c.ch.Publish("", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("%w: publish to %s: %v", ErrTransient, queue, err)
	}
	return nil
}

// Consume implements Consumer. It blocks, invoking handler for each
// delivery, until ctx is cancelled or the delivery channel closes.
func (c *AMQPClient) Consume(ctx context.Context, queue string, handler func(Delivery) error) error {
	if err := c.ensureDeclared(queue); err != nil {
		return err
	}

	if err := c.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("%w: set qos: %v", ErrTransient, err)
	}

	deliveries, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%w: consume %s: %v", ErrTransient, queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("%w: delivery channel for %s closed", ErrTransient, queue)
			}
			delivery := d
			wrapped := Delivery{
				Body: delivery.Body,
				Ack:  func() error { return delivery.Ack(false) },
				Nack: func(requeue bool) error { return delivery.Nack(false, requeue) },
			}
			if err := handler(wrapped); err != nil {
				_ = wrapped.Nack(false)
				continue
			}
		}
	}
}

// Close closes the channel and connection.
func (c *AMQPClient) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
