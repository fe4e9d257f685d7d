package broker

import (
	"github.com/streadway/amqp"
)

// amqpConnection abstracts *amqp.Connection so tests can inject a fake
// dialer instead of a real broker.
type amqpConnection interface {
	Channel() (amqpChannel, error)
	Close() error
}

// amqpChannel abstracts *amqp.Channel.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Close() error
}

// amqpDialer abstracts amqp.Dial.
type amqpDialer interface {
	Dial(url string) (amqpConnection, error)
}

type realAMQPConnection struct {
	conn *amqp.Connection
}

func (r *realAMQPConnection) Channel() (amqpChannel, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &realAMQPChannel{ch: ch}, nil
}

func (r *realAMQPConnection) Close() error {
	return r.conn.Close()
}

type realAMQPChannel struct {
	ch *amqp.Channel
}

func (r *realAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return r.ch.QueueDeclare(name, durable, autoDelete, exclusive, noWait, args)
}

func (r *realAMQPChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return r.ch.Publish(exchange, key, mandatory, immediate, msg)
}

func (r *realAMQPChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return r.ch.Consume(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
}

func (r *realAMQPChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	return r.ch.Qos(prefetchCount, prefetchSize, global)
}

func (r *realAMQPChannel) Close() error {
	return r.ch.Close()
}

type realAMQPDialer struct{}

func (realAMQPDialer) Dial(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &realAMQPConnection{conn: conn}, nil
}
