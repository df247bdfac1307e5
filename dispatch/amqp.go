package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/agentplexus/orderline/order"
)

// Verify interface compliance at compile time.
var _ Sink = (*AMQPSink)(nil)

// AMQPSink publishes each finalized order as a persistent JSON message
// to an exchange, waiting for the broker's publisher confirm so a
// silently dropped message still counts as a delivery failure.
type AMQPSink struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	confirms   <-chan amqp.Confirmation
	exchange   string
	routingKey string

	mu sync.Mutex // serializes Publish while confirms are in use
}

// NewAMQPSink dials the broker, declares the exchange (durable topic),
// and enables publisher confirms.
func NewAMQPSink(url, exchange, routingKey string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp confirm mode: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	return &AMQPSink{
		conn:       conn,
		ch:         ch,
		confirms:   confirms,
		exchange:   exchange,
		routingKey: routingKey,
	}, nil
}

// Name returns "amqp".
func (s *AMQPSink) Name() string {
	return "amqp"
}

// Deliver publishes the order and waits for the broker's ack.
func (s *AMQPSink) Deliver(ctx context.Context, snap order.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("amqp: encoding order: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.ch.PublishWithContext(ctx, s.exchange, s.routingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now(),
		MessageId:    snap.CallID,
		Body:         body,
	})
	if err != nil {
		return &TransportError{Sink: "amqp", Message: err.Error(), Retryable: true}
	}

	select {
	case conf := <-s.confirms:
		if conf.Ack {
			return nil
		}
		return &TransportError{Sink: "amqp", Message: "publish not confirmed by broker", Retryable: true}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the channel and connection.
func (s *AMQPSink) Close() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
