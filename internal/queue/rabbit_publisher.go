package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fairyhunter13/storefront-cart/internal/model"
)

var (
	// ErrNacked is returned when the broker refuses an order event.
	ErrNacked = errors.New("broker nacked publishing")
	// ErrNotConfirming is returned when the channel was not put in confirm mode.
	ErrNotConfirming = errors.New("channel is not in confirm mode")
)

// Confirmation is the pending broker acknowledgement of one publishing.
type Confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// Channel is the subset of an AMQP channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Confirm(noWait bool) error
	PublishDeferred(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (Confirmation, error)
}

// AMQPChannel adapts *amqp.Channel to Channel.
type AMQPChannel struct {
	*amqp.Channel
}

// PublishDeferred publishes msg and returns its deferred confirmation.
func (c AMQPChannel) PublishDeferred(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (Confirmation, error) {
	dc, err := c.Channel.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, immediate, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, ErrNotConfirming
	}
	return dc, nil
}

// RabbitPublisher implements service.OrderPublisher.
type RabbitPublisher struct {
	ch         Channel
	exchange   string
	routingKey string
}

// NewRabbitPublisher declares the order exchange once at startup and puts ch in
// confirm mode. Queues and bindings belong to the consumers of the exchange.
func NewRabbitPublisher(ch Channel, exchange, routingKey string) (*RabbitPublisher, error) {
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}

	return &RabbitPublisher{ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

// PublishPlaced sends an order-placed event and blocks until the broker acks it.
// A nack, or ctx ending first, is an error.
func (p *RabbitPublisher) PublishPlaced(ctx context.Context, msg model.OrderPlaced) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.OrderID,
		Timestamp:    msg.PlacedAt,
		Body:         body,
	}

	confirm, err := p.ch.PublishDeferred(ctx, p.exchange, p.routingKey, false, false, pub)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for order %s: %w", msg.OrderID, err)
	}
	if !acked {
		return fmt.Errorf("order %s: %w", msg.OrderID, ErrNacked)
	}
	return nil
}
