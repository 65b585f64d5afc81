package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nikilm-offx/TNEA-Insight/internal/logging"
	amqp "github.com/rabbitmq/amqp091-go"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes persistent JSON messages to a topic exchange,
// once for the user's routing key and once for the admin broadcast.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	logger   logging.Logger
}

// NewAMQPPublisher dials url and declares exchange as a durable topic exchange.
func NewAMQPPublisher(url, exchange string, logger logging.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq exchange declare: %w", err)
	}
	return newAMQPPublisher(conn, ch, exchange, logger), nil
}

func newAMQPPublisher(conn *amqp.Connection, ch channel, exchange string, logger logging.Logger) *AMQPPublisher {
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, logger: logger.With("component", "events")}
}

func (p *AMQPPublisher) Publish(ctx context.Context, e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		p.logger.Error(ctx, "marshal event failed", "type", e.Type, "error", err)
		return
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.Timestamp,
		Type:         string(e.Type),
		Body:         body,
	}
	for _, key := range []string{UserRoutingKey(e.UserID), AdminRoutingKey} {
		if err := p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg); err != nil {
			p.logger.Warn(ctx, "publish event failed", "type", e.Type, "routing_key", key, "error", err)
		}
	}
}

func (p *AMQPPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		return err
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
