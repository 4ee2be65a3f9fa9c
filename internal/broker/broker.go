// Package broker provides the AMQP ingest and publish adapters. It owns
// connection and binding management so the core only ever sees decoded
// payloads: a subscriber delivers raw telemetry bodies to a handler, a
// publisher accepts encoded estimate bodies. Binding keys carry the
// personnel identifier as a suffix, one binding per tracker.
package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of the AMQP channel used by the adapters. It is an
// interface so tests can run against a fake channel without a broker.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Client wraps one AMQP connection shared by all adapters of the process.
type Client struct {
	conn *amqp.Connection
}

// Dial connects to the broker at the given AMQP URL.
func Dial(url string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection and every channel opened on it.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Channel opens a fresh channel on the shared connection.
func (c *Client) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

// BindingKey joins a configured binding key with a personnel identifier
// suffix, e.g. "generator.personnel" + "walker_1".
func BindingKey(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	if suffix == "" {
		return prefix
	}
	return prefix + "." + suffix
}

// Publisher emits payloads to one topic exchange under a fixed routing key.
type Publisher struct {
	ch         Channel
	exchange   string
	routingKey string
}

// NewPublisher declares the exchange and returns a publisher bound to it.
func NewPublisher(ch Channel, exchange, bindingKey, suffix string) (*Publisher, error) {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}
	return &Publisher{
		ch:         ch,
		exchange:   exchange,
		routingKey: BindingKey(bindingKey, suffix),
	}, nil
}

// Exchange returns the exchange this publisher emits to.
func (p *Publisher) Exchange() string { return p.exchange }

// RoutingKey returns the full routing key including the identifier suffix.
func (p *Publisher) RoutingKey() string { return p.routingKey }

// Publish sends one JSON payload.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	err := p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %q: %w", p.exchange, err)
	}
	return nil
}

// Handler receives one delivered payload together with the routing key it
// arrived under.
type Handler func(routingKey string, body []byte)

// Subscriber consumes payloads from one exchange binding and hands them to
// a handler. Delivery order within a binding follows queue order, so the
// per-identifier ordering the filters assume is preserved by the broker.
type Subscriber struct {
	ch         Channel
	exchange   string
	bindingKey string
	queue      string
}

// NewSubscriber declares the exchange and an exclusive queue bound with the
// suffixed binding key.
func NewSubscriber(ch Channel, exchange, bindingKey, suffix string) (*Subscriber, error) {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue on %q: %w", exchange, err)
	}
	key := BindingKey(bindingKey, suffix)
	if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue to %q with key %q: %w", exchange, key, err)
	}
	return &Subscriber{ch: ch, exchange: exchange, bindingKey: key, queue: q.Name}, nil
}

// Exchange returns the exchange this subscriber consumes from.
func (s *Subscriber) Exchange() string { return s.exchange }

// Consume delivers payloads to the handler until the context is cancelled
// or the delivery channel closes (connection loss).
func (s *Subscriber) Consume(ctx context.Context, handle Handler) error {
	deliveries, err := s.ch.Consume(s.queue, "", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from %q: %w", s.queue, err)
	}
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %q closed", s.exchange)
			}
			handle(d.RoutingKey, d.Body)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
