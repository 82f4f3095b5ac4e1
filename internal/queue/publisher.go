package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Publisher keeps one broker connection and channel open and re-dials
// lazily after failures.  It is safe for concurrent use.
type Publisher struct {
	url string
	log *zerolog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

// NewPublisher returns a Publisher for the broker at url.  No connection is
// made until the first Publish.
func NewPublisher(url string, log *zerolog.Logger) *Publisher {
	return &Publisher{url: url, log: log, declared: map[string]bool{}}
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.resetLocked()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p.conn, p.ch = conn, ch
	p.declared = map[string]bool{}
	return ch, nil
}

func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Publish sends body as a persistent JSON message to the queue named topic.
// The queue is declared durable on first use.
func (p *Publisher) Publish(ctx context.Context, topic string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	if !p.declared[topic] {
		if _, err := ch.QueueDeclare(topic, true, false, false, false, nil); err != nil {
			p.resetLocked()
			return fmt.Errorf("queue declare %s: %w", topic, err)
		}
		p.declared[topic] = true
	}
	err = ch.PublishWithContext(ctx,
		"",    // default exchange
		topic, // routing key = queue name
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		p.resetLocked()
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close releases the connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}
