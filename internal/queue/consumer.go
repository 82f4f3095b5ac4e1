package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/runclub-portal/internal/model"
)

// Handler processes one decoded registration message.
type Handler func(ctx context.Context, topic string, msg model.RegistrationMessage) error

// Consumer listens on the registration queues and hands every message to a
// Handler.  Messages that cannot be decoded are rejected without requeue so
// a poison message cannot block the queue.  Handler failures are parked on
// a "<queue>.retry" queue whose expired messages dead-letter back to the
// source queue, with a growing delay, until MaxAttempts is reached.
type Consumer struct {
	url     string
	handler Handler
	log     *zerolog.Logger
}

func NewConsumer(url string, h Handler, log *zerolog.Logger) *Consumer {
	if h == nil {
		panic("NewConsumer: nil handler")
	}
	return &Consumer{url: url, handler: h, log: log}
}

// Run dials the broker and consumes until ctx is cancelled, reconnecting
// with exponential backoff (capped at 30s) whenever the connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("consumer: dial failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Msg("consumer: loop ended, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn().Err(err).Msg("consumer: set QoS failed")
	}

	type delivery struct {
		topic string
		d     amqp.Delivery
	}
	merged := make(chan delivery)
	done := make(chan struct{})
	defer close(done)
	closed := make(chan string, len(Queues))
	for _, q := range Queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", q, err)
		}
		if _, err := ch.QueueDeclare(retryQueue(q), true, false, false, false, amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": q,
		}); err != nil {
			return fmt.Errorf("queue declare %s: %w", retryQueue(q), err)
		}
		msgs, err := ch.Consume(q, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", q, err)
		}
		go func(topic string, msgs <-chan amqp.Delivery) {
			for d := range msgs {
				select {
				case merged <- delivery{topic, d}:
				case <-done:
					return
				}
			}
			closed <- topic
		}(q, msgs)
	}
	c.log.Info().Strs("queues", Queues).Msg("consumer: listening")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case q := <-closed:
			return fmt.Errorf("deliveries channel for %s closed", q)
		case m := <-merged:
			err := c.handle(ctx, m.topic, m.d.Body)
			if err == nil {
				_ = m.d.Ack(false)
				continue
			}
			attempt := attempts(m.d.Headers) + 1
			if !shouldRetry(err, attempt) {
				c.log.Error().Err(err).Str("queue", m.topic).Int("attempt", attempt).Msg("consumer: message dropped")
				_ = m.d.Nack(false, false)
				continue
			}
			c.log.Warn().Err(err).Str("queue", m.topic).Int("attempt", attempt).Msg("consumer: handle failed, retrying")
			if perr := c.retry(ctx, ch, m.topic, m.d, attempt); perr != nil {
				c.log.Error().Err(perr).Str("queue", m.topic).Msg("consumer: park for retry failed")
				_ = m.d.Nack(false, true)
				continue
			}
			_ = m.d.Ack(false)
		}
	}
}

// MaxAttempts bounds how often a failing message is handled.
const MaxAttempts = 5

const headerAttempts = "x-attempts"

func retryQueue(q string) string { return q + ".retry" }

// attempts reads the failed-attempt count carried by a delivery.
func attempts(h amqp.Table) int {
	switch v := h[headerAttempts].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

// retryDelay doubles from 5s per failed attempt, capped at 5m.
func retryDelay(attempt int) time.Duration {
	d := 5 * time.Second
	for i := 1; i < attempt && d < 5*time.Minute; i++ {
		d *= 2
	}
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

// shouldRetry reports whether a message that failed for the attempt-th
// time goes back for another try.
func shouldRetry(err error, attempt int) bool {
	return !errors.Is(err, ErrMalformed) && attempt < MaxAttempts
}

// retry parks d on the retry queue of topic; it returns to topic once its
// per-message TTL expires.
func (c *Consumer) retry(ctx context.Context, ch *amqp.Channel, topic string, d amqp.Delivery, attempt int) error {
	h := amqp.Table{}
	for k, v := range d.Headers {
		h[k] = v
	}
	h[headerAttempts] = int32(attempt)
	return ch.PublishWithContext(ctx, "", retryQueue(topic), false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Headers:      h,
		Body:         d.Body,
		Expiration:   strconv.FormatInt(retryDelay(attempt).Milliseconds(), 10),
	})
}

// ErrMalformed wraps messages whose body is not a registration message.
var ErrMalformed = errors.New("malformed message")

func (c *Consumer) handle(ctx context.Context, topic string, body []byte) error {
	msg, err := Decode(body)
	if err != nil {
		return err
	}
	return c.handler(ctx, topic, msg)
}

// Decode parses a registration message body.
func Decode(body []byte) (model.RegistrationMessage, error) {
	var msg model.RegistrationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Booking == "" || msg.Email == "" {
		return msg, fmt.Errorf("%w: missing booking or email", ErrMalformed)
	}
	return msg, nil
}
