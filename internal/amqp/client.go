// Package amqp publishes ledger change events to RabbitMQ so external sync
// consumers can follow commits. Publishing sits behind a circuit breaker:
// after repeated failures the client stops trying for a while instead of
// blocking every commit on a dead broker.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"conti/internal/ledger"
	"conti/internal/log"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
	dialAttempts   = 3
)

var ErrCircuitOpen = errors.New("amqp: circuit breaker is open")

type Client struct {
	url          string
	exchangeName string
	queueName    string
	logger       *log.Logger

	connMu  sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	failureCount int64
	state        int32
	failMu       sync.Mutex
	lastFailure  time.Time
}

// NewClient connects to the broker and declares the exchange and queue.
func NewClient(ctx context.Context, url, exchangeName, queueName string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Discard()
	}
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       logger.WithComponent(log.ComponentAMQP),
	}
	if err := c.ensureChannel(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureChannel(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.channel != nil && c.conn != nil && !c.conn.IsClosed() {
		return nil
	}
	c.closeLocked()

	var lastErr error
	for attempt := 0; attempt < dialAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(exponentialBackoff(attempt - 1)):
			}
		}
		conn, err := amqp091.Dial(c.url)
		if err != nil {
			lastErr = fmt.Errorf("dial AMQP: %w", err)
			c.logger.WarnContext(ctx, "AMQP dial failed", "attempt", attempt+1, log.FieldError, err)
			continue
		}
		channel, err := conn.Channel()
		if err != nil {
			conn.Close()
			lastErr = fmt.Errorf("open channel: %w", err)
			continue
		}
		c.conn, c.channel = conn, channel
		if err := c.setup(); err != nil {
			c.closeLocked()
			return fmt.Errorf("setup exchange and queue: %w", err)
		}
		c.logger.InfoContext(ctx, "AMQP channel ready", "exchange", c.exchangeName, "queue", c.queueName)
		return nil
	}
	return lastErr
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Direct exchange: the routing key is the queue name.
	err = c.channel.QueueBind(c.queueName, c.queueName, c.exchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// Publish implements ledger.EventSink.
func (c *Client) Publish(ctx context.Context, ev ledger.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("publish ledger event %d: %w", ev.Version, ErrCircuitOpen)
	}

	body, err := NewLedgerEventMessage(ev).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := c.ensureChannel(ctx); err != nil {
		c.recordFailure()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	c.connMu.Lock()
	channel := c.channel
	c.connMu.Unlock()
	if channel == nil {
		c.recordFailure()
		return fmt.Errorf("publish message: %w", amqp091.ErrClosed)
	}

	err = channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			MessageId:    fmt.Sprintf("ledger-%d", ev.Version),
			Type:         ev.Operation,
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.connMu.Lock()
			c.closeLocked()
			c.connMu.Unlock()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	c.logger.DebugContext(ctx, "published ledger event",
		log.FieldVersion, ev.Version,
		log.FieldOperation, ev.Operation,
		"exchange", c.exchangeName,
		"queue", c.queueName)
	return nil
}

// Consume delivers ledger events to handler until ctx is done. A handler
// error requeues the message; undecodable messages are dropped.
func (c *Client) Consume(ctx context.Context, handler func(context.Context, *LedgerEventMessage) error) error {
	if err := c.ensureChannel(ctx); err != nil {
		return err
	}
	c.connMu.Lock()
	channel := c.channel
	c.connMu.Unlock()
	if channel == nil {
		return fmt.Errorf("start consuming: %w", amqp091.ErrClosed)
	}

	msgs, err := channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "consuming ledger events", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "stopping ledger event consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}

			msg, err := LedgerEventMessageFromJSON(delivery.Body)
			if err != nil {
				c.logger.ErrorContext(ctx, "failed to decode ledger event", log.FieldError, err)
				_ = delivery.Nack(false, false)
				continue
			}

			if err := handler(ctx, msg); err != nil {
				c.logger.ErrorContext(ctx, "failed to handle ledger event",
					log.FieldError, err,
					log.FieldVersion, msg.Event.Version)
				_ = delivery.Nack(false, true)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

// Healthy reports whether the circuit breaker currently allows publishing.
func (c *Client) Healthy() bool {
	return !c.isCircuitOpen()
}

func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.channel != nil {
		_ = c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		if err != nil && !errors.Is(err, amqp091.ErrClosed) {
			return err
		}
	}
	return nil
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	if atomic.SwapInt32(&c.state, StateClosed) != StateClosed {
		c.logger.Info("AMQP circuit breaker closed")
	}
}

func (c *Client) recordFailure() {
	failures := atomic.AddInt64(&c.failureCount, 1)

	c.failMu.Lock()
	c.lastFailure = time.Now()
	c.failMu.Unlock()

	if failures >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		if atomic.SwapInt32(&c.state, StateOpen) != StateOpen {
			c.logger.Warn("AMQP circuit breaker opened", "failures", failures)
		}
	}
}

// isCircuitOpen moves an open circuit to half-open once openTimeout has
// passed since the last failure, letting one attempt through.
func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.failMu.Lock()
	since := time.Since(c.lastFailure)
	c.failMu.Unlock()

	if since > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

// exponentialBackoff returns 1s doubled per attempt, capped at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "closed network"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
