package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"inbox_backend/platform/logger"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dialAttempts = 5
	dialDelay    = time.Second
	maxDialDelay = 30 * time.Second
)

// ErrBrokerUnavailable is returned while the publisher is reconnecting.
var ErrBrokerUnavailable = errors.New("broker connection unavailable")

// Envelope is the body published for every inbox event.
type Envelope struct {
	Meta EnvelopeMeta `json:"meta"`
	Data any          `json:"data"`
}

// EnvelopeMeta identifies an envelope independently of its payload.
type EnvelopeMeta struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurredAt"`
	TenantID   string    `json:"tenantId,omitempty"`
}

// Publisher publishes envelopes to a routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
	Close() error
}

// AMQPPublisher publishes to a durable topic exchange on one confirm-mode
// channel. Publish returns only after the broker acks the message or ctx is
// done. A lost connection is redialed in the background; publishes made in
// the meantime fail with ErrBrokerUnavailable.
type AMQPPublisher struct {
	url      string
	exchange string
	log      *logger.Logger

	mu   sync.RWMutex
	conn *amqp.Connection
	ch   *amqp.Channel

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAMQPPublisher dials the broker, declares the exchange and switches the
// channel to confirm mode.
func NewAMQPPublisher(ctx context.Context, url, exchange string, log *logger.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		url:      url,
		exchange: exchange,
		log:      log.WithComponent("amqp"),
	}
	conn, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}

	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.wg.Add(1)
	go p.watch(conn)
	return p, nil
}

// connect dials and opens the confirm channel, then installs both as current.
func (p *AMQPPublisher) connect(ctx context.Context) (*amqp.Connection, error) {
	conn, err := dialWithRetry(ctx, p.url, p.log)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	p.mu.Lock()
	p.conn, p.ch = conn, ch
	p.mu.Unlock()
	return conn, nil
}

// watch redials whenever the connection or its channel closes, until Close.
func (p *AMQPPublisher) watch(conn *amqp.Connection) {
	defer p.wg.Done()
	for {
		p.mu.RLock()
		ch := p.ch
		p.mu.RUnlock()
		if ch == nil {
			return
		}
		connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
		chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

		var reason *amqp.Error
		select {
		case <-p.ctx.Done():
			return
		case reason = <-connClosed:
		case reason = <-chClosed:
		}
		if p.ctx.Err() != nil {
			return
		}
		if reason == nil {
			reason = &amqp.Error{Reason: "connection closed"}
		}
		p.log.Error("broker connection lost, reconnecting", "error", reason)

		p.mu.Lock()
		p.ch = nil
		p.mu.Unlock()
		if !conn.IsClosed() {
			_ = conn.Close()
		}

		next, ok := p.redial()
		if !ok {
			return
		}
		if p.ctx.Err() != nil {
			_ = next.Close()
			return
		}
		conn = next
		p.log.Info("broker reconnected")
	}
}

// redial retries connect with backoff until it succeeds or Close is called.
func (p *AMQPPublisher) redial() (*amqp.Connection, bool) {
	delay := dialDelay
	for {
		conn, err := p.connect(p.ctx)
		if err == nil {
			return conn, true
		}
		if p.ctx.Err() != nil {
			return nil, false
		}
		p.log.Error("broker reconnect failed", "error", err, "retry_in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-p.ctx.Done():
			timer.Stop()
			return nil, false
		case <-timer.C:
		}
		delay = min(delay*2, maxDialDelay)
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, key string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	msgID := env.Meta.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}

	p.mu.RLock()
	ch := p.ch
	p.mu.RUnlock()
	if ch == nil {
		return fmt.Errorf("publish %s: %w", key, ErrBrokerUnavailable)
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msgID,
		Type:         env.Meta.Type,
		Timestamp:    env.Meta.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", key, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: broker nacked", key)
	}
	p.log.Debug("published", "key", key, "exchange", p.exchange, "id", msgID)
	return nil
}

// Close stops reconnecting and closes the current connection.
func (p *AMQPPublisher) Close() error {
	if p == nil || p.cancel == nil {
		return nil
	}
	p.cancel()

	p.mu.Lock()
	conn := p.conn
	p.ch = nil
	p.mu.Unlock()

	var err error
	if conn != nil && !conn.IsClosed() {
		err = conn.Close()
	}
	p.wg.Wait()
	return err
}

// dialWithRetry backs off exponentially and gives up when ctx is done.
func dialWithRetry(ctx context.Context, url string, log *logger.Logger) (*amqp.Connection, error) {
	var lastErr error
	delay := dialDelay
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			if attempt > 1 {
				log.Info("broker connected", "attempt", attempt)
			}
			return conn, nil
		}
		lastErr = err
		log.Warn("broker dial failed", "attempt", attempt, "sleep", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
		delay = min(delay*2, maxDialDelay)
	}
	return nil, fmt.Errorf("connect to broker after %d attempts: %w", dialAttempts, lastErr)
}
