// Package events publishes reservation domain events to RabbitMQ for the
// notification and analytics collaborators. Publishing is best effort: a
// failure is logged and returned, never rolled back into the transition.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const Exchange = "reservations"

type Type string

const (
	StatusChanged   Type = "reservation.status_changed"
	PaymentRecorded Type = "reservation.payment_recorded"
	ProofValidated  Type = "reservation.proof_validated"
	PayoutCompleted Type = "reservation.payout_completed"
	Blocked         Type = "reservation.blocked"
	Refunded        Type = "reservation.refunded"
)

type Event struct {
	Type          Type      `json:"type"`
	ReservationID string    `json:"reservationId"`
	ClientID      string    `json:"clientId,omitempty"`
	ProviderID    string    `json:"providerId,omitempty"`
	Status        string    `json:"status,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher keeps one connection and channel open and redials after a
// failed publish.
type AMQPPublisher struct {
	url    string
	logger *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel amqpChannel
}

func NewAMQPPublisher(url string, logger *zap.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &AMQPPublisher{url: url, logger: logger}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connectLocked() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq: channel open failed: %w", err)
	}
	// Durable topic exchange; consumers bind their own queues.
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("rabbitmq: exchange declare failed: %w", err)
	}
	p.conn = conn
	p.channel = ch
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal event failed: %w", err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.OccurredAt,
		MessageId:    fmt.Sprintf("%s:%s:%d", e.Type, e.ReservationID, e.OccurredAt.UnixNano()),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil {
		if err := p.connectLocked(); err != nil {
			p.logger.Warn("Event dropped", zap.String("eventType", string(e.Type)), zap.Error(err))
			return err
		}
	}
	if err := p.channel.PublishWithContext(ctx, Exchange, string(e.Type), false, false, pub); err != nil {
		p.logger.Warn("Event publish failed",
			zap.String("eventType", string(e.Type)),
			zap.String("reservationId", e.ReservationID),
			zap.Error(err))
		p.closeLocked()
		return fmt.Errorf("rabbitmq: publish failed: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) closeLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
