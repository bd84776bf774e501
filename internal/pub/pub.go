package pub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Event types emitted after a write commits or a reconciliation fails
const (
	EventTransactionCreated    = "ledger.transaction.created"
	EventTransferCreated       = "ledger.transfer.created"
	EventPaymentCreated        = "ledger.payment.created"
	EventPaymentRefunded       = "ledger.payment.refunded"
	EventTransactionCancelled  = "ledger.transaction.cancelled"
	EventPaymentCancelled      = "ledger.payment.cancelled"
	EventReconciliationFailure = "ledger.reconciliation.mismatch"
)

// LedgerEvent is the payload written to every sink.
type LedgerEvent struct {
	EventType     string            `json:"event_type"`
	EntityID      string            `json:"entity_id"`
	AccountIDs    []string          `json:"account_ids,omitempty"`
	ReservationID string            `json:"reservation_id,omitempty"`
	Amount        decimal.Decimal   `json:"amount"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// Publisher delivers ledger events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event *LedgerEvent) error
	Close() error
}

func encode(event *LedgerEvent) ([]byte, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return payload, nil
}

// ===============================
// REDIS
// ===============================

// RedisPublisher fans events out over a redis pub/sub channel
type RedisPublisher struct {
	rdb     redis.UniversalClient
	channel string
}

func NewRedisPublisher(rdb redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event *LedgerEvent) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close is a no-op; the client is shared with the cache and closed by its owner.
func (p *RedisPublisher) Close() error { return nil }

// ===============================
// KAFKA
// ===============================

// messageWriter is the part of *kafka.Writer the publisher needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher appends events to a topic keyed by entity id, so one entity's events stay ordered.
type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Debug(fmt.Sprintf(msg, args...))
		}),
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event *LedgerEvent) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.EntityID),
		Value: payload,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// ===============================
// COMPOSITION
// ===============================

// MultiPublisher sends every event to all sinks and joins their errors
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, event *LedgerEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopPublisher drops events
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *LedgerEvent) error { return nil }
func (NopPublisher) Close() error { return nil }
