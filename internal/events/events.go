// Package events publishes payment state changes for the order and
// notification services to consume.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ersha-payment-service/internal/metrics"
	"ersha-payment-service/pkg/utils/id"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Type string

const (
	PaymentInitiated     Type = "payment.initiated"
	PaymentCompleted     Type = "payment.completed"
	PaymentFailed        Type = "payment.failed"
	TransactionDisputed  Type = "transaction.disputed"
	TransactionResolved  Type = "transaction.resolved"
	TransactionCancelled Type = "transaction.cancelled"
	PayoutRequested      Type = "payout.requested"
	PayoutProcessing     Type = "payout.processing"
	PayoutCompleted      Type = "payout.completed"
	PayoutFailed         Type = "payout.failed"
	PayoutRejected       Type = "payout.rejected"
)

type Event struct {
	ID         string      `json:"id"`
	Type       Type        `json:"type"`
	Key        string      `json:"key"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

func New(t Type, key string, data interface{}) Event {
	return Event{
		ID:         id.New("evt"),
		Type:       t,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by aggregate so one transaction's
// events stay ordered on a partition.
type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Compression:  kafka.Snappy,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}

	logger.Info("kafka publisher initialized",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic))

	return &KafkaPublisher{writer: writer, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evts ...Event) error {
	if len(evts) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(evts))
	for _, e := range evts {
		data, err := json.Marshal(e)
		if err != nil {
			p.logger.Error("failed to marshal event",
				zap.String("type", string(e.Type)),
				zap.Error(err))
			metrics.EventPublishErrors.Inc()
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.Key),
			Value: data,
			Time:  e.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(e.Type)},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		metrics.EventPublishErrors.Add(float64(len(msgs)))
		return fmt.Errorf("failed to publish events: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher records events in the log when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evts ...Event) error {
	for _, e := range evts {
		p.logger.Info("payment event",
			zap.String("type", string(e.Type)),
			zap.String("key", e.Key),
			zap.String("event_id", e.ID))
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }
