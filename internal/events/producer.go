package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer publishes JSON-encoded events to a single Kafka topic, keyed
// by order ID so all events for one order land on the same partition.
type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer creates a Kafka producer for the given brokers/topic.
func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		Async:        true,
		// With Async set, WriteMessages does not report delivery errors;
		// they arrive here instead.
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("failed to deliver audit events", zap.Int("messages", len(messages)), zap.Error(err))
			}
		},
	}
	return &Producer{writer: writer, logger: logger}
}

// Close closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) publish(ctx context.Context, key string, event interface{}) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event to kafka: %w", err)
	}
	return nil
}

// Publisher publishes typed domain events, swallowing errors after
// logging: the event bus is an audit trail, not part of the saga.
type Publisher struct {
	producer *Producer
	logger   *zap.Logger
}

// NewPublisher wraps a Producer with typed, non-blocking publish methods.
func NewPublisher(producer *Producer, logger *zap.Logger) *Publisher {
	return &Publisher{producer: producer, logger: logger}
}

func (p *Publisher) base(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func (p *Publisher) emit(ctx context.Context, key string, event interface{}, eventType string) {
	if err := p.producer.publish(ctx, key, event); err != nil {
		p.logger.Warn("failed to publish audit event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

// OrderCreated publishes an OrderCreatedEvent.
func (p *Publisher) OrderCreated(ctx context.Context, orderID, userID, productID int64, quantity int, isVIP bool) {
	event := &OrderCreatedEvent{
		BaseEvent: p.base(TypeOrderCreated),
		OrderID:   orderID,
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
		IsVIP:     isVIP,
	}
	p.emit(ctx, fmt.Sprintf("order-%d", orderID), event, TypeOrderCreated)
}

// OrderConfirmed publishes an OrderConfirmedEvent.
func (p *Publisher) OrderConfirmed(ctx context.Context, orderID, userID int64) {
	event := &OrderConfirmedEvent{
		BaseEvent: p.base(TypeOrderConfirmed),
		OrderID:   orderID,
		UserID:    userID,
	}
	p.emit(ctx, fmt.Sprintf("order-%d", orderID), event, TypeOrderConfirmed)
}

// OrderFailed publishes an OrderFailedEvent.
func (p *Publisher) OrderFailed(ctx context.Context, orderID, userID int64, reason string) {
	event := &OrderFailedEvent{
		BaseEvent: p.base(TypeOrderFailed),
		OrderID:   orderID,
		UserID:    userID,
		Reason:    reason,
	}
	p.emit(ctx, fmt.Sprintf("order-%d", orderID), event, TypeOrderFailed)
}

// StockDepleted publishes a StockDepletedEvent.
func (p *Publisher) StockDepleted(ctx context.Context, productID, stockID int64, requested, available int) {
	event := &StockDepletedEvent{
		BaseEvent: p.base(TypeStockDepleted),
		ProductID: productID,
		StockID:   stockID,
		Requested: requested,
		Available: available,
	}
	p.emit(ctx, fmt.Sprintf("product-%d", productID), event, TypeStockDepleted)
}
