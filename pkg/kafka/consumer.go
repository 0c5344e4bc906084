package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/order-events/pkg/logger"
)

// MessageHandler обрабатывает одно сообщение. ctx содержит trace context из headers.
type MessageHandler func(ctx context.Context, msg *Message) error

// Consumer читает сообщения топика в составе consumer group.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*kafka.ReaderConfig)

// FromBeginning читает топик с первого offset, а не с конца.
func FromBeginning() ConsumerOption {
	return func(rc *kafka.ReaderConfig) {
		rc.StartOffset = kafka.FirstOffset
	}
}

// NewConsumer создает Consumer для топика.
func NewConsumer(cfg Config, topic, groupID string, opts ...ConsumerOption) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}
	if topic == "" {
		return nil, fmt.Errorf("не указан топик")
	}
	if groupID == "" {
		return nil, fmt.Errorf("не указан group ID")
	}

	rc := kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        100 * time.Millisecond,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	}
	for _, opt := range opts {
		opt(&rc)
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", topic).
		Str("group_id", groupID).
		Msg("Создан Kafka Consumer")

	return &Consumer{reader: kafka.NewReader(rc), topic: topic}, nil
}

// Consume читает сообщения до отмены ctx. Offset коммитится после
// обработки независимо от ее результата, ошибки только логируются.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		km, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			logger.Error().Err(err).Str("topic", c.topic).Msg("Ошибка чтения сообщения из Kafka")
			continue
		}

		msg := fromKafkaMessage(km)
		msgCtx := ContextFromHeaders(ctx, msg.Headers)

		if err := handler(msgCtx, msg); err != nil {
			logger.Ctx(msgCtx).Error().
				Err(err).
				Str("topic", msg.Topic).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("Ошибка обработки сообщения")
		}

		if err := c.reader.CommitMessages(ctx, km); err != nil {
			logger.Error().Err(err).Msg("Ошибка коммита offset")
		}
	}
}

// Close закрывает reader.
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия consumer: %w", err)
	}
	return nil
}

// Lag возвращает отставание от конца топика.
func (c *Consumer) Lag() int64 {
	return c.reader.Stats().Lag
}
