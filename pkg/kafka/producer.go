package kafka

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/order-events/pkg/logger"
)

// Producer отправляет сообщения в Kafka.
type Producer struct {
	writer *kafka.Writer
	cfg    Config
}

// NewProducer создает синхронный Producer.
// Топики создаются автоматически, имя берется из Message.Topic.
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Msg("Создан Kafka Producer")

	return &Producer{writer: writer, cfg: cfg}, nil
}

// SendMessage отправляет подготовленное сообщение.
// Если в headers нет traceparent, он берется из ctx.
func (p *Producer) SendMessage(ctx context.Context, msg *Message) error {
	if msg.Headers == nil {
		msg.Headers = make(map[string]string)
	}
	if _, ok := msg.Headers[HeaderTraceParent]; !ok {
		InjectHeaders(ctx, msg.Headers)
	}
	if _, ok := msg.Headers[HeaderTimestamp]; !ok {
		msg.Headers[HeaderTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	log := logger.FromContext(ctx)

	if err := p.writer.WriteMessages(ctx, msg.toKafkaMessage()); err != nil {
		log.Error().
			Err(err).
			Str("topic", msg.Topic).
			Str("key", string(msg.Key)).
			Msg("Ошибка отправки сообщения в Kafka")
		return fmt.Errorf("ошибка отправки в Kafka: %w", err)
	}

	log.Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Msg("Сообщение отправлено в Kafka")

	return nil
}

// SendToDLQ отправляет сообщение в Dead Letter Queue с описанием ошибки.
func (p *Producer) SendToDLQ(ctx context.Context, original *Message, cause error) error {
	headers := make(map[string]string, len(original.Headers)+3)
	for k, v := range original.Headers {
		headers[k] = v
	}
	headers["dlq_error"] = cause.Error()
	headers["dlq_original_topic"] = original.Topic
	headers["dlq_timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	return p.SendMessage(ctx, &Message{
		Key:     original.Key,
		Value:   original.Value,
		Topic:   TopicDLQ,
		Headers: headers,
	})
}

// Ping проверяет, что хотя бы один брокер принимает TCP соединение.
func (p *Producer) Ping(ctx context.Context) error {
	var lastErr error
	dialer := &net.Dialer{}
	for _, broker := range p.cfg.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	return fmt.Errorf("kafka недоступна: %w", lastErr)
}

// Close закрывает writer, дожидаясь отправки буфера.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		logger.Error().Err(err).Msg("Ошибка при закрытии Kafka Producer")
		return fmt.Errorf("ошибка закрытия producer: %w", err)
	}

	logger.Info().Msg("Kafka Producer закрыт")
	return nil
}
