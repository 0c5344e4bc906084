// Package kafka — обертки над kafka-go: Producer для ретрансляции событий
// заказов из топика БД и Consumer для их чтения (orderctl tail, e2e тесты).
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TopicDLQ — Dead Letter Queue для сообщений, которые не удалось ретранслировать.
const TopicDLQ = "dlq.order-events"

// Ключи headers сообщений Kafka.
const (
	// HeaderTraceParent — W3C traceparent span'а продюсера.
	HeaderTraceParent = "traceparent"

	// HeaderECID — идентификатор контекста выполнения, которым была помечена сессия БД.
	HeaderECID = "ecid"

	// HeaderMessageID — целочисленное свойство "Id" исходного сообщения топика.
	HeaderMessageID = "message_id"

	// HeaderPriority — приоритет исходного сообщения топика.
	HeaderPriority = "priority"

	// HeaderSourceTopic — квалифицированное имя топика БД (OWNER.NAME).
	HeaderSourceTopic = "source_topic"

	// HeaderTimestamp — время отправки в Kafka.
	HeaderTimestamp = "timestamp"
)

// Config содержит настройки подключения к Kafka.
type Config struct {
	Brokers       []string
	ConsumerGroup string
}

// Message — сообщение Kafka с заголовками в виде map.
type Message struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Headers   map[string]string
	Time      time.Time
}

func fromKafkaMessage(m kafka.Message) *Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &Message{
		Key:       m.Key,
		Value:     m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Headers:   headers,
		Time:      m.Time,
	}
}

func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    m.Time,
	}
}

// ContextFromHeaders восстанавливает trace context из headers сообщения.
func ContextFromHeaders(ctx context.Context, headers map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}

// InjectHeaders записывает trace context из ctx в headers.
func InjectHeaders(ctx context.Context, headers map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
}
