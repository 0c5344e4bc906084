// Package relay ретранслирует зафиксированные сообщения топика БД в Kafka.
// Гарантия доставки "at-least-once": сообщение помечается processed только
// после успешной записи в Kafka.
package relay

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"

	"example.com/order-events/pkg/circuitbreaker"
	"example.com/order-events/pkg/kafka"
	"example.com/order-events/pkg/logger"
	"example.com/order-events/pkg/metrics"
	"example.com/order-events/services/order/internal/broker"
)

const tracerName = "example.com/order-events/relay"

// KafkaProducer — отправка в Kafka. Позволяет замокать kafka.Producer в unit-тестах.
type KafkaProducer interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
	SendToDLQ(ctx context.Context, original *kafka.Message, cause error) error
}

// Config — настройки ретранслятора.
type Config struct {
	// PollInterval — интервал между опросами таблицы топика.
	PollInterval time.Duration

	// BatchSize — количество сообщений за один запрос.
	BatchSize int

	// MaxRetries — после стольких неудачных попыток сообщение уходит в DLQ.
	MaxRetries int

	// TopicPrefix — префикс имени топика Kafka.
	TopicPrefix string
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		PollInterval: 1 * time.Second,
		BatchSize:    100,
		MaxRetries:   5,
	}
}

// cleanupInterval — интервал очистки обработанных сообщений.
const cleanupInterval = 1 * time.Hour

// cleanupRetention — срок хранения обработанных сообщений.
const cleanupRetention = 7 * 24 * time.Hour

// Relay читает ожидающие сообщения топика и отправляет их в Kafka.
type Relay struct {
	repo     broker.Repository
	producer KafkaProducer
	breaker  *circuitbreaker.Breaker
	tracer   trace.Tracer
	cfg      Config
	now      func() time.Time
}

// Option настраивает Relay.
type Option func(*Relay)

// WithBreaker подменяет circuit breaker вокруг отправки в Kafka.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(r *Relay) {
		r.breaker = b
	}
}

// WithTracerProvider задает провайдер span'ов (по умолчанию глобальный).
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Relay) {
		r.tracer = tp.Tracer(tracerName)
	}
}

// WithClock подменяет источник времени для проверки срока жизни сообщений.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		r.now = now
	}
}

// New создает ретранслятор.
func New(repo broker.Repository, producer KafkaProducer, cfg Config, opts ...Option) *Relay {
	r := &Relay{
		repo:     repo,
		producer: producer,
		breaker:  circuitbreaker.New("kafka-relay"),
		tracer:   otel.Tracer(tracerName),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var kafkaTopicReplacer = strings.NewReplacer("$", "_", "#", "_")

// KafkaTopic возвращает имя топика Kafka для топика БД: prefix + owner.name в нижнем регистре.
// Символы $ и # недопустимы в Kafka и заменяются на _.
func KafkaTopic(prefix, sourceTopic string) string {
	return prefix + kafkaTopicReplacer.Replace(strings.ToLower(sourceTopic))
}

// Run запускает ретранслятор. Блокирует выполнение до отмены контекста.
func (r *Relay) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("poll_interval", r.cfg.PollInterval).
		Int("batch_size", r.cfg.BatchSize).
		Str("topic_prefix", r.cfg.TopicPrefix).
		Msg("Запуск ретранслятора топика")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка ретранслятора топика")
			return
		case <-ticker.C:
			r.processBatch(ctx)
		case <-cleanupTicker.C:
			r.cleanupProcessed(ctx)
		}
	}
}

// cleanupProcessed удаляет обработанные сообщения старше срока хранения.
func (r *Relay) cleanupProcessed(ctx context.Context) {
	log := logger.FromContext(ctx)

	deleted, err := r.repo.DeleteProcessedBefore(ctx, r.now().Add(-cleanupRetention))
	if err != nil {
		log.Error().Err(err).Msg("Ошибка очистки топика")
		return
	}

	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Очистка обработанных сообщений топика")
	}
}

// processBatch обрабатывает пачку ожидающих сообщений и возвращает число доставленных.
func (r *Relay) processBatch(ctx context.Context) int {
	log := logger.FromContext(ctx)

	records, err := r.repo.GetPending(ctx, r.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка чтения топика")
		return 0
	}

	if len(records) == 0 {
		return 0
	}

	log.Debug().Int("count", len(records)).Msg("Обработка сообщений топика")

	delivered := 0
	for _, record := range records {
		select {
		case <-ctx.Done():
			return delivered
		default:
		}

		err := r.ProcessSingle(ctx, record)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			// Остаток пачки подождет следующего тика.
			log.Warn().Str("message", record.ID).Msg("Kafka недоступна, ретрансляция приостановлена")
			return delivered
		}
		if err == nil {
			delivered++
		}
	}

	return delivered
}

// ProcessSingle обрабатывает одно сообщение топика:
// просроченное помечается expired, исчерпавшее попытки уходит в DLQ,
// остальные отправляются в Kafka.
func (r *Relay) ProcessSingle(ctx context.Context, record *broker.Record) error {
	log := logger.FromContext(ctx).With().
		Str("message", record.ID).
		Str("topic", record.Topic).
		Logger()

	if record.Expired(r.now()) {
		log.Info().Msg("Срок жизни сообщения истек, ретрансляция пропущена")
		metrics.RecordRelay(record.Topic, broker.StatusExpired)
		return r.repo.MarkFinal(ctx, record.ID, broker.StatusExpired)
	}

	msg := r.buildMessage(record)

	if record.RetryCount >= r.cfg.MaxRetries {
		return r.deadLetter(ctx, record, msg)
	}

	ctx, span := r.startSpan(ctx, record, msg)
	defer span.End()

	kafka.InjectHeaders(ctx, msg.Headers)

	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.producer.SendMessage(ctx, msg)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordRelay(record.Topic, metrics.StatusError)

		if errors.Is(err, circuitbreaker.ErrOpen) {
			return err
		}

		log.Error().Err(err).Int("retry_count", record.RetryCount).Msg("Ошибка ретрансляции в Kafka")
		if markErr := r.repo.MarkFailed(ctx, record.ID, err); markErr != nil {
			log.Error().Err(markErr).Msg("Ошибка пометки сообщения как failed")
		}
		return err
	}

	span.SetStatus(codes.Ok, "")
	metrics.RecordRelay(record.Topic, metrics.StatusSuccess)

	if err := r.repo.MarkProcessed(ctx, record.ID); err != nil {
		log.Error().Err(err).Msg("Ошибка пометки сообщения как обработанного")
		return err
	}

	log.Debug().Str("kafka_topic", msg.Topic).Msg("Сообщение ретранслировано в Kafka")
	return nil
}

func (r *Relay) deadLetter(ctx context.Context, record *broker.Record, msg *kafka.Message) error {
	log := logger.FromContext(ctx)

	cause := errors.New("превышен лимит попыток ретрансляции")
	if record.LastError != nil {
		cause = errors.New(*record.LastError)
	}

	log.Warn().
		Str("message", record.ID).
		Str("topic", record.Topic).
		Int("retry_count", record.RetryCount).
		Msg("Dead letter: превышен лимит попыток, сообщение выведено из очереди")

	if err := r.producer.SendToDLQ(ctx, msg, cause); err != nil {
		// Сообщение остается pending и попадет в DLQ на следующем тике.
		log.Error().Err(err).Str("message", record.ID).Msg("Ошибка отправки в DLQ")
		return err
	}

	metrics.RecordRelay(record.Topic, broker.StatusDead)
	return r.repo.MarkFinal(ctx, record.ID, broker.StatusDead)
}

// startSpan продолжает трассу продюсера: контекст берется из заголовков сообщения.
func (r *Relay) startSpan(ctx context.Context, record *broker.Record, msg *kafka.Message) (context.Context, trace.Span) {
	ctx = kafka.ContextFromHeaders(ctx, record.Headers)

	return r.tracer.Start(ctx, "relay "+record.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.operation.type", "process"),
			semconv.MessagingDestinationName(msg.Topic),
			attribute.String("messaging.source.name", record.Topic),
			attribute.Int("messaging.message.priority", record.Priority),
			attribute.Int("relay.retry_count", record.RetryCount),
		),
	)
}

// buildMessage собирает сообщение Kafka. Ключ — orderId из тела, чтобы события
// одного заказа попадали в одну партицию.
func (r *Relay) buildMessage(record *broker.Record) *kafka.Message {
	headers := make(map[string]string, len(record.Headers)+3)
	for k, v := range record.Headers {
		headers[k] = v
	}
	headers[kafka.HeaderSourceTopic] = record.Topic
	headers[kafka.HeaderMessageID] = strconv.Itoa(record.MessageID)
	headers[kafka.HeaderPriority] = strconv.Itoa(record.Priority)

	key := jsoniter.Get(record.Payload, "orderId").ToString()
	if key == "" {
		key = record.ID
	}

	return &kafka.Message{
		Topic:   KafkaTopic(r.cfg.TopicPrefix, record.Topic),
		Key:     []byte(key),
		Value:   record.Payload,
		Headers: headers,
	}
}
