// Package publisher публикует события в топик через сессию брокера
// с трассировкой: каждая отправка — отдельный producer span, его контекст
// уходит в заголовки сообщения.
package publisher

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"

	"example.com/order-events/pkg/kafka"
	"example.com/order-events/pkg/logger"
	"example.com/order-events/services/order/internal/broker"
	"example.com/order-events/services/order/internal/correlation"
	"example.com/order-events/services/order/internal/domain"
)

const tracerName = "example.com/order-events/publisher"

// Delivery — атрибуты доставки сообщения.
type Delivery struct {
	MessageID  int
	Priority   int
	Mode       broker.DeliveryMode
	Expiration time.Duration // broker.NeverExpire — бессрочно
}

// Publisher оборачивает отправку через сессию брокера в span.
type Publisher struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// Option настраивает Publisher.
type Option func(*Publisher)

// WithTracerProvider задает провайдер span'ов (по умолчанию глобальный).
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Publisher) {
		p.tracer = tp.Tracer(tracerName)
	}
}

// WithPropagator задает формат заголовков trace context (по умолчанию глобальный).
func WithPropagator(prop propagation.TextMapPropagator) Option {
	return func(p *Publisher) {
		p.propagator = prop
	}
}

// New создает Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{
		tracer:     otel.Tracer(tracerName),
		propagator: otel.GetTextMapPropagator(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish отправляет payload в топик (owner, name) и возвращает его
// квалифицированное имя OWNER.NAME. Сообщение становится видимым только
// после commit'а транзакции, к которой привязана сессия.
// Любая ошибка — domain.ErrPublish.
func (p *Publisher) Publish(ctx context.Context, sess broker.Session, owner, name string, payload []byte, d Delivery) (_ string, err error) {
	ctx, span := p.tracer.Start(ctx, "publish "+owner+"."+name,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.operation.type", "send"),
			semconv.MessagingDestinationName(owner+"."+name),
			semconv.MessagingMessageBodySize(len(payload)),
			attribute.Int("messaging.message.priority", d.Priority),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	topic, err := sess.Topic(owner, name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrPublish, err)
	}

	msg := broker.NewTextMessage(string(payload))
	msg.SetIntProperty(broker.PropertyID, d.MessageID)
	msg.SetIntProperty(broker.PropertyPriority, d.Priority)
	msg.Priority = d.Priority
	msg.DeliveryMode = d.Mode
	msg.Expiration = d.Expiration

	p.propagator.Inject(ctx, propagation.MapCarrier(msg.Headers))
	if ecid, ecidErr := correlation.ECID(ctx); ecidErr == nil {
		msg.SetHeader(kafka.HeaderECID, ecid)
	}

	if err := sess.Send(ctx, topic, msg); err != nil {
		logger.Ctx(ctx).Error().
			Err(err).
			Str("topic", topic.String()).
			Msg("Ошибка отправки события в топик")
		return "", fmt.Errorf("%w: %w", domain.ErrPublish, err)
	}

	return topic.String(), nil
}
