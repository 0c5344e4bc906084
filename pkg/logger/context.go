package logger

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey string

const (
	traceIDKey ctxKey = "trace_id"
	ecidKey    ctxKey = "ecid"
	loggerKey  ctxKey = "logger"
)

// WithTraceID сохраняет явный trace_id в контексте.
// Имеет приоритет над trace_id активного span'а.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext возвращает trace_id: сначала явный, затем из активного span'а.
// Пустая строка, если ни того ни другого нет.
func TraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok && traceID != "" {
		return traceID
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// WithECID сохраняет идентификатор контекста выполнения (ECID),
// которым помечена текущая сессия БД.
func WithECID(ctx context.Context, ecid string) context.Context {
	return context.WithValue(ctx, ecidKey, ecid)
}

// ECIDFromContext возвращает ECID или пустую строку.
func ECIDFromContext(ctx context.Context) string {
	if ecid, ok := ctx.Value(ecidKey).(string); ok {
		return ecid
	}
	return ""
}

// WithLogger кладет настроенный логгер в контекст.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext возвращает логгер из контекста (или глобальный)
// с полями trace_id и ecid, если они известны.
//
//	log := logger.FromContext(ctx)
//	log.Info().Str("order_id", id).Msg("Заказ сохранен")
func FromContext(ctx context.Context) zerolog.Logger {
	l, ok := ctx.Value(loggerKey).(zerolog.Logger)
	if !ok {
		l = log
	}

	if traceID := TraceIDFromContext(ctx); traceID != "" {
		l = l.With().Str("trace_id", traceID).Logger()
	}
	if ecid := ECIDFromContext(ctx); ecid != "" {
		l = l.With().Str("ecid", ecid).Logger()
	}

	return l
}

// Ctx — вариант FromContext, совместимый по сигнатуре с zerolog.Ctx.
// Возвращает указатель, поэтому уровень можно вызвать прямо в цепочке:
//
//	logger.Ctx(ctx).Debug().Str("topic", topic).Msg("Сообщение записано")
//
// FromContext возвращает значение, у которого методы уровней не вызываются
// без промежуточной переменной.
func Ctx(ctx context.Context) *zerolog.Logger {
	l := FromContext(ctx)
	return &l
}
