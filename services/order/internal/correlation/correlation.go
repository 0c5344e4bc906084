// Package correlation переносит идентификатор активного span'а в метаданные
// транзакционной сессии, чтобы запись в БД связывалась с исходным запросом.
package correlation

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"example.com/order-events/pkg/logger"
	"example.com/order-events/services/order/internal/domain"
)

// MetadataAttacher — цель, к которой прикрепляются метаданные (session.Session).
type MetadataAttacher interface {
	AttachMetadata(ctx context.Context, md domain.Metadata) error
}

// Correlator заполняет слоты action, module, client id фиксированными
// значениями, а слот ECID — из span'а в контексте.
type Correlator struct {
	action   string
	module   string
	clientID string
}

// New создает Correlator.
func New(action, module, clientID string) *Correlator {
	return &Correlator{action: action, module: module, clientID: clientID}
}

// Stamp строит метаданные из span'а в ctx и прикрепляет их к target.
// Без валидного span'а — domain.ErrCorrelation, в target ничего не пишется.
func (c *Correlator) Stamp(ctx context.Context, target MetadataAttacher) (domain.Metadata, error) {
	ecid, err := ECID(ctx)
	if err != nil {
		return domain.Metadata{}, err
	}

	md := domain.NewMetadata(c.action, c.module, c.clientID, ecid)
	if err := target.AttachMetadata(ctx, md); err != nil {
		return domain.Metadata{}, err
	}

	logger.Ctx(ctx).Debug().
		Str("ecid", ecid).
		Msg("Сессия помечена ECID")

	return md, nil
}

// ECID возвращает идентификатор контекста выполнения: строковая форма
// span'а "<trace-id>:<span-id>:<flags>", обрезанная до первого ':'.
func ECID(ctx context.Context) (string, error) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", fmt.Errorf("%w: span context невалиден", domain.ErrCorrelation)
	}

	ecid, _, _ := strings.Cut(SpanString(sc), ":")
	return ecid, nil
}

// SpanString — строковая форма span'а в формате "<trace-id>:<span-id>:<flags>".
func SpanString(sc trace.SpanContext) string {
	return sc.TraceID().String() + ":" + sc.SpanID().String() + ":" + sc.TraceFlags().String()
}
