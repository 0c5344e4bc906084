// Package circuitbreaker — Circuit Breaker на базе gobreaker с логированием
// смены состояний. Ретранслятор топика оборачивает в него отправку в Kafka,
// чтобы при недоступном брокере не долбить его каждым сообщением пачки.
//
//	cb := circuitbreaker.New("kafka-relay")
//	err := cb.Execute(ctx, func(ctx context.Context) error { return producer.SendMessage(ctx, msg) })
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/order-events/pkg/logger"
)

// ErrOpen возвращается, когда breaker отклонил вызов без выполнения.
var ErrOpen = errors.New("circuit breaker открыт")

// Settings — настройки Circuit Breaker.
type Settings struct {
	MaxRequests  uint32        // запросов в Half-Open
	Interval     time.Duration // сброс счетчиков в Closed
	Timeout      time.Duration // время в Open до Half-Open
	FailureRatio float64       // доля ошибок для перехода в Open
	MinRequests  uint32        // минимум запросов для расчета доли
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Breaker — обертка над gobreaker.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[struct{}]
	name string

	// isFailure решает, считать ли ошибку сбоем зависимости.
	isFailure func(error) bool
}

// Option настраивает Breaker.
type Option func(*Breaker)

// WithFailurePredicate задает, какие ошибки открывают breaker.
// По умолчанию сбоем считается любая ошибка, кроме отмены контекста.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(b *Breaker) {
		b.isFailure = fn
	}
}

// New создает Breaker с настройками по умолчанию.
func New(name string, opts ...Option) *Breaker {
	return NewWithSettings(name, DefaultSettings(), opts...)
}

// NewWithSettings создает Breaker с пользовательскими настройками.
func NewWithSettings(name string, s Settings, opts ...Option) *Breaker {
	b := &Breaker{name: name, isFailure: defaultIsFailure}
	for _, opt := range opts {
		opt(b)
	}

	b.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !b.isFailure(err)
		},
		OnStateChange: logStateChange,
	})

	return b
}

// Execute выполняет fn через breaker. Если breaker открыт или в Half-Open
// уже исчерпан лимит запросов, fn не вызывается и возвращается ErrOpen.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrOpen, err)
	}
	return err
}

// State возвращает текущее состояние.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name возвращает имя breaker.
func (b *Breaker) Name() string {
	return b.name
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

func logStateChange(name string, from, to gobreaker.State) {
	log := logger.With().
		Str("breaker", name).
		Str("from", from.String()).
		Str("to", to.String()).
		Logger()

	switch to {
	case gobreaker.StateOpen:
		log.Warn().Msg("Circuit Breaker ОТКРЫТ — зависимость недоступна")
	case gobreaker.StateHalfOpen:
		log.Info().Msg("Circuit Breaker ПОЛУОТКРЫТ — пробуем восстановить")
	case gobreaker.StateClosed:
		log.Info().Msg("Circuit Breaker ЗАКРЫТ — зависимость восстановлена")
	}
}
