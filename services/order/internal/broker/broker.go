package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/order-events/pkg/logger"
)

var (
	// ErrNoTransaction — сессию брокера можно открыть только поверх транзакции.
	ErrNoTransaction = errors.New("сессия брокера требует открытую транзакцию")

	// ErrSessionClosed — отправка через закрытую сессию брокера.
	ErrSessionClosed = errors.New("сессия брокера закрыта")
)

// Broker открывает сессии топика поверх транзакции хранилища.
type Broker interface {
	Session(ctx context.Context, tx *gorm.DB) (Session, error)
}

// Session — сессия топика, привязанная к одной транзакции.
// Отправленные сообщения видны потребителям только после commit'а транзакции.
type Session interface {
	// ID — идентификатор сессии для логов.
	ID() string

	// Topic возвращает адрес топика (владелец, имя).
	Topic(owner, name string) (Topic, error)

	// Send ставит сообщение в топик в рамках транзакции.
	Send(ctx context.Context, topic Topic, msg *Message) error

	// Close освобождает сессию. Транзакцией не управляет.
	Close() error
}

type dbBroker struct {
	now func() time.Time
}

// Option настраивает Broker.
type Option func(*dbBroker)

// WithClock подменяет источник времени (для тестов срока жизни сообщений).
func WithClock(now func() time.Time) Option {
	return func(b *dbBroker) {
		b.now = now
	}
}

// New создает брокер, хранящий топики в таблице topic_messages.
func New(opts ...Option) Broker {
	b := &dbBroker{now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *dbBroker) Session(ctx context.Context, tx *gorm.DB) (Session, error) {
	if tx == nil {
		return nil, ErrNoTransaction
	}
	if _, ok := tx.Statement.ConnPool.(gorm.TxCommitter); !ok {
		return nil, ErrNoTransaction
	}

	s := &dbSession{id: uuid.NewString(), tx: tx, now: b.now}

	logger.Ctx(ctx).Debug().
		Str("broker_session", s.id).
		Msg("Открыта сессия топика")

	return s, nil
}

type dbSession struct {
	id  string
	tx  *gorm.DB
	now func() time.Time

	mu     sync.Mutex
	closed bool
}

func (s *dbSession) ID() string {
	return s.id
}

func (s *dbSession) Topic(owner, name string) (Topic, error) {
	if s.isClosed() {
		return Topic{}, ErrSessionClosed
	}
	return NewTopic(owner, name)
}

// Send записывает сообщение строкой topic_messages в транзакции сессии.
// Строка видна ретранслятору только после commit'а этой транзакции.
func (s *dbSession) Send(ctx context.Context, topic Topic, msg *Message) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if msg == nil {
		return errors.New("пустое сообщение")
	}
	if err := msg.validate(); err != nil {
		return err
	}

	model, err := modelFromMessage(uuid.NewString(), topic, msg, s.now())
	if err != nil {
		return fmt.Errorf("ошибка сериализации свойств сообщения: %w", err)
	}

	if err := s.tx.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("ошибка записи сообщения в топик %s: %w", topic, err)
	}

	logger.Ctx(ctx).Debug().
		Str("broker_session", s.id).
		Str("topic", topic.String()).
		Str("message", model.ID).
		Int("priority", msg.Priority).
		Msg("Сообщение поставлено в топик")

	return nil
}

// Close закрывает сессию брокера. Транзакцией владеет сессия хранилища.
func (s *dbSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *dbSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
