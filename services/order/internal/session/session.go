// Package session — транзакционная сессия продюсера: одна транзакция хранилища
// и одна сессия топика поверх нее. Commit фиксирует документ и событие вместе.
//
// Жизненный цикл: Created → Active → {Committed | RolledBack} → Closed.
// Сессия создается на один вызов, не разделяется и не переиспользуется.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"example.com/order-events/pkg/logger"
	"example.com/order-events/services/order/internal/broker"
	"example.com/order-events/services/order/internal/domain"
)

// State — состояние сессии.
type State int

const (
	StateCreated State = iota
	StateActive
	StateCommitted
	StateRolledBack
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// setMetadataSQL применяет метаданные корреляции к MySQL сессии.
const setMetadataSQL = "SET @e2e_action = ?, @e2e_module = ?, @e2e_client_id = ?, @e2e_ecid = ?, @e2e_seq = ?"

// Session — транзакционная сессия. Методы безопасны для вызова из defer.
type Session struct {
	id     string
	tx     *gorm.DB
	broker broker.Session

	mu    sync.Mutex
	state State
	md    domain.Metadata
}

// Open начинает транзакцию с ручным commit'ом и открывает поверх нее сессию топика.
// Любая ошибка — domain.ErrConnection.
func Open(ctx context.Context, db *gorm.DB, b broker.Broker) (*Session, error) {
	s := &Session{id: uuid.NewString(), state: StateCreated}
	log := logger.FromContext(ctx)

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConnection, tx.Error)
	}

	bs, err := b.Session(ctx, tx)
	if err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil {
			log.Error().Err(rbErr).Str("session", s.id).Msg("Ошибка отката после неудачного открытия сессии топика")
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}

	s.tx = tx
	s.broker = bs
	s.state = StateActive

	log.Debug().Str("session", s.id).Msg("Транзакционная сессия открыта")
	return s, nil
}

// ID — идентификатор сессии для логов.
func (s *Session) ID() string {
	return s.id
}

// Conn — транзакционное соединение для операций хранилища.
func (s *Session) Conn() *gorm.DB {
	return s.tx
}

// Broker — сессия топика, привязанная к той же транзакции.
func (s *Session) Broker() broker.Session {
	return s.broker
}

// State возвращает текущее состояние.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Metadata возвращает прикрепленные метаданные корреляции (нулевые, если не прикреплялись).
func (s *Session) Metadata() domain.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.md
}

// AttachMetadata прикрепляет метаданные корреляции к сессии.
// На MySQL они выставляются пользовательскими переменными соединения,
// на остальных диалектах хранятся только в сессии.
func (s *Session) AttachMetadata(ctx context.Context, md domain.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return fmt.Errorf("%w: метаданные в состоянии %s", domain.ErrSessionState, s.state)
	}

	if s.tx.Dialector.Name() == "mysql" {
		err := s.tx.WithContext(ctx).Exec(setMetadataSQL,
			md.Action(), md.Module(), md.ClientID(), md.ECID(), domain.MetadataSequence,
		).Error
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrConnection, err)
		}
	}

	s.md = md

	logger.Ctx(ctx).Debug().
		Str("session", s.id).
		Str("action", md.Action()).
		Str("module", md.Module()).
		Str("client_id", md.ClientID()).
		Str("ecid", md.ECID()).
		Msg("Метаданные корреляции прикреплены к сессии")

	return nil
}

// Commit фиксирует записи хранилища и отправленные сообщения одной транзакцией.
// При ошибке commit'а сессия остается Active, чтобы вызывающий попытался откатить.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return fmt.Errorf("%w: commit в состоянии %s", domain.ErrSessionState, s.state)
	}

	if err := s.tx.Commit().Error; err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}

	s.state = StateCommitted
	return nil
}

// Rollback отменяет записи хранилища и сообщения. Ошибка самого отката — domain.ErrRollback.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbackLocked()
}

func (s *Session) rollbackLocked() error {
	if s.state != StateActive {
		return fmt.Errorf("%w: rollback в состоянии %s", domain.ErrSessionState, s.state)
	}

	s.state = StateRolledBack
	if err := s.tx.Rollback().Error; err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRollback, err)
	}
	return nil
}

// Close освобождает сессию из любого состояния; повторный вызов — no-op.
// Незавершенная транзакция откатывается.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}

	var err error
	if s.state == StateActive {
		err = multierr.Append(err, s.rollbackLocked())
	}
	if s.broker != nil {
		err = multierr.Append(err, s.broker.Close())
	}

	s.state = StateClosed
	return err
}
