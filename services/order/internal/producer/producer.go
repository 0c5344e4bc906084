// Package producer — точка входа сервиса: атомарная вставка заказа с публикацией
// события и административные операции над коллекцией заказов.
package producer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"

	"example.com/order-events/pkg/logger"
	"example.com/order-events/pkg/metrics"
	"example.com/order-events/services/order/internal/broker"
	"example.com/order-events/services/order/internal/correlation"
	"example.com/order-events/services/order/internal/domain"
	"example.com/order-events/services/order/internal/publisher"
	"example.com/order-events/services/order/internal/session"
	"example.com/order-events/services/order/internal/store"
)

const serviceName = "order-events"

// CrashExitCode — код завершения процесса при fault-injection после вставки.
const CrashExitCode = -1

// Атрибуты доставки события заказа.
const (
	orderMessageID = 1
	orderPriority  = 2
)

// errCrashInjected возвращается, только если подмененная exitFunc не завершила процесс.
var errCrashInjected = errors.New("процесс должен был завершиться после вставки заказа")

// Config — конфигурация продюсера.
type Config struct {
	TopicOwner string
	TopicName  string

	// CrashAfterInsert завершает процесс сразу после вставки заказа, до публикации
	// и commit'а. Только для chaos-тестов окна между записью и событием.
	CrashAfterInsert bool
}

// Stamper помечает сессию метаданными корреляции.
type Stamper interface {
	Stamp(ctx context.Context, target correlation.MetadataAttacher) (domain.Metadata, error)
}

// EventPublisher публикует событие через сессию брокера.
type EventPublisher interface {
	Publish(ctx context.Context, sess broker.Session, owner, name string, payload []byte, d publisher.Delivery) (string, error)
}

// Producer — продюсер событий заказов.
type Producer struct {
	db         *gorm.DB
	store      store.DocumentStore
	broker     broker.Broker
	correlator Stamper
	publisher  EventPublisher
	cfg        Config
	exit       func(code int)
}

// Option настраивает Producer.
type Option func(*Producer)

// WithExitFunc подменяет завершение процесса для fault-injection (по умолчанию os.Exit).
func WithExitFunc(exit func(code int)) Option {
	return func(p *Producer) {
		p.exit = exit
	}
}

// New создает продюсер. db — источник соединений, на каждый Produce
// из пула берется отдельное соединение под транзакцию.
func New(db *gorm.DB, st store.DocumentStore, b broker.Broker, c Stamper, pub EventPublisher, cfg Config, opts ...Option) *Producer {
	p := &Producer{
		db:         db,
		store:      st,
		broker:     b,
		correlator: c,
		publisher:  pub,
		cfg:        cfg,
		exit:       os.Exit,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Produce сохраняет заказ (статус pending) и публикует его в топик одной транзакцией:
// либо зафиксированы оба, либо ничего. Возвращает квалифицированное имя топика.
//
// При любой ошибке после открытия сессии выполняется откат; если откат тоже
// упал, это только логируется, наружу уходит исходная ошибка.
func (p *Producer) Produce(ctx context.Context, orderID, itemID, deliveryLocation string) (topic string, err error) {
	start := time.Now()
	log := logger.FromContext(ctx).With().Str("order_id", orderID).Logger()

	order := domain.NewOrder(orderID, itemID, deliveryLocation)
	if err := order.Validate(); err != nil {
		log.Warn().Err(err).Msg("Некорректный заказ")
		metrics.RecordRequest(serviceName, "Produce", metrics.StatusError, time.Since(start))
		return "", err
	}

	sess, err := session.Open(ctx, p.db, p.broker)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка открытия транзакционной сессии")
		metrics.RecordRequest(serviceName, "Produce", metrics.StatusError, time.Since(start))
		return "", err
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			log.Error().Err(closeErr).Str("session", sess.ID()).Msg("Ошибка закрытия сессии")
		}
	}()
	defer func() {
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusError
			if sess.State() == session.StateActive {
				if rbErr := sess.Rollback(); rbErr != nil {
					log.Error().Err(rbErr).AnErr("cause", err).Msg("Ошибка отката транзакции")
				}
			}
			log.Error().Err(err).Msg("Заказ не сохранен, событие не опубликовано")
		}
		metrics.RecordOrderEvent(err == nil)
		metrics.RecordRequest(serviceName, "Produce", status, time.Since(start))
	}()

	md, err := p.correlator.Stamp(ctx, sess)
	if err != nil {
		return "", err
	}
	ctx = logger.WithECID(ctx, md.ECID())
	log = log.With().Str("ecid", md.ECID()).Logger()

	if err = p.store.Create(ctx, sess.Conn(), order); err != nil {
		return "", err
	}

	if p.cfg.CrashAfterInsert {
		log.Warn().Msg("Fault-injection: завершение процесса после вставки заказа")
		p.exit(CrashExitCode)
		return "", errCrashInjected
	}

	payload, err := order.Marshal()
	if err != nil {
		return "", err
	}

	topic, err = p.publisher.Publish(ctx, sess.Broker(), p.cfg.TopicOwner, p.cfg.TopicName, payload, publisher.Delivery{
		MessageID:  orderMessageID,
		Priority:   orderPriority,
		Mode:       broker.Persistent,
		Expiration: broker.NeverExpire,
	})
	if err != nil {
		return "", err
	}

	if err = sess.Commit(); err != nil {
		return "", err
	}

	log.Info().Str("topic", topic).Msg("Заказ сохранен, событие опубликовано")
	return topic, nil
}

// GetOrder читает заказ на отдельном соединении.
func (p *Producer) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := p.store.Get(ctx, p.db, orderID)
	if err != nil {
		return nil, connectionError(err)
	}
	return order, nil
}

// UpdateOrder заменяет документ заказа в собственной транзакции. Событие не публикуется.
func (p *Producer) UpdateOrder(ctx context.Context, order *domain.Order) error {
	if err := order.Validate(); err != nil {
		return err
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return p.store.Update(ctx, tx, order)
	})
	return connectionError(err)
}

// DeleteOrder удаляет заказ в собственной транзакции.
func (p *Producer) DeleteOrder(ctx context.Context, orderID string) (string, error) {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return p.store.Delete(ctx, tx, orderID)
	})
	if err != nil {
		return "", connectionError(err)
	}

	logger.Ctx(ctx).Info().Str("order_id", orderID).Msg("Заказ удален")
	return fmt.Sprintf("заказ %s удален", orderID), nil
}

// DropOrders удаляет коллекцию заказов целиком и создает ее заново.
// DDL выполняется вне транзакции: MySQL все равно фиксирует его неявно.
func (p *Producer) DropOrders(ctx context.Context) (string, error) {
	msg, err := p.store.Drop(ctx, p.db)
	if err != nil {
		return "", connectionError(err)
	}

	logger.Ctx(ctx).Warn().Msg("Коллекция заказов удалена")
	return msg, nil
}

// connectionError заворачивает ошибки соединения и транзакции в domain.ErrConnection,
// как это делает сессия продюсера. Доменные ошибки хранилища возвращаются как есть.
func connectionError(err error) error {
	switch {
	case err == nil,
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrDuplicateKey),
		errors.Is(err, domain.ErrInvalidOrder),
		errors.Is(err, domain.ErrSerialization),
		errors.Is(err, domain.ErrConnection):
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrConnection, err)
}
