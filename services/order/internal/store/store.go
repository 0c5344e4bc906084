// Package store — документное хранилище заказов поверх GORM.
// Все операции выполняются на соединении, переданном вызывающим:
// внутри транзакции сессии или на отдельном соединении пула.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"example.com/order-events/services/order/internal/domain"
)

// CollectionName — таблица-коллекция документов заказов.
const CollectionName = "orders"

// mysqlDuplicateEntry — код ошибки MySQL ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// DocumentStore — CRUD документов заказов по orderId.
type DocumentStore interface {
	// Create вставляет документ. domain.ErrDuplicateKey, если id уже занят.
	Create(ctx context.Context, conn *gorm.DB, order *domain.Order) error

	// Get возвращает документ или domain.ErrOrderNotFound.
	Get(ctx context.Context, conn *gorm.DB, orderID string) (*domain.Order, error)

	// Update заменяет документ целиком. domain.ErrOrderNotFound, если его нет.
	Update(ctx context.Context, conn *gorm.DB, order *domain.Order) error

	// Delete удаляет документ. domain.ErrOrderNotFound, если его нет.
	Delete(ctx context.Context, conn *gorm.DB, orderID string) error

	// Drop удаляет коллекцию целиком и создает ее заново пустой.
	// Только для админки и тестов.
	Drop(ctx context.Context, conn *gorm.DB) (string, error)
}

// OrderDocument — GORM модель строки коллекции.
type OrderDocument struct {
	ID        string    `gorm:"column:id;type:varchar(64);primaryKey"`
	Document  string    `gorm:"column:document;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (OrderDocument) TableName() string {
	return CollectionName
}

func (m *OrderDocument) toDomain() (*domain.Order, error) {
	return domain.UnmarshalOrder([]byte(m.Document))
}

func documentFromDomain(o *domain.Order) (*OrderDocument, error) {
	data, err := o.Marshal()
	if err != nil {
		return nil, err
	}
	return &OrderDocument{ID: o.OrderID, Document: string(data)}, nil
}

type gormStore struct{}

// New создает хранилище документов заказов.
func New() DocumentStore {
	return gormStore{}
}

func (gormStore) Create(ctx context.Context, conn *gorm.DB, order *domain.Order) error {
	doc, err := documentFromDomain(order)
	if err != nil {
		return err
	}

	if err := conn.WithContext(ctx).Create(doc).Error; err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %w", domain.ErrDuplicateKey, err)
		}
		return err
	}
	return nil
}

func (gormStore) Get(ctx context.Context, conn *gorm.DB, orderID string) (*domain.Order, error) {
	var doc OrderDocument

	if err := conn.WithContext(ctx).
		Where("id = ?", orderID).
		First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	return doc.toDomain()
}

func (gormStore) Update(ctx context.Context, conn *gorm.DB, order *domain.Order) error {
	doc, err := documentFromDomain(order)
	if err != nil {
		return err
	}

	db := conn.WithContext(ctx)
	result := db.Model(&OrderDocument{}).
		Where("id = ?", doc.ID).
		Updates(map[string]interface{}{
			"document":   doc.Document,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}

	// MySQL не считает строку затронутой, если значения не изменились.
	if result.RowsAffected == 0 {
		var count int64
		if err := db.Model(&OrderDocument{}).Where("id = ?", doc.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrOrderNotFound
		}
	}

	return nil
}

func (gormStore) Delete(ctx context.Context, conn *gorm.DB, orderID string) error {
	result := conn.WithContext(ctx).
		Where("id = ?", orderID).
		Delete(&OrderDocument{})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// Drop выполняет DDL: в MySQL он фиксируется неявно, поэтому conn не должен
// быть транзакцией сессии.
func (gormStore) Drop(ctx context.Context, conn *gorm.DB) (string, error) {
	m := conn.WithContext(ctx).Migrator()

	if err := m.DropTable(&OrderDocument{}); err != nil {
		return "", fmt.Errorf("ошибка удаления коллекции %s: %w", CollectionName, err)
	}
	if err := m.CreateTable(&OrderDocument{}); err != nil {
		return "", fmt.Errorf("ошибка создания коллекции %s: %w", CollectionName, err)
	}

	return fmt.Sprintf("коллекция %s удалена и создана заново", CollectionName), nil
}

// isDuplicateKeyError распознает нарушение уникальности первичного ключа.
// Диалекты переводят его в gorm.ErrDuplicatedKey; ошибка MySQL 1062,
// завернутая до перевода, проверяется по типу.
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
