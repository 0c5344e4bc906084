package broker

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrMessageNotFound — сообщение топика не найдено.
var ErrMessageNotFound = errors.New("сообщение топика не найдено")

// Repository — чтение зафиксированных сообщений топика для ретранслятора.
type Repository interface {
	// GetPending возвращает ожидающие сообщения: сначала с большим приоритетом,
	// внутри приоритета — старые раньше.
	GetPending(ctx context.Context, limit int) ([]*Record, error)

	// MarkProcessed помечает сообщение доставленным.
	MarkProcessed(ctx context.Context, id string) error

	// MarkFailed увеличивает счетчик попыток и сохраняет текст ошибки.
	MarkFailed(ctx context.Context, id string, cause error) error

	// MarkFinal выводит сообщение из очереди с финальным статусом (dead, expired).
	MarkFinal(ctx context.Context, id, status string) error

	// CountByTopic — количество сообщений топика в статусе status.
	CountByTopic(ctx context.Context, topic, status string) (int64, error)

	// DeleteProcessedBefore удаляет обработанные сообщения старше before пачками по 1000.
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository создает репозиторий сообщений топика.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetPending(ctx context.Context, limit int) ([]*Record, error) {
	var models []TopicMessageModel

	if err := r.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("priority DESC, created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]*Record, len(models))
	for i := range models {
		result[i] = models[i].toRecord()
	}
	return result, nil
}

// MarkProcessed — сообщение доставлено в Kafka.
func (r *gormRepository) MarkProcessed(ctx context.Context, id string) error {
	return r.MarkFinal(ctx, id, StatusProcessed)
}

// MarkFailed увеличивает retry_count и запоминает причину; статус остается pending,
// сообщение будет выбрано снова на следующем тике.
func (r *gormRepository) MarkFailed(ctx context.Context, id string, cause error) error {
	result := r.db.WithContext(ctx).Model(&TopicMessageModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  cause.Error(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkFinal переводит сообщение в конечный статус (processed, expired, dead)
// и проставляет processed_at, от которого считается срок хранения.
func (r *gormRepository) MarkFinal(ctx context.Context, id, status string) error {
	result := r.db.WithContext(ctx).Model(&TopicMessageModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       status,
			"processed_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (r *gormRepository) CountByTopic(ctx context.Context, topic, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&TopicMessageModel{}).
		Where("topic = ? AND status = ?", topic, status).
		Count(&count).Error
	return count, err
}

// DeleteProcessedBefore удаляет до 1000 завершенных сообщений старше before
// и возвращает их количество. Pending сообщения не трогаются.
func (r *gormRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	// Подзапрос вместо DELETE ... LIMIT: SQLite без SQLITE_ENABLE_UPDATE_DELETE_LIMIT его не знает.
	ids := r.db.Model(&TopicMessageModel{}).
		Select("id").
		Where("status <> ? AND processed_at IS NOT NULL AND processed_at < ?", StatusPending, before).
		Limit(1000)

	// MySQL не разрешает LIMIT в IN-подзапросе напрямую, оборачиваем в derived table.
	result := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.Table("(?) AS batch", ids).Select("id")).
		Delete(&TopicMessageModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
