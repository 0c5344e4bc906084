// Package healthcheck — проверки готовности для /readyz.
package healthcheck

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"gorm.io/gorm"
)

// Check — одна проверка зависимости.
type Check func(ctx context.Context) error

// Pinger — зависимость, умеющая проверить свою доступность (например kafka.Producer).
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckDB проверяет доступность хранилища заказов.
func CheckDB(db *gorm.DB) Check {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("%s: %w", db.Dialector.Name(), err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("%s ping: %w", db.Dialector.Name(), err)
		}
		return nil
	}
}

// CheckKafka проверяет доступность брокеров Kafka.
func CheckKafka(p Pinger) Check {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		return nil
	}
}

// Composite выполняет все проверки и возвращает объединенную ошибку.
func Composite(checks ...Check) func(context.Context) error {
	return func(ctx context.Context) error {
		var err error
		for _, check := range checks {
			err = multierr.Append(err, check(ctx))
		}
		return err
	}
}
