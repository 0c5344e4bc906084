package db

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"

	"example.com/order-events/pkg/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

// Migrate применяет goose-команду (up, down, status, reset...) к схеме хранилища.
func Migrate(ctx context.Context, db *gorm.DB, command string, args ...string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("ошибка получения sql.DB: %w", err)
	}

	dialect, err := gooseDialect(db.Dialector.Name())
	if err != nil {
		return err
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	logger.Ctx(ctx).Info().
		Str("command", command).
		Str("dialect", dialect).
		Msg("Применение миграций")

	if err := goose.RunContext(ctx, command, sqlDB, migrationsDir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// MigrateUp — сокращение для Migrate(ctx, db, "up").
func MigrateUp(ctx context.Context, db *gorm.DB) error {
	return Migrate(ctx, db, "up")
}

func gooseDialect(gormName string) (string, error) {
	switch gormName {
	case "mysql":
		return "mysql", nil
	case "sqlite":
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("миграции не поддерживают диалект %q", gormName)
	}
}
