// Package testutil — общие тестовые базы данных для пакетов сервиса.
// Моки интерфейсов живут рядом с тестами, которые их используют,
// чтобы не тянуть сюда зависимости на broker/store.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"example.com/order-events/pkg/db"
)

// NewSQLiteDB создает изолированную in-memory SQLite базу с примененными миграциями.
// Одно соединение: SQLite не поддерживает параллельных писателей.
func NewSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := db.Open(sqlite.Open(dsn), false)
	require.NoError(t, err, "Ошибка открытия SQLite")

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.MigrateUp(context.Background(), gdb), "Ошибка применения миграций")

	t.Cleanup(func() { _ = sqlDB.Close() })
	return gdb
}

// NewMockDB создает GORM поверх sqlmock с MySQL диалектом.
// Запросы сравниваются регулярными выражениями.
func NewMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Ошибка создания sqlmock")

	gdb, err := db.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), false)
	require.NoError(t, err, "Ошибка инициализации GORM")

	t.Cleanup(func() { _ = sqlDB.Close() })
	return gdb, mock
}
