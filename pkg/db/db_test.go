package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/order-events/pkg/config"
)

func TestConnect_SQLite(t *testing.T) {
	cfg := config.StoreConfig{
		Driver:       config.DriverSQLite,
		SQLitePath:   fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		MaxOpenConns: 5,
		MaxIdleConns: 1,
	}

	gdb, err := Connect(cfg, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(gdb) })

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestConnect_SQLiteInMemorySurvivesPoolSettings(t *testing.T) {
	cfg := config.StoreConfig{
		Driver:          config.DriverSQLite,
		SQLitePath:      fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		MaxOpenConns:    5,
		MaxIdleConns:    0,
		ConnMaxLifetime: time.Millisecond,
	}

	gdb, err := Connect(cfg, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(gdb) })

	require.NoError(t, MigrateUp(context.Background(), gdb))

	// Срок жизни из конфигурации истек бы здесь и унес бы схему вместе с соединением
	time.Sleep(20 * time.Millisecond)

	assert.True(t, gdb.Migrator().HasTable("orders"))
	assert.True(t, gdb.Migrator().HasTable("topic_messages"))
}

func TestConnect_UnknownDriver(t *testing.T) {
	_, err := Connect(config.StoreConfig{Driver: "oracle"}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "неизвестный драйвер")
}

func TestMigrateUp_CreatesTables(t *testing.T) {
	cfg := config.StoreConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	}
	gdb, err := Connect(cfg, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(gdb) })

	require.NoError(t, MigrateUp(context.Background(), gdb))

	assert.True(t, gdb.Migrator().HasTable("orders"))
	assert.True(t, gdb.Migrator().HasTable("topic_messages"))

	// Повторный up — no-op
	require.NoError(t, MigrateUp(context.Background(), gdb))
}

func TestGooseDialect(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"mysql", "mysql", "mysql", false},
		{"sqlite", "sqlite", "sqlite3", false},
		{"неизвестный", "postgres", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := gooseDialect(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
