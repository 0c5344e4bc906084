package cli

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"example.com/order-events/pkg/config"
	"example.com/order-events/pkg/db"
	"example.com/order-events/pkg/logger"
	"example.com/order-events/pkg/tracing"
	"example.com/order-events/services/order/internal/broker"
	"example.com/order-events/services/order/internal/correlation"
	"example.com/order-events/services/order/internal/producer"
	"example.com/order-events/services/order/internal/publisher"
	"example.com/order-events/services/order/internal/store"
)

// App — зависимости, общие для команд orderctl.
type App struct {
	Config     *config.Config
	DB         *gorm.DB
	Broker     broker.Broker
	Correlator *correlation.Correlator
	Producer   *producer.Producer

	closers []func() error
}

// Close освобождает ресурсы в обратном порядке.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	return err
}

// Bootstrap собирает App для команды.
type Bootstrap func(ctx context.Context, opts *RootOptions) (*App, error)

// NewApp собирает App поверх готового подключения.
func NewApp(cfg *config.Config, gdb *gorm.DB) *App {
	b := broker.New()
	c := correlation.New(cfg.Producer.Action, cfg.Producer.Module, cfg.Producer.ClientID)

	return &App{
		Config:     cfg,
		DB:         gdb,
		Broker:     b,
		Correlator: c,
		Producer: producer.New(gdb, store.New(), b, c, publisher.New(), producer.Config{
			TopicOwner:       cfg.Producer.TopicOwner,
			TopicName:        cfg.Producer.TopicName,
			CrashAfterInsert: cfg.Producer.CrashAfterInsert,
		}),
	}
}

// DefaultBootstrap читает конфигурацию из окружения (или --env-file),
// поднимает логгер, локальную трассировку и подключение к хранилищу.
func DefaultBootstrap(ctx context.Context, opts *RootOptions) (*App, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.EnvFile != "" {
		cfg, err = config.LoadFromFile(opts.EnvFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	level := cfg.App.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	// Логи в stderr: stdout занят результатом команды.
	logger.Init(logger.Config{Level: level, Pretty: true, Output: os.Stderr, Service: "orderctl"})

	// Экспорт не нужен: span команды нужен только как источник ECID.
	shutdown, err := tracing.InitTracer(tracing.Config{
		ServiceName: "orderctl",
		Environment: cfg.App.Env,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации трассировки: %w", err)
	}

	gdb, err := db.Connect(cfg.Store, opts.Verbose)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	app := NewApp(cfg, gdb)
	app.closers = append(app.closers,
		func() error { return shutdown(context.Background()) },
		func() error { return db.Close(gdb) },
	)
	return app, nil
}
