// Order Events Service — HTTP API заказов и транзакционный producer событий.
// Заказ и событие фиксируются одной транзакцией хранилища, ретранслятор
// затем доставляет зафиксированные события в Kafka.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"example.com/order-events/pkg/config"
	"example.com/order-events/pkg/db"
	"example.com/order-events/pkg/healthcheck"
	"example.com/order-events/pkg/kafka"
	"example.com/order-events/pkg/logger"
	"example.com/order-events/pkg/metrics"
	"example.com/order-events/pkg/tracing"
	"example.com/order-events/services/order/internal/broker"
	"example.com/order-events/services/order/internal/correlation"
	"example.com/order-events/services/order/internal/handler"
	"example.com/order-events/services/order/internal/producer"
	"example.com/order-events/services/order/internal/publisher"
	"example.com/order-events/services/order/internal/relay"
	"example.com/order-events/services/order/internal/store"
)

const serviceName = "order-events"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:   cfg.App.LogLevel,
		Pretty:  cfg.App.LogPretty,
		Service: serviceName,
	})
	log := logger.Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Str("store", cfg.Store.Driver).
		Str("addr", cfg.HTTP.Addr()).
		Msg("Запуск Order Events Service")

	// === Observability: Tracing ===

	// Провайдер создается всегда: span запроса — источник ECID.
	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    serviceName,
		Environment:    cfg.App.Env,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Хранилище ===

	gdb, err := db.Connect(cfg.Store, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к хранилищу")
	}
	log.Info().Str("driver", cfg.Store.Driver).Msg("Подключение к хранилищу установлено")

	if cfg.Store.AutoMigrate {
		if err := db.MigrateUp(context.Background(), gdb); err != nil {
			log.Fatal().Err(err).Msg("Ошибка применения миграций")
		}
	}

	// === Producer ===

	b := broker.New()
	orderProducer := producer.New(
		gdb,
		store.New(),
		b,
		correlation.New(cfg.Producer.Action, cfg.Producer.Module, cfg.Producer.ClientID),
		publisher.New(),
		producer.Config{
			TopicOwner:       cfg.Producer.TopicOwner,
			TopicName:        cfg.Producer.TopicName,
			CrashAfterInsert: cfg.Producer.CrashAfterInsert,
		},
	)
	if cfg.Producer.CrashAfterInsert {
		log.Warn().Msg("Включен fault-injection: процесс завершится после первой вставки заказа")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === Kafka relay ===

	checks := []healthcheck.Check{healthcheck.CheckDB(gdb)}

	var kafkaProducer *kafka.Producer
	var workersWg sync.WaitGroup

	if cfg.Relay.Enabled {
		kafkaProducer, err = kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}
		checks = append(checks, healthcheck.CheckKafka(kafkaProducer))

		topicRelay := relay.New(broker.NewRepository(gdb), kafkaProducer, relay.Config{
			PollInterval: cfg.Relay.PollInterval,
			BatchSize:    cfg.Relay.BatchSize,
			MaxRetries:   cfg.Relay.MaxRetries,
			TopicPrefix:  cfg.Relay.TopicPrefix,
		})

		workersWg.Add(1)
		go func() {
			defer workersWg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("Паника в ретрансляторе топика")
				}
			}()
			topicRelay.Run(ctx)
		}()
	}

	readinessCheck := healthcheck.Composite(checks...)

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	var metricsWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			serviceName,
			metrics.WithReadinessCheck(readinessCheck),
		)
		metricsWg.Add(1)
		go func() {
			defer metricsWg.Done()
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === HTTP API ===

	router := handler.NewRouter(handler.RouterConfig{
		Orders:         orderProducer,
		ServiceName:    serviceName,
		ReadinessCheck: readinessCheck,
		AdminRoutes:    cfg.HTTP.AdminRoutes,
		Debug:          cfg.IsDevelopment(),
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           router.Engine(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP сервер запущен")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервер...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Сначала перестаем принимать запросы, затем останавливаем ретранслятор.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}

	cancel()
	workersWg.Wait()

	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
	}

	if err := db.Close(gdb); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия хранилища")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
		metricsWg.Wait()
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки Tracing")
	}

	log.Info().Msg("Order Events Service остановлен")
}
