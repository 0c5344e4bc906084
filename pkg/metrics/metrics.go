// Package metrics — Prometheus метрики сервиса событий заказов
// и HTTP сервер для /metrics, /healthz, /readyz.
//
//	srv := metrics.NewServer(":9090", "order-events", metrics.WithReadinessCheck(check))
//	go srv.Start()
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/order-events/pkg/logger"
)

// Статусы для label "status".
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// =============================================================================
// Метрики
// =============================================================================

var (
	// RequestsTotal — запросы по сервису, методу и статусу.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Общее количество запросов по сервису, методу и статусу",
		},
		[]string{"service", "method", "status"},
	)

	// RequestDuration — latency запросов, от 5ms до 10s.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Время выполнения запроса в секундах",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method"},
	)

	// OrderEventsTotal — результаты транзакции "заказ + событие".
	// outcome: committed, rolled_back.
	OrderEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_events_total",
			Help: "Количество транзакций вставки заказа с публикацией события",
		},
		[]string{"outcome"},
	)

	// RelayMessagesTotal — сообщения топика, обработанные ретранслятором.
	// status: sent, failed, dead, expired.
	RelayMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Сообщения топика, переданные ретранслятором в Kafka",
		},
		[]string{"topic", "status"},
	)
)

// RecordRequest записывает счетчик и latency запроса.
func RecordRequest(service, method, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(service, method, status).Inc()
	RequestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordOrderEvent учитывает исход транзакции продюсера.
func RecordOrderEvent(committed bool) {
	outcome := "committed"
	if !committed {
		outcome = "rolled_back"
	}
	OrderEventsTotal.WithLabelValues(outcome).Inc()
}

// RecordRelay учитывает сообщение, обработанное ретранслятором.
func RecordRelay(topic, status string) {
	RelayMessagesTotal.WithLabelValues(topic, status).Inc()
}

// =============================================================================
// HTTP Server для /metrics
// =============================================================================

// ReadinessChecker возвращает nil, если сервис готов принимать трафик.
type ReadinessChecker func(ctx context.Context) error

// Server — HTTP сервер метрик и probe-эндпоинтов.
type Server struct {
	httpServer     *http.Server
	service        string
	readinessCheck ReadinessChecker
}

// Option настраивает Server.
type Option func(*Server)

// WithReadinessCheck подключает проверку для /readyz (503 при ошибке).
func WithReadinessCheck(checker ReadinessChecker) Option {
	return func(s *Server) {
		s.readinessCheck = checker
	}
}

// NewServer создает сервер метрик на addr.
func NewServer(addr, service string, opts ...Option) *Server {
	s := &Server{service: service}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"alive"}`))
	})
	mux.HandleFunc("/readyz", s.handleReady)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.readinessCheck == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.readinessCheck(ctx); err != nil {
		// Детали ошибки наружу не отдаем, только в лог.
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not_ready"}`))
		logger.Warn().Err(err).Str("service", s.service).Msg("Readiness check не пройден")
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// Handler возвращает http.Handler сервера (для тестов).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start блокируется до остановки сервера.
func (s *Server) Start() error {
	logger.Info().Str("service", s.service).Str("addr", s.httpServer.Addr).Msg("Запуск Metrics Server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GinMetricsMiddleware пишет requests_total и request_duration_seconds
// для каждого HTTP запроса, метод — шаблон маршрута.
func GinMetricsMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := StatusSuccess
		if c.Writer.Status() >= http.StatusBadRequest {
			status = StatusError
		}
		RecordRequest(service, c.FullPath(), status, time.Since(start))
	}
}
