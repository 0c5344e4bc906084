package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/order-events/pkg/metrics"
	"example.com/order-events/pkg/middleware"
)

// ReadinessChecker — функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	Orders         OrderService
	ServiceName    string
	ReadinessCheck ReadinessChecker // опциональная проверка готовности для /readyz
	AdminRoutes    bool             // DELETE /api/v1/orders (drop коллекции)
	Debug          bool             // режим отладки Gin
}

// Router — HTTP роутер сервиса.
type Router struct {
	engine         *gin.Engine
	cfg            RouterConfig
	readinessCheck ReadinessChecker
}

// NewRouter создает и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(middleware.Recovery())
	engine.Use(middleware.SecurityHeaders())

	// OpenTelemetry: span запроса — источник ECID для сессии продюсера
	engine.Use(otelgin.Middleware(cfg.ServiceName))
	engine.Use(middleware.RequestLogging())
	engine.Use(metrics.GinMetricsMiddleware(cfg.ServiceName))

	r := &Router{
		engine:         engine,
		cfg:            cfg,
		readinessCheck: cfg.ReadinessCheck,
	}

	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.readinessCheckHandler)

	orderHandler := NewOrderHandler(r.cfg.Orders)

	orders := r.engine.Group("/api/v1/orders")
	{
		orders.POST("", orderHandler.CreateOrder)
		orders.GET("/:id", orderHandler.GetOrder)
		orders.PUT("/:id", orderHandler.UpdateOrder)
		orders.DELETE("/:id", orderHandler.DeleteOrder)
		if r.cfg.AdminRoutes {
			orders.DELETE("", orderHandler.DropOrders)
		}
	}
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": r.cfg.ServiceName,
	})
}

// livenessCheck — процесс жив, раз отвечает.
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessCheckHandler — готовность принимать трафик (хранилище и Kafka доступны).
func (r *Router) readinessCheckHandler(c *gin.Context) {
	if r.readinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.readinessCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
