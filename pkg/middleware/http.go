// Package middleware предоставляет HTTP middleware для Gin.
// Подключается после otelgin: span запроса к этому моменту уже в контексте.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/order-events/pkg/logger"
)

// HeaderTraceID — заголовок ответа с trace_id запроса.
const HeaderTraceID = "X-Trace-ID"

// RequestLogging логирует входящий запрос и его завершение
// и отдает клиенту trace_id активного span'а.
func RequestLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()

		if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
			c.Header(HeaderTraceID, traceID)
			c.Set("trace_id", traceID)
		}

		log := logger.FromContext(ctx)
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Msg("Входящий запрос")

		c.Next()

		statusCode := c.Writer.Status()

		logEvent := log.Info()
		if statusCode >= http.StatusBadRequest {
			logEvent = log.Warn()
		}
		if statusCode >= http.StatusInternalServerError {
			logEvent = log.Error()
		}

		logEvent.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", statusCode).
			Dur("duration", time.Since(start)).
			Msg("Запрос завершен")
	}
}

// Recovery перехватывает панику в обработчике, логирует стек и отвечает 500.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Ctx(c.Request.Context()).Error().
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Str("path", c.Request.URL.Path).
					Msg("Паника в HTTP обработчике")

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "internal_error",
					"message": "Внутренняя ошибка сервера",
				})
			}
		}()

		c.Next()
	}
}

// SecurityHeaders добавляет заголовки безопасности ко всем ответам.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Cache-Control", "no-store")
		c.Next()
	}
}
