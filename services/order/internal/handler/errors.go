// Package handler содержит HTTP обработчики REST API заказов.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/order-events/pkg/logger"
	"example.com/order-events/services/order/internal/domain"
)

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HandleError преобразует доменную ошибку в HTTP ответ.
// err не должен быть nil.
func HandleError(c *gin.Context, err error, method string) {
	log := logger.FromContext(c.Request.Context())

	if err == nil {
		log.Error().Str("method", method).Msg("HandleError вызван с nil ошибкой")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	var httpStatus int
	var errorCode string

	switch {
	case errors.Is(err, domain.ErrInvalidOrder):
		httpStatus = http.StatusBadRequest
		errorCode = "invalid_argument"
	case errors.Is(err, domain.ErrOrderNotFound):
		httpStatus = http.StatusNotFound
		errorCode = "not_found"
	case errors.Is(err, domain.ErrDuplicateKey):
		httpStatus = http.StatusConflict
		errorCode = "already_exists"
	case errors.Is(err, domain.ErrConnection):
		httpStatus = http.StatusServiceUnavailable
		errorCode = "service_unavailable"
	case errors.Is(err, domain.ErrPublish):
		httpStatus = http.StatusBadGateway
		errorCode = "publish_failed"
	case errors.Is(err, domain.ErrCorrelation):
		httpStatus = http.StatusInternalServerError
		errorCode = "correlation_missing"
	default:
		httpStatus = http.StatusInternalServerError
		errorCode = "internal_error"
	}

	if httpStatus >= http.StatusInternalServerError {
		log.Error().Err(err).Str("method", method).Msg("Ошибка обработки запроса")
	}

	c.JSON(httpStatus, ErrorResponse{
		Error:   errorCode,
		Message: err.Error(),
	})
}
