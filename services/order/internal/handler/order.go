package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/order-events/pkg/logger"
	"example.com/order-events/services/order/internal/domain"
)

// OrderService — операции продюсера, которые вызывает HTTP слой.
type OrderService interface {
	Produce(ctx context.Context, orderID, itemID, deliveryLocation string) (string, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	UpdateOrder(ctx context.Context, order *domain.Order) error
	DeleteOrder(ctx context.Context, orderID string) (string, error)
	DropOrders(ctx context.Context) (string, error)
}

// OrderHandler — обработчик заказов.
type OrderHandler struct {
	orders OrderService
}

// NewOrderHandler создает обработчик заказов.
func NewOrderHandler(orders OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// === Request/Response DTOs ===

// CreateOrderRequest — запрос на создание заказа.
type CreateOrderRequest struct {
	OrderID          string `json:"orderId" binding:"required"`
	ItemID           string `json:"itemId" binding:"required"`
	DeliveryLocation string `json:"deliveryLocation" binding:"required"`
}

// CreateOrderResponse — ответ на создание заказа: топик, в который ушло событие.
type CreateOrderResponse struct {
	OrderID string `json:"orderId"`
	Topic   string `json:"topic"`
}

// UpdateOrderRequest — полная замена документа заказа.
type UpdateOrderRequest struct {
	ItemID           string `json:"itemId" binding:"required"`
	DeliveryLocation string `json:"deliveryLocation" binding:"required"`
	Status           string `json:"status" binding:"required"`
	TrackingState    string `json:"trackingState"`
	PaymentState     string `json:"paymentState"`
}

// MessageResponse — ответ административных операций.
type MessageResponse struct {
	Message string `json:"message"`
}

// === Handlers ===

// CreateOrder сохраняет заказ и публикует событие.
// POST /api/v1/orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	topic, err := h.orders.Produce(c.Request.Context(), req.OrderID, req.ItemID, req.DeliveryLocation)
	if err != nil {
		HandleError(c, err, "CreateOrder")
		return
	}

	logger.Ctx(c.Request.Context()).Info().
		Str("order_id", req.OrderID).
		Str("topic", topic).
		Msg("Заказ создан через API")

	c.JSON(http.StatusCreated, CreateOrderResponse{OrderID: req.OrderID, Topic: topic})
}

// GetOrder возвращает документ заказа.
// GET /api/v1/orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err, "GetOrder")
		return
	}

	c.JSON(http.StatusOK, order)
}

// UpdateOrder заменяет документ заказа. Событие не публикуется.
// PUT /api/v1/orders/:id
func (h *OrderHandler) UpdateOrder(c *gin.Context) {
	var req UpdateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	order := &domain.Order{
		OrderID:          c.Param("id"),
		ItemID:           req.ItemID,
		DeliveryLocation: req.DeliveryLocation,
		Status:           req.Status,
		TrackingState:    req.TrackingState,
		PaymentState:     req.PaymentState,
	}

	if err := h.orders.UpdateOrder(c.Request.Context(), order); err != nil {
		HandleError(c, err, "UpdateOrder")
		return
	}

	c.JSON(http.StatusOK, order)
}

// DeleteOrder удаляет заказ.
// DELETE /api/v1/orders/:id
func (h *OrderHandler) DeleteOrder(c *gin.Context) {
	msg, err := h.orders.DeleteOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err, "DeleteOrder")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: msg})
}

// DropOrders удаляет коллекцию заказов целиком.
// DELETE /api/v1/orders
func (h *OrderHandler) DropOrders(c *gin.Context) {
	msg, err := h.orders.DropOrders(c.Request.Context())
	if err != nil {
		HandleError(c, err, "DropOrders")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: msg})
}
