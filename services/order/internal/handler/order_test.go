package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"example.com/order-events/pkg/middleware"
	"example.com/order-events/services/order/internal/broker"
	"example.com/order-events/services/order/internal/correlation"
	"example.com/order-events/services/order/internal/domain"
	"example.com/order-events/services/order/internal/producer"
	"example.com/order-events/services/order/internal/publisher"
	"example.com/order-events/services/order/internal/store"
	"example.com/order-events/services/order/internal/testutil"
)

func TestMain(m *testing.M) {
	// otelgin берет глобальный провайдер: без SDK span'ы невалидны и ECID не получить.
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	code := m.Run()
	_ = tp.Shutdown(context.Background())
	os.Exit(code)
}

// MockOrderService — мок для OrderService.
type MockOrderService struct {
	ProduceFunc     func(ctx context.Context, orderID, itemID, deliveryLocation string) (string, error)
	GetOrderFunc    func(ctx context.Context, orderID string) (*domain.Order, error)
	UpdateOrderFunc func(ctx context.Context, order *domain.Order) error
	DeleteOrderFunc func(ctx context.Context, orderID string) (string, error)
	DropOrdersFunc  func(ctx context.Context) (string, error)
}

func (m *MockOrderService) Produce(ctx context.Context, orderID, itemID, deliveryLocation string) (string, error) {
	if m.ProduceFunc != nil {
		return m.ProduceFunc(ctx, orderID, itemID, deliveryLocation)
	}
	return "", nil
}

func (m *MockOrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if m.GetOrderFunc != nil {
		return m.GetOrderFunc(ctx, orderID)
	}
	return nil, nil
}

func (m *MockOrderService) UpdateOrder(ctx context.Context, order *domain.Order) error {
	if m.UpdateOrderFunc != nil {
		return m.UpdateOrderFunc(ctx, order)
	}
	return nil
}

func (m *MockOrderService) DeleteOrder(ctx context.Context, orderID string) (string, error) {
	if m.DeleteOrderFunc != nil {
		return m.DeleteOrderFunc(ctx, orderID)
	}
	return "", nil
}

func (m *MockOrderService) DropOrders(ctx context.Context) (string, error) {
	if m.DropOrdersFunc != nil {
		return m.DropOrdersFunc(ctx)
	}
	return "", nil
}

func newTestRouter(orders OrderService) *gin.Engine {
	r := NewRouter(RouterConfig{
		Orders:      orders,
		ServiceName: "order-events-test",
		AdminRoutes: true,
	})
	gin.SetMode(gin.TestMode)
	return r.Engine()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// =====================================
// Тесты CreateOrder
// =====================================

func TestCreateOrder_Success(t *testing.T) {
	svc := &MockOrderService{
		ProduceFunc: func(ctx context.Context, orderID, itemID, deliveryLocation string) (string, error) {
			assert.Equal(t, "O-100", orderID)
			assert.Equal(t, "I-9", itemID)
			assert.Equal(t, "WAREHOUSE-A", deliveryLocation)

			_, err := correlation.ECID(ctx)
			assert.NoError(t, err, "otelgin должен создать span запроса")
			return "ORDERUSER.ORDERQUEUE", nil
		},
	}

	w := doJSON(t, newTestRouter(svc), http.MethodPost, "/api/v1/orders", CreateOrderRequest{
		OrderID: "O-100", ItemID: "I-9", DeliveryLocation: "WAREHOUSE-A",
	})

	require.Equal(t, http.StatusCreated, w.Code)

	var resp CreateOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ORDERUSER.ORDERQUEUE", resp.Topic)
	assert.Equal(t, "O-100", resp.OrderID)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderTraceID))
}

func TestCreateOrder_ValidationError(t *testing.T) {
	called := false
	svc := &MockOrderService{
		ProduceFunc: func(context.Context, string, string, string) (string, error) {
			called = true
			return "", nil
		},
	}

	w := doJSON(t, newTestRouter(svc), http.MethodPost, "/api/v1/orders", map[string]string{"itemId": "I-1"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")
	assert.False(t, called)
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"дубликат", fmt.Errorf("%w: exists", domain.ErrDuplicateKey), http.StatusConflict, "already_exists"},
		{"нет соединения", fmt.Errorf("%w: refused", domain.ErrConnection), http.StatusServiceUnavailable, "service_unavailable"},
		{"ошибка публикации", fmt.Errorf("%w: queue", domain.ErrPublish), http.StatusBadGateway, "publish_failed"},
		{"нет span'а", domain.ErrCorrelation, http.StatusInternalServerError, "correlation_missing"},
		{"невалидный заказ", domain.ErrInvalidOrder, http.StatusBadRequest, "invalid_argument"},
		{"неизвестная ошибка", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockOrderService{
				ProduceFunc: func(context.Context, string, string, string) (string, error) {
					return "", tt.err
				},
			}

			w := doJSON(t, newTestRouter(svc), http.MethodPost, "/api/v1/orders", CreateOrderRequest{
				OrderID: "O-1", ItemID: "I-1", DeliveryLocation: "L",
			})

			assert.Equal(t, tt.wantStatus, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error)
		})
	}
}

// =====================================
// Тесты GetOrder / UpdateOrder / DeleteOrder / DropOrders
// =====================================

func TestGetOrder(t *testing.T) {
	svc := &MockOrderService{
		GetOrderFunc: func(_ context.Context, orderID string) (*domain.Order, error) {
			if orderID == "missing" {
				return nil, domain.ErrOrderNotFound
			}
			return domain.NewOrder(orderID, "I-1", "L"), nil
		},
	}
	router := newTestRouter(svc)

	w := doJSON(t, router, http.MethodGet, "/api/v1/orders/O-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"orderId":"O-1","itemId":"I-1","deliveryLocation":"L","status":"pending","trackingState":"","paymentState":""}`, w.Body.String())

	w = doJSON(t, router, http.MethodGet, "/api/v1/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateOrder(t *testing.T) {
	var got *domain.Order
	svc := &MockOrderService{
		UpdateOrderFunc: func(_ context.Context, order *domain.Order) error {
			got = order
			return nil
		},
	}

	w := doJSON(t, newTestRouter(svc), http.MethodPut, "/api/v1/orders/O-1", UpdateOrderRequest{
		ItemID: "I-2", DeliveryLocation: "L2", Status: "shipped", PaymentState: "paid",
	})

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got)
	assert.Equal(t, "O-1", got.OrderID)
	assert.Equal(t, "shipped", got.Status)
	assert.Equal(t, "paid", got.PaymentState)
}

func TestDeleteOrder(t *testing.T) {
	svc := &MockOrderService{
		DeleteOrderFunc: func(_ context.Context, orderID string) (string, error) {
			return "заказ " + orderID + " удален", nil
		},
	}

	w := doJSON(t, newTestRouter(svc), http.MethodDelete, "/api/v1/orders/O-1", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "O-1")
}

func TestDropOrders_AdminRoutesOnly(t *testing.T) {
	svc := &MockOrderService{
		DropOrdersFunc: func(context.Context) (string, error) { return "dropped", nil },
	}

	w := doJSON(t, newTestRouter(svc), http.MethodDelete, "/api/v1/orders", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	noAdmin := NewRouter(RouterConfig{Orders: svc, ServiceName: "test"}).Engine()
	w = doJSON(t, noAdmin, http.MethodDelete, "/api/v1/orders", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =====================================
// Health
// =====================================

func TestReadiness(t *testing.T) {
	ready := NewRouter(RouterConfig{Orders: &MockOrderService{}, ServiceName: "test"}).Engine()
	w := doJSON(t, ready, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	notReady := NewRouter(RouterConfig{
		Orders:         &MockOrderService{},
		ServiceName:    "test",
		ReadinessCheck: func(context.Context) error { return errors.New("mysql down") },
	}).Engine()
	w = doJSON(t, notReady, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, notReady, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// =====================================
// Сквозной сценарий поверх SQLite
// =====================================

func TestCreateOrder_EndToEndSQLite(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	p := producer.New(db, store.New(), broker.New(),
		correlation.New("produce_order", "order-events", "order-service"),
		publisher.New(),
		producer.Config{TopicOwner: "orderuser", TopicName: "orderqueue"},
	)
	router := newTestRouter(p)

	w := doJSON(t, router, http.MethodPost, "/api/v1/orders", CreateOrderRequest{
		OrderID: "O-100", ItemID: "I-9", DeliveryLocation: "WAREHOUSE-A",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "ORDERUSER.ORDERQUEUE")

	w = doJSON(t, router, http.MethodPost, "/api/v1/orders", CreateOrderRequest{
		OrderID: "O-100", ItemID: "I-9", DeliveryLocation: "WAREHOUSE-A",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/orders/O-100", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"pending"`)

	count, err := broker.NewRepository(db).CountByTopic(context.Background(), "ORDERUSER.ORDERQUEUE", broker.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
