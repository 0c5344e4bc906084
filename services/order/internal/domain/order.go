package domain

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// StatusPending — статус нового заказа.
const StatusPending = "pending"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Order — документ заказа. Именно этот объект сохраняется в хранилище
// и он же (без повторного чтения) уходит телом события в топик.
type Order struct {
	OrderID          string `json:"orderId"`
	ItemID           string `json:"itemId"`
	DeliveryLocation string `json:"deliveryLocation"`
	Status           string `json:"status"`

	// Зарезервированы под состояния доставки и оплаты, при создании пустые.
	TrackingState string `json:"trackingState"`
	PaymentState  string `json:"paymentState"`
}

// NewOrder создает заказ в статусе pending с пустыми зарезервированными полями.
func NewOrder(orderID, itemID, deliveryLocation string) *Order {
	return &Order{
		OrderID:          orderID,
		ItemID:           itemID,
		DeliveryLocation: deliveryLocation,
		Status:           StatusPending,
	}
}

// Validate проверяет обязательные поля.
func (o *Order) Validate() error {
	switch {
	case strings.TrimSpace(o.OrderID) == "":
		return fmt.Errorf("%w: пустой orderId", ErrInvalidOrder)
	case strings.TrimSpace(o.ItemID) == "":
		return fmt.Errorf("%w: пустой itemId", ErrInvalidOrder)
	case strings.TrimSpace(o.DeliveryLocation) == "":
		return fmt.Errorf("%w: пустой deliveryLocation", ErrInvalidOrder)
	}
	return nil
}

// Marshal сериализует заказ в JSON.
func (o *Order) Marshal() ([]byte, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return data, nil
}

// UnmarshalOrder разбирает JSON документ заказа.
func UnmarshalOrder(data []byte) (*Order, error) {
	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return &o, nil
}
