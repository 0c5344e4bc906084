package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =====================================
// Тесты Order
// =====================================

func TestNewOrder(t *testing.T) {
	o := NewOrder("O-100", "I-9", "WAREHOUSE-A")

	assert.Equal(t, "O-100", o.OrderID)
	assert.Equal(t, "I-9", o.ItemID)
	assert.Equal(t, "WAREHOUSE-A", o.DeliveryLocation)
	assert.Equal(t, StatusPending, o.Status)
	assert.Empty(t, o.TrackingState)
	assert.Empty(t, o.PaymentState)
}

func TestOrder_Validate(t *testing.T) {
	tests := []struct {
		name    string
		order   *Order
		wantErr bool
	}{
		{"валидный заказ", NewOrder("O-1", "I-1", "A"), false},
		{"пустой orderId", NewOrder("", "I-1", "A"), true},
		{"orderId из пробелов", NewOrder("   ", "I-1", "A"), true},
		{"пустой itemId", NewOrder("O-1", "", "A"), true},
		{"пустой deliveryLocation", NewOrder("O-1", "I-1", ""), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.order.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOrder)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestOrder_Marshal_FieldNames(t *testing.T) {
	data, err := NewOrder("O-100", "I-9", "WAREHOUSE-A").Marshal()
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"orderId": "O-100",
		"itemId": "I-9",
		"deliveryLocation": "WAREHOUSE-A",
		"status": "pending",
		"trackingState": "",
		"paymentState": ""
	}`, string(data))
}

func TestUnmarshalOrder_Invalid(t *testing.T) {
	_, err := UnmarshalOrder([]byte(`{"orderId":`))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSerialization))
}

// =====================================
// Тесты Metadata
// =====================================

func TestNewMetadata_SlotOrder(t *testing.T) {
	md := NewMetadata("produce_order", "order-events", "order-service", "4bf92f3577b34da6a3ce929d0e0e4736")

	assert.Equal(t, "produce_order", md[0])
	assert.Equal(t, "order-events", md[1])
	assert.Equal(t, "order-service", md[2])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", md[3])

	assert.Equal(t, md[SlotECID], md.ECID())
	assert.False(t, md.IsZero())
	assert.True(t, Metadata{}.IsZero())
}
