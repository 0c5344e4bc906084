package broker

import (
	"fmt"
	"time"
)

// DeliveryMode — режим доставки сообщения.
type DeliveryMode int

const (
	NonPersistent DeliveryMode = 1
	Persistent    DeliveryMode = 2
)

// Допустимый диапазон приоритета и приоритет по умолчанию.
const (
	MinPriority     = 0
	MaxPriority     = 9
	DefaultPriority = 4
)

// NeverExpire — сообщение без срока жизни.
const NeverExpire time.Duration = 0

// Имена целочисленных свойств, которые выставляет продюсер заказов.
const (
	PropertyID       = "Id"
	PropertyPriority = "Priority"
)

// Message — текстовое сообщение топика.
type Message struct {
	Text         string
	Properties   map[string]int
	Priority     int
	DeliveryMode DeliveryMode

	// Expiration — срок жизни от момента отправки, NeverExpire — бессрочно.
	Expiration time.Duration

	// Headers — служебные заголовки (trace context, ECID), уходят дальше в Kafka.
	Headers map[string]string
}

// NewTextMessage создает сообщение с параметрами доставки по умолчанию.
func NewTextMessage(text string) *Message {
	return &Message{
		Text:         text,
		Properties:   make(map[string]int),
		Priority:     DefaultPriority,
		DeliveryMode: Persistent,
		Expiration:   NeverExpire,
		Headers:      make(map[string]string),
	}
}

// SetIntProperty выставляет целочисленное свойство сообщения.
func (m *Message) SetIntProperty(name string, value int) {
	if m.Properties == nil {
		m.Properties = make(map[string]int)
	}
	m.Properties[name] = value
}

// SetHeader выставляет служебный заголовок.
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

func (m *Message) validate() error {
	if m.Priority < MinPriority || m.Priority > MaxPriority {
		return fmt.Errorf("приоритет %d вне диапазона %d..%d", m.Priority, MinPriority, MaxPriority)
	}
	if m.DeliveryMode != Persistent && m.DeliveryMode != NonPersistent {
		return fmt.Errorf("неизвестный режим доставки %d", m.DeliveryMode)
	}
	if m.Expiration < 0 {
		return fmt.Errorf("отрицательный срок жизни %s", m.Expiration)
	}
	return nil
}
