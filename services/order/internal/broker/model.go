package broker

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Статусы сообщения в таблице топика.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusDead      = "dead"
	StatusExpired   = "expired"
)

// Record — зафиксированное сообщение топика.
type Record struct {
	ID           string
	Topic        string // OWNER.NAME
	MessageID    int
	Payload      []byte
	Properties   map[string]int
	Headers      map[string]string
	Priority     int
	DeliveryMode DeliveryMode
	ExpiresAt    *time.Time
	Status       string
	RetryCount   int
	LastError    *string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
}

// Expired — срок жизни сообщения истек к моменту now.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// TopicMessageModel — GORM модель таблицы topic_messages.
type TopicMessageModel struct {
	ID           string     `gorm:"column:id;type:varchar(36);primaryKey"`
	Topic        string     `gorm:"column:topic;type:varchar(261);not null"`
	MessageID    int        `gorm:"column:message_id;not null;default:0"`
	Payload      string     `gorm:"column:payload;type:text;not null"`
	Properties   []byte     `gorm:"column:properties;type:text"`
	Headers      []byte     `gorm:"column:headers;type:text"`
	Priority     int        `gorm:"column:priority;not null"`
	DeliveryMode int        `gorm:"column:delivery_mode;not null"`
	ExpiresAt    *time.Time `gorm:"column:expires_at"`
	Status       string     `gorm:"column:status;type:varchar(20);not null"`
	RetryCount   int        `gorm:"column:retry_count;not null;default:0"`
	LastError    *string    `gorm:"column:last_error;type:text"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	ProcessedAt  *time.Time `gorm:"column:processed_at"`
}

// TableName возвращает имя таблицы в БД.
func (TopicMessageModel) TableName() string {
	return "topic_messages"
}

func (m *TopicMessageModel) toRecord() *Record {
	r := &Record{
		ID:           m.ID,
		Topic:        m.Topic,
		MessageID:    m.MessageID,
		Payload:      []byte(m.Payload),
		Priority:     m.Priority,
		DeliveryMode: DeliveryMode(m.DeliveryMode),
		ExpiresAt:    m.ExpiresAt,
		Status:       m.Status,
		RetryCount:   m.RetryCount,
		LastError:    m.LastError,
		CreatedAt:    m.CreatedAt,
		ProcessedAt:  m.ProcessedAt,
	}

	// Поврежденные JSON колонки не мешают доставке тела.
	if len(m.Properties) > 0 {
		_ = json.Unmarshal(m.Properties, &r.Properties)
	}
	if len(m.Headers) > 0 {
		_ = json.Unmarshal(m.Headers, &r.Headers)
	}

	return r
}

func modelFromMessage(id string, topic Topic, msg *Message, now time.Time) (*TopicMessageModel, error) {
	props, err := json.Marshal(msg.Properties)
	if err != nil {
		return nil, err
	}
	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return nil, err
	}

	m := &TopicMessageModel{
		ID:           id,
		Topic:        topic.String(),
		MessageID:    msg.Properties[PropertyID],
		Payload:      msg.Text,
		Properties:   props,
		Headers:      headers,
		Priority:     msg.Priority,
		DeliveryMode: int(msg.DeliveryMode),
		Status:       StatusPending,
		CreatedAt:    now,
	}

	if msg.Expiration != NeverExpire {
		expires := now.Add(msg.Expiration)
		m.ExpiresAt = &expires
	}

	return m, nil
}
