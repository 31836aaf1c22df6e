package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSending = "SENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// NewOutboxMessage encodes payload as a pending message.
func NewOutboxMessage(key, topic string, payload any) (*OutboxMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		Payload:    datatypes.JSON(raw),
		Status:     OutboxStatusPending,
	}, nil
}

// TopicNotifyEmail is delivered to the notifier instead of Kafka.
const TopicNotifyEmail = "notify.email"

// OutboxMessage is written in the same DB transaction as the state change it
// announces. MessageKey is unique so a message can only be enqueued once.
type OutboxMessage struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string         `gorm:"type:varchar(128);uniqueIndex;not null" json:"message_key"`
	Topic      string         `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    datatypes.JSON `gorm:"not null" json:"payload"`
	Status     string         `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int            `gorm:"not null;default:0" json:"retry_count"`
	LastError  string         `gorm:"type:varchar(1024)" json:"last_error"`
	CreatedAt  time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// NotificationPayload is the body of a notify.email outbox message.
type NotificationPayload struct {
	Email         string `json:"email"`
	UniqueCode    string `json:"uniquecode"`
	TranslatedURL string `json:"translated_url"`
	Language      string `json:"language"`
}

// PaymentEventPayload is published to the payment events topic.
type PaymentEventPayload struct {
	Event        string    `json:"event"` // payment.completed, payment.failed, payment.refunded
	UniqueCode   string    `json:"uniquecode"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	ProviderTxID string    `json:"provider_tx_id,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// TranslationEventPayload is published to the translation events topic.
type TranslationEventPayload struct {
	Event         string    `json:"event"` // translation.started, translation.completed, translation.failed
	VideoID       string    `json:"video_id"`
	UniqueCode    string    `json:"uniquecode"`
	JobID         string    `json:"job_id,omitempty"`
	TranslatedURL string    `json:"translated_url,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}
