package model

import "time"

// WebhookEvent records every payment notification delivery, valid or not.
type WebhookEvent struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Provider        string     `gorm:"type:varchar(32);not null;index" json:"provider"`
	InvoiceID       string     `gorm:"type:varchar(64);index" json:"invoice_id"`
	ProviderTxID    string     `gorm:"type:varchar(64)" json:"provider_tx_id"`
	Operation       string     `gorm:"type:varchar(32)" json:"operation"`
	Status          string     `gorm:"type:varchar(32)" json:"status"`
	RawBody         string     `gorm:"type:text;not null" json:"raw_body"`
	SignatureValid  bool       `gorm:"not null;index" json:"signature_valid"`
	ProcessedAt     *time.Time `json:"processed_at"`
	ProcessingError string     `gorm:"type:varchar(1024)" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_event"
}
