package model

import (
	"time"
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
	TransactionStatusRefunded  = "refunded"
)

// ValidTransactionTransitions lists, per status, the statuses a payment
// event may move a transaction to. A failed attempt may still be paid later
// through the same invoice; a refund ends everything.
var ValidTransactionTransitions = map[string][]string{
	TransactionStatusPending:   {TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusRefunded},
	TransactionStatusFailed:    {TransactionStatusCompleted, TransactionStatusRefunded},
	TransactionStatusCompleted: {TransactionStatusRefunded},
}

func CanTransactionTransitionTo(currentStatus, targetStatus string) bool {
	return contains(ValidTransactionTransitions[currentStatus], targetStatus)
}

// TransactionSourcesFor returns every status from which targetStatus is
// reachable. Used as the IN (...) guard of conditional updates.
func TransactionSourcesFor(targetStatus string) []string {
	return sourcesFor(ValidTransactionTransitions, targetStatus)
}

// Transaction is one purchase attempt for one video.
//
// UniqueCode is the only identifier that leaves the service; ID stays
// internal. IsPaid is written only by verified provider notifications and
// IsActivated only once the translation output exists.
type Transaction struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"-"`
	UniqueCode        string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"uniquecode"`
	UserEmail         string     `gorm:"type:varchar(255);index;not null" json:"user_email"`
	ProductID         string     `gorm:"type:varchar(64);not null" json:"product_id"`
	VideoID           *string    `gorm:"type:varchar(64);index" json:"video_id"`
	Amount            int64      `gorm:"not null" json:"amount"`
	Currency          string     `gorm:"type:varchar(8);not null" json:"currency"`
	Status            string     `gorm:"type:varchar(20);index;not null" json:"status"`
	IsPaid            bool       `gorm:"not null;index" json:"is_paid"`
	IsActivated       bool       `gorm:"not null;index" json:"is_activated"`
	CPTransactionID   *string    `gorm:"column:cp_transaction_id;type:varchar(64)" json:"cp_transaction_id"`
	FailReason        *string    `gorm:"type:varchar(512)" json:"fail_reason"`
	ChargeRequestedAt *time.Time `json:"charge_requested_at"`
	PaidAt            *time.Time `json:"paid_at"`
	ActivatedAt       *time.Time `json:"activated_at"`
	RefundedAt        *time.Time `json:"refunded_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sourcesFor(table map[string][]string, target string) []string {
	var sources []string
	for from, targets := range table {
		if contains(targets, target) {
			sources = append(sources, from)
		}
	}
	return sources
}
