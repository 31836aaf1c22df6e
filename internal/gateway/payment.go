// Package gateway holds the strategy interfaces for the external
// collaborators (payment provider, translation provider, notification
// channel) and their real and fake implementations.
package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"lipdub/internal/config"
	"lipdub/internal/model"

	"github.com/shopspring/decimal"
)

const (
	PaymentProviderCloudPayments = "cloudpayments"
	PaymentProviderFake          = "fake"
)

var (
	ErrMalformedEvent  = errors.New("malformed payment notification")
	ErrUnknownProvider = errors.New("unknown provider")
)

// EventKind is the normalized meaning of a provider notification.
type EventKind string

const (
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventRefunded  EventKind = "refunded"
	// EventIgnored covers intermediate provider states (3-D Secure pending
	// and the like) that do not move the ledger.
	EventIgnored EventKind = "ignored"
)

// PaymentEvent is a parsed, not yet applied, provider notification.
type PaymentEvent struct {
	InvoiceID    string
	ProviderTxID string
	Operation    string
	Status       string
	Reason       string
	Kind         EventKind
}

// ChargeRequest is the descriptor handed to the payment widget.
type ChargeRequest struct {
	Provider    string          `json:"provider"`
	PublicID    string          `json:"public_id,omitempty"`
	InvoiceID   string          `json:"invoice_id"`
	AccountID   string          `json:"account_id"`
	Amount      int64           `json:"amount"`
	AmountMajor decimal.Decimal `json:"amount_major"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	Skin        string          `json:"skin,omitempty"`
	RedirectURL string          `json:"redirect_url,omitempty"`
	Demo        bool            `json:"demo"`
}

// PaymentGateway builds charge descriptors and decodes the provider's
// webhook body.
type PaymentGateway interface {
	Name() string
	ChargeRequest(tx *model.Transaction, redirectURL string) (*ChargeRequest, error)
	ParseNotification(rawBody []byte) (*PaymentEvent, error)
}

func NewPaymentGateway(cfg config.PaymentConfig) (PaymentGateway, error) {
	switch cfg.Provider {
	case PaymentProviderCloudPayments:
		return &CloudPaymentsGateway{cfg: cfg}, nil
	case PaymentProviderFake, "":
		return &FakePaymentGateway{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("%w: payment %q", ErrUnknownProvider, cfg.Provider)
	}
}

// CloudPaymentsGateway drives the CloudPayments widget.
type CloudPaymentsGateway struct {
	cfg config.PaymentConfig
}

func (g *CloudPaymentsGateway) Name() string { return PaymentProviderCloudPayments }

func (g *CloudPaymentsGateway) ChargeRequest(tx *model.Transaction, redirectURL string) (*ChargeRequest, error) {
	return buildChargeRequest(g.Name(), g.cfg, tx, redirectURL, false)
}

func (g *CloudPaymentsGateway) ParseNotification(rawBody []byte) (*PaymentEvent, error) {
	return parseFormNotification(rawBody)
}

// FakePaymentGateway returns the same descriptor marked as a demo charge.
// Completion still arrives through a signed webhook.
type FakePaymentGateway struct {
	cfg config.PaymentConfig
}

func (g *FakePaymentGateway) Name() string { return PaymentProviderFake }

func (g *FakePaymentGateway) ChargeRequest(tx *model.Transaction, redirectURL string) (*ChargeRequest, error) {
	return buildChargeRequest(g.Name(), g.cfg, tx, redirectURL, true)
}

func (g *FakePaymentGateway) ParseNotification(rawBody []byte) (*PaymentEvent, error) {
	return parseFormNotification(rawBody)
}

func buildChargeRequest(provider string, cfg config.PaymentConfig, tx *model.Transaction, redirectURL string, demo bool) (*ChargeRequest, error) {
	if tx == nil || tx.UniqueCode == "" {
		return nil, errors.New("charge request needs a transaction")
	}
	if tx.Amount <= 0 {
		return nil, fmt.Errorf("charge amount must be positive, got %d", tx.Amount)
	}
	if redirectURL != "" {
		if u, err := url.Parse(redirectURL); err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("redirect url %q is not absolute", redirectURL)
		}
	}

	currency := tx.Currency
	if currency == "" {
		currency = cfg.Currency
	}

	return &ChargeRequest{
		Provider:    provider,
		PublicID:    cfg.PublicID,
		InvoiceID:   tx.UniqueCode,
		AccountID:   tx.UserEmail,
		Amount:      tx.Amount,
		AmountMajor: decimal.New(tx.Amount, -2),
		Currency:    currency,
		Description: fmt.Sprintf("Lip-sync translation (%s)", tx.ProductID),
		Skin:        cfg.Skin,
		RedirectURL: redirectURL,
		Demo:        demo,
	}, nil
}

// parseFormNotification decodes the form-encoded body used by CloudPayments
// Pay/Fail/Refund notifications.
func parseFormNotification(rawBody []byte) (*PaymentEvent, error) {
	values, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	ev := &PaymentEvent{
		InvoiceID:    strings.TrimSpace(values.Get("InvoiceId")),
		ProviderTxID: strings.TrimSpace(values.Get("TransactionId")),
		Operation:    strings.TrimSpace(values.Get("OperationType")),
		Status:       strings.TrimSpace(values.Get("Status")),
		Reason:       strings.TrimSpace(values.Get("Reason")),
	}
	if ev.InvoiceID == "" {
		return nil, fmt.Errorf("%w: InvoiceId is required", ErrMalformedEvent)
	}

	if strings.EqualFold(ev.Operation, "Refund") {
		ev.Kind = EventRefunded
		return ev, nil
	}

	switch strings.ToLower(ev.Status) {
	case "completed":
		ev.Kind = EventCompleted
	case "declined", "cancelled", "failed":
		ev.Kind = EventFailed
		if ev.Reason == "" {
			ev.Reason = ev.Status
		}
	case "refunded":
		ev.Kind = EventRefunded
	// An authorized hold is not captured money; only completed pays.
	case "authorized", "awaitingauthentication", "pending":
		ev.Kind = EventIgnored
	case "":
		return nil, fmt.Errorf("%w: Status is required", ErrMalformedEvent)
	default:
		return nil, fmt.Errorf("%w: unsupported status %q", ErrMalformedEvent, ev.Status)
	}

	if ev.Kind == EventCompleted && ev.ProviderTxID == "" {
		return nil, fmt.Errorf("%w: TransactionId is required for a completed payment", ErrMalformedEvent)
	}
	return ev, nil
}
