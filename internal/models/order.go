package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderKind is the product line an order belongs to.
type OrderKind string

const (
	KindBillPayment OrderKind = "bill-payment"
	KindPayout      OrderKind = "payout"
	KindGiftCard    OrderKind = "gift-card"
)

// Valid reports whether k is a known order kind.
func (k OrderKind) Valid() bool {
	switch k {
	case KindBillPayment, KindPayout, KindGiftCard:
		return true
	}
	return false
}

// OrderStatus is the order state machine value:
//
//	created -> debited -> submitted -> completed | failed | cancelled
//
// created and debited may also go straight to failed.
type OrderStatus string

const (
	StatusCreated   OrderStatus = "created"
	StatusDebited   OrderStatus = "debited"
	StatusSubmitted OrderStatus = "submitted"
	StatusCompleted OrderStatus = "completed"
	StatusFailed    OrderStatus = "failed"
	StatusCancelled OrderStatus = "cancelled"
)

var transitions = map[OrderStatus][]OrderStatus{
	StatusCreated:   {StatusDebited, StatusFailed},
	StatusDebited:   {StatusSubmitted, StatusCompleted, StatusFailed, StatusCancelled},
	StatusSubmitted: {StatusCompleted, StatusFailed, StatusCancelled},
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether the state machine allows s -> to.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesOf returns every status from which to is reachable in one step.
func SourcesOf(to OrderStatus) []OrderStatus {
	var from []OrderStatus
	for _, s := range []OrderStatus{StatusCreated, StatusDebited, StatusSubmitted} {
		if s.CanTransition(to) {
			from = append(from, s)
		}
	}
	return from
}

// Params holds provider specific order parameters (meter number, phone,
// bank account, product code...). Stored as JSONB.
type Params map[string]string

// Value implements driver.Valuer.
func (p Params) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner.
func (p *Params) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = Params{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("params: unsupported type %T", src)
	}
	return json.Unmarshal(data, p)
}

// Order is one attempted provider-fulfilled purchase or payout.
// ID doubles as the idempotency reference sent to the provider.
type Order struct {
	ID            uuid.UUID       `json:"id" db:"order_id"`
	RequestKey    string          `json:"-" db:"request_key"` // client idempotency key, unique per owner
	OwnerID       uuid.UUID       `json:"owner_id" db:"owner_id"`
	WalletID      uuid.UUID       `json:"wallet_id" db:"wallet_id"`
	Kind          OrderKind       `json:"kind" db:"kind"`
	Provider      string          `json:"provider" db:"provider"`
	ProviderRef   *string         `json:"provider_ref,omitempty" db:"provider_ref"`
	Params        Params          `json:"params" db:"params"`
	Currency      string          `json:"currency" db:"currency"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Fees          decimal.Decimal `json:"fees" db:"fees"`
	TotalAmount   decimal.Decimal `json:"total_amount" db:"total_amount"`
	Status        OrderStatus     `json:"status" db:"status"`
	ErrorMessage  *string         `json:"error_message,omitempty" db:"error_message"`
	RefundPending bool            `json:"refund_pending" db:"refund_pending"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	LastPolledAt  *time.Time      `json:"-" db:"last_polled_at"`
}

// OrderUpdate is the set of fields written by a status transition.
// Nil pointers leave the stored value untouched.
type OrderUpdate struct {
	Status        OrderStatus
	ProviderRef   *string
	ErrorMessage  *string
	CompletedAt   *time.Time
	RefundPending *bool
}

// PurchaseRequest is the caller's intent to buy a service from a wallet.
type PurchaseRequest struct {
	OwnerID    uuid.UUID
	RequestKey string
	Currency   string
	Kind       OrderKind
	Amount     decimal.Decimal
	Params     Params
}
