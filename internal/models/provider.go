package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProviderStatus is the canonical status a provider reports for an order.
type ProviderStatus string

const (
	ProviderPending   ProviderStatus = "pending"
	ProviderSuccess   ProviderStatus = "success"
	ProviderFailed    ProviderStatus = "failed"
	ProviderCancelled ProviderStatus = "cancelled"
)

// OrderStatus maps a terminal provider status onto the order state machine.
// ok is false for pending or unknown statuses.
func (s ProviderStatus) OrderStatus() (status OrderStatus, ok bool) {
	switch s {
	case ProviderSuccess:
		return StatusCompleted, true
	case ProviderFailed:
		return StatusFailed, true
	case ProviderCancelled:
		return StatusCancelled, true
	}
	return "", false
}

// StatusMap translates raw provider status codes into ProviderStatus.
// Unknown codes are treated as pending.
type StatusMap map[string]ProviderStatus

// Lookup returns the canonical status for code.
func (m StatusMap) Lookup(code string) ProviderStatus {
	if s, ok := m[code]; ok {
		return s
	}
	return ProviderPending
}

// ProviderOrderRequest is what the coordinator asks a provider to fulfil.
type ProviderOrderRequest struct {
	OutRef   uuid.UUID // internal order id, the provider-side idempotency key
	Kind     OrderKind
	Currency string
	Amount   decimal.Decimal
	Params   Params
}

// ProviderOrderResult is a provider's immediate answer to CreateOrder.
type ProviderOrderResult struct {
	ProviderRef string
	Status      ProviderStatus
	Message     string
	CompletedAt *time.Time
}

// ProviderLookup identifies an order on the provider side. Either field
// may be empty; providers prefer ProviderRef when set.
type ProviderLookup struct {
	ProviderRef string
	OutRef      uuid.UUID
}

// ProviderStatusResult is the answer to QueryStatus.
type ProviderStatusResult struct {
	ProviderRef string
	Status      ProviderStatus
	CompletedAt *time.Time
	ErrorMsg    string
}

// EventSource tells where a StatusEvent came from.
type EventSource string

const (
	SourceWebhook EventSource = "webhook"
	SourcePoll    EventSource = "poll"
	SourceCreate  EventSource = "create"
)

// StatusEvent is the canonical, provider independent status notification
// consumed by the reconciliation decision procedure.
type StatusEvent struct {
	Provider    string
	ProviderRef string
	OutRef      uuid.UUID
	Status      ProviderStatus
	Amount      decimal.Decimal
	CompletedAt *time.Time
	ErrorMsg    string
	Source      EventSource
}
