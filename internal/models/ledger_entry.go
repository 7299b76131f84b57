package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryKind is the direction of a ledger entry.
type EntryKind string

const (
	EntryDebit  EntryKind = "debit"  // money leaves the wallet for an order
	EntryCredit EntryKind = "credit" // wallet funding
	EntryRefund EntryKind = "refund" // compensation of a prior debit
)

// LedgerEntry is one append-only line of a wallet's history.
// Entries are unique per (wallet, order, kind).
type LedgerEntry struct {
	EntryID      uuid.UUID       `json:"entry_id" db:"entry_id"`
	WalletID     uuid.UUID       `json:"wallet_id" db:"wallet_id"`
	OrderID      uuid.UUID       `json:"order_id" db:"order_id"`           // order id, or funding reference for credits
	Kind         EntryKind       `json:"kind" db:"kind"`                   // debit, credit or refund
	Category     string          `json:"category" db:"category"`           // order kind for debits and refunds
	Amount       decimal.Decimal `json:"amount" db:"amount"`               // always positive
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"` // wallet balance once applied
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	Replayed     bool            `json:"-" db:"-"` // set when a store returns an entry recorded by an earlier call
}

// Signed returns the entry's effect on the wallet balance.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Kind == EntryDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// LedgerRequest describes one ledger mutation.
type LedgerRequest struct {
	WalletID uuid.UUID
	OrderID  uuid.UUID
	Amount   decimal.Decimal
	Category string

	// DailyLimit caps the net amount debited for Category during the
	// current UTC day. Zero means no limit.
	DailyLimit decimal.Decimal
}
