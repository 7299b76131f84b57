package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Supported currency codes
const (
	NGN = "NGN"
	USD = "USD"
	EUR = "EUR"
)

// Wallet represents a wallet row in the database.
// Balance is a cached projection of the wallet's ledger entries.
type Wallet struct {
	WalletID  uuid.UUID       `json:"wallet_id" db:"wallet_id"`   // Unique wallet identifier
	OwnerID   uuid.UUID       `json:"owner_id" db:"owner_id"`     // Identifier of the wallet's owner
	Currency  string          `json:"currency" db:"currency"`     // Currency code (e.g., NGN, USD)
	Balance   decimal.Decimal `json:"balance" db:"balance"`       // Current balance, never negative
	Version   int64           `json:"version" db:"version"`       // Incremented on every balance change
	CreatedAt time.Time       `json:"created_at" db:"created_at"` // Timestamp when the wallet was created
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"` // Timestamp of the last wallet update
}

// ValidCurrency reports whether code is a supported currency.
func ValidCurrency(code string) bool {
	switch code {
	case NGN, USD, EUR:
		return true
	}
	return false
}
