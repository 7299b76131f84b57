package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/logger"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

//go:generate mockgen -source=wallet.go -destination=mock_wallet.go -package=services

// LedgerStore is the wallet ledger: idempotent per (wallet, order, kind)
// debits, credits and refunds plus read access for reconciliation.
type LedgerStore interface {
	Wallet(ctx context.Context, ownerID uuid.UUID, currency string) (*models.Wallet, error)                        // Returns the owner's wallet, creating it on first use
	GetWallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error)                                     // Loads a wallet by id
	Entries(ctx context.Context, walletID uuid.UUID) ([]models.LedgerEntry, error)                                 // Returns the wallet history
	FindEntry(ctx context.Context, walletID, orderID uuid.UUID, kind models.EntryKind) (*models.LedgerEntry, error) // Returns the entry for the triple or nil
	Debit(ctx context.Context, req models.LedgerRequest) (*models.LedgerEntry, error)                               // Removes money for an order
	Credit(ctx context.Context, req models.LedgerRequest) (*models.LedgerEntry, error)                              // Funds a wallet
	Refund(ctx context.Context, req models.LedgerRequest) (*models.LedgerEntry, error)                              // Reverses an order debit
}

// KafkaWriter defines a Kafka writer abstraction.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error // Writes messages to Kafka
	Close() error                                                   // Closes the Kafka writer
}

// depositNamespace scopes deposit references derived from client keys.
var depositNamespace = uuid.MustParse("3c1f6a52-8d0e-4b7a-9a55-1f2d7c9e4b10")

// WalletService exposes balances and funding.
type WalletService struct {
	ledger LedgerStore
	events *eventPublisher
}

// NewWalletService creates a new WalletService.
func NewWalletService(ledger LedgerStore, kafkaWriter KafkaWriter) *WalletService {
	return &WalletService{
		ledger: ledger,
		events: newEventPublisher(kafkaWriter),
	}
}

// Balance returns the owner's wallet in currency and its ledger history.
func (s *WalletService) Balance(ctx context.Context, ownerID uuid.UUID, currency string) (*models.Wallet, []models.LedgerEntry, error) {
	currency = strings.ToUpper(currency)
	if !models.ValidCurrency(currency) {
		return nil, nil, fmt.Errorf("%w: unsupported currency %q", apperr.ErrInvalidRequest, currency)
	}

	w, err := s.ledger.Wallet(ctx, ownerID, currency)
	if err != nil {
		logger.Log.Errorw("failed to get wallet", "owner_id", ownerID, "currency", currency, "error", err)
		return nil, nil, err
	}

	entries, err := s.ledger.Entries(ctx, w.WalletID)
	if err != nil {
		logger.Log.Errorw("failed to get ledger entries", "wallet_id", w.WalletID, "error", err)
		return nil, nil, err
	}
	return w, entries, nil
}

// Deposit credits amount to the owner's wallet. reference is the client's
// idempotency key: repeating it never credits twice.
func (s *WalletService) Deposit(ctx context.Context, ownerID uuid.UUID, currency string, amount decimal.Decimal, reference string) (*models.Wallet, error) {
	currency = strings.ToUpper(currency)
	switch {
	case !models.ValidCurrency(currency):
		return nil, fmt.Errorf("%w: unsupported currency %q", apperr.ErrInvalidRequest, currency)
	case !amount.IsPositive():
		return nil, fmt.Errorf("%w: amount must be positive", apperr.ErrInvalidRequest)
	case !amount.Equal(amount.Round(2)):
		return nil, fmt.Errorf("%w: amount has more than 2 decimal places", apperr.ErrInvalidRequest)
	case reference == "":
		return nil, fmt.Errorf("%w: deposit reference is required", apperr.ErrInvalidRequest)
	}

	w, err := s.ledger.Wallet(ctx, ownerID, currency)
	if err != nil {
		logger.Log.Errorw("failed to get wallet", "owner_id", ownerID, "currency", currency, "error", err)
		return nil, err
	}

	ref := uuid.NewSHA1(depositNamespace, []byte(ownerID.String()+":"+reference))
	entry, err := s.ledger.Credit(ctx, models.LedgerRequest{WalletID: w.WalletID, OrderID: ref, Amount: amount})
	if err != nil {
		logger.Log.Errorw("failed to save deposit", "owner_id", ownerID, "amount", amount, "currency", currency, "error", err)
		return nil, err
	}

	s.events.publishEntry(ctx, EventWalletCredited, ownerID, entry)

	w, err = s.ledger.GetWallet(ctx, w.WalletID)
	if err != nil {
		logger.Log.Errorw("failed to get wallet after deposit", "wallet_id", entry.WalletID, "error", err)
		return nil, err
	}
	return w, nil
}
