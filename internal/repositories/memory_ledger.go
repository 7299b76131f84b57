package repositories

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

type entryKey struct {
	walletID uuid.UUID
	orderID  uuid.UUID
	kind     models.EntryKind
}

type ownerCurrency struct {
	ownerID  uuid.UUID
	currency string
}

// MemoryLedger is an in-process ledger with the same semantics as
// LedgerRepository. One mutex serializes every mutation.
type MemoryLedger struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*models.Wallet
	byOwner map[ownerCurrency]uuid.UUID
	entries map[uuid.UUID][]models.LedgerEntry
	index   map[entryKey]models.LedgerEntry
	now     func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		wallets: make(map[uuid.UUID]*models.Wallet),
		byOwner: make(map[ownerCurrency]uuid.UUID),
		entries: make(map[uuid.UUID][]models.LedgerEntry),
		index:   make(map[entryKey]models.LedgerEntry),
		now:     time.Now,
	}
}

// Wallet returns the owner's wallet for currency, creating it on first use.
func (l *MemoryLedger) Wallet(ctx context.Context, ownerID uuid.UUID, currency string) (*models.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ownerCurrency{ownerID: ownerID, currency: currency}
	if id, ok := l.byOwner[key]; ok {
		w := *l.wallets[id]
		return &w, nil
	}

	now := l.now().UTC()
	w := &models.Wallet{
		WalletID:  uuid.New(),
		OwnerID:   ownerID,
		Currency:  currency,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.wallets[w.WalletID] = w
	l.byOwner[key] = w.WalletID

	cp := *w
	return &cp, nil
}

// GetWallet returns a copy of the wallet with walletID.
func (l *MemoryLedger) GetWallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[walletID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrWalletNotFound, walletID)
	}
	cp := *w
	return &cp, nil
}

// BalanceOf returns the cached balance of a wallet.
func (l *MemoryLedger) BalanceOf(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	w, err := l.GetWallet(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

// Entries returns the wallet's ledger in insertion order.
func (l *MemoryLedger) Entries(ctx context.Context, walletID uuid.UUID) ([]models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.LedgerEntry, len(l.entries[walletID]))
	copy(out, l.entries[walletID])
	return out, nil
}

// FindEntry returns the entry for the idempotency triple, or nil.
func (l *MemoryLedger) FindEntry(ctx context.Context, walletID, orderID uuid.UUID, kind models.EntryKind) (*models.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.index[entryKey{walletID, orderID, kind}]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// Debit removes req.Amount from the wallet for order req.OrderID.
func (l *MemoryLedger) Debit(ctx context.Context, req models.LedgerRequest) (*models.LedgerEntry, error) {
	return l.apply(ctx, models.EntryDebit, req)
}

// Credit funds the wallet; req.OrderID is the funding reference.
func (l *MemoryLedger) Credit(ctx context.Context, req models.LedgerRequest) (*models.LedgerEntry, error) {
	return l.apply(ctx, models.EntryCredit, req)
}

// Refund reverses the debit recorded for req.OrderID.
func (l *MemoryLedger) Refund(ctx context.Context, req models.LedgerRequest) (*models.LedgerEntry, error) {
	return l.apply(ctx, models.EntryRefund, req)
}

func (l *MemoryLedger) apply(ctx context.Context, kind models.EntryKind, req models.LedgerRequest) (*models.LedgerEntry, error) {
	if req.Amount.IsNegative() || (kind != models.EntryRefund && req.Amount.IsZero()) {
		return nil, fmt.Errorf("%w: amount must be positive", apperr.ErrInvalidRequest)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[req.WalletID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrWalletNotFound, req.WalletID)
	}

	amount := req.Amount
	if kind == models.EntryRefund {
		debit, ok := l.index[entryKey{req.WalletID, req.OrderID, models.EntryDebit}]
		if !ok {
			return nil, fmt.Errorf("%w: order %s", apperr.ErrNothingToRefund, req.OrderID)
		}
		if amount.IsZero() {
			amount = debit.Amount
		}
		if !amount.Equal(debit.Amount) {
			return nil, fmt.Errorf("%w: refund %s of debit %s", apperr.ErrAlreadyApplied, amount, debit.Amount)
		}
	}

	if existing, ok := l.index[entryKey{req.WalletID, req.OrderID, kind}]; ok {
		if !existing.Amount.Equal(amount) {
			return nil, fmt.Errorf("%w: %s %s for order %s", apperr.ErrAlreadyApplied, kind, existing.Amount, req.OrderID)
		}
		existing.Replayed = true
		return &existing, nil
	}

	e := models.LedgerEntry{
		EntryID:   uuid.New(),
		WalletID:  req.WalletID,
		OrderID:   req.OrderID,
		Kind:      kind,
		Category:  req.Category,
		Amount:    amount,
		CreatedAt: l.now().UTC(),
	}
	e.BalanceAfter = w.Balance.Add(e.Signed())

	if kind == models.EntryDebit {
		if e.BalanceAfter.IsNegative() {
			return nil, fmt.Errorf("%w: balance %s, requested %s", apperr.ErrInsufficientFunds, w.Balance, amount)
		}
		if req.DailyLimit.IsPositive() {
			spent := l.spentToday(req.WalletID, req.Category, e.CreatedAt)
			if spent.Add(amount).GreaterThan(req.DailyLimit) {
				return nil, fmt.Errorf("%w: %s spent today, limit %s", apperr.ErrDailyLimitExceeded, spent, req.DailyLimit)
			}
		}
	}

	w.Balance = e.BalanceAfter
	w.Version++
	w.UpdatedAt = e.CreatedAt
	l.entries[req.WalletID] = append(l.entries[req.WalletID], e)
	l.index[entryKey{req.WalletID, req.OrderID, kind}] = e

	return &e, nil
}

// spentToday is the net amount debited for category since the start of the
// UTC day containing at. A refund only offsets a debit made in the same day.
func (l *MemoryLedger) spentToday(walletID uuid.UUID, category string, at time.Time) decimal.Decimal {
	since := startOfDay(at)
	spent := decimal.Zero
	for _, e := range l.entries[walletID] {
		if e.Kind != models.EntryDebit || e.Category != category || e.CreatedAt.Before(since) {
			continue
		}
		spent = spent.Add(e.Amount)
		if r, ok := l.index[entryKey{walletID, e.OrderID, models.EntryRefund}]; ok {
			spent = spent.Sub(r.Amount)
		}
	}
	return spent
}
