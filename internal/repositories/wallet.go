package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

const (
	walletColumns = `wallet_id, owner_id, currency, balance, version, created_at, updated_at`
	entryColumns  = `entry_id, wallet_id, order_id, kind, category, amount, balance_after, created_at`

	pgUniqueViolation = "23505"
)

// LedgerRepository is the PostgreSQL ledger store. Every mutation locks the
// wallet row, checks the (wallet, order, kind) idempotency triple, updates
// the balance under a version check and appends the entry, all in one
// transaction.
type LedgerRepository struct {
	db         *sqlx.DB
	maxRetries uint64
	now        func() time.Time
}

// NewLedgerRepository creates a ledger store over db.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{
		db:         db,
		maxRetries: 5,
		now:        time.Now,
	}
}

// Wallet returns the owner's wallet for currency, creating it on first use.
func (r *LedgerRepository) Wallet(ctx context.Context, ownerID uuid.UUID, currency string) (*models.Wallet, error) {
	query := `
		INSERT INTO wallets (wallet_id, owner_id, currency, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, NOW(), NOW())
		ON CONFLICT (owner_id, currency)
		DO UPDATE SET currency = EXCLUDED.currency
		RETURNING ` + walletColumns

	args := []any{uuid.New(), ownerID, currency}
	var w models.Wallet
	err := sqlx.GetContext(ctx, executor(ctx, r.db), &w, query, args...)
	logQuery(query, args, w.WalletID, err)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWallet loads a wallet by id.
func (r *LedgerRepository) GetWallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE wallet_id = $1`

	var w models.Wallet
	err := sqlx.GetContext(ctx, executor(ctx, r.db), &w, query, walletID)
	logQuery(query, []any{walletID}, w.Balance, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrWalletNotFound, walletID)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// BalanceOf returns the cached balance of a wallet.
func (r *LedgerRepository) BalanceOf(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, error) {
	w, err := r.GetWallet(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

// Entries returns the wallet's ledger in insertion order.
func (r *LedgerRepository) Entries(ctx context.Context, walletID uuid.UUID) ([]models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE wallet_id = $1 ORDER BY created_at, entry_id`

	var entries []models.LedgerEntry
	err := sqlx.SelectContext(ctx, executor(ctx, r.db), &entries, query, walletID)
	logQuery(query, []any{walletID}, len(entries), err)
	return entries, err
}

// FindEntry returns the entry for the idempotency triple, or nil.
func (r *LedgerRepository) FindEntry(ctx context.Context, walletID, orderID uuid.UUID, kind models.EntryKind) (*models.LedgerEntry, error) {
	return r.findEntry(ctx, executor(ctx, r.db), walletID, orderID, kind)
}

// Debit removes req.Amount from the wallet for order req.OrderID.
func (r *LedgerRepository) Debit(ctx context.Context, req models.LedgerRequest) (*models.LedgerEntry, error) {
	return r.apply(ctx, models.EntryDebit, req)
}

// Credit funds the wallet; req.OrderID is the funding reference.
func (r *LedgerRepository) Credit(ctx context.Context, req models.LedgerRequest) (*models.LedgerEntry, error) {
	return r.apply(ctx, models.EntryCredit, req)
}

// Refund reverses the debit recorded for req.OrderID. A zero req.Amount
// refunds the debited amount.
func (r *LedgerRepository) Refund(ctx context.Context, req models.LedgerRequest) (*models.LedgerEntry, error) {
	return r.apply(ctx, models.EntryRefund, req)
}

func (r *LedgerRepository) apply(ctx context.Context, kind models.EntryKind, req models.LedgerRequest) (*models.LedgerEntry, error) {
	if req.Amount.IsNegative() || (kind != models.EntryRefund && req.Amount.IsZero()) {
		return nil, fmt.Errorf("%w: amount must be positive", apperr.ErrInvalidRequest)
	}

	var entry *models.LedgerEntry
	op := func() error {
		var err error
		entry, err = r.applyOnce(ctx, kind, req)
		if err != nil && !errors.Is(err, apperr.ErrLedgerConflict) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, r.maxRetries), ctx)); err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *LedgerRepository) applyOnce(ctx context.Context, kind models.EntryKind, req models.LedgerRequest) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry

	err := WithTx(ctx, r.db, func(ctx context.Context) error {
		tx := GetTxFromContext(ctx)

		lockQuery := `SELECT ` + walletColumns + ` FROM wallets WHERE wallet_id = $1 FOR UPDATE`
		var w models.Wallet
		err := sqlx.GetContext(ctx, tx, &w, lockQuery, req.WalletID)
		logQuery(lockQuery, []any{req.WalletID}, w.Version, err)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", apperr.ErrWalletNotFound, req.WalletID)
		}
		if err != nil {
			return err
		}

		amount := req.Amount
		if kind == models.EntryRefund {
			debit, err := r.findEntry(ctx, tx, req.WalletID, req.OrderID, models.EntryDebit)
			if err != nil {
				return err
			}
			if debit == nil {
				return fmt.Errorf("%w: order %s", apperr.ErrNothingToRefund, req.OrderID)
			}
			if amount.IsZero() {
				amount = debit.Amount
			}
			if !amount.Equal(debit.Amount) {
				return fmt.Errorf("%w: refund %s of debit %s", apperr.ErrAlreadyApplied, amount, debit.Amount)
			}
		}

		existing, err := r.findEntry(ctx, tx, req.WalletID, req.OrderID, kind)
		if err != nil {
			return err
		}
		if existing != nil {
			if !existing.Amount.Equal(amount) {
				return fmt.Errorf("%w: %s %s for order %s", apperr.ErrAlreadyApplied, kind, existing.Amount, req.OrderID)
			}
			existing.Replayed = true
			entry = existing
			return nil
		}

		e := models.LedgerEntry{
			EntryID:   uuid.New(),
			WalletID:  req.WalletID,
			OrderID:   req.OrderID,
			Kind:      kind,
			Category:  req.Category,
			Amount:    amount,
			CreatedAt: r.now().UTC(),
		}
		e.BalanceAfter = w.Balance.Add(e.Signed())

		if kind == models.EntryDebit {
			if e.BalanceAfter.IsNegative() {
				return fmt.Errorf("%w: balance %s, requested %s", apperr.ErrInsufficientFunds, w.Balance, amount)
			}
			if req.DailyLimit.IsPositive() {
				spent, err := r.spentToday(ctx, tx, req.WalletID, req.Category, e.CreatedAt)
				if err != nil {
					return err
				}
				if spent.Add(amount).GreaterThan(req.DailyLimit) {
					return fmt.Errorf("%w: %s spent today, limit %s", apperr.ErrDailyLimitExceeded, spent, req.DailyLimit)
				}
			}
		}

		updateQuery := `
			UPDATE wallets
			SET balance = $1, version = version + 1, updated_at = NOW()
			WHERE wallet_id = $2 AND version = $3
		`
		updateArgs := []any{e.BalanceAfter, req.WalletID, w.Version}
		res, err := tx.ExecContext(ctx, updateQuery, updateArgs...)
		var rows int64
		if res != nil {
			rows, _ = res.RowsAffected()
		}
		logQuery(updateQuery, updateArgs, rows, err)
		if err != nil {
			return err
		}
		if rows != 1 {
			return fmt.Errorf("%w: wallet %s version %d", apperr.ErrLedgerConflict, req.WalletID, w.Version)
		}

		insertQuery := `
			INSERT INTO ledger_entries (` + entryColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		insertArgs := []any{e.EntryID, e.WalletID, e.OrderID, e.Kind, e.Category, e.Amount, e.BalanceAfter, e.CreatedAt}
		_, err = tx.ExecContext(ctx, insertQuery, insertArgs...)
		logQuery(insertQuery, insertArgs, e.EntryID, err)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return fmt.Errorf("%w: %s", apperr.ErrLedgerConflict, pgErr.ConstraintName)
			}
			return err
		}

		entry = &e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *LedgerRepository) findEntry(ctx context.Context, q sqlx.QueryerContext, walletID, orderID uuid.UUID, kind models.EntryKind) (*models.LedgerEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE wallet_id = $1 AND order_id = $2 AND kind = $3
	`
	args := []any{walletID, orderID, kind}

	var e models.LedgerEntry
	err := sqlx.GetContext(ctx, q, &e, query, args...)
	logQuery(query, args, e.EntryID, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// spentToday is the net amount debited for category since the start of the
// UTC day containing at. A refund only offsets a debit made in the same day.
func (r *LedgerRepository) spentToday(ctx context.Context, q sqlx.QueryerContext, walletID uuid.UUID, category string, at time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(d.amount - COALESCE(r.amount, 0)), 0)
		FROM ledger_entries d
		LEFT JOIN ledger_entries r
			ON r.wallet_id = d.wallet_id AND r.order_id = d.order_id AND r.kind = 'refund'
		WHERE d.wallet_id = $1 AND d.category = $2 AND d.kind = 'debit' AND d.created_at >= $3
	`
	args := []any{walletID, category, startOfDay(at)}

	var spent decimal.Decimal
	err := sqlx.GetContext(ctx, q, &spent, query, args...)
	logQuery(query, args, spent, err)
	return spent, err
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
