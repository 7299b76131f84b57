package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

const orderColumns = `order_id, request_key, owner_id, wallet_id, kind, provider, provider_ref, params,
	currency, amount, fees, total_amount, status, error_message, refund_pending,
	created_at, updated_at, completed_at, last_polled_at`

// OrderRepository persists orders in PostgreSQL. Status changes go through
// Transition, which only succeeds from an expected set of source statuses.
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository creates an order store over db.
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts o. When the owner already has an order for o.RequestKey
// the stored order is returned unchanged; callers detect the replay by
// comparing ids.
func (r *OrderRepository) Create(ctx context.Context, o *models.Order) (*models.Order, error) {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (owner_id, request_key) DO NOTHING
		RETURNING ` + orderColumns

	args := []any{
		o.ID, o.RequestKey, o.OwnerID, o.WalletID, o.Kind, o.Provider, o.ProviderRef, o.Params,
		o.Currency, o.Amount, o.Fees, o.TotalAmount, o.Status, o.ErrorMessage, o.RefundPending,
		o.CreatedAt, o.UpdatedAt, o.CompletedAt, o.LastPolledAt,
	}

	var stored models.Order
	err := sqlx.GetContext(ctx, executor(ctx, r.db), &stored, query, args...)
	logQuery(query, args, stored.ID, err)
	if errors.Is(err, sql.ErrNoRows) {
		return r.GetByRequestKey(ctx, o.OwnerID, o.RequestKey)
	}
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// Get loads an order by id.
func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`
	return r.getOne(ctx, query, id)
}

// GetByRequestKey loads the order an owner created for a client request key.
func (r *OrderRepository) GetByRequestKey(ctx context.Context, ownerID uuid.UUID, key string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE owner_id = $1 AND request_key = $2`
	return r.getOne(ctx, query, ownerID, key)
}

// GetByProviderRef loads an order by the reference a provider assigned to it.
func (r *OrderRepository) GetByProviderRef(ctx context.Context, provider, ref string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE provider = $1 AND provider_ref = $2`
	return r.getOne(ctx, query, provider, ref)
}

func (r *OrderRepository) getOne(ctx context.Context, query string, args ...any) (*models.Order, error) {
	var o models.Order
	err := sqlx.GetContext(ctx, executor(ctx, r.db), &o, query, args...)
	logQuery(query, args, o.Status, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Transition moves an order to upd.Status provided its current status is
// one of from. Losing a race yields ErrStaleTransition.
func (r *OrderRepository) Transition(ctx context.Context, id uuid.UUID, from []models.OrderStatus, upd models.OrderUpdate) (*models.Order, error) {
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: no source status for %s", apperr.ErrStaleTransition, upd.Status)
	}

	sources := make([]string, len(from))
	for i, s := range from {
		sources[i] = string(s)
	}

	query, args, err := sqlx.In(`
		UPDATE orders
		SET status = ?,
		    provider_ref = COALESCE(?, provider_ref),
		    error_message = COALESCE(?, error_message),
		    completed_at = COALESCE(?, completed_at),
		    refund_pending = COALESCE(?, refund_pending),
		    updated_at = NOW()
		WHERE order_id = ? AND status IN (?)
		RETURNING `+orderColumns,
		string(upd.Status), upd.ProviderRef, upd.ErrorMessage, upd.CompletedAt, upd.RefundPending, id, sources,
	)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	var o models.Order
	err = sqlx.GetContext(ctx, executor(ctx, r.db), &o, query, args...)
	logQuery(query, args, o.Status, err)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := r.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: order %s is %s, wanted %v", apperr.ErrStaleTransition, id, current.Status, from)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// MarkRefunded clears the refund marker once the refund entry exists.
func (r *OrderRepository) MarkRefunded(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE orders SET refund_pending = FALSE, updated_at = NOW() WHERE order_id = $1`
	return r.exec(ctx, query, id)
}

// Touch records that the order was polled at.
func (r *OrderRepository) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE orders SET last_polled_at = $2 WHERE order_id = $1`
	return r.exec(ctx, query, id, at)
}

func (r *OrderRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := executor(ctx, r.db).ExecContext(ctx, query, args...)
	var rows int64
	if res != nil {
		rows, _ = res.RowsAffected()
	}
	logQuery(query, args, rows, err)
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperr.ErrOrderNotFound
	}
	return nil
}

// ListForReconciliation returns non-terminal orders not polled since before,
// plus every order still waiting for its refund, oldest first.
func (r *OrderRepository) ListForReconciliation(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE (status IN ('created', 'debited', 'submitted') AND COALESCE(last_polled_at, updated_at) < $1)
		   OR refund_pending
		ORDER BY updated_at
		LIMIT $2
	`
	args := []any{before, limit}

	var orders []models.Order
	err := sqlx.SelectContext(ctx, executor(ctx, r.db), &orders, query, args...)
	logQuery(query, args, len(orders), err)
	return orders, err
}
