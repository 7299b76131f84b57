package repositories

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

var orderRowColumns = []string{
	"order_id", "request_key", "owner_id", "wallet_id", "kind", "provider", "provider_ref", "params",
	"currency", "amount", "fees", "total_amount", "status", "error_message", "refund_pending",
	"created_at", "updated_at", "completed_at", "last_polled_at",
}

func orderRow(id uuid.UUID, status models.OrderStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(orderRowColumns).AddRow(
		id.String(), "key-1", uuid.NewString(), uuid.NewString(), "payout", "payout", nil, `{"account":"0123456789"}`,
		"NGN", "100.00", "10.00", "110.00", string(status), nil, false,
		now, now, nil, nil,
	)
}

func TestOrderRepository_Create(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	o := &models.Order{ID: id, RequestKey: "key-1", OwnerID: uuid.New(), Status: models.StatusCreated, Params: models.Params{}}

	t.Run("inserted", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`INSERT INTO orders .* ON CONFLICT \(owner_id, request_key\) DO NOTHING RETURNING`).
			WillReturnRows(orderRow(id, models.StatusCreated))

		got, err := NewOrderRepository(db).Create(ctx, o)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, "0123456789", got.Params["account"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replay returns stored order", func(t *testing.T) {
		db, mock := newMockDB(t)
		storedID := uuid.New()
		mock.ExpectQuery(`INSERT INTO orders`).WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`SELECT .* FROM orders WHERE owner_id = \$1 AND request_key = \$2`).
			WithArgs(o.OwnerID, "key-1").
			WillReturnRows(orderRow(storedID, models.StatusDebited))

		got, err := NewOrderRepository(db).Create(ctx, o)
		require.NoError(t, err)
		assert.Equal(t, storedID, got.ID)
		assert.Equal(t, models.StatusDebited, got.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOrderRepository_Transition(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	ref := "PO-1"

	t.Run("applied", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`UPDATE orders SET status = \$1, .* WHERE order_id = \$6 AND status IN \(\$7\) RETURNING`).
			WithArgs("submitted", &ref, nil, nil, nil, id, "debited").
			WillReturnRows(orderRow(id, models.StatusSubmitted))

		got, err := NewOrderRepository(db).Transition(ctx, id, []models.OrderStatus{models.StatusDebited},
			models.OrderUpdate{Status: models.StatusSubmitted, ProviderRef: &ref})
		require.NoError(t, err)
		assert.Equal(t, models.StatusSubmitted, got.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`UPDATE orders .* status IN \(\$7, \$8\)`).WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`SELECT .* FROM orders WHERE order_id = \$1`).
			WithArgs(id).
			WillReturnRows(orderRow(id, models.StatusCompleted))

		_, err := NewOrderRepository(db).Transition(ctx, id, models.SourcesOf(models.StatusCompleted),
			models.OrderUpdate{Status: models.StatusCompleted})
		assert.ErrorIs(t, err, apperr.ErrStaleTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`UPDATE orders`).WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(`SELECT .* FROM orders WHERE order_id = \$1`).WillReturnError(sql.ErrNoRows)

		_, err := NewOrderRepository(db).Transition(ctx, id, models.SourcesOf(models.StatusFailed),
			models.OrderUpdate{Status: models.StatusFailed})
		assert.ErrorIs(t, err, apperr.ErrOrderNotFound)
	})

	t.Run("no sources", func(t *testing.T) {
		db, _ := newMockDB(t)
		_, err := NewOrderRepository(db).Transition(ctx, id, nil, models.OrderUpdate{Status: models.StatusCreated})
		assert.ErrorIs(t, err, apperr.ErrStaleTransition)
	})
}

func TestOrderRepository_MarkRefundedAndTouch(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	db, mock := newMockDB(t)
	repo := NewOrderRepository(db)

	mock.ExpectExec(`UPDATE orders SET refund_pending = FALSE`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkRefunded(ctx, id))

	at := time.Now()
	mock.ExpectExec(`UPDATE orders SET last_polled_at = \$2`).WithArgs(id, at).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Touch(ctx, id, at), apperr.ErrOrderNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_ListForReconciliation(t *testing.T) {
	db, mock := newMockDB(t)
	before := time.Now()
	mock.ExpectQuery(`SELECT .* FROM orders WHERE \(status IN .*\) OR refund_pending ORDER BY updated_at LIMIT \$2`).
		WithArgs(before, 50).
		WillReturnRows(orderRow(uuid.New(), models.StatusSubmitted))

	list, err := NewOrderRepository(db).ListForReconciliation(context.Background(), before, 50)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
