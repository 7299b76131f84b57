package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

func newMemoryOrder(key string, status models.OrderStatus, updated time.Time) *models.Order {
	return &models.Order{
		ID:          uuid.New(),
		RequestKey:  key,
		OwnerID:     uuid.New(),
		WalletID:    uuid.New(),
		Kind:        models.KindGiftCard,
		Provider:    "giftcard",
		Currency:    models.USD,
		Amount:      dec("25"),
		TotalAmount: dec("25"),
		Status:      status,
		CreatedAt:   updated,
		UpdatedAt:   updated,
	}
}

func TestMemoryOrderRepository_CreateReplay(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryOrderRepository()

	o := newMemoryOrder("k1", models.StatusCreated, time.Now())
	stored, err := repo.Create(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, o.ID, stored.ID)

	dup := *o
	dup.ID = uuid.New()
	replay, err := repo.Create(ctx, &dup)
	require.NoError(t, err)
	assert.Equal(t, o.ID, replay.ID)

	got, err := repo.GetByRequestKey(ctx, o.OwnerID, "k1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = repo.GetByRequestKey(ctx, o.OwnerID, "k2")
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)
}

func TestMemoryOrderRepository_Transition(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryOrderRepository()
	o := newMemoryOrder("k1", models.StatusDebited, time.Now())
	_, err := repo.Create(ctx, o)
	require.NoError(t, err)

	ref := "GC-77"
	got, err := repo.Transition(ctx, o.ID, models.SourcesOf(models.StatusSubmitted), models.OrderUpdate{
		Status: models.StatusSubmitted, ProviderRef: &ref,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, got.Status)

	byRef, err := repo.GetByProviderRef(ctx, "giftcard", ref)
	require.NoError(t, err)
	assert.Equal(t, o.ID, byRef.ID)

	now := time.Now()
	_, err = repo.Transition(ctx, o.ID, models.SourcesOf(models.StatusCompleted), models.OrderUpdate{
		Status: models.StatusCompleted, CompletedAt: &now,
	})
	require.NoError(t, err)

	_, err = repo.Transition(ctx, o.ID, models.SourcesOf(models.StatusFailed), models.OrderUpdate{Status: models.StatusFailed})
	assert.ErrorIs(t, err, apperr.ErrStaleTransition)

	_, err = repo.Transition(ctx, uuid.New(), models.SourcesOf(models.StatusFailed), models.OrderUpdate{Status: models.StatusFailed})
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)

	got.Status = models.StatusFailed
	fresh, err := repo.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, fresh.Status, "returned orders are copies")
}

func TestMemoryOrderRepository_ListForReconciliation(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryOrderRepository()
	old := time.Now().Add(-time.Hour)

	stale := newMemoryOrder("stale", models.StatusSubmitted, old)
	fresh := newMemoryOrder("fresh", models.StatusSubmitted, time.Now())
	done := newMemoryOrder("done", models.StatusCompleted, old)
	pending := newMemoryOrder("pending", models.StatusFailed, time.Now())
	pending.RefundPending = true

	for _, o := range []*models.Order{stale, fresh, done, pending} {
		_, err := repo.Create(ctx, o)
		require.NoError(t, err)
	}

	list, err := repo.ListForReconciliation(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	ids := []uuid.UUID{}
	for _, o := range list {
		ids = append(ids, o.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{stale.ID, pending.ID}, ids)

	require.NoError(t, repo.Touch(ctx, stale.ID, time.Now()))
	require.NoError(t, repo.MarkRefunded(ctx, pending.ID))

	list, err = repo.ListForReconciliation(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, repo.Touch(ctx, uuid.New(), time.Now()), apperr.ErrOrderNotFound)
}
