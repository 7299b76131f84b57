package repositories

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

type ownerKey struct {
	ownerID uuid.UUID
	key     string
}

type providerKey struct {
	provider string
	ref      string
}

// MemoryOrderRepository is an in-process OrderRepository.
type MemoryOrderRepository struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*models.Order
	byRequest map[ownerKey]uuid.UUID
	byRef     map[providerKey]uuid.UUID
	now       func() time.Time
}

// NewMemoryOrderRepository creates an empty in-memory order store.
func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders:    make(map[uuid.UUID]*models.Order),
		byRequest: make(map[ownerKey]uuid.UUID),
		byRef:     make(map[providerKey]uuid.UUID),
		now:       time.Now,
	}
}

// Create stores o, or returns the order the owner already has for o.RequestKey.
func (r *MemoryOrderRepository) Create(ctx context.Context, o *models.Order) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byRequest[ownerKey{o.OwnerID, o.RequestKey}]; ok {
		return cloneOrder(r.orders[id]), nil
	}

	stored := cloneOrder(o)
	r.orders[o.ID] = stored
	r.byRequest[ownerKey{o.OwnerID, o.RequestKey}] = o.ID
	if o.ProviderRef != nil {
		r.byRef[providerKey{o.Provider, *o.ProviderRef}] = o.ID
	}
	return cloneOrder(stored), nil
}

// Get returns a copy of the order with id.
func (r *MemoryOrderRepository) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, apperr.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

// GetByRequestKey returns the order an owner created for a client request key.
func (r *MemoryOrderRepository) GetByRequestKey(ctx context.Context, ownerID uuid.UUID, key string) (*models.Order, error) {
	r.mu.Lock()
	id, ok := r.byRequest[ownerKey{ownerID, key}]
	r.mu.Unlock()
	if !ok {
		return nil, apperr.ErrOrderNotFound
	}
	return r.Get(ctx, id)
}

// GetByProviderRef returns the order a provider knows by ref.
func (r *MemoryOrderRepository) GetByProviderRef(ctx context.Context, provider, ref string) (*models.Order, error) {
	r.mu.Lock()
	id, ok := r.byRef[providerKey{provider, ref}]
	r.mu.Unlock()
	if !ok {
		return nil, apperr.ErrOrderNotFound
	}
	return r.Get(ctx, id)
}

// Transition applies upd if the order is currently in one of from.
func (r *MemoryOrderRepository) Transition(ctx context.Context, id uuid.UUID, from []models.OrderStatus, upd models.OrderUpdate) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, apperr.ErrOrderNotFound
	}
	if !slices.Contains(from, o.Status) {
		return nil, fmt.Errorf("%w: order %s is %s, wanted %v", apperr.ErrStaleTransition, id, o.Status, from)
	}

	o.Status = upd.Status
	if upd.ProviderRef != nil {
		ref := *upd.ProviderRef
		o.ProviderRef = &ref
		r.byRef[providerKey{o.Provider, ref}] = id
	}
	if upd.ErrorMessage != nil {
		msg := *upd.ErrorMessage
		o.ErrorMessage = &msg
	}
	if upd.CompletedAt != nil {
		at := *upd.CompletedAt
		o.CompletedAt = &at
	}
	if upd.RefundPending != nil {
		o.RefundPending = *upd.RefundPending
	}
	o.UpdatedAt = r.now().UTC()

	return cloneOrder(o), nil
}

// MarkRefunded clears the refund marker.
func (r *MemoryOrderRepository) MarkRefunded(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return apperr.ErrOrderNotFound
	}
	o.RefundPending = false
	o.UpdatedAt = r.now().UTC()
	return nil
}

// Touch records that the order was polled at.
func (r *MemoryOrderRepository) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return apperr.ErrOrderNotFound
	}
	at = at.UTC()
	o.LastPolledAt = &at
	return nil
}

// ListForReconciliation returns orders awaiting a refund and non-terminal
// orders not polled since before.
func (r *MemoryOrderRepository) ListForReconciliation(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.Order
	for _, o := range r.orders {
		seen := o.UpdatedAt
		if o.LastPolledAt != nil {
			seen = *o.LastPolledAt
		}
		if o.RefundPending || (!o.Status.IsTerminal() && seen.Before(before)) {
			out = append(out, *cloneOrder(o))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneOrder(o *models.Order) *models.Order {
	cp := *o
	if o.ProviderRef != nil {
		ref := *o.ProviderRef
		cp.ProviderRef = &ref
	}
	if o.ErrorMessage != nil {
		msg := *o.ErrorMessage
		cp.ErrorMessage = &msg
	}
	if o.CompletedAt != nil {
		at := *o.CompletedAt
		cp.CompletedAt = &at
	}
	if o.LastPolledAt != nil {
		at := *o.LastPolledAt
		cp.LastPolledAt = &at
	}
	if o.Params != nil {
		cp.Params = make(models.Params, len(o.Params))
		for k, v := range o.Params {
			cp.Params[k] = v
		}
	}
	return &cp
}
