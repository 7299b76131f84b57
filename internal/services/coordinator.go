package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/logger"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

//go:generate mockgen -source=coordinator.go -destination=mock_coordinator.go -package=services

// OrderStore persists orders. Transition is a compare-and-set on status.
type OrderStore interface {
	Create(ctx context.Context, o *models.Order) (*models.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByProviderRef(ctx context.Context, provider, ref string) (*models.Order, error)
	Transition(ctx context.Context, id uuid.UUID, from []models.OrderStatus, upd models.OrderUpdate) (*models.Order, error)
	MarkRefunded(ctx context.Context, id uuid.UUID) error
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	ListForReconciliation(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
}

// ProviderClient is one external provider.
type ProviderClient interface {
	Name() string
	CreateOrder(ctx context.Context, req models.ProviderOrderRequest) (*models.ProviderOrderResult, error)
	QueryStatus(ctx context.Context, lookup models.ProviderLookup) (*models.ProviderStatusResult, error)
	VerifyWebhook(payload []byte, signature string) bool
	DecodeWebhook(payload []byte) (*models.StatusEvent, error)
}

// RequestLocker guards a purchase request key while it is being processed.
// ok is false when the lock is held elsewhere.
type RequestLocker interface {
	Acquire(ctx context.Context, key string) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// CoordinatorConfig holds purchase policy.
type CoordinatorConfig struct {
	Fees            map[models.OrderKind]decimal.Decimal // flat fee per order kind
	DailyLimits     map[models.OrderKind]decimal.Decimal // zero or missing means unlimited
	ProviderTimeout time.Duration                        // bound on one CreateOrder attempt
	Delivery        RetryPolicy                          // retries of requests that never reached the provider
}

// Coordinator runs a purchase: record the order, debit the wallet, submit to
// the provider and compensate when the provider refuses.
type Coordinator struct {
	cfg       CoordinatorConfig
	providers *Providers
	ledger    LedgerStore
	orders    OrderStore
	locker    RequestLocker
	settler   *settler
	events    *eventPublisher
	now       func() time.Time
}

// NewCoordinator creates a Coordinator. locker and kafkaWriter may be nil.
func NewCoordinator(
	cfg CoordinatorConfig,
	providers *Providers,
	ledger LedgerStore,
	orders OrderStore,
	locker RequestLocker,
	kafkaWriter KafkaWriter,
) *Coordinator {
	events := newEventPublisher(kafkaWriter)
	return &Coordinator{
		cfg:       cfg,
		providers: providers,
		ledger:    ledger,
		orders:    orders,
		locker:    locker,
		events:    events,
		settler:   &settler{ledger: ledger, orders: orders, events: events, now: time.Now},
		now:       time.Now,
	}
}

// Purchase executes req and returns the order in its immediately known
// state. It never waits for asynchronous provider completion: a submitted or
// debited order is finished by the Reconciler. A purchase refused by the
// ledger or the provider returns the refusal after the order is failed and
// any debit refunded. Replays return the stored order.
func (c *Coordinator) Purchase(ctx context.Context, req models.PurchaseRequest) (*models.Order, error) {
	req.Currency = strings.ToUpper(req.Currency)
	if err := validatePurchase(req); err != nil {
		return nil, err
	}

	provider, err := c.providers.ForKind(req.Kind)
	if err != nil {
		return nil, err
	}

	if c.locker != nil {
		lockKey := req.OwnerID.String() + ":" + req.RequestKey
		token, ok, err := c.locker.Acquire(ctx, lockKey)
		switch {
		case err != nil:
			logger.Log.Warnw("request lock unavailable, relying on database uniqueness", "key", lockKey, "error", err)
		case !ok:
			return nil, fmt.Errorf("%w: %s", apperr.ErrRequestInProgress, req.RequestKey)
		default:
			defer func() {
				if err := c.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
					logger.Log.Warnw("failed to release request lock", "key", lockKey, "error", err)
				}
			}()
		}
	}

	wallet, err := c.ledger.Wallet(ctx, req.OwnerID, req.Currency)
	if err != nil {
		logger.Log.Errorw("failed to get wallet", "owner_id", req.OwnerID, "currency", req.Currency, "error", err)
		return nil, err
	}

	fee := c.cfg.Fees[req.Kind]
	now := c.now().UTC()
	draft := &models.Order{
		ID:          uuid.New(),
		RequestKey:  req.RequestKey,
		OwnerID:     req.OwnerID,
		WalletID:    wallet.WalletID,
		Kind:        req.Kind,
		Provider:    provider.Name(),
		Params:      req.Params,
		Currency:    req.Currency,
		Amount:      req.Amount,
		Fees:        fee,
		TotalAmount: req.Amount.Add(fee),
		Status:      models.StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	o, err := c.orders.Create(ctx, draft)
	if err != nil {
		logger.Log.Errorw("failed to create order", "owner_id", req.OwnerID, "request_key", req.RequestKey, "error", err)
		return nil, err
	}
	if o.ID != draft.ID {
		if o.Kind != req.Kind || !o.Amount.Equal(req.Amount) || o.Currency != req.Currency {
			return nil, fmt.Errorf("%w: idempotency key %q was used for a different request", apperr.ErrInvalidRequest, req.RequestKey)
		}
		logger.Log.Infow("replayed purchase request", "order_id", o.ID, "status", o.Status)
		if o.Status != models.StatusCreated {
			return o, nil
		}
	}

	return c.run(ctx, provider, o)
}

func validatePurchase(req models.PurchaseRequest) error {
	switch {
	case req.RequestKey == "":
		return fmt.Errorf("%w: idempotency key is required", apperr.ErrInvalidRequest)
	case len(req.RequestKey) > 128:
		return fmt.Errorf("%w: idempotency key is too long", apperr.ErrInvalidRequest)
	case !req.Kind.Valid():
		return fmt.Errorf("%w: unknown order kind %q", apperr.ErrInvalidRequest, req.Kind)
	case !models.ValidCurrency(req.Currency):
		return fmt.Errorf("%w: unsupported currency %q", apperr.ErrInvalidRequest, req.Currency)
	case !req.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", apperr.ErrInvalidRequest)
	case !req.Amount.Equal(req.Amount.Round(2)):
		return fmt.Errorf("%w: amount has more than two decimal places", apperr.ErrInvalidRequest)
	}
	return nil
}

// run drives a created order through debit and submission.
func (c *Coordinator) run(ctx context.Context, provider ProviderClient, o *models.Order) (*models.Order, error) {
	_, err := c.ledger.Debit(ctx, models.LedgerRequest{
		WalletID:   o.WalletID,
		OrderID:    o.ID,
		Amount:     o.TotalAmount,
		Category:   string(o.Kind),
		DailyLimit: c.cfg.DailyLimits[o.Kind],
	})
	if err != nil {
		if errors.Is(err, apperr.ErrInsufficientFunds) || errors.Is(err, apperr.ErrDailyLimitExceeded) || errors.Is(err, apperr.ErrAlreadyApplied) {
			if _, ferr := c.settler.fail(ctx, o, models.StatusFailed, err.Error(), nil); ferr != nil {
				logger.Log.Errorw("failed to mark order failed", "order_id", o.ID, "error", ferr)
			}
			return nil, err
		}
		logger.Log.Errorw("failed to debit wallet", "order_id", o.ID, "wallet_id", o.WalletID, "error", err)
		return nil, err
	}

	debited, err := c.settler.transition(ctx, o, models.OrderUpdate{Status: models.StatusDebited})
	if err != nil {
		if !errors.Is(err, apperr.ErrStaleTransition) {
			logger.Log.Errorw("failed to mark order debited", "order_id", o.ID, "error", err)
			return nil, err
		}
		return c.recoverLostDebit(ctx, o.ID, err)
	}
	o = debited

	result, err := retry(ctx, c.cfg.Delivery,
		retryableCreate,
		withTimeout(c.cfg.ProviderTimeout, func(ctx context.Context) (*models.ProviderOrderResult, error) {
			return provider.CreateOrder(ctx, models.ProviderOrderRequest{
				OutRef:   o.ID,
				Kind:     o.Kind,
				Currency: o.Currency,
				Amount:   o.Amount,
				Params:   o.Params,
			})
		}),
	)

	switch {
	case err == nil:
		return c.settler.settle(ctx, o, models.StatusEvent{
			Provider:    provider.Name(),
			ProviderRef: result.ProviderRef,
			OutRef:      o.ID,
			Status:      result.Status,
			CompletedAt: result.CompletedAt,
			ErrorMsg:    result.Message,
			Source:      models.SourceCreate,
		})

	case errors.Is(err, apperr.ErrProviderRejected), errors.Is(err, apperr.ErrNotDelivered):
		logger.Log.Warnw("provider refused order", "order_id", o.ID, "provider", provider.Name(), "error", err)
		if _, ferr := c.settler.fail(ctx, o, models.StatusFailed, err.Error(), nil); ferr != nil {
			return nil, ferr
		}
		return nil, err

	default:
		// Unknown outcome: the provider may have accepted the order.
		logger.Log.Warnw("provider outcome unknown, leaving order for reconciliation",
			"order_id", o.ID, "provider", provider.Name(), "error", err)
		return o, nil
	}
}

// recoverLostDebit handles a debited order whose created -> debited
// transition lost a race, typically against the sweep failing it as
// abandoned. The debit must not be kept by a terminal order.
func (c *Coordinator) recoverLostDebit(ctx context.Context, id uuid.UUID, cause error) (*models.Order, error) {
	current, err := c.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.IsTerminal() {
		return current, nil
	}
	logger.Log.Warnw("order finished while debiting, compensating", "order_id", id, "status", current.Status, "cause", cause)
	return c.settler.ensureRefund(ctx, current)
}
