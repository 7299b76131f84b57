package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/logger"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

// ReconcilerConfig holds reconciliation timing.
type ReconcilerConfig struct {
	StaleAfter        time.Duration // age after which an open order is polled by the sweep
	CreatedGrace      time.Duration // age after which a created order counts as abandoned
	MissingGrace      time.Duration // how long a debited order may be unknown to its provider
	QueryRefreshAfter time.Duration // age after which a status query polls synchronously
	BatchSize         int
	Concurrency       int
	ProviderTimeout   time.Duration
	Poll              RetryPolicy
}

// Reconciler drives orders to a terminal state from webhooks, status
// queries and a periodic sweep.
type Reconciler struct {
	cfg       ReconcilerConfig
	providers *Providers
	ledger    LedgerStore
	orders    OrderStore
	settler   *settler
	now       func() time.Time
}

// NewReconciler creates a Reconciler. kafkaWriter may be nil.
func NewReconciler(
	cfg ReconcilerConfig,
	providers *Providers,
	ledger LedgerStore,
	orders OrderStore,
	kafkaWriter KafkaWriter,
) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Reconciler{
		cfg:       cfg,
		providers: providers,
		ledger:    ledger,
		orders:    orders,
		settler:   &settler{ledger: ledger, orders: orders, events: newEventPublisher(kafkaWriter), now: time.Now},
		now:       time.Now,
	}
}

// HandleWebhook verifies, decodes and applies a provider notification.
// A nil error means the outcome is durably recorded and may be acknowledged.
func (r *Reconciler) HandleWebhook(ctx context.Context, providerName string, payload []byte, signature string) error {
	provider, err := r.providers.Get(providerName)
	if err != nil {
		return err
	}

	if !provider.VerifyWebhook(payload, signature) {
		logger.Log.Errorw("ALERT: webhook signature rejected", "provider", providerName, "size", len(payload))
		return fmt.Errorf("%w: provider %s", apperr.ErrInvalidSignature, providerName)
	}

	ev, err := provider.DecodeWebhook(payload)
	if err != nil {
		logger.Log.Errorw("failed to decode webhook", "provider", providerName, "error", err)
		return err
	}
	ev.Provider = providerName
	ev.Source = models.SourceWebhook

	_, err = r.Apply(ctx, *ev)
	if errors.Is(err, apperr.ErrEventMismatch) {
		logger.Log.Errorw("ALERT: webhook does not match order", "provider", providerName,
			"out_ref", ev.OutRef, "provider_ref", ev.ProviderRef, "error", err)
	}
	return err
}

// Apply runs the decision procedure for ev. Events for unknown orders are
// dropped and return a nil order.
func (r *Reconciler) Apply(ctx context.Context, ev models.StatusEvent) (*models.Order, error) {
	o, err := r.findOrder(ctx, ev)
	if errors.Is(err, apperr.ErrOrderNotFound) {
		logger.Log.Warnw("status event for unknown order", "provider", ev.Provider,
			"out_ref", ev.OutRef, "provider_ref", ev.ProviderRef, "source", ev.Source)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.settler.settle(ctx, o, ev)
}

func (r *Reconciler) findOrder(ctx context.Context, ev models.StatusEvent) (*models.Order, error) {
	if ev.OutRef != uuid.Nil {
		return r.orders.Get(ctx, ev.OutRef)
	}
	if ev.ProviderRef != "" {
		return r.orders.GetByProviderRef(ctx, ev.Provider, ev.ProviderRef)
	}
	return nil, fmt.Errorf("%w: event carries no order reference", apperr.ErrInvalidRequest)
}

// Lookup returns ownerID's order identified by ref, an internal order id or,
// when providerName is set, a provider reference. Open orders not polled
// recently are polled first.
func (r *Reconciler) Lookup(ctx context.Context, ownerID uuid.UUID, ref, providerName string) (*models.Order, error) {
	var (
		o   *models.Order
		err error
	)
	if providerName != "" {
		o, err = r.orders.GetByProviderRef(ctx, providerName, ref)
	} else {
		id, perr := uuid.Parse(ref)
		if perr != nil {
			return nil, fmt.Errorf("%w: %q is not an order id", apperr.ErrInvalidRequest, ref)
		}
		o, err = r.orders.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if o.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: %s", apperr.ErrOrderNotFound, ref)
	}

	if o.Status.IsTerminal() || o.Status == models.StatusCreated || !r.stale(o, r.cfg.QueryRefreshAfter) {
		return o, nil
	}

	polled, err := r.Poll(ctx, o)
	if err != nil {
		logger.Log.Warnw("status query poll failed, returning stored state", "order_id", o.ID, "error", err)
		return o, nil
	}
	return polled, nil
}

// Poll asks the provider for o's status and applies the answer. Transport
// failures are retried and never change the order.
func (r *Reconciler) Poll(ctx context.Context, o *models.Order) (*models.Order, error) {
	switch {
	case o.Status.IsTerminal():
		return r.settler.ensureRefund(ctx, o)
	case o.Status == models.StatusCreated:
		return r.resolveCreated(ctx, o)
	}

	provider, err := r.providers.Get(o.Provider)
	if err != nil {
		return nil, err
	}

	lookup := models.ProviderLookup{OutRef: o.ID}
	if o.ProviderRef != nil {
		lookup.ProviderRef = *o.ProviderRef
	}

	res, err := retry(ctx, r.cfg.Poll,
		func(err error) bool { return errors.Is(err, apperr.ErrProviderUnavailable) },
		withTimeout(r.cfg.ProviderTimeout, func(ctx context.Context) (*models.ProviderStatusResult, error) {
			return provider.QueryStatus(ctx, lookup)
		}),
	)

	if terr := r.orders.Touch(ctx, o.ID, r.now().UTC()); terr != nil {
		logger.Log.Warnw("failed to record poll", "order_id", o.ID, "error", terr)
	}

	if errors.Is(err, apperr.ErrProviderOrderMissing) {
		return r.resolveMissing(ctx, o, err)
	}
	if err != nil {
		logger.Log.Warnw("status poll failed", "order_id", o.ID, "provider", o.Provider, "error", err)
		return nil, err
	}

	return r.settler.settle(ctx, o, models.StatusEvent{
		Provider:    provider.Name(),
		ProviderRef: res.ProviderRef,
		OutRef:      o.ID,
		Status:      res.Status,
		CompletedAt: res.CompletedAt,
		ErrorMsg:    res.ErrorMsg,
		Source:      models.SourcePoll,
	})
}

// resolveMissing fails a debited order the provider never heard of once the
// grace period has passed. A submitted order was acknowledged by the
// provider and is left for an operator.
func (r *Reconciler) resolveMissing(ctx context.Context, o *models.Order, cause error) (*models.Order, error) {
	if o.Status != models.StatusDebited {
		logger.Log.Errorw("ALERT: provider lost a submitted order", "order_id", o.ID, "provider", o.Provider, "error", cause)
		return o, nil
	}
	if r.now().Sub(o.UpdatedAt) < r.cfg.MissingGrace {
		return o, nil
	}
	return r.settler.fail(ctx, o, models.StatusFailed, cause.Error(), nil)
}

// resolveCreated finishes an order abandoned in created. The ledger tells
// whether the debit happened: if it did the order resumes as debited and is
// polled, otherwise it is failed without a refund.
func (r *Reconciler) resolveCreated(ctx context.Context, o *models.Order) (*models.Order, error) {
	if r.now().Sub(o.CreatedAt) < r.cfg.CreatedGrace {
		return o, nil
	}

	debit, err := r.ledger.FindEntry(ctx, o.WalletID, o.ID, models.EntryDebit)
	if err != nil {
		return nil, err
	}
	if debit == nil {
		return r.settler.fail(ctx, o, models.StatusFailed, "abandoned before debit", nil)
	}

	debited, err := r.settler.transition(ctx, o, models.OrderUpdate{Status: models.StatusDebited})
	if err != nil {
		return nil, err
	}
	return r.Poll(ctx, debited)
}

func (r *Reconciler) stale(o *models.Order, after time.Duration) bool {
	last := o.UpdatedAt
	if o.LastPolledAt != nil && o.LastPolledAt.After(last) {
		last = *o.LastPolledAt
	}
	return r.now().Sub(last) >= after
}

// Sweep reconciles one batch of orders and returns how many were processed.
// Failures of individual orders are logged and left for the next sweep.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	orders, err := r.orders.ListForReconciliation(ctx, r.now().Add(-r.cfg.StaleAfter).UTC(), r.cfg.BatchSize)
	if err != nil {
		logger.Log.Errorw("failed to list orders for reconciliation", "error", err)
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i := range orders {
		o := orders[i]
		g.Go(func() error {
			next, err := r.Poll(gctx, &o)
			if err != nil {
				logger.Log.Warnw("reconciliation failed", "order_id", o.ID, "status", o.Status, "error", err)
				return nil
			}
			if next != nil && next.Status != o.Status {
				logger.Log.Infow("order reconciled", "order_id", o.ID, "from", o.Status, "to", next.Status)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(orders), err
	}

	if len(orders) > 0 {
		logger.Log.Infow("reconciliation sweep finished", "orders", len(orders))
	}
	return len(orders), nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Log.Infow("reconciliation worker started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			logger.Log.Infow("reconciliation worker stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				logger.Log.Errorw("reconciliation sweep failed", "error", err)
			}
		}
	}
}
