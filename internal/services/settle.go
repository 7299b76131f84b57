package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/logger"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

// maxSettleAttempts bounds reloads after a lost transition race.
const maxSettleAttempts = 3

// settler applies provider outcomes to orders. The coordinator, webhooks and
// polls all go through it, so an outcome has the same effect whichever path
// delivers it first, and the ledger's (wallet, order, refund) key makes the
// refund happen once.
type settler struct {
	ledger LedgerStore
	orders OrderStore
	events *eventPublisher
	now    func() time.Time
}

// settle applies ev to o and returns the order as stored afterwards.
func (s *settler) settle(ctx context.Context, o *models.Order, ev models.StatusEvent) (*models.Order, error) {
	for attempt := 0; ; attempt++ {
		next, err := s.settleOnce(ctx, o, ev)
		if !errors.Is(err, apperr.ErrStaleTransition) || attempt == maxSettleAttempts-1 {
			return next, err
		}
		if o, err = s.orders.Get(ctx, o.ID); err != nil {
			return nil, err
		}
	}
}

func (s *settler) settleOnce(ctx context.Context, o *models.Order, ev models.StatusEvent) (*models.Order, error) {
	if o.Status.IsTerminal() {
		if o.RefundPending {
			return s.ensureRefund(ctx, o)
		}
		logger.Log.Infow("ignoring event for terminal order",
			"order_id", o.ID, "status", o.Status, "event_status", ev.Status, "source", ev.Source)
		return o, nil
	}

	if err := matchEvent(o, ev); err != nil {
		return nil, err
	}

	var ref *string
	if ev.ProviderRef != "" {
		ref = &ev.ProviderRef
	}

	switch ev.Status {
	case models.ProviderSuccess:
		completedAt := s.now().UTC()
		if ev.CompletedAt != nil {
			completedAt = ev.CompletedAt.UTC()
		}
		return s.transition(ctx, o, models.OrderUpdate{
			Status:      models.StatusCompleted,
			ProviderRef: ref,
			CompletedAt: &completedAt,
		})

	case models.ProviderFailed, models.ProviderCancelled:
		to, _ := ev.Status.OrderStatus()
		msg := ev.ErrorMsg
		if msg == "" {
			msg = fmt.Sprintf("provider reported %s", ev.Status)
		}
		return s.fail(ctx, o, to, msg, ref)

	default:
		if o.Status == models.StatusDebited && ref != nil {
			return s.transition(ctx, o, models.OrderUpdate{Status: models.StatusSubmitted, ProviderRef: ref})
		}
		return o, nil
	}
}

// matchEvent rejects events that cannot belong to o.
func matchEvent(o *models.Order, ev models.StatusEvent) error {
	if o.Status == models.StatusCreated {
		return fmt.Errorf("%w: order %s was never sent to a provider", apperr.ErrEventMismatch, o.ID)
	}
	if ev.Provider != "" && ev.Provider != o.Provider {
		return fmt.Errorf("%w: order %s belongs to %s, event from %s", apperr.ErrEventMismatch, o.ID, o.Provider, ev.Provider)
	}
	if ev.ProviderRef != "" && o.ProviderRef != nil && *o.ProviderRef != ev.ProviderRef {
		return fmt.Errorf("%w: order %s has provider ref %s, event carries %s", apperr.ErrEventMismatch, o.ID, *o.ProviderRef, ev.ProviderRef)
	}
	if !ev.Amount.IsZero() && !ev.Amount.Equal(o.Amount) && !ev.Amount.Equal(o.TotalAmount) {
		return fmt.Errorf("%w: order %s amount %s, event amount %s", apperr.ErrEventMismatch, o.ID, o.TotalAmount, ev.Amount)
	}
	return nil
}

func (s *settler) transition(ctx context.Context, o *models.Order, upd models.OrderUpdate) (*models.Order, error) {
	next, err := s.orders.Transition(ctx, o.ID, models.SourcesOf(upd.Status), upd)
	if err != nil {
		return nil, err
	}
	logger.Log.Infow("order transitioned", "order_id", o.ID, "from", o.Status, "to", next.Status)
	s.events.publishStatus(ctx, next)
	return next, nil
}

// fail moves o to a failed or cancelled state and compensates its debit.
// The refund marker is stored together with the terminal status, so a crash
// before the refund leaves the order for the sweep.
func (s *settler) fail(ctx context.Context, o *models.Order, to models.OrderStatus, msg string, ref *string) (*models.Order, error) {
	debit, err := s.ledger.FindEntry(ctx, o.WalletID, o.ID, models.EntryDebit)
	if err != nil {
		return nil, err
	}
	pending := debit != nil

	next, err := s.transition(ctx, o, models.OrderUpdate{
		Status:        to,
		ProviderRef:   ref,
		ErrorMessage:  &msg,
		RefundPending: &pending,
	})
	if err != nil {
		return nil, err
	}
	logger.Log.Warnw("order failed", "order_id", o.ID, "status", to, "reason", msg, "refund", pending)

	if !pending {
		return next, nil
	}
	return s.ensureRefund(ctx, next)
}

// ensureRefund writes the refund for a failed or cancelled order if it was
// debited, then clears the refund marker. It is safe to call any number of
// times from any goroutine.
func (s *settler) ensureRefund(ctx context.Context, o *models.Order) (*models.Order, error) {
	if o.Status != models.StatusFailed && o.Status != models.StatusCancelled {
		return o, nil
	}

	debit, err := s.ledger.FindEntry(ctx, o.WalletID, o.ID, models.EntryDebit)
	if err != nil {
		return o, fmt.Errorf("%w: order %s: %w", apperr.ErrRefundFailed, o.ID, err)
	}

	if debit != nil {
		existing, err := s.ledger.FindEntry(ctx, o.WalletID, o.ID, models.EntryRefund)
		if err != nil {
			return o, fmt.Errorf("%w: order %s: %w", apperr.ErrRefundFailed, o.ID, err)
		}
		if existing == nil {
			entry, err := s.ledger.Refund(ctx, models.LedgerRequest{
				WalletID: o.WalletID,
				OrderID:  o.ID,
				Amount:   debit.Amount,
				Category: string(o.Kind),
			})
			if err != nil {
				logger.Log.Errorw("refund failed, will retry", "order_id", o.ID, "wallet_id", o.WalletID, "error", err)
				return o, fmt.Errorf("%w: order %s: %w", apperr.ErrRefundFailed, o.ID, err)
			}
			if !entry.Replayed {
				logger.Log.Infow("order refunded", "order_id", o.ID, "wallet_id", o.WalletID, "amount", entry.Amount)
				s.events.publishOrder(ctx, EventOrderRefunded, o)
			}
		}
	}

	if o.RefundPending {
		if err := s.orders.MarkRefunded(ctx, o.ID); err != nil {
			return o, fmt.Errorf("%w: order %s: %w", apperr.ErrRefundFailed, o.ID, err)
		}
		o.RefundPending = false
	}
	return o, nil
}
