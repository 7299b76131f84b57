package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/sbilibin2017/gw-bill-payments/internal/logger"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

// Event types published to Kafka.
const (
	EventOrderDebited   = "order.debited"
	EventOrderSubmitted = "order.submitted"
	EventOrderCompleted = "order.completed"
	EventOrderFailed    = "order.failed"
	EventOrderCancelled = "order.cancelled"
	EventOrderRefunded  = "order.refunded"
	EventWalletCredited = "wallet.credited"
)

// Event is the Kafka message body for order and wallet events.
type Event struct {
	EventID      string          `json:"event_id"`
	Type         string          `json:"type"`
	Timestamp    int64           `json:"timestamp"`
	OrderID      string          `json:"order_id"`
	OwnerID      string          `json:"owner_id"`
	WalletID     string          `json:"wallet_id"`
	Kind         string          `json:"kind,omitempty"`
	Provider     string          `json:"provider,omitempty"`
	ProviderRef  string          `json:"provider_ref,omitempty"`
	Status       string          `json:"status,omitempty"`
	Currency     string          `json:"currency,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

var statusEvents = map[models.OrderStatus]string{
	models.StatusDebited:   EventOrderDebited,
	models.StatusSubmitted: EventOrderSubmitted,
	models.StatusCompleted: EventOrderCompleted,
	models.StatusFailed:    EventOrderFailed,
	models.StatusCancelled: EventOrderCancelled,
}

// eventPublisher writes events to Kafka. Publishing is best effort and
// never fails the operation that produced the event.
type eventPublisher struct {
	writer KafkaWriter
}

func newEventPublisher(w KafkaWriter) *eventPublisher {
	return &eventPublisher{writer: w}
}

// publishStatus emits the event matching the order's current status.
func (p *eventPublisher) publishStatus(ctx context.Context, o *models.Order) {
	typ, ok := statusEvents[o.Status]
	if !ok {
		return
	}
	p.publishOrder(ctx, typ, o)
}

func (p *eventPublisher) publishOrder(ctx context.Context, typ string, o *models.Order) {
	ev := Event{
		Type:         typ,
		OrderID:      o.ID.String(),
		OwnerID:      o.OwnerID.String(),
		WalletID:     o.WalletID.String(),
		Kind:         string(o.Kind),
		Provider:     o.Provider,
		ProviderRef:  deref(o.ProviderRef),
		Status:       string(o.Status),
		Currency:     o.Currency,
		Amount:       o.TotalAmount,
		ErrorMessage: deref(o.ErrorMessage),
	}
	p.publish(ctx, ev)
}

func (p *eventPublisher) publishEntry(ctx context.Context, typ string, ownerID uuid.UUID, e *models.LedgerEntry) {
	p.publish(ctx, Event{
		Type:     typ,
		OrderID:  e.OrderID.String(),
		OwnerID:  ownerID.String(),
		WalletID: e.WalletID.String(),
		Kind:     e.Category,
		Amount:   e.Amount,
	})
}

func (p *eventPublisher) publish(ctx context.Context, ev Event) {
	ev.EventID = uuid.NewString()
	ev.Timestamp = time.Now().Unix()

	if p.writer == nil {
		logger.Log.Warnw("Kafka writer not configured, skipping publishing", "type", ev.Type, "order_id", ev.OrderID)
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		logger.Log.Errorw("Failed to marshal event for Kafka", "type", ev.Type, "order_id", ev.OrderID, "error", err)
		return
	}

	msg := kafka.Message{
		Key:     []byte(ev.OrderID),
		Value:   data,
		Headers: []kafka.Header{{Key: "type", Value: []byte(ev.Type)}},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logger.Log.Errorw("Failed to publish event to Kafka", "type", ev.Type, "order_id", ev.OrderID, "error", err)
	} else {
		logger.Log.Infow("Event published to Kafka", "type", ev.Type, "order_id", ev.OrderID, "amount", ev.Amount)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
