package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/logger"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

//go:generate mockgen -source=purchase.go -destination=mock_purchase.go -package=handlers

// IdempotencyKeyHeader carries the client's request key.
const IdempotencyKeyHeader = "Idempotency-Key"

// Purchaser defines the interface that the service must implement.
type Purchaser interface {
	Purchase(ctx context.Context, req models.PurchaseRequest) (*models.Order, error)
}

// PurchaseRequest represents the JSON body of a purchase
// swagger:model PurchaseRequest
type PurchaseRequest struct {
	// Wallet currency
	// required: true
	// default: NGN
	Currency string `json:"currency"`

	// Order kind
	// required: true
	// default: bill-payment
	Kind models.OrderKind `json:"kind" enums:"bill-payment,payout,gift-card"`

	// Amount, fees are added on top
	// required: true
	// default: 1000.00
	Amount decimal.Decimal `json:"amount" swaggertype:"string"`

	// Provider parameters (meter number, phone, bank account, product code)
	Params models.Params `json:"params"`
}

// NewPurchaseHandler returns an HTTP handler that starts a purchase.
// @Summary Purchase a service
// @Description Debits the wallet and submits the order to the provider. Returns the order in its immediately known state and never waits for provider completion.
// @Tags orders
// @Accept json
// @Produce json
// @Param Idempotency-Key header string true "Client request key"
// @Param request body handlers.PurchaseRequest true "Purchase Request"
// @Success 200 {object} models.Order "Order"
// @Failure 400 {object} handlers.ErrorResponse "Invalid request"
// @Failure 401 {object} handlers.ErrorResponse "Unauthorized"
// @Failure 409 {object} handlers.ErrorResponse "Request in progress"
// @Failure 422 {object} handlers.ErrorResponse "Insufficient funds, daily limit or provider rejection"
// @Failure 503 {object} handlers.ErrorResponse "Provider or ledger unavailable"
// @Router /api/v1/orders [post]
// @Security BearerAuth
func NewPurchaseHandler(svc Purchaser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ownerID, err := ownerFromRequest(r)
		if err != nil {
			logger.Log.Error("unauthorized purchase request")
			writeError(w, err)
			return
		}

		var req PurchaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Log.Errorw("failed to decode purchase request", "error", err)
			writeError(w, apperr.ErrInvalidRequest)
			return
		}

		order, err := svc.Purchase(ctx, models.PurchaseRequest{
			OwnerID:    ownerID,
			RequestKey: r.Header.Get(IdempotencyKeyHeader),
			Currency:   req.Currency,
			Kind:       req.Kind,
			Amount:     req.Amount,
			Params:     req.Params,
		})
		if err != nil {
			logger.Log.Warnw("purchase failed", "owner_id", ownerID, "kind", req.Kind, "amount", req.Amount, "error", err)
			if apperr.Retryable(err) {
				w.Header().Set("Retry-After", "1")
			}
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, order)
	}
}
