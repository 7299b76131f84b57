package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sbilibin2017/gw-bill-payments/internal/logger"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

//go:generate mockgen -source=order_status.go -destination=mock_order_status.go -package=handlers

// OrderLookup defines the interface that the service must implement.
type OrderLookup interface {
	Lookup(ctx context.Context, ownerID uuid.UUID, ref, provider string) (*models.Order, error)
}

// NewOrderStatusHandler returns an HTTP handler for querying an order.
// @Summary Get order status
// @Description Looks the order up by internal id, or by provider reference when provider is set. Open orders not polled recently are polled synchronously.
// @Tags orders
// @Produce json
// @Param ref path string true "Order id or provider reference"
// @Param provider query string false "Provider name when ref is a provider reference"
// @Success 200 {object} models.Order "Order"
// @Failure 400 {object} handlers.ErrorResponse "Invalid reference"
// @Failure 401 {object} handlers.ErrorResponse "Unauthorized"
// @Failure 404 {object} handlers.ErrorResponse "Order not found"
// @Router /api/v1/orders/{ref} [get]
// @Security BearerAuth
func NewOrderStatusHandler(svc OrderLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ownerID, err := ownerFromRequest(r)
		if err != nil {
			logger.Log.Error("unauthorized order status request")
			writeError(w, err)
			return
		}

		ref := chi.URLParam(r, "ref")
		order, err := svc.Lookup(ctx, ownerID, ref, r.URL.Query().Get("provider"))
		if err != nil {
			logger.Log.Warnw("order lookup failed", "owner_id", ownerID, "ref", ref, "error", err)
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, order)
	}
}
