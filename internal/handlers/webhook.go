package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/logger"
)

//go:generate mockgen -source=webhook.go -destination=mock_webhook.go -package=handlers

// SignatureHeader carries a provider's webhook signature.
const SignatureHeader = "X-Signature"

const maxWebhookBody = 1 << 20

// WebhookReceiver defines the interface that the service must implement.
type WebhookReceiver interface {
	HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) error
}

// WebhookResponse acknowledges a notification.
// swagger:model WebhookResponse
type WebhookResponse struct {
	// default: ok
	Status string `json:"status"`
}

// NewWebhookHandler returns an HTTP handler for provider notifications.
// The response is sent only after the outcome is stored.
// @Summary Provider webhook
// @Description Receives a signed status notification. The signature may be sent in the X-Signature header or in the body.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param provider path string true "Provider name"
// @Param X-Signature header string false "Hex HMAC of the canonical payload"
// @Success 200 {object} handlers.WebhookResponse "Recorded"
// @Failure 400 {object} handlers.ErrorResponse "Malformed or mismatching notification"
// @Failure 401 {object} handlers.ErrorResponse "Invalid signature"
// @Failure 503 {object} handlers.ErrorResponse "Try again later"
// @Router /webhooks/{provider} [post]
func NewWebhookHandler(svc WebhookReceiver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		provider := chi.URLParam(r, "provider")

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			logger.Log.Errorw("failed to read webhook body", "provider", provider, "error", err)
			writeError(w, apperr.ErrInvalidRequest)
			return
		}

		if err := svc.HandleWebhook(ctx, provider, payload, r.Header.Get(SignatureHeader)); err != nil {
			logger.Log.Warnw("webhook not accepted", "provider", provider, "error", err)
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, WebhookResponse{Status: "ok"})
	}
}
