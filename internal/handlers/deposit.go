package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/logger"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

//go:generate mockgen -source=deposit.go -destination=mock_deposit.go -package=handlers

// DepositWriter defines the interface that the service must implement.
type DepositWriter interface {
	Deposit(ctx context.Context, ownerID uuid.UUID, currency string, amount decimal.Decimal, reference string) (*models.Wallet, error)
}

// DepositRequest represents the JSON body for depositing funds
// swagger:model DepositRequest
type DepositRequest struct {
	// Amount to deposit
	// required: true
	// default: 100.00
	Amount decimal.Decimal `json:"amount" swaggertype:"string"`

	// Currency
	// required: true
	// default: NGN
	Currency string `json:"currency"`

	// Funding reference, a repeated reference never credits twice
	// required: true
	// default: topup-2024-001
	Reference string `json:"reference"`
}

// DepositResponse represents a successful deposit response
// swagger:model DepositResponse
type DepositResponse struct {
	// Success message
	// default: Account topped up successfully
	Message string `json:"message"`

	// Wallet identifier
	WalletID uuid.UUID `json:"wallet_id"`

	// New balance of the wallet
	NewBalance decimal.Decimal `json:"new_balance" swaggertype:"string"`
}

// NewDepositHandler returns an HTTP handler for depositing funds into a wallet.
// @Summary Deposit funds
// @Description Credits the wallet. The reference makes the deposit idempotent.
// @Tags wallet
// @Accept json
// @Produce json
// @Param request body handlers.DepositRequest true "Deposit Request"
// @Success 200 {object} handlers.DepositResponse "Account topped up successfully"
// @Failure 400 {object} handlers.ErrorResponse "Invalid amount or currency"
// @Failure 401 {object} handlers.ErrorResponse "Unauthorized"
// @Router /api/v1/wallets/deposit [post]
// @Security BearerAuth
func NewDepositHandler(svc DepositWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ownerID, err := ownerFromRequest(r)
		if err != nil {
			logger.Log.Error("unauthorized deposit request")
			writeError(w, err)
			return
		}

		var req DepositRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Log.Errorw("failed to decode deposit request", "error", err)
			writeError(w, apperr.ErrInvalidRequest)
			return
		}

		wallet, err := svc.Deposit(ctx, ownerID, req.Currency, req.Amount, req.Reference)
		if err != nil {
			logger.Log.Errorw("failed to deposit funds", "owner_id", ownerID, "amount", req.Amount, "currency", req.Currency, "error", err)
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, DepositResponse{
			Message:    "Account topped up successfully",
			WalletID:   wallet.WalletID,
			NewBalance: wallet.Balance,
		})
	}
}
