package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sbilibin2017/gw-bill-payments/internal/logger"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

//go:generate mockgen -source=balance.go -destination=mock_balance.go -package=handlers

// WalletReader defines the interface that the service must implement.
type WalletReader interface {
	Balance(ctx context.Context, ownerID uuid.UUID, currency string) (*models.Wallet, []models.LedgerEntry, error)
}

// BalanceResponse represents a wallet with its ledger history
// swagger:model BalanceResponse
type BalanceResponse struct {
	// Wallet identifier
	WalletID uuid.UUID `json:"wallet_id"`

	// Currency code
	// default: NGN
	Currency string `json:"currency"`

	// Current balance
	// default: 1000.00
	Balance decimal.Decimal `json:"balance" swaggertype:"string"`

	// Ledger entries, oldest first
	Entries []models.LedgerEntry `json:"entries"`
}

// NewGetBalanceHandler returns an HTTP handler for fetching a wallet balance.
// @Summary Get wallet balance
// @Description Returns the wallet in the given currency together with its append-only ledger entries
// @Tags wallet
// @Produce json
// @Param currency path string true "Currency code" Enums(NGN, USD, EUR)
// @Success 200 {object} handlers.BalanceResponse "Wallet balance"
// @Failure 400 {object} handlers.ErrorResponse "Unsupported currency"
// @Failure 401 {object} handlers.ErrorResponse "Unauthorized"
// @Failure 500 {object} handlers.ErrorResponse "Internal server error"
// @Router /api/v1/wallets/{currency} [get]
// @Security BearerAuth
func NewGetBalanceHandler(walletReader WalletReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ownerID, err := ownerFromRequest(r)
		if err != nil {
			logger.Log.Error("unauthorized balance request")
			writeError(w, err)
			return
		}

		wallet, entries, err := walletReader.Balance(ctx, ownerID, chi.URLParam(r, "currency"))
		if err != nil {
			logger.Log.Errorw("failed to get balance", "owner_id", ownerID, "error", err)
			writeError(w, err)
			return
		}

		if entries == nil {
			entries = []models.LedgerEntry{}
		}
		writeJSON(w, http.StatusOK, BalanceResponse{
			WalletID: wallet.WalletID,
			Currency: wallet.Currency,
			Balance:  wallet.Balance,
			Entries:  entries,
		})
	}
}
