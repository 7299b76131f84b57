package facades

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/logger"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

// GiftCardGRPCConfig configures the gift-card provider client.
type GiftCardGRPCConfig struct {
	Name      string
	APIKey    string
	SecretKey string
	Hash      string
	StatusMap models.StatusMap
	Timeout   time.Duration
}

// GiftCardGRPCFacade implements the provider capability over the gift-card
// provider's gRPC API.
type GiftCardGRPCFacade struct {
	cfg  GiftCardGRPCConfig
	conn grpc.ClientConnInterface
}

// NewGiftCardGRPCFacade creates a new facade over a gRPC connection.
func NewGiftCardGRPCFacade(cfg GiftCardGRPCConfig, conn grpc.ClientConnInterface) *GiftCardGRPCFacade {
	return &GiftCardGRPCFacade{cfg: cfg, conn: conn}
}

// Name returns the provider name orders are tagged with.
func (f *GiftCardGRPCFacade) Name() string {
	return f.cfg.Name
}

// CreateOrder issues a gift card. Params carry productCode and recipient.
func (f *GiftCardGRPCFacade) CreateOrder(ctx context.Context, req models.ProviderOrderRequest) (*models.ProviderOrderResult, error) {
	in := &GiftCardOrderRequest{
		OutRef:      req.OutRef.String(),
		ProductCode: req.Params["productCode"],
		Recipient:   req.Params["recipient"],
		Currency:    req.Currency,
		Amount:      req.Amount.StringFixed(2),
	}

	var out GiftCardOrder
	if err := f.invoke(ctx, giftCardCreateMethod, in, &out); err != nil {
		logger.Log.Errorw("failed to create gift card order via gRPC", "out_ref", in.OutRef, "error", err)
		return nil, f.mapError(err, false)
	}

	logger.Log.Infow("provider response",
		"provider", f.cfg.Name, "method", giftCardCreateMethod, "out_ref", in.OutRef,
		"transaction_id", out.TransactionID, "status", out.Status, "message", out.Message)

	return &models.ProviderOrderResult{
		ProviderRef: out.TransactionID,
		Status:      f.cfg.StatusMap.Lookup(out.Status),
		Message:     out.Message,
		CompletedAt: out.CompletedAt,
	}, nil
}

// QueryStatus fetches the provider's view of an order.
func (f *GiftCardGRPCFacade) QueryStatus(ctx context.Context, lookup models.ProviderLookup) (*models.ProviderStatusResult, error) {
	in := &GiftCardLookup{TransactionID: lookup.ProviderRef}
	if lookup.OutRef != uuid.Nil {
		in.OutRef = lookup.OutRef.String()
	}

	var out GiftCardOrder
	if err := f.invoke(ctx, giftCardStatusMethod, in, &out); err != nil {
		logger.Log.Errorw("failed to fetch gift card order via gRPC",
			"transaction_id", in.TransactionID, "out_ref", in.OutRef, "error", err)
		return nil, f.mapError(err, true)
	}

	logger.Log.Infow("provider response",
		"provider", f.cfg.Name, "method", giftCardStatusMethod, "out_ref", in.OutRef,
		"transaction_id", out.TransactionID, "status", out.Status)

	return &models.ProviderStatusResult{
		ProviderRef: out.TransactionID,
		Status:      f.cfg.StatusMap.Lookup(out.Status),
		CompletedAt: out.CompletedAt,
		ErrorMsg:    out.Message,
	}, nil
}

// VerifyWebhook checks the HMAC of a webhook body.
func (f *GiftCardGRPCFacade) VerifyWebhook(payload []byte, signature string) bool {
	return verifyWebhook(f.cfg.Hash, f.cfg.SecretKey, payload, signature)
}

// DecodeWebhook maps a verified webhook body onto a StatusEvent.
func (f *GiftCardGRPCFacade) DecodeWebhook(payload []byte) (*models.StatusEvent, error) {
	return decodeWebhook(f.cfg.Name, f.cfg.StatusMap, payload)
}

func (f *GiftCardGRPCFacade) invoke(ctx context.Context, method string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	ctx = metadata.AppendToOutgoingContext(ctx,
		mdAPIKey, f.cfg.APIKey,
		mdSignature, Sign(f.cfg.Hash, f.cfg.SecretKey, body),
	)
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}
	return f.conn.Invoke(ctx, method, in, out, grpc.ForceCodec(JSONCodec{}))
}

// mapError translates gRPC status codes into the provider error taxonomy.
func (f *GiftCardGRPCFacade) mapError(err error, query bool) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", apperr.ErrProviderUnavailable, err)
	}

	switch st.Code() {
	case codes.NotFound:
		if query {
			return fmt.Errorf("%w: %s", apperr.ErrProviderOrderMissing, st.Message())
		}
		return fmt.Errorf("%w: %s", apperr.ErrProviderRejected, st.Message())
	case codes.InvalidArgument, codes.FailedPrecondition, codes.PermissionDenied,
		codes.Unauthenticated, codes.OutOfRange:
		return fmt.Errorf("%w: %s: %s", apperr.ErrProviderRejected, st.Code(), st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %w: %s", apperr.ErrProviderUnavailable, context.DeadlineExceeded, st.Message())
	default:
		return fmt.Errorf("%w: %s: %s", apperr.ErrProviderUnavailable, st.Code(), st.Message())
	}
}
