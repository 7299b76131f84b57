package facades

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/logger"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

// HTTPProviderConfig configures one signed JSON-over-HTTP provider.
type HTTPProviderConfig struct {
	Name         string
	BaseURL      string
	APIKey       string
	SecretKey    string
	Hash         string // sha256 or sha512
	CreatePath   string
	StatusPath   string
	SuccessCodes []string // response codes meaning the request was accepted
	StatusMap    models.StatusMap
	Timeout      time.Duration
}

// HTTPProviderFacade talks to a bill-payment or payout provider. Requests
// carry the api key as a bearer token and an HMAC of the body in
// X-Signature.
type HTTPProviderFacade struct {
	cfg    HTTPProviderConfig
	client *http.Client
}

// NewHTTPProviderFacade creates a provider client. A nil client gets a
// default one bounded by cfg.Timeout.
func NewHTTPProviderFacade(cfg HTTPProviderConfig, client *http.Client) *HTTPProviderFacade {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if len(cfg.SuccessCodes) == 0 {
		cfg.SuccessCodes = []string{"00"}
	}
	return &HTTPProviderFacade{cfg: cfg, client: client}
}

// Name returns the provider name orders are tagged with.
func (f *HTTPProviderFacade) Name() string {
	return f.cfg.Name
}

type createOrderBody struct {
	OutRef   string            `json:"outRef"`
	Kind     string            `json:"kind"`
	Currency string            `json:"currency"`
	Amount   decimal.Decimal   `json:"amount"`
	Params   map[string]string `json:"params,omitempty"`
}

type queryStatusBody struct {
	OrderNo string `json:"orderNo,omitempty"`
	OutRef  string `json:"outRef,omitempty"`
}

type providerEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		OrderNo     string     `json:"orderNo"`
		Status      string     `json:"status"`
		CompletedAt *time.Time `json:"completedAt"`
		ErrorMsg    string     `json:"errorMsg"`
	} `json:"data"`
}

// CreateOrder submits req. The internal order id travels as outRef so the
// provider can deduplicate retries.
func (f *HTTPProviderFacade) CreateOrder(ctx context.Context, req models.ProviderOrderRequest) (*models.ProviderOrderResult, error) {
	body := createOrderBody{
		OutRef:   req.OutRef.String(),
		Kind:     string(req.Kind),
		Currency: req.Currency,
		Amount:   req.Amount,
		Params:   req.Params,
	}

	env, err := f.do(ctx, f.cfg.CreatePath, req.OutRef.String(), body)
	if err != nil {
		return nil, err
	}

	return &models.ProviderOrderResult{
		ProviderRef: env.Data.OrderNo,
		Status:      f.cfg.StatusMap.Lookup(env.Data.Status),
		Message:     env.Message,
		CompletedAt: env.Data.CompletedAt,
	}, nil
}

// QueryStatus asks the provider for the current status of an order.
func (f *HTTPProviderFacade) QueryStatus(ctx context.Context, lookup models.ProviderLookup) (*models.ProviderStatusResult, error) {
	body := queryStatusBody{OrderNo: lookup.ProviderRef}
	if lookup.OutRef != uuid.Nil {
		body.OutRef = lookup.OutRef.String()
	}

	env, err := f.do(ctx, f.cfg.StatusPath, body.OutRef, body)
	if err != nil {
		return nil, err
	}

	ref := env.Data.OrderNo
	if ref == "" {
		ref = lookup.ProviderRef
	}
	return &models.ProviderStatusResult{
		ProviderRef: ref,
		Status:      f.cfg.StatusMap.Lookup(env.Data.Status),
		CompletedAt: env.Data.CompletedAt,
		ErrorMsg:    env.Data.ErrorMsg,
	}, nil
}

// VerifyWebhook checks the HMAC of a webhook body.
func (f *HTTPProviderFacade) VerifyWebhook(payload []byte, signature string) bool {
	return verifyWebhook(f.cfg.Hash, f.cfg.SecretKey, payload, signature)
}

// DecodeWebhook maps a verified webhook body onto a StatusEvent.
func (f *HTTPProviderFacade) DecodeWebhook(payload []byte) (*models.StatusEvent, error) {
	return decodeWebhook(f.cfg.Name, f.cfg.StatusMap, payload)
}

func (f *HTTPProviderFacade) do(ctx context.Context, path, outRef string, in any) (*providerEnvelope, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidRequest, err)
	}

	url := strings.TrimRight(f.cfg.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	httpReq.Header.Set("X-Signature", Sign(f.cfg.Hash, f.cfg.SecretKey, payload))
	if outRef != "" {
		httpReq.Header.Set("X-Request-Ref", outRef)
	}

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		logger.Log.Errorw("provider request failed",
			"provider", f.cfg.Name, "path", path, "out_ref", outRef,
			"duration", time.Since(start), "error", err)
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	logger.Log.Infow("provider response",
		"provider", f.cfg.Name, "path", path, "out_ref", outRef,
		"status", resp.StatusCode, "body", string(raw), "duration", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", apperr.ErrProviderUnavailable, err)
	}

	var env providerEnvelope
	decodeErr := json.Unmarshal(raw, &env)

	switch {
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s returned %d", apperr.ErrProviderUnavailable, f.cfg.Name, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound && path == f.cfg.StatusPath:
		return nil, fmt.Errorf("%w: %s", apperr.ErrProviderOrderMissing, f.cfg.Name)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s returned %d: %s", apperr.ErrProviderRejected, f.cfg.Name, resp.StatusCode, env.Message)
	case decodeErr != nil:
		return nil, fmt.Errorf("%w: %s sent malformed body: %v", apperr.ErrProviderUnavailable, f.cfg.Name, decodeErr)
	case !slices.Contains(f.cfg.SuccessCodes, env.Code):
		return nil, fmt.Errorf("%w: %s code %s: %s", apperr.ErrProviderRejected, f.cfg.Name, env.Code, env.Message)
	}
	return &env, nil
}

// classifyTransportError separates requests that never left this host from
// those whose outcome is unknown.
func classifyTransportError(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %w: %v", apperr.ErrProviderUnavailable, apperr.ErrNotDelivered, err)
	}
	return fmt.Errorf("%w: %w", apperr.ErrProviderUnavailable, err)
}
