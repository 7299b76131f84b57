package facades

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

// Hash algorithms accepted in provider configs.
const (
	HashSHA256 = "sha256"
	HashSHA512 = "sha512"
)

func hasher(name string) func() hash.Hash {
	if strings.EqualFold(name, HashSHA256) {
		return sha256.New
	}
	return sha512.New
}

// Sign returns the hex HMAC of payload under secret.
func Sign(hashName, secret string, payload []byte) string {
	mac := hmac.New(hasher(hashName), []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// verify compares signature against the HMAC of payload in constant time.
func verify(hashName, secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(hasher(hashName), []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// WebhookPayload is the JSON body providers post to /webhooks/{provider}.
type WebhookPayload struct {
	ProviderRef string          `json:"providerRef"`
	OutRef      string          `json:"outRef"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	ErrorMsg    string          `json:"errorMsg,omitempty"`
	Signature   string          `json:"signature,omitempty"`
}

// Canonical is the string a provider signs for a webhook:
// providerRef|outRef|status|amount|completedAt|errorMsg.
func (p WebhookPayload) Canonical() []byte {
	completed := ""
	if p.CompletedAt != nil {
		completed = p.CompletedAt.UTC().Format(time.RFC3339)
	}
	return []byte(strings.Join([]string{
		p.ProviderRef,
		p.OutRef,
		p.Status,
		p.Amount.StringFixed(2),
		completed,
		p.ErrorMsg,
	}, "|"))
}

func parseWebhook(payload []byte) (WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("%w: webhook body: %v", apperr.ErrInvalidRequest, err)
	}
	return p, nil
}

// verifyWebhook checks the signature of a webhook body. The signature comes
// from the transport header when present, from the body otherwise.
func verifyWebhook(hashName, secret string, payload []byte, signature string) bool {
	p, err := parseWebhook(payload)
	if err != nil {
		return false
	}
	if signature == "" {
		signature = p.Signature
	}
	return verify(hashName, secret, p.Canonical(), signature)
}

// decodeWebhook turns a verified webhook body into a StatusEvent.
func decodeWebhook(provider string, statuses models.StatusMap, payload []byte) (*models.StatusEvent, error) {
	p, err := parseWebhook(payload)
	if err != nil {
		return nil, err
	}
	if p.ProviderRef == "" && p.OutRef == "" {
		return nil, fmt.Errorf("%w: webhook carries no order reference", apperr.ErrInvalidRequest)
	}

	ev := &models.StatusEvent{
		Provider:    provider,
		ProviderRef: p.ProviderRef,
		Status:      statuses.Lookup(p.Status),
		Amount:      p.Amount,
		CompletedAt: p.CompletedAt,
		ErrorMsg:    p.ErrorMsg,
		Source:      models.SourceWebhook,
	}
	if p.OutRef != "" {
		id, err := uuid.Parse(p.OutRef)
		if err != nil {
			return nil, fmt.Errorf("%w: outRef %q", apperr.ErrInvalidRequest, p.OutRef)
		}
		ev.OutRef = id
	}
	return ev, nil
}

// SignWebhook fills p.Signature. Providers' sandboxes and tests use it to
// produce bodies the facades accept.
func SignWebhook(hashName, secret string, p WebhookPayload) ([]byte, error) {
	p.Signature = Sign(hashName, secret, p.Canonical())
	return json.Marshal(p)
}
