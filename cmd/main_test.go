package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sbilibin2017/gw-bill-payments/internal/facades"
	"github.com/sbilibin2017/gw-bill-payments/internal/handlers"
	"github.com/sbilibin2017/gw-bill-payments/internal/jwt"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
	"github.com/sbilibin2017/gw-bill-payments/internal/repositories"
	"github.com/sbilibin2017/gw-bill-payments/internal/services"
)

// resetFlags resets the global flag.CommandLine to avoid "flag redefined" panic
func resetFlags() {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)
}

// resetEnv clears env vars used by parseConfig
func resetEnv() {
	os.Clearenv()
}

func TestParseFlags_Default(t *testing.T) {
	resetFlags()
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"cmd"}
	configPath := parseFlags()
	expected := "config.env"

	if configPath != expected {
		t.Errorf("expected %s, got %s", expected, configPath)
	}
}

func TestParseFlags_Custom(t *testing.T) {
	resetFlags()
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"cmd", "-c", "myconfig.env"}
	configPath := parseFlags()
	expected := "myconfig.env"

	if configPath != expected {
		t.Errorf("expected %s, got %s", expected, configPath)
	}
}

func TestPrintBuildInfo_Output(t *testing.T) {
	// Capture stdout
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	buildVersion = "v1.0.0"
	buildCommit = "abcd1234"
	buildDate = "2025-09-26"

	printBuildInfo()

	w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	output := buf.String()
	os.Stdout = oldStdout

	if !strings.Contains(output, "Version: v1.0.0") ||
		!strings.Contains(output, "Commit: abcd1234") ||
		!strings.Contains(output, "Build: 2025-09-26") {
		t.Errorf("printBuildInfo output unexpected:\n%s", output)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	resetEnv()

	cfg, err := parseConfig("nonexistent.env")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.AppHost)
	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, storagePostgres, cfg.StorageDriver)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)

	assert.Equal(t, 5432, cfg.PGPort)
	assert.Equal(t, 16, cfg.PGMaxOpenConns)
	assert.Equal(t, 8, cfg.PGMaxIdleConns)

	assert.Empty(t, cfg.RedisHost)
	assert.Equal(t, 30*time.Second, cfg.RequestLockTTL)
	assert.Empty(t, cfg.KafkaBrokers)

	assert.Equal(t, "my_super_secret_key", cfg.JWTSecretKey)
	assert.Equal(t, time.Hour, cfg.JWTExp)

	assert.Equal(t, "billpay", cfg.BillPay.Name)
	assert.Empty(t, cfg.BillPay.BaseURL)
	assert.Equal(t, []string{"00"}, cfg.BillPay.SuccessCodes)
	assert.Equal(t, models.ProviderSuccess, cfg.BillPay.StatusMap.Lookup("success"))
	assert.Equal(t, "payout", cfg.Payout.Name)
	assert.Equal(t, models.ProviderCancelled, cfg.GiftCard.StatusMap.Lookup("VOIDED"))

	assert.Empty(t, cfg.Coordinator.Fees)
	assert.Empty(t, cfg.Coordinator.DailyLimits)
	assert.Equal(t, uint64(2), cfg.Coordinator.Delivery.MaxRetries)

	assert.Equal(t, time.Minute, cfg.Reconciler.StaleAfter)
	assert.Equal(t, 2*time.Minute, cfg.Reconciler.CreatedGrace)
	assert.Equal(t, 30*time.Minute, cfg.Reconciler.MissingGrace)
	assert.Equal(t, 10*time.Second, cfg.Reconciler.QueryRefreshAfter)
	assert.Equal(t, 100, cfg.Reconciler.BatchSize)
	assert.Equal(t, 4, cfg.Reconciler.Concurrency)
	assert.Equal(t, uint64(3), cfg.Reconciler.Poll.MaxRetries)
}

func TestParseConfig_CustomEnv(t *testing.T) {
	resetEnv()
	t.Setenv("APP_HOST", "127.0.0.1")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("APP_LOG_LEVEL", "debug")
	t.Setenv("STORAGE_DRIVER", "memory")

	t.Setenv("POSTGRES_PORT", "5433")
	t.Setenv("REDIS_HOST", "redis.example.com")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_REQUEST_LOCK_TTL", "1m")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("KAFKA_TOPIC", "orders")
	t.Setenv("JWT_SECRET_KEY", "supersecret")
	t.Setenv("JWT_EXP", "5m")

	t.Setenv("BILLPAY_BASE_URL", "https://billpay.example.com")
	t.Setenv("BILLPAY_SECRET_KEY", "bp-secret")
	t.Setenv("BILLPAY_SUCCESS_CODES", "00,000")
	t.Setenv("BILLPAY_STATUS_MAP", "1:success,2:failed,3:Cancelled")
	t.Setenv("GIFTCARD_GRPC_ADDR", "giftcard:50051")

	t.Setenv("FEE_BILL_PAYMENT", "10")
	t.Setenv("LIMIT_PAYOUT", "50000.50")
	t.Setenv("RECONCILE_INTERVAL", "5s")
	t.Setenv("RECONCILE_CONCURRENCY", "8")

	cfg, err := parseConfig("nonexistent.env")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.AppHost)
	assert.Equal(t, "9090", cfg.AppPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, storageMemory, cfg.StorageDriver)
	assert.Equal(t, 5433, cfg.PGPort)
	assert.Equal(t, "redis.example.com", cfg.RedisHost)
	assert.Equal(t, 6380, cfg.RedisPort)
	assert.Equal(t, time.Minute, cfg.RequestLockTTL)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "orders", cfg.KafkaTopic)
	assert.Equal(t, "supersecret", cfg.JWTSecretKey)
	assert.Equal(t, 5*time.Minute, cfg.JWTExp)

	assert.Equal(t, "https://billpay.example.com", cfg.BillPay.BaseURL)
	assert.Equal(t, "bp-secret", cfg.BillPay.SecretKey)
	assert.Equal(t, []string{"00", "000"}, cfg.BillPay.SuccessCodes)
	assert.Equal(t, models.StatusMap{"1": models.ProviderSuccess, "2": models.ProviderFailed, "3": models.ProviderCancelled}, cfg.BillPay.StatusMap)
	assert.Equal(t, "giftcard:50051", cfg.GiftCardAddr)

	assert.True(t, cfg.Coordinator.Fees[models.KindBillPayment].Equal(decimal.NewFromInt(10)))
	assert.True(t, cfg.Coordinator.DailyLimits[models.KindPayout].Equal(decimal.RequireFromString("50000.50")))
	assert.Equal(t, 5*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, 8, cfg.Reconciler.Concurrency)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"STORAGE_DRIVER", "mongo"},
		{"POSTGRES_PORT", "abc"},
		{"REDIS_REQUEST_LOCK_TTL", "soon"},
		{"JWT_EXP", "60"},
		{"BILLPAY_STATUS_MAP", "00=success"},
		{"PAYOUT_STATUS_MAP", "00:done"},
		{"FEE_GIFT_CARD", "ten"},
		{"LIMIT_PAYOUT", "-1"},
		{"RECONCILE_INTERVAL", "0s"},
		{"RECONCILE_BATCH_SIZE", "many"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			resetEnv()
			t.Setenv(tt.key, tt.value)

			_, err := parseConfig("nonexistent.env")
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestNewProviders(t *testing.T) {
	resetEnv()
	t.Setenv("PAYOUT_BASE_URL", "https://payout.example.com")

	cfg, err := parseConfig("nonexistent.env")
	require.NoError(t, err)

	providers := newProviders(cfg, nil)
	assert.Equal(t, []string{"payout"}, providers.Names())

	p, err := providers.ForKind(models.KindPayout)
	require.NoError(t, err)
	assert.Equal(t, "payout", p.Name())

	_, err = providers.ForKind(models.KindBillPayment)
	assert.Error(t, err)
}

const testProviderSecret = "billpay-secret"

// newFakeBillPay answers every create and status request with a pending
// order BP-1.
func newFakeBillPay(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, facades.Sign(facades.HashSHA512, testProviderSecret, body), r.Header.Get("X-Signature"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"code":"00","message":"accepted","data":{"orderNo":"BP-1","status":"pending"}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type apiClient struct {
	t       *testing.T
	handler http.Handler
	token   string
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(c.t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouter_PurchaseSettledByWebhook(t *testing.T) {
	resetEnv()
	provider := newFakeBillPay(t)
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("BILLPAY_BASE_URL", provider.URL)
	t.Setenv("BILLPAY_SECRET_KEY", testProviderSecret)
	t.Setenv("FEE_BILL_PAYMENT", "10")

	cfg, err := parseConfig("nonexistent.env")
	require.NoError(t, err)

	ledger := repositories.NewMemoryLedger()
	orders := repositories.NewMemoryOrderRepository()
	providers := newProviders(cfg, nil)
	tokens := jwt.New(jwt.WithSecretKey(cfg.JWTSecretKey))

	router := newRouter("/swagger/doc.json", tokens,
		services.NewWalletService(ledger, nil),
		services.NewCoordinator(cfg.Coordinator, providers, ledger, orders, nil, nil),
		services.NewReconciler(cfg.Reconciler, providers, ledger, orders, nil),
	)

	ownerID := uuid.New()
	token, err := tokens.Generate(context.Background(), ownerID)
	require.NoError(t, err)
	api := &apiClient{t: t, handler: router, token: token}

	// Unauthenticated calls are refused
	anon := &apiClient{t: t, handler: router}
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodGet, "/api/v1/wallets/NGN", nil, nil).Code)

	// Fund the wallet
	rec := api.do(http.MethodPost, "/api/v1/wallets/deposit",
		handlers.DepositRequest{Amount: decimal.NewFromInt(1000), Currency: "NGN", Reference: "topup-1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Purchase 300 + 10 fee
	rec = api.do(http.MethodPost, "/api/v1/orders",
		handlers.PurchaseRequest{Currency: "NGN", Kind: models.KindBillPayment, Amount: decimal.NewFromInt(300), Params: models.Params{"meter": "1234"}},
		map[string]string{handlers.IdempotencyKeyHeader: "purchase-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var order models.Order
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&order))
	assert.Equal(t, models.StatusSubmitted, order.Status)
	require.NotNil(t, order.ProviderRef)
	assert.Equal(t, "BP-1", *order.ProviderRef)

	// A forged webhook is rejected
	forged, err := json.Marshal(facades.WebhookPayload{ProviderRef: "BP-1", OutRef: order.ID.String(), Status: "failed", Signature: "00ff"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodPost, "/webhooks/billpay", forged, nil).Code)

	// The provider confirms
	body, err := facades.SignWebhook(facades.HashSHA512, testProviderSecret, facades.WebhookPayload{
		ProviderRef: "BP-1",
		OutRef:      order.ID.String(),
		Status:      "success",
		Amount:      decimal.NewFromInt(300),
	})
	require.NoError(t, err)
	rec = anon.do(http.MethodPost, "/webhooks/billpay", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodGet, "/api/v1/orders/"+order.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&order))
	assert.Equal(t, models.StatusCompleted, order.Status)

	rec = api.do(http.MethodGet, "/api/v1/orders/BP-1?provider=billpay", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Another owner cannot see the order
	otherToken, err := tokens.Generate(context.Background(), uuid.New())
	require.NoError(t, err)
	other := &apiClient{t: t, handler: router, token: otherToken}
	assert.Equal(t, http.StatusNotFound, other.do(http.MethodGet, "/api/v1/orders/"+order.ID.String(), nil, nil).Code)

	rec = api.do(http.MethodGet, "/api/v1/wallets/NGN", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var balance handlers.BalanceResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&balance))
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(690)), balance.Balance.String())
	assert.Len(t, balance.Entries, 2)

	// API docs are served
	rec = anon.do(http.MethodGet, "/swagger/doc.json", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gw-bill-payments API")
}

func TestRun_MemoryStorage(t *testing.T) {
	resetEnv()
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("APP_HOST", "127.0.0.1")
	t.Setenv("APP_PORT", "0")
	t.Setenv("RECONCILE_INTERVAL", "20ms")

	cfg, err := parseConfig("nonexistent.env")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	assert.NoError(t, run(ctx, cfg))
}

func TestRun_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		Env:          map[string]string{"POSTGRES_PASSWORD": "password", "POSTGRES_DB": "testdb", "POSTGRES_USER": "user"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: pgReq, Started: true})
	require.NoError(t, err)
	defer pgContainer.Terminate(ctx)

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	mr := miniredis.RunT(t)

	resetEnv()
	t.Setenv("APP_HOST", "127.0.0.1")
	t.Setenv("APP_PORT", "0")
	t.Setenv("POSTGRES_HOST", pgHost)
	t.Setenv("POSTGRES_PORT", strconv.Itoa(pgPort.Int()))
	t.Setenv("POSTGRES_DB", "testdb")
	t.Setenv("REDIS_HOST", mr.Host())
	t.Setenv("REDIS_PORT", mr.Port())
	t.Setenv("RECONCILE_INTERVAL", "100ms")

	cfg, err := parseConfig("nonexistent.env")
	require.NoError(t, err)

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	assert.NoError(t, run(runCtx, cfg))
}
