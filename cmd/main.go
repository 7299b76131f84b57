package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/sbilibin2017/gw-bill-payments/internal/facades"
	"github.com/sbilibin2017/gw-bill-payments/internal/handlers"
	"github.com/sbilibin2017/gw-bill-payments/internal/jwt"
	"github.com/sbilibin2017/gw-bill-payments/internal/logger"
	"github.com/sbilibin2017/gw-bill-payments/internal/middlewares"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
	"github.com/sbilibin2017/gw-bill-payments/internal/repositories"
	"github.com/sbilibin2017/gw-bill-payments/internal/services"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/sbilibin2017/gw-bill-payments/docs"
	httpSwagger "github.com/swaggo/http-swagger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Build info variables, set via ldflags at build time.
var (
	buildVersion = "N/A" // Version of the service
	buildDate    = "N/A" // Build date
	buildCommit  = "N/A" // Git commit hash
)

// Storage drivers.
const (
	storagePostgres = "postgres"
	storageMemory   = "memory"
)

// config is the complete process configuration.
type config struct {
	AppHost           string
	AppPort           string
	LogLevel          string
	LogEncoding       string
	StorageDriver     string
	ReconcileInterval time.Duration

	PGHost         string
	PGPort         int
	PGUser         string
	PGPassword     string
	PGDB           string
	PGMaxOpenConns int
	PGMaxIdleConns int

	RedisHost         string
	RedisPort         int
	RedisDB           int
	RedisPassword     string
	RedisPoolSize     int
	RedisMinIdleConns int
	RequestLockTTL    time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	JWTSecretKey string
	JWTExp       time.Duration

	BillPay      facades.HTTPProviderConfig
	Payout       facades.HTTPProviderConfig
	GiftCardAddr string
	GiftCard     facades.GiftCardGRPCConfig

	Coordinator services.CoordinatorConfig
	Reconciler  services.ReconcilerConfig
}

// @title gw-bill-payments API
// @version 1.0.0
// @description Wallet-funded bill payments, payouts and gift cards with provider reconciliation
// @host localhost:8080
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	printBuildInfo()
	configPath := parseFlags()

	cfg, err := parseConfig(configPath)
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		log.Fatalf("application stopped with error: %v", err)
	}
}

// printBuildInfo prints the build version, commit hash, and build date.
func printBuildInfo() {
	fmt.Printf("Version: %s\nCommit: %s\nBuild: %s\n", buildVersion, buildCommit, buildDate)
}

// parseFlags parses command-line flags and returns the config file path.
func parseFlags() string {
	c := flag.String("c", "config.env", "Path to configuration file")
	flag.Parse()
	return *c
}

func getEnv(key, defaultValue string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultValue
}

func getInt(key, defaultValue string) (int, error) {
	v, err := strconv.Atoi(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getDuration(key, defaultValue string) (time.Duration, error) {
	v, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getList(key, defaultValue string) []string {
	var out []string
	for _, v := range strings.Split(getEnv(key, defaultValue), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// parseStatusMap reads "code:status" pairs such as "00:success,02:failed".
func parseStatusMap(raw string) (models.StatusMap, error) {
	m := models.StatusMap{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		code, status, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("status map entry %q: want code:status", pair)
		}
		s := models.ProviderStatus(strings.ToLower(strings.TrimSpace(status)))
		switch s {
		case models.ProviderPending, models.ProviderSuccess, models.ProviderFailed, models.ProviderCancelled:
		default:
			return nil, fmt.Errorf("status map entry %q: unknown status %q", pair, status)
		}
		m[strings.TrimSpace(code)] = s
	}
	return m, nil
}

// parseKindAmounts reads one decimal per order kind from <prefix>_BILL_PAYMENT,
// <prefix>_PAYOUT and <prefix>_GIFT_CARD. Unset kinds are left out.
func parseKindAmounts(prefix string) (map[models.OrderKind]decimal.Decimal, error) {
	out := map[models.OrderKind]decimal.Decimal{}
	for _, kind := range []models.OrderKind{models.KindBillPayment, models.KindPayout, models.KindGiftCard} {
		key := prefix + "_" + strings.ToUpper(strings.ReplaceAll(string(kind), "-", "_"))
		raw := getEnv(key, "")
		if raw == "" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if v.IsNegative() {
			return nil, fmt.Errorf("%s: must not be negative", key)
		}
		out[kind] = v
	}
	return out, nil
}

// parseHTTPProvider reads the <PREFIX>_* settings of one HTTP provider.
// An empty base URL leaves the provider disabled.
func parseHTTPProvider(prefix, name string) (facades.HTTPProviderConfig, error) {
	p := facades.HTTPProviderConfig{
		Name:         getEnv(prefix+"_NAME", name),
		BaseURL:      getEnv(prefix+"_BASE_URL", ""),
		APIKey:       getEnv(prefix+"_API_KEY", ""),
		SecretKey:    getEnv(prefix+"_SECRET_KEY", ""),
		Hash:         getEnv(prefix+"_HASH", facades.HashSHA512),
		CreatePath:   getEnv(prefix+"_CREATE_PATH", "/orders/create"),
		StatusPath:   getEnv(prefix+"_STATUS_PATH", "/orders/query"),
		SuccessCodes: getList(prefix+"_SUCCESS_CODES", "00"),
	}

	var err error
	if p.StatusMap, err = parseStatusMap(getEnv(prefix+"_STATUS_MAP", "success:success,pending:pending,failed:failed,cancelled:cancelled")); err != nil {
		return p, fmt.Errorf("%s_STATUS_MAP: %w", prefix, err)
	}
	if p.Timeout, err = getDuration(prefix+"_TIMEOUT", "10s"); err != nil {
		return p, err
	}
	return p, nil
}

// parseConfig loads environment variables from a file and returns the
// application, storage, Redis, Kafka, JWT, provider and reconciliation
// configuration.
func parseConfig(path string) (*config, error) {
	_ = godotenv.Load(path)

	cfg := &config{}
	var err error

	// Application config
	cfg.AppHost = getEnv("APP_HOST", "localhost")
	cfg.AppPort = getEnv("APP_PORT", "8080")
	cfg.LogLevel = getEnv("APP_LOG_LEVEL", "info")
	cfg.LogEncoding = getEnv("APP_LOG_ENCODING", "json")
	cfg.StorageDriver = getEnv("STORAGE_DRIVER", storagePostgres)
	if cfg.StorageDriver != storagePostgres && cfg.StorageDriver != storageMemory {
		return nil, fmt.Errorf("STORAGE_DRIVER: unknown driver %q", cfg.StorageDriver)
	}

	// PostgreSQL config
	cfg.PGHost = getEnv("POSTGRES_HOST", "localhost")
	cfg.PGUser = getEnv("POSTGRES_USER", "user")
	cfg.PGPassword = getEnv("POSTGRES_PASSWORD", "password")
	cfg.PGDB = getEnv("POSTGRES_DB", "database")
	if cfg.PGPort, err = getInt("POSTGRES_PORT", "5432"); err != nil {
		return nil, err
	}
	if cfg.PGMaxOpenConns, err = getInt("POSTGRES_MAX_OPEN_CONNS", "16"); err != nil {
		return nil, err
	}
	if cfg.PGMaxIdleConns, err = getInt("POSTGRES_MAX_IDLE_CONNS", "8"); err != nil {
		return nil, err
	}

	// Redis config
	cfg.RedisHost = getEnv("REDIS_HOST", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	if cfg.RedisPort, err = getInt("REDIS_PORT", "6379"); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", "0"); err != nil {
		return nil, err
	}
	if cfg.RedisPoolSize, err = getInt("REDIS_POOL_SIZE", "10"); err != nil {
		return nil, err
	}
	if cfg.RedisMinIdleConns, err = getInt("REDIS_MIN_IDLE_CONNS", "2"); err != nil {
		return nil, err
	}
	if cfg.RequestLockTTL, err = getDuration("REDIS_REQUEST_LOCK_TTL", "30s"); err != nil {
		return nil, err
	}

	// Kafka config
	cfg.KafkaBrokers = getList("KAFKA_BROKERS", "")
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", "bill-payments.orders")

	// JWT config
	cfg.JWTSecretKey = getEnv("JWT_SECRET_KEY", "my_super_secret_key")
	if cfg.JWTExp, err = getDuration("JWT_EXP", "1h"); err != nil {
		return nil, err
	}

	// Providers
	if cfg.BillPay, err = parseHTTPProvider("BILLPAY", "billpay"); err != nil {
		return nil, err
	}
	if cfg.Payout, err = parseHTTPProvider("PAYOUT", "payout"); err != nil {
		return nil, err
	}
	cfg.GiftCardAddr = getEnv("GIFTCARD_GRPC_ADDR", "")
	cfg.GiftCard = facades.GiftCardGRPCConfig{
		Name:      getEnv("GIFTCARD_NAME", "giftcard"),
		APIKey:    getEnv("GIFTCARD_API_KEY", ""),
		SecretKey: getEnv("GIFTCARD_SECRET_KEY", ""),
		Hash:      getEnv("GIFTCARD_HASH", facades.HashSHA256),
	}
	if cfg.GiftCard.StatusMap, err = parseStatusMap(getEnv("GIFTCARD_STATUS_MAP", "ISSUED:success,PROCESSING:pending,FAILED:failed,VOIDED:cancelled")); err != nil {
		return nil, fmt.Errorf("GIFTCARD_STATUS_MAP: %w", err)
	}
	if cfg.GiftCard.Timeout, err = getDuration("GIFTCARD_TIMEOUT", "10s"); err != nil {
		return nil, err
	}

	// Coordinator config
	if cfg.Coordinator.Fees, err = parseKindAmounts("FEE"); err != nil {
		return nil, err
	}
	if cfg.Coordinator.DailyLimits, err = parseKindAmounts("LIMIT"); err != nil {
		return nil, err
	}
	if cfg.Coordinator.ProviderTimeout, err = getDuration("PROVIDER_TIMEOUT", "15s"); err != nil {
		return nil, err
	}
	deliveryRetries, err := getInt("PROVIDER_DELIVERY_RETRIES", "2")
	if err != nil {
		return nil, err
	}
	cfg.Coordinator.Delivery = services.RetryPolicy{
		MaxRetries:      uint64(max(deliveryRetries, 0)),
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}

	// Reconciliation config
	if cfg.ReconcileInterval, err = getDuration("RECONCILE_INTERVAL", "30s"); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval <= 0 {
		return nil, errors.New("RECONCILE_INTERVAL: must be positive")
	}
	r := &cfg.Reconciler
	if r.StaleAfter, err = getDuration("RECONCILE_STALE_AFTER", "1m"); err != nil {
		return nil, err
	}
	if r.CreatedGrace, err = getDuration("RECONCILE_CREATED_GRACE", "2m"); err != nil {
		return nil, err
	}
	if r.MissingGrace, err = getDuration("RECONCILE_MISSING_GRACE", "30m"); err != nil {
		return nil, err
	}
	if r.QueryRefreshAfter, err = getDuration("RECONCILE_QUERY_REFRESH_AFTER", "10s"); err != nil {
		return nil, err
	}
	if r.BatchSize, err = getInt("RECONCILE_BATCH_SIZE", "100"); err != nil {
		return nil, err
	}
	if r.Concurrency, err = getInt("RECONCILE_CONCURRENCY", "4"); err != nil {
		return nil, err
	}
	pollRetries, err := getInt("RECONCILE_POLL_RETRIES", "3")
	if err != nil {
		return nil, err
	}
	r.ProviderTimeout = cfg.Coordinator.ProviderTimeout
	r.Poll = services.RetryPolicy{
		MaxRetries:      uint64(max(pollRetries, 0)),
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}

	return cfg, nil
}

// newProviders builds the provider registry from the enabled providers.
func newProviders(cfg *config, giftCardConn grpc.ClientConnInterface) *services.Providers {
	providers := services.NewProviders()
	if cfg.BillPay.BaseURL != "" {
		providers.Register(facades.NewHTTPProviderFacade(cfg.BillPay, nil), models.KindBillPayment)
	}
	if cfg.Payout.BaseURL != "" {
		providers.Register(facades.NewHTTPProviderFacade(cfg.Payout, nil), models.KindPayout)
	}
	if giftCardConn != nil {
		providers.Register(facades.NewGiftCardGRPCFacade(cfg.GiftCard, giftCardConn), models.KindGiftCard)
	}
	return providers
}

// newRouter mounts the webhook, API and swagger routes.
func newRouter(
	swaggerURL string,
	tokener middlewares.Tokener,
	wallets *services.WalletService,
	coordinator *services.Coordinator,
	reconciler *services.Reconciler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middlewares.LoggingMiddleware)

	// Provider callbacks authenticate by signature
	r.Post("/webhooks/{provider}", handlers.NewWebhookHandler(reconciler))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewares.AuthMiddleware(tokener))
		r.Post("/orders", handlers.NewPurchaseHandler(coordinator))
		r.Get("/orders/{ref}", handlers.NewOrderStatusHandler(reconciler))
		r.Get("/wallets/{currency}", handlers.NewGetBalanceHandler(wallets))
		r.Post("/wallets/deposit", handlers.NewDepositHandler(wallets))
	})

	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	return r
}

// run initializes the logger, storage, Redis, Kafka, provider clients and
// HTTP server, starts the reconciliation worker and handles graceful
// shutdown.
func run(ctx context.Context, cfg *config) error {
	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel, cfg.LogEncoding); err != nil {
		fmt.Println("failed to initialize logger:", err)
		return err
	}
	defer logger.Sync()
	logger.Log.Infow("logger initialized", "level", cfg.LogLevel, "storage", cfg.StorageDriver)

	// Storage
	var (
		ledger services.LedgerStore
		orders services.OrderStore
	)
	switch cfg.StorageDriver {
	case storageMemory:
		logger.Log.Warnw("running with in-memory storage, state is lost on restart")
		ledger = repositories.NewMemoryLedger()
		orders = repositories.NewMemoryOrderRepository()
	default:
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			cfg.PGUser, cfg.PGPassword, cfg.PGHost, cfg.PGPort, cfg.PGDB)
		logger.Log.Infow("connecting to PostgreSQL", "host", cfg.PGHost, "port", cfg.PGPort, "db", cfg.PGDB)

		db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
		if err != nil {
			return fmt.Errorf("postgres connect: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.PGMaxOpenConns)
		db.SetMaxIdleConns(cfg.PGMaxIdleConns)

		if err := repositories.Migrate(ctx, db); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
		ledger = repositories.NewLedgerRepository(db)
		orders = repositories.NewOrderRepository(db)
	}

	// Redis request locks
	var locker services.RequestLocker
	if cfg.RedisHost != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:         fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			PoolSize:     cfg.RedisPoolSize,
			MinIdleConns: cfg.RedisMinIdleConns,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		locker = repositories.NewRequestLockRepository(rdb, cfg.RequestLockTTL)
	} else {
		logger.Log.Warnw("REDIS_HOST not set, concurrent retries of one purchase rely on the database only")
	}

	// Kafka order events
	var events services.KafkaWriter
	if len(cfg.KafkaBrokers) > 0 {
		w := &kafka.Writer{
			Addr:                   kafka.TCP(cfg.KafkaBrokers...),
			Topic:                  cfg.KafkaTopic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		}
		defer w.Close()
		events = w
	}

	// gRPC gift-card provider
	var giftCardConn grpc.ClientConnInterface
	if cfg.GiftCardAddr != "" {
		conn, err := grpc.NewClient(cfg.GiftCardAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("gift-card provider at %s: %w", cfg.GiftCardAddr, err)
		}
		defer conn.Close()
		giftCardConn = conn
	}

	providers := newProviders(cfg, giftCardConn)
	if len(providers.Names()) == 0 {
		logger.Log.Warnw("no providers configured, every purchase will be refused")
	}

	// Services
	tokens := jwt.New(jwt.WithSecretKey(cfg.JWTSecretKey), jwt.WithExpiration(cfg.JWTExp))
	wallets := services.NewWalletService(ledger, events)
	coordinator := services.NewCoordinator(cfg.Coordinator, providers, ledger, orders, locker, events)
	reconciler := services.NewReconciler(cfg.Reconciler, providers, ledger, orders, events)

	srv := &http.Server{
		Addr: fmt.Sprintf("%s:%s", cfg.AppHost, cfg.AppPort),
		Handler: newRouter(
			fmt.Sprintf("http://%s:%s/swagger/doc.json", cfg.AppHost, cfg.AppPort),
			tokens, wallets, coordinator, reconciler,
		),
	}

	// Graceful shutdown
	errChan := make(chan error, 1)
	ctxShutdown, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		reconciler.Run(ctxShutdown, cfg.ReconcileInterval)
	}()

	go func() {
		logger.Log.Infow("HTTP server listening", "addr", srv.Addr, "providers", providers.Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	select {
	case <-ctxShutdown.Done():
		logger.Log.Info("Shutdown signal received, stopping HTTP server...")
	case serveErr := <-errChan:
		stop()
		<-workerDone
		return serveErr
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Errorw("HTTP server shutdown error", "error", err)
	}
	<-workerDone

	logger.Log.Info("HTTP server stopped gracefully")
	return nil
}
