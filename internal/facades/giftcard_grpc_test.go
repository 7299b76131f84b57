package facades

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/sbilibin2017/gw-bill-payments/internal/apperr"
	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

// --- Fake gift-card provider ---
type fakeGiftCardServer struct {
	orders    map[string]*GiftCardOrder
	createErr error
	lastMD    metadata.MD
}

func (s *fakeGiftCardServer) CreateOrder(ctx context.Context, in *GiftCardOrderRequest) (*GiftCardOrder, error) {
	s.lastMD, _ = metadata.FromIncomingContext(ctx)
	if s.createErr != nil {
		return nil, s.createErr
	}
	o := &GiftCardOrder{TransactionID: "GC-" + in.OutRef[:8], OutRef: in.OutRef, Status: "PENDING"}
	s.orders[in.OutRef] = o
	return o, nil
}

func (s *fakeGiftCardServer) GetOrder(ctx context.Context, in *GiftCardLookup) (*GiftCardOrder, error) {
	for _, o := range s.orders {
		if o.TransactionID == in.TransactionID || o.OutRef == in.OutRef {
			return o, nil
		}
	}
	return nil, status.Error(codes.NotFound, "no such order")
}

func setupGiftCard(t *testing.T, srv GiftCardServer) *GiftCardGRPCFacade {
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(grpc.ForceServerCodec(JSONCodec{}))
	RegisterGiftCardServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewGiftCardGRPCFacade(GiftCardGRPCConfig{
		Name:      "giftcard",
		APIKey:    "gc_key",
		SecretKey: "gc_secret",
		Hash:      HashSHA256,
		StatusMap: models.StatusMap{"PENDING": models.ProviderPending, "DELIVERED": models.ProviderSuccess, "FAILED": models.ProviderFailed},
		Timeout:   time.Second,
	}, conn)
}

func TestGiftCardGRPCFacade_CreateAndQuery(t *testing.T) {
	fake := &fakeGiftCardServer{orders: map[string]*GiftCardOrder{}}
	f := setupGiftCard(t, fake)
	ctx := context.Background()
	outRef := uuid.New()

	res, err := f.CreateOrder(ctx, models.ProviderOrderRequest{
		OutRef:   outRef,
		Kind:     models.KindGiftCard,
		Currency: "USD",
		Amount:   decimal.RequireFromString("25"),
		Params:   models.Params{"productCode": "AMZ-US-25", "recipient": "a@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProviderPending, res.Status)
	assert.NotEmpty(t, res.ProviderRef)
	assert.Equal(t, []string{"gc_key"}, fake.lastMD.Get(mdAPIKey))
	assert.Len(t, fake.lastMD.Get(mdSignature), 1)

	fake.orders[outRef.String()].Status = "DELIVERED"
	st, err := f.QueryStatus(ctx, models.ProviderLookup{ProviderRef: res.ProviderRef})
	require.NoError(t, err)
	assert.Equal(t, models.ProviderSuccess, st.Status)

	st, err = f.QueryStatus(ctx, models.ProviderLookup{OutRef: outRef})
	require.NoError(t, err)
	assert.Equal(t, res.ProviderRef, st.ProviderRef)

	_, err = f.QueryStatus(ctx, models.ProviderLookup{ProviderRef: "GC-missing"})
	assert.ErrorIs(t, err, apperr.ErrProviderOrderMissing)
}

func TestGiftCardGRPCFacade_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"invalid argument", status.Error(codes.InvalidArgument, "bad product"), apperr.ErrProviderRejected},
		{"unknown product", status.Error(codes.NotFound, "no product"), apperr.ErrProviderRejected},
		{"out of stock", status.Error(codes.FailedPrecondition, "out of stock"), apperr.ErrProviderRejected},
		{"unavailable", status.Error(codes.Unavailable, "maintenance"), apperr.ErrProviderUnavailable},
		{"exhausted", status.Error(codes.ResourceExhausted, "slow down"), apperr.ErrProviderUnavailable},
		{"internal", status.Error(codes.Internal, "boom"), apperr.ErrProviderUnavailable},
		{"deadline", status.Error(codes.DeadlineExceeded, "too slow"), context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupGiftCard(t, &fakeGiftCardServer{orders: map[string]*GiftCardOrder{}, createErr: tt.err})
			_, err := f.CreateOrder(context.Background(), models.ProviderOrderRequest{OutRef: uuid.New(), Amount: decimal.NewFromInt(10)})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGiftCardGRPCFacade_Webhook(t *testing.T) {
	f := NewGiftCardGRPCFacade(GiftCardGRPCConfig{
		Name: "giftcard", SecretKey: "gc_secret", Hash: HashSHA256,
		StatusMap: models.StatusMap{"DELIVERED": models.ProviderSuccess},
	}, nil)

	body, err := SignWebhook(HashSHA256, "gc_secret", WebhookPayload{ProviderRef: "GC-1", Status: "DELIVERED", Amount: decimal.NewFromInt(25)})
	require.NoError(t, err)

	assert.True(t, f.VerifyWebhook(body, ""))
	ev, err := f.DecodeWebhook(body)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderSuccess, ev.Status)
	assert.Equal(t, "giftcard", ev.Provider)
}
