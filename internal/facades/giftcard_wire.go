package facades

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
)

// The gift-card provider exposes a small unary gRPC service whose messages
// are JSON encoded. Descriptors below play the role of generated stubs.

const (
	giftCardService      = "giftcard.v1.GiftCardService"
	giftCardCreateMethod = "/" + giftCardService + "/CreateOrder"
	giftCardStatusMethod = "/" + giftCardService + "/GetOrder"

	// Metadata keys.
	mdAPIKey    = "x-api-key"
	mdSignature = "x-signature"
)

// JSONCodec is the grpc encoding.Codec both sides of the gift-card
// service use.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                       { return "json" }

// GiftCardOrderRequest asks the provider to issue a card.
type GiftCardOrderRequest struct {
	OutRef      string `json:"out_ref"`
	ProductCode string `json:"product_code"`
	Recipient   string `json:"recipient,omitempty"`
	Currency    string `json:"currency"`
	Amount      string `json:"amount"`
}

// GiftCardOrder is the provider's view of an order.
type GiftCardOrder struct {
	TransactionID string     `json:"transaction_id"`
	OutRef        string     `json:"out_ref"`
	Status        string     `json:"status"`
	Message       string     `json:"message,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// GiftCardLookup identifies an order by either reference.
type GiftCardLookup struct {
	TransactionID string `json:"transaction_id,omitempty"`
	OutRef        string `json:"out_ref,omitempty"`
}

// GiftCardServer is implemented by the provider side (sandboxes, tests).
type GiftCardServer interface {
	CreateOrder(context.Context, *GiftCardOrderRequest) (*GiftCardOrder, error)
	GetOrder(context.Context, *GiftCardLookup) (*GiftCardOrder, error)
}

// RegisterGiftCardServer registers srv on s. s must be created with
// grpc.ForceServerCodec(JSONCodec{}).
func RegisterGiftCardServer(s *grpc.Server, srv GiftCardServer) {
	s.RegisterService(&giftCardServiceDesc, srv)
}

var giftCardServiceDesc = grpc.ServiceDesc{
	ServiceName: giftCardService,
	HandlerType: (*GiftCardServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateOrder",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(GiftCardOrderRequest)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(GiftCardServer).CreateOrder(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: giftCardCreateMethod}
				return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
					return srv.(GiftCardServer).CreateOrder(ctx, req.(*GiftCardOrderRequest))
				})
			},
		},
		{
			MethodName: "GetOrder",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(GiftCardLookup)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(GiftCardServer).GetOrder(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: giftCardStatusMethod}
				return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
					return srv.(GiftCardServer).GetOrder(ctx, req.(*GiftCardLookup))
				})
			},
		},
	},
	Streams: []grpc.StreamDesc{},
}
