package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbilibin2017/gw-bill-payments/internal/models"
)

func TestSettler_EnsureRefund_PublishesOnce(t *testing.T) {
	ctx := context.Background()
	amount := decimal.NewFromInt(400)

	tests := []struct {
		name       string
		replayed   bool
		wantEvents int
	}{
		{name: "refund created by this call", replayed: false, wantEvents: 1},
		{name: "refund already written by a racing call", replayed: true, wantEvents: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			ledger := NewMockLedgerStore(ctrl)
			orders := NewMockOrderStore(ctrl)
			kafka := NewMockKafkaWriter(ctrl)

			o := &models.Order{
				ID:            uuid.New(),
				WalletID:      uuid.New(),
				Kind:          models.KindBillPayment,
				Status:        models.StatusFailed,
				TotalAmount:   amount,
				RefundPending: true,
			}

			ledger.EXPECT().FindEntry(ctx, o.WalletID, o.ID, models.EntryDebit).
				Return(&models.LedgerEntry{OrderID: o.ID, Kind: models.EntryDebit, Amount: amount}, nil)
			// The racing caller has not committed yet when this one looks.
			ledger.EXPECT().FindEntry(ctx, o.WalletID, o.ID, models.EntryRefund).Return(nil, nil)
			ledger.EXPECT().Refund(ctx, models.LedgerRequest{
				WalletID: o.WalletID, OrderID: o.ID, Amount: amount, Category: string(models.KindBillPayment),
			}).Return(&models.LedgerEntry{OrderID: o.ID, Kind: models.EntryRefund, Amount: amount, Replayed: tt.replayed}, nil)
			orders.EXPECT().MarkRefunded(ctx, o.ID).Return(nil)
			kafka.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).Return(nil).Times(tt.wantEvents)

			s := &settler{ledger: ledger, orders: orders, events: newEventPublisher(kafka), now: time.Now}
			got, err := s.ensureRefund(ctx, o)

			require.NoError(t, err)
			assert.False(t, got.RefundPending)
		})
	}
}
