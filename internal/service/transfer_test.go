package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poslot/backend/internal/domain"
	"poslot/backend/internal/store"
	"poslot/backend/internal/store/memory"
)

func TestTransferStockCreatesDeliveredLotForReceiver(t *testing.T) {
	h := newHarness(t, nil)
	h.distribute(t, "cashier-a", units("prd-mie-01", 5))
	h.distribute(t, "cashier-a", units("prd-mie-01", 5))

	resp, err := h.svc.TransferStock(cashierCtx("cashier-a"), domain.TransferRequest{
		SenderCashierID:   "cashier-a",
		ReceiverCashierID: "cashier-b",
		Items:             []domain.DistributionItemRequest{units("prd-mie-01", 4), units("PRD-MIE-01", 3)},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.LotStatusDelivered, resp.ReceiverLot.Status)
	assert.Equal(t, domain.LotSourceTransfer, resp.ReceiverLot.Source)
	assert.Equal(t, 7, resp.ReceiverLot.QuantityOf("prd-mie-01"))
	assert.Equal(t, "Mie Goreng Instan", resp.ReceiverLot.Items[0].ProductName)
	require.Len(t, resp.Depletions, 2)
	assert.Equal(t, 5, resp.Depletions[0].Quantity)
	assert.Equal(t, 2, resp.Depletions[1].Quantity)

	assert.Equal(t, 3, h.stock(t, "cashier-a", "prd-mie-01"))
	assert.Equal(t, 7, h.stock(t, "cashier-b", "prd-mie-01"))
}

func TestTransferStockMergesIntoReceiverNewestLot(t *testing.T) {
	h := newHarness(t, nil)
	h.distribute(t, "cashier-a", units("prd-kopi-01", 4))
	h.distribute(t, "cashier-b", units("prd-mie-01", 1))
	newest := h.distribute(t, "cashier-b", units("prd-telur-01", 1))

	resp, err := h.svc.TransferStock(adminCtx(), domain.TransferRequest{
		SenderCashierID:   "cashier-a",
		ReceiverCashierID: "cashier-b",
		Items:             []domain.DistributionItemRequest{units("prd-kopi-01", 2)},
	})
	require.NoError(t, err)

	assert.Equal(t, newest.ID, resp.ReceiverLot.ID)
	assert.Equal(t, 2, resp.ReceiverLot.QuantityOf("prd-kopi-01"))
}

func TestTransferStockPrecheckIsAllOrNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.distribute(t, "cashier-a", units("prd-mie-01", 5), units("prd-kopi-01", 1))

	_, err := h.svc.TransferStock(cashierCtx("cashier-a"), domain.TransferRequest{
		SenderCashierID:   "cashier-a",
		ReceiverCashierID: "cashier-b",
		Items:             []domain.DistributionItemRequest{units("prd-mie-01", 2), units("prd-kopi-01", 3)},
	})

	var shortfall *store.InsufficientStockError
	require.ErrorAs(t, err, &shortfall)
	assert.Equal(t, "prd-kopi-01", shortfall.ProductID)
	assert.Equal(t, 5, h.stock(t, "cashier-a", "prd-mie-01"))
	assert.Equal(t, 1, h.stock(t, "cashier-a", "prd-kopi-01"))

	lots, err := h.repo.ListLots(context.Background(), domain.LotFilter{CashierID: "cashier-b"})
	require.NoError(t, err)
	assert.Empty(t, lots)
}

func TestTransferStockValidation(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name string
		ctx  context.Context
		req  domain.TransferRequest
		want error
	}{
		{
			name: "SameCashier",
			ctx:  adminCtx(),
			req:  domain.TransferRequest{SenderCashierID: "cashier-a", ReceiverCashierID: "Cashier-A", Items: []domain.DistributionItemRequest{units("prd-mie-01", 1)}},
			want: store.ErrValidation,
		},
		{
			name: "MissingReceiver",
			ctx:  adminCtx(),
			req:  domain.TransferRequest{SenderCashierID: "cashier-a", Items: []domain.DistributionItemRequest{units("prd-mie-01", 1)}},
			want: store.ErrValidation,
		},
		{
			name: "ZeroQuantity",
			ctx:  adminCtx(),
			req:  domain.TransferRequest{SenderCashierID: "cashier-a", ReceiverCashierID: "cashier-b", Items: []domain.DistributionItemRequest{units("prd-mie-01", 0)}},
			want: store.ErrValidation,
		},
		{
			name: "UnknownReceiver",
			ctx:  adminCtx(),
			req:  domain.TransferRequest{SenderCashierID: "cashier-a", ReceiverCashierID: "cashier-z", Items: []domain.DistributionItemRequest{units("prd-mie-01", 1)}},
			want: store.ErrValidation,
		},
		{
			name: "ReceiverIsAdmin",
			ctx:  adminCtx(),
			req:  domain.TransferRequest{SenderCashierID: "cashier-a", ReceiverCashierID: "admin", Items: []domain.DistributionItemRequest{units("prd-mie-01", 1)}},
			want: store.ErrValidation,
		},
		{
			name: "OtherCashiersStock",
			ctx:  cashierCtx("cashier-b"),
			req:  domain.TransferRequest{SenderCashierID: "cashier-a", ReceiverCashierID: "cashier-b", Items: []domain.DistributionItemRequest{units("prd-mie-01", 1)}},
			want: ErrForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.TransferStock(tt.ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	lots, err := h.repo.ListLots(context.Background(), domain.LotFilter{})
	require.NoError(t, err)
	assert.Empty(t, lots)
}

// failingReceiver refuses lot writes for one cashier.
type failingReceiver struct {
	*memory.Store
	cashierID string
}

func (f failingReceiver) CreateLot(ctx context.Context, lot domain.DistributionLot) (*domain.DistributionLot, error) {
	if lot.CashierID == f.cashierID {
		return nil, errors.New("disk full")
	}
	return f.Store.CreateLot(ctx, lot)
}

func TestTransferStockRestoresSenderWhenReceiverWriteFails(t *testing.T) {
	h := newHarness(t, func(m *memory.Store) store.Repository {
		return failingReceiver{Store: m, cashierID: "cashier-b"}
	})
	h.distribute(t, "cashier-a", units("prd-mie-01", 5))

	_, err := h.svc.TransferStock(adminCtx(), domain.TransferRequest{
		SenderCashierID:   "cashier-a",
		ReceiverCashierID: "cashier-b",
		Items:             []domain.DistributionItemRequest{units("prd-mie-01", 5)},
	})
	require.ErrorIs(t, err, store.ErrPersistence)

	assert.Equal(t, 5, h.stock(t, "cashier-a", "prd-mie-01"))
	assert.Equal(t, 0, h.stock(t, "cashier-b", "prd-mie-01"))
}

func TestStockIsConservedAcrossOperations(t *testing.T) {
	h := newHarness(t, nil)
	h.distribute(t, "cashier-a", units("prd-mie-01", 6), units("prd-kopi-01", 4))
	h.distribute(t, "cashier-a", units("prd-mie-01", 4))
	const distributed = 14

	sale, err := h.svc.RecordSale(cashierCtx("cashier-a"), domain.SaleRequest{
		CashReceivedCents: 1000000,
		Items: []domain.SaleItemRequest{
			{ProductID: "prd-mie-01", Quantity: 7},
			{ProductID: "prd-kopi-01", Quantity: 2},
		},
	})
	require.NoError(t, err)

	_, err = h.svc.TransferStock(cashierCtx("cashier-a"), domain.TransferRequest{
		SenderCashierID:   "cashier-a",
		ReceiverCashierID: "cashier-b",
		Items:             []domain.DistributionItemRequest{units("prd-mie-01", 2), units("prd-kopi-01", 1)},
	})
	require.NoError(t, err)

	_, err = h.svc.ProcessReturn(cashierCtx("cashier-a"), domain.ReturnRequest{
		TransactionID: sale.ID,
		Items: []domain.ReturnLine{
			{ItemIndex: 0, Quantity: 3},
			{ItemIndex: 1, Quantity: 2},
		},
	})
	require.NoError(t, err)

	held := 0
	for _, cashier := range []string{"cashier-a", "cashier-b"} {
		for _, product := range []string{"prd-mie-01", "prd-kopi-01"} {
			held += h.stock(t, cashier, product)
		}
	}
	tx, err := h.svc.GetTransaction(adminCtx(), sale.ID)
	require.NoError(t, err)
	soldNotReturned := tx.OriginalQuantity() - tx.ReturnedQuantity()

	assert.Equal(t, distributed, held+soldNotReturned)
	assert.Equal(t, domain.TxStatusCompleted, tx.Status)
}
