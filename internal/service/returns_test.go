package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"poslot/backend/internal/domain"
	"poslot/backend/internal/store"
	"poslot/backend/internal/store/memory"
)

// seedSale stores a completed transaction directly so refund math can be
// checked against exact line totals.
func (h *harness) seedSale(t *testing.T, cashierID string, items ...domain.TransactionItem) domain.TransactionRecord {
	t.Helper()
	subtotal := int64(0)
	for _, item := range items {
		subtotal += item.LineTotalCents
	}
	tx, err := h.repo.CreateTransaction(context.Background(), domain.TransactionRecord{
		CashierID:         cashierID,
		Items:             items,
		SubtotalCents:     subtotal,
		TotalAmountCents:  subtotal,
		CashReceivedCents: subtotal,
		Status:            domain.TxStatusCompleted,
	})
	require.NoError(t, err)
	return *tx
}

func saleItem(productID string, qty int, unit int64, lineTotal int64) domain.TransactionItem {
	return domain.TransactionItem{
		ProductID:      productID,
		Name:           productID,
		SKU:            "SKU-" + productID,
		Category:       "grocery",
		Quantity:       qty,
		UnitPriceCents: unit,
		LineTotalCents: lineTotal,
	}
}

func (h *harness) intents(t *testing.T, status string) []domain.ReturnIntent {
	t.Helper()
	resp, err := h.svc.ListReturnIntents(adminCtx(), status, 50)
	require.NoError(t, err)
	return resp.Intents
}

func TestProcessReturnRefundsProportionally(t *testing.T) {
	h := newHarness(t, nil)
	tx := h.seedSale(t, "cashier-a", saleItem("prd-x", 4, 9000, 36000))

	first, err := h.svc.ProcessReturn(cashierCtx("cashier-a"), domain.ReturnRequest{
		TransactionID: tx.ID,
		Items:         []domain.ReturnLine{{ItemIndex: 0, Quantity: 1, Description: "dented"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9000), first.ReturnAmountCents)
	assert.Equal(t, domain.TxStatusCompleted, first.Transaction.Status)
	assert.Equal(t, int64(27000), first.Transaction.TotalAmountCents)

	second, err := h.svc.ProcessReturn(cashierCtx("cashier-a"), domain.ReturnRequest{
		TransactionID: tx.ID,
		Items:         []domain.ReturnLine{{ItemIndex: 0, Quantity: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(27000), second.ReturnAmountCents)
	assert.Equal(t, domain.TxStatusRefunded, second.Transaction.Status)
	assert.Equal(t, int64(0), second.Transaction.SubtotalCents)
	assert.Equal(t, int64(0), second.Transaction.TotalAmountCents)
	require.Len(t, second.Transaction.ReturnedItems, 2)
	assert.Equal(t, "dented", second.Transaction.ReturnedItems[0].Reason)

	assert.Equal(t, 4, h.stock(t, "cashier-a", "prd-x"))
	completed := h.intents(t, domain.IntentStatusCompleted)
	assert.Len(t, completed, 2)
}

func TestProcessReturnRemainderKeepsFullRefundExact(t *testing.T) {
	h := newHarness(t, nil)
	tx := h.seedSale(t, "cashier-a", saleItem("prd-x", 3, 334, 1000))

	total := int64(0)
	for i := 0; i < 3; i++ {
		resp, err := h.svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
			TransactionID: tx.ID,
			Items:         []domain.ReturnLine{{ItemIndex: 0, Quantity: 1}},
		})
		require.NoError(t, err)
		total += resp.ReturnAmountCents
	}
	assert.Equal(t, int64(1000), total)
}

func TestProcessReturnRejectsOverReturn(t *testing.T) {
	h := newHarness(t, nil)
	tx := h.seedSale(t, "cashier-a", saleItem("prd-x", 2, 500, 1000))
	_, err := h.svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
		TransactionID: tx.ID,
		Items:         []domain.ReturnLine{{ItemIndex: 0, Quantity: 2}},
	})
	require.NoError(t, err)

	_, err = h.svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
		TransactionID: tx.ID,
		Items:         []domain.ReturnLine{{ItemIndex: 0, Quantity: 1}},
	})
	assert.ErrorIs(t, err, store.ErrOverReturn)
	assert.Equal(t, 2, h.stock(t, "cashier-a", "prd-x"))
}

func TestProcessReturnCapsEachSaleLineSeparately(t *testing.T) {
	h := newHarness(t, nil)
	h.distribute(t, "cashier-a", units("prd-mie-01", 6))
	tx, err := h.svc.RecordSale(cashierCtx("cashier-a"), domain.SaleRequest{
		CashReceivedCents: 20000,
		Items: []domain.SaleItemRequest{
			{ProductID: "prd-mie-01", Quantity: 1},
			{ProductID: "prd-mie-01", Quantity: 5, DiscountPercent: 50},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(3500), tx.Items[0].LineTotalCents)
	require.Equal(t, int64(8750), tx.Items[1].LineTotalCents)

	_, err = h.svc.ProcessReturn(cashierCtx("cashier-a"), domain.ReturnRequest{
		TransactionID: tx.ID,
		Items:         []domain.ReturnLine{{ItemIndex: 0, Quantity: 3}},
	})
	require.ErrorIs(t, err, store.ErrOverReturn)
	var lineErr *store.LineError
	require.True(t, errors.As(err, &lineErr))
	assert.Equal(t, 0, lineErr.ItemIndex)
	assert.Equal(t, 0, h.stock(t, "cashier-a", "prd-mie-01"))
	assert.Empty(t, h.intents(t, ""))

	_, err = h.svc.ProcessReturn(cashierCtx("cashier-a"), domain.ReturnRequest{
		TransactionID: tx.ID,
		Items: []domain.ReturnLine{
			{ItemIndex: 0, Quantity: 1},
			{ItemIndex: 0, Quantity: 1},
		},
	})
	require.ErrorIs(t, err, store.ErrOverReturn)

	first, err := h.svc.ProcessReturn(cashierCtx("cashier-a"), domain.ReturnRequest{
		TransactionID: tx.ID,
		Items:         []domain.ReturnLine{{ItemIndex: 0, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3500), first.ReturnAmountCents)

	second, err := h.svc.ProcessReturn(cashierCtx("cashier-a"), domain.ReturnRequest{
		TransactionID: tx.ID,
		Items:         []domain.ReturnLine{{ItemIndex: 1, Quantity: 5}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8750), second.ReturnAmountCents)
	assert.Equal(t, domain.TxStatusRefunded, second.Transaction.Status)
	assert.Equal(t, 6, h.stock(t, "cashier-a", "prd-mie-01"))
}

func TestProcessReturnCountsEarlierLinesOfSameRequest(t *testing.T) {
	h := newHarness(t, nil)
	tx := h.seedSale(t, "cashier-a", saleItem("prd-x", 3, 500, 1500))

	_, err := h.svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
		TransactionID: tx.ID,
		Items: []domain.ReturnLine{
			{ItemIndex: 0, Quantity: 2},
			{ItemIndex: 0, Quantity: 2},
		},
	})

	var lineErr *store.LineError
	require.ErrorAs(t, err, &lineErr)
	assert.ErrorIs(t, err, store.ErrOverReturn)
	assert.Equal(t, 1, lineErr.Line)
	h.assertUntouched(t, tx)
}

func TestProcessReturnMixedValidAndInvalidLinesChangesNothing(t *testing.T) {
	h := newHarness(t, nil)
	tx := h.seedSale(t, "cashier-a", saleItem("prd-x", 2, 500, 1000), saleItem("prd-y", 1, 700, 700))

	_, err := h.svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
		TransactionID: tx.ID,
		Items: []domain.ReturnLine{
			{ItemIndex: 0, Quantity: 1},
			{ItemIndex: 5, Quantity: 1},
		},
	})

	var lineErr *store.LineError
	require.ErrorAs(t, err, &lineErr)
	assert.ErrorIs(t, err, store.ErrInvalidIndex)
	assert.Equal(t, 1, lineErr.Line)
	assert.Equal(t, 5, lineErr.ItemIndex)
	h.assertUntouched(t, tx)
}

func TestProcessReturnRejectsNonPositiveQuantity(t *testing.T) {
	h := newHarness(t, nil)
	tx := h.seedSale(t, "cashier-a", saleItem("prd-x", 2, 500, 1000))

	_, err := h.svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
		TransactionID: tx.ID,
		Items:         []domain.ReturnLine{{ItemIndex: 0, Quantity: 0}},
	})
	assert.ErrorIs(t, err, store.ErrValidation)
	h.assertUntouched(t, tx)
}

func TestProcessReturnUnknownAndCancelledTransactions(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
		TransactionID: "tx-missing",
		Items:         []domain.ReturnLine{{ItemIndex: 0, Quantity: 1}},
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	tx := h.seedSale(t, "cashier-a", saleItem("prd-x", 1, 500, 500))
	tx.Status = domain.TxStatusCancelled
	_, err = h.repo.SaveTransaction(context.Background(), tx)
	require.NoError(t, err)

	_, err = h.svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
		TransactionID: tx.ID,
		Items:         []domain.ReturnLine{{ItemIndex: 0, Quantity: 1}},
	})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestProcessReturnByOtherCashierIsForbidden(t *testing.T) {
	h := newHarness(t, nil)
	tx := h.seedSale(t, "cashier-a", saleItem("prd-x", 1, 500, 500))

	_, err := h.svc.ProcessReturn(cashierCtx("cashier-b"), domain.ReturnRequest{
		TransactionID: tx.ID,
		Items:         []domain.ReturnLine{{ItemIndex: 0, Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestProcessReturnMergesIntoLotFIFOIsDrawingFrom(t *testing.T) {
	h := newHarness(t, nil)
	older := h.distribute(t, "cashier-a", units("prd-mie-01", 2))
	h.distribute(t, "cashier-a", units("prd-mie-01", 5))

	sale, err := h.svc.RecordSale(cashierCtx("cashier-a"), domain.SaleRequest{
		CashReceivedCents: 100000,
		Items:             []domain.SaleItemRequest{{ProductID: "prd-mie-01", Quantity: 3}},
	})
	require.NoError(t, err)

	_, err = h.svc.ProcessReturn(cashierCtx("cashier-a"), domain.ReturnRequest{
		TransactionID: sale.ID,
		Items:         []domain.ReturnLine{{ItemIndex: 0, Quantity: 1}},
	})
	require.NoError(t, err)

	lot, err := h.repo.GetLot(context.Background(), older.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LotStatusCancelled, lot.Status)
	assert.Equal(t, 5, h.stock(t, "cashier-a", "prd-mie-01"))
}

func (h *harness) assertUntouched(t *testing.T, before domain.TransactionRecord) {
	t.Helper()
	after, err := h.repo.FindTransactionByID(context.Background(), before.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Empty(t, after.ReturnedItems)

	lots, err := h.repo.ListLots(context.Background(), domain.LotFilter{CashierID: before.CashierID})
	require.NoError(t, err)
	assert.Empty(t, lots)
	assert.Empty(t, h.intents(t, ""))
}

type failingTxSave struct {
	*memory.Store
}

func (failingTxSave) SaveTransaction(context.Context, domain.TransactionRecord) (*domain.TransactionRecord, error) {
	return nil, errors.New("connection reset by peer")
}

func TestProcessReturnSaveFailureFlagsIntent(t *testing.T) {
	h := newHarness(t, func(m *memory.Store) store.Repository { return failingTxSave{Store: m} })
	tx := h.seedSale(t, "cashier-a", saleItem("prd-x", 2, 500, 1000))

	_, err := h.svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
		TransactionID: tx.ID,
		Items:         []domain.ReturnLine{{ItemIndex: 0, Quantity: 1}},
	})
	require.ErrorIs(t, err, store.ErrPersistence)

	entries := h.logs.FilterMessage("fatal inconsistency: stock reinstated but transaction not updated").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, tx.ID, fields["transaction_id"])
	assert.Equal(t, int64(500), fields["return_amount_cents"])

	flagged := h.intents(t, domain.IntentStatusNeedsReconciliation)
	require.Len(t, flagged, 1)
	assert.Equal(t, fields["intent_id"], flagged[0].ID)
	assert.Contains(t, flagged[0].Error, "connection reset")
	assert.Equal(t, 1, h.stock(t, "cashier-a", "prd-x"))

	resolved, err := h.svc.ResolveReturnIntent(adminCtx(), flagged[0].ID, domain.ReturnIntentResolveRequest{Note: "recorded by hand"})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusResolved, resolved.Status)

	_, err = h.svc.ResolveReturnIntent(adminCtx(), flagged[0].ID, domain.ReturnIntentResolveRequest{Note: "again"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

// racingTxSave lets a concurrent writer update the transaction right before
// the first save, optionally returning units of its own.
type racingTxSave struct {
	*memory.Store
	raced    bool
	returned int
}

func (r *racingTxSave) SaveTransaction(ctx context.Context, tx domain.TransactionRecord) (*domain.TransactionRecord, error) {
	if !r.raced {
		r.raced = true
		current, err := r.Store.FindTransactionByID(ctx, tx.ID)
		if err != nil {
			return nil, err
		}
		if r.returned > 0 {
			item := current.Items[0]
			current.ReturnedItems = append(current.ReturnedItems, domain.ReturnedItem{
				ProductID: item.ProductID,
				SKU:       item.SKU,
				Quantity:  r.returned,
			})
		}
		if _, err := r.Store.SaveTransaction(ctx, *current); err != nil {
			return nil, err
		}
	}
	return r.Store.SaveTransaction(ctx, tx)
}

func TestProcessReturnRevalidatesAfterConflict(t *testing.T) {
	racer := &racingTxSave{}
	h := newHarness(t, func(m *memory.Store) store.Repository {
		racer.Store = m
		return racer
	})
	tx := h.seedSale(t, "cashier-a", saleItem("prd-x", 3, 500, 1500))

	resp, err := h.svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
		TransactionID: tx.ID,
		Items:         []domain.ReturnLine{{ItemIndex: 0, Quantity: 1}},
	})
	require.NoError(t, err)

	assert.Len(t, resp.Transaction.ReturnedItems, 1)
	assert.Equal(t, 1, h.stock(t, "cashier-a", "prd-x"))
}

func TestProcessReturnReversesStockWhenRevalidationFails(t *testing.T) {
	racer := &racingTxSave{returned: 3}
	h := newHarness(t, func(m *memory.Store) store.Repository {
		racer.Store = m
		return racer
	})
	tx := h.seedSale(t, "cashier-a", saleItem("prd-x", 3, 500, 1500))

	_, err := h.svc.ProcessReturn(adminCtx(), domain.ReturnRequest{
		TransactionID: tx.ID,
		Items:         []domain.ReturnLine{{ItemIndex: 0, Quantity: 2}},
	})
	assert.ErrorIs(t, err, store.ErrOverReturn)

	assert.Equal(t, 0, h.stock(t, "cashier-a", "prd-x"))
	resolved := h.intents(t, domain.IntentStatusResolved)
	require.Len(t, resolved, 1)
	assert.NotEmpty(t, resolved[0].Error)
}
