package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"poslot/backend/internal/allocator"
	"poslot/backend/internal/domain"
	"poslot/backend/internal/store"
)

var hundred = decimal.NewFromInt(100)

// RecordSale prices the items from the catalog, takes the units out of the
// cashier's lots and appends the transaction.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.TransactionRecord, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.TransactionRecord{}, ErrForbidden
	}
	req.CashierID = strings.TrimSpace(req.CashierID)
	if req.CashierID == "" && actor.Role == domain.RoleCashier {
		req.CashierID = actor.Username
	}
	if req.CashierID == "" {
		return domain.TransactionRecord{}, store.Invalid("cashier id is required")
	}
	if _, err := requireCashierAccess(ctx, req.CashierID); err != nil {
		return domain.TransactionRecord{}, err
	}
	if len(req.Items) == 0 {
		return domain.TransactionRecord{}, store.Invalid("at least one item is required")
	}
	if req.OverallDiscountCents < 0 || req.CashReceivedCents < 0 {
		return domain.TransactionRecord{}, store.Invalid("discount and cash received must not be negative")
	}

	items := make([]domain.TransactionItem, 0, len(req.Items))
	demands := make([]allocator.Demand, 0, len(req.Items))
	subtotal := int64(0)
	for i, line := range req.Items {
		productID := domain.CanonicalProductID(line.ProductID)
		if productID == "" {
			return domain.TransactionRecord{}, &store.LineError{Kind: store.ErrValidation, Line: i, ItemIndex: i, Field: "product_id", Message: "product id is required"}
		}
		if line.Quantity <= 0 {
			return domain.TransactionRecord{}, &store.LineError{Kind: store.ErrValidation, Line: i, ItemIndex: i, Field: "quantity", Message: "quantity must be positive"}
		}
		if line.DiscountPercent < 0 || line.DiscountPercent > 100 {
			return domain.TransactionRecord{}, &store.LineError{Kind: store.ErrValidation, Line: i, ItemIndex: i, Field: "discount_percent", Message: "discount must be between 0 and 100"}
		}

		product, err := s.productMeta(ctx, productID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !product.Active) {
			return domain.TransactionRecord{}, &store.LineError{Kind: store.ErrValidation, Line: i, ItemIndex: i, Field: "product_id", Message: "unknown or inactive product " + productID}
		}
		if err != nil {
			return domain.TransactionRecord{}, err
		}

		lineTotal := discountedLineTotal(product.PriceCents, line.Quantity, line.DiscountPercent)
		subtotal += lineTotal
		items = append(items, domain.TransactionItem{
			ProductID:       productID,
			Name:            product.Name,
			SKU:             product.SKU,
			Category:        product.Category,
			Quantity:        line.Quantity,
			UnitPriceCents:  product.PriceCents,
			DiscountPercent: line.DiscountPercent,
			LineTotalCents:  lineTotal,
		})
		demands = append(demands, allocator.Demand{ProductID: productID, Quantity: line.Quantity})
	}

	if req.OverallDiscountCents > subtotal {
		return domain.TransactionRecord{}, store.Invalid("overall discount %d exceeds subtotal %d", req.OverallDiscountCents, subtotal)
	}
	total := subtotal - req.OverallDiscountCents
	if req.CashReceivedCents < total {
		return domain.TransactionRecord{}, store.Invalid("cash received %d is less than total %d", req.CashReceivedCents, total)
	}

	depletions, err := s.allocator.DepleteMany(ctx, req.CashierID, demands)
	if err != nil {
		return domain.TransactionRecord{}, err
	}

	created, err := s.createTransaction(ctx, domain.TransactionRecord{
		CashierID:            req.CashierID,
		Items:                items,
		SubtotalCents:        subtotal,
		OverallDiscountCents: req.OverallDiscountCents,
		TotalAmountCents:     total,
		CashReceivedCents:    req.CashReceivedCents,
		ChangeCents:          req.CashReceivedCents - total,
		Status:               domain.TxStatusCompleted,
		ReturnedItems:        []domain.ReturnedItem{},
		CreatedAt:            s.now(),
	})
	if err != nil {
		s.restoreDepletions(ctx, req.CashierID, depletions, "sale transaction write failed")
		return domain.TransactionRecord{}, err
	}

	s.logAudit(ctx, "sale_record", "transaction", created.ID, fmt.Sprintf("cashier=%s,lines=%d,total=%d", created.CashierID, len(created.Items), created.TotalAmountCents))
	return *created, nil
}

// discountedLineTotal is price * qty less the percentage discount, rounded
// to whole cents.
func discountedLineTotal(priceCents int64, qty int, discountPercent float64) int64 {
	gross := decimal.NewFromInt(priceCents).Mul(decimal.NewFromInt(int64(qty)))
	keep := hundred.Sub(decimal.NewFromFloat(discountPercent)).Div(hundred)
	return gross.Mul(keep).Round(0).IntPart()
}

func (s *Service) createTransaction(ctx context.Context, tx domain.TransactionRecord) (*domain.TransactionRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	created, err := s.repo.CreateTransaction(ctx, tx)
	if err != nil {
		return nil, store.Persistence("create transaction", err)
	}
	return created, nil
}
