package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"poslot/backend/internal/allocator"
	"poslot/backend/internal/domain"
	"poslot/backend/internal/store"
)

// TransferStock moves stock from one cashier to another. The sender is
// depleted oldest lot first; the receiver gets the stock merged into their
// newest active lot, or a new delivered lot when they hold none. A failed
// receiver write puts the stock back with the sender.
func (s *Service) TransferStock(ctx context.Context, req domain.TransferRequest) (domain.TransferResponse, error) {
	req.SenderCashierID = strings.TrimSpace(req.SenderCashierID)
	req.ReceiverCashierID = strings.TrimSpace(req.ReceiverCashierID)
	if req.SenderCashierID == "" || req.ReceiverCashierID == "" {
		return domain.TransferResponse{}, store.Invalid("sender and receiver cashier ids are required")
	}
	if strings.EqualFold(req.SenderCashierID, req.ReceiverCashierID) {
		return domain.TransferResponse{}, store.Invalid("sender and receiver must differ")
	}
	if len(req.Items) == 0 {
		return domain.TransferResponse{}, store.Invalid("at least one item is required")
	}
	if _, err := requireCashierAccess(ctx, req.SenderCashierID); err != nil {
		return domain.TransferResponse{}, err
	}
	if err := s.requireActiveCashier(ctx, req.ReceiverCashierID); err != nil {
		return domain.TransferResponse{}, err
	}

	items, err := mergeTransferItems(req.Items)
	if err != nil {
		return domain.TransferResponse{}, err
	}
	demands := make([]allocator.Demand, 0, len(items))
	for _, item := range items {
		demands = append(demands, allocator.Demand{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	depletions, err := s.allocator.DepleteMany(ctx, req.SenderCashierID, demands)
	if err != nil {
		return domain.TransferResponse{}, err
	}

	lines := s.receiverLines(ctx, items, depletions)
	lot, err := s.allocator.Assign(ctx, req.ReceiverCashierID, lines, allocator.AssignOptions{
		Status:          domain.LotStatusDelivered,
		Source:          domain.LotSourceTransfer,
		Notes:           defaultString(strings.TrimSpace(req.Notes), "transfer from "+req.SenderCashierID),
		MergeIntoActive: true,
	})
	if err != nil {
		s.restoreDepletions(ctx, req.SenderCashierID, depletions, "transfer receiver write failed")
		return domain.TransferResponse{}, err
	}

	units := 0
	for _, d := range depletions {
		units += d.Quantity
	}
	s.logAudit(ctx, "stock_transfer", "distribution_lot", lot.ID, fmt.Sprintf("from=%s,to=%s,units=%d", req.SenderCashierID, req.ReceiverCashierID, units))

	return domain.TransferResponse{
		SenderCashierID:   req.SenderCashierID,
		ReceiverCashierID: req.ReceiverCashierID,
		ReceiverLot:       *lot,
		Depletions:        depletions,
	}, nil
}

// requireActiveCashier checks that username is an active cashier account.
func (s *Service) requireActiveCashier(ctx context.Context, username string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return store.Persistence("list users", err)
	}
	for _, u := range users {
		if strings.EqualFold(u.Username, username) {
			if u.Role != domain.RoleCashier || !u.Active {
				return store.Invalid("receiver %s is not an active cashier", username)
			}
			return nil
		}
	}
	return store.Invalid("receiver %s is not a known cashier", username)
}

func mergeTransferItems(items []domain.DistributionItemRequest) ([]domain.DistributionItemRequest, error) {
	merged := make([]domain.DistributionItemRequest, 0, len(items))
	index := make(map[string]int, len(items))
	for i, item := range items {
		item.ProductID = domain.CanonicalProductID(item.ProductID)
		if item.ProductID == "" {
			return nil, &store.LineError{Kind: store.ErrValidation, Line: i, ItemIndex: i, Field: "product_id", Message: "product id is required"}
		}
		if item.Quantity <= 0 {
			return nil, &store.LineError{Kind: store.ErrValidation, Line: i, ItemIndex: i, Field: "quantity", Message: "quantity must be positive"}
		}
		if item.UnitPriceCents < 0 {
			return nil, &store.LineError{Kind: store.ErrValidation, Line: i, ItemIndex: i, Field: "unit_price_cents", Message: "unit price must not be negative"}
		}
		if at, ok := index[item.ProductID]; ok {
			merged[at].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

// receiverLines values transferred stock at the requested unit price, or at
// the sender's lot price when none was given. Catalog metadata fills gaps.
func (s *Service) receiverLines(ctx context.Context, items []domain.DistributionItemRequest, depletions []domain.LotDepletion) []allocator.ReinstateLine {
	requested := make(map[string]domain.DistributionItemRequest, len(items))
	for _, item := range items {
		requested[item.ProductID] = item
	}

	lines := make([]allocator.ReinstateLine, 0, len(depletions))
	for _, d := range depletions {
		line := allocator.ReinstateLine{
			ProductID:      d.ProductID,
			ProductName:    d.ProductName,
			SKU:            d.SKU,
			Category:       d.Category,
			Quantity:       d.Quantity,
			UnitPriceCents: d.UnitPriceCents,
		}
		if item, ok := requested[d.ProductID]; ok {
			if item.UnitPriceCents > 0 {
				line.UnitPriceCents = item.UnitPriceCents
			}
			line.ProductName = defaultString(line.ProductName, item.ProductName)
			line.SKU = defaultString(line.SKU, item.SKU)
			line.Category = defaultString(line.Category, item.Category)
		}
		if line.ProductName == "" || line.SKU == "" {
			product, err := s.productMeta(ctx, d.ProductID)
			switch {
			case err == nil:
				line.ProductName = defaultString(line.ProductName, product.Name)
				line.SKU = defaultString(line.SKU, product.SKU)
				line.Category = defaultString(line.Category, product.Category)
			case !errors.Is(err, store.ErrNotFound):
				s.logger.Warn("catalog lookup failed, keeping lot metadata",
					zap.String("product_id", d.ProductID),
					zap.Error(err),
				)
			}
		}
		lines = append(lines, line)
	}
	return lines
}

// restoreDepletions reinstates depleted stock as compensation. Failure
// leaves stock unaccounted for and is logged as an inconsistency.
func (s *Service) restoreDepletions(ctx context.Context, cashierID string, depletions []domain.LotDepletion, reason string) {
	for _, d := range depletions {
		_, err := s.allocator.Reinstate(ctx, cashierID, allocator.ReinstateLine{
			ProductID:      d.ProductID,
			ProductName:    d.ProductName,
			SKU:            d.SKU,
			Category:       d.Category,
			Quantity:       d.Quantity,
			UnitPriceCents: d.UnitPriceCents,
		})
		if err != nil {
			s.logger.Error("fatal inconsistency: depleted stock could not be restored",
				zap.String("cashier_id", cashierID),
				zap.String("lot_id", d.LotID),
				zap.String("product_id", d.ProductID),
				zap.Int("quantity", d.Quantity),
				zap.String("reason", reason),
				zap.Error(err),
			)
		}
	}
}
