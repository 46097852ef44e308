package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"poslot/backend/internal/allocator"
	"poslot/backend/internal/domain"
	"poslot/backend/internal/store"
)

// CreateDistribution assigns a new pending lot to a cashier.
func (s *Service) CreateDistribution(ctx context.Context, req domain.DistributionCreateRequest) (domain.DistributionLot, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.DistributionLot{}, err
	}
	req.CashierID = strings.TrimSpace(req.CashierID)
	if req.CashierID == "" {
		return domain.DistributionLot{}, store.Invalid("cashier id is required")
	}
	if len(req.Items) == 0 {
		return domain.DistributionLot{}, store.Invalid("at least one item is required")
	}

	lines := make([]allocator.ReinstateLine, 0, len(req.Items))
	for i, item := range req.Items {
		productID := domain.CanonicalProductID(item.ProductID)
		if productID == "" || item.Quantity <= 0 || item.UnitPriceCents < 0 {
			return domain.DistributionLot{}, &store.LineError{Kind: store.ErrValidation, Line: i, ItemIndex: i, Field: "quantity", Message: "product id and a positive quantity are required"}
		}
		product, err := s.productMeta(ctx, productID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.DistributionLot{}, &store.LineError{Kind: store.ErrValidation, Line: i, ItemIndex: i, Field: "product_id", Message: "unknown product " + productID}
		}
		if err != nil {
			return domain.DistributionLot{}, err
		}
		price := item.UnitPriceCents
		if price == 0 {
			price = product.PriceCents
		}
		lines = append(lines, allocator.ReinstateLine{
			ProductID:      productID,
			ProductName:    defaultString(item.ProductName, product.Name),
			SKU:            defaultString(item.SKU, product.SKU),
			Category:       defaultString(item.Category, product.Category),
			Quantity:       item.Quantity,
			UnitPriceCents: price,
		})
	}

	lot, err := s.allocator.Assign(ctx, req.CashierID, lines, allocator.AssignOptions{
		Status:  domain.LotStatusPending,
		Source:  domain.LotSourceAdmin,
		AdminID: actor.Username,
		Notes:   strings.TrimSpace(req.Notes),
	})
	if err != nil {
		return domain.DistributionLot{}, err
	}

	s.logAudit(ctx, "distribution_create", "distribution_lot", lot.ID, fmt.Sprintf("cashier=%s,items=%d,value=%d", lot.CashierID, len(lot.Items), lot.TotalValueCents))
	return *lot, nil
}

// ConfirmDistribution marks a pending lot as delivered. The receiving cashier
// or an admin may confirm.
func (s *Service) ConfirmDistribution(ctx context.Context, id string) (domain.DistributionLot, error) {
	lot, err := s.updateLot(ctx, id, func(lot *domain.DistributionLot) error {
		if _, err := requireCashierAccess(ctx, lot.CashierID); err != nil {
			return err
		}
		if lot.Status != domain.LotStatusPending {
			return store.Invalid("lot %s is %s, only pending lots can be confirmed", lot.ID, lot.Status)
		}
		lot.Status = domain.LotStatusDelivered
		return nil
	})
	if err != nil {
		return domain.DistributionLot{}, err
	}
	s.logAudit(ctx, "distribution_confirm", "distribution_lot", lot.ID, "status=delivered")
	return *lot, nil
}

// CancelDistribution withdraws a pending lot. Its line items are cleared so a
// later reinstatement into the lot cannot revive the withdrawn stock.
func (s *Service) CancelDistribution(ctx context.Context, id string, reason string) (domain.DistributionLot, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.DistributionLot{}, err
	}
	withdrawn := ""
	lot, err := s.updateLot(ctx, id, func(lot *domain.DistributionLot) error {
		if lot.Status != domain.LotStatusPending {
			return store.Invalid("lot %s is %s, only pending lots can be cancelled", lot.ID, lot.Status)
		}
		parts := make([]string, 0, len(lot.Items))
		for _, item := range lot.Items {
			parts = append(parts, fmt.Sprintf("%s:%d", item.ProductID, item.Quantity))
		}
		withdrawn = strings.Join(parts, ",")
		lot.Items = lot.Items[:0]
		lot.Recalculate()
		if reason = strings.TrimSpace(reason); reason != "" {
			lot.Notes = strings.TrimSpace(lot.Notes + "\ncancelled: " + reason)
		}
		return nil
	})
	if err != nil {
		return domain.DistributionLot{}, err
	}
	s.logAudit(ctx, "distribution_cancel", "distribution_lot", lot.ID, "withdrawn="+withdrawn)
	return *lot, nil
}

func (s *Service) GetDistribution(ctx context.Context, id string) (domain.DistributionLot, error) {
	lot, err := s.getLot(ctx, id)
	if err != nil {
		return domain.DistributionLot{}, err
	}
	if _, err := requireCashierAccess(ctx, lot.CashierID); err != nil {
		return domain.DistributionLot{}, err
	}
	return *lot, nil
}

func (s *Service) ListDistributions(ctx context.Context, filter domain.LotFilter) (domain.DistributionListResponse, error) {
	cashierID, err := cashierScope(ctx, filter.CashierID)
	if err != nil {
		return domain.DistributionListResponse{}, err
	}
	filter.CashierID = cashierID
	filter.Status = strings.ToLower(strings.TrimSpace(filter.Status))
	switch filter.Status {
	case "", domain.LotStatusPending, domain.LotStatusDelivered, domain.LotStatusCancelled:
	default:
		return domain.DistributionListResponse{}, store.Invalid("unknown lot status %q", filter.Status)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	lots, err := s.repo.ListLots(ctx, filter)
	if err != nil {
		return domain.DistributionListResponse{}, store.Persistence("list lots", err)
	}
	return domain.DistributionListResponse{Lots: lots}, nil
}

// CashierStock reports the active stock a cashier holds per product.
func (s *Service) CashierStock(ctx context.Context, cashierID string) (domain.CashierStockResponse, error) {
	cashierID = strings.TrimSpace(cashierID)
	if cashierID == "" {
		return domain.CashierStockResponse{}, store.Invalid("cashier id is required")
	}
	if _, err := requireCashierAccess(ctx, cashierID); err != nil {
		return domain.CashierStockResponse{}, err
	}
	levels, err := s.allocator.StockByProduct(ctx, cashierID)
	if err != nil {
		return domain.CashierStockResponse{}, err
	}
	return domain.CashierStockResponse{CashierID: cashierID, Stock: levels}, nil
}

func (s *Service) getLot(ctx context.Context, id string) (*domain.DistributionLot, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, store.Invalid("lot id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	lot, err := s.repo.GetLot(ctx, id)
	if err != nil {
		return nil, store.Persistence("get lot "+id, err)
	}
	return lot, nil
}

// updateLot applies mutate to a fresh copy of the lot and saves it, retrying
// from a new read when the version moved underneath.
func (s *Service) updateLot(ctx context.Context, id string, mutate func(*domain.DistributionLot) error) (*domain.DistributionLot, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		lot, err := s.getLot(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(lot); err != nil {
			return nil, err
		}

		saveCtx, cancel := s.withTimeout(ctx)
		saved, err := s.repo.SaveLot(saveCtx, *lot)
		cancel()
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, store.Persistence("save lot "+lot.ID, err)
		}
	}
	return nil, fmt.Errorf("update lot %s: %w", id, store.ErrConflict)
}
