package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"poslot/backend/internal/allocator"
	"poslot/backend/internal/domain"
	"poslot/backend/internal/store"
)

type returnPlan struct {
	returned []domain.ReturnedItem
	restock  []allocator.ReinstateLine
	total    int64
}

// ProcessReturn records a partial or full return against a completed
// transaction and puts the returned units back into the cashier's lots.
//
// Every line is validated before anything is written. A pending return
// intent is stored before stock moves and completed once the transaction is
// saved, so a crash between the two leaves a record for operators.
func (s *Service) ProcessReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	if req.TransactionID == "" {
		return domain.ReturnResponse{}, store.Invalid("transaction id is required")
	}
	if len(req.Items) == 0 {
		return domain.ReturnResponse{}, store.Invalid("at least one return line is required")
	}

	var (
		intent  *domain.ReturnIntent
		restock []allocator.ReinstateLine
	)
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		tx, err := s.findTransaction(ctx, req.TransactionID)
		if err != nil {
			if intent != nil {
				s.abandonReturn(ctx, intent, restock, err)
			}
			return domain.ReturnResponse{}, err
		}
		if intent == nil {
			if _, err := requireCashierAccess(ctx, tx.CashierID); err != nil {
				return domain.ReturnResponse{}, err
			}
		}

		plan, err := planReturn(*tx, req.Items, s.now())
		if err != nil {
			if intent != nil {
				s.abandonReturn(ctx, intent, restock, err)
			}
			return domain.ReturnResponse{}, err
		}

		if intent == nil {
			intent, err = s.openReturnIntent(ctx, *tx, req.Items, plan.total)
			if err != nil {
				return domain.ReturnResponse{}, err
			}
			if err := s.reinstateReturn(ctx, tx.CashierID, plan.restock); err != nil {
				s.flagIntent(ctx, intent, err)
				s.logger.Error("fatal inconsistency: return stock partially reinstated",
					zap.String("intent_id", intent.ID),
					zap.String("transaction_id", tx.ID),
					zap.String("cashier_id", tx.CashierID),
					zap.Error(err),
				)
				return domain.ReturnResponse{}, err
			}
			restock = plan.restock
		}

		updated := applyReturn(*tx, plan)
		saved, err := s.saveTransaction(ctx, updated)
		if err == nil {
			s.completeIntent(ctx, intent)
			s.logAudit(ctx, "return_process", "transaction", saved.ID, fmt.Sprintf("lines=%d,refund=%d,status=%s", len(plan.returned), plan.total, saved.Status))
			return domain.ReturnResponse{Transaction: *saved, ReturnAmountCents: plan.total}, nil
		}
		if errors.Is(err, store.ErrConflict) && attempt < s.maxAttempts {
			s.logger.Info("transaction version conflict, revalidating return",
				zap.String("transaction_id", tx.ID),
				zap.Int("attempt", attempt),
			)
			continue
		}

		s.flagIntent(ctx, intent, err)
		s.logger.Error("fatal inconsistency: stock reinstated but transaction not updated",
			zap.String("intent_id", intent.ID),
			zap.String("transaction_id", tx.ID),
			zap.String("cashier_id", tx.CashierID),
			zap.Int64("return_amount_cents", plan.total),
			zap.Error(err),
		)
		return domain.ReturnResponse{}, fmt.Errorf("%w: record return on transaction %s: %w", store.ErrPersistence, tx.ID, err)
	}
	return domain.ReturnResponse{}, fmt.Errorf("record return on transaction %s: %w", req.TransactionID, store.ErrConflict)
}

// planReturn validates the request against tx and computes what to append.
// Earlier lines of the same request count towards the returnable quantity.
func planReturn(tx domain.TransactionRecord, lines []domain.ReturnLine, at time.Time) (returnPlan, error) {
	if tx.Status == domain.TxStatusCancelled {
		return returnPlan{}, store.Invalid("transaction %s is cancelled", tx.ID)
	}

	originalQty := make(map[string]int, len(tx.Items))
	for _, item := range tx.Items {
		originalQty[domain.ReturnKey(item.ProductID, item.SKU)] += item.Quantity
	}
	returnedQty := tx.ReturnedQuantities()
	itemReturned, itemRefunded := tx.ReturnedByItem()

	plan := returnPlan{
		returned: make([]domain.ReturnedItem, 0, len(lines)),
		restock:  make([]allocator.ReinstateLine, 0, len(lines)),
	}
	for i, line := range lines {
		if line.ItemIndex < 0 || line.ItemIndex >= len(tx.Items) {
			return returnPlan{}, &store.LineError{
				Kind:      store.ErrInvalidIndex,
				Line:      i,
				ItemIndex: line.ItemIndex,
				Field:     "item_index",
				Message:   fmt.Sprintf("transaction has %d items", len(tx.Items)),
			}
		}
		if line.Quantity <= 0 {
			return returnPlan{}, &store.LineError{
				Kind:      store.ErrValidation,
				Line:      i,
				ItemIndex: line.ItemIndex,
				Field:     "quantity",
				Message:   "quantity must be positive",
			}
		}

		item := tx.Items[line.ItemIndex]
		key := domain.ReturnKey(item.ProductID, item.SKU)
		returnable := min(item.Quantity-itemReturned[line.ItemIndex], originalQty[key]-returnedQty[key])
		if line.Quantity > returnable {
			return returnPlan{}, &store.LineError{
				Kind:      store.ErrOverReturn,
				Line:      i,
				ItemIndex: line.ItemIndex,
				Field:     "quantity",
				Message:   fmt.Sprintf("requested %d, returnable %d", line.Quantity, max(returnable, 0)),
			}
		}

		// The line that completes an item takes whatever is left of its total.
		amount := proportionalRefund(item.LineTotalCents, item.Quantity, line.Quantity)
		if itemReturned[line.ItemIndex]+line.Quantity == item.Quantity {
			amount = item.LineTotalCents - itemRefunded[line.ItemIndex]
		}
		amount = maxInt64(amount, 0)

		returnedQty[key] += line.Quantity
		itemReturned[line.ItemIndex] += line.Quantity
		itemRefunded[line.ItemIndex] += amount
		plan.total += amount
		plan.returned = append(plan.returned, domain.ReturnedItem{
			ItemIndex:         line.ItemIndex,
			ProductID:         domain.CanonicalProductID(item.ProductID),
			Name:              item.Name,
			SKU:               item.SKU,
			Category:          item.Category,
			UnitPriceCents:    item.UnitPriceCents,
			DiscountPercent:   item.DiscountPercent,
			LineTotalCents:    item.LineTotalCents,
			Quantity:          line.Quantity,
			ReturnAmountCents: amount,
			Reason:            strings.TrimSpace(line.Description),
			ReturnedAt:        at,
		})
		plan.restock = append(plan.restock, allocator.ReinstateLine{
			ProductID:      item.ProductID,
			ProductName:    item.Name,
			SKU:            item.SKU,
			Category:       item.Category,
			Quantity:       line.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	return plan, nil
}

// proportionalRefund is lineTotal / quantity * returned, rounded half away
// from zero to whole cents.
func proportionalRefund(lineTotalCents int64, quantity int, returned int) int64 {
	if quantity <= 0 || lineTotalCents <= 0 {
		return 0
	}
	return decimal.NewFromInt(lineTotalCents).
		Mul(decimal.NewFromInt(int64(returned))).
		Div(decimal.NewFromInt(int64(quantity))).
		Round(0).
		IntPart()
}

func applyReturn(tx domain.TransactionRecord, plan returnPlan) domain.TransactionRecord {
	updated := tx.Clone()
	updated.ReturnedItems = append(updated.ReturnedItems, plan.returned...)
	updated.SubtotalCents = maxInt64(updated.SubtotalCents-plan.total, 0)
	updated.TotalAmountCents = maxInt64(updated.TotalAmountCents-plan.total, 0)
	if updated.ReturnedQuantity() >= updated.OriginalQuantity() {
		updated.Status = domain.TxStatusRefunded
	}
	return updated
}

func (s *Service) reinstateReturn(ctx context.Context, cashierID string, lines []allocator.ReinstateLine) error {
	for _, line := range lines {
		if _, err := s.allocator.Reinstate(ctx, cashierID, line); err != nil {
			return err
		}
	}
	return nil
}

// abandonReturn undoes reinstated stock when a revalidated return is no
// longer acceptable.
func (s *Service) abandonReturn(ctx context.Context, intent *domain.ReturnIntent, restock []allocator.ReinstateLine, cause error) {
	demands := make([]allocator.Demand, 0, len(restock))
	for _, line := range restock {
		demands = append(demands, allocator.Demand{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	if _, err := s.allocator.DepleteMany(ctx, intent.CashierID, demands); err != nil {
		s.flagIntent(ctx, intent, fmt.Errorf("%w; reversing reinstated stock: %w", cause, err))
		s.logger.Error("fatal inconsistency: reinstated return stock could not be reversed",
			zap.String("intent_id", intent.ID),
			zap.String("transaction_id", intent.TransactionID),
			zap.String("cashier_id", intent.CashierID),
			zap.Error(err),
		)
		return
	}

	intent.Status = domain.IntentStatusResolved
	intent.Error = cause.Error()
	intent.ResolutionNote = "return rejected on revalidation; reinstated stock reversed"
	s.updateIntent(ctx, intent)
}

func (s *Service) openReturnIntent(ctx context.Context, tx domain.TransactionRecord, lines []domain.ReturnLine, total int64) (*domain.ReturnIntent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	intent, err := s.repo.CreateReturnIntent(ctx, domain.ReturnIntent{
		TransactionID:          tx.ID,
		CashierID:              tx.CashierID,
		Lines:                  lines,
		TotalReturnAmountCents: total,
		Status:                 domain.IntentStatusPending,
	})
	if err != nil {
		return nil, store.Persistence("create return intent", err)
	}
	return intent, nil
}

func (s *Service) completeIntent(ctx context.Context, intent *domain.ReturnIntent) {
	intent.Status = domain.IntentStatusCompleted
	intent.Error = ""
	s.updateIntent(ctx, intent)
}

func (s *Service) flagIntent(ctx context.Context, intent *domain.ReturnIntent, cause error) {
	intent.Status = domain.IntentStatusNeedsReconciliation
	intent.Error = cause.Error()
	s.updateIntent(ctx, intent)
}

func (s *Service) updateIntent(ctx context.Context, intent *domain.ReturnIntent) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.repo.UpdateReturnIntent(ctx, *intent); err != nil {
		s.logger.Error("failed to update return intent",
			zap.String("intent_id", intent.ID),
			zap.String("status", intent.Status),
			zap.Error(err),
		)
	}
}
