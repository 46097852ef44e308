package allocator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"poslot/backend/internal/domain"
	"poslot/backend/internal/store"
)

const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 3 * time.Second
)

// Demand asks for a quantity of one product.
type Demand struct {
	ProductID string
	Quantity  int
}

// ReinstateLine puts stock back into a cashier's lots.
type ReinstateLine struct {
	ProductID      string
	ProductName    string
	SKU            string
	Category       string
	Quantity       int
	UnitPriceCents int64
}

type AssignOptions struct {
	Status          string
	Source          string
	AdminID         string
	Notes           string
	MergeIntoActive bool
}

type Option func(*Allocator)

func WithMaxAttempts(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(a *Allocator) {
		if d > 0 {
			a.opTimeout = d
		}
	}
}

// Allocator reads and mutates the distribution lots of a cashier. Every
// mutation is version checked; a conflicting write restarts the operation
// from a fresh read.
type Allocator struct {
	lots        store.LotRepository
	logger      *zap.Logger
	maxAttempts int
	opTimeout   time.Duration
}

func New(lots store.LotRepository, logger *zap.Logger, opts ...Option) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Allocator{
		lots:        lots,
		logger:      logger.Named("allocator"),
		maxAttempts: DefaultMaxAttempts,
		opTimeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Allocator) AvailableStock(ctx context.Context, cashierID string, productID string) (int, error) {
	lots, err := a.activeLots(ctx, cashierID)
	if err != nil {
		return 0, err
	}
	total := 0
	for i := range lots {
		total += lots[i].QuantityOf(productID)
	}
	return total, nil
}

// StockByProduct sums the active stock of a cashier per product.
func (a *Allocator) StockByProduct(ctx context.Context, cashierID string) ([]domain.StockLevel, error) {
	lots, err := a.activeLots(ctx, cashierID)
	if err != nil {
		return nil, err
	}

	byID := map[string]*domain.StockLevel{}
	for _, lot := range lots {
		for _, item := range lot.Items {
			id := domain.CanonicalProductID(item.ProductID)
			level, ok := byID[id]
			if !ok {
				level = &domain.StockLevel{ProductID: id, ProductName: item.ProductName, SKU: item.SKU}
				byID[id] = level
			}
			level.Quantity += item.Quantity
		}
	}

	levels := make([]domain.StockLevel, 0, len(byID))
	for _, level := range byID {
		if level.Quantity > 0 {
			levels = append(levels, *level)
		}
	}
	slices.SortFunc(levels, func(x, y domain.StockLevel) int {
		return strings.Compare(x.ProductID, y.ProductID)
	})
	return levels, nil
}

func (a *Allocator) Deplete(ctx context.Context, cashierID string, productID string, amount int) ([]domain.LotDepletion, error) {
	return a.DepleteMany(ctx, cashierID, []Demand{{ProductID: productID, Quantity: amount}})
}

// DepleteMany removes stock oldest lot first. Availability of every product
// is checked before the first write, so an insufficient request leaves the
// lots untouched.
func (a *Allocator) DepleteMany(ctx context.Context, cashierID string, demands []Demand) ([]domain.LotDepletion, error) {
	cashierID = strings.TrimSpace(cashierID)
	if cashierID == "" {
		return nil, store.Invalid("cashier id is required")
	}
	order, remaining, err := mergeDemands(demands)
	if err != nil {
		return nil, err
	}

	var committed []domain.LotDepletion
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		lots, err := a.activeLots(ctx, cashierID)
		if err != nil {
			a.rollback(ctx, cashierID, committed, "read failed")
			return nil, err
		}

		if err := precheck(cashierID, lots, order, remaining); err != nil {
			if len(committed) > 0 {
				a.logger.Warn("stock changed between depletion attempts",
					zap.String("cashier_id", cashierID),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				a.rollback(ctx, cashierID, committed, "shortfall after partial depletion")
			}
			return nil, err
		}

		conflict := false
		for _, step := range plan(lots, order, remaining) {
			if _, err := a.saveLot(ctx, step.lot); err != nil {
				if errors.Is(err, store.ErrConflict) {
					conflict = true
					break
				}
				a.rollback(ctx, cashierID, committed, "lot save failed")
				return nil, err
			}
			for _, d := range step.depletions {
				remaining[d.ProductID] -= d.Quantity
				committed = append(committed, d)
			}
		}
		if !conflict {
			return committed, nil
		}
		a.logger.Info("lot version conflict, retrying depletion",
			zap.String("cashier_id", cashierID),
			zap.Int("attempt", attempt),
			zap.Int("committed_depletions", len(committed)),
		)
	}

	a.rollback(ctx, cashierID, committed, "conflict retries exhausted")
	return nil, fmt.Errorf("deplete stock for cashier %s after %d attempts: %w", cashierID, a.maxAttempts, store.ErrConflict)
}

// Reinstate returns stock to a cashier. The target lot is, in order: the
// oldest active lot already holding the product, the newest active lot, the
// newest lot of any status, or a new pending lot.
func (a *Allocator) Reinstate(ctx context.Context, cashierID string, line ReinstateLine) (*domain.DistributionLot, error) {
	cashierID = strings.TrimSpace(cashierID)
	line.ProductID = domain.CanonicalProductID(line.ProductID)
	if cashierID == "" || line.ProductID == "" {
		return nil, store.Invalid("cashier id and product id are required")
	}
	if line.Quantity <= 0 || line.UnitPriceCents < 0 {
		return nil, store.Invalid("reinstate quantity must be positive for product %s", line.ProductID)
	}

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		target, err := a.reinstateTarget(ctx, cashierID, line.ProductID)
		if err != nil {
			return nil, err
		}
		if target == nil {
			lot := domain.DistributionLot{
				CashierID: cashierID,
				Status:    domain.LotStatusPending,
				Source:    domain.LotSourceReinstatement,
				Items:     []domain.LineItem{lineItemFrom(line)},
			}
			lot.Recalculate()
			return a.createLot(ctx, lot)
		}

		mergeLine(target, line)
		target.Recalculate()

		saved, err := a.saveLot(ctx, *target)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		a.logger.Info("lot version conflict, retrying reinstatement",
			zap.String("cashier_id", cashierID),
			zap.String("lot_id", target.ID),
			zap.Int("attempt", attempt),
		)
	}
	return nil, fmt.Errorf("reinstate %s for cashier %s after %d attempts: %w", line.ProductID, cashierID, a.maxAttempts, store.ErrConflict)
}

// Assign places stock with a cashier, either as a new lot or merged into
// the newest active lot when opts.MergeIntoActive is set.
func (a *Allocator) Assign(ctx context.Context, cashierID string, lines []ReinstateLine, opts AssignOptions) (*domain.DistributionLot, error) {
	cashierID = strings.TrimSpace(cashierID)
	if cashierID == "" {
		return nil, store.Invalid("cashier id is required")
	}
	if len(lines) == 0 {
		return nil, store.Invalid("at least one item is required")
	}
	for i := range lines {
		lines[i].ProductID = domain.CanonicalProductID(lines[i].ProductID)
		if lines[i].ProductID == "" || lines[i].Quantity <= 0 || lines[i].UnitPriceCents < 0 {
			return nil, &store.LineError{Kind: store.ErrValidation, Line: i, ItemIndex: i, Field: "quantity", Message: "product id and a positive quantity are required"}
		}
	}
	if opts.Status == "" {
		opts.Status = domain.LotStatusPending
	}
	if opts.Source == "" {
		opts.Source = domain.LotSourceAdmin
	}

	if opts.MergeIntoActive {
		for attempt := 1; attempt <= a.maxAttempts; attempt++ {
			lots, err := a.activeLots(ctx, cashierID)
			if err != nil {
				return nil, err
			}
			if len(lots) == 0 {
				break
			}
			target := lots[len(lots)-1]
			for _, line := range lines {
				mergeLine(&target, line)
			}
			target.Recalculate()
			saved, err := a.saveLot(ctx, target)
			if err == nil {
				return saved, nil
			}
			if !errors.Is(err, store.ErrConflict) {
				return nil, err
			}
			if attempt == a.maxAttempts {
				return nil, fmt.Errorf("merge stock into lot %s: %w", target.ID, store.ErrConflict)
			}
		}
	}

	lot := domain.DistributionLot{
		CashierID: cashierID,
		AdminID:   opts.AdminID,
		Status:    opts.Status,
		Source:    opts.Source,
		Notes:     opts.Notes,
	}
	for _, line := range lines {
		mergeLine(&lot, line)
	}
	lot.Recalculate()
	return a.createLot(ctx, lot)
}

func (a *Allocator) reinstateTarget(ctx context.Context, cashierID string, productID string) (*domain.DistributionLot, error) {
	lots, err := a.activeLots(ctx, cashierID)
	if err != nil {
		return nil, err
	}
	for i := range lots {
		if lots[i].ItemIndex(productID) >= 0 {
			return &lots[i], nil
		}
	}
	if len(lots) > 0 {
		return &lots[len(lots)-1], nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()
	latest, err := a.lots.FindLatestLot(ctx, cashierID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Persistence("find latest lot", err)
	}
	return latest, nil
}

// rollback puts back depletions that were committed before the operation
// failed. A failure here leaves the ledger short and is logged as such.
func (a *Allocator) rollback(ctx context.Context, cashierID string, committed []domain.LotDepletion, reason string) {
	for _, d := range committed {
		_, err := a.Reinstate(ctx, cashierID, ReinstateLine{
			ProductID:      d.ProductID,
			ProductName:    d.ProductName,
			SKU:            d.SKU,
			Category:       d.Category,
			Quantity:       d.Quantity,
			UnitPriceCents: d.UnitPriceCents,
		})
		if err != nil {
			a.logger.Error("fatal inconsistency: partial depletion could not be rolled back",
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

func (a *Allocator) activeLots(ctx context.Context, cashierID string) ([]domain.DistributionLot, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	lots, err := a.lots.FindActiveLots(ctx, strings.TrimSpace(cashierID))
	if err != nil {
		return nil, store.Persistence("find active lots", err)
	}
	slices.SortFunc(lots, domain.CompareLotFIFO)
	return lots, nil
}

func (a *Allocator) saveLot(ctx context.Context, lot domain.DistributionLot) (*domain.DistributionLot, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	saved, err := a.lots.SaveLot(ctx, lot)
	if err != nil {
		return nil, store.Persistence("save lot "+lot.ID, err)
	}
	return saved, nil
}

func (a *Allocator) createLot(ctx context.Context, lot domain.DistributionLot) (*domain.DistributionLot, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	created, err := a.lots.CreateLot(ctx, lot)
	if err != nil {
		return nil, store.Persistence("create lot", err)
	}
	return created, nil
}

type depletionStep struct {
	lot        domain.DistributionLot
	depletions []domain.LotDepletion
}

func mergeDemands(demands []Demand) ([]string, map[string]int, error) {
	if len(demands) == 0 {
		return nil, nil, store.Invalid("at least one item is required")
	}
	order := make([]string, 0, len(demands))
	remaining := make(map[string]int, len(demands))
	for i, d := range demands {
		id := domain.CanonicalProductID(d.ProductID)
		if id == "" {
			return nil, nil, &store.LineError{Kind: store.ErrValidation, Line: i, ItemIndex: i, Field: "product_id", Message: "product id is required"}
		}
		if d.Quantity <= 0 {
			return nil, nil, &store.LineError{Kind: store.ErrValidation, Line: i, ItemIndex: i, Field: "quantity", Message: "quantity must be positive"}
		}
		if _, seen := remaining[id]; !seen {
			order = append(order, id)
		}
		remaining[id] += d.Quantity
	}
	return order, remaining, nil
}

func precheck(cashierID string, lots []domain.DistributionLot, order []string, remaining map[string]int) error {
	for _, id := range order {
		want := remaining[id]
		if want <= 0 {
			continue
		}
		available := 0
		for i := range lots {
			available += lots[i].QuantityOf(id)
		}
		if available < want {
			return &store.InsufficientStockError{CashierID: cashierID, ProductID: id, Requested: want, Available: available}
		}
	}
	return nil
}

// plan walks the lots oldest first and returns the mutated lots in the order
// they must be written.
func plan(lots []domain.DistributionLot, order []string, remaining map[string]int) []depletionStep {
	left := make(map[string]int, len(remaining))
	for id, qty := range remaining {
		left[id] = qty
	}

	steps := make([]depletionStep, 0, len(lots))
	for _, source := range lots {
		lot := source.Clone()
		var taken []domain.LotDepletion
		for _, id := range order {
			if left[id] <= 0 {
				continue
			}
			idx := lot.ItemIndex(id)
			if idx < 0 || lot.Items[idx].Quantity <= 0 {
				continue
			}
			item := &lot.Items[idx]
			qty := min(item.Quantity, left[id])
			item.Quantity -= qty
			left[id] -= qty
			taken = append(taken, domain.LotDepletion{
				LotID:          lot.ID,
				ProductID:      id,
				ProductName:    item.ProductName,
				SKU:            item.SKU,
				Category:       item.Category,
				Quantity:       qty,
				UnitPriceCents: item.UnitPriceCents,
			})
		}
		if len(taken) == 0 {
			continue
		}
		lot.Recalculate()
		steps = append(steps, depletionStep{lot: lot, depletions: taken})
	}
	return steps
}

func lineItemFrom(line ReinstateLine) domain.LineItem {
	return domain.LineItem{
		ProductID:      domain.CanonicalProductID(line.ProductID),
		ProductName:    line.ProductName,
		SKU:            line.SKU,
		Category:       line.Category,
		Quantity:       line.Quantity,
		UnitPriceCents: line.UnitPriceCents,
	}
}

// mergeLine adds the line to lot, merging into an existing line item for the
// same product at the quantity weighted unit price.
func mergeLine(lot *domain.DistributionLot, line ReinstateLine) {
	idx := lot.ItemIndex(line.ProductID)
	if idx < 0 {
		lot.Items = append(lot.Items, lineItemFrom(line))
		return
	}
	item := &lot.Items[idx]
	item.UnitPriceCents = weightedPriceCents(item.UnitPriceCents, item.Quantity, line.UnitPriceCents, line.Quantity)
	item.Quantity += line.Quantity
	if item.ProductName == "" {
		item.ProductName = line.ProductName
	}
	if item.SKU == "" {
		item.SKU = line.SKU
	}
	if item.Category == "" {
		item.Category = line.Category
	}
}

func weightedPriceCents(oldPrice int64, oldQty int, incomingPrice int64, incomingQty int) int64 {
	if incomingQty <= 0 || oldPrice == incomingPrice {
		return oldPrice
	}
	if oldQty <= 0 {
		return incomingPrice
	}
	totalValue := decimal.NewFromInt(oldPrice).Mul(decimal.NewFromInt(int64(oldQty))).
		Add(decimal.NewFromInt(incomingPrice).Mul(decimal.NewFromInt(int64(incomingQty))))
	return totalValue.Div(decimal.NewFromInt(int64(oldQty + incomingQty))).Round(0).IntPart()
}
