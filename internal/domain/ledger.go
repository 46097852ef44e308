package domain

import (
	"strings"
)

// CanonicalProductID normalises a product reference so that ids coming from
// requests, catalog rows and stored lots compare equal.
func CanonicalProductID(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func IsActiveLotStatus(status string) bool {
	return status == LotStatusPending || status == LotStatusDelivered
}

func (l *DistributionLot) IsActive() bool {
	return IsActiveLotStatus(l.Status)
}

// Recalculate refreshes line values and the lot total, drops exhausted line
// items, and applies the empty-lot and regained-stock status transitions.
func (l *DistributionLot) Recalculate() {
	kept := l.Items[:0]
	total := int64(0)
	for _, item := range l.Items {
		if item.Quantity <= 0 {
			continue
		}
		item.LineValueCents = int64(item.Quantity) * item.UnitPriceCents
		total += item.LineValueCents
		kept = append(kept, item)
	}
	l.Items = kept
	l.TotalValueCents = total

	switch {
	case len(l.Items) == 0:
		l.Status = LotStatusCancelled
	case l.Status == LotStatusCancelled:
		l.Status = LotStatusPending
	}
}

// ItemIndex returns the position of the line item for productID, or -1.
func (l *DistributionLot) ItemIndex(productID string) int {
	productID = CanonicalProductID(productID)
	for i, item := range l.Items {
		if CanonicalProductID(item.ProductID) == productID {
			return i
		}
	}
	return -1
}

func (l *DistributionLot) QuantityOf(productID string) int {
	idx := l.ItemIndex(productID)
	if idx < 0 {
		return 0
	}
	return l.Items[idx].Quantity
}

func (l DistributionLot) Clone() DistributionLot {
	dup := l
	dup.Items = make([]LineItem, len(l.Items))
	copy(dup.Items, l.Items)
	return dup
}

// CompareLotFIFO orders lots by creation time, oldest first, with the id as
// a tie breaker so depletion order is deterministic.
func CompareLotFIFO(a DistributionLot, b DistributionLot) int {
	if a.CreatedAt.Before(b.CreatedAt) {
		return -1
	}
	if a.CreatedAt.After(b.CreatedAt) {
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}

func ReturnKey(productID string, sku string) string {
	return CanonicalProductID(productID) + "|" + strings.ToUpper(strings.TrimSpace(sku))
}

// ReturnedQuantities sums returned quantity per product+sku.
func (t *TransactionRecord) ReturnedQuantities() map[string]int {
	result := make(map[string]int, len(t.ReturnedItems))
	for _, returned := range t.ReturnedItems {
		result[ReturnKey(returned.ProductID, returned.SKU)] += returned.Quantity
	}
	return result
}

// ReturnedByItem sums returned quantity and refunded cents per sale line.
func (t *TransactionRecord) ReturnedByItem() (map[int]int, map[int]int64) {
	qty := make(map[int]int, len(t.ReturnedItems))
	refunded := make(map[int]int64, len(t.ReturnedItems))
	for _, returned := range t.ReturnedItems {
		qty[returned.ItemIndex] += returned.Quantity
		refunded[returned.ItemIndex] += returned.ReturnAmountCents
	}
	return qty, refunded
}

func (t *TransactionRecord) OriginalQuantity() int {
	total := 0
	for _, item := range t.Items {
		total += item.Quantity
	}
	return total
}

func (t *TransactionRecord) ReturnedQuantity() int {
	total := 0
	for _, returned := range t.ReturnedItems {
		total += returned.Quantity
	}
	return total
}

func (t TransactionRecord) Clone() TransactionRecord {
	dup := t
	dup.Items = make([]TransactionItem, len(t.Items))
	copy(dup.Items, t.Items)
	dup.ReturnedItems = make([]ReturnedItem, len(t.ReturnedItems))
	copy(dup.ReturnedItems, t.ReturnedItems)
	return dup
}

func (r ReturnIntent) Clone() ReturnIntent {
	dup := r
	dup.Lines = make([]ReturnLine, len(r.Lines))
	copy(dup.Lines, r.Lines)
	return dup
}
