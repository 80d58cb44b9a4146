package cart

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agoralabs/mercado-backend/pkg/db/models"
)

// SupplierGroup is the derived partition of line items by supplier. It is
// never persisted; recomputing it from the flat item list on every read
// keeps the grouping from drifting out of sync with the items themselves.
type SupplierGroup struct {
	SupplierID uuid.UUID         `json:"supplier_id"`
	Items      []models.LineItem `json:"items"`
	Subtotal   decimal.Decimal   `json:"subtotal"`
}

// GroupBySupplier partitions the items by supplier, ordered by supplier id
// for a stable presentation. A supplier whose last item was removed simply
// produces no group.
func GroupBySupplier(items []models.LineItem) []SupplierGroup {
	bySupplier := map[uuid.UUID][]models.LineItem{}
	for _, item := range items {
		bySupplier[item.SupplierID] = append(bySupplier[item.SupplierID], item)
	}

	groups := make([]SupplierGroup, 0, len(bySupplier))
	for supplierID, grouped := range bySupplier {
		subtotal := decimal.Zero
		for i := range grouped {
			subtotal = subtotal.Add(grouped[i].LineTotal())
		}
		groups = append(groups, SupplierGroup{
			SupplierID: supplierID,
			Items:      grouped,
			Subtotal:   subtotal,
		})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].SupplierID.String() < groups[j].SupplierID.String()
	})
	return groups
}

// DistinctSupplierCount returns how many suppliers the items span. Delivery
// cost scales with this count; store pickup requires it to be exactly one.
func DistinctSupplierCount(items []models.LineItem) int {
	seen := map[uuid.UUID]struct{}{}
	for _, item := range items {
		seen[item.SupplierID] = struct{}{}
	}
	return len(seen)
}
