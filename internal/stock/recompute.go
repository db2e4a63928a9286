package stock

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"inventario/backend/internal/domain"
	"inventario/backend/internal/lineitem"
	"inventario/backend/internal/store"
)

// RecomputeTotal derives a total for text from current catalog prices. A
// line whose product no longer resolves falls back to the line total in its
// parenthetical. ok is false when text has no lines or a line can be priced
// neither way; the stored total should then stand.
func RecomputeTotal(ctx context.Context, finder store.ProductFinder, text string, dir domain.Direction) (decimal.Decimal, bool, error) {
	entries := lineitem.ParseEntries(text)
	if len(entries) == 0 {
		return decimal.Zero, false, nil
	}

	sum := decimal.Zero
	for _, entry := range entries {
		product, err := finder.FindProductByName(ctx, entry.Name)
		if errors.Is(err, store.ErrNotFound) {
			if entry.Amount == nil {
				return decimal.Zero, false, nil
			}
			sum = sum.Add(*entry.Amount)
			continue
		}
		if err != nil {
			return decimal.Zero, false, err
		}
		sum = sum.Add(product.UnitPrice(dir).Mul(decimal.NewFromInt(int64(entry.Qty))))
	}
	return sum, true, nil
}
