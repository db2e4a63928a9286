// Package stock applies the stock deltas of a sale or purchase inside a
// caller-owned unit of work and derives transaction totals from the catalog.
package stock

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"inventario/backend/internal/domain"
	"inventario/backend/internal/lineitem"
	"inventario/backend/internal/store"
)

// Policy decides what happens to a line naming a product the catalog does
// not have.
type Policy int

const (
	// PolicyLenient skips the line and keeps going.
	PolicyLenient Policy = iota
	// PolicyStrict fails the whole transaction with store.ErrUnknownProduct.
	PolicyStrict
)

func (p Policy) String() string {
	if p == PolicyStrict {
		return "strict"
	}
	return "lenient"
}

type Result struct {
	Items   []domain.LineItem
	Skipped []string
}

func (r Result) Total() decimal.Decimal {
	return domain.SumLineItems(r.Items)
}

type Engine struct {
	policy Policy
	log    logrus.FieldLogger
}

func NewEngine(policy Policy, logger logrus.FieldLogger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{policy: policy, log: logger.WithField("component", "stock")}
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// Apply walks items in order and mutates stock through w. It never rolls
// anything back itself: on error the caller must discard the unit of work w
// belongs to, which undoes every delta applied by earlier items.
func (e *Engine) Apply(ctx context.Context, w store.StockWriter, dir domain.Direction, items []lineitem.Item) (Result, error) {
	result := Result{Items: make([]domain.LineItem, 0, len(items))}
	for _, item := range items {
		product, err := w.FindProductByName(ctx, item.Name)
		if errors.Is(err, store.ErrNotFound) {
			if e.policy == PolicyStrict {
				return Result{}, &store.ItemError{Err: store.ErrUnknownProduct, Product: item.Name, Qty: item.Qty}
			}
			e.log.WithFields(logrus.Fields{"product": item.Name, "qty": item.Qty}).Warn("skipping line for unknown product")
			result.Skipped = append(result.Skipped, item.Name)
			continue
		}
		if err != nil {
			return Result{}, err
		}

		if item.Qty <= 0 {
			return Result{}, &store.ItemError{Err: store.ErrInvalidQuantity, Product: item.Name, Qty: item.Qty}
		}

		switch dir {
		case domain.Inbound:
			if err := w.IncreaseStock(ctx, product.ID, item.Qty); err != nil {
				return Result{}, err
			}
		default:
			ok, err := w.DecreaseStockIfEnough(ctx, product.ID, item.Qty)
			if err != nil {
				return Result{}, err
			}
			if !ok {
				return Result{}, &store.ItemError{Err: store.ErrInsufficientStock, Product: product.Name, Qty: item.Qty}
			}
		}

		result.Items = append(result.Items, domain.LineItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Qty,
			UnitPrice:   product.UnitPrice(dir),
		})
	}
	return result, nil
}
