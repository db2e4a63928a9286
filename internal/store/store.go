package store

import (
	"context"
	"errors"
	"fmt"

	"inventario/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrUnknownProduct     = errors.New("unknown product")
	ErrInvalidProduct     = errors.New("invalid product")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrStoreUnavailable   = errors.New("store unavailable")

	// ErrSchemaMismatch signals that a legacy-schema statement referenced
	// columns the store does not have. It never reaches callers of
	// TransactionStore.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// ItemError ties a line-item failure to the product that caused it.
type ItemError struct {
	Err     error
	Product string
	Qty     int
}

func (e *ItemError) Error() string {
	switch {
	case errors.Is(e.Err, ErrInsufficientStock):
		return fmt.Sprintf("insufficient stock for product %s", e.Product)
	case errors.Is(e.Err, ErrInvalidQuantity):
		return fmt.Sprintf("invalid quantity %d for product %s", e.Qty, e.Product)
	case errors.Is(e.Err, ErrUnknownProduct):
		return fmt.Sprintf("unknown product %s", e.Product)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Product)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

func Unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

type ProductFinder interface {
	FindProductByName(ctx context.Context, name string) (*domain.Product, error)
}

// ProductCatalog is the stock-bearing entity store. FindProductByName is a
// case-sensitive exact match; on duplicates the lowest id wins.
type ProductCatalog interface {
	ProductFinder
	ListProducts(ctx context.Context) ([]domain.Product, error)
	FindProductByID(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) (bool, error)
}

// StockWriter is the view of the catalog available inside one unit of work.
// Every method runs against the same all-or-nothing transaction.
type StockWriter interface {
	ProductFinder
	IncreaseStock(ctx context.Context, productID int64, qty int) error
	// DecreaseStockIfEnough applies the decrement only when stock >= qty, as
	// one atomic conditional update. It reports false when nothing changed.
	DecreaseStockIfEnough(ctx context.Context, productID int64, qty int) (bool, error)
}

type TransactionStore interface {
	ListTransactions(ctx context.Context, kind domain.Kind) ([]domain.Transaction, error)
	FindTransaction(ctx context.Context, kind domain.Kind, id int64) (*domain.Transaction, error)
	// SaveTransaction inserts when tx.ID is zero and updates otherwise.
	SaveTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	DeleteTransaction(ctx context.Context, kind domain.Kind, id int64) (bool, error)
	SchemaVariant(ctx context.Context) (domain.SchemaVariant, error)
}

type CounterpartyStore interface {
	CreateCounterparty(ctx context.Context, c domain.Counterparty) (*domain.Counterparty, error)
	ListCounterparties(ctx context.Context, role domain.CounterpartyRole) ([]domain.Counterparty, error)
	DeleteCounterparty(ctx context.Context, role domain.CounterpartyRole, id int64) (bool, error)
}

type Repository interface {
	ProductCatalog
	TransactionStore
	CounterpartyStore
}

func ValidateProduct(p domain.Product) error {
	if p.Name == "" || p.PurchasePrice.IsNegative() || p.SalePrice.IsNegative() || p.Stock < 0 || p.MinStock < 0 {
		return ErrInvalidProduct
	}
	return nil
}
