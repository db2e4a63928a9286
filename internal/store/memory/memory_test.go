package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventario/backend/internal/domain"
	"inventario/backend/internal/store"
)

func seed(t *testing.T, s *Store, name string, qty int) *domain.Product {
	t.Helper()
	p, err := s.CreateProduct(context.Background(), domain.Product{
		Name:          name,
		PurchasePrice: decimal.RequireFromString("1.00"),
		SalePrice:     decimal.RequireFromString("2.00"),
		Stock:         qty,
	})
	require.NoError(t, err)
	return p
}

func stockOf(t *testing.T, s *Store, id int64) int {
	t.Helper()
	p, err := s.FindProductByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	s := New(nil)
	widget := seed(t, s, "Widget", 5)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.SaveTransaction(context.Background(), domain.Transaction{Kind: domain.KindSale, ItemsText: "Widget x1"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, errors.Is(err, store.ErrInsufficientStock), err.Error())
	}
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 0, stockOf(t, s, widget.ID))
}

func TestFailedSaleUndoesEarlierLines(t *testing.T) {
	s := New(nil)
	widget := seed(t, s, "Widget", 10)
	gadget := seed(t, s, "Gadget", 1)

	_, err := s.SaveTransaction(context.Background(), domain.Transaction{Kind: domain.KindSale, ItemsText: "Widget x4, Gadget x2"})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 10, stockOf(t, s, widget.ID))
	assert.Equal(t, 1, stockOf(t, s, gadget.ID))

	sales, err := s.ListTransactions(context.Background(), domain.KindSale)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestPurchaseAndListing(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	widget := seed(t, s, "Widget", 10)
	_, err := s.CreateCounterparty(ctx, domain.Counterparty{Role: domain.RoleSupplier, Name: "Acme"})
	require.NoError(t, err)

	saved, err := s.SaveTransaction(ctx, domain.Transaction{Kind: domain.KindPurchase, Counterparty: "Acme", ItemsText: "Widget x5, Ghost x2"})
	require.NoError(t, err)
	assert.Equal(t, 15, stockOf(t, s, widget.ID))
	assert.Equal(t, "Acme", saved.Counterparty)
	assert.Equal(t, "Widget x5 ($5.00)", saved.ItemsText)
	assert.True(t, saved.Total.Equal(decimal.RequireFromString("5")))

	saved.Total = decimal.RequireFromString("4.50")
	updated, err := s.SaveTransaction(ctx, *saved)
	require.NoError(t, err)
	assert.True(t, updated.Total.Equal(decimal.RequireFromString("4.50")))
	assert.Equal(t, 15, stockOf(t, s, widget.ID))

	ok, err := s.DeleteTransaction(ctx, domain.KindPurchase, saved.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = s.FindTransaction(ctx, domain.KindPurchase, saved.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateProductKeepsStock(t *testing.T) {
	s := New(nil)
	widget := seed(t, s, "Widget", 10)
	widget.Stock = 99
	widget.Name = "Widget 2"

	updated, err := s.UpdateProduct(context.Background(), *widget)
	require.NoError(t, err)
	assert.Equal(t, 10, updated.Stock)
	assert.Equal(t, "Widget 2", updated.Name)
}

func TestSeededCatalog(t *testing.T) {
	s := NewSeeded(nil)
	products, err := s.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Len(t, products, 5)
	assert.Equal(t, int64(1), products[0].ID)
}
