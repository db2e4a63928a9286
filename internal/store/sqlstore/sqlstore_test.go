package sqlstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventario/backend/internal/domain"
	"inventario/backend/internal/schema"
	"inventario/backend/internal/stock"
	"inventario/backend/internal/store"
	"inventario/backend/internal/store/sqlite"
	"inventario/backend/internal/store/sqlstore"
)

func newStore(t *testing.T, variant domain.SchemaVariant, opts ...sqlstore.Option) *sqlstore.Store {
	t.Helper()
	ctx := context.Background()
	s, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "inventario.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, schema.Apply(ctx, s.DB(), schema.DriverSQLite, variant))
	return s
}

func seedProduct(t *testing.T, s *sqlstore.Store, name string, stockQty int, purchase, sale string) *domain.Product {
	t.Helper()
	p, err := s.CreateProduct(context.Background(), domain.Product{
		Name:          name,
		Category:      "general",
		PurchasePrice: decimal.RequireFromString(purchase),
		SalePrice:     decimal.RequireFromString(sale),
		Stock:         stockQty,
		MinStock:      2,
	})
	require.NoError(t, err)
	return p
}

func stockOf(t *testing.T, s *sqlstore.Store, id int64) int {
	t.Helper()
	p, err := s.FindProductByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func countRows(t *testing.T, s *sqlstore.Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func sale(text string) domain.Transaction {
	return domain.Transaction{Kind: domain.KindSale, ItemsText: text}
}

func purchase(text string) domain.Transaction {
	return domain.Transaction{Kind: domain.KindPurchase, ItemsText: text}
}

func TestProductCatalog(t *testing.T) {
	s := newStore(t, domain.SchemaNormalized)
	ctx := context.Background()

	first := seedProduct(t, s, "Widget", 4, "1.00", "2.00")
	second := seedProduct(t, s, "Widget", 9, "1.00", "3.00")
	seedProduct(t, s, "Gadget", 1, "4.00", "6.00")

	found, err := s.FindProductByName(ctx, "Widget")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID, "duplicate names resolve to the lowest id")

	_, err = s.FindProductByName(ctx, "widget")
	require.ErrorIs(t, err, store.ErrNotFound)

	all, err := s.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"Widget", "Widget", "Gadget"}, []string{all[0].Name, all[1].Name, all[2].Name})

	second.Name = "Widget XL"
	second.SalePrice = decimal.RequireFromString("3.75")
	second.Stock = 1000
	updated, err := s.UpdateProduct(ctx, *second)
	require.NoError(t, err)
	assert.Equal(t, "Widget XL", updated.Name)
	assert.True(t, updated.SalePrice.Equal(decimal.RequireFromString("3.75")))
	assert.Equal(t, 9, updated.Stock, "update never writes stock")

	_, err = s.UpdateProduct(ctx, domain.Product{ID: 999, Name: "Ghost"})
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.CreateProduct(ctx, domain.Product{Name: "Bad", Stock: -1})
	require.ErrorIs(t, err, store.ErrInvalidProduct)

	ok, err := s.DeleteProduct(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.DeleteProduct(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSchemaVariantDetection(t *testing.T) {
	ctx := context.Background()

	legacy := newStore(t, domain.SchemaLegacy)
	v, err := legacy.SchemaVariant(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SchemaLegacy, v)

	normalized := newStore(t, domain.SchemaNormalized)
	v, err = normalized.SchemaVariant(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SchemaNormalized, v)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	s := newStore(t, domain.SchemaNormalized)
	ctx := context.Background()
	widget := seedProduct(t, s, "Widget", 5, "1.00", "2.50")

	const callers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.SaveTransaction(ctx, sale("Widget x1"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, store.ErrInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 5, rejected)
	assert.Equal(t, 0, stockOf(t, s, widget.ID))
	assert.Equal(t, 5, countRows(t, s, "sales"))
	assert.Equal(t, 5, countRows(t, s, "sale_items"))
}

func TestPurchaseIncreasesStock(t *testing.T) {
	s := newStore(t, domain.SchemaNormalized)
	ctx := context.Background()
	widget := seedProduct(t, s, "Widget", 10, "1.20", "2.00")

	saved, err := s.SaveTransaction(ctx, purchase("Widget x5"))
	require.NoError(t, err)
	assert.Equal(t, 15, stockOf(t, s, widget.ID))
	assert.NotZero(t, saved.ID)
	assert.Empty(t, saved.Status)
	assert.True(t, saved.Total.Equal(decimal.RequireFromString("6.00")), saved.Total.String())
	assert.Equal(t, "Widget x5 ($6.00)", saved.ItemsText)
}

func TestSaleDecreasesStockOnlyWhenSufficient(t *testing.T) {
	s := newStore(t, domain.SchemaNormalized)
	ctx := context.Background()
	widget := seedProduct(t, s, "Widget", 10, "1.00", "2.00")

	saved, err := s.SaveTransaction(ctx, sale("Widget x3"))
	require.NoError(t, err)
	assert.Equal(t, 7, stockOf(t, s, widget.ID))
	assert.Equal(t, domain.SaleStatusCompleted, saved.Status)

	_, err = s.SaveTransaction(ctx, sale("Widget x20"))
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "Widget")
	assert.Equal(t, 7, stockOf(t, s, widget.ID))
	assert.Equal(t, 1, countRows(t, s, "sales"))
}

func TestFailedItemRollsBackWholeTransaction(t *testing.T) {
	s := newStore(t, domain.SchemaNormalized)
	ctx := context.Background()
	widget := seedProduct(t, s, "Widget", 10, "1.00", "2.00")
	gadget := seedProduct(t, s, "Gadget", 1, "1.00", "2.00")

	_, err := s.SaveTransaction(ctx, sale("Widget x4, Gadget x2"))
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	var itemErr *store.ItemError
	require.True(t, errors.As(err, &itemErr))
	assert.Equal(t, "Gadget", itemErr.Product)

	assert.Equal(t, 10, stockOf(t, s, widget.ID))
	assert.Equal(t, 1, stockOf(t, s, gadget.ID))
	assert.Equal(t, 0, countRows(t, s, "sales"))
	assert.Equal(t, 0, countRows(t, s, "sale_items"))
}

func TestZeroQuantityRollsBack(t *testing.T) {
	s := newStore(t, domain.SchemaNormalized)
	ctx := context.Background()
	widget := seedProduct(t, s, "Widget", 10, "1.00", "2.00")
	seedProduct(t, s, "Gadget", 10, "1.00", "2.00")

	_, err := s.SaveTransaction(ctx, purchase("Widget x4, Gadget x0"))
	require.ErrorIs(t, err, store.ErrInvalidQuantity)
	assert.Equal(t, 10, stockOf(t, s, widget.ID))
	assert.Equal(t, 0, countRows(t, s, "purchases"))
}

func TestUnknownProductSkipped(t *testing.T) {
	s := newStore(t, domain.SchemaNormalized)
	ctx := context.Background()
	widget := seedProduct(t, s, "Widget", 10, "1.00", "2.00")

	saved, err := s.SaveTransaction(ctx, sale("Ghost x1, Widget x2"))
	require.NoError(t, err)
	assert.Equal(t, 8, stockOf(t, s, widget.ID))
	require.Len(t, saved.Items, 1)
	assert.Equal(t, "Widget", saved.Items[0].ProductName)
	assert.Equal(t, "Widget x2 ($4.00)", saved.ItemsText)
}

func TestUnknownProductFailsUnderStrictPolicy(t *testing.T) {
	s := newStore(t, domain.SchemaNormalized, sqlstore.WithEngine(stock.NewEngine(stock.PolicyStrict, nil)))
	ctx := context.Background()
	widget := seedProduct(t, s, "Widget", 10, "1.00", "2.00")

	_, err := s.SaveTransaction(ctx, sale("Widget x2, Ghost x1"))
	require.ErrorIs(t, err, store.ErrUnknownProduct)
	assert.Equal(t, 10, stockOf(t, s, widget.ID))
	assert.Equal(t, 0, countRows(t, s, "sales"))
}

func TestNormalizedListingRebuildsText(t *testing.T) {
	s := newStore(t, domain.SchemaNormalized)
	ctx := context.Background()
	seedProduct(t, s, "Widget", 10, "1.00", "2.50")
	seedProduct(t, s, "Gadget", 10, "3.00", "4.00")

	client, err := s.CreateCounterparty(ctx, domain.Counterparty{Role: domain.RoleClient, Name: "Ana", Document: "123"})
	require.NoError(t, err)
	assert.NotZero(t, client.ID)

	at := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	first, err := s.SaveTransaction(ctx, domain.Transaction{
		Kind:         domain.KindSale,
		OccurredAt:   at,
		Counterparty: "Ana",
		ItemsText:    "Widget x2, Gadget x1",
		Status:       domain.SaleStatusPending,
	})
	require.NoError(t, err)
	_, err = s.SaveTransaction(ctx, domain.Transaction{Kind: domain.KindSale, Counterparty: "(Sin cliente)", ItemsText: "Gadget x1"})
	require.NoError(t, err)
	_, err = s.SaveTransaction(ctx, domain.Transaction{Kind: domain.KindSale, Counterparty: "Nobody", ItemsText: "Gadget x1"})
	require.NoError(t, err)

	sales, err := s.ListTransactions(ctx, domain.KindSale)
	require.NoError(t, err)
	require.Len(t, sales, 3)
	assert.Equal(t, "Ana", sales[0].Counterparty)
	assert.Equal(t, domain.NoCounterparty, sales[1].Counterparty)
	assert.Equal(t, domain.NoCounterparty, sales[2].Counterparty)

	found, err := s.FindTransaction(ctx, domain.KindSale, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Widget x2 ($5.00), Gadget x1 ($4.00)", found.ItemsText)
	assert.True(t, found.Total.Equal(decimal.RequireFromString("9.00")), found.Total.String())
	assert.True(t, found.OccurredAt.Equal(at), found.OccurredAt.String())
	assert.Equal(t, domain.SaleStatusPending, found.Status)
	require.Len(t, found.Items, 2)
	assert.True(t, found.Items[0].UnitPrice.Equal(decimal.RequireFromString("2.50")))

	_, err = s.FindTransaction(ctx, domain.KindSale, 999)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCapturedPricesSurvivePriceChanges(t *testing.T) {
	s := newStore(t, domain.SchemaNormalized)
	ctx := context.Background()
	widget := seedProduct(t, s, "Widget", 10, "1.00", "2.00")

	saved, err := s.SaveTransaction(ctx, sale("Widget x2"))
	require.NoError(t, err)

	widget.SalePrice = decimal.RequireFromString("9.99")
	_, err = s.UpdateProduct(ctx, *widget)
	require.NoError(t, err)

	found, err := s.FindTransaction(ctx, domain.KindSale, saved.ID)
	require.NoError(t, err)
	assert.True(t, found.Total.Equal(decimal.RequireFromString("4.00")))
	assert.Equal(t, "Widget x2 ($4.00)", found.ItemsText)
}

func TestNormalizedUpdateTouchesHeaderOnly(t *testing.T) {
	s := newStore(t, domain.SchemaNormalized)
	ctx := context.Background()
	widget := seedProduct(t, s, "Widget", 10, "1.00", "2.00")

	saved, err := s.SaveTransaction(ctx, sale("Widget x2"))
	require.NoError(t, err)

	saved.Total = decimal.RequireFromString("3.50")
	saved.Status = domain.SaleStatusCancelled
	saved.ItemsText = "Widget x9"
	updated, err := s.SaveTransaction(ctx, *saved)
	require.NoError(t, err)
	assert.True(t, updated.Total.Equal(decimal.RequireFromString("3.50")))
	assert.Equal(t, domain.SaleStatusCancelled, updated.Status)
	assert.Equal(t, "Widget x2 ($4.00)", updated.ItemsText)
	assert.Equal(t, 8, stockOf(t, s, widget.ID))

	_, err = s.SaveTransaction(ctx, domain.Transaction{ID: 404, Kind: domain.KindSale})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestLegacyWritesAreVerbatim(t *testing.T) {
	s := newStore(t, domain.SchemaLegacy)
	ctx := context.Background()
	widget := seedProduct(t, s, "Widget", 10, "1.00", "2.00")

	saved, err := s.SaveTransaction(ctx, domain.Transaction{
		Kind:         domain.KindSale,
		Counterparty: "Ana",
		ItemsText:    "Widget x3 ($6.00), Ghost x1",
		Total:        decimal.RequireFromString("6.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, 10, stockOf(t, s, widget.ID), "legacy writes do not move stock")

	saved.Total = decimal.RequireFromString("7.00")
	saved.ItemsText = "Widget x3 ($7.00)"
	_, err = s.SaveTransaction(ctx, *saved)
	require.NoError(t, err)

	found, err := s.FindTransaction(ctx, domain.KindSale, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", found.Counterparty)
	assert.Equal(t, "Widget x3 ($7.00)", found.ItemsText)
	assert.True(t, found.Total.Equal(decimal.RequireFromString("7.00")))
	assert.Equal(t, domain.SaleStatusCompleted, found.Status)

	_, err = s.SaveTransaction(ctx, domain.Transaction{ID: 404, Kind: domain.KindPurchase})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestLegacyStatementFallsBackToNormalized(t *testing.T) {
	s := newStore(t, domain.SchemaNormalized, sqlstore.WithVariant(domain.SchemaLegacy))
	ctx := context.Background()
	widget := seedProduct(t, s, "Widget", 10, "1.00", "2.00")

	saved, err := s.SaveTransaction(ctx, purchase("Widget x5"))
	require.NoError(t, err)
	assert.Equal(t, 15, stockOf(t, s, widget.ID))
	assert.Equal(t, 1, countRows(t, s, "purchase_items"))

	v, err := s.SchemaVariant(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SchemaNormalized, v)

	found, err := s.FindTransaction(ctx, domain.KindPurchase, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Widget x5 ($5.00)", found.ItemsText)
}

func TestLegacyReadFallsBackToNormalized(t *testing.T) {
	s := newStore(t, domain.SchemaNormalized, sqlstore.WithVariant(domain.SchemaLegacy))
	ctx := context.Background()

	sales, err := s.ListTransactions(ctx, domain.KindSale)
	require.NoError(t, err)
	assert.Empty(t, sales)

	v, err := s.SchemaVariant(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SchemaNormalized, v)
}

func TestDeleteTransaction(t *testing.T) {
	s := newStore(t, domain.SchemaNormalized)
	ctx := context.Background()
	seedProduct(t, s, "Widget", 10, "1.00", "2.00")

	saved, err := s.SaveTransaction(ctx, sale("Widget x1"))
	require.NoError(t, err)

	ok, err := s.DeleteTransaction(ctx, domain.KindSale, saved.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, countRows(t, s, "sale_items"))

	ok, err = s.DeleteTransaction(ctx, domain.KindSale, saved.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	legacy := newStore(t, domain.SchemaLegacy)
	saved, err = legacy.SaveTransaction(ctx, purchase("Widget x1"))
	require.NoError(t, err)
	ok, err = legacy.DeleteTransaction(ctx, domain.KindPurchase, saved.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCounterparties(t *testing.T) {
	s := newStore(t, domain.SchemaNormalized)
	ctx := context.Background()

	supplier, err := s.CreateCounterparty(ctx, domain.Counterparty{Role: domain.RoleSupplier, Name: "Acme", Contact: "Luis"})
	require.NoError(t, err)
	_, err = s.CreateCounterparty(ctx, domain.Counterparty{Role: domain.RoleSupplier, Name: "  "})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	suppliers, err := s.ListCounterparties(ctx, domain.RoleSupplier)
	require.NoError(t, err)
	require.Len(t, suppliers, 1)
	assert.Equal(t, "Luis", suppliers[0].Contact)

	seedProduct(t, s, "Widget", 0, "1.00", "2.00")
	saved, err := s.SaveTransaction(ctx, domain.Transaction{Kind: domain.KindPurchase, Counterparty: "Acme", ItemsText: "Widget x2"})
	require.NoError(t, err)
	assert.Equal(t, "Acme", saved.Counterparty)

	ok, err := s.DeleteCounterparty(ctx, domain.RoleSupplier, supplier.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := s.FindTransaction(ctx, domain.KindPurchase, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NoCounterparty, found.Counterparty)

	_, err = s.ListCounterparties(ctx, domain.CounterpartyRole("vendor"))
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}
