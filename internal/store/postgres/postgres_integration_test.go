package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"inventario/backend/internal/domain"
	"inventario/backend/internal/lineitem"
	"inventario/backend/internal/schema"
	"inventario/backend/internal/store"
	"inventario/backend/internal/store/sqlstore"
)

// openIsolated creates a throwaway schema for one test and returns a store
// whose connections resolve tables inside it.
func openIsolated(t *testing.T, variant domain.SchemaVariant) *sqlstore.Store {
	t.Helper()
	databaseURL := os.Getenv("INVENTARIO_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set INVENTARIO_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	admin, err := sql.Open("pgx", databaseURL)
	if err != nil {
		t.Fatalf("open admin: %v", err)
	}
	name := fmt.Sprintf("inv_it_%d", time.Now().UnixNano())
	if _, err := admin.ExecContext(ctx, `CREATE SCHEMA `+name); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = admin.ExecContext(context.Background(), `DROP SCHEMA `+name+` CASCADE`)
		_ = admin.Close()
	})

	u, err := url.Parse(databaseURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()
	q.Set("search_path", name)
	u.RawQuery = q.Encode()

	s, err := New(ctx, u.String())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := schema.Apply(ctx, s.DB(), schema.DriverPostgres, variant); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return s
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	s := openIsolated(t, domain.SchemaNormalized)
	ctx := context.Background()

	product, err := s.CreateProduct(ctx, domain.Product{
		Name:          "Widget",
		PurchasePrice: decimal.RequireFromString("1.00"),
		SalePrice:     decimal.RequireFromString("2.50"),
		Stock:         5,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.SaveTransaction(ctx, domain.Transaction{
				Kind:      domain.KindSale,
				ItemsText: lineitem.FormatItems([]lineitem.Item{{Name: "Widget", Qty: 1}}),
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientStock):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 5 {
		t.Fatalf("expected 5 successful sales, got %d", succeeded)
	}

	after, err := s.FindProductByID(ctx, product.ID)
	if err != nil {
		t.Fatalf("find product: %v", err)
	}
	if after.Stock != 0 {
		t.Fatalf("expected final stock 0, got %d", after.Stock)
	}

	sales, err := s.ListTransactions(ctx, domain.KindSale)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 5 {
		t.Fatalf("expected 5 persisted sales, got %d", len(sales))
	}
}

func TestLegacySchemaDetected(t *testing.T) {
	s := openIsolated(t, domain.SchemaLegacy)
	ctx := context.Background()

	variant, err := s.SchemaVariant(ctx)
	if err != nil {
		t.Fatalf("schema variant: %v", err)
	}
	if variant != domain.SchemaLegacy {
		t.Fatalf("expected legacy variant, got %q", variant)
	}

	saved, err := s.SaveTransaction(ctx, domain.Transaction{
		Kind:         domain.KindPurchase,
		Counterparty: "Acme",
		ItemsText:    "Widget x3 ($3.00)",
		Total:        decimal.RequireFromString("3.00"),
	})
	if err != nil {
		t.Fatalf("save purchase: %v", err)
	}
	found, err := s.FindTransaction(ctx, domain.KindPurchase, saved.ID)
	if err != nil {
		t.Fatalf("find purchase: %v", err)
	}
	if found.ItemsText != "Widget x3 ($3.00)" || !found.Total.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("unexpected purchase %+v", found)
	}
}
