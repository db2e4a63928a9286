package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestRebindUsesDollarPlaceholders(t *testing.T) {
	got := dialect{}.Rebind(`UPDATE products SET stock = stock - ? WHERE id = ? AND stock >= ?`)
	want := `UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $3`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestErrorClassification(t *testing.T) {
	d := dialect{}
	undefined := fmt.Errorf("query: %w", &pgconn.PgError{Code: "42703", Message: `column "items_text" does not exist`})
	if !d.IsUndefinedColumn(undefined) {
		t.Fatalf("expected 42703 to be an undefined column")
	}
	if d.IsUndefinedColumn(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("unique violation is not an undefined column")
	}
	if !d.IsUnavailable(&pgconn.PgError{Code: "08006"}) {
		t.Fatalf("expected connection failure to be unavailable")
	}
	if !d.IsUnavailable(&pgconn.PgError{Code: "57P01"}) {
		t.Fatalf("expected admin shutdown to be unavailable")
	}
	if d.IsUnavailable(errors.New("boom")) {
		t.Fatalf("plain error is not unavailable")
	}
}
