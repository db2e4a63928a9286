package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"inventario/backend/internal/domain"
	"inventario/backend/internal/store"
)

const productColumns = `id, name, category, purchase_price, sale_price, stock, min_stock`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &p.PurchasePrice, &p.SalePrice, &p.Stock, &p.MinStock); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(err)
	}
	return products, nil
}

func (s *Store) FindProductByName(ctx context.Context, name string) (*domain.Product, error) {
	return s.findProductByName(ctx, s.db, name)
}

func (s *Store) findProductByName(ctx context.Context, q queryer, name string) (*domain.Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, s.q(`
		SELECT `+productColumns+`
		FROM products
		WHERE name = ?
		ORDER BY id
		LIMIT 1
	`), name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, s.classify(err)
	}
	return p, nil
}

func (s *Store) FindProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, s.q(`SELECT `+productColumns+` FROM products WHERE id = ?`), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, s.classify(err)
	}
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO products (name, category, purchase_price, sale_price, stock, min_stock)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`), product.Name, product.Category, product.PurchasePrice, product.SalePrice, product.Stock, product.MinStock).Scan(&product.ID)
	if err != nil {
		return nil, s.classify(err)
	}
	return &product, nil
}

// UpdateProduct rewrites the descriptive fields. Stock is left alone: it
// only moves through the stock primitives.
func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE products
		SET name = ?, category = ?, purchase_price = ?, sale_price = ?, min_stock = ?
		WHERE id = ?
	`), product.Name, product.Category, product.PurchasePrice, product.SalePrice, product.MinStock, product.ID)
	if err != nil {
		return nil, s.classify(err)
	}
	ok, err := affected(res)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.FindProductByID(ctx, product.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM products WHERE id = ?`), id)
	if err != nil {
		return false, s.classify(err)
	}
	return affected(res)
}

// txWriter exposes the catalog inside one database transaction.
type txWriter struct {
	s  *Store
	tx *sql.Tx
}

func (w *txWriter) FindProductByName(ctx context.Context, name string) (*domain.Product, error) {
	return w.s.findProductByName(ctx, w.tx, name)
}

func (w *txWriter) IncreaseStock(ctx context.Context, productID int64, qty int) error {
	res, err := w.tx.ExecContext(ctx, w.s.q(`UPDATE products SET stock = stock + ? WHERE id = ?`), qty, productID)
	if err != nil {
		return w.s.classify(err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

func (w *txWriter) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int) (bool, error) {
	res, err := w.tx.ExecContext(ctx, w.s.q(`
		UPDATE products
		SET stock = stock - ?
		WHERE id = ? AND stock >= ?
	`), qty, productID, qty)
	if err != nil {
		return false, w.s.classify(err)
	}
	return affected(res)
}
