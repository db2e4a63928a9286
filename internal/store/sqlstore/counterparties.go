package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"inventario/backend/internal/domain"
	"inventario/backend/internal/store"
)

type roleTable struct {
	table    string
	nameCol  string
	extraCol string
}

func roleFor(role domain.CounterpartyRole) (roleTable, error) {
	switch role {
	case domain.RoleClient:
		return roleTable{table: "clients", nameCol: "name", extraCol: "document"}, nil
	case domain.RoleSupplier:
		return roleTable{table: "suppliers", nameCol: "company", extraCol: "contact"}, nil
	}
	return roleTable{}, fmt.Errorf("%w: unknown counterparty role %q", store.ErrInvalidTransaction, role)
}

func (s *Store) CreateCounterparty(ctx context.Context, c domain.Counterparty) (*domain.Counterparty, error) {
	tbl, err := roleFor(c.Role)
	if err != nil {
		return nil, err
	}
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	extra := c.Document
	if c.Role == domain.RoleSupplier {
		extra = c.Contact
	}
	err = s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO `+tbl.table+` (`+tbl.nameCol+`, `+tbl.extraCol+`, phone, email, address)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), c.Name, extra, c.Phone, c.Email, c.Address).Scan(&c.ID)
	if err != nil {
		return nil, s.classify(err)
	}
	return &c, nil
}

func (s *Store) ListCounterparties(ctx context.Context, role domain.CounterpartyRole) ([]domain.Counterparty, error) {
	tbl, err := roleFor(role)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, `+tbl.nameCol+`, `+tbl.extraCol+`, phone, email, address
		FROM `+tbl.table+`
		ORDER BY id
	`)
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()

	out := make([]domain.Counterparty, 0, 32)
	for rows.Next() {
		c := domain.Counterparty{Role: role}
		var extra string
		if err := rows.Scan(&c.ID, &c.Name, &extra, &c.Phone, &c.Email, &c.Address); err != nil {
			return nil, err
		}
		if role == domain.RoleSupplier {
			c.Contact = extra
		} else {
			c.Document = extra
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(err)
	}
	return out, nil
}

func (s *Store) DeleteCounterparty(ctx context.Context, role domain.CounterpartyRole, id int64) (bool, error) {
	tbl, err := roleFor(role)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM `+tbl.table+` WHERE id = ?`), id)
	if err != nil {
		return false, s.classify(err)
	}
	return affected(res)
}

// resolveCounterparty returns the id of the first counterparty carrying name,
// or zero when name is a placeholder or matches nobody.
func (s *Store) resolveCounterparty(ctx context.Context, q queryer, role domain.CounterpartyRole, name string) (int64, error) {
	if domain.IsPlaceholderCounterparty(name) {
		return 0, nil
	}
	tbl, err := roleFor(role)
	if err != nil {
		return 0, err
	}
	var id int64
	err = q.QueryRowContext(ctx, s.q(`
		SELECT id FROM `+tbl.table+`
		WHERE `+tbl.nameCol+` = ?
		ORDER BY id
		LIMIT 1
	`), strings.TrimSpace(name)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, s.classify(err)
	}
	return id, nil
}
