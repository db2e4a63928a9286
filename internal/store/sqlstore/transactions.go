package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"inventario/backend/internal/domain"
	"inventario/backend/internal/lineitem"
	"inventario/backend/internal/store"
)

// kindTables names the tables and columns one transaction kind lives in.
type kindTables struct {
	kind      domain.Kind
	role      domain.CounterpartyRole
	table     string
	itemTable string
	fkCol     string
	legacyCol string
	partyCol  string
	partyRef  string
	partyName string
	hasStatus bool
}

var (
	salesTables = kindTables{
		kind:      domain.KindSale,
		role:      domain.RoleClient,
		table:     "sales",
		itemTable: "sale_items",
		fkCol:     "sale_id",
		legacyCol: "client",
		partyCol:  "client_id",
		partyRef:  "clients",
		partyName: "name",
		hasStatus: true,
	}
	purchasesTables = kindTables{
		kind:      domain.KindPurchase,
		role:      domain.RoleSupplier,
		table:     "purchases",
		itemTable: "purchase_items",
		fkCol:     "purchase_id",
		legacyCol: "supplier",
		partyCol:  "supplier_id",
		partyRef:  "suppliers",
		partyName: "company",
	}
)

func kindFor(kind domain.Kind) (kindTables, error) {
	switch kind {
	case domain.KindSale:
		return salesTables, nil
	case domain.KindPurchase:
		return purchasesTables, nil
	}
	return kindTables{}, fmt.Errorf("%w: unknown kind %q", store.ErrInvalidTransaction, kind)
}

func (k kindTables) status(alias string) string {
	if k.hasStatus {
		return alias + "status"
	}
	return "''"
}

func (s *Store) ListTransactions(ctx context.Context, kind domain.Kind) ([]domain.Transaction, error) {
	return s.readTransactions(ctx, kind, 0)
}

func (s *Store) FindTransaction(ctx context.Context, kind domain.Kind, id int64) (*domain.Transaction, error) {
	if id <= 0 {
		return nil, store.ErrNotFound
	}
	txs, err := s.readTransactions(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, store.ErrNotFound
	}
	return &txs[0], nil
}

func (s *Store) readTransactions(ctx context.Context, kind domain.Kind, id int64) ([]domain.Transaction, error) {
	tbl, err := kindFor(kind)
	if err != nil {
		return nil, err
	}
	variant, err := s.SchemaVariant(ctx)
	if err != nil {
		return nil, err
	}
	if variant == domain.SchemaLegacy {
		txs, err := s.readLegacy(ctx, tbl, id)
		if !errors.Is(err, store.ErrSchemaMismatch) {
			return txs, err
		}
		s.demote(kind, err)
	}
	return s.readNormalized(ctx, tbl, id)
}

func (s *Store) readLegacy(ctx context.Context, tbl kindTables, id int64) ([]domain.Transaction, error) {
	query := `SELECT id, occurred_at, ` + tbl.legacyCol + `, items_text, total, ` + tbl.status("") + ` FROM ` + tbl.table
	args := []any{}
	if id > 0 {
		query += ` WHERE id = ?`
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query+` ORDER BY id`), args...)
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0, 64)
	for rows.Next() {
		tx := domain.Transaction{Kind: tbl.kind}
		if err := rows.Scan(&tx.ID, timestamp{&tx.OccurredAt}, &tx.Counterparty, &tx.ItemsText, &tx.Total, &tx.Status); err != nil {
			return nil, err
		}
		if strings.TrimSpace(tx.Counterparty) == "" {
			tx.Counterparty = domain.NoCounterparty
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(err)
	}
	return txs, nil
}

func (s *Store) readNormalized(ctx context.Context, tbl kindTables, id int64) ([]domain.Transaction, error) {
	query := `
		SELECT h.id, h.occurred_at, COALESCE(c.` + tbl.partyName + `, ''), h.total, ` + tbl.status("h.") + `
		FROM ` + tbl.table + ` h
		LEFT JOIN ` + tbl.partyRef + ` c ON c.id = h.` + tbl.partyCol
	args := []any{}
	if id > 0 {
		query += ` WHERE h.id = ?`
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query+` ORDER BY h.id`), args...)
	if err != nil {
		return nil, s.classify(err)
	}
	txs := make([]domain.Transaction, 0, 64)
	index := make(map[int64]int)
	for rows.Next() {
		tx := domain.Transaction{Kind: tbl.kind}
		if err := rows.Scan(&tx.ID, timestamp{&tx.OccurredAt}, &tx.Counterparty, &tx.Total, &tx.Status); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if tx.Counterparty == "" {
			tx.Counterparty = domain.NoCounterparty
		}
		index[tx.ID] = len(txs)
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, s.classify(err)
	}
	_ = rows.Close()
	if len(txs) == 0 {
		return txs, nil
	}

	itemQuery := `
		SELECT i.` + tbl.fkCol + `, i.product_id, COALESCE(p.name, ''), i.quantity, i.unit_price
		FROM ` + tbl.itemTable + ` i
		LEFT JOIN products p ON p.id = i.product_id`
	args = args[:0]
	if id > 0 {
		itemQuery += ` WHERE i.` + tbl.fkCol + ` = ?`
		args = append(args, id)
	}
	itemRows, err := s.db.QueryContext(ctx, s.q(itemQuery+` ORDER BY i.`+tbl.fkCol+`, i.id`), args...)
	if err != nil {
		return nil, s.classify(err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var parent int64
		var item domain.LineItem
		if err := itemRows.Scan(&parent, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		if i, ok := index[parent]; ok {
			txs[i].Items = append(txs[i].Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, s.classify(err)
	}
	for i := range txs {
		txs[i].ItemsText = lineitem.FormatLineItems(txs[i].Items)
	}
	return txs, nil
}

// SaveTransaction inserts when tx.ID is zero and updates otherwise. Legacy
// statements are tried first while the store believes the legacy columns
// exist; a column mismatch switches it to the normalized path for good.
func (s *Store) SaveTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	tbl, err := kindFor(tx.Kind)
	if err != nil {
		return nil, err
	}
	if tx.ID < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if tx.OccurredAt.IsZero() {
		tx.OccurredAt = time.Now().UTC()
	}
	if !tbl.hasStatus {
		tx.Status = ""
	} else if tx.Status == "" {
		tx.Status = domain.SaleStatusCompleted
	}

	variant, err := s.SchemaVariant(ctx)
	if err != nil {
		return nil, err
	}
	if variant == domain.SchemaLegacy {
		saved, err := s.saveLegacy(ctx, tbl, tx)
		if !errors.Is(err, store.ErrSchemaMismatch) {
			return saved, err
		}
		s.demote(tx.Kind, err)
	}

	if tx.ID == 0 {
		return s.insertNormalized(ctx, tbl, tx)
	}
	return s.updateNormalizedHeader(ctx, tbl, tx)
}

// saveLegacy writes the header verbatim. No stock moves on this path.
func (s *Store) saveLegacy(ctx context.Context, tbl kindTables, tx domain.Transaction) (*domain.Transaction, error) {
	cols := []string{"occurred_at", tbl.legacyCol, "items_text", "total"}
	args := []any{tx.OccurredAt.UTC(), tx.Counterparty, tx.ItemsText, tx.Total}
	if tbl.hasStatus {
		cols = append(cols, "status")
		args = append(args, tx.Status)
	}

	if tx.ID == 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
		err := s.db.QueryRowContext(ctx, s.q(`
			INSERT INTO `+tbl.table+` (`+strings.Join(cols, ", ")+`)
			VALUES (`+placeholders+`)
			RETURNING id
		`), args...).Scan(&tx.ID)
		if err != nil {
			return nil, s.classify(err)
		}
		return &tx, nil
	}

	assignments := make([]string, len(cols))
	for i, col := range cols {
		assignments[i] = col + " = ?"
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE `+tbl.table+` SET `+strings.Join(assignments, ", ")+` WHERE id = ?`), append(args, tx.ID)...)
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
	return &tx, nil
}

// insertNormalized records the header, its line items and every stock delta
// in one unit of work. Any failure discards all of it.
func (s *Store) insertNormalized(ctx context.Context, tbl kindTables, tx domain.Transaction) (*domain.Transaction, error) {
	unit, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = unit.Rollback() }()

	partyID, err := s.resolveCounterparty(ctx, unit, tbl.role, tx.Counterparty)
	if err != nil {
		return nil, err
	}

	cols := []string{"occurred_at", tbl.partyCol, "total"}
	args := []any{tx.OccurredAt.UTC(), nullID(partyID), tx.Total}
	if tbl.hasStatus {
		cols = append(cols, "status")
		args = append(args, tx.Status)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	if err := unit.QueryRowContext(ctx, s.q(`
		INSERT INTO `+tbl.table+` (`+strings.Join(cols, ", ")+`)
		VALUES (`+placeholders+`)
		RETURNING id
	`), args...).Scan(&tx.ID); err != nil {
		return nil, fmt.Errorf("insert %s header: %w", tbl.table, s.classify(err))
	}

	result, err := s.engine.Apply(ctx, &txWriter{s: s, tx: unit}, tbl.kind.Direction(), lineitem.Parse(tx.ItemsText))
	if err != nil {
		return nil, err
	}

	for _, item := range result.Items {
		if _, err := unit.ExecContext(ctx, s.q(`
			INSERT INTO `+tbl.itemTable+` (`+tbl.fkCol+`, product_id, quantity, unit_price)
			VALUES (?, ?, ?, ?)
		`), tx.ID, item.ProductID, item.Quantity, item.UnitPrice); err != nil {
			return nil, fmt.Errorf("insert %s: %w", tbl.itemTable, s.classify(err))
		}
	}

	total := result.Total()
	if _, err := unit.ExecContext(ctx, s.q(`UPDATE `+tbl.table+` SET total = ? WHERE id = ?`), total, tx.ID); err != nil {
		return nil, s.classify(err)
	}

	if err := unit.Commit(); err != nil {
		return nil, fmt.Errorf("commit %s: %w", tbl.table, s.classify(err))
	}

	if len(result.Skipped) > 0 {
		s.log.WithFields(logrus.Fields{"kind": tbl.kind, "id": tx.ID, "skipped": result.Skipped}).Warn("recorded without unknown products")
	}

	tx.Items = result.Items
	tx.Total = total
	tx.ItemsText = lineitem.FormatLineItems(result.Items)
	if partyID == 0 {
		tx.Counterparty = domain.NoCounterparty
	} else {
		tx.Counterparty = strings.TrimSpace(tx.Counterparty)
	}
	return &tx, nil
}

// updateNormalizedHeader touches only the summary fields. Stock is not
// re-applied for edited transactions.
func (s *Store) updateNormalizedHeader(ctx context.Context, tbl kindTables, tx domain.Transaction) (*domain.Transaction, error) {
	assignments := "occurred_at = ?, total = ?"
	args := []any{tx.OccurredAt.UTC(), tx.Total}
	if tbl.hasStatus {
		assignments += ", status = ?"
		args = append(args, tx.Status)
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE `+tbl.table+` SET `+assignments+` WHERE id = ?`), append(args, tx.ID)...)
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
	return s.FindTransaction(ctx, tbl.kind, tx.ID)
}

func (s *Store) DeleteTransaction(ctx context.Context, kind domain.Kind, id int64) (bool, error) {
	tbl, err := kindFor(kind)
	if err != nil {
		return false, err
	}
	variant, err := s.SchemaVariant(ctx)
	if err != nil {
		return false, err
	}
	if variant == domain.SchemaLegacy {
		res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM `+tbl.table+` WHERE id = ?`), id)
		if err != nil {
			return false, s.classify(err)
		}
		return affected(res)
	}

	unit, err := s.begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = unit.Rollback() }()

	if _, err := unit.ExecContext(ctx, s.q(`DELETE FROM `+tbl.itemTable+` WHERE `+tbl.fkCol+` = ?`), id); err != nil {
		return false, s.classify(err)
	}
	res, err := unit.ExecContext(ctx, s.q(`DELETE FROM `+tbl.table+` WHERE id = ?`), id)
	if err != nil {
		return false, s.classify(err)
	}
	ok, err := affected(res)
	if err != nil {
		return false, err
	}
	if err := unit.Commit(); err != nil {
		return false, s.classify(err)
	}
	return ok, nil
}
