package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"inventario/backend/internal/domain"
	"inventario/backend/internal/lineitem"
	"inventario/backend/internal/stock"
	"inventario/backend/internal/store"
)

var ErrForbidden = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return ErrForbidden
	}
	return nil
}

type Service struct {
	repo store.Repository
	log  logrus.FieldLogger
}

func New(repo store.Repository, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		repo: repo,
		log:  logger.WithField("component", "service"),
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	p, err := s.repo.FindProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (s *Service) FindProductByName(ctx context.Context, name string) (domain.Product, error) {
	p, err := s.repo.FindProductByName(ctx, name)
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (s *Service) CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	product.ID = 0
	product.Name = strings.TrimSpace(product.Name)
	product.Category = strings.TrimSpace(product.Category)
	if strings.Contains(product.Name, ", ") {
		return domain.Product{}, store.ErrInvalidProduct
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.log.WithFields(logrus.Fields{"product_id": created.ID, "name": created.Name, "stock": created.Stock}).Info("product created")
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	existing, err := s.repo.FindProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	next := *existing
	if req.Name != nil {
		next.Name = strings.TrimSpace(*req.Name)
		if strings.Contains(next.Name, ", ") {
			return domain.Product{}, store.ErrInvalidProduct
		}
	}
	if req.Category != nil {
		next.Category = strings.TrimSpace(*req.Category)
	}
	if req.PurchasePrice != nil {
		next.PurchasePrice = *req.PurchasePrice
	}
	if req.SalePrice != nil {
		next.SalePrice = *req.SalePrice
	}
	if req.MinStock != nil {
		next.MinStock = *req.MinStock
	}

	saved, err := s.repo.UpdateProduct(ctx, next)
	if err != nil {
		return domain.Product{}, err
	}
	if !saved.SalePrice.Equal(existing.SalePrice) || !saved.PurchasePrice.Equal(existing.PurchasePrice) {
		s.log.WithFields(logrus.Fields{
			"product_id":     saved.ID,
			"sale_price":     saved.SalePrice.StringFixed(2),
			"purchase_price": saved.PurchasePrice.StringFixed(2),
		}).Info("product prices changed")
	}
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	ok, err := s.repo.DeleteProduct(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

// LowStock lists products at or below their minimum stock threshold.
func (s *Service) LowStock(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if p.LowStock() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) RecordSale(ctx context.Context, req domain.RecordRequest) (domain.Transaction, error) {
	return s.record(ctx, domain.KindSale, req)
}

func (s *Service) RecordPurchase(ctx context.Context, req domain.RecordRequest) (domain.Transaction, error) {
	return s.record(ctx, domain.KindPurchase, req)
}

func (s *Service) record(ctx context.Context, kind domain.Kind, req domain.RecordRequest) (domain.Transaction, error) {
	entries, err := s.buildEntries(ctx, kind, req.Items)
	if err != nil {
		s.logRejected(kind, req, err)
		return domain.Transaction{}, err
	}

	status := ""
	if kind == domain.KindSale {
		status, err = normalizeStatus(req.Status)
		if err != nil {
			return domain.Transaction{}, err
		}
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil && !req.OccurredAt.IsZero() {
		occurredAt = req.OccurredAt.UTC()
	}

	counterparty := strings.TrimSpace(req.Counterparty)
	if counterparty == "" {
		counterparty = domain.NoCounterparty
	}

	total := decimal.Zero
	for _, entry := range entries {
		if entry.Amount != nil {
			total = total.Add(*entry.Amount)
		}
	}

	saved, err := s.repo.SaveTransaction(ctx, domain.Transaction{
		Kind:         kind,
		OccurredAt:   occurredAt,
		Counterparty: counterparty,
		ItemsText:    lineitem.Format(entries),
		Total:        total,
		Status:       status,
	})
	if err != nil {
		s.logRejected(kind, req, err)
		return domain.Transaction{}, err
	}

	s.log.WithFields(logrus.Fields{
		"kind":  kind,
		"id":    saved.ID,
		"items": len(entries),
		"total": saved.Total.StringFixed(2),
	}).Info("transaction recorded")
	return *saved, nil
}

// buildEntries validates the requested lines and prices the ones whose
// product is known, so the stored text carries a line total for each.
func (s *Service) buildEntries(ctx context.Context, kind domain.Kind, items []domain.ItemRequest) ([]lineitem.Entry, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items", store.ErrInvalidTransaction)
	}
	entries := make([]lineitem.Entry, 0, len(items))
	for _, item := range items {
		name := strings.TrimSpace(item.Product)
		if name == "" || strings.Contains(name, ", ") {
			return nil, fmt.Errorf("%w: bad product name %q", store.ErrInvalidTransaction, item.Product)
		}
		if item.Quantity <= 0 {
			return nil, &store.ItemError{Err: store.ErrInvalidQuantity, Product: name, Qty: item.Quantity}
		}

		entry := lineitem.Entry{Name: name, Qty: item.Quantity}
		product, err := s.repo.FindProductByName(ctx, name)
		switch {
		case err == nil:
			amount := product.UnitPrice(kind.Direction()).Mul(decimal.NewFromInt(int64(item.Quantity)))
			entry.Amount = &amount
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Service) logRejected(kind domain.Kind, req domain.RecordRequest, err error) {
	fields := logrus.Fields{"kind": kind, "items": len(req.Items), "error": err.Error()}
	var itemErr *store.ItemError
	if errors.As(err, &itemErr) {
		fields["product"] = itemErr.Product
	}
	s.log.WithFields(fields).Warn("transaction rejected")
}

func normalizeStatus(raw string) (string, error) {
	switch status := strings.ToLower(strings.TrimSpace(raw)); status {
	case "":
		return domain.SaleStatusCompleted, nil
	case domain.SaleStatusCompleted, domain.SaleStatusPending, domain.SaleStatusCancelled:
		return status, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", store.ErrInvalidTransaction, raw)
}

func (s *Service) ListTransactions(ctx context.Context, kind domain.Kind) ([]domain.Transaction, error) {
	if !kind.Valid() {
		return nil, store.ErrInvalidTransaction
	}
	return s.repo.ListTransactions(ctx, kind)
}

func (s *Service) GetTransaction(ctx context.Context, kind domain.Kind, id int64) (domain.Transaction, error) {
	if !kind.Valid() {
		return domain.Transaction{}, store.ErrInvalidTransaction
	}
	tx, err := s.repo.FindTransaction(ctx, kind, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

// SetSaleStatus rewrites the status of a recorded sale. Stock is untouched.
func (s *Service) SetSaleStatus(ctx context.Context, id int64, status string) (domain.Transaction, error) {
	normalized, err := normalizeStatus(status)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx, err := s.repo.FindTransaction(ctx, domain.KindSale, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.Status = normalized
	saved, err := s.repo.SaveTransaction(ctx, *tx)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *saved, nil
}

func (s *Service) DeleteTransaction(ctx context.Context, kind domain.Kind, id int64) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if !kind.Valid() {
		return store.ErrInvalidTransaction
	}
	ok, err := s.repo.DeleteTransaction(ctx, kind, id)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	s.log.WithFields(logrus.Fields{"kind": kind, "id": id}).Info("transaction deleted")
	return nil
}

// RecomputeTotal prices a stored transaction's text against the current
// catalog. Recomputed is nil when no value can be derived.
func (s *Service) RecomputeTotal(ctx context.Context, kind domain.Kind, id int64) (domain.RecomputeResponse, error) {
	tx, err := s.GetTransaction(ctx, kind, id)
	if err != nil {
		return domain.RecomputeResponse{}, err
	}
	resp := domain.RecomputeResponse{TransactionID: tx.ID, StoredTotal: tx.Total}
	total, ok, err := stock.RecomputeTotal(ctx, s.repo, tx.ItemsText, kind.Direction())
	if err != nil {
		return domain.RecomputeResponse{}, err
	}
	if ok {
		resp.Recomputed = &total
	}
	return resp, nil
}

// ReconcileTotals recomputes and persists every changed total. It only
// runs against the legacy schema; normalized totals come from captured
// unit prices and must not drift with the catalog.
func (s *Service) ReconcileTotals(ctx context.Context, kind domain.Kind) (domain.ReconcileReport, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ReconcileReport{}, err
	}
	if !kind.Valid() {
		return domain.ReconcileReport{}, store.ErrInvalidTransaction
	}
	variant, err := s.repo.SchemaVariant(ctx)
	if err != nil {
		return domain.ReconcileReport{}, err
	}
	report := domain.ReconcileReport{Kind: kind, Variant: string(variant)}
	if variant != domain.SchemaLegacy {
		report.Disabled = true
		return report, nil
	}

	txs, err := s.repo.ListTransactions(ctx, kind)
	if err != nil {
		return domain.ReconcileReport{}, err
	}
	for _, tx := range txs {
		report.Checked++
		total, ok, err := stock.RecomputeTotal(ctx, s.repo, tx.ItemsText, kind.Direction())
		if err != nil {
			return report, err
		}
		if !ok {
			report.Skipped++
			continue
		}
		if total.Equal(tx.Total) {
			continue
		}
		tx.Total = total
		if _, err := s.repo.SaveTransaction(ctx, tx); err != nil {
			return report, err
		}
		report.Updated++
	}
	s.log.WithFields(logrus.Fields{
		"kind":    kind,
		"checked": report.Checked,
		"updated": report.Updated,
		"skipped": report.Skipped,
	}).Info("totals reconciled")
	return report, nil
}

func (s *Service) CreateCounterparty(ctx context.Context, c domain.Counterparty) (domain.Counterparty, error) {
	c.ID = 0
	created, err := s.repo.CreateCounterparty(ctx, c)
	if err != nil {
		return domain.Counterparty{}, err
	}
	return *created, nil
}

func (s *Service) ListCounterparties(ctx context.Context, role domain.CounterpartyRole) ([]domain.Counterparty, error) {
	return s.repo.ListCounterparties(ctx, role)
}

func (s *Service) DeleteCounterparty(ctx context.Context, role domain.CounterpartyRole, id int64) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	ok, err := s.repo.DeleteCounterparty(ctx, role, id)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}
