package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"inventario/backend/internal/domain"
	"inventario/backend/internal/lineitem"
	"inventario/backend/internal/stock"
	"inventario/backend/internal/store"
)

type record struct {
	tx      domain.Transaction
	partyID int64
}

// Store keeps everything in process memory and behaves like the normalized
// schema. A unit of work holds the write lock and undoes its stock deltas on
// failure.
type Store struct {
	mu       sync.RWMutex
	engine   *stock.Engine
	products map[int64]domain.Product
	parties  map[domain.CounterpartyRole]map[int64]domain.Counterparty
	records  map[domain.Kind]map[int64]*record
	nextID   map[string]int64
}

var _ store.Repository = (*Store)(nil)

func New(engine *stock.Engine) *Store {
	if engine == nil {
		engine = stock.NewEngine(stock.PolicyLenient, nil)
	}
	return &Store{
		engine:   engine,
		products: make(map[int64]domain.Product),
		parties: map[domain.CounterpartyRole]map[int64]domain.Counterparty{
			domain.RoleClient:   {},
			domain.RoleSupplier: {},
		},
		records: map[domain.Kind]map[int64]*record{
			domain.KindSale:     {},
			domain.KindPurchase: {},
		},
		nextID: make(map[string]int64),
	}
}

// NewSeeded returns a store with a small demo catalog for dev mode.
func NewSeeded(engine *stock.Engine) *Store {
	s := New(engine)
	for _, p := range []domain.Product{
		{Name: "Arroz 1kg", Category: "grocery", PurchasePrice: decimal.RequireFromString("0.90"), SalePrice: decimal.RequireFromString("1.40"), Stock: 120, MinStock: 20},
		{Name: "Aceite 1L", Category: "grocery", PurchasePrice: decimal.RequireFromString("2.10"), SalePrice: decimal.RequireFromString("3.25"), Stock: 60, MinStock: 10},
		{Name: "Leche UHT", Category: "dairy", PurchasePrice: decimal.RequireFromString("0.75"), SalePrice: decimal.RequireFromString("1.15"), Stock: 80, MinStock: 24},
		{Name: "Café Molido", Category: "beverage", PurchasePrice: decimal.RequireFromString("3.40"), SalePrice: decimal.RequireFromString("5.90"), Stock: 30, MinStock: 6},
		{Name: "Jabón", Category: "household", PurchasePrice: decimal.RequireFromString("0.50"), SalePrice: decimal.RequireFromString("0.95"), Stock: 8, MinStock: 10},
	} {
		p.ID = s.next("product")
		s.products[p.ID] = p
	}
	for _, c := range []domain.Counterparty{
		{Role: domain.RoleClient, Name: "Ana Pérez", Document: "X1234567"},
		{Role: domain.RoleSupplier, Name: "Distribuidora Norte", Contact: "Luis"},
	} {
		c.ID = s.next(string(c.Role))
		s.parties[c.Role][c.ID] = c
	}
	return s
}

func (s *Store) next(seq string) int64 {
	s.nextID[seq]++
	return s.nextID[seq]
}

func (s *Store) SchemaVariant(_ context.Context) (domain.SchemaVariant, error) {
	return domain.SchemaNormalized, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindProductByName(_ context.Context, name string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.productByName(name)
}

func (s *Store) productByName(name string) (*domain.Product, error) {
	var found *domain.Product
	for _, p := range s.products {
		if p.Name != name {
			continue
		}
		if found == nil || p.ID < found.ID {
			cp := p
			found = &cp
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (s *Store) FindProductByID(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	product.ID = s.next("product")
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.Stock = current.Stock
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return false, nil
	}
	delete(s.products, id)
	return true, nil
}

func (s *Store) CreateCounterparty(_ context.Context, c domain.Counterparty) (*domain.Counterparty, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.parties[c.Role]
	if !ok {
		return nil, fmt.Errorf("%w: unknown counterparty role %q", store.ErrInvalidTransaction, c.Role)
	}
	c.ID = s.next(string(c.Role))
	bucket[c.ID] = c
	return &c, nil
}

func (s *Store) ListCounterparties(_ context.Context, role domain.CounterpartyRole) ([]domain.Counterparty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.parties[role]
	if !ok {
		return nil, fmt.Errorf("%w: unknown counterparty role %q", store.ErrInvalidTransaction, role)
	}
	out := make([]domain.Counterparty, 0, len(bucket))
	for _, c := range bucket {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteCounterparty(_ context.Context, role domain.CounterpartyRole, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.parties[role]
	if !ok {
		return false, fmt.Errorf("%w: unknown counterparty role %q", store.ErrInvalidTransaction, role)
	}
	if _, ok := bucket[id]; !ok {
		return false, nil
	}
	delete(bucket, id)
	return true, nil
}

func (s *Store) resolveParty(role domain.CounterpartyRole, name string) int64 {
	if domain.IsPlaceholderCounterparty(name) {
		return 0
	}
	name = strings.TrimSpace(name)
	var id int64
	for _, c := range s.parties[role] {
		if c.Name == name && (id == 0 || c.ID < id) {
			id = c.ID
		}
	}
	return id
}

func roleOf(kind domain.Kind) domain.CounterpartyRole {
	if kind == domain.KindPurchase {
		return domain.RoleSupplier
	}
	return domain.RoleClient
}

// view renders a stored record the way the normalized SQL listing does.
func (s *Store) view(r *record) domain.Transaction {
	tx := r.tx
	tx.Counterparty = domain.NoCounterparty
	if c, ok := s.parties[roleOf(tx.Kind)][r.partyID]; ok {
		tx.Counterparty = c.Name
	}
	tx.Items = make([]domain.LineItem, len(r.tx.Items))
	for i, item := range r.tx.Items {
		if p, ok := s.products[item.ProductID]; ok {
			item.ProductName = p.Name
		}
		tx.Items[i] = item
	}
	tx.ItemsText = lineitem.FormatLineItems(tx.Items)
	return tx
}

func (s *Store) ListTransactions(_ context.Context, kind domain.Kind) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.records[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", store.ErrInvalidTransaction, kind)
	}
	out := make([]domain.Transaction, 0, len(bucket))
	for _, r := range bucket {
		out = append(out, s.view(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindTransaction(_ context.Context, kind domain.Kind, id int64) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.records[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", store.ErrInvalidTransaction, kind)
	}
	r, ok := bucket[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	tx := s.view(r)
	return &tx, nil
}

func (s *Store) SaveTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if !tx.Kind.Valid() || tx.ID < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if tx.OccurredAt.IsZero() {
		tx.OccurredAt = time.Now().UTC()
	}
	if tx.Kind == domain.KindPurchase {
		tx.Status = ""
	} else if tx.Status == "" {
		tx.Status = domain.SaleStatusCompleted
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.records[tx.Kind]
	if tx.ID != 0 {
		r, ok := bucket[tx.ID]
		if !ok {
			return nil, store.ErrNotFound
		}
		r.tx.OccurredAt = tx.OccurredAt
		r.tx.Total = tx.Total
		r.tx.Status = tx.Status
		saved := s.view(r)
		return &saved, nil
	}

	w := &writer{s: s}
	result, err := s.engine.Apply(ctx, w, tx.Kind.Direction(), lineitem.Parse(tx.ItemsText))
	if err != nil {
		w.rollback()
		return nil, err
	}

	tx.ID = s.next(string(tx.Kind))
	tx.Items = result.Items
	tx.Total = result.Total()
	r := &record{tx: tx, partyID: s.resolveParty(roleOf(tx.Kind), tx.Counterparty)}
	bucket[tx.ID] = r
	saved := s.view(r)
	return &saved, nil
}

func (s *Store) DeleteTransaction(_ context.Context, kind domain.Kind, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.records[kind]
	if !ok {
		return false, fmt.Errorf("%w: unknown kind %q", store.ErrInvalidTransaction, kind)
	}
	if _, ok := bucket[id]; !ok {
		return false, nil
	}
	delete(bucket, id)
	return true, nil
}

type delta struct {
	productID int64
	qty       int
}

// writer runs under the store's write lock and keeps an undo log.
type writer struct {
	s    *Store
	undo []delta
}

func (w *writer) FindProductByName(_ context.Context, name string) (*domain.Product, error) {
	return w.s.productByName(name)
}

func (w *writer) IncreaseStock(_ context.Context, productID int64, qty int) error {
	p, ok := w.s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	p.Stock += qty
	w.s.products[productID] = p
	w.undo = append(w.undo, delta{productID: productID, qty: -qty})
	return nil
}

func (w *writer) DecreaseStockIfEnough(_ context.Context, productID int64, qty int) (bool, error) {
	p, ok := w.s.products[productID]
	if !ok {
		return false, store.ErrNotFound
	}
	if p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	w.s.products[productID] = p
	w.undo = append(w.undo, delta{productID: productID, qty: qty})
	return true, nil
}

func (w *writer) rollback() {
	for i := len(w.undo) - 1; i >= 0; i-- {
		d := w.undo[i]
		p := w.s.products[d.productID]
		p.Stock += d.qty
		w.s.products[d.productID] = p
	}
	w.undo = nil
}
