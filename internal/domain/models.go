package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind distinguishes the two transaction tables.
type Kind string

const (
	KindSale     Kind = "sale"
	KindPurchase Kind = "purchase"
)

func (k Kind) Valid() bool {
	return k == KindSale || k == KindPurchase
}

// Direction returns the stock direction a transaction of this kind applies.
func (k Kind) Direction() Direction {
	if k == KindPurchase {
		return Inbound
	}
	return Outbound
}

// Direction of a stock-adjusting transaction.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// SchemaVariant is a structural property of the persisted transaction tables.
type SchemaVariant string

const (
	SchemaUnknown    SchemaVariant = ""
	SchemaLegacy     SchemaVariant = "legacy"
	SchemaNormalized SchemaVariant = "normalized"
)

func ParseSchemaVariant(raw string) (SchemaVariant, bool) {
	switch SchemaVariant(strings.ToLower(strings.TrimSpace(raw))) {
	case SchemaLegacy:
		return SchemaLegacy, true
	case SchemaNormalized:
		return SchemaNormalized, true
	}
	return SchemaUnknown, false
}

const (
	SaleStatusCompleted = "completed"
	SaleStatusPending   = "pending"
	SaleStatusCancelled = "cancelled"
)

// NoCounterparty is written in place of a missing client or supplier name.
const NoCounterparty = "(none)"

// IsPlaceholderCounterparty reports whether name stands for "no counterparty".
func IsPlaceholderCounterparty(name string) bool {
	trimmed := strings.TrimSpace(name)
	return trimmed == "" || strings.HasPrefix(trimmed, "(")
}

type Product struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SalePrice     decimal.Decimal `json:"sale_price"`
	Stock         int             `json:"stock"`
	MinStock      int             `json:"min_stock"`
}

// UnitPrice is the catalog price that applies to a movement in direction d.
func (p Product) UnitPrice(d Direction) decimal.Decimal {
	if d == Inbound {
		return p.PurchasePrice
	}
	return p.SalePrice
}

func (p Product) LowStock() bool {
	return p.Stock <= p.MinStock
}

type ProductUpdateRequest struct {
	Name          *string          `json:"name,omitempty"`
	Category      *string          `json:"category,omitempty"`
	PurchasePrice *decimal.Decimal `json:"purchase_price,omitempty"`
	SalePrice     *decimal.Decimal `json:"sale_price,omitempty"`
	MinStock      *int             `json:"min_stock,omitempty"`
}

type CounterpartyRole string

const (
	RoleClient   CounterpartyRole = "client"
	RoleSupplier CounterpartyRole = "supplier"
)

// Counterparty is a client (sale side) or a supplier (purchase side). For
// suppliers Name holds the company name.
type Counterparty struct {
	ID       int64            `json:"id"`
	Role     CounterpartyRole `json:"role"`
	Name     string           `json:"name"`
	Document string           `json:"document,omitempty"`
	Contact  string           `json:"contact,omitempty"`
	Phone    string           `json:"phone,omitempty"`
	Email    string           `json:"email,omitempty"`
	Address  string           `json:"address,omitempty"`
}

// LineItem is one resolved product movement inside a transaction.
type LineItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (l LineItem) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Transaction is a sale or purchase header plus its line items. ItemsText is
// the human readable line-item description stored on legacy headers.
type Transaction struct {
	ID           int64           `json:"id"`
	Kind         Kind            `json:"kind"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Counterparty string          `json:"counterparty"`
	ItemsText    string          `json:"items_text"`
	Items        []LineItem      `json:"items,omitempty"`
	Total        decimal.Decimal `json:"total"`
	Status       string          `json:"status,omitempty"`
}

func SumLineItems(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Total())
	}
	return total
}

type ItemRequest struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

type RecordRequest struct {
	Counterparty string        `json:"counterparty"`
	Items        []ItemRequest `json:"items"`
	OccurredAt   *time.Time    `json:"occurred_at,omitempty"`
	Status       string        `json:"status,omitempty"`
}

type RecomputeResponse struct {
	TransactionID int64            `json:"transaction_id"`
	StoredTotal   decimal.Decimal  `json:"stored_total"`
	Recomputed    *decimal.Decimal `json:"recomputed,omitempty"`
}

type ReconcileReport struct {
	Kind     Kind   `json:"kind"`
	Variant  string `json:"variant"`
	Checked  int    `json:"checked"`
	Updated  int    `json:"updated"`
	Skipped  int    `json:"skipped"`
	Disabled bool   `json:"disabled"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}
