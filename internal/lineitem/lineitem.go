// Package lineitem converts between the human readable line-item description
// stored on transaction headers ("Widget x3 ($7.50), Gadget x1") and
// structured (name, quantity) pairs.
package lineitem

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"inventario/backend/internal/domain"
)

const separator = ", "

var (
	segmentPattern = regexp.MustCompile(`^(.+) x(\d+)(.*)$`)
	annotation     = regexp.MustCompile(`^\s*\((.*)\)\s*$`)
	// an annotation parenthesis opened after the quantity and not yet closed
	openAnnotation = regexp.MustCompile(`\sx\d+\s*\([^)]*$`)
	amountChars    = regexp.MustCompile(`[^\d.\-]`)
)

type Item struct {
	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

// Entry is a parsed segment. Amount is the line total found in the trailing
// parenthetical, nil when absent or unreadable.
type Entry struct {
	Name   string
	Qty    int
	Amount *decimal.Decimal
}

func (e Entry) Item() Item {
	return Item{Name: e.Name, Qty: e.Qty}
}

// Format renders entries as "<name> x<qty> ($<line-total>)" joined by ", ".
// Entries without an amount are rendered without the parenthetical.
func Format(entries []Entry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		var b strings.Builder
		b.WriteString(e.Name)
		b.WriteString(" x")
		b.WriteString(strconv.Itoa(e.Qty))
		if e.Amount != nil {
			b.WriteString(" ($")
			b.WriteString(e.Amount.StringFixed(2))
			b.WriteString(")")
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, separator)
}

func FormatItems(items []Item) string {
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, Entry{Name: item.Name, Qty: item.Qty})
	}
	return Format(entries)
}

// FormatLineItems renders resolved line items with their captured line totals.
func FormatLineItems(items []domain.LineItem) string {
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		total := item.Total()
		entries = append(entries, Entry{Name: item.ProductName, Qty: item.Quantity, Amount: &total})
	}
	return Format(entries)
}

// Parse returns the (name, qty) pairs of text in order. Segments that do not
// look like "<name> x<digits>" are dropped without error.
func Parse(text string) []Item {
	entries := ParseEntries(text)
	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, e.Item())
	}
	return items
}

func ParseEntries(text string) []Entry {
	segments := split(text)
	entries := make([]Entry, 0, len(segments))
	for _, segment := range segments {
		entry, ok := parseSegment(segment)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

func parseSegment(segment string) (Entry, bool) {
	m := segmentPattern.FindStringSubmatch(strings.TrimSpace(segment))
	if m == nil {
		return Entry{}, false
	}
	name := strings.TrimSpace(m[1])
	if name == "" {
		return Entry{}, false
	}
	qty, err := strconv.Atoi(m[2])
	if err != nil {
		return Entry{}, false
	}

	entry := Entry{Name: name, Qty: qty}
	if paren := annotation.FindStringSubmatch(m[3]); paren != nil {
		entry.Amount = parseAmount(paren[1])
	}
	return entry, true
}

func parseAmount(raw string) *decimal.Decimal {
	digits := amountChars.ReplaceAllString(raw, "")
	if digits == "" {
		return nil
	}
	amount, err := decimal.NewFromString(digits)
	if err != nil {
		return nil
	}
	return &amount
}

// split cuts text on ", " except where the separator falls inside an
// annotation parenthetical such as "($1, 250.00)".
func split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var segments []string
	start := 0
	for i := 0; i+len(separator) <= len(text); {
		if text[i:i+len(separator)] != separator || openAnnotation.MatchString(text[start:i]) {
			i++
			continue
		}
		segments = append(segments, text[start:i])
		i += len(separator)
		start = i
	}
	return append(segments, text[start:])
}
