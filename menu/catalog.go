// Package menu provides the item catalog: a lookup table mapping item
// names to sizes and prices, with fuzzy name resolution tolerant of
// speech-recognition output.
package menu

import (
	"errors"
	"fmt"
	"strings"
)

// Resolution and pricing failures. The order aggregate surfaces these
// to the tool-call boundary unchanged.
var (
	ErrItemNotFound     = errors.New("item not found on the menu")
	ErrPriceUnavailable = errors.New("no price available for item")
)

// DefaultSize is the size assumed when a caller does not name one.
const DefaultSize = "single"

// Item is one menu entry. Name is canonical lowercase. Sizes preserves
// declaration order; the first size is the fallback when a requested
// size is not priced. Items are immutable once loaded into a Catalog.
type Item struct {
	Name   string
	Sizes  []string
	Prices map[string]float64
}

// Quote is a priced resolution of a (query, size) pair.
type Quote struct {
	// Item is the canonical item name.
	Item string

	// Size is the size that was actually priced. It may differ from
	// the requested size when the fallback policy applied.
	Size string

	// UnitPrice is the price for one unit at Size.
	UnitPrice float64
}

// Catalog is an immutable, stable-ordered item table. Iteration order
// matches construction order, which makes fuzzy-match tie-breaking
// deterministic.
type Catalog struct {
	items []Item
	index map[string]int
}

// New builds a Catalog from items. Names are lowercased and trimmed;
// a later item with a duplicate name replaces the earlier one in place
// so ordering stays stable.
func New(items []Item) *Catalog {
	c := &Catalog{index: make(map[string]int, len(items))}
	for _, item := range items {
		item.Name = strings.ToLower(strings.TrimSpace(item.Name))
		if i, ok := c.index[item.Name]; ok {
			c.items[i] = item
			continue
		}
		c.index[item.Name] = len(c.items)
		c.items = append(c.items, item)
	}
	return c
}

// Default returns the built-in donut shop catalog used when no dynamic
// menu source is configured.
func Default() *Catalog {
	return New([]Item{
		{Name: "glazed donut", Sizes: []string{"single", "half dozen", "dozen"},
			Prices: map[string]float64{"single": 1.99, "half dozen": 11.99, "dozen": 22.99}},
		{Name: "chocolate frosted donut", Sizes: []string{"single", "half dozen", "dozen"},
			Prices: map[string]float64{"single": 2.29, "half dozen": 12.99, "dozen": 24.99}},
		{Name: "boston cream donut", Sizes: []string{"single", "half dozen", "dozen"},
			Prices: map[string]float64{"single": 2.49, "half dozen": 13.99, "dozen": 26.99}},
		{Name: "old fashioned donut", Sizes: []string{"single", "half dozen", "dozen"},
			Prices: map[string]float64{"single": 1.89, "half dozen": 10.99, "dozen": 20.99}},
		{Name: "jelly donut", Sizes: []string{"single", "half dozen", "dozen"},
			Prices: map[string]float64{"single": 2.19, "half dozen": 12.49, "dozen": 23.99}},
		{Name: "apple fritter", Sizes: []string{"single", "half dozen"},
			Prices: map[string]float64{"single": 2.99, "half dozen": 15.99}},
		{Name: "maple bar", Sizes: []string{"single", "half dozen"},
			Prices: map[string]float64{"single": 2.49, "half dozen": 13.49}},
		{Name: "donut holes", Sizes: []string{"small", "large"},
			Prices: map[string]float64{"small": 3.99, "large": 6.99}},
		{Name: "coffee", Sizes: []string{"small", "medium", "large"},
			Prices: map[string]float64{"small": 1.79, "medium": 2.19, "large": 2.59}},
		{Name: "hot chocolate", Sizes: []string{"small", "medium", "large"},
			Prices: map[string]float64{"small": 2.29, "medium": 2.69, "large": 3.09}},
	})
}

// Items returns the catalog entries in stable order.
func (c *Catalog) Items() []Item {
	return c.items
}

// Resolve finds the item matching query. The query is lowercased and
// trimmed, then matched exactly, then fuzzily: every word of the query
// must be a substring of, or contain, some word of a candidate's name.
// The first fuzzy match in catalog order wins.
func (c *Catalog) Resolve(query string) (Item, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return Item{}, false
	}

	if i, ok := c.index[q]; ok {
		return c.items[i], true
	}

	queryWords := strings.Fields(q)
	for _, item := range c.items {
		if fuzzyMatch(queryWords, strings.Fields(item.Name)) {
			return item, true
		}
	}
	return Item{}, false
}

// fuzzyMatch reports whether every query word overlaps some candidate
// word (substring in either direction).
func fuzzyMatch(queryWords, nameWords []string) bool {
	for _, qw := range queryWords {
		matched := false
		for _, nw := range nameWords {
			if strings.Contains(nw, qw) || strings.Contains(qw, nw) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// PriceOf resolves query and prices it at size. An empty size means
// DefaultSize. A size the item does not carry falls back to the item's
// first declared size rather than failing: voice recognition size
// mismatches should not hard-fail an order.
func (c *Catalog) PriceOf(query, size string) (Quote, error) {
	item, ok := c.Resolve(query)
	if !ok {
		return Quote{}, fmt.Errorf("%w: %q", ErrItemNotFound, strings.TrimSpace(query))
	}

	s := strings.ToLower(strings.TrimSpace(size))
	if s == "" {
		s = DefaultSize
	}
	if price, ok := item.Prices[s]; ok {
		return Quote{Item: item.Name, Size: s, UnitPrice: price}, nil
	}
	if len(item.Sizes) > 0 {
		if price, ok := item.Prices[item.Sizes[0]]; ok {
			return Quote{Item: item.Name, Size: item.Sizes[0], UnitPrice: price}, nil
		}
	}
	return Quote{}, fmt.Errorf("%w: %q size %q", ErrPriceUnavailable, item.Name, s)
}

// Text renders the catalog as human-readable lines for embedding in
// the AI session instructions.
func (c *Catalog) Text() string {
	var b strings.Builder
	for _, item := range c.items {
		fmt.Fprintf(&b, "- %s: ", item.Name)
		for i, size := range item.Sizes {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s $%.2f", size, item.Prices[size])
		}
		b.WriteString("\n")
	}
	return b.String()
}
