package menu

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Store holds the catalog shared by all sessions. Reads are lock-free;
// a dynamic source (a spreadsheet, typically) replaces the table
// atomically rather than mutating it in place. When a dynamic catalog
// is loaded it takes total priority, including for fuzzy matching; the
// static catalog answers only when the dynamic one has no match.
type Store struct {
	static  *Catalog
	dynamic atomic.Pointer[Catalog]
}

// NewStore creates a Store with the given static fallback catalog.
func NewStore(static *Catalog) *Store {
	return &Store{static: static}
}

// Replace installs a dynamically loaded catalog. Passing nil reverts
// to the static catalog alone.
func (s *Store) Replace(c *Catalog) {
	s.dynamic.Store(c)
}

// Resolve finds an item, consulting the dynamic catalog first.
func (s *Store) Resolve(query string) (Item, bool) {
	if dyn := s.dynamic.Load(); dyn != nil {
		if item, ok := dyn.Resolve(query); ok {
			return item, true
		}
	}
	return s.static.Resolve(query)
}

// PriceOf prices a (query, size) pair, consulting the dynamic catalog
// first.
func (s *Store) PriceOf(query, size string) (Quote, error) {
	if dyn := s.dynamic.Load(); dyn != nil {
		if quote, err := dyn.PriceOf(query, size); err == nil {
			return quote, nil
		}
	}
	return s.static.PriceOf(query, size)
}

// Text renders the active catalog: the dynamic one when loaded, else
// the static one.
func (s *Store) Text() string {
	if dyn := s.dynamic.Load(); dyn != nil {
		return dyn.Text()
	}
	return s.static.Text()
}

// FromRows parses spreadsheet rows into a Catalog. Each row is
// [name, size, price]; consecutive rows with the same name accumulate
// sizes in row order. A header row (non-numeric price) is skipped.
// Returns an error when no usable rows remain.
func FromRows(rows [][]string) (*Catalog, error) {
	byName := make(map[string]*Item)
	var ordered []string

	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(row[0]))
		size := strings.ToLower(strings.TrimSpace(row[1]))
		price, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(row[2]), "$"), 64)
		if err != nil || name == "" || size == "" {
			continue
		}

		item, ok := byName[name]
		if !ok {
			item = &Item{Name: name, Prices: make(map[string]float64)}
			byName[name] = item
			ordered = append(ordered, name)
		}
		if _, dup := item.Prices[size]; !dup {
			item.Sizes = append(item.Sizes, size)
		}
		item.Prices[size] = price
	}

	if len(ordered) == 0 {
		return nil, fmt.Errorf("menu rows: no valid [name, size, price] rows")
	}

	items := make([]Item, 0, len(ordered))
	for _, name := range ordered {
		items = append(items, *byName[name])
	}
	return New(items), nil
}
