package shopassist

import (
	"context"
	"strings"
	"sync"
)

// InMemoryCatalog is a CatalogStore over a slice, kept in insertion order.
type InMemoryCatalog struct {
	mu       sync.RWMutex
	products []Product
}

// NewInMemoryCatalog creates a catalog holding products.
func NewInMemoryCatalog(products ...Product) *InMemoryCatalog {
	c := &InMemoryCatalog{}
	c.Add(products...)
	return c
}

// Add appends products, replacing any existing product with the same ID.
func (c *InMemoryCatalog) Add(products ...Product) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range products {
		replaced := false
		for i := range c.products {
			if c.products[i].ID == p.ID {
				c.products[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			c.products = append(c.products, p)
		}
	}
}

// SearchByText returns products whose name or description contains query, case-insensitively.
func (c *InMemoryCatalog) SearchByText(ctx context.Context, query string) ([]Product, error) {
	return c.filter(ctx, query, func(p Product) []string { return []string{p.Name, p.Description} })
}

// SearchByCategory returns products whose category name contains query, case-insensitively.
func (c *InMemoryCatalog) SearchByCategory(ctx context.Context, query string) ([]Product, error) {
	return c.filter(ctx, query, func(p Product) []string { return []string{p.Category} })
}

func (c *InMemoryCatalog) filter(ctx context.Context, query string, fields func(Product) []string) ([]Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := []Product{}
	for _, p := range c.products {
		for _, field := range fields(p) {
			if strings.Contains(strings.ToLower(field), needle) {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}
