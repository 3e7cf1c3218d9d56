package shopassist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/shaharia-lab/shopassist/observability"
	"go.opentelemetry.io/otel/attribute"
)

// Product is a read-only catalog entry.
type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Category    string  `json:"category"`
}

// CatalogStore is the read side of the product catalog.
// Both lookups are case-insensitive substring matches and return an empty slice when nothing matches.
type CatalogStore interface {
	// SearchByText matches query against product name and description.
	SearchByText(ctx context.Context, query string) ([]Product, error)
	// SearchByCategory matches query against the product's category name.
	SearchByCategory(ctx context.Context, query string) ([]Product, error)
}

// ProductSearcher answers catalog queries for the chat pipeline.
type ProductSearcher struct {
	store   CatalogStore
	metrics *observability.Metrics
	log     Logger
}

// NewProductSearcher wraps store. metrics and log may be nil.
func NewProductSearcher(store CatalogStore, metrics *observability.Metrics, log Logger) *ProductSearcher {
	if log == nil {
		log = NewNullLogger()
	}
	return &ProductSearcher{store: store, metrics: metrics, log: log}
}

// Search returns products whose name, description or category name contains query, ignoring case.
// Text matches come first, then category-only matches; each product appears once.
// A blank query matches nothing. Store failures are returned as *SearchError.
func (s *ProductSearcher) Search(ctx context.Context, query string) ([]Product, error) {
	ctx, span := observability.StartSpan(ctx, "ProductSearcher.Search")
	defer span.End()

	query = strings.TrimSpace(query)
	span.SetAttributes(attribute.String("query", query))
	if query == "" {
		return []Product{}, nil
	}

	byText, err := s.store.SearchByText(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, &SearchError{Query: query, Err: err}
	}

	byCategory, err := s.store.SearchByCategory(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, &SearchError{Query: query, Err: err}
	}

	products := unionProducts(byText, byCategory)
	s.metrics.ObserveSearch(len(products))
	span.SetAttributes(attribute.Int("result_count", len(products)))
	s.log.WithFields(map[string]interface{}{"query": query, "count": len(products)}).Debug("Catalog search finished")

	return products, nil
}

func unionProducts(lists ...[]Product) []Product {
	seen := make(map[string]struct{})
	out := []Product{}
	for _, list := range lists {
		for _, p := range list {
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// LoadProducts reads a JSON array of products. Products without an id get a random UUID.
func LoadProducts(r io.Reader) ([]Product, error) {
	var products []Product
	if err := json.NewDecoder(r).Decode(&products); err != nil {
		return nil, fmt.Errorf("failed to decode products: %w", err)
	}

	for i := range products {
		if strings.TrimSpace(products[i].Name) == "" {
			return nil, fmt.Errorf("product at index %d has no name", i)
		}
		if products[i].ID == "" {
			products[i].ID = uuid.NewString()
		}
	}
	return products, nil
}
