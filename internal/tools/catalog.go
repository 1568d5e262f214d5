package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sorryformyhair/dmflow/internal/store"
)

// CatalogTool answers product questions from the products table.
type CatalogTool struct {
	catalog store.CatalogStore
}

func NewCatalogTool(catalog store.CatalogStore) *CatalogTool {
	return &CatalogTool{catalog: catalog}
}

func (t *CatalogTool) Name() string { return "product_catalog" }

func (t *CatalogTool) Description() string {
	return "Search the product catalog. Use this for any question about products, prices, volumes, or availability. Returns matching products as JSON."
}

func (t *CatalogTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Product name or keywords to search for",
			},
		},
		"required": []string{"query"},
	}
}

func (t *CatalogTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("error: query is required")
	}

	products, err := t.catalog.Search(ctx, query, 10)
	if err != nil {
		slog.Error("catalog search failed", "query", query, "error", err)
		return ErrorResult("error: catalog lookup failed, try again").WithError(err)
	}
	if len(products) == 0 {
		return NewResult(fmt.Sprintf("No products matched %q. Tell the customer nothing was found and ask what they are looking for.", query))
	}

	data, err := json.Marshal(products)
	if err != nil {
		return ErrorResult("error: could not encode products").WithError(err)
	}
	return NewResult(string(data))
}
