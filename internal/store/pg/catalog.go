package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sorryformyhair/dmflow/internal/store"
)

// CatalogStore implements store.CatalogStore on Postgres.
type CatalogStore struct {
	db *sql.DB
}

func NewCatalogStore(db *sql.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

func (s *CatalogStore) Search(ctx context.Context, query string, limit int) ([]store.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, volume, price_uah, in_stock
		 FROM products
		 WHERE name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%'
		 ORDER BY name
		 LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	defer rows.Close()

	var out []store.Product
	for rows.Next() {
		var p store.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Volume, &p.PriceUAH, &p.InStock); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *CatalogStore) Get(ctx context.Context, id string) (*store.Product, error) {
	var p store.Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, volume, price_uah, in_stock FROM products WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Volume, &p.PriceUAH, &p.InStock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}
