package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sorryformyhair/dmflow/internal/store"
)

// CatalogStore implements store.CatalogStore on SQLite.
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
		 WHERE name LIKE '%' || ? || '%' OR description LIKE '%' || ? || '%'
		 ORDER BY name
		 LIMIT ?`,
		query, query, limit,
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
		`SELECT id, name, description, volume, price_uah, in_stock FROM products WHERE id = ?`,
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

// Upsert seeds or updates one product. Used by local tooling and tests.
func (s *CatalogStore) Upsert(ctx context.Context, p store.Product) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, name, description, volume, price_uah, in_stock)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, description = excluded.description,
			volume = excluded.volume, price_uah = excluded.price_uah,
			in_stock = excluded.in_stock`,
		p.ID, p.Name, p.Description, p.Volume, p.PriceUAH, p.InStock,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// OrderStore implements store.OrderStore on SQLite.
type OrderStore struct {
	db *sql.DB
}

func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

func (s *OrderStore) Insert(ctx context.Context, o *store.Order) error {
	if o.ID == uuid.Nil {
		o.ID = store.NewID()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, name, phone, city, post_office, products, total_price, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID.String(), o.UserID, o.Name, o.Phone, o.City, o.PostOffice, o.Products, o.TotalPrice, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}
