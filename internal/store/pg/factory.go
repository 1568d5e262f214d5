package pg

import (
	"fmt"

	"github.com/sorryformyhair/dmflow/internal/store"
)

// NewStores opens Postgres and wires every store onto one shared handle.
func NewStores(dsn string) (*store.Stores, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres stores: %w", err)
	}
	return &store.Stores{
		Buffer:  NewBufferStore(db),
		History: NewHistoryStore(db),
		Catalog: NewCatalogStore(db),
		Orders:  NewOrderStore(db),
		Close:   db.Close,
	}, nil
}
