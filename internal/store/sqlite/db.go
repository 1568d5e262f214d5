// Package sqlite implements the stores on an embedded SQLite database,
// used for local development and in tests. Schema is applied on open so
// the backend needs no external migration step.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/sorryformyhair/dmflow/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS message_buffer (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	fragments TEXT NOT NULL DEFAULT '[]',
	last_message_at TIMESTAMP NOT NULL,
	status TEXT NOT NULL DEFAULT 'new'
		CHECK (status IN ('new', 'processing', 'failed', 'permanently_failed')),
	retry_count INTEGER NOT NULL DEFAULT 0,
	next_retry_at TIMESTAMP,
	last_processed_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS message_buffer_active_user
	ON message_buffer (user_id) WHERE status <> 'permanently_failed';

CREATE TABLE IF NOT EXISTS chat_history (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL CHECK (role IN ('human', 'assistant')),
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_history_user_created
	ON chat_history (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	volume TEXT NOT NULL DEFAULT '',
	price_uah REAL NOT NULL DEFAULT 0,
	in_stock INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	phone TEXT NOT NULL,
	city TEXT NOT NULL,
	post_office TEXT NOT NULL,
	products TEXT NOT NULL,
	total_price TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

// OpenDB opens (or creates) the SQLite file at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The modernc driver serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent store calls and keeps :memory: shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return db, nil
}

// NewStores opens SQLite at path and wires every store onto it.
func NewStores(path string) (*store.Stores, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("sqlite stores: %w", err)
	}
	return &store.Stores{
		Buffer:  NewBufferStore(db),
		History: NewHistoryStore(db),
		Catalog: NewCatalogStore(db),
		Orders:  NewOrderStore(db),
		Close:   db.Close,
	}, nil
}
