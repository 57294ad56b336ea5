// Package registry is Pung's durable client record store: the (id,
// rate) a client registered with, surviving a server restart even
// though a round's in-flight counters never do. Grounded on the
// teacher's keysaver-server/storage.go Storage type and its
// NewStorage/initSchema/CRUD shape, repointed at client records
// instead of encrypted file keys.
package registry

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one registered client's durable identity.
type Record struct {
	ID           uint64
	Rate         uint32
	RegisteredAt time.Time
}

// Registry persists client records to a sqlite database.
type Registry struct {
	db *sql.DB
}

// Open creates or opens the registry database at path and ensures its
// schema exists.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: open db: %w", err)
	}

	r := &Registry{db: db}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: init schema: %w", err)
	}
	return r, nil
}

func (r *Registry) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id INTEGER PRIMARY KEY,
		rate INTEGER NOT NULL,
		registered_at INTEGER NOT NULL
	);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Save inserts or refreshes a client's durable record.
func (r *Registry) Save(id uint64, rate uint32) error {
	query := `
	INSERT INTO clients (id, rate, registered_at)
	VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET rate = excluded.rate
	`
	_, err := r.db.Exec(query, id, rate, time.Now().Unix())
	return err
}

// Delete removes a client's durable record (spec.md §6 close).
func (r *Registry) Delete(id uint64) error {
	_, err := r.db.Exec("DELETE FROM clients WHERE id = ?", id)
	return err
}

// All returns every registered client record, ordered by id — used at
// server startup to repopulate the round engine's client table.
func (r *Registry) All() ([]Record, error) {
	rows, err := r.db.Query("SELECT id, rate, registered_at FROM clients ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var registeredUnix int64
		if err := rows.Scan(&rec.ID, &rec.Rate, &registeredUnix); err != nil {
			return nil, err
		}
		rec.RegisteredAt = time.Unix(registeredUnix, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// NextID returns one past the highest id ever registered, so ids never
// get reused even across a restart.
func (r *Registry) NextID() (uint64, error) {
	row := r.db.QueryRow("SELECT COALESCE(MAX(id), 0) FROM clients")
	var max uint64
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max + 1, nil
}
