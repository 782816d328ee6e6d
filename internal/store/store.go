// Package store provides SQLite-backed persistence for the TRDP
// telegram directory: dataset schemas and the comId bindings the
// marshalling registry is built from.
//
// The schema is managed with embedded golang-migrate migrations, so a
// fresh database file is usable immediately and existing files upgrade
// in place.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/saelay/trdpstack/internal/marshal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a dataset or comId binding is missing.
var ErrNotFound = errors.New("store: not found")

// DB wraps the telegram directory database.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// Open opens or creates the directory database at path and migrates it
// to the current schema.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)

	db := &DB{conn: conn}
	if err := db.runMigrations(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) runMigrations() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(db.conn, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// PutDataset inserts or replaces a dataset schema.
func (db *DB) PutDataset(ds *marshal.Dataset) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO datasets (id) VALUES (?)`, ds.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM dataset_elements WHERE dataset_id = ?`, ds.ID); err != nil {
		return err
	}
	for i, el := range ds.Elements {
		if _, err := tx.Exec(
			`INSERT INTO dataset_elements (dataset_id, position, type, count) VALUES (?, ?, ?, ?)`,
			ds.ID, i, uint32(el.Type), el.Count,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteDataset removes a dataset and its elements.
func (db *DB) DeleteDataset(id uint32) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.Exec(`DELETE FROM datasets WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = db.conn.Exec(`DELETE FROM dataset_elements WHERE dataset_id = ?`, id)
	return err
}

// Dataset loads one schema.
func (db *DB) Dataset(id uint32) (*marshal.Dataset, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var exists int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM datasets WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: dataset %d", ErrNotFound, id)
	}
	return db.loadDataset(id)
}

func (db *DB) loadDataset(id uint32) (*marshal.Dataset, error) {
	rows, err := db.conn.Query(
		`SELECT type, count FROM dataset_elements WHERE dataset_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ds := &marshal.Dataset{ID: id}
	for rows.Next() {
		var typ, count uint32
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, err
		}
		ds.Elements = append(ds.Elements, marshal.Element{Type: marshal.ElementType(typ), Count: count})
	}
	return ds, rows.Err()
}

// Datasets loads every schema, ordered by id.
func (db *DB) Datasets() ([]*marshal.Dataset, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`SELECT id FROM datasets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uint32
	for rows.Next() {
		var id uint32
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*marshal.Dataset, 0, len(ids))
	for _, id := range ids {
		ds, err := db.loadDataset(id)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

// BindComID maps a comId to a dataset.
func (db *DB) BindComID(comID, datasetID uint32) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var exists int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM datasets WHERE id = ?`, datasetID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: dataset %d", ErrNotFound, datasetID)
	}
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO comid_map (comid, dataset_id) VALUES (?, ?)`, comID, datasetID)
	return err
}

// UnbindComID removes a comId binding.
func (db *DB) UnbindComID(comID uint32) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.Exec(`DELETE FROM comid_map WHERE comid = ?`, comID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Mappings loads every comId binding, ordered by comId.
func (db *DB) Mappings() ([]marshal.ComIDMapping, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`SELECT comid, dataset_id FROM comid_map ORDER BY comid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []marshal.ComIDMapping
	for rows.Next() {
		var m marshal.ComIDMapping
		if err := rows.Scan(&m.ComID, &m.DatasetID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Registry builds a marshalling registry from the stored directory.
func (db *DB) Registry() (*marshal.Registry, error) {
	datasets, err := db.Datasets()
	if err != nil {
		return nil, err
	}
	mappings, err := db.Mappings()
	if err != nil {
		return nil, err
	}
	return marshal.NewRegistry(datasets, mappings)
}
