// Package sqlite implements a SQLite-backed catalog store for mathom.
// Items live in a single table; multi-item writes run in one transaction so
// a collection is either fully present or fully absent.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banux/mathom/internal/catalog"
	_ "modernc.org/sqlite" // register "sqlite" driver
)

// DBFilename is the database file created inside the data directory.
const DBFilename = "mathom.db"

// Backend is a SQLite-backed catalog.Store.
type Backend struct {
	db  *sql.DB
	now func() time.Time
}

var _ catalog.Store = (*Backend)(nil)

// New opens (or creates) the database at {dir}/mathom.db and applies the schema.
func New(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return Open(filepath.Join(dir, DBFilename))
}

// Open opens the database file at dbPath.
func Open(dbPath string) (*Backend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", dbPath, err)
	}
	// A single connection serialises writers; WAL keeps readers unblocked
	// by other processes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	b := &Backend{db: db, now: time.Now}
	if err := b.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return b, nil
}

// Close releases database resources.
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) createSchema() error {
	_, err := b.db.Exec(`
CREATE TABLE IF NOT EXISTS items (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    id              TEXT NOT NULL UNIQUE,
    name            TEXT NOT NULL,
    path            TEXT NOT NULL,
    mime_type       TEXT NOT NULL,
    size            INTEGER NOT NULL DEFAULT 0,
    section         TEXT NOT NULL,
    title           TEXT,
    author          TEXT,
    cover_path      TEXT,
    collection_id   TEXT,
    collection_name TEXT,
    created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_created_at ON items(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_items_collection_id ON items(collection_id);
`)
	return err
}

// itemColumns is the SELECT list matching itemRow.scan.
const itemColumns = `id, name, path, mime_type, size, section,
    title, author, cover_path, collection_id, collection_name, created_at`

// List returns all items, newest first. Items created together keep their
// insertion order.
func (b *Backend) List(ctx context.Context) ([]catalog.Item, error) {
	return b.queryItems(ctx, `ORDER BY created_at DESC, seq ASC`)
}

// FindByID returns the item with the given ID.
func (b *Backend) FindByID(ctx context.Context, id string) (*catalog.Item, error) {
	items, err := b.queryItems(ctx, `WHERE id = ? LIMIT 1`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("item %q: %w", id, catalog.ErrNotFound)
	}
	return &items[0], nil
}

// FindByCollectionID returns every member of a collection in insertion order.
func (b *Backend) FindByCollectionID(ctx context.Context, collectionID string) ([]catalog.Item, error) {
	return b.queryItems(ctx, `WHERE collection_id = ? ORDER BY seq ASC`, collectionID)
}

// Insert stores one item.
func (b *Backend) Insert(ctx context.Context, item catalog.Item) (catalog.Item, error) {
	out, err := b.InsertMany(ctx, []catalog.Item{item})
	if err != nil {
		return catalog.Item{}, err
	}
	return out[0], nil
}

// InsertMany stores all items in one transaction.
func (b *Backend) InsertMany(ctx context.Context, items []catalog.Item) ([]catalog.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO items
    (id, name, path, mime_type, size, section,
     title, author, cover_path, collection_id, collection_name, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	now := b.now()
	out := make([]catalog.Item, len(items))
	for i, it := range items {
		it = catalog.Stamp(it, now)
		if _, err := stmt.ExecContext(ctx,
			it.ID, it.Name, it.Path, it.MIMEType, it.Size, string(it.Section),
			nullString(it.Title), nullString(it.Author), nullString(it.CoverPath),
			nullString(it.CollectionID), nullString(it.CollectionName),
			it.CreatedAt.UnixNano(),
		); err != nil {
			return nil, fmt.Errorf("insert item %q: %w", it.Name, err)
		}
		out[i] = it
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteOne removes the item with the given ID.
func (b *Backend) DeleteOne(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete item %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("item %q: %w", id, catalog.ErrNotFound)
	}
	return nil
}

// DeleteMany removes all given items in one transaction.
func (b *Backend) DeleteMany(ctx context.Context, items []catalog.Item) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, it := range items {
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, it.ID); err != nil {
			return fmt.Errorf("delete item %q: %w", it.ID, err)
		}
	}
	return tx.Commit()
}

// --- query helpers ---

// itemRow is the raw data scanned from the items table.
type itemRow struct {
	ID             string
	Name           string
	Path           string
	MIMEType       string
	Size           int64
	Section        string
	Title          sql.NullString
	Author         sql.NullString
	CoverPath      sql.NullString
	CollectionID   sql.NullString
	CollectionName sql.NullString
	CreatedAt      int64
}

func (r itemRow) toItem() catalog.Item {
	return catalog.Item{
		ID:             r.ID,
		Name:           r.Name,
		Path:           r.Path,
		MIMEType:       r.MIMEType,
		Size:           r.Size,
		Section:        catalog.Section(r.Section),
		Title:          stringPtr(r.Title),
		Author:         stringPtr(r.Author),
		CoverPath:      stringPtr(r.CoverPath),
		CollectionID:   stringPtr(r.CollectionID),
		CollectionName: stringPtr(r.CollectionName),
		CreatedAt:      time.Unix(0, r.CreatedAt).UTC(),
	}
}

// queryItems runs a SELECT over items with clause appended after the table name.
func (b *Backend) queryItems(ctx context.Context, clause string, args ...any) ([]catalog.Item, error) {
	q := `SELECT ` + itemColumns + ` FROM items ` + strings.TrimSpace(clause)
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := []catalog.Item{}
	for rows.Next() {
		var r itemRow
		if err := rows.Scan(
			&r.ID, &r.Name, &r.Path, &r.MIMEType, &r.Size, &r.Section,
			&r.Title, &r.Author, &r.CoverPath, &r.CollectionID, &r.CollectionName,
			&r.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, r.toItem())
	}
	return items, rows.Err()
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
