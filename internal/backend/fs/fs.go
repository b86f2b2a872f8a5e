// Package fs implements a file-based catalog store for mathom.
// The whole catalog is held in memory and persisted as one JSON document,
// which suits small libraries and makes the data easy to inspect by hand.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/banux/mathom/internal/catalog"
)

// CatalogFilename is the JSON document created inside the data directory.
const CatalogFilename = "catalog.json"

// Backend is an in-memory catalog.Store persisted to {dir}/catalog.json.
// Every mutation rewrites the document before the lock is released, so
// readers never observe a partially applied batch.
type Backend struct {
	path string
	now  func() time.Time

	mu    sync.RWMutex
	items []catalog.Item // insertion order
	byID  map[string]int // id -> index in items
}

var _ catalog.Store = (*Backend)(nil)

// document is the on-disk shape of the catalog.
type document struct {
	Items []catalog.Item `json:"items"`
}

// New loads (or creates) the catalog in dir.
func New(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	b := &Backend{
		path: filepath.Join(dir, CatalogFilename),
		now:  time.Now,
		byID: make(map[string]int),
	}
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) load() error {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse catalog %q: %w", b.path, err)
	}
	b.items = doc.Items
	b.reindex()
	return nil
}

// save writes items to disk via a temp file and rename.
// Must be called with b.mu held for writing.
func (b *Backend) save(items []catalog.Item) error {
	if items == nil {
		items = []catalog.Item{}
	}
	data, err := json.MarshalIndent(document{Items: items}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".catalog-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		return fmt.Errorf("rename catalog: %w", err)
	}
	return nil
}

func (b *Backend) reindex() {
	b.byID = make(map[string]int, len(b.items))
	for i, it := range b.items {
		b.byID[it.ID] = i
	}
}

// Close is a no-op; every mutation is already on disk.
func (b *Backend) Close() error { return nil }

// List returns all items, newest first. Items created together keep their
// insertion order.
func (b *Backend) List(_ context.Context) ([]catalog.Item, error) {
	b.mu.RLock()
	out := append([]catalog.Item{}, b.items...)
	b.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// FindByID returns the item with the given ID.
func (b *Backend) FindByID(_ context.Context, id string) (*catalog.Item, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	i, ok := b.byID[id]
	if !ok {
		return nil, fmt.Errorf("item %q: %w", id, catalog.ErrNotFound)
	}
	it := b.items[i]
	return &it, nil
}

// FindByCollectionID returns every member of a collection in insertion order.
func (b *Backend) FindByCollectionID(_ context.Context, collectionID string) ([]catalog.Item, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := []catalog.Item{}
	for _, it := range b.items {
		if it.CollectionID != nil && *it.CollectionID == collectionID {
			out = append(out, it)
		}
	}
	return out, nil
}

// Insert stores one item.
func (b *Backend) Insert(ctx context.Context, item catalog.Item) (catalog.Item, error) {
	out, err := b.InsertMany(ctx, []catalog.Item{item})
	if err != nil {
		return catalog.Item{}, err
	}
	return out[0], nil
}

// InsertMany stores all items or none of them.
func (b *Backend) InsertMany(ctx context.Context, items []catalog.Item) ([]catalog.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	out := make([]catalog.Item, len(items))
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		it = catalog.Stamp(it, now)
		if _, dup := b.byID[it.ID]; dup || seen[it.ID] {
			return nil, fmt.Errorf("item %q already exists", it.ID)
		}
		seen[it.ID] = true
		out[i] = it
	}

	next := make([]catalog.Item, 0, len(b.items)+len(out))
	next = append(next, b.items...)
	next = append(next, out...)
	if err := b.save(next); err != nil {
		return nil, err
	}
	b.items = next
	b.reindex()
	return out, nil
}

// DeleteOne removes the item with the given ID.
func (b *Backend) DeleteOne(ctx context.Context, id string) error {
	b.mu.RLock()
	i, ok := b.byID[id]
	var it catalog.Item
	if ok {
		it = b.items[i]
	}
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("item %q: %w", id, catalog.ErrNotFound)
	}
	return b.DeleteMany(ctx, []catalog.Item{it})
}

// DeleteMany removes all given items or none of them.
func (b *Backend) DeleteMany(ctx context.Context, items []catalog.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	drop := make(map[string]bool, len(items))
	for _, it := range items {
		drop[it.ID] = true
	}
	next := make([]catalog.Item, 0, len(b.items))
	for _, it := range b.items {
		if !drop[it.ID] {
			next = append(next, it)
		}
	}
	if len(next) == len(b.items) {
		return nil
	}
	if err := b.save(next); err != nil {
		return err
	}
	b.items = next
	b.reindex()
	return nil
}
