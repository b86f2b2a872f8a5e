// Package catalog provides the media catalog abstraction for mathom.
// It defines the core record type and the Store interface that backends implement.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores and services when a referenced item or
// collection has no matching record.
var ErrNotFound = errors.New("not found")

// Section is the coarse content classification of an item.
type Section string

const (
	SectionAudio Section = "audio"
	SectionVideo Section = "video"
	SectionBook  Section = "book"
	SectionOther Section = "other"
)

// Valid reports whether s is one of the known sections.
func (s Section) Valid() bool {
	switch s {
	case SectionAudio, SectionVideo, SectionBook, SectionOther:
		return true
	}
	return false
}

// Item represents one playable or readable unit in the catalog.
// All fields are fixed once the item has been stored.
type Item struct {
	// ID is the opaque identifier assigned by the store on insert.
	ID string `json:"id"`

	// Name is the base name of the original file.
	Name string `json:"name"`

	// Path is the absolute location of the stored bytes. For archive members
	// this is the location after extraction.
	Path string `json:"path"`

	// MIMEType is the detected content type (application/octet-stream if unknown).
	MIMEType string `json:"mimeType"`

	// Size is the byte length captured at ingestion.
	Size int64 `json:"size"`

	// Section is derived from MIMEType at ingestion and never recomputed.
	Section Section `json:"section"`

	// Title and Author are set only when extractable (EPUB metadata).
	Title  *string `json:"title"`
	Author *string `json:"author"`

	// CoverPath is the filesystem path of an extracted cover image.
	CoverPath *string `json:"coverPath"`

	// CollectionID is shared by all items extracted from the same archive.
	CollectionID *string `json:"collectionId"`

	// CollectionName is the display name shared by all members of a collection.
	CollectionName *string `json:"collectionName"`

	// CreatedAt is the ingestion timestamp assigned by the store.
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the persistence interface consumed by the ingestion service and
// the HTTP server. Implementations must make InsertMany and DeleteMany
// atomic: concurrent readers observe either all of the affected records or
// none of them.
type Store interface {
	// List returns every item, most recently created first.
	List(ctx context.Context) ([]Item, error)

	// FindByID returns the item with the given ID or ErrNotFound.
	FindByID(ctx context.Context, id string) (*Item, error)

	// FindByCollectionID returns all members of a collection (possibly none).
	FindByCollectionID(ctx context.Context, collectionID string) ([]Item, error)

	// Insert stores a new item, assigning ID and CreatedAt when unset.
	Insert(ctx context.Context, item Item) (Item, error)

	// InsertMany stores several items in one all-or-nothing operation.
	InsertMany(ctx context.Context, items []Item) ([]Item, error)

	// DeleteOne removes the item with the given ID or returns ErrNotFound.
	DeleteOne(ctx context.Context, id string) error

	// DeleteMany removes all given items in one all-or-nothing operation.
	DeleteMany(ctx context.Context, items []Item) error

	// Close releases backend resources.
	Close() error
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the value behind p, or "" when p is nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Stamp fills in ID and CreatedAt when they are unset. Backends call it on
// every insert.
func Stamp(item Item, now time.Time) Item {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now.UTC()
	}
	return item
}
