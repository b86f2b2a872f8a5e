// Package ingest turns files on disk into catalog items. Zip archives holding
// media are decomposed into collections; everything else becomes one item.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/banux/mathom/internal/archive"
	"github.com/banux/mathom/internal/catalog"
	"github.com/banux/mathom/internal/epub"
	"github.com/banux/mathom/internal/media"
	"github.com/banux/mathom/internal/storage"
)

// Service coordinates ingestion, lookup and removal of catalog items.
type Service struct {
	Store  catalog.Store
	Layout storage.Layout
	Logger *slog.Logger
}

// New returns a Service. A nil logger means slog.Default().
func New(store catalog.Store, layout storage.Layout, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Store: store, Layout: layout, Logger: logger}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// overrides are the collection-level fields forced onto archive members.
type overrides struct {
	collectionID   string
	collectionName string
	coverPath      string
}

// Add ingests the file at path and returns the items that were created: one
// for a plain file, one per media entry for a decomposed archive.
func (s *Service) Add(ctx context.Context, path string) ([]catalog.Item, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", abs, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%q is a directory", abs)
	}

	if media.IsZip(media.DetectMIME(abs)) {
		return s.addArchive(ctx, abs)
	}
	item, err := s.buildItem(abs, nil)
	if err != nil {
		return nil, err
	}
	stored, err := s.Store.Insert(ctx, item)
	if err != nil {
		s.removeFile(catalog.Deref(item.CoverPath))
		return nil, fmt.Errorf("store %q: %w", abs, err)
	}
	s.logger().Info("ingested file", "id", stored.ID, "path", stored.Path, "section", stored.Section)
	return []catalog.Item{stored}, nil
}

func (s *Service) addArchive(ctx context.Context, zipPath string) ([]catalog.Item, error) {
	res, err := archive.Decompose(zipPath, s.Layout)
	if err != nil {
		return nil, err
	}
	if res.Single {
		item, err := s.buildItem(zipPath, nil)
		if err != nil {
			return nil, err
		}
		stored, err := s.Store.Insert(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("store %q: %w", zipPath, err)
		}
		s.logger().Info("ingested archive as single file", "id", stored.ID, "path", stored.Path)
		return []catalog.Item{stored}, nil
	}

	ov := &overrides{
		collectionID:   res.CollectionID,
		collectionName: res.CollectionName,
		coverPath:      res.CoverPath,
	}
	items := make([]catalog.Item, 0, len(res.Members))
	var ownCovers []string
	fail := func(err error) ([]catalog.Item, error) {
		for _, c := range ownCovers {
			s.removeFile(c)
		}
		if cerr := res.Cleanup(); cerr != nil {
			s.logger().Warn("archive cleanup failed", "collection", res.CollectionID, "error", cerr)
		}
		return nil, err
	}
	for _, m := range res.Members {
		item, err := s.buildItem(m.Path, ov)
		if err != nil {
			return fail(err)
		}
		if ov.coverPath == "" && item.CoverPath != nil {
			ownCovers = append(ownCovers, *item.CoverPath)
		}
		items = append(items, item)
	}

	stored, err := s.Store.InsertMany(ctx, items)
	if err != nil {
		return fail(fmt.Errorf("store collection %q: %w", res.CollectionName, err))
	}
	s.logger().Info("ingested collection",
		"collection", res.CollectionID,
		"name", res.CollectionName,
		"items", len(stored),
	)
	return stored, nil
}

// buildItem produces an unsaved item for one file. With overrides, the
// collection fields are applied and a shared cover replaces any cover the
// file carries itself.
func (s *Service) buildItem(path string, ov *overrides) (catalog.Item, error) {
	info, err := os.Stat(path)
	if err != nil {
		return catalog.Item{}, fmt.Errorf("stat %q: %w", path, err)
	}
	mimeType := media.DetectMIME(path)
	item := catalog.Item{
		Name:     filepath.Base(path),
		Path:     path,
		MIMEType: mimeType,
		Size:     info.Size(),
		Section:  media.Classify(mimeType),
	}

	if media.IsEPUB(mimeType) {
		meta := epub.Extract(path)
		item.Title = catalog.StringPtr(meta.Title)
		item.Author = catalog.StringPtr(meta.Author)
		if meta.HasCover() && (ov == nil || ov.coverPath == "") {
			cover, err := s.writeCover(meta)
			if err != nil {
				s.logger().Warn("could not save epub cover", "path", path, "error", err)
			} else {
				item.CoverPath = &cover
			}
		}
	}

	if ov != nil {
		item.CollectionID = catalog.StringPtr(ov.collectionID)
		item.CollectionName = catalog.StringPtr(ov.collectionName)
		if ov.coverPath != "" {
			item.CoverPath = catalog.StringPtr(ov.coverPath)
		}
	}
	return item, nil
}

func (s *Service) writeCover(meta epub.Metadata) (string, error) {
	dir, err := s.Layout.EnsureCovers()
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, uuid.NewString()+"."+meta.CoverExt)
	if err := os.WriteFile(dest, meta.Cover, 0644); err != nil {
		return "", fmt.Errorf("write cover: %w", err)
	}
	return dest, nil
}

// Get returns one item or catalog.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*catalog.Item, error) {
	return s.Store.FindByID(ctx, id)
}

// List returns every item, newest first.
func (s *Service) List(ctx context.Context) ([]catalog.Item, error) {
	return s.Store.List(ctx)
}

// Remove deletes one item and any managed files only it referenced.
func (s *Service) Remove(ctx context.Context, id string) error {
	item, err := s.Store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Store.DeleteOne(ctx, id); err != nil {
		return err
	}
	s.logger().Info("removed item", "id", id, "path", item.Path)
	s.cleanup(ctx, []catalog.Item{*item})
	return nil
}

// RemoveCollection deletes every member of a collection in one operation.
func (s *Service) RemoveCollection(ctx context.Context, collectionID string) error {
	items, err := s.Store.FindByCollectionID(ctx, collectionID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("collection %q: %w", collectionID, catalog.ErrNotFound)
	}
	if err := s.Store.DeleteMany(ctx, items); err != nil {
		return err
	}
	s.logger().Info("removed collection", "collection", collectionID, "items", len(items))
	s.cleanup(ctx, items)

	dir := s.Layout.CollectionDir(collectionID)
	if s.Layout.Managed(dir) {
		if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger().Warn("could not remove collection dir", "dir", dir, "error", err)
		}
	}
	return nil
}

// CoverPath returns the cover file of an item, or catalog.ErrNotFound when
// the item does not exist or has no cover.
func (s *Service) CoverPath(ctx context.Context, id string) (string, error) {
	item, err := s.Store.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	if item.CoverPath == nil || *item.CoverPath == "" {
		return "", fmt.Errorf("cover for %q: %w", id, catalog.ErrNotFound)
	}
	return *item.CoverPath, nil
}

// cleanup removes the managed files of deleted items. Covers still
// referenced by a remaining item are kept. Failures are logged only: the
// records are already gone.
func (s *Service) cleanup(ctx context.Context, removed []catalog.Item) {
	covers := make(map[string]bool)
	for _, it := range removed {
		if s.Layout.Managed(it.Path) {
			s.removeFile(it.Path)
		}
		if c := catalog.Deref(it.CoverPath); c != "" && s.Layout.Managed(c) {
			covers[c] = true
		}
	}
	if len(covers) == 0 {
		return
	}

	remaining, err := s.Store.List(ctx)
	if err != nil {
		s.logger().Warn("could not check cover references", "error", err)
		return
	}
	for _, it := range remaining {
		delete(covers, catalog.Deref(it.CoverPath))
	}
	for c := range covers {
		s.removeFile(c)
	}
}

func (s *Service) removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger().Warn("could not remove file", "path", path, "error", err)
	}
}
