// Package storage describes where mathom writes the files it owns: extracted
// cover images and extracted archive members.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Layout holds the two managed storage roots. Both are created on demand.
type Layout struct {
	CoversDir  string
	ExtractDir string
}

// EnsureCovers creates the covers directory if needed and returns it.
func (l Layout) EnsureCovers() (string, error) {
	return ensureDir(l.CoversDir)
}

// EnsureExtract creates the extraction directory if needed and returns it.
func (l Layout) EnsureExtract() (string, error) {
	return ensureDir(l.ExtractDir)
}

// CollectionDir returns the extraction directory for one collection.
func (l Layout) CollectionDir(collectionID string) string {
	return filepath.Join(l.ExtractDir, collectionID)
}

// Managed reports whether path lives under one of the managed roots. Only
// managed files are ever removed by mathom.
func (l Layout) Managed(path string) bool {
	return within(l.CoversDir, path) || within(l.ExtractDir, path)
}

func ensureDir(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("storage directory not configured")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create %q: %w", dir, err)
	}
	return dir, nil
}

func within(root, path string) bool {
	if root == "" || path == "" {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// UniqueName returns name, or name with a " (n)" suffix before the extension
// when name is already in taken. The returned name is added to taken.
func UniqueName(name string, taken map[string]bool) string {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; taken[candidate]; n++ {
		candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
	}
	taken[candidate] = true
	return candidate
}
