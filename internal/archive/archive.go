// Package archive decomposes zip archives into ordered collections of media
// files, e.g. an audiobook delivered as one zip of chapter files.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/banux/mathom/internal/media"
	"github.com/banux/mathom/internal/storage"
)

// Member is one extracted archive entry.
type Member struct {
	// EntryName is the full entry name inside the archive.
	EntryName string
	// Path is where the entry was written.
	Path string
}

// Result describes how an archive was decomposed.
type Result struct {
	// Single is true when the archive holds no extractable media and must be
	// ingested as one opaque file. All other fields are empty in that case.
	Single bool

	CollectionID   string
	CollectionName string

	// CoverPath is the extracted shared cover, or "" if the archive has no image.
	CoverPath string

	// Members are the extracted media entries in chapter order.
	Members []Member

	collectionDir string
}

// Cleanup removes every file Decompose wrote for this result.
func (r *Result) Cleanup() error {
	if r == nil || r.Single {
		return nil
	}
	var errs []error
	if r.collectionDir != "" {
		if err := os.RemoveAll(r.collectionDir); err != nil {
			errs = append(errs, err)
		}
	}
	if r.CoverPath != "" {
		if err := os.Remove(r.CoverPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Decompose inspects the zip at zipPath. If it contains extractable media,
// those entries are extracted under layout.ExtractDir/<collection id>/ in
// lexical entry-name order, and the first image entry (in archive order)
// becomes the collection cover under layout.CoversDir. Any extraction
// failure removes what was already written and returns the error.
func Decompose(zipPath string, layout storage.Layout) (res *Result, err error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("open archive %q: %w", zipPath, err)
	}
	defer zr.Close()

	var files, mediaFiles []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") || isJunk(f.Name) {
			continue
		}
		files = append(files, f)
		if media.IsExtractable(f.Name) {
			mediaFiles = append(mediaFiles, f)
		}
	}
	if len(mediaFiles) == 0 {
		return &Result{Single: true}, nil
	}

	res = &Result{
		CollectionID:   uuid.NewString(),
		CollectionName: CollectionName(zipPath),
	}
	defer func() {
		if err != nil {
			_ = res.Cleanup()
			res = nil
		}
	}()

	if _, err = layout.EnsureExtract(); err != nil {
		return res, err
	}
	res.collectionDir = layout.CollectionDir(res.CollectionID)
	if err = os.MkdirAll(res.collectionDir, 0755); err != nil {
		return res, fmt.Errorf("create collection dir: %w", err)
	}

	for _, f := range files {
		if !media.IsImage(f.Name) {
			continue
		}
		coversDir, cerr := layout.EnsureCovers()
		if cerr != nil {
			err = cerr
			return res, err
		}
		dest := filepath.Join(coversDir, res.CollectionID+path.Ext(entryBase(f.Name)))
		if err = extractTo(f, dest); err != nil {
			return res, fmt.Errorf("extract cover %q: %w", f.Name, err)
		}
		res.CoverPath = dest
		break
	}

	sort.SliceStable(mediaFiles, func(i, j int) bool {
		return mediaFiles[i].Name < mediaFiles[j].Name
	})

	taken := make(map[string]bool, len(mediaFiles))
	for _, f := range mediaFiles {
		dest := filepath.Join(res.collectionDir, storage.UniqueName(entryBase(f.Name), taken))
		if err = extractTo(f, dest); err != nil {
			return res, fmt.Errorf("extract %q: %w", f.Name, err)
		}
		res.Members = append(res.Members, Member{EntryName: f.Name, Path: dest})
	}
	return res, nil
}

func extractTo(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		_ = os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dest)
		return err
	}
	return nil
}

// entryBase returns the last path element of a zip entry name, accepting
// both slash styles.
func entryBase(name string) string {
	return path.Base(strings.ReplaceAll(name, `\`, "/"))
}

// isJunk reports entries added by archivers rather than by the author,
// such as macOS resource forks.
func isJunk(name string) bool {
	n := strings.ReplaceAll(name, `\`, "/")
	return strings.HasPrefix(n, "__MACOSX/") || strings.HasPrefix(path.Base(n), "._")
}

var bitrate = regexp.MustCompile(`^\d+k(b|bps)?$`)

var noiseWords = map[string]bool{
	"librivox": true,
	"mono":     true,
	"stereo":   true,
}

func isNoise(token string) bool {
	t := strings.ToLower(token)
	return noiseWords[t] || bitrate.MatchString(t)
}

// CollectionName derives a display title from an archive file name:
// "war_and_peace_librivox_64kb.zip" becomes "War And Peace".
func CollectionName(zipPath string) string {
	base := filepath.Base(zipPath)
	raw := strings.TrimSuffix(base, filepath.Ext(base))

	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '_' || unicode.IsSpace(r)
	})
	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		parts := strings.Split(tok, "-")
		clean := parts[:0]
		for _, p := range parts {
			if p != "" && !isNoise(p) {
				clean = append(clean, p)
			}
		}
		if len(clean) > 0 {
			kept = append(kept, strings.Join(clean, "-"))
		}
	}

	name := strings.Join(kept, " ")
	if name == "" {
		name = strings.Join(strings.Fields(strings.ReplaceAll(raw, "_", " ")), " ")
	}
	if name == "" {
		return raw
	}
	return cases.Title(language.Und, cases.NoLower).String(name)
}
