// Package epub extracts title, author and cover art from EPUB containers.
//
// Extraction is fail-soft: malformed or non-standard books yield a partial
// or empty Metadata, never an error. Element lookup goes through XPath on
// local-name() so namespace prefixes and element cardinality do not matter;
// every query returns a list and every value is read as trimmed text.
package epub

import (
	"archive/zip"
	"bytes"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

const containerPath = "META-INF/container.xml"

// Upper bounds on what is read from a single entry.
const (
	maxXMLSize   = 8 << 20
	maxCoverSize = 32 << 20
)

// Metadata is what could be recovered from a book. Zero-valued fields were
// not found.
type Metadata struct {
	Title    string
	Author   string
	Cover    []byte
	CoverExt string // without the dot, e.g. "jpg"
}

// HasCover reports whether cover bytes were extracted.
func (m Metadata) HasCover() bool {
	return len(m.Cover) > 0
}

var (
	exprRootfile = xpath.MustCompile(`//*[local-name()='rootfiles']/*[local-name()='rootfile']`)
	exprTitle    = xpath.MustCompile(`//*[local-name()='metadata']//*[local-name()='title']`)
	exprCreator  = xpath.MustCompile(`//*[local-name()='metadata']//*[local-name()='creator']`)
	exprMeta     = xpath.MustCompile(`//*[local-name()='metadata']//*[local-name()='meta']`)
	exprItem     = xpath.MustCompile(`//*[local-name()='manifest']/*[local-name()='item']`)
)

// Extract opens the EPUB at path and returns whatever metadata it can find.
func Extract(path string) Metadata {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Metadata{}
	}
	defer zr.Close()
	return extractFrom(&zr.Reader)
}

// ExtractReader is Extract for an EPUB held in memory or another ReaderAt.
func ExtractReader(r io.ReaderAt, size int64) Metadata {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return Metadata{}
	}
	return extractFrom(zr)
}

func extractFrom(zr *zip.Reader) Metadata {
	entries := indexEntries(zr)

	container := parseEntry(entries, containerPath)
	if container == nil {
		return Metadata{}
	}
	opfPath := attr(first(all(container, exprRootfile)), "full-path")
	if opfPath == "" {
		return Metadata{}
	}

	pkg := parseEntry(entries, opfPath)
	if pkg == nil {
		return Metadata{}
	}

	meta := Metadata{
		Title:  text(first(all(pkg, exprTitle))),
		Author: text(first(all(pkg, exprCreator))),
	}

	item := findCoverItem(pkg)
	if item == nil {
		return meta
	}
	href := attr(item, "href")
	if href == "" {
		return meta
	}
	f := lookupHref(entries, opfDir(opfPath), href)
	if f == nil {
		return meta
	}
	data, err := readEntry(f, maxCoverSize)
	if err != nil || len(data) == 0 {
		return meta
	}
	meta.Cover = data
	meta.CoverExt = coverExt(attr(item, "media-type"))
	return meta
}

// findCoverItem resolves the manifest item holding the cover image. A
// <meta name="cover" content="ID"> reference wins over an item carrying the
// cover-image property.
func findCoverItem(pkg *xmlquery.Node) *xmlquery.Node {
	items := all(pkg, exprItem)

	for _, m := range all(pkg, exprMeta) {
		if attr(m, "name") != "cover" {
			continue
		}
		id := attr(m, "content")
		for _, it := range items {
			if id != "" && attr(it, "id") == id {
				return it
			}
		}
		break
	}

	for _, it := range items {
		for _, p := range strings.Fields(attr(it, "properties")) {
			if p == "cover-image" {
				return it
			}
		}
	}
	return nil
}

// lookupHref finds href relative to the package directory, falling back to
// the href as given and to its percent-decoded form.
func lookupHref(entries map[string]*zip.File, dir, href string) *zip.File {
	candidates := []string{path.Join(dir, href), href}
	if dec, err := url.PathUnescape(href); err == nil && dec != href {
		candidates = append(candidates, path.Join(dir, dec), dec)
	}
	for _, c := range candidates {
		if f, ok := entries[c]; ok {
			return f
		}
	}
	return nil
}

// coverExt derives a file extension from a declared media type.
func coverExt(mediaType string) string {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return "jpg"
	}
	_, sub, ok := strings.Cut(mt, "/")
	if !ok || sub == "" {
		return "jpg"
	}
	sub, _, _ = strings.Cut(sub, "+")
	if sub == "jpeg" {
		return "jpg"
	}
	return sub
}

func opfDir(opfPath string) string {
	dir := path.Dir(opfPath)
	if dir == "." {
		return ""
	}
	return dir
}

func indexEntries(zr *zip.Reader) map[string]*zip.File {
	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		if _, dup := entries[f.Name]; !dup {
			entries[f.Name] = f
		}
	}
	return entries
}

func parseEntry(entries map[string]*zip.File, name string) *xmlquery.Node {
	f, ok := entries[name]
	if !ok {
		return nil
	}
	data, err := readEntry(f, maxXMLSize)
	if err != nil {
		return nil
	}
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return doc
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, limit))
}

// all evaluates expr under top and always yields a list.
func all(top *xmlquery.Node, expr *xpath.Expr) []*xmlquery.Node {
	if top == nil {
		return nil
	}
	return xmlquery.QuerySelectorAll(top, expr)
}

func first(nodes []*xmlquery.Node) *xmlquery.Node {
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// text reads an element as plain text whether it carries attributes or not.
func text(n *xmlquery.Node) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.InnerText())
}

func attr(n *xmlquery.Node, name string) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.SelectAttr(name))
}
