// Package opds renders the catalog as an OPDS 1.2 acquisition feed so that
// e-reader apps can browse and download items.
//
// Specification: https://specs.opds.io/opds-1.2
package opds

import (
	"encoding/xml"
	"time"

	"github.com/banux/mathom/internal/catalog"
)

const (
	NSAtom = "http://www.w3.org/2005/Atom"
	NSDC   = "http://purl.org/dc/terms/"

	RelAcquisition = "http://opds-spec.org/acquisition"
	RelCover       = "http://opds-spec.org/image"
	RelThumbnail   = "http://opds-spec.org/image/thumbnail"
	RelSelf        = "self"
	RelStart       = "start"

	MIMEAcquisitionFeed = "application/atom+xml;profile=opds-catalog;kind=acquisition"
)

// Feed is an Atom acquisition feed.
type Feed struct {
	XMLName xml.Name `xml:"feed"`
	Xmlns   string   `xml:"xmlns,attr"`
	XmlnsDC string   `xml:"xmlns:dc,attr"`

	ID      string   `xml:"id"`
	Title   string   `xml:"title"`
	Updated AtomDate `xml:"updated"`

	Links   []Link  `xml:"link"`
	Entries []Entry `xml:"entry"`
}

// AtomDate wraps time.Time for RFC 3339 XML serialization.
type AtomDate struct {
	Time time.Time
}

func (d AtomDate) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return e.EncodeElement(d.Time.UTC().Format(time.RFC3339), start)
}

func (d *AtomDate) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	var s string
	if err := dec.DecodeElement(&s, &start); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

type Author struct {
	Name string `xml:"name"`
}

type Link struct {
	Rel    string `xml:"rel,attr,omitempty"`
	Href   string `xml:"href,attr"`
	Type   string `xml:"type,attr,omitempty"`
	Length int64  `xml:"length,attr,omitempty"`
}

// Entry is one catalog item.
type Entry struct {
	ID      string   `xml:"id"`
	Title   string   `xml:"title"`
	Updated AtomDate `xml:"updated"`
	Authors []Author `xml:"author,omitempty"`

	// Collection name, when the item came out of an archive.
	IsPartOf string `xml:"dc:isPartOf,omitempty"`

	Links []Link `xml:"link"`
}

// Build turns items into a feed. base is the URL prefix of the API, without
// a trailing slash. The feed's updated time is the newest item's, or now for
// an empty catalog.
func Build(items []catalog.Item, base string, now time.Time) *Feed {
	f := &Feed{
		Xmlns:   NSAtom,
		XmlnsDC: NSDC,
		ID:      "urn:mathom:catalog",
		Title:   "Mathom",
		Updated: AtomDate{Time: now},
		Links: []Link{
			{Rel: RelSelf, Href: base + "/opds", Type: MIMEAcquisitionFeed},
			{Rel: RelStart, Href: base + "/opds", Type: MIMEAcquisitionFeed},
		},
	}
	for i, it := range items {
		if i == 0 || it.CreatedAt.After(f.Updated.Time) {
			f.Updated = AtomDate{Time: it.CreatedAt}
		}
		f.Entries = append(f.Entries, entryFor(it, base))
	}
	return f
}

func entryFor(it catalog.Item, base string) Entry {
	title := it.Name
	if it.Title != nil && *it.Title != "" {
		title = *it.Title
	}
	e := Entry{
		ID:       "urn:uuid:" + it.ID,
		Title:    title,
		Updated:  AtomDate{Time: it.CreatedAt},
		IsPartOf: catalog.Deref(it.CollectionName),
	}
	if it.Author != nil && *it.Author != "" {
		e.Authors = []Author{{Name: *it.Author}}
	}
	itemURL := base + "/files/" + it.ID
	e.Links = append(e.Links, Link{
		Rel:    RelAcquisition,
		Href:   itemURL + "/stream",
		Type:   it.MIMEType,
		Length: it.Size,
	})
	if it.CoverPath != nil {
		e.Links = append(e.Links,
			Link{Rel: RelCover, Href: itemURL + "/cover"},
			Link{Rel: RelThumbnail, Href: itemURL + "/cover"},
		)
	}
	return e
}

// MarshalToXML serializes the feed with an XML declaration.
func (f *Feed) MarshalToXML() ([]byte, error) {
	data, err := xml.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), data...), nil
}
