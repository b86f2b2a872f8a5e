// Package media detects content types from file names and maps them to
// library sections.
package media

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/banux/mathom/internal/catalog"
)

// Content types the ingestion pipeline branches on.
const (
	TypeOctetStream = "application/octet-stream"
	TypeZip         = "application/zip"
	TypeZipLegacy   = "application/x-zip-compressed"
	TypeEPUB        = "application/epub+zip"
	TypePDF         = "application/pdf"
	TypeMobi        = "application/x-mobipocket-ebook"
)

// knownTypes pins the media types the library cares about so detection does
// not depend on the host's mime tables.
var knownTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".m4b":  "audio/mp4",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".flac": "audio/x-flac",
	".wav":  "audio/wav",
	".aac":  "audio/aac",
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".epub": TypeEPUB,
	".pdf":  TypePDF,
	".mobi": TypeMobi,
	".zip":  TypeZip,
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// extractable lists the archive entry extensions that become catalog items.
var extractable = map[string]bool{
	".mp3": true, ".m4a": true, ".m4b": true, ".ogg": true, ".flac": true,
	".wav": true, ".aac": true, ".opus": true,
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".webm": true,
	".epub": true, ".pdf": true, ".mobi": true,
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
}

// DetectMIME returns the content type for path based on its extension, or
// TypeOctetStream when the extension is unknown.
func DetectMIME(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return TypeOctetStream
	}
	if t, ok := knownTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
		return t
	}
	return TypeOctetStream
}

// Classify maps a content type to its library section.
func Classify(mimeType string) catalog.Section {
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return catalog.SectionAudio
	case strings.HasPrefix(mimeType, "video/"):
		return catalog.SectionVideo
	case mimeType == TypePDF, mimeType == TypeEPUB, mimeType == TypeMobi:
		return catalog.SectionBook
	default:
		return catalog.SectionOther
	}
}

// IsZip reports whether mimeType denotes a zip archive (but not a zip-based
// container such as EPUB).
func IsZip(mimeType string) bool {
	return mimeType == TypeZip || mimeType == TypeZipLegacy
}

// IsEPUB reports whether mimeType denotes an EPUB book.
func IsEPUB(mimeType string) bool {
	return mimeType == TypeEPUB
}

// IsExtractable reports whether an archive entry with this name is playable
// or readable media.
func IsExtractable(name string) bool {
	return extractable[strings.ToLower(filepath.Ext(name))]
}

// IsImage reports whether name looks like a cover image.
func IsImage(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// ImageType returns the content type for a cover file, defaulting to JPEG.
func ImageType(path string) string {
	t := DetectMIME(path)
	if !strings.HasPrefix(t, "image/") {
		return "image/jpeg"
	}
	return t
}
