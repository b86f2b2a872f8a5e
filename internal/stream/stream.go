// Package stream serves files over HTTP with single byte-range support, so
// audio and video players can seek without downloading whole files.
package stream

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"
)

var (
	// ErrMalformed means the Range header is not a bytes range.
	ErrMalformed = errors.New("malformed range")
	// ErrMultiRange means the header asks for more than one range.
	ErrMultiRange = errors.New("multiple ranges not supported")
	// ErrUnsatisfiable means the range does not overlap the file.
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

var errIsDir = errors.New("is a directory")

// Range is an inclusive byte interval.
type Range struct {
	Start, End int64
}

// Length returns the number of bytes covered by r.
func (r Range) Length() int64 { return r.End - r.Start + 1 }

// ContentRange formats r for the Content-Range header.
func (r Range) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// ParseRange parses a Range header value against a file of the given size.
// Accepted forms are "bytes=S-E", "bytes=S-" and "bytes=-N". E is clamped to
// size-1.
func ParseRange(header string, size int64) (Range, error) {
	set, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return Range{}, ErrMalformed
	}
	if strings.Contains(set, ",") {
		return Range{}, ErrMultiRange
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(set), "-")
	if !ok {
		return Range{}, ErrMalformed
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)

	if startStr == "" {
		// Suffix range: the last N bytes.
		n, err := parseOffset(endStr)
		if err != nil {
			return Range{}, err
		}
		if n == 0 || size == 0 {
			return Range{}, ErrUnsatisfiable
		}
		if n > size {
			n = size
		}
		return Range{Start: size - n, End: size - 1}, nil
	}

	start, err := parseOffset(startStr)
	if err != nil {
		return Range{}, err
	}
	if start >= size {
		return Range{}, ErrUnsatisfiable
	}
	end := size - 1
	if endStr != "" {
		e, err := parseOffset(endStr)
		if err != nil {
			return Range{}, err
		}
		if e < start {
			return Range{}, ErrUnsatisfiable
		}
		if e < end {
			end = e
		}
	}
	return Range{Start: start, End: end}, nil
}

func parseOffset(s string) (int64, error) {
	if s == "" {
		return 0, ErrMalformed
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, ErrMalformed
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrMalformed
	}
	return n, nil
}

// Serve writes the file at path to w, honouring a single Range header.
// The file is stat'ed per request so the reported size is always current.
func Serve(w http.ResponseWriter, r *http.Request, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return &fs.PathError{Op: "stream", Path: path, Err: errIsDir}
	}
	size := info.Size()

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}

	header := r.Header.Get("Range")
	if header == "" {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		_, err := io.CopyN(w, f, size)
		return ignoreEOF(err)
	}

	rng, err := ParseRange(header, size)
	if err != nil {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	h.Set("Content-Range", rng.ContentRange(size))
	h.Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}
	_, err = io.CopyN(w, io.NewSectionReader(f, rng.Start, rng.Length()), rng.Length())
	return ignoreEOF(err)
}

// ignoreEOF tolerates a file that shrank between stat and copy.
func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
