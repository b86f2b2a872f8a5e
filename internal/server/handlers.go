package server

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/banux/mathom/internal/catalog"
	"github.com/banux/mathom/internal/media"
	"github.com/banux/mathom/internal/opds"
	"github.com/banux/mathom/internal/stream"
)

// maxAddBodySize bounds the JSON body of POST /files.
const maxAddBodySize = 64 << 10

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors to plain-text HTTP errors.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// handleHealth serves a simple health-check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleList returns every item, newest first.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []catalog.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

// writeOPDS writes an OPDS XML feed response.
func writeOPDS(w http.ResponseWriter, status int, feed *opds.Feed) {
	data, err := feed.MarshalToXML()
	if err != nil {
		http.Error(w, "feed serialization error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", opds.MIMEAcquisitionFeed+"; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// handleOPDS serves the whole catalog as an acquisition feed with
// server-relative links.
func (s *Server) handleOPDS(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOPDS(w, http.StatusOK, opds.Build(items, "", time.Now()))
}

// addRequest is the body of POST /files.
type addRequest struct {
	Path string `json:"path"`
}

// handleAdd ingests a file already present on the server's filesystem and
// returns the created items.
func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAddBodySize)
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.Path = strings.TrimSpace(req.Path)
	if req.Path == "" {
		http.Error(w, "missing 'path' field", http.StatusBadRequest)
		return
	}

	items, err := s.svc.Add(r.Context(), req.Path)
	if err != nil {
		s.log.Warn("ingestion failed", "path", req.Path, "error", err)
		http.Error(w, "ingestion failed: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusCreated, items)
}

// handleGet returns a single item.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	item, err := s.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleRemove deletes a single item.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Remove(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleRemoveCollection deletes every member of a collection.
func (s *Server) handleRemoveCollection(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RemoveCollection(r.Context(), mux.Vars(r)["collectionId"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleCover serves the extracted cover image of an item.
func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	coverPath, err := s.svc.CoverPath(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	f, err := os.Open(coverPath)
	if errors.Is(err, fs.ErrNotExist) {
		http.Error(w, "cover not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", media.ImageType(coverPath))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeContent(w, r, filepath.Base(coverPath), time.Time{}, f)
}

// handleStream serves an item's bytes with single-range support.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	item, err := s.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	err = stream.Serve(w, r, item.Path, item.MIMEType)
	if err == nil {
		return
	}
	var pathErr *fs.PathError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		http.Error(w, "file missing", http.StatusNotFound)
	case errors.As(err, &pathErr):
		s.writeError(w, r, err)
	default:
		// The response is already under way; most often the client went away.
		s.log.Debug("stream ended early", "id", item.ID, "error", err)
	}
}
