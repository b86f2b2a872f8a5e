package server

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banux/mathom/internal/catalog"
)

// do sends a request through the server and returns the recorder.
func do(t *testing.T, env *testEnv, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)
	return rr
}

// writeSource writes a file into the test's source directory.
func writeSource(t *testing.T, env *testEnv, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(env.src, name)
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func buildZip(t *testing.T, files map[string]string, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range order {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = f.Write([]byte(files[name]))
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func buildEPUBBytes(t *testing.T, title, author string, cover []byte) []byte {
	t.Helper()
	opf := `<package xmlns="http://www.idpf.org/2007/opf"><metadata xmlns:dc="http://purl.org/dc/elements/1.1/">` +
		`<dc:title>` + title + `</dc:title><dc:creator>` + author + `</dc:creator>` +
		`<meta name="cover" content="c"/></metadata>` +
		`<manifest><item id="c" href="cover.jpg" media-type="image/jpeg"/></manifest></package>`
	files := map[string]string{
		"META-INF/container.xml": `<container><rootfiles><rootfile full-path="content.opf"/></rootfiles></container>`,
		"content.opf":            opf,
		"cover.jpg":              string(cover),
	}
	return buildZip(t, files, "META-INF/container.xml", "content.opf", "cover.jpg")
}

// addFile posts path to /files and decodes the created items.
func addFile(t *testing.T, env *testEnv, path string) []catalog.Item {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"path": path})
	rr := do(t, env, http.MethodPost, "/files", string(body), nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("POST /files %q: expected 201, got %d: %s", path, rr.Code, rr.Body.String())
	}
	var items []catalog.Item
	if err := json.NewDecoder(rr.Body).Decode(&items); err != nil {
		t.Fatalf("decode add response: %v", err)
	}
	return items
}

// ---- list / add / get ----

func TestHandleList_Empty(t *testing.T) {
	env := newTestServer(t, Options{})
	rr := do(t, env, http.MethodGet, "/files", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("expected empty JSON array, got %q", got)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestHandleAdd_SingleFile(t *testing.T) {
	env := newTestServer(t, Options{})
	p := writeSource(t, env, "track.mp3", []byte("abcdef"))

	items := addFile(t, env, p)
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	it := items[0]
	if it.Name != "track.mp3" || it.Size != 6 || it.Section != catalog.SectionAudio {
		t.Errorf("unexpected item %+v", it)
	}

	rr := do(t, env, http.MethodGet, "/files/"+it.ID, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET item: %d", rr.Code)
	}
	var raw map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"id", "name", "path", "mimeType", "size", "section", "createdAt"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("JSON missing key %q", key)
		}
	}
	for _, key := range []string{"title", "author", "coverPath", "collectionId", "collectionName"} {
		if v, ok := raw[key]; !ok || v != nil {
			t.Errorf("JSON key %q should be null, got %v (present=%v)", key, v, ok)
		}
	}
}

func TestHandleAdd_Archive(t *testing.T) {
	env := newTestServer(t, Options{})
	p := writeSource(t, env, "moby_dick_librivox_64kb.zip", buildZip(t, map[string]string{
		"moby_02.mp3": "two",
		"moby_01.mp3": "one",
		"folder.jpg":  "JPEG",
	}, "moby_02.mp3", "folder.jpg", "moby_01.mp3"))

	items := addFile(t, env, p)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Name != "moby_01.mp3" || items[1].Name != "moby_02.mp3" {
		t.Errorf("chapter order wrong: %s, %s", items[0].Name, items[1].Name)
	}
	for _, it := range items {
		if catalog.Deref(it.CollectionName) != "Moby Dick" {
			t.Errorf("collection name = %q", catalog.Deref(it.CollectionName))
		}
		if it.CoverPath == nil {
			t.Error("expected shared cover")
		}
	}

	rr := do(t, env, http.MethodGet, "/files", "", nil)
	var listed []catalog.Item
	_ = json.NewDecoder(rr.Body).Decode(&listed)
	if len(listed) != 2 {
		t.Errorf("list has %d items, want 2", len(listed))
	}
}

func TestHandleAdd_BadRequests(t *testing.T) {
	env := newTestServer(t, Options{})
	cases := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{"path":`, http.StatusBadRequest},
		{"missing path", `{}`, http.StatusBadRequest},
		{"blank path", `{"path":"   "}`, http.StatusBadRequest},
		{"missing file", `{"path":"/definitely/not/here.mp3"}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, env, http.MethodPost, "/files", tc.body, nil)
			if rr.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestHandleGet_NotFound(t *testing.T) {
	env := newTestServer(t, Options{})
	rr := do(t, env, http.MethodGet, "/files/does-not-exist", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

// ---- delete ----

func TestHandleRemove(t *testing.T) {
	env := newTestServer(t, Options{})
	p := writeSource(t, env, "a.mp3", []byte("a"))
	it := addFile(t, env, p)[0]

	rr := do(t, env, http.MethodDelete, "/files/"+it.ID, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("DELETE: %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"ok":true}` {
		t.Errorf("body = %q", got)
	}
	if _, err := os.Stat(p); err != nil {
		t.Error("user file must survive removal")
	}
	if rr := do(t, env, http.MethodDelete, "/files/"+it.ID, "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("second DELETE: expected 404, got %d", rr.Code)
	}
}

func TestHandleRemoveCollection(t *testing.T) {
	env := newTestServer(t, Options{})
	p := writeSource(t, env, "album.zip", buildZip(t, map[string]string{
		"01.mp3": "1", "02.mp3": "2",
	}, "01.mp3", "02.mp3"))
	items := addFile(t, env, p)
	cid := catalog.Deref(items[0].CollectionID)

	rr := do(t, env, http.MethodDelete, "/files/collection/"+cid, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("DELETE collection: %d %s", rr.Code, rr.Body.String())
	}
	for _, it := range items {
		if rr := do(t, env, http.MethodGet, "/files/"+it.ID, "", nil); rr.Code != http.StatusNotFound {
			t.Errorf("member %s still present", it.ID)
		}
	}
	if rr := do(t, env, http.MethodDelete, "/files/collection/"+cid, "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("empty collection: expected 404, got %d", rr.Code)
	}
}

// ---- cover ----

func TestHandleCover(t *testing.T) {
	env := newTestServer(t, Options{})
	book := addFile(t, env, writeSource(t, env, "b.epub", buildEPUBBytes(t, "Title", "Author", []byte("JPEGDATA"))))[0]
	plain := addFile(t, env, writeSource(t, env, "p.pdf", []byte("%PDF")))[0]

	rr := do(t, env, http.MethodGet, "/files/"+book.ID+"/cover", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("cover: expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rr.Body.String() != "JPEGDATA" {
		t.Errorf("cover body = %q", rr.Body.String())
	}

	if rr := do(t, env, http.MethodGet, "/files/"+plain.ID+"/cover", "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("no cover: expected 404, got %d", rr.Code)
	}
	if rr := do(t, env, http.MethodGet, "/files/missing/cover", "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("missing item: expected 404, got %d", rr.Code)
	}
}

// ---- stream ----

func TestHandleStream(t *testing.T) {
	env := newTestServer(t, Options{})
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i)
	}
	it := addFile(t, env, writeSource(t, env, "song.mp3", data))[0]
	target := "/files/" + it.ID + "/stream"

	rr := do(t, env, http.MethodGet, target, "", nil)
	if rr.Code != http.StatusOK || rr.Body.Len() != 1000 {
		t.Fatalf("full stream: status %d, %d bytes", rr.Code, rr.Body.Len())
	}
	if rr.Header().Get("Accept-Ranges") != "bytes" || rr.Header().Get("Content-Type") != "audio/mpeg" {
		t.Errorf("headers = %v", rr.Header())
	}

	rr = do(t, env, http.MethodGet, target, "", map[string]string{"Range": "bytes=0-99"})
	if rr.Code != http.StatusPartialContent {
		t.Fatalf("range: expected 206, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Range"); got != "bytes 0-99/1000" {
		t.Errorf("Content-Range = %q", got)
	}
	if rr.Body.Len() != 100 || !bytes.Equal(rr.Body.Bytes(), data[:100]) {
		t.Errorf("range body mismatch (%d bytes)", rr.Body.Len())
	}

	rr = do(t, env, http.MethodGet, target, "", map[string]string{"Range": "bytes=500-"})
	if got := rr.Header().Get("Content-Range"); got != "bytes 500-999/1000" {
		t.Errorf("open range Content-Range = %q", got)
	}

	rr = do(t, env, http.MethodGet, target, "", map[string]string{"Range": "bytes=2000-"})
	if rr.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Errorf("out of range: expected 416, got %d", rr.Code)
	}

	rr = do(t, env, http.MethodHead, target, "", nil)
	if rr.Code != http.StatusOK || rr.Body.Len() != 0 || rr.Header().Get("Content-Length") != "1000" {
		t.Errorf("HEAD: status %d, body %d, length %q", rr.Code, rr.Body.Len(), rr.Header().Get("Content-Length"))
	}
}

func TestHandleStream_Missing(t *testing.T) {
	env := newTestServer(t, Options{})
	if rr := do(t, env, http.MethodGet, "/files/nope/stream", "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown item: expected 404, got %d", rr.Code)
	}

	p := writeSource(t, env, "gone.mp3", []byte("x"))
	it := addFile(t, env, p)[0]
	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}
	if rr := do(t, env, http.MethodGet, "/files/"+it.ID+"/stream", "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("deleted file: expected 404, got %d", rr.Code)
	}
}

func TestRequestID(t *testing.T) {
	env := newTestServer(t, Options{})
	rr := do(t, env, http.MethodGet, "/health", "", map[string]string{"X-Request-ID": "abc"})
	if got := rr.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("X-Request-ID = %q, want echo of abc", got)
	}
	rr = do(t, env, http.MethodGet, "/health", "", nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}
}

func TestRecovery(t *testing.T) {
	env := newTestServer(t, Options{})
	h := recoveryMiddleware(env.srv.log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}

// ---- opds ----

func TestOPDSFeed(t *testing.T) {
	env := newTestServer(t, Options{})
	items := addFile(t, env, writeSource(t, env, "track.mp3", []byte("audio")))

	rr := do(t, env, http.MethodGet, "/opds", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/atom+xml") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `href="/files/`+items[0].ID+`/stream"`) {
		t.Errorf("feed missing stream link:\n%s", body)
	}
}
