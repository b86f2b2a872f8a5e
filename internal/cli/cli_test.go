package cli

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/banux/mathom/internal/catalog"
)

// setup writes a config file pointing at a fresh data dir and returns the
// config path and the data dir.
func setup(t *testing.T, backend string) (string, string) {
	t.Helper()
	for _, k := range []string{
		"LISTEN_ADDR", "DATA_DIR", "COVERS_DIR", "EXTRACT_DIR", "BACKEND",
		"AUTH_PASSWORD", "ALLOWED_ORIGINS", "LOG_LEVEL", "LOG_FORMAT", "MATHOM_CONFIG",
	} {
		t.Setenv(k, "")
	}
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	cfg := "data_dir: " + dataDir + "\nbackend: " + backend + "\nlog_level: error\n"
	cfgPath := filepath.Join(root, "mathom.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, dataDir
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// addedIDs extracts item ids from "added <id>  <name> ..." lines.
func addedIDs(out string) []string {
	var ids []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "added" {
			ids = append(ids, fields[1])
		}
	}
	return ids
}

func TestAddListRemove(t *testing.T) {
	for _, backend := range []string{"sqlite", "fs"} {
		t.Run(backend, func(t *testing.T) {
			cfg, _ := setup(t, backend)
			src := filepath.Join(t.TempDir(), "chapter.mp3")
			if err := os.WriteFile(src, bytes.Repeat([]byte("x"), 2048), 0644); err != nil {
				t.Fatal(err)
			}

			code, out, errOut := runCLI(t, "--config", cfg, "add", src)
			if code != 0 {
				t.Fatalf("add exit %d: %s", code, errOut)
			}
			ids := addedIDs(out)
			if len(ids) != 1 || !strings.Contains(out, "chapter.mp3") || !strings.Contains(out, "2.0 KiB") {
				t.Fatalf("unexpected add output %q", out)
			}

			code, out, _ = runCLI(t, "--config", cfg, "list")
			if code != 0 || !strings.Contains(out, ids[0]) || !strings.Contains(out, "audio") {
				t.Fatalf("list exit %d, output %q", code, out)
			}

			code, out, errOut = runCLI(t, "--config", cfg, "rm", ids[0])
			if code != 0 || !strings.Contains(out, "removed "+ids[0]) {
				t.Fatalf("rm exit %d: %q %q", code, out, errOut)
			}
			if _, err := os.Stat(src); err != nil {
				t.Error("rm must not delete the user's file")
			}

			code, out, _ = runCLI(t, "--config", cfg, "list")
			if code != 0 || !strings.Contains(out, "Catalog is empty") {
				t.Errorf("list after rm: exit %d, %q", code, out)
			}
		})
	}
}

func TestAddArchiveAndRemoveCollection(t *testing.T) {
	cfg, dataDir := setup(t, "sqlite")

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range []string{"02.mp3", "01.mp3"} {
		f, _ := w.Create(name)
		_, _ = f.Write([]byte(name))
	}
	_ = w.Close()
	src := filepath.Join(t.TempDir(), "the_hobbit_librivox.zip")
	if err := os.WriteFile(src, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	code, out, errOut := runCLI(t, "--config", cfg, "add", src)
	if code != 0 {
		t.Fatalf("add exit %d: %s", code, errOut)
	}
	if ids := addedIDs(out); len(ids) != 2 {
		t.Fatalf("expected 2 added items, got %q", out)
	}

	code, out, _ = runCLI(t, "--config", cfg, "list")
	if code != 0 || !strings.Contains(out, "The Hobbit") {
		t.Fatalf("list: exit %d, %q", code, out)
	}

	entries, err := os.ReadDir(filepath.Join(dataDir, "extracted"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one collection dir, got %v (%v)", entries, err)
	}
	collectionID := entries[0].Name()

	code, out, errOut = runCLI(t, "--config", cfg, "rm-collection", collectionID)
	if code != 0 || !strings.Contains(out, "removed collection") {
		t.Fatalf("rm-collection exit %d: %q %q", code, out, errOut)
	}
	code, _, errOut = runCLI(t, "--config", cfg, "rm-collection", collectionID)
	if code == 0 || !strings.Contains(errOut, catalog.ErrNotFound.Error()) {
		t.Errorf("second rm-collection: exit %d, %q", code, errOut)
	}
}

func TestAdd_PartialFailure(t *testing.T) {
	cfg, _ := setup(t, "fs")
	good := filepath.Join(t.TempDir(), "good.pdf")
	if err := os.WriteFile(good, []byte("%PDF"), 0644); err != nil {
		t.Fatal(err)
	}

	code, out, errOut := runCLI(t, "--config", cfg, "add", good, filepath.Join(t.TempDir(), "missing.mp3"))
	if code != 1 {
		t.Errorf("expected exit 1, got %d", code)
	}
	if len(addedIDs(out)) != 1 {
		t.Errorf("the good path should still be added: %q", out)
	}
	if !strings.Contains(errOut, "1 of 2 paths could not be added") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestLockHeldByAnotherProcess(t *testing.T) {
	cfg, dataDir := setup(t, "fs")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatal(err)
	}
	other := flock.New(filepath.Join(dataDir, lockFilename))
	ok, err := other.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock: %v %v", ok, err)
	}
	defer other.Unlock()

	code, _, errOut := runCLI(t, "--config", cfg, "list")
	if code != 1 || !strings.Contains(errOut, errLocked.Error()) {
		t.Errorf("expected lock error, got exit %d, %q", code, errOut)
	}
}

func TestBadConfig(t *testing.T) {
	cfg, _ := setup(t, "postgres")
	code, _, errOut := runCLI(t, "--config", cfg, "list")
	if code != 1 || !strings.Contains(errOut, "unknown backend") {
		t.Errorf("exit %d, %q", code, errOut)
	}
}

func TestRenderItems(t *testing.T) {
	items := []catalog.Item{{
		ID:             "id-1",
		Name:           "01.mp3",
		Section:        catalog.SectionAudio,
		Size:           1536,
		CollectionName: catalog.StringPtr("Album"),
		CreatedAt:      time.Now().Add(-2 * time.Hour),
	}}
	out := renderItems(items)
	for _, want := range []string{"id-1", "01.mp3", "audio", "1.5 KiB", "Album", "2 hours ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}
