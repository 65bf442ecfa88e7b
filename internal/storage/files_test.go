package storage

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chatgate/internal/domain"
)

func testStorageLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestFiles_SaveAndServe(t *testing.T) {
	f, err := NewFiles(Config{Dir: t.TempDir(), BaseURL: "http://localhost:3000", Logger: testStorageLogger()})
	if err != nil {
		t.Fatal(err)
	}

	url, err := f.Save(context.Background(), "true_111@c.us_ABC", domain.MediaMeta{MimeType: "image/jpeg"}, []byte("jpeg-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if url != "http://localhost:3000/files/true_111@c.us_ABC.jpg" {
		t.Errorf("unexpected url: %s", url)
	}

	srv := httptest.NewServer(f.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/files/" + "true_111@c.us_ABC.jpg")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "jpeg-bytes" {
		t.Errorf("served content mismatch: %q", body)
	}
}

func TestFiles_SanitizesHostileIDs(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFiles(Config{Dir: dir, BaseURL: "http://h", Logger: testStorageLogger()})
	if err != nil {
		t.Fatal(err)
	}

	url, err := f.Save(context.Background(), "../../etc/passwd", domain.MediaMeta{}, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(url, "..") || strings.Contains(url, "/etc/") {
		t.Errorf("id not sanitized: %s", url)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected one file inside the storage dir, got %d", len(entries))
	}

	// Explicit file names are reduced to their base name as well.
	url, err = f.Save(context.Background(), "msg-2",
		domain.MediaMeta{FileName: "../../outside.txt"}, []byte("y"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(url, "..") {
		t.Errorf("file name not sanitized: %s", url)
	}
	if _, err := os.Stat(filepath.Join(dir, "outside.txt")); err != nil {
		t.Errorf("expected outside.txt inside the storage dir: %v", err)
	}
}

func TestFiles_Clean(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "stale.bin"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := NewFiles(Config{Dir: dir, BaseURL: "http://h", Logger: testStorageLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Clean(); err != nil {
		t.Fatal(err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected empty dir after Clean, found %d entries", len(entries))
	}
}

func TestExtensionFor(t *testing.T) {
	if got := ExtensionFor("image/jpeg"); got != ".jpg" {
		t.Errorf("expected .jpg, got %s", got)
	}
	if got := ExtensionFor("audio/ogg; codecs=opus"); got != ".ogg" {
		t.Errorf("parameters should be stripped, got %s", got)
	}
	if got := ExtensionFor("application/x-unknown"); got != ".bin" {
		t.Errorf("expected .bin fallback, got %s", got)
	}
}
