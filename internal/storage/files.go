// Package storage persists media attachments to local disk and republishes
// them at stable URLs served by the gateway.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"chatgate/internal/domain"
)

// Files implements domain.MediaStorage on a local directory. Saved files
// are reachable under <baseURL>/files/<name> via Handler.
type Files struct {
	dir     string
	baseURL string
	logger  *slog.Logger
}

// Config configures the file storage.
type Config struct {
	Dir     string // download directory, created if missing
	BaseURL string // public base URL of the gateway, e.g. http://localhost:3000
	Logger  *slog.Logger
}

// NewFiles creates the storage directory and returns a Files store.
func NewFiles(cfg Config) (*Files, error) {
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(os.TempDir(), "chatgate-files")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create storage directory %s: %w", cfg.Dir, err)
	}
	return &Files{
		dir:     cfg.Dir,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  cfg.Logger,
	}, nil
}

// Clean removes everything in the storage directory. Called at startup so
// stale attachments from a previous run don't accumulate.
func (f *Files) Clean() error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(f.dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			f.logger.Warn("cannot remove stale file", "path", path, "err", err)
		}
	}
	f.logger.Info("storage directory cleaned", "dir", f.dir)
	return nil
}

// Save writes the attachment bytes and returns the public URL. The file
// name derives from the message id and MIME type unless meta carries an
// explicit name.
func (f *Files) Save(ctx context.Context, id string, meta domain.MediaMeta, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := filepath.Base(meta.FileName) // caller-supplied names must not escape the dir
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		name = Sanitize(id) + ExtensionFor(meta.MimeType)
	}

	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	url := f.baseURL + "/files/" + name
	f.logger.Debug("attachment persisted", "id", id, "path", path, "url", url)
	return url, nil
}

// Handler serves saved files under /files/.
func (f *Files) Handler() http.Handler {
	return http.StripPrefix("/files/", http.FileServer(http.Dir(f.dir)))
}

// Sanitize keeps message ids safe to use as file names. Dots are not
// preserved: the extension is appended separately from the MIME type, and
// keeping them would let ".." survive into the path.
func Sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '@':
			return r
		default:
			return '_'
		}
	}, id)
}

// mimeExtensions covers the attachment types the engines actually produce.
var mimeExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"video/mp4":       ".mp4",
	"application/pdf": ".pdf",
	"text/vcard":      ".vcf",
}

// ExtensionFor maps a MIME type to a file extension, defaulting to .bin.
func ExtensionFor(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext
	}
	return ".bin"
}
