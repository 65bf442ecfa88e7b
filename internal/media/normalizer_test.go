package media

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"chatgate/internal/domain"
)

func testMediaLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// countingStorage records Save calls and answers with a deterministic URL.
type countingStorage struct {
	saves atomic.Int32
	fail  bool
}

func (c *countingStorage) Save(ctx context.Context, id string, meta domain.MediaMeta, data []byte) (string, error) {
	c.saves.Add(1)
	if c.fail {
		return "", errors.New("storage unavailable")
	}
	return "http://localhost:3000/files/" + meta.FileName, nil
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewIndex(filepath.Join(t.TempDir(), "media.db"), testMediaLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func rawMedia(mime string, data []byte, fetches *atomic.Int32) *domain.RawMedia {
	return &domain.RawMedia{
		MimeType: mime,
		Fetch: func(ctx context.Context) ([]byte, error) {
			if fetches != nil {
				fetches.Add(1)
			}
			return data, nil
		},
	}
}

func TestNormalizer_Resolve(t *testing.T) {
	store := &countingStorage{}
	n := New(Config{Storage: store, Index: newTestIndex(t), Logger: testMediaLogger()})

	url, err := n.Resolve(context.Background(), "msg-1", rawMedia("image/jpeg", []byte("img"), nil))
	if err != nil {
		t.Fatal(err)
	}
	if url != "http://localhost:3000/files/msg-1.jpg" {
		t.Errorf("unexpected url: %s", url)
	}
}

func TestNormalizer_IdempotentPerMessage(t *testing.T) {
	store := &countingStorage{}
	var fetches atomic.Int32
	n := New(Config{Storage: store, Index: newTestIndex(t), Logger: testMediaLogger()})

	raw := rawMedia("image/png", []byte("png"), &fetches)
	first, err := n.Resolve(context.Background(), "msg-2", raw)
	if err != nil {
		t.Fatal(err)
	}
	second, err := n.Resolve(context.Background(), "msg-2", raw)
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Errorf("second resolve returned a different url: %s vs %s", first, second)
	}
	if store.saves.Load() != 1 {
		t.Errorf("expected exactly one storage write, got %d", store.saves.Load())
	}
	if fetches.Load() != 1 {
		t.Errorf("expected exactly one engine fetch, got %d", fetches.Load())
	}
}

func TestNormalizer_StorageFailureIsDegraded(t *testing.T) {
	store := &countingStorage{fail: true}
	n := New(Config{Storage: store, Index: newTestIndex(t), Logger: testMediaLogger()})

	url, err := n.Resolve(context.Background(), "msg-3", rawMedia("image/jpeg", []byte("x"), nil))
	if err == nil {
		t.Fatal("expected an error from failing storage")
	}
	if url != "" {
		t.Errorf("degraded mode must return no url, got %s", url)
	}
}

func TestNormalizer_FailedResolveIsRetriedLater(t *testing.T) {
	store := &countingStorage{fail: true}
	idx := newTestIndex(t)
	n := New(Config{Storage: store, Index: idx, Logger: testMediaLogger()})

	if _, err := n.Resolve(context.Background(), "msg-4", rawMedia("image/jpeg", []byte("x"), nil)); err == nil {
		t.Fatal("expected failure")
	}

	// Storage recovers; the same message resolves because failures are
	// never cached in the index.
	store.fail = false
	url, err := n.Resolve(context.Background(), "msg-4", rawMedia("image/jpeg", []byte("x"), nil))
	if err != nil {
		t.Fatal(err)
	}
	if url == "" {
		t.Error("expected a url after storage recovered")
	}
}

func TestNormalizer_FetchFailure(t *testing.T) {
	n := New(Config{Storage: &countingStorage{}, Index: newTestIndex(t), Logger: testMediaLogger()})

	raw := &domain.RawMedia{
		MimeType: "image/jpeg",
		Fetch: func(ctx context.Context) ([]byte, error) {
			return nil, errors.New("engine gone")
		},
	}
	if _, err := n.Resolve(context.Background(), "msg-5", raw); err == nil {
		t.Fatal("expected fetch error to surface")
	}
}

func TestNormalizer_NilMedia(t *testing.T) {
	n := New(Config{Storage: &countingStorage{}, Index: newTestIndex(t), Logger: testMediaLogger()})
	url, err := n.Resolve(context.Background(), "msg-6", nil)
	if err != nil || url != "" {
		t.Errorf("nil media should be a no-op, got %q, %v", url, err)
	}
}
