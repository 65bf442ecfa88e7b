package webhook

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"chatgate/internal/domain"
)

func testSubLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()

	good := `url: https://example.com/hook
events:
  - message
  - state.change
retry:
  maxAttempts: 5
  delaySeconds: 30
  exponential: true
`
	if err := os.WriteFile(filepath.Join(dir, "crm.yaml"), []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("url: [not: valid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "badurl.yaml"), []byte("url: ftp://nope\nevents: ['*']"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatal(err)
	}

	subs, err := LoadDir(dir, testSubLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected 1 valid subscription, got %d", len(subs))
	}

	sub := subs[0]
	if sub.URL != "https://example.com/hook" {
		t.Errorf("unexpected url: %s", sub.URL)
	}
	if len(sub.Events) != 2 || sub.Events[0] != domain.EventMessage {
		t.Errorf("unexpected events: %v", sub.Events)
	}
	if sub.Retry == nil || sub.Retry.MaxAttempts != 5 || !sub.Retry.Exponential {
		t.Errorf("unexpected retry policy: %+v", sub.Retry)
	}
}

func TestLoadDir_Missing(t *testing.T) {
	subs, err := LoadDir(filepath.Join(t.TempDir(), "nope"), testSubLogger())
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if subs != nil {
		t.Errorf("expected no subscriptions, got %v", subs)
	}
}

func TestRetryPolicy_Defaults(t *testing.T) {
	sub := Subscription{URL: "http://x", Events: []domain.EventKind{domain.EventAll}}
	p := sub.policy()
	if p.MaxAttempts != 3 || p.DelaySeconds != 15 {
		t.Errorf("expected default 3 attempts / 15s, got %+v", p)
	}
}
