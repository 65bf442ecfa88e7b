package webhook

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"chatgate/internal/domain"
)

// Subscription is a registered webhook endpoint: a target URL, the event
// kinds it wants, and its retry policy. A subscription with an empty kind
// set receives nothing. When Secret is set, every delivery carries an
// HMAC-SHA256 signature of the body in the X-Webhook-Signature header.
type Subscription struct {
	URL    string             `json:"url" yaml:"url"`
	Events []domain.EventKind `json:"events" yaml:"events"`
	Secret string             `json:"secret,omitempty" yaml:"secret,omitempty"`
	Retry  *RetryPolicy       `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Matches reports whether an event of the given kind should be delivered.
func (s Subscription) Matches(kind domain.EventKind) bool {
	for _, k := range s.Events {
		if k == domain.EventAll || k == kind {
			return true
		}
	}
	return false
}

// policy returns the subscription's retry policy, defaulted.
func (s Subscription) policy() RetryPolicy {
	if s.Retry == nil {
		return DefaultRetryPolicy()
	}
	return s.Retry.normalized()
}

// Validate checks the subscription is deliverable.
func (s Subscription) Validate() error {
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid webhook url %q", s.URL)
	}
	return nil
}

// LoadDir loads subscription definitions from YAML files in a directory,
// one subscription per file. Unreadable or malformed files are skipped
// with a warning so one bad file can't take the gateway down.
func LoadDir(dir string, logger *slog.Logger) ([]Subscription, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("webhook directory does not exist, skipping", "dir", dir)
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read webhook dir: %w", err)
	}

	var subs []Subscription
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read webhook file", "path", path, "err", err)
			continue
		}

		var sub Subscription
		if err := yaml.Unmarshal(data, &sub); err != nil {
			logger.Warn("cannot parse webhook file", "path", path, "err", err)
			continue
		}
		if err := sub.Validate(); err != nil {
			logger.Warn("skipping webhook file", "path", path, "err", err)
			continue
		}

		logger.Info("loaded webhook subscription", "url", sub.URL, "events", sub.Events, "path", path)
		subs = append(subs, sub)
	}

	return subs, nil
}
