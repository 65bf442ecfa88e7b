// Package media materializes inbound attachments: raw bytes from the
// engine become stable URLs served by the storage collaborator.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatgate/internal/domain"
	"chatgate/internal/metrics"
	"chatgate/internal/storage"
)

const defaultResolveTimeout = 30 * time.Second

// Normalizer resolves raw attachment handles to persisted URLs. Resolution
// is idempotent per message id and adds at most one fetch plus one storage
// round trip to the event-translation path. Failures are non-fatal: the
// caller proceeds without a URL.
type Normalizer struct {
	storage domain.MediaStorage
	index   *Index
	timeout time.Duration
	logger  *slog.Logger
}

// Config configures the normalizer.
type Config struct {
	Storage domain.MediaStorage
	Index   *Index
	Timeout time.Duration
	Logger  *slog.Logger
}

// New creates a Normalizer.
func New(cfg Config) *Normalizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultResolveTimeout
	}
	return &Normalizer{
		storage: cfg.Storage,
		index:   cfg.Index,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Resolve returns the stable URL for a message's attachment, fetching and
// persisting the bytes on first sight. A previously resolved message id
// returns the recorded URL without touching the engine or storage again.
func (n *Normalizer) Resolve(ctx context.Context, messageID string, raw *domain.RawMedia) (string, error) {
	if raw == nil {
		return "", nil
	}

	if url, err := n.index.Lookup(ctx, messageID); err != nil {
		n.logger.Warn("media index lookup failed", "message", messageID, "err", err)
	} else if url != "" {
		return url, nil
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	data, err := raw.Fetch(ctx)
	if err != nil {
		metrics.MediaFailures.Inc()
		return "", fmt.Errorf("fetch media for %s: %w", messageID, err)
	}

	meta := domain.MediaMeta{
		MimeType: raw.MimeType,
		FileName: storage.Sanitize(messageID) + storage.ExtensionFor(raw.MimeType),
	}
	url, err := n.storage.Save(ctx, messageID, meta, data)
	if err != nil {
		metrics.MediaFailures.Inc()
		return "", fmt.Errorf("persist media for %s: %w", messageID, err)
	}

	if err := n.index.Put(ctx, messageID, url, raw.MimeType); err != nil {
		n.logger.Warn("media index write failed", "message", messageID, "err", err)
	}
	metrics.MediaResolved.Inc()
	return url, nil
}
