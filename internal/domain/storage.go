package domain

import "context"

// MediaMeta describes an attachment being persisted.
type MediaMeta struct {
	MimeType string
	FileName string
}

// MediaStorage persists raw attachment bytes and republishes them at a
// stable, externally fetchable URL. Failures are non-fatal to the caller.
type MediaStorage interface {
	Save(ctx context.Context, id string, meta MediaMeta, data []byte) (string, error)
}
