package domain

import (
	"context"
	"strings"
	"time"
)

// Lifecycle marks raw events that drive the session status machine.
// Most raw events carry LifecycleNone and only feed translation.
type Lifecycle int

const (
	LifecycleNone Lifecycle = iota
	// LifecycleChallenge means the engine requires operator authentication
	// (e.g. a login QR code). Payload is in RawEvent.Challenge.
	LifecycleChallenge
	// LifecycleReady means the engine is authenticated and operational.
	LifecycleReady
	// LifecycleDisconnect means the engine hit an unrecoverable disconnect.
	LifecycleDisconnect
)

// RawEvent is an engine-native event handed to the owning session.
// Kind is the engine's own event name; the session maps it to a canonical
// kind via the engine's kind map. Engine-specific wire types never appear
// here: engines extract the neutral fields below at their boundary.
type RawEvent struct {
	Kind      string
	Lifecycle Lifecycle
	Timestamp time.Time

	Message   *RawMessage // message-class events
	Group     *GroupNotice
	Presence  *PresenceNotice
	State     string // engine-reported state string, for state-change events
	Challenge string // credential challenge payload (QR string)
	Err       error  // set with LifecycleDisconnect when a cause is known
}

// RawMessage carries the engine-native message fields in normalized form.
// Identifiers are already serialized to their single string form.
type RawMessage struct {
	ID       string
	From     string
	To       string
	FromMe   bool
	Body     string
	Ack      int
	Media    *RawMedia
	Location *Location
	VCards   []string
}

// RawMedia is a lazily-resolvable attachment handle. Fetch performs the
// engine round trip for the raw bytes; it is called at most once per
// message id by the media normalizer.
type RawMedia struct {
	MimeType string
	Fetch    func(ctx context.Context) ([]byte, error)
}

// EnsureChatSuffix appends the default user-chat suffix when the id has
// no server part, so "111" and "111@c.us" normalize to the same string.
func EnsureChatSuffix(id string) string {
	if strings.Contains(id, "@") {
		return id
	}
	return id + "@c.us"
}
