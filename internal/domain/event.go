package domain

import "time"

// EventKind identifies a canonical event type delivered to webhook
// subscribers. The set is fixed; engines declare which kinds they can
// produce via their kind map.
type EventKind string

const (
	EventMessage        EventKind = "message"
	EventMessageAny     EventKind = "message.any"
	EventMessageAck     EventKind = "message.ack"
	EventStateChange    EventKind = "state.change"
	EventGroupJoin      EventKind = "group.join"
	EventGroupLeave     EventKind = "group.leave"
	EventPresenceUpdate EventKind = "presence.update"

	// EventAll is the wildcard used by subscriptions and hub handlers.
	EventAll EventKind = "*"
)

// Kinds returns every concrete canonical kind (excludes the wildcard).
func Kinds() []EventKind {
	return []EventKind{
		EventMessage, EventMessageAny, EventMessageAck,
		EventStateChange, EventGroupJoin, EventGroupLeave,
		EventPresenceUpdate,
	}
}

// Event is the engine-agnostic envelope. Payload shape is fixed per kind
// regardless of the originating engine.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"event"`
	Session   string    `json:"session"`
	Engine    string    `json:"engine"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Message is the payload for message-class events.
type Message struct {
	ID        string    `json:"id"`
	Timestamp int64     `json:"timestamp"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	FromMe    bool      `json:"fromMe"`
	Body      string    `json:"body"`
	Ack       int       `json:"ack"`
	Media     *Media    `json:"media"`
	Location  *Location `json:"location,omitempty"`
	VCards    []string  `json:"vCards,omitempty"`
}

// Media is a resolved attachment reference. URL is empty when media
// resolution failed or was disabled (degraded mode).
type Media struct {
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
}

// Location is an optional sub-payload for location messages.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Title     string  `json:"title,omitempty"`
}

// StateChange is the payload for state.change events.
type StateChange struct {
	Status string `json:"status"`
}

// GroupNotice is the payload for group.join and group.leave events.
type GroupNotice struct {
	GroupID     string `json:"groupId"`
	Participant string `json:"participant"`
}

// PresenceNotice is the payload for presence.update events.
type PresenceNotice struct {
	ChatID   string `json:"chatId"`
	Presence string `json:"presence"`
}
