package domain

import "context"

// Tier is the active product tier, decided by configuration at startup and
// handed to engines at construction.
type Tier string

const (
	TierCore Tier = "core"
	TierPlus Tier = "plus"
)

// ProxyConfig is optional outbound proxy configuration for an engine.
type ProxyConfig struct {
	Server   string `json:"server"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// SendResult identifies a message accepted by the chat network.
type SendResult struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// Presence values a caller may request. Engines support a subset and
// return a NotImplementedError for the rest.
type Presence string

const (
	PresenceOnline    Presence = "online"
	PresenceOffline   Presence = "offline"
	PresenceTyping    Presence = "typing"
	PresenceRecording Presence = "recording"
	PresencePaused    Presence = "paused"
)

// Command request objects. Validation happens in the controller layer;
// engines may assume well-formed input.
type (
	TextRequest struct {
		ChatID   string   `json:"chatId"`
		Text     string   `json:"text"`
		Mentions []string `json:"mentions,omitempty"`
	}

	ReplyRequest struct {
		ChatID   string   `json:"chatId"`
		Text     string   `json:"text"`
		ReplyTo  string   `json:"reply_to"`
		Mentions []string `json:"mentions,omitempty"`
	}

	LocationRequest struct {
		ChatID    string  `json:"chatId"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Title     string  `json:"title,omitempty"`
	}

	FileRequest struct {
		ChatID   string `json:"chatId"`
		MimeType string `json:"mimetype"`
		FileName string `json:"filename,omitempty"`
		Data     []byte `json:"data"`
		Caption  string `json:"caption,omitempty"`
	}

	SeenRequest struct {
		ChatID    string `json:"chatId"`
		MessageID string `json:"messageId,omitempty"`
	}

	ReactionRequest struct {
		MessageID string `json:"messageId"`
		Reaction  string `json:"reaction"`
	}

	MessagesQuery struct {
		ChatID        string `json:"chatId"`
		Limit         int    `json:"limit"`
		DownloadMedia bool   `json:"downloadMedia"`
	}

	NumberStatusQuery struct {
		Phone string `json:"phone"`
	}

	NumberStatusResult struct {
		NumberExists bool `json:"numberExists"`
	}

	ContactQuery struct {
		ContactID string `json:"contactId"`
	}

	CreateGroupRequest struct {
		Name         string   `json:"name"`
		Participants []string `json:"participants"`
	}

	ParticipantsRequest struct {
		Participants []string `json:"participants"`
	}
)

// Chat is a normalized conversation summary.
type Chat struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	IsGroup   bool   `json:"isGroup"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Contact is a normalized contact record.
type Contact struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	PushName string `json:"pushname,omitempty"`
	Blocked  bool   `json:"blocked,omitempty"`
}

// Group is a normalized group record.
type Group struct {
	ID           string        `json:"id"`
	Subject      string        `json:"subject"`
	Description  string        `json:"description,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
}

// Participant is a group member.
type Participant struct {
	ID    string `json:"id"`
	Admin bool   `json:"admin,omitempty"`
}

// Engine is the capability interface over one concrete chat-automation
// backend. Sessions own exactly one Engine instance and are the only
// consumer of its event stream.
//
// Start is asynchronous with respect to the remote network: it returns once
// local resources are up, then reports progress through lifecycle events.
// A capability an engine never implements returns a NotImplementedError;
// one gated behind a higher product tier returns a TierRestrictedError.
type Engine interface {
	ID() string
	Start(ctx context.Context) error
	Stop() error

	// Events delivers engine-native events. The channel is closed by Stop.
	Events() <-chan RawEvent

	// KindMap declares which raw kinds this engine produces and the
	// canonical kind each maps to. Kinds absent from the map are dropped.
	KindMap() map[string]EventKind

	// Messaging
	SendText(ctx context.Context, req TextRequest) (*SendResult, error)
	Reply(ctx context.Context, req ReplyRequest) (*SendResult, error)
	SendLocation(ctx context.Context, req LocationRequest) (*SendResult, error)
	SendFile(ctx context.Context, req FileRequest) (*SendResult, error)
	SendVoice(ctx context.Context, req FileRequest) (*SendResult, error)
	SendContactVCard(ctx context.Context, chatID, contactID string) (*SendResult, error)
	SendLinkPreview(ctx context.Context, chatID, url, title string) (*SendResult, error)
	SendSeen(ctx context.Context, req SeenRequest) error
	SetReaction(ctx context.Context, req ReactionRequest) error
	SetPresence(ctx context.Context, presence Presence, chatID string) error

	// Chats
	Chats(ctx context.Context) ([]Chat, error)
	Messages(ctx context.Context, query MessagesQuery) ([]Message, error)
	DeleteChat(ctx context.Context, chatID string) error
	ClearMessages(ctx context.Context, chatID string) error
	CheckNumberStatus(ctx context.Context, query NumberStatusQuery) (*NumberStatusResult, error)

	// Contacts
	Contact(ctx context.Context, query ContactQuery) (*Contact, error)
	Contacts(ctx context.Context) ([]Contact, error)
	BlockContact(ctx context.Context, contactID string) error
	UnblockContact(ctx context.Context, contactID string) error

	// Groups
	CreateGroup(ctx context.Context, req CreateGroupRequest) (*Group, error)
	Groups(ctx context.Context) ([]Group, error)
	Group(ctx context.Context, id string) (*Group, error)
	DeleteGroup(ctx context.Context, id string) error
	LeaveGroup(ctx context.Context, id string) error
	SetGroupSubject(ctx context.Context, id, subject string) error
	SetGroupDescription(ctx context.Context, id, description string) error
	InviteCode(ctx context.Context, id string) (string, error)
	RevokeInviteCode(ctx context.Context, id string) (string, error)
	Participants(ctx context.Context, id string) ([]Participant, error)
	AddParticipants(ctx context.Context, id string, req ParticipantsRequest) error
	RemoveParticipants(ctx context.Context, id string, req ParticipantsRequest) error
	PromoteParticipants(ctx context.Context, id string, req ParticipantsRequest) error
	DemoteParticipants(ctx context.Context, id string, req ParticipantsRequest) error

	// Diagnostics
	Screenshot(ctx context.Context) ([]byte, error)
}
