package session

import (
	"context"
	"errors"

	"chatgate/internal/domain"
)

// guard rejects commands while the session is FAILED or STOPPED without
// touching the engine.
func (s *Session) guard() error {
	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()
	if st == StatusFailed || st == StatusStopped {
		return &domain.SessionNotUsableError{Session: s.name, Status: string(st)}
	}
	return nil
}

// wrap keeps capability errors intact and attaches engine context to
// runtime faults.
func (s *Session) wrap(op string, err error) error {
	var notImpl *domain.NotImplementedError
	var tier *domain.TierRestrictedError
	if errors.As(err, &notImpl) || errors.As(err, &tier) {
		return err
	}
	return &domain.EngineOperationError{Engine: s.engine.ID(), Op: op, Err: err}
}

// Screenshot is the one diagnostic allowed while FAILED, for operator
// diagnosis. Only STOPPED rejects it.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()
	if st == StatusStopped {
		return nil, &domain.SessionNotUsableError{Session: s.name, Status: string(st)}
	}
	data, err := s.engine.Screenshot(ctx)
	if err != nil {
		return nil, s.wrap("screenshot", err)
	}
	return data, nil
}

// --- Messaging ---

func (s *Session) SendText(ctx context.Context, req domain.TextRequest) (*domain.SendResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	res, err := s.engine.SendText(ctx, req)
	if err != nil {
		return nil, s.wrap("sendText", err)
	}
	return res, nil
}

func (s *Session) Reply(ctx context.Context, req domain.ReplyRequest) (*domain.SendResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	res, err := s.engine.Reply(ctx, req)
	if err != nil {
		return nil, s.wrap("reply", err)
	}
	return res, nil
}

func (s *Session) SendLocation(ctx context.Context, req domain.LocationRequest) (*domain.SendResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	res, err := s.engine.SendLocation(ctx, req)
	if err != nil {
		return nil, s.wrap("sendLocation", err)
	}
	return res, nil
}

func (s *Session) SendFile(ctx context.Context, req domain.FileRequest) (*domain.SendResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	res, err := s.engine.SendFile(ctx, req)
	if err != nil {
		return nil, s.wrap("sendFile", err)
	}
	return res, nil
}

func (s *Session) SendVoice(ctx context.Context, req domain.FileRequest) (*domain.SendResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	res, err := s.engine.SendVoice(ctx, req)
	if err != nil {
		return nil, s.wrap("sendVoice", err)
	}
	return res, nil
}

func (s *Session) SendContactVCard(ctx context.Context, chatID, contactID string) (*domain.SendResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	res, err := s.engine.SendContactVCard(ctx, chatID, contactID)
	if err != nil {
		return nil, s.wrap("sendContactVcard", err)
	}
	return res, nil
}

func (s *Session) SendLinkPreview(ctx context.Context, chatID, url, title string) (*domain.SendResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	res, err := s.engine.SendLinkPreview(ctx, chatID, url, title)
	if err != nil {
		return nil, s.wrap("sendLinkPreview", err)
	}
	return res, nil
}

func (s *Session) SendSeen(ctx context.Context, req domain.SeenRequest) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.engine.SendSeen(ctx, req); err != nil {
		return s.wrap("sendSeen", err)
	}
	return nil
}

func (s *Session) SetReaction(ctx context.Context, req domain.ReactionRequest) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.engine.SetReaction(ctx, req); err != nil {
		return s.wrap("setReaction", err)
	}
	return nil
}

// SetPresence routes directly through the engine without touching the
// state machine.
func (s *Session) SetPresence(ctx context.Context, presence domain.Presence, chatID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.engine.SetPresence(ctx, presence, chatID); err != nil {
		return s.wrap("setPresence", err)
	}
	return nil
}

// --- Chats ---

func (s *Session) Chats(ctx context.Context) ([]domain.Chat, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	chats, err := s.engine.Chats(ctx)
	if err != nil {
		return nil, s.wrap("getChats", err)
	}
	return chats, nil
}

func (s *Session) Messages(ctx context.Context, query domain.MessagesQuery) ([]domain.Message, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	msgs, err := s.engine.Messages(ctx, query)
	if err != nil {
		return nil, s.wrap("getMessages", err)
	}
	return msgs, nil
}

func (s *Session) DeleteChat(ctx context.Context, chatID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.engine.DeleteChat(ctx, chatID); err != nil {
		return s.wrap("deleteChat", err)
	}
	return nil
}

func (s *Session) ClearMessages(ctx context.Context, chatID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.engine.ClearMessages(ctx, chatID); err != nil {
		return s.wrap("clearMessages", err)
	}
	return nil
}

func (s *Session) CheckNumberStatus(ctx context.Context, query domain.NumberStatusQuery) (*domain.NumberStatusResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	res, err := s.engine.CheckNumberStatus(ctx, query)
	if err != nil {
		return nil, s.wrap("checkNumberStatus", err)
	}
	return res, nil
}

// --- Contacts ---

func (s *Session) Contact(ctx context.Context, query domain.ContactQuery) (*domain.Contact, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	c, err := s.engine.Contact(ctx, query)
	if err != nil {
		return nil, s.wrap("getContact", err)
	}
	return c, nil
}

func (s *Session) Contacts(ctx context.Context) ([]domain.Contact, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	cs, err := s.engine.Contacts(ctx)
	if err != nil {
		return nil, s.wrap("getContacts", err)
	}
	return cs, nil
}

func (s *Session) BlockContact(ctx context.Context, contactID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.engine.BlockContact(ctx, contactID); err != nil {
		return s.wrap("blockContact", err)
	}
	return nil
}

func (s *Session) UnblockContact(ctx context.Context, contactID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.engine.UnblockContact(ctx, contactID); err != nil {
		return s.wrap("unblockContact", err)
	}
	return nil
}

// --- Groups ---

func (s *Session) CreateGroup(ctx context.Context, req domain.CreateGroupRequest) (*domain.Group, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	g, err := s.engine.CreateGroup(ctx, req)
	if err != nil {
		return nil, s.wrap("createGroup", err)
	}
	return g, nil
}

func (s *Session) Groups(ctx context.Context) ([]domain.Group, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	gs, err := s.engine.Groups(ctx)
	if err != nil {
		return nil, s.wrap("getGroups", err)
	}
	return gs, nil
}

func (s *Session) Group(ctx context.Context, id string) (*domain.Group, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	g, err := s.engine.Group(ctx, id)
	if err != nil {
		return nil, s.wrap("getGroup", err)
	}
	return g, nil
}

func (s *Session) DeleteGroup(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.engine.DeleteGroup(ctx, id); err != nil {
		return s.wrap("deleteGroup", err)
	}
	return nil
}

func (s *Session) LeaveGroup(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.engine.LeaveGroup(ctx, id); err != nil {
		return s.wrap("leaveGroup", err)
	}
	return nil
}

func (s *Session) SetGroupSubject(ctx context.Context, id, subject string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.engine.SetGroupSubject(ctx, id, subject); err != nil {
		return s.wrap("setGroupSubject", err)
	}
	return nil
}

func (s *Session) SetGroupDescription(ctx context.Context, id, description string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.engine.SetGroupDescription(ctx, id, description); err != nil {
		return s.wrap("setGroupDescription", err)
	}
	return nil
}

func (s *Session) InviteCode(ctx context.Context, id string) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	code, err := s.engine.InviteCode(ctx, id)
	if err != nil {
		return "", s.wrap("getInviteCode", err)
	}
	return code, nil
}

func (s *Session) RevokeInviteCode(ctx context.Context, id string) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	code, err := s.engine.RevokeInviteCode(ctx, id)
	if err != nil {
		return "", s.wrap("revokeInviteCode", err)
	}
	return code, nil
}

func (s *Session) Participants(ctx context.Context, id string) ([]domain.Participant, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	ps, err := s.engine.Participants(ctx, id)
	if err != nil {
		return nil, s.wrap("getParticipants", err)
	}
	return ps, nil
}

func (s *Session) AddParticipants(ctx context.Context, id string, req domain.ParticipantsRequest) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.engine.AddParticipants(ctx, id, req); err != nil {
		return s.wrap("addParticipants", err)
	}
	return nil
}

func (s *Session) RemoveParticipants(ctx context.Context, id string, req domain.ParticipantsRequest) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.engine.RemoveParticipants(ctx, id, req); err != nil {
		return s.wrap("removeParticipants", err)
	}
	return nil
}

func (s *Session) PromoteParticipants(ctx context.Context, id string, req domain.ParticipantsRequest) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.engine.PromoteParticipants(ctx, id, req); err != nil {
		return s.wrap("promoteParticipants", err)
	}
	return nil
}

func (s *Session) DemoteParticipants(ctx context.Context, id string, req domain.ParticipantsRequest) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := s.engine.DemoteParticipants(ctx, id, req); err != nil {
		return s.wrap("demoteParticipants", err)
	}
	return nil
}
