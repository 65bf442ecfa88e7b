package domain

import "context"

// UnimplementedEngine returns a NotImplementedError from every capability
// method. Concrete engines embed it and override what they support, so a
// partial backend never has to stub the full surface by hand.
type UnimplementedEngine struct{}

func (UnimplementedEngine) SendText(context.Context, TextRequest) (*SendResult, error) {
	return nil, NotImplemented("sendText is not implemented by this engine")
}

func (UnimplementedEngine) Reply(context.Context, ReplyRequest) (*SendResult, error) {
	return nil, NotImplemented("reply is not implemented by this engine")
}

func (UnimplementedEngine) SendLocation(context.Context, LocationRequest) (*SendResult, error) {
	return nil, NotImplemented("sendLocation is not implemented by this engine")
}

func (UnimplementedEngine) SendFile(context.Context, FileRequest) (*SendResult, error) {
	return nil, NotImplemented("sendFile is not implemented by this engine")
}

func (UnimplementedEngine) SendVoice(context.Context, FileRequest) (*SendResult, error) {
	return nil, NotImplemented("sendVoice is not implemented by this engine")
}

func (UnimplementedEngine) SendContactVCard(context.Context, string, string) (*SendResult, error) {
	return nil, NotImplemented("sendContactVcard is not implemented by this engine")
}

func (UnimplementedEngine) SendLinkPreview(context.Context, string, string, string) (*SendResult, error) {
	return nil, NotImplemented("sendLinkPreview is not implemented by this engine")
}

func (UnimplementedEngine) SendSeen(context.Context, SeenRequest) error {
	return NotImplemented("sendSeen is not implemented by this engine")
}

func (UnimplementedEngine) SetReaction(context.Context, ReactionRequest) error {
	return NotImplemented("setReaction is not implemented by this engine")
}

func (UnimplementedEngine) SetPresence(_ context.Context, presence Presence, _ string) error {
	return NotImplemented("engine doesn't support '%s' presence", presence)
}

func (UnimplementedEngine) Chats(context.Context) ([]Chat, error) {
	return nil, NotImplemented("getChats is not implemented by this engine")
}

func (UnimplementedEngine) Messages(context.Context, MessagesQuery) ([]Message, error) {
	return nil, NotImplemented("getMessages is not implemented by this engine")
}

func (UnimplementedEngine) DeleteChat(context.Context, string) error {
	return NotImplemented("deleteChat is not implemented by this engine")
}

func (UnimplementedEngine) ClearMessages(context.Context, string) error {
	return NotImplemented("clearMessages is not implemented by this engine")
}

func (UnimplementedEngine) CheckNumberStatus(context.Context, NumberStatusQuery) (*NumberStatusResult, error) {
	return nil, NotImplemented("checkNumberStatus is not implemented by this engine")
}

func (UnimplementedEngine) Contact(context.Context, ContactQuery) (*Contact, error) {
	return nil, NotImplemented("getContact is not implemented by this engine")
}

func (UnimplementedEngine) Contacts(context.Context) ([]Contact, error) {
	return nil, NotImplemented("getContacts is not implemented by this engine")
}

func (UnimplementedEngine) BlockContact(context.Context, string) error {
	return NotImplemented("blockContact is not implemented by this engine")
}

func (UnimplementedEngine) UnblockContact(context.Context, string) error {
	return NotImplemented("unblockContact is not implemented by this engine")
}

func (UnimplementedEngine) CreateGroup(context.Context, CreateGroupRequest) (*Group, error) {
	return nil, NotImplemented("createGroup is not implemented by this engine")
}

func (UnimplementedEngine) Groups(context.Context) ([]Group, error) {
	return nil, NotImplemented("getGroups is not implemented by this engine")
}

func (UnimplementedEngine) Group(context.Context, string) (*Group, error) {
	return nil, NotImplemented("getGroup is not implemented by this engine")
}

func (UnimplementedEngine) DeleteGroup(context.Context, string) error {
	return NotImplemented("deleteGroup is not implemented by this engine")
}

func (UnimplementedEngine) LeaveGroup(context.Context, string) error {
	return NotImplemented("leaveGroup is not implemented by this engine")
}

func (UnimplementedEngine) SetGroupSubject(context.Context, string, string) error {
	return NotImplemented("setGroupSubject is not implemented by this engine")
}

func (UnimplementedEngine) SetGroupDescription(context.Context, string, string) error {
	return NotImplemented("setGroupDescription is not implemented by this engine")
}

func (UnimplementedEngine) InviteCode(context.Context, string) (string, error) {
	return "", NotImplemented("getInviteCode is not implemented by this engine")
}

func (UnimplementedEngine) RevokeInviteCode(context.Context, string) (string, error) {
	return "", NotImplemented("revokeInviteCode is not implemented by this engine")
}

func (UnimplementedEngine) Participants(context.Context, string) ([]Participant, error) {
	return nil, NotImplemented("getParticipants is not implemented by this engine")
}

func (UnimplementedEngine) AddParticipants(context.Context, string, ParticipantsRequest) error {
	return NotImplemented("addParticipants is not implemented by this engine")
}

func (UnimplementedEngine) RemoveParticipants(context.Context, string, ParticipantsRequest) error {
	return NotImplemented("removeParticipants is not implemented by this engine")
}

func (UnimplementedEngine) PromoteParticipants(context.Context, string, ParticipantsRequest) error {
	return NotImplemented("promoteParticipants is not implemented by this engine")
}

func (UnimplementedEngine) DemoteParticipants(context.Context, string, ParticipantsRequest) error {
	return NotImplemented("demoteParticipants is not implemented by this engine")
}

func (UnimplementedEngine) Screenshot(context.Context) ([]byte, error) {
	return nil, NotImplemented("screenshot is not implemented by this engine")
}
