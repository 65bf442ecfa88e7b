package webclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"chatgate/internal/domain"

	"github.com/chromedp/chromedp"
)

// jsString produces a quoted JS string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (e *Engine) sendScript(ctx context.Context, script string) (*domain.SendResult, error) {
	var res struct {
		ID        string `json:"id"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := e.run(ctx, script, &res); err != nil {
		return nil, err
	}
	if res.Timestamp == 0 {
		res.Timestamp = time.Now().Unix()
	}
	return &domain.SendResult{ID: res.ID, Timestamp: res.Timestamp}, nil
}

func (e *Engine) SendText(ctx context.Context, req domain.TextRequest) (*domain.SendResult, error) {
	chat := domain.EnsureChatSuffix(req.ChatID)
	script := fmt.Sprintf(`(async function() {
		var chat = await window.Store.Chat.find(%s);
		var msg = await chat.sendMessage(%s);
		return { id: msg.id._serialized, timestamp: msg.t };
	})()`, jsString(chat), jsString(req.Text))
	return e.sendScript(ctx, script)
}

func (e *Engine) Reply(ctx context.Context, req domain.ReplyRequest) (*domain.SendResult, error) {
	chat := domain.EnsureChatSuffix(req.ChatID)
	script := fmt.Sprintf(`(async function() {
		var chat = await window.Store.Chat.find(%s);
		var quoted = window.Store.Msg.get(%s);
		var msg = await chat.sendMessage(%s, { quotedMsg: quoted });
		return { id: msg.id._serialized, timestamp: msg.t };
	})()`, jsString(chat), jsString(req.ReplyTo), jsString(req.Text))
	return e.sendScript(ctx, script)
}

func (e *Engine) SendLocation(ctx context.Context, req domain.LocationRequest) (*domain.SendResult, error) {
	chat := domain.EnsureChatSuffix(req.ChatID)
	script := fmt.Sprintf(`(async function() {
		var chat = await window.Store.Chat.find(%s);
		var msg = await chat.sendMessage('', { location: { lat: %f, lng: %f, name: %s } });
		return { id: msg.id._serialized, timestamp: msg.t };
	})()`, jsString(chat), req.Latitude, req.Longitude, jsString(req.Title))
	return e.sendScript(ctx, script)
}

// SendFile requires the upgraded tier; the core build does not ship the
// in-page upload pipeline.
func (e *Engine) SendFile(ctx context.Context, req domain.FileRequest) (*domain.SendResult, error) {
	if e.tier != domain.TierPlus {
		return nil, &domain.TierRestrictedError{Capability: "sending files"}
	}
	return e.sendAttachment(ctx, req, false)
}

// SendVoice requires the upgraded tier, same as SendFile.
func (e *Engine) SendVoice(ctx context.Context, req domain.FileRequest) (*domain.SendResult, error) {
	if e.tier != domain.TierPlus {
		return nil, &domain.TierRestrictedError{Capability: "sending voice messages"}
	}
	return e.sendAttachment(ctx, req, true)
}

func (e *Engine) sendAttachment(ctx context.Context, req domain.FileRequest, voice bool) (*domain.SendResult, error) {
	chat := domain.EnsureChatSuffix(req.ChatID)
	payload := base64.StdEncoding.EncodeToString(req.Data)
	script := fmt.Sprintf(`(async function() {
		var chat = await window.Store.Chat.find(%s);
		var media = await window.Store.MediaPrep.prepFromBase64(%s, %s, %s);
		var msg = await chat.sendMessage(%s, { media: media, sendAudioAsVoice: %t });
		return { id: msg.id._serialized, timestamp: msg.t };
	})()`, jsString(chat), jsString(payload), jsString(req.MimeType), jsString(req.FileName),
		jsString(req.Caption), voice)
	return e.sendScript(ctx, script)
}

func (e *Engine) SendSeen(ctx context.Context, req domain.SeenRequest) error {
	chat := domain.EnsureChatSuffix(req.ChatID)
	script := fmt.Sprintf(`(async function() {
		var chat = await window.Store.Chat.find(%s);
		await window.Store.SendSeen.sendSeen(chat);
		return true;
	})()`, jsString(chat))
	return e.run(ctx, script, nil)
}

func (e *Engine) SetReaction(ctx context.Context, req domain.ReactionRequest) error {
	script := fmt.Sprintf(`(async function() {
		var msg = window.Store.Msg.get(%s);
		if (!msg) throw new Error('message not found');
		await window.Store.Reactions.sendReaction(msg, %s);
		return true;
	})()`, jsString(req.MessageID), jsString(req.Reaction))
	return e.run(ctx, script, nil)
}

func (e *Engine) SetPresence(ctx context.Context, presence domain.Presence, chatID string) error {
	var call string
	switch presence {
	case domain.PresenceOnline:
		call = "window.Store.Presence.setPresenceAvailable()"
	case domain.PresenceOffline:
		call = "window.Store.Presence.setPresenceUnavailable()"
	case domain.PresenceTyping:
		call = fmt.Sprintf("window.Store.Presence.setChatState('composing', %s)", jsString(domain.EnsureChatSuffix(chatID)))
	case domain.PresenceRecording:
		call = fmt.Sprintf("window.Store.Presence.setChatState('recording', %s)", jsString(domain.EnsureChatSuffix(chatID)))
	case domain.PresencePaused:
		call = fmt.Sprintf("window.Store.Presence.setChatState('paused', %s)", jsString(domain.EnsureChatSuffix(chatID)))
	default:
		return domain.NotImplemented("presence %q is not supported", presence)
	}
	return e.run(ctx, fmt.Sprintf(`(async function() { await %s; return true; })()`, call), nil)
}

func (e *Engine) Chats(ctx context.Context) ([]domain.Chat, error) {
	var chats []domain.Chat
	script := `(function() {
		return window.Store.Chat.getModelsArray().map(function(c) {
			return {
				id: c.id._serialized,
				name: c.formattedTitle || '',
				isGroup: c.isGroup,
				timestamp: c.t || 0
			};
		});
	})()`
	if err := e.run(ctx, script, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (e *Engine) Messages(ctx context.Context, query domain.MessagesQuery) ([]domain.Message, error) {
	chat := domain.EnsureChatSuffix(query.ChatID)
	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	var wire []wireMessage
	script := fmt.Sprintf(`(async function() {
		var chat = await window.Store.Chat.find(%s);
		var msgs = chat.msgs.getModelsArray().slice(-%d);
		return msgs.map(function(m) {
			return {
				id: m.id._serialized,
				timestamp: m.t,
				from: m.from ? m.from._serialized : '',
				to: m.to ? m.to._serialized : '',
				fromMe: !!m.id.fromMe,
				body: m.body || '',
				ack: m.ack || 0,
				hasMedia: !!m.mediaKey,
				mimeType: m.mimetype || ''
			};
		});
	})()`, jsString(chat), limit)
	if err := e.run(ctx, script, &wire); err != nil {
		return nil, err
	}

	out := make([]domain.Message, 0, len(wire))
	for _, wm := range wire {
		msg := domain.Message{
			ID:        wm.ID,
			Timestamp: wm.Timestamp,
			From:      wm.From,
			To:        wm.To,
			FromMe:    wm.FromMe,
			Body:      wm.Body,
			Ack:       wm.Ack,
		}
		if wm.HasMedia {
			msg.Media = &domain.Media{MimeType: wm.MimeType}
		}
		out = append(out, msg)
	}
	return out, nil
}

func (e *Engine) DeleteChat(ctx context.Context, chatID string) error {
	script := fmt.Sprintf(`(async function() {
		var chat = await window.Store.Chat.find(%s);
		await window.Store.Cmd.sendDeleteChat(chat);
		return true;
	})()`, jsString(domain.EnsureChatSuffix(chatID)))
	return e.run(ctx, script, nil)
}

func (e *Engine) ClearMessages(ctx context.Context, chatID string) error {
	script := fmt.Sprintf(`(async function() {
		var chat = await window.Store.Chat.find(%s);
		await window.Store.Cmd.sendClearChat(chat);
		return true;
	})()`, jsString(domain.EnsureChatSuffix(chatID)))
	return e.run(ctx, script, nil)
}

func (e *Engine) CheckNumberStatus(ctx context.Context, query domain.NumberStatusQuery) (*domain.NumberStatusResult, error) {
	var exists bool
	script := fmt.Sprintf(`(async function() {
		var result = await window.Store.QueryExist(%s);
		return !!(result && result.wid);
	})()`, jsString(domain.EnsureChatSuffix(query.Phone)))
	if err := e.run(ctx, script, &exists); err != nil {
		return nil, err
	}
	return &domain.NumberStatusResult{NumberExists: exists}, nil
}

func (e *Engine) Contact(ctx context.Context, query domain.ContactQuery) (*domain.Contact, error) {
	var contact domain.Contact
	script := fmt.Sprintf(`(function() {
		var c = window.Store.Contact.get(%s);
		if (!c) throw new Error('contact not found');
		return { id: c.id._serialized, name: c.name || '', pushname: c.pushname || '', blocked: !!c.isBlocked };
	})()`, jsString(domain.EnsureChatSuffix(query.ContactID)))
	if err := e.run(ctx, script, &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

func (e *Engine) Contacts(ctx context.Context) ([]domain.Contact, error) {
	var contacts []domain.Contact
	script := `(function() {
		return window.Store.Contact.getModelsArray()
			.filter(function(c) { return c.isMyContact; })
			.map(function(c) {
				return { id: c.id._serialized, name: c.name || '', pushname: c.pushname || '', blocked: !!c.isBlocked };
			});
	})()`
	if err := e.run(ctx, script, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (e *Engine) BlockContact(ctx context.Context, contactID string) error {
	return e.setBlocked(ctx, contactID, true)
}

func (e *Engine) UnblockContact(ctx context.Context, contactID string) error {
	return e.setBlocked(ctx, contactID, false)
}

func (e *Engine) setBlocked(ctx context.Context, contactID string, blocked bool) error {
	fn := "blockContact"
	if !blocked {
		fn = "unblockContact"
	}
	script := fmt.Sprintf(`(async function() {
		var c = window.Store.Contact.get(%s);
		if (!c) throw new Error('contact not found');
		await window.Store.BlockContact.%s(c);
		return true;
	})()`, jsString(domain.EnsureChatSuffix(contactID)), fn)
	return e.run(ctx, script, nil)
}

func (e *Engine) CreateGroup(ctx context.Context, req domain.CreateGroupRequest) (*domain.Group, error) {
	ids := make([]string, len(req.Participants))
	for i, p := range req.Participants {
		ids[i] = domain.EnsureChatSuffix(p)
	}
	encoded, _ := json.Marshal(ids)
	var group domain.Group
	script := fmt.Sprintf(`(async function() {
		var res = await window.Store.GroupUtils.createGroup(%s, %s);
		return { id: res.gid._serialized, subject: %s };
	})()`, jsString(req.Name), string(encoded), jsString(req.Name))
	if err := e.run(ctx, script, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

func (e *Engine) Groups(ctx context.Context) ([]domain.Group, error) {
	var groups []domain.Group
	script := `(function() {
		return window.Store.Chat.getModelsArray()
			.filter(function(c) { return c.isGroup; })
			.map(function(c) {
				return { id: c.id._serialized, subject: c.formattedTitle || '' };
			});
	})()`
	if err := e.run(ctx, script, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (e *Engine) Group(ctx context.Context, id string) (*domain.Group, error) {
	var group domain.Group
	script := fmt.Sprintf(`(function() {
		var meta = window.Store.GroupMetadata.get(%s);
		if (!meta) throw new Error('group not found');
		return {
			id: meta.id._serialized,
			subject: meta.subject || '',
			description: meta.desc || '',
			participants: meta.participants.getModelsArray().map(function(p) {
				return { id: p.id._serialized, admin: !!p.isAdmin };
			})
		};
	})()`, jsString(id))
	if err := e.run(ctx, script, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

func (e *Engine) LeaveGroup(ctx context.Context, id string) error {
	script := fmt.Sprintf(`(async function() {
		var chat = await window.Store.Chat.find(%s);
		await window.Store.GroupUtils.sendExitGroup(chat);
		return true;
	})()`, jsString(id))
	return e.run(ctx, script, nil)
}

func (e *Engine) SetGroupSubject(ctx context.Context, id, subject string) error {
	script := fmt.Sprintf(`(async function() {
		await window.Store.GroupUtils.setGroupSubject(%s, %s);
		return true;
	})()`, jsString(id), jsString(subject))
	return e.run(ctx, script, nil)
}

func (e *Engine) SetGroupDescription(ctx context.Context, id, description string) error {
	script := fmt.Sprintf(`(async function() {
		await window.Store.GroupUtils.setGroupDescription(%s, %s);
		return true;
	})()`, jsString(id), jsString(description))
	return e.run(ctx, script, nil)
}

func (e *Engine) InviteCode(ctx context.Context, id string) (string, error) {
	var code string
	script := fmt.Sprintf(`(async function() {
		return await window.Store.GroupInvite.queryGroupInviteCode(%s);
	})()`, jsString(id))
	if err := e.run(ctx, script, &code); err != nil {
		return "", err
	}
	return code, nil
}

func (e *Engine) RevokeInviteCode(ctx context.Context, id string) (string, error) {
	var code string
	script := fmt.Sprintf(`(async function() {
		return await window.Store.GroupInvite.resetGroupInviteCode(%s);
	})()`, jsString(id))
	if err := e.run(ctx, script, &code); err != nil {
		return "", err
	}
	return code, nil
}

func (e *Engine) Participants(ctx context.Context, id string) ([]domain.Participant, error) {
	group, err := e.Group(ctx, id)
	if err != nil {
		return nil, err
	}
	return group.Participants, nil
}

func (e *Engine) AddParticipants(ctx context.Context, id string, req domain.ParticipantsRequest) error {
	return e.participantsOp(ctx, "addParticipants", id, req.Participants)
}

func (e *Engine) RemoveParticipants(ctx context.Context, id string, req domain.ParticipantsRequest) error {
	return e.participantsOp(ctx, "removeParticipants", id, req.Participants)
}

func (e *Engine) PromoteParticipants(ctx context.Context, id string, req domain.ParticipantsRequest) error {
	return e.participantsOp(ctx, "promoteParticipants", id, req.Participants)
}

func (e *Engine) DemoteParticipants(ctx context.Context, id string, req domain.ParticipantsRequest) error {
	return e.participantsOp(ctx, "demoteParticipants", id, req.Participants)
}

func (e *Engine) participantsOp(ctx context.Context, fn, id string, participants []string) error {
	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = domain.EnsureChatSuffix(p)
	}
	encoded, _ := json.Marshal(ids)
	script := fmt.Sprintf(`(async function() {
		await window.Store.GroupParticipants.%s(%s, %s);
		return true;
	})()`, fn, jsString(id), string(encoded))
	return e.run(ctx, script, nil)
}

// Screenshot captures the current page, which is the main diagnostic for a
// browser session stuck outside the normal pairing flow.
func (e *Engine) Screenshot(ctx context.Context) ([]byte, error) {
	taskCtx, err := e.task()
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithTimeout(taskCtx, sendTimeout)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(runCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return buf, nil
}
