// Package telegram adapts the Telegram Bot API to the engine interface.
// Token auth means there is no pairing challenge: the session goes straight
// to ready once the bot identity is confirmed.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chatgate/internal/domain"
)

const (
	updateTimeout   = 30 // long-poll seconds
	mediaGetTimeout = 60 * time.Second
)

// Config holds configuration for the Telegram engine.
type Config struct {
	Token     string
	AllowFrom []string // sender IDs as strings, empty allows all
	Logger    *slog.Logger
}

// Engine is the Bot API adapter. Capabilities the Bot API does not expose
// (read receipts, contact enumeration, number lookup) stay unimplemented.
type Engine struct {
	domain.UnimplementedEngine

	token     string
	allowFrom []int64
	logger    *slog.Logger

	bot    *tgbotapi.BotAPI
	events chan domain.RawEvent

	cancel   context.CancelFunc
	stopOnce sync.Once
}

func New(cfg Config) *Engine {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		token:     cfg.Token,
		allowFrom: allowed,
		logger:    cfg.Logger,
		events:    make(chan domain.RawEvent, 64),
	}
}

func (e *Engine) ID() string { return "telegram" }

func (e *Engine) KindMap() map[string]domain.EventKind {
	return map[string]domain.EventKind{
		"message":     domain.EventMessage,
		"group.join":  domain.EventGroupJoin,
		"group.leave": domain.EventGroupLeave,
	}
}

func (e *Engine) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(e.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	e.bot = bot
	e.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	pollCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	go e.poll(pollCtx)
	return nil
}

func (e *Engine) Stop() error {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		if e.bot != nil {
			e.bot.StopReceivingUpdates()
		}
		close(e.events)
	})
	return nil
}

func (e *Engine) Events() <-chan domain.RawEvent { return e.events }

func (e *Engine) emit(evt domain.RawEvent) {
	defer func() { recover() }() // channel may be closed during Stop
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	select {
	case e.events <- evt:
	default:
		e.logger.Warn("raw event buffer full, dropping", "kind", evt.Kind)
	}
}

func (e *Engine) poll(ctx context.Context) {
	// Token auth has no challenge step.
	e.emit(domain.RawEvent{Lifecycle: domain.LifecycleReady})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeout
	updates := e.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			e.emit(domain.RawEvent{Lifecycle: domain.LifecycleDisconnect, Err: ctx.Err()})
			return
		case update, ok := <-updates:
			if !ok {
				e.emit(domain.RawEvent{Lifecycle: domain.LifecycleDisconnect})
				return
			}
			e.handleUpdate(update)
		}
	}
}

func (e *Engine) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	if len(msg.NewChatMembers) > 0 {
		for _, member := range msg.NewChatMembers {
			e.emit(domain.RawEvent{
				Kind:      "group.join",
				Timestamp: time.Unix(int64(msg.Date), 0),
				Group: &domain.GroupNotice{
					GroupID:     chatID,
					Participant: strconv.FormatInt(member.ID, 10),
				},
			})
		}
		return
	}
	if msg.LeftChatMember != nil {
		e.emit(domain.RawEvent{
			Kind:      "group.leave",
			Timestamp: time.Unix(int64(msg.Date), 0),
			Group: &domain.GroupNotice{
				GroupID:     chatID,
				Participant: strconv.FormatInt(msg.LeftChatMember.ID, 10),
			},
		})
		return
	}

	if msg.From != nil && !e.isAllowed(msg.From.ID) {
		e.logger.Warn("ignoring message from unauthorized sender", "sender", msg.From.ID)
		return
	}

	raw := &domain.RawMessage{
		ID:   strconv.Itoa(msg.MessageID),
		From: chatID,
		Body: msg.Text,
	}
	if msg.From != nil {
		raw.From = strconv.FormatInt(msg.From.ID, 10)
		raw.To = chatID
	}
	if raw.Body == "" {
		raw.Body = msg.Caption
	}
	e.attachMedia(raw, msg)

	e.emit(domain.RawEvent{Kind: "message", Timestamp: time.Unix(int64(msg.Date), 0), Message: raw})
}

// attachMedia wires a lazy download closure for whichever attachment the
// update carries. Telegram serves files over plain HTTPS once the file
// path is resolved.
func (e *Engine) attachMedia(raw *domain.RawMessage, msg *tgbotapi.Message) {
	var fileID, mimeType string

	switch {
	case len(msg.Photo) > 0:
		fileID = msg.Photo[len(msg.Photo)-1].FileID // largest size last
		mimeType = "image/jpeg"
	case msg.Document != nil:
		fileID = msg.Document.FileID
		mimeType = msg.Document.MimeType
	case msg.Voice != nil:
		fileID = msg.Voice.FileID
		mimeType = msg.Voice.MimeType
	case msg.Audio != nil:
		fileID = msg.Audio.FileID
		mimeType = msg.Audio.MimeType
	case msg.Video != nil:
		fileID = msg.Video.FileID
		mimeType = msg.Video.MimeType
	default:
		return
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	id := fileID
	raw.Media = &domain.RawMedia{
		MimeType: mimeType,
		Fetch: func(ctx context.Context) ([]byte, error) {
			return e.downloadFile(ctx, id)
		},
	}
}

func (e *Engine) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := e.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", fileID, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, mediaGetTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file %s: unexpected status %d", fileID, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (e *Engine) isAllowed(senderID int64) bool {
	if len(e.allowFrom) == 0 {
		return true
	}
	for _, id := range e.allowFrom {
		if id == senderID {
			return true
		}
	}
	return false
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	return id, nil
}

func sendResult(msg tgbotapi.Message) *domain.SendResult {
	ts := int64(msg.Date)
	if ts == 0 {
		ts = time.Now().Unix()
	}
	return &domain.SendResult{ID: strconv.Itoa(msg.MessageID), Timestamp: ts}
}

func (e *Engine) SendText(ctx context.Context, req domain.TextRequest) (*domain.SendResult, error) {
	id, err := parseChatID(req.ChatID)
	if err != nil {
		return nil, err
	}
	sent, err := e.bot.Send(tgbotapi.NewMessage(id, req.Text))
	if err != nil {
		return nil, fmt.Errorf("telegram send: %w", err)
	}
	return sendResult(sent), nil
}

func (e *Engine) Reply(ctx context.Context, req domain.ReplyRequest) (*domain.SendResult, error) {
	id, err := parseChatID(req.ChatID)
	if err != nil {
		return nil, err
	}
	replyTo, err := strconv.Atoi(req.ReplyTo)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram message id %q: %w", req.ReplyTo, err)
	}
	msg := tgbotapi.NewMessage(id, req.Text)
	msg.ReplyToMessageID = replyTo
	sent, err := e.bot.Send(msg)
	if err != nil {
		return nil, fmt.Errorf("telegram reply: %w", err)
	}
	return sendResult(sent), nil
}

func (e *Engine) SendLocation(ctx context.Context, req domain.LocationRequest) (*domain.SendResult, error) {
	id, err := parseChatID(req.ChatID)
	if err != nil {
		return nil, err
	}
	sent, err := e.bot.Send(tgbotapi.NewLocation(id, req.Latitude, req.Longitude))
	if err != nil {
		return nil, fmt.Errorf("telegram send location: %w", err)
	}
	return sendResult(sent), nil
}

func (e *Engine) SendFile(ctx context.Context, req domain.FileRequest) (*domain.SendResult, error) {
	id, err := parseChatID(req.ChatID)
	if err != nil {
		return nil, err
	}
	doc := tgbotapi.NewDocument(id, tgbotapi.FileBytes{Name: req.FileName, Bytes: req.Data})
	doc.Caption = req.Caption
	sent, err := e.bot.Send(doc)
	if err != nil {
		return nil, fmt.Errorf("telegram send file: %w", err)
	}
	return sendResult(sent), nil
}

func (e *Engine) SendVoice(ctx context.Context, req domain.FileRequest) (*domain.SendResult, error) {
	id, err := parseChatID(req.ChatID)
	if err != nil {
		return nil, err
	}
	voice := tgbotapi.NewVoice(id, tgbotapi.FileBytes{Name: req.FileName, Bytes: req.Data})
	sent, err := e.bot.Send(voice)
	if err != nil {
		return nil, fmt.Errorf("telegram send voice: %w", err)
	}
	return sendResult(sent), nil
}

func (e *Engine) SetPresence(ctx context.Context, presence domain.Presence, chatID string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	var action string
	switch presence {
	case domain.PresenceTyping:
		action = tgbotapi.ChatTyping
	case domain.PresenceRecording:
		action = "record_voice"
	default:
		return domain.NotImplemented("telegram bots cannot signal %q presence", presence)
	}
	if _, err := e.bot.Request(tgbotapi.NewChatAction(id, action)); err != nil {
		return fmt.Errorf("telegram chat action: %w", err)
	}
	return nil
}

func (e *Engine) Group(ctx context.Context, id string) (*domain.Group, error) {
	chatID, err := parseChatID(id)
	if err != nil {
		return nil, err
	}
	chat, err := e.bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
	if err != nil {
		return nil, fmt.Errorf("telegram get chat: %w", err)
	}
	group := &domain.Group{
		ID:          id,
		Subject:     chat.Title,
		Description: chat.Description,
	}
	if members, err := e.Participants(ctx, id); err == nil {
		group.Participants = members
	}
	return group, nil
}

func (e *Engine) LeaveGroup(ctx context.Context, id string) error {
	chatID, err := parseChatID(id)
	if err != nil {
		return err
	}
	if _, err := e.bot.Request(tgbotapi.LeaveChatConfig{ChatID: chatID}); err != nil {
		return fmt.Errorf("telegram leave chat: %w", err)
	}
	return nil
}

func (e *Engine) SetGroupSubject(ctx context.Context, id, subject string) error {
	chatID, err := parseChatID(id)
	if err != nil {
		return err
	}
	if _, err := e.bot.Request(tgbotapi.SetChatTitleConfig{ChatID: chatID, Title: subject}); err != nil {
		return fmt.Errorf("telegram set chat title: %w", err)
	}
	return nil
}

func (e *Engine) SetGroupDescription(ctx context.Context, id, description string) error {
	chatID, err := parseChatID(id)
	if err != nil {
		return err
	}
	if _, err := e.bot.Request(tgbotapi.SetChatDescriptionConfig{ChatID: chatID, Description: description}); err != nil {
		return fmt.Errorf("telegram set chat description: %w", err)
	}
	return nil
}

func (e *Engine) InviteCode(ctx context.Context, id string) (string, error) {
	chatID, err := parseChatID(id)
	if err != nil {
		return "", err
	}
	link, err := e.bot.GetInviteLink(tgbotapi.ChatInviteLinkConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
	if err != nil {
		return "", fmt.Errorf("telegram invite link: %w", err)
	}
	return link, nil
}

// Participants returns the administrators only; the Bot API does not allow
// listing the full membership of a chat.
func (e *Engine) Participants(ctx context.Context, id string) ([]domain.Participant, error) {
	chatID, err := parseChatID(id)
	if err != nil {
		return nil, err
	}
	admins, err := e.bot.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: chatID}})
	if err != nil {
		return nil, fmt.Errorf("telegram chat administrators: %w", err)
	}
	out := make([]domain.Participant, 0, len(admins))
	for _, member := range admins {
		out = append(out, domain.Participant{
			ID:    strconv.FormatInt(member.User.ID, 10),
			Admin: true,
		})
	}
	return out, nil
}
