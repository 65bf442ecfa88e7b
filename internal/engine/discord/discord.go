// Package discord adapts a Discord bot to the engine interface. Guilds map
// onto groups and channels onto chats; the gateway connection authenticates
// with a bot token, so no pairing challenge is emitted.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"chatgate/internal/domain"
)

const mediaGetTimeout = 60 * time.Second

// Config holds configuration for the Discord engine.
type Config struct {
	Token   string
	GuildID string // restrict to one guild, empty accepts all
	Logger  *slog.Logger
}

type Engine struct {
	domain.UnimplementedEngine

	token   string
	guildID string
	logger  *slog.Logger

	session *discordgo.Session
	events  chan domain.RawEvent

	stopOnce sync.Once
}

func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		logger:  cfg.Logger,
		events:  make(chan domain.RawEvent, 64),
	}
}

func (e *Engine) ID() string { return "discord" }

func (e *Engine) KindMap() map[string]domain.EventKind {
	return map[string]domain.EventKind{
		"message":     domain.EventMessage,
		"message.any": domain.EventMessageAny,
		"group.join":  domain.EventGroupJoin,
		"group.leave": domain.EventGroupLeave,
		"presence":    domain.EventPresenceUpdate,
	}
}

func (e *Engine) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + e.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessageTyping

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		e.logger.Info("discord bot connected", "user", r.User.Username)
		e.emit(domain.RawEvent{Lifecycle: domain.LifecycleReady})
	})
	session.AddHandler(func(s *discordgo.Session, d *discordgo.Disconnect) {
		e.emit(domain.RawEvent{Lifecycle: domain.LifecycleDisconnect})
	})
	session.AddHandler(e.onMessageCreate)
	session.AddHandler(e.onMemberAdd)
	session.AddHandler(e.onMemberRemove)
	session.AddHandler(e.onTyping)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	e.session = session
	return nil
}

func (e *Engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		if e.session != nil {
			err = e.session.Close()
		}
		close(e.events)
	})
	return err
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

func (e *Engine) inGuild(guildID string) bool {
	return e.guildID == "" || guildID == "" || guildID == e.guildID
}

func (e *Engine) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if !e.inGuild(m.GuildID) {
		return
	}
	fromMe := s.State.User != nil && m.Author != nil && m.Author.ID == s.State.User.ID

	raw := &domain.RawMessage{
		ID:     m.ID,
		To:     m.ChannelID,
		FromMe: fromMe,
		Body:   m.Content,
	}
	if m.Author != nil {
		raw.From = m.Author.ID
	}
	if len(m.Attachments) > 0 {
		att := m.Attachments[0]
		url := att.URL
		raw.Media = &domain.RawMedia{
			MimeType: att.ContentType,
			Fetch: func(ctx context.Context) ([]byte, error) {
				return fetchAttachment(ctx, url)
			},
		}
	}

	kind := "message"
	if fromMe {
		kind = "message.any"
	}
	e.emit(domain.RawEvent{Kind: kind, Timestamp: m.Timestamp, Message: raw})
}

func (e *Engine) onMemberAdd(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if !e.inGuild(m.GuildID) || m.User == nil {
		return
	}
	e.emit(domain.RawEvent{
		Kind:  "group.join",
		Group: &domain.GroupNotice{GroupID: m.GuildID, Participant: m.User.ID},
	})
}

func (e *Engine) onMemberRemove(s *discordgo.Session, m *discordgo.GuildMemberRemove) {
	if !e.inGuild(m.GuildID) || m.User == nil {
		return
	}
	e.emit(domain.RawEvent{
		Kind:  "group.leave",
		Group: &domain.GroupNotice{GroupID: m.GuildID, Participant: m.User.ID},
	})
}

func (e *Engine) onTyping(s *discordgo.Session, t *discordgo.TypingStart) {
	if !e.inGuild(t.GuildID) {
		return
	}
	e.emit(domain.RawEvent{
		Kind:     "presence",
		Presence: &domain.PresenceNotice{ChatID: t.ChannelID, Presence: string(domain.PresenceTyping)},
	})
}

func fetchAttachment(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, mediaGetTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download attachment: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// --- outbound ---

func sendResult(msg *discordgo.Message) *domain.SendResult {
	res := &domain.SendResult{ID: msg.ID, Timestamp: time.Now().Unix()}
	if !msg.Timestamp.IsZero() {
		res.Timestamp = msg.Timestamp.Unix()
	}
	return res
}

func (e *Engine) SendText(ctx context.Context, req domain.TextRequest) (*domain.SendResult, error) {
	msg, err := e.session.ChannelMessageSend(req.ChatID, req.Text)
	if err != nil {
		return nil, fmt.Errorf("discord send: %w", err)
	}
	return sendResult(msg), nil
}

func (e *Engine) Reply(ctx context.Context, req domain.ReplyRequest) (*domain.SendResult, error) {
	msg, err := e.session.ChannelMessageSendReply(req.ChatID, req.Text, &discordgo.MessageReference{
		MessageID: req.ReplyTo,
		ChannelID: req.ChatID,
	})
	if err != nil {
		return nil, fmt.Errorf("discord reply: %w", err)
	}
	return sendResult(msg), nil
}

func (e *Engine) SendFile(ctx context.Context, req domain.FileRequest) (*domain.SendResult, error) {
	name := req.FileName
	if name == "" {
		name = "file"
	}
	msg, err := e.session.ChannelMessageSendComplex(req.ChatID, &discordgo.MessageSend{
		Content: req.Caption,
		Files: []*discordgo.File{{
			Name:        name,
			ContentType: req.MimeType,
			Reader:      bytes.NewReader(req.Data),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("discord send file: %w", err)
	}
	return sendResult(msg), nil
}

func (e *Engine) SendVoice(ctx context.Context, req domain.FileRequest) (*domain.SendResult, error) {
	if req.FileName == "" {
		req.FileName = "voice.ogg"
	}
	return e.SendFile(ctx, req)
}

// SetReaction expects "channelID:messageID" since reactions are addressed
// per channel on this network.
func (e *Engine) SetReaction(ctx context.Context, req domain.ReactionRequest) error {
	channelID, messageID, ok := strings.Cut(req.MessageID, ":")
	if !ok {
		return fmt.Errorf("discord reaction needs a channel-qualified id, got %q", req.MessageID)
	}
	if req.Reaction == "" {
		return e.session.MessageReactionsRemoveAll(channelID, messageID)
	}
	if err := e.session.MessageReactionAdd(channelID, messageID, req.Reaction); err != nil {
		return fmt.Errorf("discord reaction: %w", err)
	}
	return nil
}

func (e *Engine) SetPresence(ctx context.Context, presence domain.Presence, chatID string) error {
	switch presence {
	case domain.PresenceTyping:
		if err := e.session.ChannelTyping(chatID); err != nil {
			return fmt.Errorf("discord typing: %w", err)
		}
		return nil
	case domain.PresenceOnline:
		return e.session.UpdateStatusComplex(discordgo.UpdateStatusData{Status: "online"})
	case domain.PresenceOffline:
		return e.session.UpdateStatusComplex(discordgo.UpdateStatusData{Status: "invisible"})
	default:
		return domain.NotImplemented("discord bots cannot signal %q presence", presence)
	}
}

func (e *Engine) Chats(ctx context.Context) ([]domain.Chat, error) {
	if e.guildID == "" {
		return nil, domain.NotImplemented("listing chats requires a configured guild")
	}
	channels, err := e.session.GuildChannels(e.guildID)
	if err != nil {
		return nil, fmt.Errorf("discord guild channels: %w", err)
	}
	out := make([]domain.Chat, 0, len(channels))
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		out = append(out, domain.Chat{ID: ch.ID, Name: ch.Name, IsGroup: true})
	}
	return out, nil
}

func (e *Engine) Messages(ctx context.Context, query domain.MessagesQuery) ([]domain.Message, error) {
	limit := query.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	history, err := e.session.ChannelMessages(query.ChatID, limit, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("discord channel messages: %w", err)
	}

	selfID := ""
	if e.session.State.User != nil {
		selfID = e.session.State.User.ID
	}
	out := make([]domain.Message, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- { // API returns newest first
		m := history[i]
		msg := domain.Message{
			ID:        m.ID,
			Timestamp: m.Timestamp.Unix(),
			To:        query.ChatID,
			Body:      m.Content,
		}
		if m.Author != nil {
			msg.From = m.Author.ID
			msg.FromMe = m.Author.ID == selfID
		}
		if len(m.Attachments) > 0 {
			msg.Media = &domain.Media{MimeType: m.Attachments[0].ContentType, URL: m.Attachments[0].URL}
		}
		out = append(out, msg)
	}
	return out, nil
}

func (e *Engine) DeleteChat(ctx context.Context, chatID string) error {
	if _, err := e.session.ChannelDelete(chatID); err != nil {
		return fmt.Errorf("discord delete channel: %w", err)
	}
	return nil
}

func (e *Engine) Groups(ctx context.Context) ([]domain.Group, error) {
	guilds, err := e.session.UserGuilds(100, "", "", false)
	if err != nil {
		return nil, fmt.Errorf("discord user guilds: %w", err)
	}
	out := make([]domain.Group, 0, len(guilds))
	for _, g := range guilds {
		out = append(out, domain.Group{ID: g.ID, Subject: g.Name})
	}
	return out, nil
}

func (e *Engine) Group(ctx context.Context, id string) (*domain.Group, error) {
	guild, err := e.session.Guild(id)
	if err != nil {
		return nil, fmt.Errorf("discord guild: %w", err)
	}
	group := &domain.Group{ID: guild.ID, Subject: guild.Name, Description: guild.Description}
	if members, err := e.Participants(ctx, id); err == nil {
		group.Participants = members
	}
	return group, nil
}

func (e *Engine) LeaveGroup(ctx context.Context, id string) error {
	if err := e.session.GuildLeave(id); err != nil {
		return fmt.Errorf("discord guild leave: %w", err)
	}
	return nil
}

func (e *Engine) SetGroupSubject(ctx context.Context, id, subject string) error {
	if _, err := e.session.GuildEdit(id, &discordgo.GuildParams{Name: subject}); err != nil {
		return fmt.Errorf("discord guild edit: %w", err)
	}
	return nil
}

func (e *Engine) Participants(ctx context.Context, id string) ([]domain.Participant, error) {
	members, err := e.session.GuildMembers(id, "", 1000)
	if err != nil {
		return nil, fmt.Errorf("discord guild members: %w", err)
	}
	out := make([]domain.Participant, 0, len(members))
	for _, m := range members {
		if m.User == nil {
			continue
		}
		out = append(out, domain.Participant{ID: m.User.ID})
	}
	return out, nil
}

func (e *Engine) RemoveParticipants(ctx context.Context, id string, req domain.ParticipantsRequest) error {
	for _, userID := range req.Participants {
		if err := e.session.GuildMemberDelete(id, userID); err != nil {
			return fmt.Errorf("discord kick %s: %w", userID, err)
		}
	}
	return nil
}
