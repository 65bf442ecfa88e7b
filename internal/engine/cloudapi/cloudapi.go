// Package cloudapi adapts the hosted Graph messaging API to the engine
// interface. Inbound traffic arrives on a webhook the gateway mounts via
// Handler; outbound calls go straight to the Graph endpoint with a bearer
// token, so there is no pairing challenge.
package cloudapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"chatgate/internal/domain"
)

const defaultAPIBase = "https://graph.facebook.com/v21.0"

// Config holds configuration for the cloud API engine.
type Config struct {
	PhoneNumberID string
	AccessToken   string
	VerifyToken   string // webhook subscription handshake
	AppSecret     string // enables X-Hub-Signature-256 verification
	APIBase       string // override for tests
	Logger        *slog.Logger
}

type Engine struct {
	domain.UnimplementedEngine

	cfg    Config
	logger *slog.Logger
	client *http.Client
	mux    *http.ServeMux

	events   chan domain.RawEvent
	stopOnce sync.Once
}

func New(cfg Config) *Engine {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Engine{
		cfg:    cfg,
		logger: cfg.Logger,
		client: &http.Client{Timeout: 30 * time.Second},
		events: make(chan domain.RawEvent, 64),
	}
	e.mux = http.NewServeMux()
	e.mux.HandleFunc("GET /", e.handleVerification)
	e.mux.HandleFunc("POST /", e.handleIncoming)
	return e
}

func (e *Engine) ID() string { return "cloudapi" }

func (e *Engine) KindMap() map[string]domain.EventKind {
	return map[string]domain.EventKind{
		"message": domain.EventMessage,
		"status":  domain.EventMessageAck,
	}
}

func (e *Engine) Start(ctx context.Context) error {
	if e.cfg.PhoneNumberID == "" || e.cfg.AccessToken == "" {
		return fmt.Errorf("cloudapi: phone number id and access token are required")
	}
	// Token auth, no challenge step.
	e.emit(domain.RawEvent{Lifecycle: domain.LifecycleReady})
	e.logger.Info("cloud api engine ready", "phone_number_id", e.cfg.PhoneNumberID)
	return nil
}

func (e *Engine) Stop() error {
	e.stopOnce.Do(func() { close(e.events) })
	return nil
}

func (e *Engine) Events() <-chan domain.RawEvent { return e.events }

// Handler returns the webhook handler; the gateway mounts it under the
// session's ingress path.
func (e *Engine) Handler() http.Handler { return e.mux }

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

// --- webhook ingress ---

func (e *Engine) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == e.cfg.VerifyToken {
		e.logger.Info("webhook subscription verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}
	e.logger.Warn("webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

func (e *Engine) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if e.cfg.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !e.verifySignature(body, sig) {
			e.logger.Warn("invalid webhook signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload graphPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		e.logger.Warn("bad webhook payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				e.emitMessage(msg)
			}
			for _, status := range change.Value.Statuses {
				e.emitStatus(status)
			}
		}
	}
	rw.WriteHeader(http.StatusOK)
}

func (e *Engine) verifySignature(body []byte, signature string) bool {
	if len(signature) < 7 || signature[:7] != "sha256=" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(e.cfg.AppSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature[7:]), []byte(computed))
}

func (e *Engine) emitMessage(msg graphMessage) {
	raw := &domain.RawMessage{
		ID:   msg.ID,
		From: msg.From,
		To:   e.cfg.PhoneNumberID,
	}
	if msg.Text != nil {
		raw.Body = msg.Text.Body
	}

	var media *graphMedia
	switch {
	case msg.Image != nil:
		media = msg.Image
	case msg.Document != nil:
		media = msg.Document
	case msg.Audio != nil:
		media = msg.Audio
	case msg.Video != nil:
		media = msg.Video
	}
	if media != nil {
		if media.Caption != "" && raw.Body == "" {
			raw.Body = media.Caption
		}
		mediaID := media.ID
		raw.Media = &domain.RawMedia{
			MimeType: media.MimeType,
			Fetch: func(ctx context.Context) ([]byte, error) {
				return e.downloadMedia(ctx, mediaID)
			},
		}
	}
	if msg.Location != nil {
		raw.Location = &domain.Location{
			Latitude:  msg.Location.Latitude,
			Longitude: msg.Location.Longitude,
			Title:     msg.Location.Name,
		}
	}

	ts := time.Now()
	if sec, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil {
		ts = time.Unix(sec, 0)
	}
	e.emit(domain.RawEvent{Kind: "message", Timestamp: ts, Message: raw})
}

func (e *Engine) emitStatus(status graphStatus) {
	ack := 0
	switch status.Status {
	case "sent":
		ack = 1
	case "delivered":
		ack = 2
	case "read":
		ack = 3
	}
	e.emit(domain.RawEvent{
		Kind: "status",
		Message: &domain.RawMessage{
			ID:     status.ID,
			To:     status.RecipientID,
			FromMe: true,
			Ack:    ack,
		},
	})
}

// downloadMedia resolves the media id to its signed URL, then fetches the
// bytes with the same bearer token.
func (e *Engine) downloadMedia(ctx context.Context, mediaID string) ([]byte, error) {
	var meta struct {
		URL string `json:"url"`
	}
	if err := e.getJSON(ctx, fmt.Sprintf("%s/%s", e.cfg.APIBase, mediaID), &meta); err != nil {
		return nil, fmt.Errorf("resolve media %s: %w", mediaID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+e.cfg.AccessToken)
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media %s: %w", mediaID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download media %s: unexpected status %d", mediaID, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (e *Engine) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+e.cfg.AccessToken)
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("graph API %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// --- outbound ---

func (e *Engine) post(ctx context.Context, payload map[string]any) (*domain.SendResult, error) {
	url := fmt.Sprintf("%s/%s/messages", e.cfg.APIBase, e.cfg.PhoneNumberID)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.AccessToken)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("graph API %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	out := &domain.SendResult{Timestamp: time.Now().Unix()}
	if len(result.Messages) > 0 {
		out.ID = result.Messages[0].ID
	}
	return out, nil
}

func (e *Engine) SendText(ctx context.Context, req domain.TextRequest) (*domain.SendResult, error) {
	return e.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                req.ChatID,
		"type":              "text",
		"text":              map[string]string{"body": req.Text},
	})
}

func (e *Engine) Reply(ctx context.Context, req domain.ReplyRequest) (*domain.SendResult, error) {
	return e.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                req.ChatID,
		"type":              "text",
		"context":           map[string]string{"message_id": req.ReplyTo},
		"text":              map[string]string{"body": req.Text},
	})
}

func (e *Engine) SendLocation(ctx context.Context, req domain.LocationRequest) (*domain.SendResult, error) {
	return e.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                req.ChatID,
		"type":              "location",
		"location": map[string]any{
			"latitude":  req.Latitude,
			"longitude": req.Longitude,
			"name":      req.Title,
		},
	})
}

func (e *Engine) SendFile(ctx context.Context, req domain.FileRequest) (*domain.SendResult, error) {
	mediaID, err := e.uploadMedia(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                req.ChatID,
		"type":              "document",
		"document": map[string]string{
			"id":       mediaID,
			"filename": req.FileName,
			"caption":  req.Caption,
		},
	})
}

func (e *Engine) SendVoice(ctx context.Context, req domain.FileRequest) (*domain.SendResult, error) {
	mediaID, err := e.uploadMedia(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                req.ChatID,
		"type":              "audio",
		"audio":             map[string]string{"id": mediaID},
	})
}

// uploadMedia pushes the bytes to the media endpoint and returns the
// handle to reference in a subsequent message.
func (e *Engine) uploadMedia(ctx context.Context, req domain.FileRequest) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", req.FileName)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(req.Data); err != nil {
		return "", err
	}
	_ = writer.WriteField("type", req.MimeType)
	_ = writer.WriteField("messaging_product", "whatsapp")
	if err := writer.Close(); err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/media", e.cfg.APIBase, e.cfg.PhoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+e.cfg.AccessToken)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload media %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	return result.ID, nil
}

func (e *Engine) SendSeen(ctx context.Context, req domain.SeenRequest) error {
	if req.MessageID == "" {
		return domain.NotImplemented("cloud api read receipts require a message id")
	}
	_, err := e.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        req.MessageID,
	})
	return err
}

func (e *Engine) SetReaction(ctx context.Context, req domain.ReactionRequest) error {
	// Reactions need the chat id on this API; it is encoded in the message
	// id prefix for hosted numbers, so the raw id is passed through.
	_, err := e.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"type":              "reaction",
		"reaction": map[string]string{
			"message_id": req.MessageID,
			"emoji":      req.Reaction,
		},
	})
	return err
}

func (e *Engine) CheckNumberStatus(ctx context.Context, query domain.NumberStatusQuery) (*domain.NumberStatusResult, error) {
	var result struct {
		Contacts []struct {
			Status string `json:"status"`
		} `json:"contacts"`
	}
	url := fmt.Sprintf("%s/%s/contacts?blocking=wait&contacts=%s", e.cfg.APIBase, e.cfg.PhoneNumberID, query.Phone)
	if err := e.getJSON(ctx, url, &result); err != nil {
		return nil, err
	}
	exists := len(result.Contacts) > 0 && result.Contacts[0].Status == "valid"
	return &domain.NumberStatusResult{NumberExists: exists}, nil
}

// --- webhook payload types ---

type graphPayload struct {
	Object string       `json:"object"`
	Entry  []graphEntry `json:"entry"`
}

type graphEntry struct {
	ID      string        `json:"id"`
	Changes []graphChange `json:"changes"`
}

type graphChange struct {
	Value graphValue `json:"value"`
	Field string     `json:"field"`
}

type graphValue struct {
	MessagingProduct string         `json:"messaging_product"`
	Messages         []graphMessage `json:"messages"`
	Statuses         []graphStatus  `json:"statuses"`
}

type graphMessage struct {
	From      string         `json:"from"`
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"type"`
	Text      *graphText     `json:"text,omitempty"`
	Image     *graphMedia    `json:"image,omitempty"`
	Document  *graphMedia    `json:"document,omitempty"`
	Audio     *graphMedia    `json:"audio,omitempty"`
	Video     *graphMedia    `json:"video,omitempty"`
	Location  *graphLocation `json:"location,omitempty"`
}

type graphText struct {
	Body string `json:"body"`
}

type graphMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}

type graphLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
}

type graphStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}
