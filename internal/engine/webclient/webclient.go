// Package webclient drives the WhatsApp web client through a headless
// Chrome instance. Authentication happens by pairing a QR code, which the
// engine surfaces as a challenge event until the page reports it is ready.
package webclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"chatgate/internal/domain"
)

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

const (
	webURL          = "https://web.whatsapp.com"
	defaultPoll     = 2 * time.Second
	challengePoll   = 1 * time.Second
	sendTimeout     = 30 * time.Second
	startNavTimeout = 60 * time.Second
)

// SelectorSet contains the CSS selectors the engine probes on the web client.
// They change whenever the page is redesigned, so they stay configurable.
type SelectorSet struct {
	QRCode   string // element carrying the pairing payload in data-ref
	ChatList string // present only once the session is authenticated
}

// DefaultSelectors returns the selectors for the current web client layout.
func DefaultSelectors() SelectorSet {
	return SelectorSet{
		QRCode:   "div[data-ref]",
		ChatList: "#pane-side",
	}
}

// Config holds configuration for the web client engine.
type Config struct {
	Name       string
	ProfileDir string // Chrome user data directory (persists the pairing)
	Headless   bool
	Proxy      *domain.ProxyConfig
	Tier       domain.Tier
	Selectors  SelectorSet
	Poll       time.Duration
	Logger     *slog.Logger
}

// Engine is the browser-backed adapter. File and voice uploads are gated
// behind the upgraded tier; everything else talks to the page directly.
type Engine struct {
	domain.UnimplementedEngine

	name      string
	profile   string
	headless  bool
	proxy     *domain.ProxyConfig
	tier      domain.Tier
	selectors SelectorSet
	poll      time.Duration
	logger    *slog.Logger

	events chan domain.RawEvent

	mu       sync.Mutex
	taskCtx  context.Context
	cancel   context.CancelFunc
	closed   bool
	stopOnce sync.Once
	lastTS   int64
}

func New(cfg Config) *Engine {
	if cfg.Name == "" {
		cfg.Name = "webclient"
	}
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".chatgate", "chrome-profiles", cfg.Name)
	}
	if cfg.Selectors == (SelectorSet{}) {
		cfg.Selectors = DefaultSelectors()
	}
	if cfg.Poll <= 0 {
		cfg.Poll = defaultPoll
	}
	if cfg.Tier == "" {
		cfg.Tier = domain.TierCore
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		name:      cfg.Name,
		profile:   cfg.ProfileDir,
		headless:  cfg.Headless,
		proxy:     cfg.Proxy,
		tier:      cfg.Tier,
		selectors: cfg.Selectors,
		poll:      cfg.Poll,
		logger:    cfg.Logger,
		events:    make(chan domain.RawEvent, 64),
	}
}

func (e *Engine) ID() string { return "webclient" }

func (e *Engine) KindMap() map[string]domain.EventKind {
	return map[string]domain.EventKind{
		"message":      domain.EventMessage,
		"message.any":  domain.EventMessageAny,
		"ack":          domain.EventMessageAck,
		"group.join":   domain.EventGroupJoin,
		"group.leave":  domain.EventGroupLeave,
		"presence":     domain.EventPresenceUpdate,
		"state.change": domain.EventStateChange,
	}
}

func (e *Engine) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(e.profile),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"),
	)
	if e.headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if e.proxy != nil && e.proxy.Server != "" {
		opts = append(opts, chromedp.ProxyServer(e.proxy.Server))
	}
	return opts
}

// Start launches Chrome, opens the web client and begins watching the page.
func (e *Engine) Start(ctx context.Context) error {
	if err := os.MkdirAll(e.profile, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, e.allocatorOptions()...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	navCtx, navCancel := context.WithTimeout(taskCtx, startNavTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx, chromedp.Navigate(webURL), chromedp.WaitReady("body")); err != nil {
		taskCancel()
		allocCancel()
		return fmt.Errorf("open web client: %w", err)
	}

	e.mu.Lock()
	e.taskCtx = taskCtx
	e.cancel = func() {
		taskCancel()
		allocCancel()
	}
	e.mu.Unlock()

	go e.watch(taskCtx)
	return nil
}

func (e *Engine) Stop() error {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		cancel := e.cancel
		e.closed = true
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		close(e.events)
	})
	return nil
}

func (e *Engine) Events() <-chan domain.RawEvent { return e.events }

func (e *Engine) emit(evt domain.RawEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.events <- evt:
	default:
		e.logger.Warn("raw event buffer full, dropping", "kind", evt.Kind)
	}
}

// watch drives the pairing flow and then polls for new messages. It owns
/// the lifecycle transitions: challenge until the chat list appears, ready
// once it does, disconnect when the browser context dies.
func (e *Engine) watch(ctx context.Context) {
	ticker := time.NewTicker(challengePoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.emit(domain.RawEvent{Lifecycle: domain.LifecycleDisconnect, Err: ctx.Err()})
			return
		case <-ticker.C:
		}

		authed, err := e.isAuthenticated(ctx)
		if err != nil {
			e.logger.Error("page probe failed", "err", err)
			e.emit(domain.RawEvent{Lifecycle: domain.LifecycleDisconnect, Err: err})
			return
		}
		if authed {
			break
		}

		if code, err := e.challengePayload(ctx); err == nil && code != "" {
			e.emit(domain.RawEvent{Lifecycle: domain.LifecycleChallenge, Challenge: code})
		}
	}

	e.emit(domain.RawEvent{Lifecycle: domain.LifecycleReady})
	e.logger.Info("web client authenticated", "engine", e.name)
	e.pollMessages(ctx)
}

func (e *Engine) isAuthenticated(ctx context.Context) (bool, error) {
	var present bool
	err := chromedp.Run(ctx, chromedp.Evaluate(
		fmt.Sprintf(`document.querySelector('%s') !== null`, e.selectors.ChatList),
		&present,
	))
	return present, err
}

func (e *Engine) challengePayload(ctx context.Context) (string, error) {
	var code string
	err := chromedp.Run(ctx, chromedp.Evaluate(
		fmt.Sprintf(`(function() {
			var el = document.querySelector('%s');
			return el ? (el.getAttribute('data-ref') || '') : '';
		})()`, e.selectors.QRCode),
		&code,
	))
	return code, err
}

// wireMessage mirrors what the in-page collector script returns.
type wireMessage struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	From      string `json:"from"`
	To        string `json:"to"`
	FromMe    bool   `json:"fromMe"`
	Body      string `json:"body"`
	Ack       int    `json:"ack"`
	HasMedia  bool   `json:"hasMedia"`
	MimeType  string `json:"mimeType"`
}

func (e *Engine) pollMessages(ctx context.Context) {
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.emit(domain.RawEvent{Lifecycle: domain.LifecycleDisconnect, Err: ctx.Err()})
			return
		case <-ticker.C:
		}

		batch, err := e.collect(ctx)
		if err != nil {
			e.emit(domain.RawEvent{Lifecycle: domain.LifecycleDisconnect, Err: err})
			return
		}
		for _, wm := range batch {
			e.emitMessage(wm)
		}
	}
}

// collect pulls messages newer than the last seen timestamp out of the
// page's in-memory store.
func (e *Engine) collect(ctx context.Context) ([]wireMessage, error) {
	e.mu.Lock()
	since := e.lastTS
	e.mu.Unlock()

	var batch []wireMessage
	script := fmt.Sprintf(`(function() {
		if (!window.Store || !window.Store.Msg) return [];
		return window.Store.Msg.getModelsArray()
			.filter(function(m) { return m.t > %d; })
			.map(function(m) {
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
	})()`, since)

	if err := chromedp.Run(ctx, chromedp.Evaluate(script, &batch)); err != nil {
		return nil, fmt.Errorf("collect messages: %w", err)
	}

	e.mu.Lock()
	for _, wm := range batch {
		if wm.Timestamp > e.lastTS {
			e.lastTS = wm.Timestamp
		}
	}
	e.mu.Unlock()
	return batch, nil
}

func (e *Engine) emitMessage(wm wireMessage) {
	msg := &domain.RawMessage{
		ID:     wm.ID,
		From:   wm.From,
		To:     wm.To,
		FromMe: wm.FromMe,
		Body:   wm.Body,
		Ack:    wm.Ack,
	}
	if wm.HasMedia {
		id := wm.ID
		msg.Media = &domain.RawMedia{
			MimeType: wm.MimeType,
			Fetch: func(ctx context.Context) ([]byte, error) {
				return e.downloadMedia(ctx, id)
			},
		}
	}

	kind := "message.any"
	if !wm.FromMe {
		kind = "message"
	}
	e.emit(domain.RawEvent{Kind: kind, Timestamp: time.Unix(wm.Timestamp, 0), Message: msg})
}

// downloadMedia decrypts the attachment inside the page and ships it out
// as base64; the page is the only place holding the media keys.
func (e *Engine) downloadMedia(ctx context.Context, messageID string) ([]byte, error) {
	taskCtx, err := e.task()
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithTimeout(taskCtx, sendTimeout)
	defer cancel()

	var encoded string
	script := fmt.Sprintf(`(async function() {
		var msg = window.Store.Msg.get(%q);
		if (!msg) throw new Error('message not found');
		var blob = await window.Store.DownloadManager.downloadAndDecrypt(msg);
		return btoa(String.fromCharCode.apply(null, new Uint8Array(blob)));
	})()`, messageID)

	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &encoded, awaitPromise)); err != nil {
		return nil, fmt.Errorf("download media %s: %w", messageID, err)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode media %s: %w", messageID, err)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return data, nil
}

func (e *Engine) task() (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.taskCtx == nil {
		return nil, fmt.Errorf("engine not started")
	}
	return e.taskCtx, nil
}

// run executes a script against the page with the send timeout applied.
func (e *Engine) run(ctx context.Context, script string, out any) error {
	taskCtx, err := e.task()
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(taskCtx, sendTimeout)
	defer cancel()
	if out == nil {
		var discard any
		out = &discard
	}
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, out, awaitPromise)); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return nil
}
