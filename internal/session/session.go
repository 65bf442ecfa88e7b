// Package session owns the lifecycle of one connection to a chat network
// through one engine. It normalizes the engine's event stream into
// canonical events and exposes an engine-agnostic command surface.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatgate/internal/domain"
	"chatgate/internal/media"
	"chatgate/internal/metrics"
)

// Status is the session connection state.
//
// STARTING -> SCAN_QR_CODE -> WORKING, with FAILED and STOPPED reachable
// from any non-terminal state. STOPPED is terminal; FAILED exits only
// through a registry restart (a new Session).
type Status string

const (
	StatusStarting Status = "STARTING"
	StatusScanQR   Status = "SCAN_QR_CODE"
	StatusWorking  Status = "WORKING"
	StatusFailed   Status = "FAILED"
	StatusStopped  Status = "STOPPED"
)

// Sink receives canonical events. Publishing must not block the caller.
type Sink interface {
	Publish(domain.Event)
}

// Config configures a Session.
type Config struct {
	Name          string
	Engine        domain.Engine
	Sink          Sink
	Normalizer    *media.Normalizer
	DownloadMedia bool
	OnStatus      func(Status) // optional observer, called on every transition
	Logger        *slog.Logger
}

// Session owns exactly one engine instance. Status transitions are driven
// only by engine events and explicit Stop calls; nothing polls.
type Session struct {
	name   string
	engine domain.Engine
	sink   Sink
	logger *slog.Logger

	normalizer    *media.Normalizer
	downloadMedia bool
	onStatus      func(Status)
	kinds         map[string]domain.EventKind

	mu        sync.RWMutex
	status    Status
	challenge string

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Session in STARTING state. Call Start to connect.
func New(cfg Config) *Session {
	return &Session{
		name:          cfg.Name,
		engine:        cfg.Engine,
		sink:          cfg.Sink,
		logger:        cfg.Logger,
		normalizer:    cfg.Normalizer,
		downloadMedia: cfg.DownloadMedia,
		onStatus:      cfg.OnStatus,
		kinds:         cfg.Engine.KindMap(),
		status:        StatusStarting,
		done:          make(chan struct{}),
	}
}

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// EngineID returns the identifier of the owned engine.
func (s *Session) EngineID() string { return s.engine.ID() }

// Status returns the current connection status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Challenge returns the pending credential-challenge payload (e.g. the
// login QR string), or "" when none is outstanding. Rendering is the
// caller's concern.
func (s *Session) Challenge() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.challenge
}

// Start connects the engine and begins consuming its event stream. An
// engine that rejects startup moves the session to FAILED; the error is
// returned but the process keeps running.
func (s *Session) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.notify(StatusStarting)

	if err := s.engine.Start(ctx); err != nil {
		s.setStatus(StatusFailed)
		return fmt.Errorf("engine start: %w", err)
	}

	go s.loop(ctx)
	return nil
}

// Stop cancels in-flight engine work, stops accepting events, and tears
// the engine down. Idempotent; in-flight webhook deliveries for already
// published events are unaffected.
func (s *Session) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.setStatus(StatusStopped)
		if s.cancel != nil {
			s.cancel()
		}
		err = s.engine.Stop()
	})
	return err
}

// Done is closed when the event loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) loop(ctx context.Context) {
	defer close(s.done)
	events := s.engine.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-events:
			if !ok {
				return
			}
			s.handle(ctx, raw)
		}
	}
}

func (s *Session) handle(ctx context.Context, raw domain.RawEvent) {
	if s.Status() == StatusStopped {
		return
	}

	switch raw.Lifecycle {
	case domain.LifecycleChallenge:
		s.mu.Lock()
		s.challenge = raw.Challenge
		s.mu.Unlock()
		s.setStatus(StatusScanQR)
	case domain.LifecycleReady:
		s.mu.Lock()
		s.challenge = ""
		s.mu.Unlock()
		s.setStatus(StatusWorking)
		s.logger.Info("session authenticated", "session", s.name)
	case domain.LifecycleDisconnect:
		s.logger.Error("engine reported unrecoverable disconnect",
			"session", s.name, "err", raw.Err)
		s.setStatus(StatusFailed)
	}

	if evt, ok := s.translate(ctx, raw); ok {
		metrics.EventsTranslated.Inc()
		s.sink.Publish(evt)
	}
}

// setStatus applies a transition, ignoring no-ops and moves out of
// terminal states. FAILED can only progress to STOPPED.
func (s *Session) setStatus(next Status) {
	s.mu.Lock()
	cur := s.status
	switch {
	case cur == next, cur == StatusStopped, cur == StatusFailed && next != StatusStopped:
		s.mu.Unlock()
		return
	}
	s.status = next
	s.mu.Unlock()

	s.logger.Info("session status changed", "session", s.name, "from", cur, "to", next)
	s.notifyObservers(next)
}

// notify reports the given status without a transition check. Used once at
// Start so observers see the initial STARTING state.
func (s *Session) notify(status Status) {
	s.notifyObservers(status)
}

func (s *Session) notifyObservers(status Status) {
	if s.onStatus != nil {
		s.onStatus(status)
	}
	s.sink.Publish(domain.Event{
		ID:        uuid.NewString(),
		Kind:      domain.EventStateChange,
		Session:   s.name,
		Engine:    s.engine.ID(),
		Timestamp: time.Now(),
		Payload:   domain.StateChange{Status: string(status)},
	})
}

// translate maps a raw engine event to its canonical form. Raw kinds the
// engine does not declare are dropped. Translation preserves emission
// order: it runs inline on the session's event loop.
func (s *Session) translate(ctx context.Context, raw domain.RawEvent) (domain.Event, bool) {
	kind, ok := s.kinds[raw.Kind]
	if !ok {
		return domain.Event{}, false
	}

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	evt := domain.Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Session:   s.name,
		Engine:    s.engine.ID(),
		Timestamp: ts,
	}

	switch {
	case raw.Message != nil:
		evt.Payload = s.buildMessage(ctx, kind, ts, raw.Message)
	case raw.Group != nil:
		evt.Payload = *raw.Group
	case raw.Presence != nil:
		evt.Payload = *raw.Presence
	default:
		evt.Payload = domain.StateChange{Status: raw.State}
	}
	return evt, true
}

func (s *Session) buildMessage(ctx context.Context, kind domain.EventKind, ts time.Time, rm *domain.RawMessage) domain.Message {
	msg := domain.Message{
		ID:        rm.ID,
		Timestamp: ts.Unix(),
		From:      rm.From,
		To:        rm.To,
		FromMe:    rm.FromMe,
		Body:      rm.Body,
		Ack:       rm.Ack,
		Location:  rm.Location,
		VCards:    rm.VCards,
	}

	if rm.Media != nil {
		m := &domain.Media{MimeType: rm.Media.MimeType}
		// Ack events never download media.
		if s.downloadMedia && s.normalizer != nil && kind != domain.EventMessageAck {
			url, err := s.normalizer.Resolve(ctx, rm.ID, rm.Media)
			if err != nil {
				// Degraded mode: the event proceeds without a URL.
				s.logger.Error("failed to download media for a message",
					"session", s.name, "message", rm.ID, "err", err)
			} else {
				m.URL = url
			}
		}
		msg.Media = m
	}
	return msg
}
