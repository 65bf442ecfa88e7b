// Package registry owns the set of named sessions and the engine factories
// used to build them. All session lifecycle operations from the HTTP
// surface go through here.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"chatgate/internal/domain"
	"chatgate/internal/media"
	"chatgate/internal/metrics"
	"chatgate/internal/session"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrAlreadyActive = errors.New("session already active")
	ErrUnknownEngine = errors.New("unknown engine")
)

// EngineFactory builds a fresh engine instance for the named session.
// Restarts call the factory again, so engines never get reused.
type EngineFactory func(sessionName string) (domain.Engine, error)

// Config holds the collaborators shared by every session.
type Config struct {
	Sink       session.Sink
	Normalizer *media.Normalizer
	Logger     *slog.Logger
}

// StartOptions selects the engine and per-session behavior.
type StartOptions struct {
	Engine        string
	DownloadMedia bool
}

// Info is a session summary for listings.
type Info struct {
	Name   string         `json:"name"`
	Engine string         `json:"engine"`
	Status session.Status `json:"status"`
}

type entry struct {
	sess *session.Session
	opts StartOptions
}

type Registry struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	factories map[string]EngineFactory
	sessions  map[string]*entry
	order     []string // start order, StopAll walks it backwards
}

func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:       cfg,
		logger:    logger,
		factories: make(map[string]EngineFactory),
		sessions:  make(map[string]*entry),
	}
}

// RegisterEngine makes an engine kind available to Start.
func (r *Registry) RegisterEngine(kind string, factory EngineFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Engines lists the registered engine kinds, sorted.
func (r *Registry) Engines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Start creates and starts a session. A name whose previous session ended
// in FAILED or STOPPED is replaced with a fresh engine; an active one is
// an error.
func (r *Registry) Start(ctx context.Context, name string, opts StartOptions) (*session.Session, error) {
	r.mu.Lock()
	if existing, ok := r.sessions[name]; ok {
		switch existing.sess.Status() {
		case session.StatusFailed, session.StatusStopped:
			// replaced below
		default:
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrAlreadyActive, name)
		}
	}
	factory, ok := r.factories[opts.Engine]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, opts.Engine)
	}
	r.mu.Unlock()

	engine, err := factory(name)
	if err != nil {
		return nil, fmt.Errorf("build %s engine: %w", opts.Engine, err)
	}

	sess := session.New(session.Config{
		Name:          name,
		Engine:        engine,
		Sink:          r.cfg.Sink,
		Normalizer:    r.cfg.Normalizer,
		DownloadMedia: opts.DownloadMedia,
		Logger:        r.logger.With("session", name),
	})
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, existed := r.sessions[name]; !existed {
		r.order = append(r.order, name)
	}
	r.sessions[name] = &entry{sess: sess, opts: opts}
	metrics.ActiveSessions.Set(int64(len(r.sessions)))
	r.mu.Unlock()

	r.logger.Info("session started", "session", name, "engine", opts.Engine)
	return sess, nil
}

// Get returns the named session.
func (r *Registry) Get(name string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e.sess, nil
}

// List returns a summary of every known session, sorted by name.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.sessions))
	for name, e := range r.sessions {
		out = append(out, Info{Name: name, Engine: e.opts.Engine, Status: e.sess.Status()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop stops the named session but keeps it listed with STOPPED status.
func (r *Registry) Stop(name string) error {
	r.mu.Lock()
	e, ok := r.sessions[name]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := e.sess.Stop(); err != nil {
		return err
	}
	r.logger.Info("session stopped", "session", name)
	return nil
}

// Remove stops the session and forgets it entirely.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	e, ok := r.sessions[name]
	if ok {
		delete(r.sessions, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		metrics.ActiveSessions.Set(int64(len(r.sessions)))
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e.sess.Stop()
}

// Restart stops the session and brings it back with a fresh engine built
// from the same options.
func (r *Registry) Restart(ctx context.Context, name string) (*session.Session, error) {
	r.mu.Lock()
	e, ok := r.sessions[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := e.sess.Stop(); err != nil {
		return nil, err
	}
	return r.Start(ctx, name, e.opts)
}

// StopAll stops every session in reverse start order. Used at shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	names := append([]string(nil), r.order...)
	r.mu.Unlock()

	for i := len(names) - 1; i >= 0; i-- {
		if err := r.Stop(names[i]); err != nil && !errors.Is(err, ErrNotFound) {
			r.logger.Error("session stop failed during shutdown", "session", names[i], "err", err)
		}
	}
}
