// Package gateway exposes the HTTP surface: session lifecycle, chat
// commands, the websocket event stream, served media files and metrics.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"chatgate/internal/domain"
	"chatgate/internal/events"
	"chatgate/internal/metrics"
	"chatgate/internal/registry"
	"chatgate/internal/session"
)

const (
	maxBodySize     = 32 << 20 // file sends carry base64 payloads
	shutdownTimeout = 5 * time.Second
)

// Config holds configuration for the gateway server.
type Config struct {
	Host    string
	Port    int
	APIKey  string // empty disables auth
	Version string

	Registry *registry.Registry
	Hub      *events.Hub
	Files    http.Handler            // mounted at /files/, optional
	Ingress  map[string]http.Handler // engine webhook handlers by name, mounted at /ingress/{name}/

	Logger *slog.Logger
}

type Server struct {
	cfg    Config
	logger *slog.Logger
	server *http.Server
	mux    *http.ServeMux
}

func New(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}
	s.mux = s.routes()
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", metrics.Collector.Handler())

	if s.cfg.Files != nil {
		mux.Handle("GET /files/", s.cfg.Files)
	}
	for name, handler := range s.cfg.Ingress {
		mux.Handle("/ingress/"+name+"/", http.StripPrefix("/ingress/"+name, handler))
	}

	// Session lifecycle
	mux.HandleFunc("GET /api/sessions", s.requireKey(s.handleListSessions))
	mux.HandleFunc("GET /api/sessions/{session}", s.requireKey(s.handleGetSession))
	mux.HandleFunc("POST /api/sessions/{session}/start", s.requireKey(s.handleStartSession))
	mux.HandleFunc("POST /api/sessions/{session}/stop", s.requireKey(s.handleStopSession))
	mux.HandleFunc("POST /api/sessions/{session}/restart", s.requireKey(s.handleRestartSession))
	mux.HandleFunc("DELETE /api/sessions/{session}", s.requireKey(s.handleRemoveSession))

	// Auth artifacts and diagnostics
	mux.HandleFunc("GET /api/sessions/{session}/auth/qr", s.requireKey(s.handleQR))
	mux.HandleFunc("GET /api/sessions/{session}/screenshot", s.requireKey(s.handleScreenshot))

	// Messaging
	mux.HandleFunc("POST /api/sessions/{session}/sendText", s.requireKey(s.handleSendText))
	mux.HandleFunc("POST /api/sessions/{session}/reply", s.requireKey(s.handleReply))
	mux.HandleFunc("POST /api/sessions/{session}/sendLocation", s.requireKey(s.handleSendLocation))
	mux.HandleFunc("POST /api/sessions/{session}/sendFile", s.requireKey(s.handleSendFile))
	mux.HandleFunc("POST /api/sessions/{session}/sendVoice", s.requireKey(s.handleSendVoice))
	mux.HandleFunc("POST /api/sessions/{session}/sendContactVcard", s.requireKey(s.handleSendVCard))
	mux.HandleFunc("POST /api/sessions/{session}/sendLinkPreview", s.requireKey(s.handleSendLinkPreview))
	mux.HandleFunc("POST /api/sessions/{session}/sendSeen", s.requireKey(s.handleSendSeen))
	mux.HandleFunc("PUT /api/sessions/{session}/reaction", s.requireKey(s.handleReaction))
	mux.HandleFunc("POST /api/sessions/{session}/presence", s.requireKey(s.handlePresence))

	// Chats
	mux.HandleFunc("GET /api/sessions/{session}/chats", s.requireKey(s.handleChats))
	mux.HandleFunc("GET /api/sessions/{session}/chats/{chat}/messages", s.requireKey(s.handleMessages))
	mux.HandleFunc("DELETE /api/sessions/{session}/chats/{chat}/messages", s.requireKey(s.handleClearMessages))
	mux.HandleFunc("DELETE /api/sessions/{session}/chats/{chat}", s.requireKey(s.handleDeleteChat))
	mux.HandleFunc("GET /api/sessions/{session}/checkNumberStatus", s.requireKey(s.handleCheckNumber))

	// Contacts
	mux.HandleFunc("GET /api/sessions/{session}/contacts", s.requireKey(s.handleContacts))
	mux.HandleFunc("GET /api/sessions/{session}/contacts/{contact}", s.requireKey(s.handleContact))
	mux.HandleFunc("POST /api/sessions/{session}/contacts/{contact}/block", s.requireKey(s.handleBlock))
	mux.HandleFunc("POST /api/sessions/{session}/contacts/{contact}/unblock", s.requireKey(s.handleUnblock))

	// Groups
	mux.HandleFunc("POST /api/sessions/{session}/groups", s.requireKey(s.handleCreateGroup))
	mux.HandleFunc("GET /api/sessions/{session}/groups", s.requireKey(s.handleGroups))
	mux.HandleFunc("GET /api/sessions/{session}/groups/{group}", s.requireKey(s.handleGroup))
	mux.HandleFunc("DELETE /api/sessions/{session}/groups/{group}", s.requireKey(s.handleDeleteGroup))
	mux.HandleFunc("POST /api/sessions/{session}/groups/{group}/leave", s.requireKey(s.handleLeaveGroup))
	mux.HandleFunc("PUT /api/sessions/{session}/groups/{group}/subject", s.requireKey(s.handleGroupSubject))
	mux.HandleFunc("PUT /api/sessions/{session}/groups/{group}/description", s.requireKey(s.handleGroupDescription))
	mux.HandleFunc("GET /api/sessions/{session}/groups/{group}/invite-code", s.requireKey(s.handleInviteCode))
	mux.HandleFunc("POST /api/sessions/{session}/groups/{group}/invite-code/revoke", s.requireKey(s.handleRevokeInvite))
	mux.HandleFunc("GET /api/sessions/{session}/groups/{group}/participants", s.requireKey(s.handleParticipants))
	mux.HandleFunc("POST /api/sessions/{session}/groups/{group}/participants/add", s.requireKey(s.handleAddParticipants))
	mux.HandleFunc("POST /api/sessions/{session}/groups/{group}/participants/remove", s.requireKey(s.handleRemoveParticipants))
	mux.HandleFunc("POST /api/sessions/{session}/groups/{group}/admin/promote", s.requireKey(s.handlePromote))
	mux.HandleFunc("POST /api/sessions/{session}/groups/{group}/admin/demote", s.requireKey(s.handleDemote))

	// Event stream
	mux.HandleFunc("GET /ws", s.requireKey(s.handleStream))

	return mux
}

// Handler exposes the routed mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("gateway listening", "addr", "http://"+addr, "auth", s.cfg.APIKey != "")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully, for callers not using Start's ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// requireKey wraps a handler with X-Api-Key auth when a key is configured.
func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" {
			key := r.Header.Get("X-Api-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key") // websocket clients cannot set headers
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
				writeJSON(rw, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
				return
			}
		}
		next(rw, r)
	}
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.cfg.Version,
		"time":    time.Now().Format(time.RFC3339),
	})
}

// sessionFrom resolves the {session} path segment; a nil return means the
// error response is already written.
func (s *Server) sessionFrom(rw http.ResponseWriter, r *http.Request) *session.Session {
	name := r.PathValue("session")
	sess, err := s.cfg.Registry.Get(name)
	if err != nil {
		s.writeError(rw, err)
		return nil
	}
	return sess
}

func writeJSON(rw http.ResponseWriter, status int, body any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(body)
}

func decodeBody(rw http.ResponseWriter, r *http.Request, into any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxBodySize)).Decode(into); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// writeError maps the typed error taxonomy onto HTTP statuses.
func (s *Server) writeError(rw http.ResponseWriter, err error) {
	var (
		notImpl    *domain.NotImplementedError
		restricted *domain.TierRestrictedError
		notUsable  *domain.SessionNotUsableError
		engineOp   *domain.EngineOperationError
	)
	switch {
	case errors.As(err, &notImpl):
		writeJSON(rw, http.StatusNotImplemented, map[string]string{"error": err.Error()})
	case errors.As(err, &restricted):
		writeJSON(rw, http.StatusPaymentRequired, map[string]string{"error": err.Error()})
	case errors.As(err, &notUsable):
		writeJSON(rw, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, registry.ErrNotFound):
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, registry.ErrAlreadyActive):
		writeJSON(rw, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, registry.ErrUnknownEngine):
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &engineOp):
		writeJSON(rw, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed", "err", err)
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
