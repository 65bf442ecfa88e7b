package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatgate/internal/domain"
	"chatgate/internal/events"
	"chatgate/internal/registry"
	"chatgate/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubEngine struct {
	domain.UnimplementedEngine
	events   chan domain.RawEvent
	stopOnce sync.Once
}

func newStubEngine() *stubEngine {
	return &stubEngine{events: make(chan domain.RawEvent, 8)}
}

func (s *stubEngine) ID() string                      { return "stub" }
func (s *stubEngine) Start(ctx context.Context) error { return nil }
func (s *stubEngine) Events() <-chan domain.RawEvent  { return s.events }
func (s *stubEngine) KindMap() map[string]domain.EventKind {
	return map[string]domain.EventKind{"message": domain.EventMessage}
}

func (s *stubEngine) Stop() error {
	s.stopOnce.Do(func() { close(s.events) })
	return nil
}

func (s *stubEngine) SendText(ctx context.Context, req domain.TextRequest) (*domain.SendResult, error) {
	return &domain.SendResult{ID: "sent-1", Timestamp: time.Now().Unix()}, nil
}

func (s *stubEngine) SendFile(ctx context.Context, req domain.FileRequest) (*domain.SendResult, error) {
	return nil, &domain.TierRestrictedError{Capability: "sending files"}
}

type testFixture struct {
	srv     *httptest.Server
	hub     *events.Hub
	reg     *registry.Registry
	engines []*stubEngine
	mu      sync.Mutex
}

func newFixture(t *testing.T, apiKey string) *testFixture {
	t.Helper()
	f := &testFixture{}
	f.hub = events.NewHub(testLogger())
	f.reg = registry.New(registry.Config{Sink: f.hub, Logger: testLogger()})
	f.reg.RegisterEngine("stub", func(name string) (domain.Engine, error) {
		e := newStubEngine()
		f.mu.Lock()
		f.engines = append(f.engines, e)
		f.mu.Unlock()
		return e, nil
	})
	t.Cleanup(f.reg.StopAll)

	gw := New(Config{
		APIKey:   apiKey,
		Registry: f.reg,
		Hub:      f.hub,
		Logger:   testLogger(),
	})
	f.srv = httptest.NewServer(gw.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *testFixture) lastEngine(t *testing.T) *stubEngine {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.engines) == 0 {
		t.Fatal("no engine built yet")
	}
	return f.engines[len(f.engines)-1]
}

func (f *testFixture) do(t *testing.T, method, path, apiKey string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *testFixture) startSession(t *testing.T, apiKey, name string) {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/sessions/"+name+"/start", apiKey,
		map[string]any{"engine": "stub"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start session: status %d", resp.StatusCode)
	}
}

func waitStatus(t *testing.T, f *testFixture, name string, want session.Status) {
	t.Helper()
	sess, err := f.reg.Get(name)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached %s (at %s)", want, sess.Status())
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, "topsecret")

	resp := f.do(t, http.MethodGet, "/api/sessions", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", resp.StatusCode)
	}
	resp = f.do(t, http.MethodGet, "/api/sessions", "wrong", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad key, got %d", resp.StatusCode)
	}
	resp = f.do(t, http.MethodGet, "/api/sessions", "topsecret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", resp.StatusCode)
	}

	// Health stays public.
	resp = f.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health should be public, got %d", resp.StatusCode)
	}
}

func TestRouteTableConstructs(t *testing.T) {
	// ServeMux panics at registration time on ambiguous patterns, so simply
	// building a server guards the whole route table.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("route registration panicked: %v", r)
		}
	}()
	New(Config{Logger: testLogger()})
}

func TestCommandRoutesDoNotShadowLookups(t *testing.T) {
	f := newFixture(t, "")

	// A session that happens to be named like a command segment must still
	// resolve as a session lookup, not as a command route.
	resp := f.do(t, http.MethodGet, "/api/sessions/screenshot", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 session lookup, got %d", resp.StatusCode)
	}

	f.startSession(t, "", "screenshot")
	resp = f.do(t, http.MethodGet, "/api/sessions/screenshot", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for existing session, got %d", resp.StatusCode)
	}
	var info registry.Info
	json.NewDecoder(resp.Body).Decode(&info)
	if info.Name != "screenshot" {
		t.Fatalf("bad session info: %+v", info)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, "")
	f.startSession(t, "", "default")

	resp := f.do(t, http.MethodGet, "/api/sessions", "", nil)
	var infos []registry.Info
	json.NewDecoder(resp.Body).Decode(&infos)
	if len(infos) != 1 || infos[0].Name != "default" || infos[0].Engine != "stub" {
		t.Fatalf("bad listing: %+v", infos)
	}

	resp = f.do(t, http.MethodPost, "/api/sessions/default/start", "", map[string]any{"engine": "stub"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("duplicate start: expected 422, got %d", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/sessions/default/stop", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: %d", resp.StatusCode)
	}
	waitStatus(t, f, "default", session.StatusStopped)

	resp = f.do(t, http.MethodDelete, "/api/sessions/default", "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove: %d", resp.StatusCode)
	}
	resp = f.do(t, http.MethodGet, "/api/sessions/default", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after remove, got %d", resp.StatusCode)
	}
}

func TestStartUnknownEngineIs400(t *testing.T) {
	f := newFixture(t, "")
	resp := f.do(t, http.MethodPost, "/api/sessions/x/start", "", map[string]any{"engine": "bogus"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSendTextHappyPath(t *testing.T) {
	f := newFixture(t, "")
	f.startSession(t, "", "default")

	resp := f.do(t, http.MethodPost, "/api/sessions/default/sendText", "",
		domain.TextRequest{ChatID: "111@c.us", Text: "Hello"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var res domain.SendResult
	json.NewDecoder(resp.Body).Decode(&res)
	if res.ID != "sent-1" {
		t.Errorf("bad send result: %+v", res)
	}
}

func TestErrorTaxonomyMapping(t *testing.T) {
	f := newFixture(t, "")
	f.startSession(t, "", "default")

	// Stub gates files behind a higher tier.
	resp := f.do(t, http.MethodPost, "/api/sessions/default/sendFile", "",
		domain.FileRequest{ChatID: "111@c.us", MimeType: "image/png", Data: []byte{1}})
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("tier restriction: expected 402, got %d", resp.StatusCode)
	}

	// Stub never implements link previews.
	resp = f.do(t, http.MethodPost, "/api/sessions/default/sendLinkPreview", "",
		map[string]string{"chatId": "111@c.us", "url": "https://example.com"})
	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("not implemented: expected 501, got %d", resp.StatusCode)
	}

	// Fail the session and commands must turn into 422.
	f.lastEngine(t).events <- domain.RawEvent{Lifecycle: domain.LifecycleDisconnect}
	waitStatus(t, f, "default", session.StatusFailed)

	resp = f.do(t, http.MethodPost, "/api/sessions/default/sendText", "",
		domain.TextRequest{ChatID: "111@c.us", Text: "x"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("failed session: expected 422, got %d", resp.StatusCode)
	}

	// Unknown session maps to 404.
	resp = f.do(t, http.MethodPost, "/api/sessions/ghost/sendText", "",
		domain.TextRequest{ChatID: "1", Text: "x"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session: expected 404, got %d", resp.StatusCode)
	}
}

func TestQREndpoint(t *testing.T) {
	f := newFixture(t, "")
	f.startSession(t, "", "default")

	resp := f.do(t, http.MethodGet, "/api/sessions/default/auth/qr", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("no challenge yet: expected 404, got %d", resp.StatusCode)
	}

	f.lastEngine(t).events <- domain.RawEvent{Lifecycle: domain.LifecycleChallenge, Challenge: "2@qr-payload"}
	waitStatus(t, f, "default", session.StatusScanQR)

	resp = f.do(t, http.MethodGet, "/api/sessions/default/auth/qr", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["value"] != "2@qr-payload" {
		t.Errorf("bad challenge payload: %+v", body)
	}
}

func TestWebsocketStream(t *testing.T) {
	f := newFixture(t, "stream-key")

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?api_key=stream-key&events=message"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Give the subscription a moment to register.
	time.Sleep(50 * time.Millisecond)

	f.hub.Publish(domain.Event{
		ID:      "evt-1",
		Kind:    domain.EventMessage,
		Session: "default",
		Payload: domain.Message{From: "111@c.us", Body: "Hello"},
	})
	f.hub.Publish(domain.Event{
		ID:      "evt-2",
		Kind:    domain.EventStateChange,
		Session: "default",
	})
	f.hub.Publish(domain.Event{
		ID:      "evt-3",
		Kind:    domain.EventMessage,
		Session: "default",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first domain.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.ID != "evt-1" {
		t.Fatalf("expected evt-1 first, got %+v", first)
	}

	// The state.change event is filtered out, so the next frame is evt-3.
	var second domain.Event
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatal(err)
	}
	if second.ID != "evt-3" {
		t.Fatalf("filter leaked: %+v", second)
	}
}

func TestWebsocketRequiresKey(t *testing.T) {
	f := newFixture(t, "stream-key")

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial should fail without key")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}
