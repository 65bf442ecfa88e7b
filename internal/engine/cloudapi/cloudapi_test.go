package cloudapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"chatgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startedEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	cfg.Logger = testLogger()
	if cfg.PhoneNumberID == "" {
		cfg.PhoneNumberID = "10001"
	}
	if cfg.AccessToken == "" {
		cfg.AccessToken = "token"
	}
	e := New(cfg)
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Stop() })
	return e
}

func drainReady(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case evt := <-e.Events():
		if evt.Lifecycle != domain.LifecycleReady {
			t.Fatalf("expected ready lifecycle, got %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no ready event")
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func inboundText(from, id, body string) []byte {
	payload := graphPayload{
		Object: "whatsapp_business_account",
		Entry: []graphEntry{{
			Changes: []graphChange{{
				Field: "messages",
				Value: graphValue{
					Messages: []graphMessage{{
						From:      from,
						ID:        id,
						Timestamp: "1700000000",
						Type:      "text",
						Text:      &graphText{Body: body},
					}},
				},
			}},
		}},
	}
	out, _ := json.Marshal(payload)
	return out
}

func TestWebhookVerification(t *testing.T) {
	e := startedEngine(t, Config{VerifyToken: "secret-verify"})
	drainReady(t, e)
	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/?hub.mode=subscribe&hub.verify_token=secret-verify&hub.challenge=12345")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp2, err := http.Get(srv.URL + "/?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong token, got %d", resp2.StatusCode)
	}
}

func TestInboundMessageBecomesRawEvent(t *testing.T) {
	e := startedEngine(t, Config{AppSecret: "app-secret"})
	drainReady(t, e)
	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	body := inboundText("111", "wamid.1", "Hello")
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("app-secret", body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	select {
	case evt := <-e.Events():
		if evt.Kind != "message" || evt.Message == nil {
			t.Fatalf("unexpected raw event: %+v", evt)
		}
		if evt.Message.From != "111" || evt.Message.Body != "Hello" || evt.Message.ID != "wamid.1" {
			t.Errorf("bad raw message: %+v", evt.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("no raw event emitted")
	}
}

func TestInboundRejectsBadSignature(t *testing.T) {
	e := startedEngine(t, Config{AppSecret: "app-secret"})
	drainReady(t, e)
	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	body := inboundText("111", "wamid.1", "Hello")
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	select {
	case evt := <-e.Events():
		t.Fatalf("forged payload produced an event: %+v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStatusBecomesAck(t *testing.T) {
	e := startedEngine(t, Config{})
	drainReady(t, e)
	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	payload := graphPayload{
		Entry: []graphEntry{{
			Changes: []graphChange{{
				Value: graphValue{
					Statuses: []graphStatus{{ID: "wamid.9", Status: "read", RecipientID: "111"}},
				},
			}},
		}},
	}
	body, _ := json.Marshal(payload)
	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	select {
	case evt := <-e.Events():
		if evt.Kind != "status" || evt.Message == nil {
			t.Fatalf("unexpected raw event: %+v", evt)
		}
		if evt.Message.Ack != 3 || !evt.Message.FromMe {
			t.Errorf("bad ack translation: %+v", evt.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("no status event emitted")
	}
}

func TestSendText(t *testing.T) {
	var got map[string]any
	var auth string
	graph := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(rw).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.out"}},
		})
	}))
	defer graph.Close()

	e := startedEngine(t, Config{APIBase: graph.URL, AccessToken: "secret-token"})
	drainReady(t, e)

	res, err := e.SendText(context.Background(), domain.TextRequest{ChatID: "111", Text: "hi there"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ID != "wamid.out" {
		t.Errorf("send result id: %s", res.ID)
	}
	if auth != "Bearer secret-token" {
		t.Errorf("missing bearer auth: %q", auth)
	}
	if got["to"] != "111" || got["type"] != "text" {
		t.Errorf("bad outbound payload: %+v", got)
	}
}

func TestSendTextGraphError(t *testing.T) {
	graph := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, `{"error":{"message":"bad token"}}`, http.StatusUnauthorized)
	}))
	defer graph.Close()

	e := startedEngine(t, Config{APIBase: graph.URL})
	drainReady(t, e)

	if _, err := e.SendText(context.Background(), domain.TextRequest{ChatID: "111", Text: "x"}); err == nil {
		t.Fatal("expected error from graph rejection")
	}
}

func TestStartRequiresCredentials(t *testing.T) {
	e := New(Config{Logger: testLogger()})
	if err := e.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail without credentials")
	}
}
