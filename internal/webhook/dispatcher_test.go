package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatgate/internal/domain"
)

func testDispatcherLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeSender records attempts per URL and answers from a script.
type fakeSender struct {
	mu       sync.Mutex
	attempts map[string]int
	status   int
	err      error
}

func newFakeSender(status int, err error) *fakeSender {
	return &fakeSender{attempts: make(map[string]int), status: status, err: err}
}

func (f *fakeSender) Send(ctx context.Context, url, secret string, body []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[url]++
	return f.status, f.err
}

func (f *fakeSender) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[url]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSubscription_Matches(t *testing.T) {
	sub := Subscription{URL: "http://x", Events: []domain.EventKind{domain.EventMessage}}
	if !sub.Matches(domain.EventMessage) {
		t.Error("should match subscribed kind")
	}
	if sub.Matches(domain.EventMessageAck) {
		t.Error("should not match other kinds")
	}

	all := Subscription{URL: "http://x", Events: []domain.EventKind{domain.EventAll}}
	if !all.Matches(domain.EventGroupJoin) {
		t.Error("wildcard should match everything")
	}

	empty := Subscription{URL: "http://x"}
	if empty.Matches(domain.EventMessage) {
		t.Error("empty kind set should receive nothing")
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	fixed := RetryPolicy{MaxAttempts: 3, DelaySeconds: 15}
	if fixed.Delay(1) != 0 {
		t.Error("first attempt should have no delay")
	}
	if fixed.Delay(2) != 15*time.Second || fixed.Delay(3) != 15*time.Second {
		t.Error("fixed policy should use the base delay for every retry")
	}

	exp := RetryPolicy{MaxAttempts: 4, DelaySeconds: 2, Exponential: true}
	if exp.Delay(2) != 2*time.Second {
		t.Errorf("expected 2s, got %v", exp.Delay(2))
	}
	if exp.Delay(3) != 4*time.Second {
		t.Errorf("expected 4s, got %v", exp.Delay(3))
	}
	if exp.Delay(4) != 8*time.Second {
		t.Errorf("expected 8s, got %v", exp.Delay(4))
	}
}

func TestDispatcher_DeliverMatching(t *testing.T) {
	sender := newFakeSender(200, nil)
	d := New(Config{Sender: sender, Logger: testDispatcherLogger()})
	d.SetSubscriptions([]Subscription{
		{URL: "http://a", Events: []domain.EventKind{domain.EventMessage}},
		{URL: "http://b", Events: []domain.EventKind{domain.EventAll}},
		{URL: "http://c", Events: []domain.EventKind{domain.EventMessageAck}},
		{URL: "http://d"}, // empty kind set
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Enqueue(domain.Event{ID: "e1", Kind: domain.EventMessage, Session: "default"})

	waitFor(t, 2*time.Second, func() bool {
		return sender.count("http://a") == 1 && sender.count("http://b") == 1
	})

	if n := sender.count("http://c"); n != 0 {
		t.Errorf("ack-only subscription got %d deliveries", n)
	}
	if n := sender.count("http://d"); n != 0 {
		t.Errorf("empty-kind subscription got %d deliveries", n)
	}
}

func TestDispatcher_Retry500ThenStop(t *testing.T) {
	sender := newFakeSender(500, nil)
	d := New(Config{Sender: sender, Logger: testDispatcherLogger()})
	d.SetSubscriptions([]Subscription{{
		URL:    "http://a",
		Events: []domain.EventKind{domain.EventAll},
		Retry:  &RetryPolicy{MaxAttempts: 3, DelaySeconds: 1},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Enqueue(domain.Event{ID: "e1", Kind: domain.EventMessage})

	waitFor(t, 5*time.Second, func() bool { return sender.count("http://a") == 3 })

	// Give it a chance to issue a spurious 4th attempt.
	time.Sleep(1500 * time.Millisecond)
	if n := sender.count("http://a"); n != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", n)
	}
}

func TestDispatcher_NetworkErrorRetries(t *testing.T) {
	sender := newFakeSender(0, context.DeadlineExceeded)
	d := New(Config{Sender: sender, Logger: testDispatcherLogger()})
	d.SetSubscriptions([]Subscription{{
		URL:    "http://unreachable",
		Events: []domain.EventKind{domain.EventAll},
		Retry:  &RetryPolicy{MaxAttempts: 3, DelaySeconds: 1},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Enqueue(domain.Event{ID: "e1", Kind: domain.EventMessage})

	waitFor(t, 5*time.Second, func() bool { return sender.count("http://unreachable") == 3 })

	time.Sleep(1500 * time.Millisecond)
	if n := sender.count("http://unreachable"); n != 3 {
		t.Errorf("expected no 4th attempt, got %d", n)
	}
}

func TestDispatcher_Reject400NeverRetries(t *testing.T) {
	sender := newFakeSender(400, nil)
	d := New(Config{Sender: sender, Logger: testDispatcherLogger()})
	d.SetSubscriptions([]Subscription{{
		URL:    "http://a",
		Events: []domain.EventKind{domain.EventAll},
		Retry:  &RetryPolicy{MaxAttempts: 3, DelaySeconds: 1},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Enqueue(domain.Event{ID: "e1", Kind: domain.EventMessage})

	waitFor(t, 2*time.Second, func() bool { return sender.count("http://a") == 1 })

	time.Sleep(1500 * time.Millisecond)
	if n := sender.count("http://a"); n != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", n)
	}
}

func TestDispatcher_OverflowDropsOldest(t *testing.T) {
	d := New(Config{QueueSize: 2, Sender: newFakeSender(200, nil), Logger: testDispatcherLogger()})
	// Not started: the queue fills up.
	d.Enqueue(domain.Event{ID: "e1", Kind: domain.EventMessage})
	d.Enqueue(domain.Event{ID: "e2", Kind: domain.EventMessage})
	d.Enqueue(domain.Event{ID: "e3", Kind: domain.EventMessage})

	first := <-d.queue
	second := <-d.queue
	if first.ID != "e2" || second.ID != "e3" {
		t.Errorf("expected oldest dropped, queue holds %s, %s", first.ID, second.ID)
	}
}

func TestDispatcher_CopyAndSwap(t *testing.T) {
	d := New(Config{Sender: newFakeSender(200, nil), Logger: testDispatcherLogger()})

	original := []Subscription{{URL: "http://a", Events: []domain.EventKind{domain.EventAll}}}
	d.SetSubscriptions(original)
	held := d.Subscriptions()

	d.SetSubscriptions([]Subscription{
		{URL: "http://b", Events: []domain.EventKind{domain.EventAll}},
		{URL: "http://c", Events: []domain.EventKind{domain.EventAll}},
	})

	if len(held) != 1 || held[0].URL != "http://a" {
		t.Error("a list read before the swap must stay intact")
	}
	if got := d.Subscriptions(); len(got) != 2 || got[0].URL != "http://b" {
		t.Errorf("swap not visible: %+v", got)
	}

	// Mutating the caller's slice must not leak into the dispatcher.
	original[0].URL = "http://mutated"
	if d.Subscriptions()[0].URL == "http://mutated" {
		t.Error("dispatcher must keep its own copy of the list")
	}
}

func TestDispatcher_EndToEndHTTP(t *testing.T) {
	var got atomic.Int32
	var body []byte
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		body = make([]byte, r.ContentLength)
		r.Body.Read(body)
		mu.Unlock()
		got.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(Config{Sender: NewHTTPSender(5 * time.Second), Logger: testDispatcherLogger()})
	d.SetSubscriptions([]Subscription{{URL: srv.URL, Events: []domain.EventKind{domain.EventMessage}}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Enqueue(domain.Event{
		ID:      "e1",
		Kind:    domain.EventMessage,
		Session: "default",
		Payload: domain.Message{ID: "m1", From: "111@c.us", Body: "Hello", Media: nil},
	})

	waitFor(t, 2*time.Second, func() bool { return got.Load() == 1 })

	mu.Lock()
	defer mu.Unlock()
	var evt struct {
		Event   string `json:"event"`
		Session string `json:"session"`
		Payload struct {
			From  string          `json:"from"`
			Body  string          `json:"body"`
			Media json.RawMessage `json:"media"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &evt); err != nil {
		t.Fatalf("cannot decode delivered body: %v", err)
	}
	if evt.Event != "message" || evt.Session != "default" {
		t.Errorf("unexpected envelope: %+v", evt)
	}
	if evt.Payload.From != "111@c.us" || evt.Payload.Body != "Hello" {
		t.Errorf("unexpected payload: %+v", evt.Payload)
	}
	if string(evt.Payload.Media) != "null" {
		t.Errorf("media should serialize as null, got %s", evt.Payload.Media)
	}
}

func TestDispatcher_CloseStopsIntake(t *testing.T) {
	sender := newFakeSender(200, nil)
	d := New(Config{Sender: sender, Logger: testDispatcherLogger()})
	d.SetSubscriptions([]Subscription{{URL: "http://a", Events: []domain.EventKind{domain.EventAll}}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	d.Close()

	d.Enqueue(domain.Event{ID: "late", Kind: domain.EventMessage})
	time.Sleep(100 * time.Millisecond)
	if n := sender.count("http://a"); n != 0 {
		t.Errorf("closed dispatcher delivered %d events", n)
	}
}
