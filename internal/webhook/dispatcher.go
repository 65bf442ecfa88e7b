// Package webhook turns canonical events into retried HTTP deliveries.
//
// Delivery is best-effort and asynchronous: producers are never blocked
// (bounded queue, oldest-first drop on overflow) and delivery order across
// distinct events to the same subscriber is NOT guaranteed once retries are
// in flight. Subscribers must not assume strict ordering.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chatgate/internal/domain"
	"chatgate/internal/metrics"
)

const (
	defaultQueueSize = 256
	defaultWorkers   = 16
)

// Config configures the dispatcher.
type Config struct {
	QueueSize int
	Workers   int // max in-flight delivery attempts
	Sender    Sender
	Logger    *slog.Logger
}

// Dispatcher fans canonical events out to matching subscriptions and
// performs HTTP deliveries with bounded retries. It holds no reference to
// any session: once an event is enqueued, its delivery lifecycle is fully
// decoupled from the producer.
type Dispatcher struct {
	queue  chan domain.Event
	subs   atomic.Pointer[[]Subscription]
	sender Sender
	logger *slog.Logger

	sem      chan struct{}
	wg       sync.WaitGroup // in-flight deliveries
	runWg    sync.WaitGroup // run loop
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Dispatcher. Call Start to begin consuming the queue.
func New(cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Sender == nil {
		cfg.Sender = NewHTTPSender(30 * time.Second)
	}
	d := &Dispatcher{
		queue:  make(chan domain.Event, cfg.QueueSize),
		sender: cfg.Sender,
		logger: cfg.Logger,
		sem:    make(chan struct{}, cfg.Workers),
		stop:   make(chan struct{}),
	}
	empty := make([]Subscription, 0)
	d.subs.Store(&empty)
	return d
}

// SetSubscriptions replaces the subscription list atomically. In-flight
// reads keep the list they started with (copy-and-swap).
func (d *Dispatcher) SetSubscriptions(subs []Subscription) {
	fresh := make([]Subscription, len(subs))
	copy(fresh, subs)
	d.subs.Store(&fresh)
}

// Subscriptions returns the current subscription list.
func (d *Dispatcher) Subscriptions() []Subscription {
	return *d.subs.Load()
}

// Enqueue accepts an event for delivery without ever blocking the caller.
// When the queue is full the oldest queued event is dropped with a warning.
func (d *Dispatcher) Enqueue(evt domain.Event) {
	for {
		select {
		case <-d.stop:
			return
		case d.queue <- evt:
			metrics.QueueDepth.Set(int64(len(d.queue)))
			return
		default:
		}
		select {
		case dropped := <-d.queue:
			metrics.EventsDropped.Inc()
			d.logger.Warn("delivery queue full, dropping oldest event",
				"event", dropped.Kind, "id", dropped.ID, "session", dropped.Session)
		default:
		}
	}
}

// Start launches the queue consumer. ctx cancellation aborts in-flight
// deliveries; Close stops intake and waits for them instead.
func (d *Dispatcher) Start(ctx context.Context) {
	d.runWg.Add(1)
	go func() {
		defer d.runWg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stop:
				return
			case evt := <-d.queue:
				metrics.QueueDepth.Set(int64(len(d.queue)))
				d.fanOut(ctx, evt)
			}
		}
	}()
}

// Close stops intake, then waits for queued fan-out and in-flight
// deliveries to finish their retry budgets.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.runWg.Wait()
	d.wg.Wait()
}

func (d *Dispatcher) fanOut(ctx context.Context, evt domain.Event) {
	subs := d.Subscriptions()
	if len(subs) == 0 {
		return
	}

	body, err := json.Marshal(evt)
	if err != nil {
		d.logger.Error("cannot serialize event", "id", evt.ID, "err", err)
		return
	}

	for _, sub := range subs {
		if !sub.Matches(evt.Kind) {
			continue
		}
		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		d.wg.Add(1)
		go func(sub Subscription) {
			defer d.wg.Done()
			defer func() { <-d.sem }()
			d.deliver(ctx, sub, evt, body)
		}(sub)
	}
}

// deliver POSTs the event, retrying on network errors and retryable status
// codes. 2xx succeeds, 4xx rejects permanently, anything else retries.
func (d *Dispatcher) deliver(ctx context.Context, sub Subscription, evt domain.Event, body []byte) {
	policy := sub.policy()
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if delay := policy.Delay(attempt); delay > 0 {
			metrics.DeliveryRetries.Inc()
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		start := time.Now()
		status, err := d.sender.Send(ctx, sub.URL, sub.Secret, body)
		metrics.DeliveryLatency.Observe(time.Since(start).Seconds())

		switch {
		case err != nil:
			lastErr = err
		case status >= 200 && status < 300:
			metrics.Deliveries.Inc()
			d.logger.Debug("webhook delivered",
				"url", sub.URL, "event", evt.Kind, "id", evt.ID, "status", status)
			return
		case status >= 400 && status < 500:
			metrics.DeliveryRejects.Inc()
			d.logger.Warn("webhook rejected permanently",
				"url", sub.URL, "event", evt.Kind, "id", evt.ID, "status", status)
			return
		default:
			lastErr = fmt.Errorf("HTTP %d", status)
		}

		d.logger.Warn("webhook delivery failed",
			"url", sub.URL, "id", evt.ID, "attempt", attempt, "err", lastErr)
	}

	metrics.DeliveryFailures.Inc()
	d.logger.Error("webhook delivery abandoned",
		"url", sub.URL, "id", evt.ID, "attempts", policy.MaxAttempts, "err", lastErr)
}
