package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Webhook POSTs each event as JSON to a URL. Delivery happens on a single
// background worker so events arrive in order. Notify never blocks: when
// the queue is full the event is dropped and logged. Failed posts are
// retried with exponential backoff.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	queueSize  int
	drainWait  time.Duration
	logger     *slog.Logger

	queue  chan envelope
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	once   sync.Once
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookBackoff sets the first retry delay; it doubles per attempt.
// Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookClient replaces the HTTP client.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithWebhookQueueSize sets how many events may wait for delivery.
// Default: 64.
func WithWebhookQueueSize(n int) WebhookOption {
	return func(w *Webhook) { w.queueSize = n }
}

// WithWebhookDrainTimeout bounds how long Close waits for queued events
// before abandoning them. Default: 5s.
func WithWebhookDrainTimeout(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.drainWait = d }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook sink and starts its worker.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		queueSize:  64,
		drainWait:  5 * time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	if w.queueSize < 1 {
		w.queueSize = 1
	}
	w.queue = make(chan envelope, w.queueSize)
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	return w.enqueue(ctx, envelope{Type: "notify", Data: n})
}

func (w *Webhook) Clear(ctx context.Context, id string) error {
	return w.enqueue(ctx, envelope{Type: "clear", Data: map[string]string{"id": id}})
}

func (w *Webhook) enqueue(_ context.Context, e envelope) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return errors.New("webhook: closed")
	}
	select {
	case w.queue <- e:
	default:
		w.logger.Warn("webhook: queue full, event dropped", "type", e.Type, "queue", cap(w.queue))
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be delivered,
// up to the drain timeout. Events still queued after it are dropped.
func (w *Webhook) Close() error {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()

		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()
		t := time.NewTimer(w.drainWait)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
			w.logger.Warn("webhook: drain timeout, pending events dropped", "pending", len(w.queue))
			w.cancel()
			<-done
		}
		w.cancel()
	})
	return nil
}

func (w *Webhook) run() {
	defer w.wg.Done()
	for e := range w.queue {
		if w.ctx.Err() != nil {
			continue
		}
		if err := w.post(w.ctx, e); err != nil {
			w.logger.Warn("webhook: dropped event", "type", e.Type, "error", err)
		}
	}
}

func (w *Webhook) post(ctx context.Context, e envelope) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			wait := w.backoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook: new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			w.logger.Warn("webhook: request failed", "attempt", attempt+1, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook: status %d", resp.StatusCode)
		w.logger.Warn("webhook: bad status", "attempt", attempt+1, "status", resp.StatusCode)
	}
	return fmt.Errorf("webhook: all retries exhausted: %w", lastErr)
}
