// Package webhook delivers committed marketplace events to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"nftmarket/internal/domain"
	"nftmarket/internal/event"
)

// Config for a Notifier.
type Config struct {
	URL        string
	KeyID      string
	Secret     string
	QueueSize  int
	MaxRetries int
	Backoff    time.Duration // first retry delay; doubles per attempt
}

type delivery struct {
	seq  uint64
	body []byte
}

// Notifier posts events in commit order from a single background worker.
// Publish never blocks: when the queue is full the event is dropped.
type Notifier struct {
	endpoint   string
	path       string
	signer     *Signer
	httpClient *http.Client
	queue      chan delivery
	maxRetries int
	backoff    time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNotifier creates a notifier. Call Start before publishing.
func NewNotifier(cfg Config) (*Notifier, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, &domain.ConfigError{Field: "webhook.url", Err: err}
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}

	return &Notifier{
		endpoint: cfg.URL,
		path:     path,
		signer:   NewSigner(cfg.KeyID, cfg.Secret),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		queue:      make(chan delivery, cfg.QueueSize),
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
	}, nil
}

// Publish implements event.Sink.
func (n *Notifier) Publish(ev event.Event) {
	body, err := json.Marshal(event.Wrap(ev))
	if err != nil {
		slog.Error("Failed to encode event", slog.String("type", string(ev.GetType())), slog.Any("error", err))
		return
	}

	select {
	case n.queue <- delivery{seq: ev.GetSeq(), body: body}:
	default:
		slog.Warn("Webhook queue full, dropping event", slog.Uint64("seq", ev.GetSeq()))
	}
}

// Start begins delivering queued events.
func (n *Notifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Webhook worker panic recovered", slog.Any("panic", r))
			}
		}()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Webhook delivery stopped", slog.Int("pending", len(n.queue)))
				return
			case d := <-n.queue:
				if err := n.deliver(ctx, d); err != nil {
					slog.Error("Webhook delivery failed", slog.Uint64("seq", d.seq), slog.Any("error", err))
				}
			}
		}
	}()
}

// Stop stops the worker. Events still queued are not delivered.
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
		n.wg.Wait()
	}
}

// deliver posts one event with retry logic
func (n *Notifier) deliver(ctx context.Context, d delivery) error {
	var lastErr error
	for i := 0; i <= n.maxRetries; i++ {
		if i > 0 {
			// Exponential backoff: base, 2*base, 4*base...
			delay := n.backoff * time.Duration(1<<uint(i-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := n.post(ctx, d.body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !domain.IsRetriable(err) {
			return err
		}
		slog.Warn("Webhook attempt failed", slog.Uint64("seq", d.seq), slog.Int("attempt", i+1), slog.Any("error", err))
	}
	return lastErr
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.NewFatalNetworkError("deliver", err)
	}
	for k, v := range n.signer.GenerateHeaders(http.MethodPost, n.path, string(body)) {
		req.Header.Set(k, v)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError("deliver", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return domain.NewNetworkError("deliver", fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	default:
		return domain.NewFatalNetworkError("deliver", fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}
}
