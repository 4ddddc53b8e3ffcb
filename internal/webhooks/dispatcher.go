package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// SignatureHeader carries "sha256=<hex HMAC of the body>" when the endpoint has a secret.
const SignatureHeader = "X-Customdomains-Signature"

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(eventType string, success bool)

// Config tunes delivery.
type Config struct {
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

// Dispatcher fans events out to endpoints asynchronously.
type Dispatcher struct {
	endpoints  []Endpoint
	cfg        Config
	httpClient *http.Client
	onMetrics  MetricsRecorder
	onDelivery func(Delivery)
	logger     *zap.Logger
	now        func() time.Time
	wg         sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(endpoints []Endpoint, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Second
	}
	return &Dispatcher{
		endpoints:  endpoints,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		now:        time.Now,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (d *Dispatcher) SetMetricsRecorder(fn MetricsRecorder) {
	d.onMetrics = fn
}

// SetDeliveryObserver configures a callback invoked after every attempt.
func (d *Dispatcher) SetDeliveryObserver(fn func(Delivery)) {
	d.onDelivery = fn
}

// Dispatch sends the event to every matching endpoint in the background.
// It matches domains.EventDispatchFunc. Deliveries outlive the caller's
// context; use Close to wait for them.
func (d *Dispatcher) Dispatch(_ context.Context, eventType string, payload map[string]string) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: d.now().UTC(),
		Payload:   payload,
	}
	body, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}

	for _, ep := range d.endpoints {
		if !ep.wants(eventType) {
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(ep, event, body)
		}()
	}
}

// Close waits for in-flight deliveries or until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver posts body to ep with exponential backoff between attempts.
func (d *Dispatcher) deliver(ep Endpoint, event Event, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(d.cfg.MaxAttempts)*(d.cfg.Timeout+d.cfg.Backoff*4))
	defer cancel()

	signature := ""
	if ep.Secret != "" {
		signature = Sign(body, ep.Secret)
	}

	attempt := 0
	backoff := retry.WithMaxRetries(uint64(d.cfg.MaxAttempts-1), retry.NewExponential(d.cfg.Backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		status, err := d.post(ctx, ep.URL, body, signature, event)

		del := Delivery{URL: ep.URL, EventID: event.ID, EventType: event.Type, StatusCode: status, Attempt: attempt, Success: err == nil}
		if err != nil {
			del.Error = err.Error()
		}
		if d.onDelivery != nil {
			d.onDelivery(del)
		}
		if d.onMetrics != nil {
			d.onMetrics(event.Type, err == nil)
		}
		if err == nil {
			return nil
		}

		d.logger.Warn("webhook: delivery failed",
			zap.String("url", ep.URL),
			zap.String("event", event.Type),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		// Client errors other than 408/429 will not succeed on retry.
		if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		d.logger.Error("webhook: giving up",
			zap.String("url", ep.URL),
			zap.String("event", event.Type),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
	}
}

// post performs a single HTTP POST delivery.
func (d *Dispatcher) post(ctx context.Context, url string, body []byte, signature string, event Event) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Customdomains-Event", event.Type)
	req.Header.Set("X-Customdomains-Delivery", event.ID)
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Sign computes the HMAC-SHA256 signature sent in SignatureHeader.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
