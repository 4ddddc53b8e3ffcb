// Package health tracks the liveness of the service's backing stores.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe checks one dependency, e.g. a Postgres or Redis ping.
type Probe func(ctx context.Context) error

// ChangeFunc is called when overall readiness flips.
type ChangeFunc func(ready bool)

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(dependency string, success bool)

// Status is a dependency's state as of its last probe.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic dependency probes. A dependency is degraded after
// FailThreshold consecutive failures and recovers on the first success.
type Checker struct {
	probes    map[string]Probe
	cfg       Config
	mu        sync.Mutex
	status    map[string]*Status
	ready     bool
	onChange  ChangeFunc
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a new Checker. It starts ready; probes only ever degrade it.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 15 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &Checker{
		probes: make(map[string]Probe),
		cfg:    cfg,
		status: make(map[string]*Status),
		ready:  true,
		logger: logger,
		now:    time.Now,
	}
}

// Add registers a named probe. Call before Start.
func (h *Checker) Add(name string, p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = p
	h.status[name] = &Status{Name: name, Healthy: true}
}

// SetChangeHandler configures the readiness transition callback.
func (h *Checker) SetChangeHandler(fn ChangeFunc) {
	h.onChange = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Ready reports whether every dependency is healthy.
func (h *Checker) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// Statuses returns a snapshot of all dependencies sorted by name.
func (h *Checker) Statuses() []Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Status, 0, len(h.status))
	for _, s := range h.status {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start runs the check loop until ctx is cancelled.
func (h *Checker) Start(ctx context.Context) error {
	h.CheckAll(ctx)

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// CheckAll probes every dependency concurrently.
func (h *Checker) CheckAll(ctx context.Context) {
	h.mu.Lock()
	probes := make(map[string]Probe, len(h.probes))
	for name, p := range h.probes {
		probes[name] = p
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for name, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := p(pctx)
			cancel()
			h.record(name, err)
		}()
	}
	wg.Wait()
}

func (h *Checker) record(name string, err error) {
	if h.onMetrics != nil {
		h.onMetrics(name, err == nil)
	}

	h.mu.Lock()
	st := h.status[name]
	st.CheckedAt = h.now().UTC()
	wasHealthy := st.Healthy
	if err == nil {
		st.Failures = 0
		st.Healthy = true
		st.LastError = ""
	} else {
		st.Failures++
		st.LastError = err.Error()
		if st.Failures >= h.cfg.FailThreshold {
			st.Healthy = false
		}
	}
	nowHealthy, failures := st.Healthy, st.Failures

	ready := true
	for _, s := range h.status {
		ready = ready && s.Healthy
	}
	changed := ready != h.ready
	h.ready = ready
	h.mu.Unlock()

	switch {
	case wasHealthy && !nowHealthy:
		h.logger.Warn("health: degraded", zap.String("dependency", name), zap.Int("fail_count", failures), zap.Error(err))
	case !wasHealthy && nowHealthy:
		h.logger.Info("health: recovered", zap.String("dependency", name))
	case err != nil:
		h.logger.Debug("health: probe failed", zap.String("dependency", name), zap.Error(err))
	}
	if changed && h.onChange != nil {
		h.onChange(ready)
	}
}
