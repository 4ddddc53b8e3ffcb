package reconcile

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wick3d/customdomains/internal/dns"
)

// Scheduler owns the reconciliation tasks of every unverified domain.
type Scheduler struct {
	mu       sync.Mutex
	queue    taskQueue
	byDomain map[string]*Task

	attempt     AttemptFunc
	cfg         Config
	logger      *zap.Logger
	now         func() time.Time
	wake        chan struct{}
	inflight    sync.WaitGroup
	onOutcome   func(outcome string)
	onAbandoned func(ctx context.Context, t Task)
}

// New creates a Scheduler that calls attempt for every due task.
func New(cfg Config, attempt AttemptFunc, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		byDomain: make(map[string]*Task),
		attempt:  attempt,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
}

// SetClock replaces the time source. Tests drive the scheduler with RunDue
// after advancing a fake clock.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// SetMetricsRecord configures a callback invoked with each attempt outcome
// ("verified", "already_verified", "gone", "not_verified", "abandoned", "error").
func (s *Scheduler) SetMetricsRecord(fn func(outcome string)) {
	s.onOutcome = fn
}

// SetAbandonedHandler configures a callback invoked once when a domain
// exhausts its attempts.
func (s *Scheduler) SetAbandonedHandler(fn func(ctx context.Context, t Task)) {
	s.onAbandoned = fn
}

// Schedule starts a fresh chain for domain, replacing any existing one.
// The first attempt runs after the initial delay.
func (s *Scheduler) Schedule(domain, target string, method dns.Method) Task {
	return s.scheduleTask(Task{
		Domain:      domain,
		Target:      target,
		Method:      method,
		MaxAttempts: s.cfg.MaxAttempts,
		Delay:       s.cfg.InitialDelay,
	})
}

// scheduleTask queues t, replacing any existing task for t.Domain. Zero
// fields take the scheduler defaults; RunAt defaults to now + Delay.
func (s *Scheduler) scheduleTask(t Task) Task {
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = s.cfg.MaxAttempts
	}
	if t.Delay <= 0 {
		t.Delay = s.cfg.InitialDelay
	}
	if t.Delay > s.cfg.MaxDelay {
		t.Delay = s.cfg.MaxDelay
	}
	if t.RunAt.IsZero() {
		t.RunAt = s.now().Add(t.Delay)
	}
	t.ID = uuid.New()
	t.Running = false
	task := &t

	s.mu.Lock()
	s.removeLocked(t.Domain)
	s.byDomain[t.Domain] = task
	heap.Push(&s.queue, task)
	snapshot := *task
	s.mu.Unlock()

	s.logger.Info("verification scheduled",
		zap.String("domain", t.Domain),
		zap.Int("attempt", t.Attempt),
		zap.Duration("delay", t.Delay),
	)
	s.notify()
	return snapshot
}

// Cancel stops the chain for domain. A running attempt completes but is not
// rescheduled. It reports whether a chain existed.
func (s *Scheduler) Cancel(domain string) bool {
	s.mu.Lock()
	ok := s.removeLocked(domain)
	s.mu.Unlock()
	if ok {
		s.logger.Info("verification cancelled", zap.String("domain", domain))
		s.notify()
	}
	return ok
}

// Pending returns a snapshot of all chains ordered by next run time.
func (s *Scheduler) Pending() []Task {
	s.mu.Lock()
	out := make([]Task, 0, len(s.byDomain))
	for _, t := range s.byDomain {
		out = append(out, *t)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RunAt.Equal(out[j].RunAt) {
			return out[i].Domain < out[j].Domain
		}
		return out[i].RunAt.Before(out[j].RunAt)
	})
	return out
}

// Len returns the number of active chains.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byDomain)
}

// Run dispatches due tasks until ctx is cancelled, then waits for running
// attempts to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("reconciliation scheduler started",
		zap.Duration("initial_delay", s.cfg.InitialDelay),
		zap.Duration("max_delay", s.cfg.MaxDelay),
		zap.Int("max_attempts", s.cfg.MaxAttempts),
	)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		for _, t := range s.popDue() {
			s.inflight.Add(1)
			go func(t *Task) {
				defer s.inflight.Done()
				s.run(ctx, t)
			}(t)
		}

		wait := time.Hour
		s.mu.Lock()
		if next := s.queue.peek(); next != nil {
			wait = next.RunAt.Sub(s.now())
		}
		s.mu.Unlock()
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			s.inflight.Wait()
			s.logger.Info("reconciliation scheduler stopped")
			return nil
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
	}
}

// RunDue runs every task due at the current clock concurrently and waits
// for them. Follow-up tasks are queued but not run. It returns the number
// of attempts made.
func (s *Scheduler) RunDue(ctx context.Context) int {
	due := s.popDue()
	var wg sync.WaitGroup
	for _, t := range due {
		wg.Add(1)
		go func(t *Task) {
			defer wg.Done()
			s.run(ctx, t)
		}(t)
	}
	wg.Wait()
	return len(due)
}

func (s *Scheduler) popDue() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var due []*Task
	for {
		next := s.queue.peek()
		if next == nil || next.RunAt.After(now) {
			return due
		}
		t := heap.Pop(&s.queue).(*Task)
		t.Running = true
		due = append(due, t)
	}
}

func (s *Scheduler) run(ctx context.Context, t *Task) {
	s.mu.Lock()
	snapshot := *t
	s.mu.Unlock()

	log := s.logger.With(
		zap.String("domain", snapshot.Domain),
		zap.Int("attempt", snapshot.Attempt+1),
		zap.Int("max_attempts", snapshot.MaxAttempts),
	)

	outcome, err := s.attempt(ctx, snapshot)
	if err != nil {
		log.Warn("verification attempt failed", zap.Error(err))
		s.record("error")
		outcome = NotVerified
	}

	s.mu.Lock()
	if s.byDomain[snapshot.Domain] != t {
		// Cancelled or replaced while running.
		s.mu.Unlock()
		return
	}

	if outcome != NotVerified {
		delete(s.byDomain, snapshot.Domain)
		s.mu.Unlock()
		log.Info("verification chain finished", zap.Stringer("outcome", outcome))
		s.record(outcome.String())
		return
	}

	if snapshot.Attempt+1 >= snapshot.MaxAttempts {
		delete(s.byDomain, snapshot.Domain)
		s.mu.Unlock()
		log.Warn("verification abandoned; manual re-check required")
		s.record("abandoned")
		if s.onAbandoned != nil {
			s.onAbandoned(ctx, snapshot)
		}
		return
	}

	next := &Task{
		ID:          uuid.New(),
		Domain:      snapshot.Domain,
		Target:      snapshot.Target,
		Method:      snapshot.Method,
		Attempt:     snapshot.Attempt + 1,
		MaxAttempts: snapshot.MaxAttempts,
		Delay:       NextDelay(s.cfg.InitialDelay, snapshot.Attempt+1, s.cfg.Growth, s.cfg.MaxDelay),
	}
	next.RunAt = s.now().Add(next.Delay)
	s.byDomain[next.Domain] = next
	heap.Push(&s.queue, next)
	s.mu.Unlock()

	log.Info("domain not yet verified; rescheduled", zap.Duration("delay", next.Delay))
	s.record("not_verified")
	s.notify()
}

// removeLocked drops the chain for domain. Callers hold s.mu.
func (s *Scheduler) removeLocked(domain string) bool {
	t, ok := s.byDomain[domain]
	if !ok {
		return false
	}
	delete(s.byDomain, domain)
	if t.index >= 0 && t.index < len(s.queue) && s.queue[t.index] == t {
		heap.Remove(&s.queue, t.index)
	}
	return true
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) record(outcome string) {
	if s.onOutcome != nil {
		s.onOutcome(outcome)
	}
}
