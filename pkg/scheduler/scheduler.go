// Package scheduler implements the Work Scheduler (component H): a
// deferral gate wrapping every opportunistic producer (texture prefetch,
// speculative translate, shader warmup), consulting the Frame Controller to
// decide whether a unit of work runs immediately or is queued for later
// drain.
//
// Grounded on arena-cache's worker-dispatch shape (pkg/cache.go's
// RWMutex-guarded shard access) generalized to three priority bands, with
// the per-frame budget throttle modeled on hashicorp/nomad's core scheduler
// (other_examples/fa299e9e_hashicorp-nomad__nomad-core_sched.go.go) and
// golang.org/x/time/rate for the background drain's pacing.
//
// © 2025 fabric authors. MIT License.
package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Priority bands: 0 is the lowest, 2 is critical (always runs immediately).
// pkg/speculative.PriorityLow uses the same numbering for the Low band.
const (
	PriorityLow = iota
	PriorityNormal
	PriorityCritical
)

const numBands = 3

// Scheduler is the Work Scheduler: the single deferral gate every
// opportunistic producer in the process should call into.
type Scheduler struct {
	mu            sync.Mutex
	bands         [numBands][]func()
	workThisFrame int

	cfg *config

	limiter *rate.Limiter

	stop chan struct{}
	done chan struct{}
}

// New constructs a Scheduler. WithFrameGate should be supplied; without one
// the scheduler treats load as always-light (never heavy, unbounded
// max_work_items), degrading to "always admit".
func New(opts ...Option) *Scheduler {
	cfg := defaultConfig()
	applyOptions(cfg, opts)
	return &Scheduler{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(200), 50),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Schedule implements pkg/speculative.AdmissionGate and is the sole entry
// point opportunistic producers call through. Critical work always runs
// immediately; everything else is admitted against the current frame's
// work-item budget or deferred to its band for later draining.
func (s *Scheduler) Schedule(priority int, work func()) {
	if priority >= PriorityCritical {
		s.runImmediate(work)
		return
	}

	heavy := s.isHeavyLoad()
	if heavy {
		s.enqueue(priority, work)
		return
	}

	s.mu.Lock()
	budget := s.maxWorkItems()
	admit := s.workThisFrame < budget
	if admit {
		s.workThisFrame++
	}
	s.mu.Unlock()

	if admit {
		work()
		return
	}
	s.enqueue(priority, work)
}

func (s *Scheduler) runImmediate(work func()) {
	s.mu.Lock()
	s.workThisFrame++
	s.mu.Unlock()
	work()
}

func (s *Scheduler) enqueue(priority int, work func()) {
	s.mu.Lock()
	s.bands[priority] = append(s.bands[priority], work)
	s.mu.Unlock()
}

func (s *Scheduler) isHeavyLoad() bool {
	if s.cfg.gate == nil {
		return false
	}
	return s.cfg.gate.IsHeavyLoad()
}

func (s *Scheduler) maxWorkItems() int {
	if s.cfg.gate == nil {
		return 1 << 30
	}
	return s.cfg.gate.MaxWorkItemsThisFrame()
}

// ProcessDeferred drains critical, then normal, then low bands, in that
// order, until either the frame's work-item budget is exhausted or the
// drain wall-clock budget (default 8ms) elapses. Called once per frame
// boundary; resets the per-frame work counter.
func (s *Scheduler) ProcessDeferred() {
	start := time.Now()
	s.mu.Lock()
	s.workThisFrame = 0
	s.mu.Unlock()

	for band := PriorityCritical; band >= PriorityLow; band-- {
		for {
			if time.Since(start) >= s.cfg.drainBudget {
				return
			}
			s.mu.Lock()
			if s.workThisFrame >= s.maxWorkItems() || len(s.bands[band]) == 0 {
				s.mu.Unlock()
				break
			}
			work := s.bands[band][0]
			s.bands[band] = s.bands[band][1:]
			s.workThisFrame++
			s.mu.Unlock()

			work()
		}
	}
}

// Start launches the background low-priority drain goroutine: drains only
// the Low band, only while the Frame Controller is neither in Transition
// nor otherwise heavy-load, sleeping idleSleep (default 1ms) between items.
func (s *Scheduler) Start(ctx context.Context) {
	go s.backgroundDrain(ctx)
}

// Stop signals the background drain goroutine to exit and waits (bounded by
// ctx) for it to do so.
func (s *Scheduler) Stop(ctx context.Context) error {
	close(s.stop)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) backgroundDrain(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.idleSleep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if s.isHeavyLoad() {
				continue
			}
			work, ok := s.popLow()
			if !ok {
				continue
			}
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			work()
		}
	}
}

func (s *Scheduler) popLow() (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bands[PriorityLow]) == 0 {
		return nil, false
	}
	work := s.bands[PriorityLow][0]
	s.bands[PriorityLow] = s.bands[PriorityLow][1:]
	return work, true
}

// Pending returns the number of items waiting in each band, most-critical
// first, for diagnostics.
func (s *Scheduler) Pending() (critical, normal, low int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bands[PriorityCritical]), len(s.bands[PriorityNormal]), len(s.bands[PriorityLow])
}
