// Package scheduler implements a single-goroutine cooperative task runner.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/sensornode/internal/node/core"
	"github.com/autopeer-io/sensornode/pkg/log"
)

// DefaultResolution is the granularity at which due tasks are checked.
const DefaultResolution = 10 * time.Millisecond

type task struct {
	interval   time.Duration
	iterations int
	next       time.Time
	fn         func()
}

// Scheduler runs periodic tasks and posted functions on the goroutine that
// calls Run. Registration and cancellation are safe from any goroutine.
type Scheduler struct {
	clock      clock.WithTicker
	resolution time.Duration

	mu     sync.Mutex
	tasks  map[core.TaskHandle]*task
	nextID core.TaskHandle
	posted []func()
	wake   chan struct{}
}

var _ core.Scheduler = (*Scheduler)(nil)

func New(clk clock.WithTicker, resolution time.Duration) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	return &Scheduler{
		clock:      clk,
		resolution: resolution,
		tasks:      make(map[core.TaskHandle]*task),
		wake:       make(chan struct{}, 1),
	}
}

func (s *Scheduler) RegisterPeriodic(interval time.Duration, iterations int, fn func()) core.TaskHandle {
	if iterations == 0 || fn == nil {
		return 0
	}
	if interval <= 0 {
		interval = s.resolution
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.tasks[s.nextID] = &task{
		interval:   interval,
		iterations: iterations,
		next:       s.clock.Now().Add(interval),
		fn:         fn,
	}
	return s.nextID
}

func (s *Scheduler) Cancel(h core.TaskHandle) {
	s.mu.Lock()
	delete(s.tasks, h)
	s.mu.Unlock()
}

func (s *Scheduler) Post(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.posted = append(s.posted, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Len reports the number of registered tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Run executes callbacks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.resolution)
	defer ticker.Stop()

	log.Info("Scheduler started", "resolution", s.resolution)

	for {
		select {
		case <-ctx.Done():
			log.Info("Scheduler stopped")
			return nil
		case <-s.wake:
			s.runPosted()
		case now := <-ticker.C():
			s.runPosted()
			s.runDue(now)
		}
	}
}

func (s *Scheduler) runPosted() {
	s.mu.Lock()
	fns := s.posted
	s.posted = nil
	s.mu.Unlock()

	for _, fn := range fns {
		s.call(fn)
	}
}

// runDue runs every task whose deadline is not after now. A task canceled
// by an earlier callback in the same round is skipped.
func (s *Scheduler) runDue(now time.Time) {
	s.mu.Lock()
	due := make([]core.TaskHandle, 0, len(s.tasks))
	for h, t := range s.tasks {
		if !now.Before(t.next) {
			due = append(due, h)
		}
	}
	s.mu.Unlock()

	// registration order keeps rounds deterministic
	slices.Sort(due)

	for _, h := range due {
		s.mu.Lock()
		t, ok := s.tasks[h]
		s.mu.Unlock()
		if !ok {
			continue
		}

		s.call(t.fn)

		s.mu.Lock()
		if _, ok := s.tasks[h]; ok {
			if t.iterations > 0 {
				t.iterations--
			}
			if t.iterations == 0 {
				delete(s.tasks, h)
			} else {
				t.next = now.Add(t.interval)
			}
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Errorf("panic: %v", r), "Scheduled callback panicked")
		}
	}()
	fn()
}
