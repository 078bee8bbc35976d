// Package scheduler runs periodic background tasks with exponential backoff
// and jitter. Each task gets its own loop goroutine; at most one run of a
// task is active at a time.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is a periodic unit of work. Run reports success; a false return or an
// error counts as a failure and grows the backoff.
type Task interface {
	Name() string
	Setup(ctx context.Context) error
	Run(ctx context.Context) (bool, error)
	Cleanup(ctx context.Context) error
}

// TaskOptions tune one task's schedule.
type TaskOptions struct {
	Interval     time.Duration
	MaxBackoff   time.Duration
	JitterFactor float64
	// FirstRun runs the task immediately after setup instead of waiting a
	// full interval.
	FirstRun bool
	Enabled  bool
}

// DefaultTaskOptions returns the standard schedule for background tasks.
func DefaultTaskOptions(interval time.Duration) TaskOptions {
	return TaskOptions{
		Interval:     interval,
		MaxBackoff:   30 * time.Minute,
		JitterFactor: 0.1,
		Enabled:      true,
	}
}

type taskState struct {
	task    Task
	opts    TaskOptions
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	fails   int
	enabled bool
}

func (t *taskState) consecutiveFailures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fails
}

func (t *taskState) recordResult(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ok {
		t.fails = 0
	} else {
		t.fails++
	}
}

func (t *taskState) isEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *taskState) disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
}

// nextDelay computes min(interval * 2^failures, maxBackoff) with uniform
// jitter in [-d*jf/2, +d*jf/2].
func (t *taskState) nextDelay(rng *rand.Rand) time.Duration {
	fails := t.consecutiveFailures()
	d := float64(t.opts.Interval) * math.Pow(2, float64(fails))
	if max := float64(t.opts.MaxBackoff); t.opts.MaxBackoff > 0 && d > max {
		d = max
	}
	if jf := t.opts.JitterFactor; jf > 0 {
		span := d * jf
		d += span*rng.Float64() - span/2
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Scheduler owns task loops and their shutdown.
type Scheduler struct {
	mu              sync.Mutex
	tasks           map[string]*taskState
	rng             *rand.Rand
	started         bool
	shutdownTimeout time.Duration
}

// New creates a scheduler. shutdownTimeout bounds how long Stop waits for
// in-flight runs before force-cancelling.
func New(shutdownTimeout time.Duration) *Scheduler {
	return &Scheduler{
		tasks:           make(map[string]*taskState),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		shutdownTimeout: shutdownTimeout,
	}
}

// Register adds a task. Registration after Start launches the loop
// immediately.
func (s *Scheduler) Register(task Task, opts TaskOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.tasks[task.Name()]; dup {
		return fmt.Errorf("scheduler: duplicate task %q", task.Name())
	}
	st := &taskState{task: task, opts: opts, enabled: opts.Enabled}
	s.tasks[task.Name()] = st
	if s.started && st.enabled {
		s.launch(st)
	}
	return nil
}

// Start launches a loop for every enabled task.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, st := range s.tasks {
		if st.enabled {
			s.launch(st)
		}
	}
}

func (s *Scheduler) launch(st *taskState) {
	ctx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel
	st.done = make(chan struct{})
	go s.loop(ctx, st)
}

func (s *Scheduler) loop(ctx context.Context, st *taskState) {
	defer close(st.done)
	log := logrus.WithField("task", st.task.Name())

	if err := st.task.Setup(ctx); err != nil {
		log.Errorf("Task setup failed: %v", err)
		return
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.task.Cleanup(cleanupCtx); err != nil {
			log.Warnf("Task cleanup failed: %v", err)
		}
	}()

	if st.opts.FirstRun {
		s.runOnce(ctx, st, log)
	}
	for {
		s.mu.Lock()
		delay := st.nextDelay(s.rng)
		s.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if !st.isEnabled() {
			return
		}
		s.runOnce(ctx, st, log)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, st *taskState, log *logrus.Entry) {
	ok, err := st.task.Run(ctx)
	if err != nil {
		log.Warnf("Task run failed: %v", err)
		ok = false
	}
	st.recordResult(ok)
	if !ok {
		log.WithField("consecutive_failures", st.consecutiveFailures()).Debug("Task backing off")
	}
}

// Disable marks a task so its loop exits at the next wakeup.
func (s *Scheduler) Disable(name string) {
	s.mu.Lock()
	st := s.tasks[name]
	s.mu.Unlock()
	if st != nil {
		st.disable()
	}
}

// Stop cancels all task loops, waits up to the shutdown timeout for them to
// drain, then returns. Cleanup runs inside each loop's defer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	states := make([]*taskState, 0, len(s.tasks))
	for _, st := range s.tasks {
		if st.cancel != nil {
			states = append(states, st)
		}
	}
	s.mu.Unlock()

	for _, st := range states {
		st.cancel()
	}
	deadline := time.After(s.shutdownTimeout)
	for _, st := range states {
		select {
		case <-st.done:
		case <-deadline:
			logrus.WithField("task", st.task.Name()).Warn("Task did not stop before shutdown timeout")
		}
	}
}
