// Package scheduler admits ready tasks to the executor under concurrency
// and capacity limits. A single loop goroutine polls the store; bounded
// worker goroutines run the tasks.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/apexhq/apex/internal/capacity"
	"github.com/apexhq/apex/internal/config"
	"github.com/apexhq/apex/internal/events"
	"github.com/apexhq/apex/internal/executor"
	"github.com/apexhq/apex/internal/store"
	"github.com/apexhq/apex/internal/task"
)

// Scheduler owns the admission loop and the transient running-task set.
type Scheduler struct {
	store   *store.Store
	exec    *executor.Executor
	cfg     *config.Config
	monitor *capacity.Monitor
	events  *events.PublishHelper
	logger  *slog.Logger

	mu      sync.Mutex
	running map[string]bool
	active  bool

	wake   chan struct{}
	stop   chan struct{}
	unsub  func()
	loopWg sync.WaitGroup
	taskWg sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCapacityMonitor gates admission on the capacity monitor.
func WithCapacityMonitor(m *capacity.Monitor) Option {
	return func(s *Scheduler) { s.monitor = m }
}

// WithPublisher sets the event publisher for capacity restorations.
func WithPublisher(p events.Publisher) Option {
	return func(s *Scheduler) { s.events = events.NewPublishHelper(p) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a scheduler over the store and executor.
func New(st *store.Store, exec *executor.Executor, cfg *config.Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:   st,
		exec:    exec,
		cfg:     cfg,
		events:  events.NewPublishHelper(nil),
		logger:  slog.Default(),
		running: make(map[string]bool),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the admission loop. A capacity restoration triggers one
// immediate cycle instead of waiting for the next tick.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.mu.Unlock()

	if s.monitor != nil {
		s.unsub = s.monitor.OnCapacityRestored(func(r capacity.Restoration) {
			s.events.CapacityRestored(r.Reason, string(r.TimeWindow.Mode))
			s.logger.Info("capacity restored", "reason", r.Reason, "mode", r.TimeWindow.Mode)
			s.Wake()
		})
	}

	s.loopWg.Add(1)
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.loopWg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval())
	defer ticker.Stop()

	s.admit(ctx)
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.admit(ctx)
		case <-s.wake:
			s.admit(ctx)
		}
	}
}

// Wake requests an immediate admission cycle.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// admit runs one admission cycle: skip when capacity says pause, resume
// eligible paused tasks first, then fill remaining slots from the queue.
func (s *Scheduler) admit(ctx context.Context) {
	if s.monitor != nil && s.monitor.Evaluate() {
		s.logger.Debug("admission skipped, capacity pause")
		return
	}

	slots := s.MaxConcurrentTasks() - s.RunningTaskCount()
	if slots <= 0 {
		return
	}

	paused, err := s.store.GetPausedTasksForResume()
	if err != nil {
		s.logger.Error("list paused tasks", "error", err)
	}
	for _, t := range paused {
		if slots <= 0 {
			return
		}
		if s.IsTaskRunning(t.ID) {
			continue
		}
		if t.ResumeAttempts >= s.exec.MaxResumeAttempts() {
			continue
		}
		s.launch(ctx, t.ID, true)
		slots--
	}

	for slots > 0 {
		t, err := s.store.GetNextQueuedTask()
		if err != nil {
			s.logger.Error("next queued task", "error", err)
			return
		}
		if t == nil {
			return
		}
		if s.IsTaskRunning(t.ID) {
			return
		}
		// Mark the task queued so the next poll doesn't pick it again
		// before its worker starts.
		if _, err := s.store.UpdateTaskStatus(t.ID, task.StatusQueued); err != nil {
			s.logger.Error("queue task", "task", t.ID, "error", err)
			return
		}
		s.launch(ctx, t.ID, false)
		slots--
	}
}

// launch runs one task on a worker goroutine. The id stays in the running
// set until the worker returns.
func (s *Scheduler) launch(ctx context.Context, id string, resume bool) {
	s.mu.Lock()
	s.running[id] = true
	s.mu.Unlock()

	s.taskWg.Add(1)
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.running, id)
			s.mu.Unlock()
			s.taskWg.Done()
			s.Wake()
		}()

		var err error
		if resume {
			_, err = s.exec.ResumeTask(ctx, id, executor.ResumeOptions{})
		} else {
			err = s.exec.ExecuteTask(ctx, id, executor.ExecuteOptions{})
		}
		if err != nil {
			s.logger.Warn("task run ended with error", "task", id, "error", err)
		}
	}()
}

// Stop halts admissions. Running tasks keep going; use WaitForAllTasks to
// drain them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()

	close(s.stop)
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	s.loopWg.Wait()
}

// WaitForAllTasks blocks until every running task finishes. No timeout:
// budget and session limits bound task work.
func (s *Scheduler) WaitForAllTasks() {
	s.taskWg.Wait()
}

// RunningTaskCount returns the number of tasks currently executing.
func (s *Scheduler) RunningTaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// RunningTaskIDs returns the executing task ids, sorted for stable output.
func (s *Scheduler) RunningTaskIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsTaskRunning reports whether the task is currently executing.
func (s *Scheduler) IsTaskRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[id]
}

// IsActive reports whether the admission loop is running.
func (s *Scheduler) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// MaxConcurrentTasks returns the configured worker cap.
func (s *Scheduler) MaxConcurrentTasks() int {
	if n := s.cfg.Limits.MaxConcurrentTasks; n > 0 {
		return n
	}
	return 1
}
