// Package orchestrator wires the daemon together: store, executor,
// scheduler, capacity and health monitors, definition watcher, and the
// event bus. It is the façade the CLI and API call into.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/apexhq/apex/internal/aerrors"
	"github.com/apexhq/apex/internal/agent"
	"github.com/apexhq/apex/internal/capacity"
	"github.com/apexhq/apex/internal/config"
	"github.com/apexhq/apex/internal/events"
	"github.com/apexhq/apex/internal/executor"
	"github.com/apexhq/apex/internal/github"
	"github.com/apexhq/apex/internal/gitops"
	"github.com/apexhq/apex/internal/health"
	"github.com/apexhq/apex/internal/scheduler"
	"github.com/apexhq/apex/internal/store"
	"github.com/apexhq/apex/internal/task"
	"github.com/apexhq/apex/internal/watcher"
	"github.com/apexhq/apex/internal/workflow"
	"github.com/apexhq/apex/internal/workspace"
)

// Status is the orchestrator lifecycle state.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
)

// DaemonStatus is the JSON-friendly snapshot served by the API and CLI.
type DaemonStatus struct {
	Status        Status         `json:"status"`
	ActiveCount   int            `json:"active_count"`
	MaxConcurrent int            `json:"max_concurrent"`
	QueueLength   int            `json:"queue_length"`
	RunningTasks  []string       `json:"running_tasks"`
	Uptime        string         `json:"uptime,omitempty"`
	Health        *health.Status `json:"health,omitempty"`
}

// Orchestrator owns the daemon's long-lived components.
type Orchestrator struct {
	projectPath string
	cfg         *config.Config
	store       *store.Store
	publisher   events.Publisher
	events      *events.PublishHelper
	transport   agent.Transport
	workspaces  workspace.Manager
	runner      gitops.CommandRunner
	git         *gitops.Git
	gh          *github.Client
	exec        *executor.Executor
	sched       *scheduler.Scheduler
	monitor     *capacity.Monitor
	health      *health.Monitor
	watch       *watcher.Watcher
	logger      *slog.Logger
	prePush     PushValidator

	ownsStore     bool
	ownsPublisher bool

	mu          sync.RWMutex
	status      Status
	initialized bool
	startedAt   time.Time
	cancel      context.CancelFunc
	cleanupCh   <-chan events.Event
	cleanupWg   sync.WaitGroup
}

// Option configures an Orchestrator before Initialize.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithConfig supplies a pre-loaded configuration instead of reading
// .apex/config.yaml.
func WithConfig(cfg *config.Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithStore supplies an open store. The orchestrator will not close it.
func WithStore(st *store.Store) Option {
	return func(o *Orchestrator) { o.store = st }
}

// WithPublisher supplies an event publisher. The orchestrator will not
// close it.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithTransport supplies the agent transport.
func WithTransport(t agent.Transport) Option {
	return func(o *Orchestrator) { o.transport = t }
}

// WithWorkspaceManager supplies the workspace manager.
func WithWorkspaceManager(m workspace.Manager) Option {
	return func(o *Orchestrator) { o.workspaces = m }
}

// WithRunner supplies the command runner used for git and gh shell-outs.
func WithRunner(r gitops.CommandRunner) Option {
	return func(o *Orchestrator) { o.runner = r }
}

// WithPushValidator sets the pre-push validation hook.
func WithPushValidator(v PushValidator) Option {
	return func(o *Orchestrator) { o.prePush = v }
}

// New creates an orchestrator rooted at the project path. Call Initialize
// before anything else.
func New(projectPath string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		projectPath: projectPath,
		logger:      slog.Default(),
		status:      StatusStopped,
		startedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Initialize loads configuration and definitions, opens the store, and
// constructs the executor, scheduler, and monitors. Idempotent.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.initialized {
		return nil
	}

	if o.cfg == nil {
		cfg, err := config.Load(o.projectPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		o.cfg = cfg
	}

	if o.store == nil {
		st, err := store.Open(o.projectPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		o.store = st
		o.ownsStore = true
	}
	if err := o.store.Ping(ctx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}

	if o.publisher == nil {
		o.publisher = events.NewPersistentPublisher(o.store, "daemon", o.logger)
		o.ownsPublisher = true
	}
	o.events = events.NewPublishHelper(o.publisher)

	workflows, err := workflow.LoadDir(o.projectPath)
	if err != nil {
		return fmt.Errorf("load workflows: %w", err)
	}
	agents, err := agent.LoadDir(o.projectPath)
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}

	if o.runner == nil {
		o.runner = gitops.NewExecRunner()
	}
	o.git = gitops.New(o.projectPath, gitops.WithRunner(o.runner), gitops.WithLogger(o.logger))
	o.gh = github.NewClient(o.projectPath, o.runner)

	if o.workspaces == nil {
		o.workspaces = workspace.NewLocalManager(o.git, workspace.WithLogger(o.logger))
	}
	if o.transport == nil {
		o.transport = agent.NewCLITransport("claude", nil, o.logger)
	}

	o.exec = executor.New(o.store, o.cfg, o.transport,
		executor.WithWorkspaceManager(o.workspaces),
		executor.WithPublisher(o.publisher),
		executor.WithLogger(o.logger),
		executor.WithDefinitions(workflows, agents),
	)

	o.monitor = capacity.NewMonitor(o.cfg.Daemon.TimeBasedUsage, o,
		capacity.WithLogger(o.logger))

	o.sched = scheduler.New(o.store, o.exec, o.cfg,
		scheduler.WithCapacityMonitor(o.monitor),
		scheduler.WithPublisher(o.publisher),
		scheduler.WithLogger(o.logger),
	)

	if o.cfg.Daemon.HealthCheck {
		o.health = health.New(o.store,
			health.WithPublisher(o.publisher),
			health.WithLogger(o.logger),
		)
	}

	w, err := watcher.New(o.projectPath,
		watcher.WithPublisher(o.publisher),
		watcher.WithLogger(o.logger),
		watcher.WithOnChange(func(watcher.Change) { o.reloadDefinitions() }),
	)
	if err != nil {
		o.logger.Warn("definition watcher unavailable", "error", err)
	} else {
		o.watch = w
	}

	o.initialized = true
	o.logger.Info("orchestrator initialized", "project", o.projectPath)
	return nil
}

// reloadDefinitions re-reads the .apex definition directories and swaps
// them into the executor. Parse errors keep the previous set.
func (o *Orchestrator) reloadDefinitions() {
	workflows, err := workflow.LoadDir(o.projectPath)
	if err != nil {
		o.logger.Warn("workflow reload failed, keeping previous definitions", "error", err)
		return
	}
	agents, err := agent.LoadDir(o.projectPath)
	if err != nil {
		o.logger.Warn("agent reload failed, keeping previous definitions", "error", err)
		return
	}
	o.exec.SetDefinitions(workflows, agents)
	o.logger.Info("definitions reloaded",
		"workflows", len(workflows), "agents", len(agents))
}

// Start launches the scheduler, monitors, and watcher. Initialize is
// called implicitly when needed.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.Initialize(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	if o.status == StatusRunning {
		o.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.status = StatusRunning
	o.startedAt = time.Now()
	o.mu.Unlock()

	if o.health != nil {
		if err := o.health.Start(runCtx, "startup"); err != nil {
			o.logger.Warn("health monitor start failed", "error", err)
		}
	}
	if o.watch != nil {
		if err := o.watch.Start(runCtx); err != nil {
			o.logger.Warn("definition watcher start failed", "error", err)
		}
	}

	o.startAutoCleanup()
	o.sched.Start(runCtx)

	o.logger.Info("orchestrator started",
		"max_concurrent", o.sched.MaxConcurrentTasks(),
		"poll_interval", o.cfg.PollInterval())
	return nil
}

// startAutoCleanup removes completed tasks' workspaces when configured.
// Cleanup failures are logged and recorded on the task, never re-thrown.
func (o *Orchestrator) startAutoCleanup() {
	if !o.cfg.Workspace.ShouldCleanup() {
		return
	}

	ch := o.publisher.Subscribe(events.GlobalTaskID)
	o.cleanupCh = ch

	o.cleanupWg.Add(1)
	go func() {
		defer o.cleanupWg.Done()
		for ev := range ch {
			if ev.Type != events.EventTaskCompleted {
				continue
			}
			if err := o.workspaces.Cleanup(ev.TaskID); err != nil {
				o.logger.Warn("workspace cleanup failed", "task", ev.TaskID, "error", err)
				if logErr := o.store.AddLog(ev.TaskID, store.TaskLog{
					Level:     "warn",
					Message:   fmt.Sprintf("Workspace cleanup failed: %v", err),
					Component: "workspace-cleanup",
				}); logErr != nil {
					o.logger.Warn("record cleanup failure", "task", ev.TaskID, "error", logErr)
				}
			}
		}
	}()
}

// Stop halts admissions and waits for running tasks to drain.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.status != StatusRunning {
		o.mu.Unlock()
		return
	}
	o.status = StatusStopped
	cancel := o.cancel
	o.mu.Unlock()

	o.sched.Stop()
	o.sched.WaitForAllTasks()

	if o.watch != nil {
		o.watch.Stop()
	}
	if o.health != nil {
		o.health.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if o.cleanupCh != nil {
		o.publisher.Unsubscribe(events.GlobalTaskID, o.cleanupCh)
		o.cleanupWg.Wait()
		o.cleanupCh = nil
	}

	o.logger.Info("orchestrator stopped")
}

// Close stops the orchestrator and releases owned resources. Stores and
// publishers supplied by the caller stay open.
func (o *Orchestrator) Close() error {
	o.Stop()

	if o.ownsPublisher && o.publisher != nil {
		o.publisher.Close()
	}
	if o.ownsStore && o.store != nil {
		if err := o.store.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
	}
	return nil
}

// Status reports the daemon snapshot.
func (o *Orchestrator) Status() DaemonStatus {
	o.mu.RLock()
	st := DaemonStatus{
		Status: o.status,
		Uptime: time.Since(o.startedAt).Round(time.Second).String(),
	}
	o.mu.RUnlock()

	if o.sched != nil {
		st.ActiveCount = o.sched.RunningTaskCount()
		st.MaxConcurrent = o.sched.MaxConcurrentTasks()
		st.RunningTasks = o.sched.RunningTaskIDs()
	}
	if o.store != nil {
		if pending, err := o.store.ListTasks(store.ListOptions{Status: task.StatusPending}); err == nil {
			st.QueueLength = len(pending)
		}
	}
	if o.health != nil {
		hs := o.health.Status()
		st.Health = &hs
	}
	return st
}

// Store exposes the underlying store for the API and CLI layers.
func (o *Orchestrator) Store() *store.Store {
	return o.store
}

// Publisher exposes the event bus for subscribers.
func (o *Orchestrator) Publisher() events.Publisher {
	return o.publisher
}

// Config returns the active configuration.
func (o *Orchestrator) Config() *config.Config {
	return o.cfg
}

// Executor exposes the workflow executor.
func (o *Orchestrator) Executor() *executor.Executor {
	return o.exec
}

// Scheduler exposes the task runner.
func (o *Orchestrator) Scheduler() *scheduler.Scheduler {
	return o.sched
}

// Health returns the latest health snapshot, or nil when the health
// monitor is disabled.
func (o *Orchestrator) Health() *health.Status {
	if o.health == nil {
		return nil
	}
	hs := o.health.Status()
	return &hs
}

// DetectSessionLimit evaluates session pressure for the task's stored
// conversation. A non-positive contextWindow falls back to the configured
// window size.
func (o *Orchestrator) DetectSessionLimit(id string, contextWindow int) (capacity.SessionStatus, error) {
	t, err := o.store.GetTask(id)
	if err != nil {
		return capacity.SessionStatus{}, err
	}
	if contextWindow <= 0 {
		contextWindow = o.cfg.Daemon.SessionRecovery.ContextWindowTokens
	}
	threshold := o.cfg.Daemon.SessionRecovery.ContextWindowThreshold
	return capacity.CheckSession(t.Conversation, contextWindow, threshold), nil
}

// CurrentDailyUsage implements capacity.UsageStatsProvider by summing
// cost and tokens across tasks updated today.
func (o *Orchestrator) CurrentDailyUsage() capacity.DailyUsage {
	var usage capacity.DailyUsage
	tasks, err := o.store.ListTasks(store.ListOptions{})
	if err != nil {
		o.logger.Warn("daily usage query failed", "error", err)
		return usage
	}

	y, m, d := time.Now().Date()
	for _, t := range tasks {
		// Timestamps are stored in UTC; compare calendar days in the
		// local zone so the sum matches the local-midnight budget reset.
		ty, tm, td := t.UpdatedAt.Local().Date()
		if ty != y || tm != m || td != d {
			continue
		}
		usage.TotalCost += t.Usage.EstimatedCost
		usage.TotalTokens += t.Usage.TotalTokens
	}
	return usage
}

// ActiveTasks implements capacity.UsageStatsProvider.
func (o *Orchestrator) ActiveTasks() int {
	if o.sched == nil {
		return 0
	}
	return o.sched.RunningTaskCount()
}

// DailyBudget implements capacity.UsageStatsProvider.
func (o *Orchestrator) DailyBudget() float64 {
	return o.cfg.Limits.DailyBudget
}

// requireInitialized guards operations that need Initialize first.
func (o *Orchestrator) requireInitialized() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.initialized {
		return aerrors.ErrNotInitialized()
	}
	return nil
}
