// Package executor runs tasks through their workflows: it iterates stages
// in dependency order, streams agent output into events and the stored
// conversation, enforces budgets, retries transient failures, and writes
// resumable checkpoints at stage boundaries and pauses.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/apexhq/apex/internal/aerrors"
	"github.com/apexhq/apex/internal/agent"
	"github.com/apexhq/apex/internal/capacity"
	"github.com/apexhq/apex/internal/config"
	"github.com/apexhq/apex/internal/events"
	"github.com/apexhq/apex/internal/store"
	"github.com/apexhq/apex/internal/task"
	"github.com/apexhq/apex/internal/workflow"
	"github.com/apexhq/apex/internal/workspace"
)

// Default per-token pricing applied when the transport reports no cost.
const (
	costPerInputToken  = 3.0 / 1e6
	costPerOutputToken = 15.0 / 1e6
)

// errPaused signals that the stage loop already persisted a pause (status,
// checkpoint, event). ExecuteTask translates it into a nil return.
var errPaused = errors.New("task paused")

// Executor drives tasks through their workflow stages.
type Executor struct {
	store      *store.Store
	cfg        *config.Config
	transport  agent.Transport
	workspaces workspace.Manager
	events     *events.PublishHelper
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error

	mu        sync.RWMutex
	workflows map[string]*workflow.Workflow
	agents    map[string]*agent.Definition
}

// Option configures an Executor.
type Option func(*Executor)

// WithWorkspaceManager sets the workspace manager the executor queries for
// per-task working directories.
func WithWorkspaceManager(m workspace.Manager) Option {
	return func(e *Executor) { e.workspaces = m }
}

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(e *Executor) { e.events = events.NewPublishHelper(p) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithDefinitions sets the loaded workflow and agent definitions.
func WithDefinitions(workflows map[string]*workflow.Workflow, agents map[string]*agent.Definition) Option {
	return func(e *Executor) {
		e.workflows = workflows
		e.agents = agents
	}
}

// WithSleep replaces the retry backoff sleep, used by tests to avoid real
// delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// New creates an executor over the given store, config, and agent transport.
func New(st *store.Store, cfg *config.Config, transport agent.Transport, opts ...Option) *Executor {
	e := &Executor{
		store:     st,
		cfg:       cfg,
		transport: transport,
		events:    events.NewPublishHelper(nil),
		logger:    slog.Default(),
		workflows: map[string]*workflow.Workflow{},
		agents:    map[string]*agent.Definition{},
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetDefinitions swaps the loaded workflow and agent definitions. Called by
// the definition watcher on hot reload; running stages keep the definitions
// they started with.
func (e *Executor) SetDefinitions(workflows map[string]*workflow.Workflow, agents map[string]*agent.Definition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows = workflows
	e.agents = agents
}

func (e *Executor) lookupWorkflow(name string) (*workflow.Workflow, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return workflow.Get(e.workflows, name)
}

func (e *Executor) lookupAgent(name string) (*agent.Definition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return agent.Get(e.agents, name)
}

// ExecuteOptions controls one ExecuteTask run.
type ExecuteOptions struct {
	// AutoRetry enables transient-failure retries. Nil means true.
	AutoRetry *bool

	// startIndex is the topological stage index to begin at, set by resume.
	startIndex int
}

func (o ExecuteOptions) autoRetry() bool {
	return o.AutoRetry == nil || *o.AutoRetry
}

// ExecuteTask runs a task to a terminal state: completed, failed, cancelled,
// or paused. Pauses persist a checkpoint and return nil; failures set the
// task's Error, emit task:failed once, and return the error.
func (e *Executor) ExecuteTask(ctx context.Context, id string, opts ExecuteOptions) error {
	t, err := e.store.GetTask(id)
	if err != nil {
		return err
	}
	if t.Status == task.StatusCancelled {
		return aerrors.ErrTaskCancelled(id)
	}

	started := time.Now()
	status := task.StatusInProgress
	if _, err := e.store.UpdateTask(id, store.TaskPatch{Status: &status}); err != nil {
		return err
	}
	e.events.TaskStarted(id)
	e.logger.Info("task started", "task", id, "workflow", t.Workflow)

	startIndex := opts.startIndex
	for {
		runErr := e.runWorkflow(ctx, id, startIndex)
		if runErr == nil {
			return e.completeTask(id, started)
		}
		if errors.Is(runErr, errPaused) {
			return nil
		}

		var se *stageError
		if !errors.As(runErr, &se) {
			se = &stageError{err: runErr}
		}

		cl := classify(runErr)
		switch {
		case cl.pauseReason != "":
			return e.pauseTask(id, se, cl.pauseReason, nil)

		case aerrors.CodeOf(runErr) == aerrors.CodeTaskCancelled:
			// The task is already cancelled in the store; leave it be.
			e.logger.Info("task cancelled", "task", id, "stage", se.stage)
			return runErr

		case cl.retryable && opts.autoRetry():
			t, err = e.store.GetTask(id)
			if err != nil {
				return err
			}
			if t.RetryCount < t.GetMaxRetries() {
				if err := e.retry(ctx, id, t.RetryCount, se); err != nil {
					return err
				}
				startIndex = 0
				continue
			}
			return e.failTask(id, se, runErr)

		default:
			return e.failTask(id, se, runErr)
		}
	}
}

// retry logs the failure, bumps RetryCount, and sleeps the exponential
// backoff before the task re-enters from the first stage.
func (e *Executor) retry(ctx context.Context, id string, attempt int, se *stageError) error {
	next := attempt + 1
	e.logger.Warn("transient failure, retrying",
		"task", id, "stage", se.stage, "attempt", next, "error", se.err)
	_ = e.store.AddLog(id, store.TaskLog{
		Level:   store.LogWarn,
		Message: fmt.Sprintf("Retrying after transient failure (attempt %d): %v", next, se.err),
		Stage:   se.stage,
	})

	if _, err := e.store.UpdateTask(id, store.TaskPatch{RetryCount: &next}); err != nil {
		return err
	}

	backoff := e.cfg.Limits.RetryBackoffFactor
	if backoff < 1 {
		backoff = 1
	}
	delay := time.Duration(float64(e.cfg.RetryDelay()) * math.Pow(backoff, float64(attempt)))
	return e.sleep(ctx, delay)
}

func (e *Executor) completeTask(id string, started time.Time) error {
	status := task.StatusCompleted
	t, err := e.store.UpdateTask(id, store.TaskPatch{Status: &status})
	if err != nil {
		return err
	}
	e.events.TaskCompleted(id, time.Since(started), t.Usage.TotalTokens, t.Usage.EstimatedCost)
	e.logger.Info("task completed",
		"task", id, "tokens", t.Usage.TotalTokens, "cost", t.Usage.EstimatedCost)
	return nil
}

func (e *Executor) failTask(id string, se *stageError, cause error) error {
	status := task.StatusFailed
	msg := cause.Error()
	if _, err := e.store.UpdateTask(id, store.TaskPatch{Status: &status, Error: &msg}); err != nil {
		e.logger.Error("mark task failed", "task", id, "error", err)
	}
	e.events.TaskFailed(id, se.stage, msg)
	e.logger.Error("task failed", "task", id, "stage", se.stage, "error", cause)
	return cause
}

// pauseTask writes a stage_start checkpoint and parks the task. The
// scheduler re-admits it once the pause reason clears.
func (e *Executor) pauseTask(id string, se *stageError, reason task.PauseReason, sessionStatus any) error {
	t, err := e.store.GetTask(id)
	if err != nil {
		return err
	}

	cp := &store.Checkpoint{
		TaskID:            id,
		Stage:             se.stage,
		StageIndex:        se.index,
		ConversationState: t.Conversation,
		Metadata: store.CheckpointMetadata{
			PauseReason:        string(reason),
			ResumePoint:        store.ResumePointStageStart,
			SessionLimitStatus: sessionStatus,
			CompletedStages:    se.completed,
			InProgressStages:   inProgress(se.stage),
		},
	}
	if err := e.store.SaveCheckpoint(cp); err != nil {
		return err
	}

	now := time.Now()
	status := task.StatusPaused
	if _, err := e.store.UpdateTask(id, store.TaskPatch{
		Status:      &status,
		PausedAt:    &now,
		PauseReason: &reason,
	}); err != nil {
		return err
	}

	msg := ""
	if se.err != nil {
		msg = se.err.Error()
	}
	e.events.TaskPaused(id, string(reason), msg, nil)
	e.logger.Info("task paused", "task", id, "stage", se.stage, "reason", reason)
	return nil
}

func inProgress(stage string) []string {
	if stage == "" {
		return nil
	}
	return []string{stage}
}

// stageError attributes a failure to the stage it happened in so pause
// checkpoints and retry logs can name it.
type stageError struct {
	stage     string
	index     int
	completed []string
	err       error
}

func (e *stageError) Error() string {
	if e.stage == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("stage %s: %v", e.stage, e.err)
}

func (e *stageError) Unwrap() error { return e.err }

// runWorkflow executes the task's stages from the given topological index.
// It returns errPaused after persisting a session-limit pause itself; other
// failures come back wrapped in a stageError for the caller to classify.
func (e *Executor) runWorkflow(ctx context.Context, id string, fromIndex int) error {
	t, err := e.store.GetTask(id)
	if err != nil {
		return err
	}

	wf, err := e.lookupWorkflow(t.Workflow)
	if err != nil {
		return err
	}
	stages, err := wf.TopoOrder()
	if err != nil {
		return err
	}
	if fromIndex >= len(stages) {
		return nil
	}

	completed := make([]string, 0, len(stages))
	for _, st := range stages[:fromIndex] {
		completed = append(completed, st.Name)
	}

	for i := fromIndex; i < len(stages); i++ {
		st := stages[i]

		// Cancellation is observed at stage boundaries, never mid-stream.
		t, err = e.store.GetTask(id)
		if err != nil {
			return &stageError{stage: st.Name, index: i, completed: completed, err: err}
		}
		if t.Status == task.StatusCancelled {
			return &stageError{stage: st.Name, index: i, completed: completed,
				err: aerrors.ErrTaskCancelled(id)}
		}

		if paused, err := e.checkSessionPressure(t, st.Name, i, completed); err != nil {
			return err
		} else if paused {
			return errPaused
		}

		if err := e.runStage(ctx, t, st, i); err != nil {
			return &stageError{stage: st.Name, index: i, completed: completed, err: err}
		}
		completed = append(completed, st.Name)

		cp := &store.Checkpoint{
			TaskID:     id,
			Stage:      st.Name,
			StageIndex: i + 1,
			Metadata: store.CheckpointMetadata{
				ResumePoint:     store.ResumePointWorkflowContinue,
				CompletedStages: append([]string(nil), completed...),
			},
		}
		t, err = e.store.GetTask(id)
		if err == nil {
			cp.ConversationState = t.Conversation
		}
		if err := e.store.SaveCheckpoint(cp); err != nil {
			e.logger.Warn("checkpoint write failed", "task", id, "stage", st.Name, "error", err)
		}
	}
	return nil
}

// checkSessionPressure pauses the task before invoking the transport when
// the stored conversation is close to the context window. The checkpoint
// records the session status so resume can decide how to proceed.
func (e *Executor) checkSessionPressure(t *task.Task, stage string, index int, completed []string) (bool, error) {
	rec := e.cfg.Daemon.SessionRecovery
	if !rec.Enabled {
		return false, nil
	}

	status := capacity.CheckSession(t.Conversation, rec.ContextWindowTokens, rec.ContextWindowThreshold)
	if status.Recommendation != capacity.RecommendCheckpoint && status.Recommendation != capacity.RecommendHandoff {
		return false, nil
	}

	se := &stageError{
		stage:     stage,
		index:     index,
		completed: completed,
		err:       aerrors.ErrSessionLimit(t.ID, status.Utilization),
	}
	if err := e.pauseTask(t.ID, se, task.PauseSessionLimit, status); err != nil {
		return false, err
	}
	return true, nil
}

// runStage invokes the agent for one stage and consumes its message stream.
func (e *Executor) runStage(ctx context.Context, t *task.Task, st workflow.Stage, index int) error {
	def, err := e.lookupAgent(st.Agent)
	if err != nil {
		return err
	}

	stageName := st.Name
	if _, err := e.store.UpdateTask(t.ID, store.TaskPatch{CurrentStage: &stageName}); err != nil {
		return err
	}
	e.events.StageStarted(t.ID, st.Name)
	e.logger.Debug("stage started", "task", t.ID, "stage", st.Name, "agent", st.Agent)

	workDir, wsEnv := e.workspaceFor(t)
	inv := agent.Invocation{
		TaskID:       t.ID,
		Agent:        def,
		Prompt:       buildPrompt(def, st, t),
		WorkDir:      workDir,
		ProjectPath:  t.ProjectPath,
		WorkspaceEnv: wsEnv,
		Model:        e.modelFor(def),
	}

	stream, err := e.transport.Invoke(ctx, inv)
	if err != nil {
		e.events.StageFailed(t.ID, st.Name, err)
		return err
	}

	if err := e.consumeStream(ctx, t, st, def, stream); err != nil {
		e.events.StageFailed(t.ID, st.Name, err)
		return err
	}

	e.events.StageCompleted(t.ID, st.Name)
	return nil
}

// consumeStream drains one stage's message stream, mirroring messages onto
// the event bus, appending to the stored conversation, and enforcing the
// per-task budget after every usage update.
func (e *Executor) consumeStream(ctx context.Context, t *task.Task, st workflow.Stage, def *agent.Definition, stream agent.Stream) error {
	conversation := append([]task.Message(nil), t.Conversation...)
	usage := t.Usage
	dirty := false

	persist := func() error {
		if !dirty {
			return nil
		}
		_, err := e.store.UpdateTask(t.ID, store.TaskPatch{
			Usage:        &usage,
			Conversation: conversation,
		})
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			_ = persist()
			return err
		}

		msg, err := stream.Recv()
		if err != nil {
			if perr := persist(); perr != nil {
				return perr
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch msg.Type {
		case agent.MessageText:
			text, _ := msg.Content.(string)
			conversation = append(conversation, task.Message{Role: "assistant", Content: text})
			dirty = true
			e.events.AgentMessage(t.ID, st.Name, text)

		case agent.MessageThinking:
			text, _ := msg.Content.(string)
			e.events.AgentThinking(t.ID, st.Name, text)

		case agent.MessageToolUse:
			e.events.ToolUse(t.ID, st.Name, msg.ToolName, msg.ToolInput)
			if !def.AllowsTool(msg.ToolName) {
				e.logger.Warn("tool outside agent allow-list",
					"task", t.ID, "stage", st.Name, "agent", def.Name, "tool", msg.ToolName)
				_ = e.store.AddLog(t.ID, store.TaskLog{
					Level:   store.LogWarn,
					Message: fmt.Sprintf("Tool %q is outside agent %q allow-list", msg.ToolName, def.Name),
					Stage:   st.Name,
					Agent:   def.Name,
				})
			}

		case agent.MessageToolResult:
			conversation = append(conversation, task.Message{
				Role: "tool", Type: "tool_result", Content: msg.Content,
			})
			dirty = true
			e.events.ToolResult(t.ID, st.Name, "", msg.Content)

		case agent.MessageUsage:
			usage.AddTokens(msg.Usage.InputTokens, msg.Usage.OutputTokens)
			if msg.Usage.CostUSD > 0 {
				usage.EstimatedCost += msg.Usage.CostUSD
			} else {
				usage.EstimatedCost += float64(msg.Usage.InputTokens)*costPerInputToken +
					float64(msg.Usage.OutputTokens)*costPerOutputToken
			}
			dirty = true
			if err := persist(); err != nil {
				return err
			}
			dirty = false
			e.events.UsageUpdated(t.ID, st.Name,
				usage.InputTokens, usage.OutputTokens, usage.TotalTokens, usage.EstimatedCost)

			if err := e.checkBudget(t.ID, usage); err != nil {
				return err
			}
		}
	}
}

func (e *Executor) checkBudget(id string, usage task.Usage) error {
	limits := e.cfg.Limits
	if limits.MaxTokensPerTask > 0 && usage.TotalTokens > limits.MaxTokensPerTask {
		return aerrors.ErrBudgetExceeded(id,
			fmt.Sprintf("%d tokens over the %d token limit", usage.TotalTokens, limits.MaxTokensPerTask))
	}
	if limits.MaxCostPerTask > 0 && usage.EstimatedCost > limits.MaxCostPerTask {
		return aerrors.ErrBudgetExceeded(id,
			fmt.Sprintf("$%.2f over the $%.2f cost limit", usage.EstimatedCost, limits.MaxCostPerTask))
	}
	return nil
}

// workspaceFor resolves the stage working directory. Missing workspaces
// fall back to the task's project path.
func (e *Executor) workspaceFor(t *task.Task) (string, agent.WorkspaceEnv) {
	if e.workspaces == nil {
		return t.ProjectPath, agent.WorkspaceEnv{}
	}
	ws := e.workspaces.Get(t.ID)
	if ws == nil || ws.Path == "" {
		return t.ProjectPath, agent.WorkspaceEnv{}
	}
	return ws.Path, agent.WorkspaceEnv{WorkspacePath: ws.Path, ContainerID: ws.ContainerID}
}

func (e *Executor) modelFor(def *agent.Definition) string {
	if def.Model == "" {
		return ""
	}
	if mapped, ok := e.cfg.Models[def.Model]; ok {
		return mapped
	}
	return def.Model
}

// buildPrompt renders the stage prompt: the task, what done means, and the
// stage's purpose. The agent's system prompt travels separately on the
// invocation.
func buildPrompt(def *agent.Definition, st workflow.Stage, t *task.Task) string {
	var b strings.Builder
	b.WriteString("## Task\n\n")
	b.WriteString(t.Description)
	b.WriteString("\n")
	if t.AcceptanceCriteria != "" {
		b.WriteString("\n## Acceptance Criteria\n\n")
		b.WriteString(t.AcceptanceCriteria)
		b.WriteString("\n")
	}
	b.WriteString("\n## Current Stage: ")
	b.WriteString(st.Name)
	b.WriteString("\n")
	if st.Description != "" {
		b.WriteString("\n")
		b.WriteString(st.Description)
		b.WriteString("\n")
	}
	if def.Instructions != "" {
		b.WriteString("\n")
		b.WriteString(def.Instructions)
		b.WriteString("\n")
	}
	return b.String()
}

// CancelTask marks a task cancelled and releases its workspace without
// deleting work in progress. Terminal tasks return false.
func (e *Executor) CancelTask(ctx context.Context, id string) (bool, error) {
	t, err := e.store.GetTask(id)
	if err != nil {
		return false, err
	}
	if t.IsTerminal() {
		return false, nil
	}

	status := task.StatusCancelled
	if _, err := e.store.UpdateTask(id, store.TaskPatch{Status: &status}); err != nil {
		return false, err
	}

	if e.workspaces != nil {
		if err := e.workspaces.Release(id); err != nil {
			e.logger.Warn("workspace release failed", "task", id, "error", err)
		}
	}
	e.logger.Info("task cancelled", "task", id)
	return true, nil
}
