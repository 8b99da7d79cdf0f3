package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/apexhq/apex/internal/store"
)

const (
	// Buffer flushes when it reaches this size
	bufferSizeThreshold = 10
	// Buffer flushes automatically every 5 seconds
	flushInterval = 5 * time.Second
)

// Sink persists event batches. *store.Store satisfies it.
type Sink interface {
	SaveEvents(rows []*store.EventLog) error
}

// PersistentPublisher wraps MemoryPublisher and adds database persistence.
// Subscribers still get real-time delivery; rows are batched into the
// event_log table in the background.
type PersistentPublisher struct {
	inner       *MemoryPublisher
	sink        Sink
	source      string
	buffer      []*store.EventLog
	bufferMu    sync.Mutex
	flushTicker *time.Ticker
	stageStarts map[string]time.Time // key: "taskID:stage"
	startsMu    sync.Mutex
	logger      *slog.Logger
	stopCh      chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// NewPersistentPublisher creates a new persistent event publisher.
// The source parameter identifies where events originate (e.g., "executor", "api").
func NewPersistentPublisher(sink Sink, source string, logger *slog.Logger, opts ...PublisherOption) *PersistentPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	p := &PersistentPublisher{
		inner:       NewMemoryPublisher(opts...),
		sink:        sink,
		source:      source,
		buffer:      make([]*store.EventLog, 0, bufferSizeThreshold),
		stageStarts: make(map[string]time.Time),
		logger:      logger,
		stopCh:      make(chan struct{}),
	}

	p.flushTicker = time.NewTicker(flushInterval)
	p.wg.Add(1)
	go p.flushLoop()

	return p
}

// Publish sends an event to subscribers and persists it to the database.
func (p *PersistentPublisher) Publish(event Event) {
	// Real-time delivery first
	p.inner.Publish(event)

	if p.sink == nil {
		return
	}

	p.bufferMu.Lock()
	p.buffer = append(p.buffer, p.eventToRow(event))
	shouldFlush := len(p.buffer) >= bufferSizeThreshold
	p.bufferMu.Unlock()

	if shouldFlush {
		p.flush()
	}

	p.trackStageStart(event)

	// Flush on stage completion so the duration is persisted promptly
	if isStageCompletion(event) {
		p.flush()
	}
}

// Subscribe returns a channel that receives events for the given task.
func (p *PersistentPublisher) Subscribe(taskID string) <-chan Event {
	return p.inner.Subscribe(taskID)
}

// Unsubscribe removes a subscription channel.
func (p *PersistentPublisher) Unsubscribe(taskID string, ch <-chan Event) {
	p.inner.Unsubscribe(taskID, ch)
}

// Close flushes remaining events and shuts the publisher down.
// Close is idempotent and safe to call multiple times.
func (p *PersistentPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.stopCh)
		p.flushTicker.Stop()
		p.wg.Wait()
		p.flush()
		p.inner.Close()
	})
}

// flushLoop runs in the background and flushes the buffer on each tick.
func (p *PersistentPublisher) flushLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.flushTicker.C:
			p.flush()
		case <-p.stopCh:
			return
		}
	}
}

// flush writes buffered events to the database in a single batch.
func (p *PersistentPublisher) flush() {
	p.bufferMu.Lock()
	if len(p.buffer) == 0 {
		p.bufferMu.Unlock()
		return
	}
	toFlush := p.buffer
	p.buffer = make([]*store.EventLog, 0, bufferSizeThreshold)
	p.bufferMu.Unlock()

	// Write outside the lock. Failures are logged and dropped so a broken
	// database cannot grow the buffer without bound.
	if err := p.sink.SaveEvents(toFlush); err != nil {
		p.logger.Error("failed to persist events", "error", err, "count", len(toFlush))
	}
}

// eventToRow converts an Event to an event_log row.
func (p *PersistentPublisher) eventToRow(e Event) *store.EventLog {
	var stage *string
	var durationMs *int64

	switch data := e.Data.(type) {
	case StageUpdate:
		stage = &data.Stage
		if data.Status == "completed" {
			if start := p.takeStageStart(e.TaskID, data.Stage); start != nil {
				ms := e.Time.Sub(*start).Milliseconds()
				durationMs = &ms
			}
		}
	case AgentOutput:
		stage = &data.Stage
	case ToolCall:
		stage = &data.Stage
	case ToolOutcome:
		stage = &data.Stage
	case GateUpdate:
		stage = &data.Stage
	case UsageData:
		if data.Stage != "" {
			stage = &data.Stage
		}
	case LogEntry:
		if data.Stage != "" {
			stage = &data.Stage
		}
	case FailureData:
		if data.Stage != "" {
			stage = &data.Stage
		}
	case ResumeData:
		if data.Stage != "" {
			stage = &data.Stage
		}
	}

	return &store.EventLog{
		TaskID:     e.TaskID,
		Stage:      stage,
		EventType:  string(e.Type),
		Data:       e.Data,
		Source:     p.source,
		CreatedAt:  e.Time,
		DurationMs: durationMs,
	}
}

// trackStageStart records when a stage starts for duration calculation.
func (p *PersistentPublisher) trackStageStart(e Event) {
	update, ok := e.Data.(StageUpdate)
	if !ok || update.Status != "started" {
		return
	}
	p.startsMu.Lock()
	p.stageStarts[e.TaskID+":"+update.Stage] = e.Time
	p.startsMu.Unlock()
}

// takeStageStart retrieves the start time for a stage and removes the entry.
func (p *PersistentPublisher) takeStageStart(taskID, stage string) *time.Time {
	key := taskID + ":" + stage
	p.startsMu.Lock()
	defer p.startsMu.Unlock()

	if t, ok := p.stageStarts[key]; ok {
		delete(p.stageStarts, key)
		return &t
	}
	return nil
}

// isStageCompletion returns true if this event marks stage completion.
func isStageCompletion(e Event) bool {
	update, ok := e.Data.(StageUpdate)
	return ok && update.Status == "completed"
}
