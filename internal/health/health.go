// Package health supervises the daemon process: uptime, memory, goroutine
// count, restart history, and periodic threshold checks that surface as
// health:warning events.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/apexhq/apex/internal/events"
	"github.com/apexhq/apex/internal/store"
)

// Thresholds bound the periodic checks. Zero fields take the default.
type Thresholds struct {
	// MaxGoroutines warns when the goroutine count exceeds it.
	MaxGoroutines int
	// MaxHeapBytes warns when the Go heap exceeds it.
	MaxHeapBytes uint64
	// MaxSystemMemoryPercent warns when overall system memory use
	// exceeds it.
	MaxSystemMemoryPercent float64
}

// DefaultThresholds returns the built-in limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxGoroutines:          5000,
		MaxHeapBytes:           1 << 30,
		MaxSystemMemoryPercent: 90,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.MaxGoroutines <= 0 {
		t.MaxGoroutines = d.MaxGoroutines
	}
	if t.MaxHeapBytes == 0 {
		t.MaxHeapBytes = d.MaxHeapBytes
	}
	if t.MaxSystemMemoryPercent <= 0 {
		t.MaxSystemMemoryPercent = d.MaxSystemMemoryPercent
	}
	return t
}

// Status is one health snapshot.
type Status struct {
	Healthy   bool      `json:"healthy"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`

	Goroutines    int    `json:"goroutines"`
	HeapBytes     uint64 `json:"heap_bytes"`
	HeapSysBytes  uint64 `json:"heap_sys_bytes"`
	ProcessRSS    uint64 `json:"process_rss_bytes"`
	SystemMemPct  float64 `json:"system_memory_percent"`
	ProcessCPUPct float64 `json:"process_cpu_percent"`

	RestartCount24h int                  `json:"restart_count_24h"`
	Restarts        []store.DaemonRestart `json:"restarts,omitempty"`

	Warnings  []string  `json:"warnings,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Monitor runs periodic health checks against the daemon process.
type Monitor struct {
	store      *store.Store
	events     *events.PublishHelper
	logger     *slog.Logger
	interval   time.Duration
	thresholds Thresholds

	pid       int
	startedAt time.Time
	proc      *process.Process

	mu      sync.Mutex
	last    *Status
	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPublisher sets the event publisher for health warnings.
func WithPublisher(p events.Publisher) Option {
	return func(m *Monitor) { m.events = events.NewPublishHelper(p) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithInterval sets the check cadence.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithThresholds overrides the warning limits.
func WithThresholds(t Thresholds) Option {
	return func(m *Monitor) { m.thresholds = t }
}

// New creates a health monitor for the current process.
func New(st *store.Store, opts ...Option) *Monitor {
	m := &Monitor{
		store:      st,
		events:     events.NewPublishHelper(nil),
		logger:     slog.Default(),
		interval:   30 * time.Second,
		thresholds: DefaultThresholds(),
		pid:        os.Getpid(),
		startedAt:  time.Now(),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.thresholds = m.thresholds.withDefaults()
	if proc, err := process.NewProcess(int32(m.pid)); err == nil {
		m.proc = proc
	}
	return m
}

// Start records the daemon start and launches the check loop.
func (m *Monitor) Start(ctx context.Context, reason string) error {
	if reason == "" {
		reason = "startup"
	}
	if err := m.store.RecordRestart(m.pid, reason); err != nil {
		return fmt.Errorf("record daemon start: %w", err)
	}

	m.Check()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.Check()
			}
		}
	}()
	return nil
}

// Stop halts the check loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stop)
	m.wg.Wait()
}

// Check runs one health evaluation and returns the snapshot. Threshold
// breaches emit health:warning events.
func (m *Monitor) Check() Status {
	now := time.Now()
	st := Status{
		PID:       m.pid,
		StartedAt: m.startedAt,
		Uptime:    now.Sub(m.startedAt).Round(time.Second).String(),
		CheckedAt: now,
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	st.Goroutines = runtime.NumGoroutine()
	st.HeapBytes = ms.HeapAlloc
	st.HeapSysBytes = ms.Sys

	if m.proc != nil {
		if info, err := m.proc.MemoryInfo(); err == nil && info != nil {
			st.ProcessRSS = info.RSS
		}
		if pct, err := m.proc.CPUPercent(); err == nil {
			st.ProcessCPUPct = pct
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		st.SystemMemPct = vm.UsedPercent
	}

	// The restart query doubles as the store liveness probe.
	restarts, err := m.store.ListRestarts(now.Add(-24 * time.Hour))
	if err != nil {
		st.Warnings = append(st.Warnings, fmt.Sprintf("store unreachable: %v", err))
	} else {
		st.RestartCount24h = len(restarts)
		st.Restarts = restarts
	}

	if st.Goroutines > m.thresholds.MaxGoroutines {
		st.Warnings = append(st.Warnings,
			fmt.Sprintf("goroutine count %d exceeds %d", st.Goroutines, m.thresholds.MaxGoroutines))
	}
	if st.HeapBytes > m.thresholds.MaxHeapBytes {
		st.Warnings = append(st.Warnings,
			fmt.Sprintf("heap %d bytes exceeds %d", st.HeapBytes, m.thresholds.MaxHeapBytes))
	}
	if st.SystemMemPct > m.thresholds.MaxSystemMemoryPercent {
		st.Warnings = append(st.Warnings,
			fmt.Sprintf("system memory at %.1f%%", st.SystemMemPct))
	}
	st.Healthy = len(st.Warnings) == 0

	for _, w := range st.Warnings {
		m.events.HealthWarning("health-monitor", w)
		m.logger.Warn("health threshold breached", "warning", w)
	}

	m.mu.Lock()
	m.last = &st
	m.mu.Unlock()
	return st
}

// Status returns the latest snapshot, running a check when none exists.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	last := m.last
	m.mu.Unlock()
	if last == nil {
		return m.Check()
	}
	return *last
}

// Uptime reports time since the monitor was created.
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.startedAt)
}
