// Package capacity decides whether the daemon may run tasks right now.
//
// The monitor classifies wall time into day / night / off-hours windows,
// compares daily spend against the budget threshold for the active window,
// and caps concurrently active tasks per window. It also detects the
// moment capacity comes back (midnight budget reset, window switch, or
// usage dropping) and notifies subscribers so paused work resumes without
// waiting for the next poll.
package capacity

import (
	"log/slog"
	"sync"
	"time"
)

// Mode classifies a time window.
type Mode string

const (
	ModeDay      Mode = "day"
	ModeNight    Mode = "night"
	ModeOffHours Mode = "off-hours"
)

// Restoration reasons, in precedence order.
const (
	ReasonBudgetReset    = "budget_reset"
	ReasonModeSwitch     = "mode_switch"
	ReasonUsageDecreased = "usage_decreased"
)

// Window is a classified time window.
type Window struct {
	Mode      Mode `json:"mode"`
	StartHour int  `json:"start_hour"`
	EndHour   int  `json:"end_hour"`
}

// DailyUsage is the usage accumulated since local midnight.
type DailyUsage struct {
	TotalCost   float64 `json:"total_cost"`
	TotalTokens int     `json:"total_tokens"`
}

// UsageStatsProvider supplies the live numbers the monitor evaluates.
// The orchestrator implements it over the store.
type UsageStatsProvider interface {
	CurrentDailyUsage() DailyUsage
	ActiveTasks() int
	DailyBudget() float64
}

// Config is the time-based usage configuration.
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Hour sets (local clock, 0-23). An hour in both sets counts as day.
	// Hours in neither set are off-hours.
	DayModeHours   []int `yaml:"dayModeHours" json:"dayModeHours"`
	NightModeHours []int `yaml:"nightModeHours" json:"nightModeHours"`

	// Capacity thresholds as fractions of the daily budget.
	DayModeCapacityThreshold   float64 `yaml:"dayModeCapacityThreshold" json:"dayModeCapacityThreshold"`
	NightModeCapacityThreshold float64 `yaml:"nightModeCapacityThreshold" json:"nightModeCapacityThreshold"`

	// Per-mode active-task caps. Zero means unlimited.
	DayModeMaxActiveTasks   int `yaml:"dayModeMaxActiveTasks" json:"dayModeMaxActiveTasks"`
	NightModeMaxActiveTasks int `yaml:"nightModeMaxActiveTasks" json:"nightModeMaxActiveTasks"`
}

// DefaultConfig covers working hours as day mode and evenings as night.
func DefaultConfig() Config {
	return Config{
		Enabled:                    true,
		DayModeHours:               []int{9, 10, 11, 12, 13, 14, 15, 16, 17},
		NightModeHours:             []int{18, 19, 20, 21, 22, 23},
		DayModeCapacityThreshold:   0.5,
		NightModeCapacityThreshold: 0.9,
		DayModeMaxActiveTasks:      2,
		NightModeMaxActiveTasks:    4,
	}
}

// Restoration describes a paused-to-available transition.
type Restoration struct {
	Reason string `json:"reason"`
	// PreviousCapacity and NewCapacity are budget utilization fractions
	// (dailyCost / dailyBudget) before and after the transition.
	PreviousCapacity float64   `json:"previous_capacity"`
	NewCapacity      float64   `json:"new_capacity"`
	TimeWindow       Window    `json:"time_window"`
	Timestamp        time.Time `json:"timestamp"`
}

// decision is one evaluated pause verdict, kept for transition detection.
type decision struct {
	paused      bool
	mode        Mode
	day         int // year*1000 + yday, to spot midnight crossings
	utilization float64
	window      Window
	at          time.Time
}

// Monitor evaluates capacity and notifies subscribers on restoration.
type Monitor struct {
	cfg      Config
	provider UsageStatsProvider
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	last     *decision
	subs     []subscriber
	nextSub  int
	timer    *time.Timer
	timerGen int
}

type subscriber struct {
	id int
	cb func(Restoration)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a capacity monitor.
func NewMonitor(cfg Config, provider UsageStatsProvider, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:      cfg,
		provider: provider,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ClassifyWindow returns the window containing t. Overlapping hour sets
// resolve to day mode; hours in neither set are off-hours.
func (m *Monitor) ClassifyWindow(t time.Time) Window {
	hour := t.Hour()
	switch {
	case containsHour(m.cfg.DayModeHours, hour):
		return Window{Mode: ModeDay, StartHour: spanStart(m.cfg.DayModeHours, hour), EndHour: spanEnd(m.cfg.DayModeHours, hour)}
	case containsHour(m.cfg.NightModeHours, hour):
		return Window{Mode: ModeNight, StartHour: spanStart(m.cfg.NightModeHours, hour), EndHour: spanEnd(m.cfg.NightModeHours, hour)}
	default:
		return Window{Mode: ModeOffHours, StartHour: hour, EndHour: hour}
	}
}

// ShouldPauseTasks reports whether new task admissions must stop right now.
// Each call also re-evaluates restoration state.
func (m *Monitor) ShouldPauseTasks(now time.Time) bool {
	d := m.evaluate(now)
	return d.paused
}

// Evaluate runs one capacity evaluation at the current clock. Exposed so
// external triggers (usage updates) can refresh restoration state.
func (m *Monitor) Evaluate() bool {
	return m.ShouldPauseTasks(m.now())
}

// evaluate computes the pause decision, detects paused→not-paused
// transitions, and fires subscriber callbacks.
func (m *Monitor) evaluate(now time.Time) decision {
	window := m.ClassifyWindow(now)

	var utilization float64
	paused := false

	if !m.cfg.Enabled {
		// Monitoring disabled: never pause.
		d := m.swapDecision(decision{mode: window.Mode, day: dayKey(now), window: window, at: now})
		return d
	}

	if window.Mode == ModeOffHours {
		paused = true
	}

	usage := m.provider.CurrentDailyUsage()
	if budget := m.provider.DailyBudget(); budget > 0 {
		utilization = usage.TotalCost / budget
		if utilization >= m.threshold(window.Mode) {
			paused = true
		}
	}
	if maxTasks := m.maxActiveTasks(window.Mode); maxTasks > 0 && m.provider.ActiveTasks() > maxTasks {
		paused = true
	}

	return m.swapDecision(decision{
		paused:      paused,
		mode:        window.Mode,
		day:         dayKey(now),
		utilization: utilization,
		window:      window,
		at:          now,
	})
}

// swapDecision stores the new decision and emits a restoration when the
// previous one was paused and this one is not.
func (m *Monitor) swapDecision(next decision) decision {
	m.mu.Lock()
	prev := m.last
	m.last = &next
	var subs []subscriber
	restored := prev != nil && prev.paused && !next.paused
	if restored {
		subs = make([]subscriber, len(m.subs))
		copy(subs, m.subs)
	}
	m.mu.Unlock()

	if !restored {
		return next
	}

	r := Restoration{
		Reason:           restorationReason(*prev, next),
		PreviousCapacity: prev.utilization,
		NewCapacity:      next.utilization,
		TimeWindow:       next.window,
		Timestamp:        next.at,
	}
	m.logger.Info("capacity restored",
		"reason", r.Reason,
		"mode", next.mode,
		"utilization", next.utilization)

	for _, sub := range subs {
		m.notify(sub.cb, r)
	}
	return next
}

// notify invokes one callback, containing panics so the rest still run.
func (m *Monitor) notify(cb func(Restoration), r Restoration) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("capacity subscriber panicked", "panic", rec)
		}
	}()
	cb(r)
}

// restorationReason picks the reason by precedence: day change beats mode
// change beats usage decrease.
func restorationReason(prev, next decision) string {
	switch {
	case prev.day != next.day:
		return ReasonBudgetReset
	case prev.mode != next.mode:
		return ReasonModeSwitch
	default:
		return ReasonUsageDecreased
	}
}

// OnCapacityRestored registers a callback and returns its unsubscribe
// function. The internal evaluation timer runs while at least one
// subscriber is registered.
func (m *Monitor) OnCapacityRestored(cb func(Restoration)) func() {
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscriber{id: id, cb: cb})
	if len(m.subs) == 1 {
		m.scheduleLocked()
	}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.subs {
			if sub.id == id {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		if len(m.subs) == 0 && m.timer != nil {
			m.timer.Stop()
			m.timer = nil
			m.timerGen++
		}
	}
}

// scheduleLocked arms the timer for the next capacity-relevant moment:
// the earlier of the next mode switch and the next budget reset.
func (m *Monitor) scheduleLocked() {
	now := m.now()
	wait := m.TimeUntilModeSwitch(now)
	if reset := m.TimeUntilBudgetReset(now); reset < wait {
		wait = reset
	}
	// Small slack so the timer lands inside the new window, not on the
	// boundary.
	wait += 50 * time.Millisecond

	m.timerGen++
	gen := m.timerGen
	m.timer = time.AfterFunc(wait, func() {
		m.mu.Lock()
		live := gen == m.timerGen && len(m.subs) > 0
		m.mu.Unlock()
		if !live {
			return
		}
		m.evaluate(m.now())
		m.mu.Lock()
		if len(m.subs) > 0 && gen == m.timerGen {
			m.scheduleLocked()
		}
		m.mu.Unlock()
	})
}

// TimeUntilModeSwitch returns the duration until the window class next
// changes. At an exact boundary it returns the distance to the following
// transition, never zero.
func (m *Monitor) TimeUntilModeSwitch(now time.Time) time.Duration {
	current := m.ClassifyWindow(now).Mode
	// Scan hour boundaries up to 24h out; the class must change within a
	// day unless every hour maps to one class.
	next := time.Date(now.Year(), now.Month(), now.Day(), now.Hour()+1, 0, 0, 0, now.Location())
	for i := 0; i < 25; i++ {
		if m.ClassifyWindow(next).Mode != current {
			return next.Sub(now)
		}
		next = next.Add(time.Hour)
	}
	return next.Sub(now)
}

// TimeUntilBudgetReset returns the duration until the next local midnight.
// DST transitions are handled by letting time.Date normalise day+1.
func (m *Monitor) TimeUntilBudgetReset(now time.Time) time.Duration {
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	return midnight.Sub(now)
}

// CurrentUtilization returns dailyCost / dailyBudget, 0 when no budget set.
func (m *Monitor) CurrentUtilization() float64 {
	budget := m.provider.DailyBudget()
	if budget <= 0 {
		return 0
	}
	return m.provider.CurrentDailyUsage().TotalCost / budget
}

func (m *Monitor) threshold(mode Mode) float64 {
	if mode == ModeNight {
		return m.cfg.NightModeCapacityThreshold
	}
	return m.cfg.DayModeCapacityThreshold
}

func (m *Monitor) maxActiveTasks(mode Mode) int {
	if mode == ModeNight {
		return m.cfg.NightModeMaxActiveTasks
	}
	return m.cfg.DayModeMaxActiveTasks
}

func containsHour(hours []int, h int) bool {
	for _, v := range hours {
		if v == h {
			return true
		}
	}
	return false
}

// spanStart walks backwards from h to the first hour of the contiguous run
// containing it. Runs may wrap midnight, e.g. a night window of 22-6
// reports 22 at 01:00.
func spanStart(hours []int, h int) int {
	if len(hours) >= 24 {
		return 0
	}
	start := h
	for containsHour(hours, (start+23)%24) {
		start = (start + 23) % 24
	}
	return start
}

// spanEnd walks forwards from h to the last hour of the contiguous run,
// wrapping midnight like spanStart.
func spanEnd(hours []int, h int) int {
	if len(hours) >= 24 {
		return 23
	}
	end := h
	for containsHour(hours, (end+1)%24) {
		end = (end + 1) % 24
	}
	return end
}

func dayKey(t time.Time) int {
	return t.Year()*1000 + t.YearDay()
}
