package capacity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a mutable UsageStatsProvider for tests.
type fakeProvider struct {
	cost   float64
	tokens int
	active int
	budget float64
}

func (f *fakeProvider) CurrentDailyUsage() DailyUsage {
	return DailyUsage{TotalCost: f.cost, TotalTokens: f.tokens}
}
func (f *fakeProvider) ActiveTasks() int     { return f.active }
func (f *fakeProvider) DailyBudget() float64 { return f.budget }

func testConfig() Config {
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

func at(hour, min int) time.Time {
	return time.Date(2026, 8, 25, hour, min, 0, 0, time.Local)
}

func TestClassifyWindow(t *testing.T) {
	t.Parallel()
	m := NewMonitor(testConfig(), &fakeProvider{budget: 100})

	assert.Equal(t, ModeDay, m.ClassifyWindow(at(9, 0)).Mode)
	assert.Equal(t, ModeDay, m.ClassifyWindow(at(17, 59)).Mode)
	assert.Equal(t, ModeNight, m.ClassifyWindow(at(18, 0)).Mode)
	assert.Equal(t, ModeNight, m.ClassifyWindow(at(23, 30)).Mode)
	assert.Equal(t, ModeOffHours, m.ClassifyWindow(at(3, 0)).Mode)
	assert.Equal(t, ModeOffHours, m.ClassifyWindow(at(8, 59)).Mode)
}

func TestClassifyWindow_OverlapPrefersDay(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.NightModeHours = append(cfg.NightModeHours, 17)
	m := NewMonitor(cfg, &fakeProvider{budget: 100})

	assert.Equal(t, ModeDay, m.ClassifyWindow(at(17, 15)).Mode)
}

func TestClassifyWindow_SpanBounds(t *testing.T) {
	t.Parallel()
	m := NewMonitor(testConfig(), &fakeProvider{budget: 100})

	w := m.ClassifyWindow(at(12, 0))
	assert.Equal(t, 9, w.StartHour)
	assert.Equal(t, 17, w.EndHour)
}

func TestClassifyWindow_SpanBoundsWrapMidnight(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	// Night window 22-6 crosses midnight; hours stored sorted.
	cfg.NightModeHours = []int{0, 1, 2, 3, 4, 5, 6, 22, 23}
	m := NewMonitor(cfg, &fakeProvider{budget: 100})

	for _, hour := range []int{22, 1, 6} {
		w := m.ClassifyWindow(at(hour, 0))
		assert.Equal(t, ModeNight, w.Mode, "hour %d", hour)
		assert.Equal(t, 22, w.StartHour, "hour %d", hour)
		assert.Equal(t, 6, w.EndHour, "hour %d", hour)
	}
}

func TestShouldPauseTasks_OffHours(t *testing.T) {
	t.Parallel()
	m := NewMonitor(testConfig(), &fakeProvider{budget: 100})

	assert.True(t, m.ShouldPauseTasks(at(3, 0)))
	assert.False(t, m.ShouldPauseTasks(at(10, 0)))
}

func TestShouldPauseTasks_BudgetThreshold(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{budget: 100}
	m := NewMonitor(testConfig(), p)

	p.cost = 49
	assert.False(t, m.ShouldPauseTasks(at(10, 0)), "below day threshold")
	p.cost = 50
	assert.True(t, m.ShouldPauseTasks(at(10, 0)), "at day threshold (0.5)")

	// Night mode tolerates more of the budget.
	p.cost = 89
	assert.False(t, m.ShouldPauseTasks(at(20, 0)))
	p.cost = 90
	assert.True(t, m.ShouldPauseTasks(at(20, 0)))
}

func TestShouldPauseTasks_ActiveTaskCap(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{budget: 100, active: 3}
	m := NewMonitor(testConfig(), p)

	assert.True(t, m.ShouldPauseTasks(at(10, 0)), "3 active over day cap of 2")
	assert.False(t, m.ShouldPauseTasks(at(20, 0)), "3 active under night cap of 4")
}

func TestShouldPauseTasks_Disabled(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Enabled = false
	p := &fakeProvider{budget: 100, cost: 100, active: 50}
	m := NewMonitor(cfg, p)

	assert.False(t, m.ShouldPauseTasks(at(3, 0)))
}

func TestTimeUntilModeSwitch(t *testing.T) {
	t.Parallel()
	m := NewMonitor(testConfig(), &fakeProvider{budget: 100})

	// 17:30 day → night at 18:00.
	assert.Equal(t, 30*time.Minute, m.TimeUntilModeSwitch(at(17, 30)))

	// Exactly at the 18:00 boundary the next switch is midnight (night →
	// off-hours), never zero.
	d := m.TimeUntilModeSwitch(at(18, 0))
	assert.Equal(t, 6*time.Hour, d)
	assert.NotZero(t, d)
}

func TestTimeUntilBudgetReset(t *testing.T) {
	t.Parallel()
	m := NewMonitor(testConfig(), &fakeProvider{budget: 100})

	assert.Equal(t, 12*time.Hour, m.TimeUntilBudgetReset(at(12, 0)))

	almostMidnight := time.Date(2026, 8, 25, 23, 59, 59, 999000000, time.Local)
	assert.Equal(t, time.Millisecond, m.TimeUntilBudgetReset(almostMidnight))
}

func TestRestoration_UsageDecreased(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{budget: 100, cost: 60}
	m := NewMonitor(testConfig(), p)

	var got []Restoration
	unsub := m.OnCapacityRestored(func(r Restoration) { got = append(got, r) })
	defer unsub()

	require.True(t, m.ShouldPauseTasks(at(10, 0)))
	assert.Empty(t, got, "still paused, no restoration")

	p.cost = 10
	require.False(t, m.ShouldPauseTasks(at(10, 5)))
	require.Len(t, got, 1)
	assert.Equal(t, ReasonUsageDecreased, got[0].Reason)
	assert.InDelta(t, 0.6, got[0].PreviousCapacity, 1e-9)
	assert.InDelta(t, 0.1, got[0].NewCapacity, 1e-9)
	assert.Equal(t, ModeDay, got[0].TimeWindow.Mode)
}

func TestRestoration_ModeSwitch(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{budget: 100, cost: 60}
	m := NewMonitor(testConfig(), p)

	var got []Restoration
	unsub := m.OnCapacityRestored(func(r Restoration) { got = append(got, r) })
	defer unsub()

	// 60% spend pauses day mode (threshold 0.5) but not night (0.9).
	require.True(t, m.ShouldPauseTasks(at(17, 0)))
	require.False(t, m.ShouldPauseTasks(at(18, 1)))
	require.Len(t, got, 1)
	assert.Equal(t, ReasonModeSwitch, got[0].Reason)
}

func TestRestoration_BudgetResetWinsPrecedence(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{budget: 100, cost: 95}
	m := NewMonitor(testConfig(), p)

	var got []Restoration
	unsub := m.OnCapacityRestored(func(r Restoration) { got = append(got, r) })
	defer unsub()

	// Paused at 23:00 (over night threshold). Next day the spend counter
	// is back to zero; mode also changed, but the day change wins.
	require.True(t, m.ShouldPauseTasks(time.Date(2026, 8, 25, 23, 0, 0, 0, time.Local)))
	p.cost = 0
	require.False(t, m.ShouldPauseTasks(time.Date(2026, 8, 26, 10, 0, 0, 0, time.Local)))
	require.Len(t, got, 1)
	assert.Equal(t, ReasonBudgetReset, got[0].Reason)
}

func TestRestoration_PanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{budget: 100, cost: 60}
	m := NewMonitor(testConfig(), p)

	var order []string
	unsub1 := m.OnCapacityRestored(func(Restoration) {
		order = append(order, "first")
		panic("boom")
	})
	defer unsub1()
	unsub2 := m.OnCapacityRestored(func(Restoration) { order = append(order, "second") })
	defer unsub2()

	require.True(t, m.ShouldPauseTasks(at(10, 0)))
	p.cost = 0
	require.False(t, m.ShouldPauseTasks(at(10, 5)))

	assert.Equal(t, []string{"first", "second"}, order, "registration order, panic contained")
}

func TestOnCapacityRestored_Unsubscribe(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{budget: 100, cost: 60}
	m := NewMonitor(testConfig(), p)

	calls := 0
	unsub := m.OnCapacityRestored(func(Restoration) { calls++ })

	require.True(t, m.ShouldPauseTasks(at(10, 0)))
	unsub()
	p.cost = 0
	require.False(t, m.ShouldPauseTasks(at(10, 5)))
	assert.Zero(t, calls)
}
