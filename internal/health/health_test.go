package health

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/apexhq/apex/internal/events"
	"github.com/apexhq/apex/internal/store"
)

func TestCheck_Snapshot(t *testing.T) {
	st := store.NewTestStore(t)
	m := New(st)

	got := m.Check()
	if got.PID != os.Getpid() {
		t.Errorf("pid = %d, want %d", got.PID, os.Getpid())
	}
	if got.Goroutines <= 0 {
		t.Error("goroutine count should be positive")
	}
	if got.HeapBytes == 0 {
		t.Error("heap bytes should be populated")
	}
	if !got.Healthy {
		t.Errorf("fresh process should be healthy, warnings: %v", got.Warnings)
	}
	if got.CheckedAt.IsZero() {
		t.Error("CheckedAt should be set")
	}
}

func TestStart_RecordsRestartHistory(t *testing.T) {
	st := store.NewTestStore(t)
	m := New(st, WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx, "test boot"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	status := m.Status()
	if status.RestartCount24h != 1 {
		t.Errorf("restart count = %d, want 1", status.RestartCount24h)
	}
	if len(status.Restarts) != 1 || status.Restarts[0].Reason != "test boot" {
		t.Errorf("restarts = %+v", status.Restarts)
	}
}

func TestCheck_ThresholdWarnings(t *testing.T) {
	st := store.NewTestStore(t)
	pub := events.NewMemoryPublisher()
	t.Cleanup(pub.Close)
	ch := pub.Subscribe(events.GlobalTaskID)

	m := New(st,
		WithPublisher(pub),
		WithThresholds(Thresholds{MaxGoroutines: 1, MaxHeapBytes: 1, MaxSystemMemoryPercent: 0.001}),
	)

	got := m.Check()
	if got.Healthy {
		t.Fatal("tiny thresholds should mark the process unhealthy")
	}
	if len(got.Warnings) < 2 {
		t.Fatalf("warnings = %v, want goroutine and heap breaches", got.Warnings)
	}

	warned := false
	for {
		var done bool
		select {
		case ev := <-ch:
			if ev.Type == events.EventHealthWarning {
				warned = true
			}
		default:
			done = true
		}
		if done {
			break
		}
	}
	if !warned {
		t.Error("expected health:warning events")
	}
}

func TestStatus_LazyCheck(t *testing.T) {
	st := store.NewTestStore(t)
	m := New(st)

	status := m.Status()
	if status.CheckedAt.IsZero() {
		t.Error("Status should run a check when none exists")
	}
}

func TestThresholds_Defaults(t *testing.T) {
	got := Thresholds{}.withDefaults()
	want := DefaultThresholds()
	if got != want {
		t.Errorf("withDefaults = %+v, want %+v", got, want)
	}

	partial := Thresholds{MaxGoroutines: 10}.withDefaults()
	if partial.MaxGoroutines != 10 || partial.MaxHeapBytes != want.MaxHeapBytes {
		t.Errorf("partial defaults = %+v", partial)
	}
}

func TestUptimeGrows(t *testing.T) {
	st := store.NewTestStore(t)
	m := New(st)
	time.Sleep(5 * time.Millisecond)
	if m.Uptime() <= 0 {
		t.Error("uptime should be positive")
	}
	if !strings.Contains(m.Check().Uptime, "s") {
		t.Errorf("uptime string = %q", m.Check().Uptime)
	}
}
