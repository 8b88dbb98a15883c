package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeReporter struct {
	mu    sync.Mutex
	calls []bool
	err   error
}

func (f *fakeReporter) UpdateOnlineStatus(_ context.Context, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, online)
	return f.err
}

func (f *fakeReporter) snapshot() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.calls...)
}

func fixedNow(t *Tracker, at time.Time) {
	t.now = func() time.Time { return at }
}

func TestDeriveThresholds(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		online   bool
		lastSeen time.Time
		want     Level
	}{
		{"online flag wins", true, now.Add(-2 * time.Hour), Online},
		{"4 minutes ago", false, now.Add(-4 * time.Minute), Recently},
		{"6 minutes ago", false, now.Add(-6 * time.Minute), Away},
		{"2 hours ago", false, now.Add(-2 * time.Hour), Offline},
		{"just under away cutoff", false, now.Add(-59 * time.Minute), Away},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(nil, DefaultThresholds(), time.Second, nil)
			fixedNow(tr, now)
			tr.Observe(9, tt.online, tt.lastSeen)
			if got := tr.Derive(9); got != tt.want {
				t.Errorf("Derive() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDeriveUnknownUserIsOffline(t *testing.T) {
	tr := NewTracker(nil, DefaultThresholds(), time.Second, nil)
	if got := tr.Derive(404); got != Offline {
		t.Errorf("Derive(unknown) = %s, want offline", got)
	}
}

func TestConfigurableThresholds(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(nil, Thresholds{Recently: 10 * time.Second, Away: 20 * time.Second}, time.Second, nil)
	fixedNow(tr, now)

	tr.Observe(9, false, now.Add(-15*time.Second))
	if got := tr.Derive(9); got != Away {
		t.Errorf("Derive() = %s, want away under tightened thresholds", got)
	}
}

func TestLastSeenMonotonic(t *testing.T) {
	tr := NewTracker(nil, DefaultThresholds(), time.Second, nil)
	newer := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	tr.Observe(9, true, newer)
	tr.Observe(9, false, older) // stale event must not regress last_seen

	got, ok := tr.LastSeen(9)
	if !ok || !got.Equal(newer) {
		t.Errorf("LastSeen = %v, want %v", got, newer)
	}
}

func TestHeartbeatBeatsAndStops(t *testing.T) {
	rep := &fakeReporter{}
	tr := NewTracker(rep, DefaultThresholds(), 20*time.Millisecond, nil)

	tr.StartHeartbeat(context.Background())
	time.Sleep(70 * time.Millisecond)
	tr.StopHeartbeat()

	calls := rep.snapshot()
	if len(calls) < 3 {
		t.Fatalf("got %d heartbeats, want at least 3", len(calls))
	}
	// Final call is the going-offline signal.
	if calls[len(calls)-1] != false {
		t.Error("last status update should be offline")
	}
	for _, online := range calls[:len(calls)-1] {
		if !online {
			t.Error("heartbeat reported offline")
		}
	}
}

func TestHeartbeatContinuesAfterFailure(t *testing.T) {
	rep := &fakeReporter{err: errors.New("boom")}
	tr := NewTracker(rep, DefaultThresholds(), 15*time.Millisecond, nil)

	tr.StartHeartbeat(context.Background())
	time.Sleep(60 * time.Millisecond)
	tr.StopHeartbeat()

	if len(rep.snapshot()) < 3 {
		t.Errorf("heartbeat should keep ticking through failures, got %d calls", len(rep.snapshot()))
	}
}

func TestStopWithoutStart(t *testing.T) {
	tr := NewTracker(&fakeReporter{}, DefaultThresholds(), time.Second, nil)
	tr.StopHeartbeat() // must not panic
}
