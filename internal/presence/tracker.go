package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Level is a participant's derived presence.
type Level string

const (
	Online   Level = "online"
	Recently Level = "recently"
	Away     Level = "away"
	Offline  Level = "offline"
)

// Reporter pushes the local user's online state to the server. The REST
// client implements it; failures are logged and never fatal.
type Reporter interface {
	UpdateOnlineStatus(ctx context.Context, online bool) error
}

// Thresholds drive presence derivation. They are policy, not mechanism:
// tests and deployments set their own values.
type Thresholds struct {
	Recently time.Duration // last seen within this -> "recently"
	Away     time.Duration // last seen within this -> "away"
}

// DefaultThresholds are the stock derivation windows.
func DefaultThresholds() Thresholds {
	return Thresholds{Recently: 5 * time.Minute, Away: 60 * time.Minute}
}

// Tracker owns all presence state: the local user's heartbeat and each
// remote participant's last-seen record. The conversation store reads
// derived levels for display but never mutates them.
type Tracker struct {
	mu      sync.Mutex
	entries map[int64]entry

	reporter   Reporter
	thresholds Thresholds
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

type entry struct {
	online   bool
	lastSeen time.Time
}

// NewTracker creates a tracker. interval is the heartbeat period.
func NewTracker(reporter Reporter, thresholds Thresholds, interval time.Duration, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		entries:    make(map[int64]entry),
		reporter:   reporter,
		thresholds: thresholds,
		interval:   interval,
		logger:     logger,
		now:        time.Now,
	}
}

// Observe records a presence push for a participant. LastSeen is
// monotonically non-decreasing: a stale event cannot move it backwards.
func (t *Tracker) Observe(userID int64, online bool, lastSeen time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entries[userID]
	e.online = online
	if lastSeen.After(e.lastSeen) {
		e.lastSeen = lastSeen
	}
	t.entries[userID] = e
}

// LastSeen returns the recorded last-seen time for a participant.
func (t *Tracker) LastSeen(userID int64) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[userID]
	return e.lastSeen, ok
}

// Derive maps a participant's state to a presence level:
// online if the server says so, otherwise by last-seen age.
func (t *Tracker) Derive(userID int64) Level {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[userID]
	if !ok {
		return Offline
	}
	if e.online {
		return Online
	}
	age := t.now().Sub(e.lastSeen)
	switch {
	case age < t.thresholds.Recently:
		return Recently
	case age < t.thresholds.Away:
		return Away
	default:
		return Offline
	}
}

// StartHeartbeat reports the local user online immediately and then on
// every interval tick until StopHeartbeat or ctx cancellation.
func (t *Tracker) StartHeartbeat(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		t.beat(ctx)

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.beat(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopHeartbeat cancels the heartbeat loop and sends a best-effort
// going-offline signal.
func (t *Tracker) StopHeartbeat() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil

	if t.reporter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := t.reporter.UpdateOnlineStatus(ctx, false); err != nil {
		t.logger.Warn("going-offline signal failed", zap.Error(err))
	}
}

func (t *Tracker) beat(ctx context.Context) {
	if t.reporter == nil {
		return
	}
	if err := t.reporter.UpdateOnlineStatus(ctx, true); err != nil {
		// Not fatal: the next tick tries again.
		t.logger.Warn("heartbeat failed", zap.Error(err))
	}
}
