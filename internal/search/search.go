package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/matpinto/courtline/internal/rest"
	"go.uber.org/zap"
)

const (
	// DefaultDebounce is how long input must be quiet before a query
	// goes out.
	DefaultDebounce = 300 * time.Millisecond

	// minQueryLen gates the directory: shorter input clears results
	// without hitting the server.
	minQueryLen = 2
)

// PlayerSearcher queries the player directory.
type PlayerSearcher interface {
	SearchPlayers(ctx context.Context, query string) ([]rest.Player, error)
}

// Result is what the UI renders: the query it answers plus the players
// found. Err is set when the lookup failed.
type Result struct {
	Query   string
	Players []rest.Player
	Err     error
}

// Debouncer turns a stream of keystrokes into directory lookups. Each
// Input call restarts the quiet timer; when a query finally fires, a
// generation counter makes sure a slow response for an old query can
// never overwrite results for a newer one.
type Debouncer struct {
	searcher PlayerSearcher
	deliver  func(Result)
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending string
	gen     uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a debouncer. deliver is invoked from a background
// goroutine; debounce <= 0 selects DefaultDebounce.
func New(searcher PlayerSearcher, deliver func(Result), debounce time.Duration, logger *zap.Logger) *Debouncer {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer{
		searcher: searcher,
		deliver:  deliver,
		debounce: debounce,
		logger:   logger.Named("search"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Input feeds the current contents of the search box. Trailing space is
// ignored; input under two characters clears results immediately and
// invalidates any in-flight query.
func (d *Debouncer) Input(query string) {
	query = strings.TrimSpace(query)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	if len(query) < minQueryLen {
		go d.deliver(Result{Query: query})
		return
	}

	gen := d.gen
	d.pending = query
	d.timer = time.AfterFunc(d.debounce, func() {
		d.run(gen, query)
	})
}

// Flush fires the pending query immediately. Used when the user hits
// enter instead of waiting out the debounce.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer.Stop()
	d.timer = nil
	gen, query := d.gen, d.pending
	d.mu.Unlock()

	go d.run(gen, query)
}

// Close invalidates all pending and in-flight work.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.mu.Unlock()
	d.cancel()
}

func (d *Debouncer) run(gen uint64, query string) {
	players, err := d.searcher.SearchPlayers(d.ctx, query)

	d.mu.Lock()
	stale := gen != d.gen
	d.mu.Unlock()
	if stale {
		d.logger.Debug("dropping stale results", zap.String("query", query))
		return
	}

	if err != nil {
		d.deliver(Result{Query: query, Err: err})
		return
	}
	d.deliver(Result{Query: query, Players: players})
}
