// Package engine is the synchronization engine of a qsync client. It is the
// only component that mutates the client's snapshot: every operation is
// applied optimistically, sent to the remote gateway, then confirmed or rolled
// back. A background refresher merges full remote reads without overwriting
// records that still have outstanding work.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kilupskalvis/qsync/internal/cache"
	"github.com/kilupskalvis/qsync/internal/lifecycle"
	"github.com/kilupskalvis/qsync/internal/models"
	"github.com/kilupskalvis/qsync/internal/remote"
)

// DefaultRefreshInterval is the background read period used when none is configured.
const DefaultRefreshInterval = 30 * time.Second

// Options configures an Engine. The zero value is usable.
type Options struct {
	Cache           cache.Cache // optional, best-effort
	Logger          *slog.Logger
	Clock           func() time.Time
	RefreshInterval time.Duration
	RejectPolicy    lifecycle.RejectPolicy

	// Observer receives a copy of the snapshot after every change. It runs
	// with the engine lock held and must not block or call back into the engine.
	Observer func(models.Snapshot)
}

// Engine owns the snapshot and the pending action ledger.
type Engine struct {
	gw       remote.Gateway
	cache    cache.Cache
	logger   *slog.Logger
	clock    func() time.Time
	interval time.Duration
	policy   lifecycle.RejectPolicy
	observer func(models.Snapshot)

	mu         sync.Mutex
	records    []models.Query
	lastSynced time.Time
	ledger     *ledger
	seq        uint64            // bumped on every local change
	touched    map[string]uint64 // record id -> seq of its latest local change
	gen        uint64            // bumped by Logout; work started in an older session settles silently

	refreshing atomic.Bool

	cacheMu   sync.Mutex
	cachedSeq uint64
	cacheGen  uint64

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine bound to gw.
func New(gw remote.Gateway, opts Options) *Engine {
	e := &Engine{
		gw:       gw,
		cache:    opts.Cache,
		logger:   opts.Logger,
		clock:    opts.Clock,
		interval: opts.RefreshInterval,
		policy:   opts.RejectPolicy,
		observer: opts.Observer,
		ledger:   newLedger(),
		touched:  make(map[string]uint64),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.interval <= 0 {
		e.interval = DefaultRefreshInterval
	}
	if e.policy == "" {
		e.policy = lifecycle.RejectToEarliest
	}
	return e
}

// Snapshot returns an independent copy of the current snapshot.
func (e *Engine) Snapshot() models.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// PendingCount returns the number of unconfirmed optimistic actions.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.pending()
}

// Syncing reports whether a background read is in flight.
func (e *Engine) Syncing() bool {
	return e.refreshing.Load()
}

// Interval returns the background refresh period.
func (e *Engine) Interval() time.Duration {
	return e.interval
}

// SetObserver replaces the observer. The same constraints as Options.Observer apply.
func (e *Engine) SetObserver(fn func(models.Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = fn
}

// Emit delivers the current snapshot to the observer.
func (e *Engine) Emit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifyLocked()
}

func (e *Engine) snapshotLocked() models.Snapshot {
	return models.Snapshot{Records: e.records, LastSyncedAt: e.lastSynced}.Clone()
}

func (e *Engine) notifyLocked() {
	if e.observer != nil {
		e.observer(e.snapshotLocked())
	}
}

func (e *Engine) indexLocked(id string) int {
	for i := range e.records {
		if e.records[i].ID == id {
			return i
		}
	}
	return -1
}

// bumpLocked records a local change to id and returns the new sequence.
func (e *Engine) bumpLocked(id string) uint64 {
	e.seq++
	e.touched[id] = e.seq
	return e.seq
}

// settledLocked is the view written to the durable cache: no temp records,
// and records with outstanding actions at their last settled state.
func (e *Engine) settledLocked() models.Snapshot {
	out := models.Snapshot{LastSyncedAt: e.lastSynced, Records: make([]models.Query, 0, len(e.records))}
	for _, q := range e.records {
		if q.IsTemp() {
			continue
		}
		if base, ok := e.ledger.base(q.ID); ok {
			q = base
		}
		q.IsPending = false
		out.Records = append(out.Records, q)
	}
	return out
}

// persist writes a settled view captured at seq in session gen. Older views
// never overwrite newer ones, and views from before a logout are discarded.
func (e *Engine) persist(view models.Snapshot, seq, gen uint64) {
	if e.cache == nil {
		return
	}
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if gen != e.cacheGen || seq < e.cachedSeq {
		return
	}
	if err := e.cache.Save(view); err != nil {
		e.logger.Warn("cache save failed", "error", err)
		return
	}
	e.cachedSeq = seq
}

// Seed loads the durable cache into an empty snapshot. It reports whether
// anything was loaded. Cache errors are logged and ignored.
func (e *Engine) Seed() bool {
	if e.cache == nil {
		return false
	}
	snap, err := e.cache.Load()
	if err != nil {
		e.logger.Warn("cache load failed", "error", err)
		return false
	}
	if snap == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.records) > 0 {
		return false
	}
	e.records = snap.Clone().Records
	e.lastSynced = snap.LastSyncedAt
	e.logger.Debug("seeded from cache", "records", len(e.records))
	e.notifyLocked()
	return true
}

// Start runs the background refresher until ctx is done or Stop is called.
// The first refresh happens immediately.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			if _, err := e.Refresh(ctx); err != nil && ctx.Err() == nil {
				e.logger.Warn("background refresh failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the background refresher and waits for it to exit.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.runMu.Unlock()

	if cancel != nil {
		cancel()
		e.wg.Wait()
	}
}

// Logout stops the refresher, clears the durable cache and empties the snapshot.
func (e *Engine) Logout() error {
	e.Stop()

	e.mu.Lock()
	e.records = nil
	e.lastSynced = time.Time{}
	e.ledger.clear()
	e.touched = make(map[string]uint64)
	e.seq++
	e.gen++
	seq, gen := e.seq, e.gen
	e.notifyLocked()
	e.mu.Unlock()

	if e.cache == nil {
		return nil
	}
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.cachedSeq = seq
	e.cacheGen = gen
	return e.cache.Clear()
}
