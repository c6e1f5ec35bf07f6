package engine

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/qsync/internal/models"
)

// Refresh performs one full remote read and merges it. It returns false
// without reading when another refresh is already in flight.
func (e *Engine) Refresh(ctx context.Context) (bool, error) {
	if !e.refreshing.CompareAndSwap(false, true) {
		e.logger.Debug("refresh skipped, already in flight")
		return false, nil
	}
	defer e.refreshing.Store(false)

	// Changes made after this point are newer than anything the read can return.
	e.mu.Lock()
	since, gen := e.seq, e.gen
	e.mu.Unlock()

	records, err := e.gw.ReadAll(ctx)
	if err != nil {
		return true, fmt.Errorf("read all: %w", err)
	}
	e.merge(records, since, gen)
	return true, nil
}

// MergeBackgroundSnapshot reconciles a remote read that started when the
// engine sequence was since. A record keeps its local version while it has
// ledger entries or was changed locally after the read began; otherwise the
// remote version wins. Temp records are kept ahead of everything else.
func (e *Engine) MergeBackgroundSnapshot(remote []models.Query, since uint64) {
	e.mu.Lock()
	gen := e.gen
	e.mu.Unlock()
	e.merge(remote, since, gen)
}

func (e *Engine) merge(remote []models.Query, since, gen uint64) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		e.logger.Debug("discarding read from before logout", "records", len(remote))
		return
	}

	keepLocal := func(id string) bool {
		return e.ledger.has(id) || e.touched[id] > since
	}

	local := make(map[string]models.Query, len(e.records))
	var merged []models.Query
	for _, q := range e.records {
		if q.IsTemp() {
			merged = append(merged, q)
			continue
		}
		local[q.ID] = q
	}

	seen := make(map[string]bool, len(remote))
	for _, r := range remote {
		if r.ID == "" || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		if l, ok := local[r.ID]; ok && keepLocal(r.ID) {
			e.logger.Debug("merge conflict avoided", "record", r.ID, "pending", e.ledger.has(r.ID))
			merged = append(merged, l)
			continue
		}
		r.IsPending = false
		r.TempID = ""
		merged = append(merged, r)
	}

	// local rows the read did not return survive only while they have outstanding work
	for _, q := range e.records {
		if q.IsTemp() || seen[q.ID] {
			continue
		}
		if keepLocal(q.ID) {
			merged = append(merged, q)
		}
	}

	e.records = merged
	e.lastSynced = e.clock()
	for id, s := range e.touched {
		if s <= since && !e.ledger.has(id) {
			delete(e.touched, id)
		}
	}
	e.notifyLocked()
	view, seq := e.settledLocked(), e.seq
	e.mu.Unlock()

	e.persist(view, seq, gen)
}
