package engine

import (
	"github.com/google/uuid"

	"github.com/kilupskalvis/qsync/internal/lifecycle"
	"github.com/kilupskalvis/qsync/internal/models"
)

// entry is one ledger slot: the bookkeeping action plus the request needed
// to recompute its delta during a replay.
type entry struct {
	action models.PendingAction
	req    lifecycle.MutationRequest

	// dropped is set when a rollback replay found the action no longer
	// applies. The entry is then out of the ledger.
	dropped error
}

// ledger keeps, per record, the ordered actions that are either in flight or
// confirmed behind an action that is still in flight. The first entry's
// Before is the last state known to be settled remotely.
type ledger struct {
	byRecord map[string][]*entry
}

func newLedger() *ledger {
	return &ledger{byRecord: make(map[string][]*entry)}
}

func (l *ledger) push(recordID string, req lifecycle.MutationRequest, before *models.Query, seq uint64) *entry {
	if before != nil {
		b := *before
		b.IsPending = false
		before = &b
	}
	e := &entry{
		action: models.PendingAction{
			ID:        uuid.NewString(),
			RecordID:  recordID,
			Kind:      req.Kind,
			CreatedAt: req.At,
			Seq:       seq,
			Before:    before,
		},
		req: req,
	}
	l.byRecord[recordID] = append(l.byRecord[recordID], e)
	return e
}

func (l *ledger) has(recordID string) bool {
	return len(l.byRecord[recordID]) > 0
}

func (l *ledger) entries(recordID string) []*entry {
	return l.byRecord[recordID]
}

// base returns the settled state the record's outstanding actions started from.
func (l *ledger) base(recordID string) (models.Query, bool) {
	list := l.byRecord[recordID]
	if len(list) == 0 || list[0].action.Before == nil {
		return models.Query{}, false
	}
	return *list[0].action.Before, true
}

// confirm marks an action confirmed and drops the confirmed prefix. It
// returns the number of entries left and whether the action was found.
func (l *ledger) confirm(recordID, actionID string) (int, bool) {
	list := l.byRecord[recordID]
	found := false
	for _, e := range list {
		if e.action.ID == actionID {
			e.action.Confirmed = true
			found = true
			break
		}
	}
	if !found {
		return len(list), false
	}
	return l.set(recordID, dropConfirmed(list)), true
}

// set replaces a record's entries and returns how many remain.
func (l *ledger) set(recordID string, list []*entry) int {
	if len(list) == 0 {
		delete(l.byRecord, recordID)
		return 0
	}
	l.byRecord[recordID] = list
	return len(list)
}

func (l *ledger) drop(recordID string) {
	delete(l.byRecord, recordID)
}

// pending counts actions not yet confirmed.
func (l *ledger) pending() int {
	n := 0
	for _, list := range l.byRecord {
		for _, e := range list {
			if !e.action.Confirmed {
				n++
			}
		}
	}
	return n
}

func (l *ledger) clear() {
	l.byRecord = make(map[string][]*entry)
}

func dropConfirmed(list []*entry) []*entry {
	i := 0
	for i < len(list) && list[i].action.Confirmed {
		i++
	}
	return list[i:]
}
