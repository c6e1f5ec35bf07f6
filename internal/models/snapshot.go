package models

import "time"

// Snapshot is the full set of records held by a client plus the time of the
// last completed remote read.
type Snapshot struct {
	Records      []Query   `json:"records"`
	LastSyncedAt time.Time `json:"last_synced_at,omitzero"`
}

// Clone returns a deep copy that shares no memory with s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{LastSyncedAt: s.LastSyncedAt}
	if s.Records != nil {
		out.Records = make([]Query, len(s.Records))
		copy(out.Records, s.Records)
	}
	return out
}

// Find returns the record with the given id.
func (s Snapshot) Find(id string) (Query, bool) {
	for _, q := range s.Records {
		if q.ID == id {
			return q, true
		}
	}
	return Query{}, false
}

// Pending returns the number of records with an outstanding optimistic mutation.
func (s Snapshot) Pending() int {
	n := 0
	for _, q := range s.Records {
		if q.IsPending {
			n++
		}
	}
	return n
}
