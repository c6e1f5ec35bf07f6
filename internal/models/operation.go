package models

import "time"

// ActionKind identifies the kind of optimistic mutation.
type ActionKind string

const (
	ActionAdd           ActionKind = "add"
	ActionTransition    ActionKind = "transition"
	ActionEdit          ActionKind = "edit"
	ActionAssign        ActionKind = "assign"
	ActionRequestDelete ActionKind = "request_delete"
	ActionApproveDelete ActionKind = "approve_delete"
	ActionRejectDelete  ActionKind = "reject_delete"
)

// Valid reports whether k is a known action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionAdd, ActionTransition, ActionEdit, ActionAssign,
		ActionRequestDelete, ActionApproveDelete, ActionRejectDelete:
		return true
	}
	return false
}

// PendingAction is the bookkeeping entry of one optimistic mutation that has
// been applied locally and not yet settled against the remote store.
type PendingAction struct {
	ID        string     `json:"id"`
	RecordID  string     `json:"record_id"`
	Kind      ActionKind `json:"kind"`
	CreatedAt time.Time  `json:"created_at"`
	Seq       uint64     `json:"seq"`
	Before    *Query     `json:"before,omitempty"` // Pre-mutation record, nil for adds
	Confirmed bool       `json:"confirmed"`
}
