// Package models defines the core data structures used throughout qsync:
// queries and their buckets, field deltas, pending actions and snapshots.
package models

import (
	"fmt"
	"time"
)

// Bucket is one of the eight ordered workflow stages a query occupies.
type Bucket string

const (
	BucketA Bucket = "A" // Unassigned
	BucketB Bucket = "B" // Assigned
	BucketC Bucket = "C" // Proposal sent
	BucketD Bucket = "D" // Proposal pending
	BucketE Bucket = "E" // Order entered
	BucketF Bucket = "F" // Invoiced
	BucketG Bucket = "G" // Discarded
	BucketH Bucket = "H" // Deleted (delete sub-workflow only)
)

// Buckets lists every bucket in workflow order.
var Buckets = []Bucket{BucketA, BucketB, BucketC, BucketD, BucketE, BucketF, BucketG, BucketH}

var bucketLabels = map[Bucket]string{
	BucketA: "Unassigned",
	BucketB: "Assigned",
	BucketC: "Proposal Sent",
	BucketD: "Proposal Pending",
	BucketE: "Order Entered",
	BucketF: "Invoiced",
	BucketG: "Discarded",
	BucketH: "Deleted",
}

// Index returns the position of the bucket in the A..H ordering, or -1 if unknown.
func (b Bucket) Index() int {
	for i, v := range Buckets {
		if v == b {
			return i
		}
	}
	return -1
}

// Valid reports whether b is one of the known buckets.
func (b Bucket) Valid() bool {
	return b.Index() >= 0
}

// Label returns the human-readable stage name.
func (b Bucket) Label() string {
	if l, ok := bucketLabels[b]; ok {
		return l
	}
	return string(b)
}

// ParseBucket converts a bucket code such as "c" or "C" into a Bucket.
func ParseBucket(s string) (Bucket, error) {
	if len(s) == 1 && s[0] >= 'a' && s[0] <= 'z' {
		s = string(s[0] - 'a' + 'A')
	}
	b := Bucket(s)
	if !b.Valid() {
		return "", fmt.Errorf("unknown bucket %q (expected A-H)", s)
	}
	return b, nil
}

// QueryType is the categorical type of a query.
type QueryType string

const (
	QueryTypeSales   QueryType = "sales"
	QueryTypeService QueryType = "service"
	QueryTypeSupport QueryType = "support"
	QueryTypeGeneral QueryType = "general"
)

// Valid reports whether t is one of the known query types.
func (t QueryType) Valid() bool {
	switch t {
	case QueryTypeSales, QueryTypeService, QueryTypeSupport, QueryTypeGeneral:
		return true
	}
	return false
}

// Query is the unit of work tracked through the workflow.
type Query struct {
	ID     string `json:"id"`
	Bucket Bucket `json:"bucket"`

	Description string    `json:"description"`
	Type        QueryType `json:"type"`
	Remarks     string    `json:"remarks,omitempty"`
	PendingNote string    `json:"pending_note,omitempty"`
	OrderRef    string    `json:"order_ref,omitempty"`
	InvoiceRef  string    `json:"invoice_ref,omitempty"`
	Verified    bool      `json:"verified,omitempty"`

	AssignedTo string    `json:"assigned_to,omitempty"`
	AssignedBy string    `json:"assigned_by,omitempty"`
	AssignedAt time.Time `json:"assigned_at,omitzero"`

	AddedBy        string    `json:"added_by,omitempty"`
	AddedAt        time.Time `json:"added_at,omitzero"`
	LastEditedBy   string    `json:"last_edited_by,omitempty"`
	LastEditedAt   time.Time `json:"last_edited_at,omitzero"`
	LastActivityAt time.Time `json:"last_activity_at,omitzero"`
	RemarkBy       string    `json:"remark_by,omitempty"`
	RemarkAt       time.Time `json:"remark_at,omitzero"`

	ProposalSentAt time.Time `json:"proposal_sent_at,omitzero"`
	RefEnteredAt   time.Time `json:"ref_entered_at,omitzero"`
	DiscardedAt    time.Time `json:"discarded_at,omitzero"`

	PriorBucket       Bucket    `json:"prior_bucket,omitempty"`
	DeleteRequestedBy string    `json:"delete_requested_by,omitempty"`
	DeleteRequestedAt time.Time `json:"delete_requested_at,omitzero"`
	DeleteApprovedBy  string    `json:"delete_approved_by,omitempty"`
	DeleteApprovedAt  time.Time `json:"delete_approved_at,omitzero"`
	DeleteRejected    bool      `json:"delete_rejected,omitempty"`
	DeleteRejectedBy  string    `json:"delete_rejected_by,omitempty"`
	DeleteRejectedAt  time.Time `json:"delete_rejected_at,omitzero"`

	// Client-only flags, never sent to the remote store.
	IsPending bool   `json:"-"`
	TempID    string `json:"-"`
}

// IsTemp reports whether the query still carries a pre-confirmation identity.
func (q *Query) IsTemp() bool {
	return q.TempID != ""
}

// DeleteState describes where a query is in the deletion sub-workflow.
type DeleteState string

const (
	DeleteActive   DeleteState = "active"
	DeletePending  DeleteState = "delete-pending"
	DeleteApproved DeleteState = "deleted"
)

// DeleteState derives the deletion sub-state from the bucket and delete stamps.
func (q *Query) DeleteState() DeleteState {
	return deleteStateOf(q.Bucket, !q.DeleteApprovedAt.IsZero())
}

func deleteStateOf(b Bucket, approved bool) DeleteState {
	if b != BucketH {
		return DeleteActive
	}
	if approved {
		return DeleteApproved
	}
	return DeletePending
}

// PreviouslyRejected reports whether a delete request on this query was ever rejected.
func (q *Query) PreviouslyRejected() bool {
	return q.DeleteRejected && q.Bucket != BucketH
}

// ShortID returns a shortened identifier for display.
func (q *Query) ShortID() string {
	id := q.ID
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
