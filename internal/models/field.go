package models

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Field names a single column of a query record. Values travel as strings,
// the same way the remote store holds them.
type Field string

const (
	FieldID                Field = "id"
	FieldBucket            Field = "bucket"
	FieldDescription       Field = "description"
	FieldType              Field = "type"
	FieldRemarks           Field = "remarks"
	FieldPendingNote       Field = "pending_note"
	FieldOrderRef          Field = "order_ref"
	FieldInvoiceRef        Field = "invoice_ref"
	FieldVerified          Field = "verified"
	FieldAssignedTo        Field = "assigned_to"
	FieldAssignedBy        Field = "assigned_by"
	FieldAssignedAt        Field = "assigned_at"
	FieldAddedBy           Field = "added_by"
	FieldAddedAt           Field = "added_at"
	FieldLastEditedBy      Field = "last_edited_by"
	FieldLastEditedAt      Field = "last_edited_at"
	FieldLastActivityAt    Field = "last_activity_at"
	FieldRemarkBy          Field = "remark_by"
	FieldRemarkAt          Field = "remark_at"
	FieldProposalSentAt    Field = "proposal_sent_at"
	FieldRefEnteredAt      Field = "ref_entered_at"
	FieldDiscardedAt       Field = "discarded_at"
	FieldPriorBucket       Field = "prior_bucket"
	FieldDeleteRequestedBy Field = "delete_requested_by"
	FieldDeleteRequestedAt Field = "delete_requested_at"
	FieldDeleteApprovedBy  Field = "delete_approved_by"
	FieldDeleteApprovedAt  Field = "delete_approved_at"
	FieldDeleteRejected    Field = "delete_rejected"
	FieldDeleteRejectedBy  Field = "delete_rejected_by"
	FieldDeleteRejectedAt  Field = "delete_rejected_at"
)

// Fields lists every persisted column in storage order.
var Fields = []Field{
	FieldID, FieldBucket,
	FieldDescription, FieldType, FieldRemarks, FieldPendingNote, FieldOrderRef, FieldInvoiceRef, FieldVerified,
	FieldAssignedTo, FieldAssignedBy, FieldAssignedAt,
	FieldAddedBy, FieldAddedAt, FieldLastEditedBy, FieldLastEditedAt, FieldLastActivityAt, FieldRemarkBy, FieldRemarkAt,
	FieldProposalSentAt, FieldRefEnteredAt, FieldDiscardedAt,
	FieldPriorBucket, FieldDeleteRequestedBy, FieldDeleteRequestedAt, FieldDeleteApprovedBy, FieldDeleteApprovedAt,
	FieldDeleteRejected, FieldDeleteRejectedBy, FieldDeleteRejectedAt,
}

var knownFields = func() map[Field]bool {
	m := make(map[Field]bool, len(Fields))
	for _, f := range Fields {
		m[f] = true
	}
	return m
}()

// Known reports whether f is a recognised column.
func (f Field) Known() bool {
	return knownFields[f]
}

// FormatTime renders a timestamp the way it is stored. The zero time is the empty cell.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime is the inverse of FormatTime.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return ""
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

// Get returns the stored representation of a field.
func (q *Query) Get(f Field) string {
	switch f {
	case FieldID:
		return q.ID
	case FieldBucket:
		return string(q.Bucket)
	case FieldDescription:
		return q.Description
	case FieldType:
		return string(q.Type)
	case FieldRemarks:
		return q.Remarks
	case FieldPendingNote:
		return q.PendingNote
	case FieldOrderRef:
		return q.OrderRef
	case FieldInvoiceRef:
		return q.InvoiceRef
	case FieldVerified:
		return formatBool(q.Verified)
	case FieldAssignedTo:
		return q.AssignedTo
	case FieldAssignedBy:
		return q.AssignedBy
	case FieldAssignedAt:
		return FormatTime(q.AssignedAt)
	case FieldAddedBy:
		return q.AddedBy
	case FieldAddedAt:
		return FormatTime(q.AddedAt)
	case FieldLastEditedBy:
		return q.LastEditedBy
	case FieldLastEditedAt:
		return FormatTime(q.LastEditedAt)
	case FieldLastActivityAt:
		return FormatTime(q.LastActivityAt)
	case FieldRemarkBy:
		return q.RemarkBy
	case FieldRemarkAt:
		return FormatTime(q.RemarkAt)
	case FieldProposalSentAt:
		return FormatTime(q.ProposalSentAt)
	case FieldRefEnteredAt:
		return FormatTime(q.RefEnteredAt)
	case FieldDiscardedAt:
		return FormatTime(q.DiscardedAt)
	case FieldPriorBucket:
		return string(q.PriorBucket)
	case FieldDeleteRequestedBy:
		return q.DeleteRequestedBy
	case FieldDeleteRequestedAt:
		return FormatTime(q.DeleteRequestedAt)
	case FieldDeleteApprovedBy:
		return q.DeleteApprovedBy
	case FieldDeleteApprovedAt:
		return FormatTime(q.DeleteApprovedAt)
	case FieldDeleteRejected:
		return formatBool(q.DeleteRejected)
	case FieldDeleteRejectedBy:
		return q.DeleteRejectedBy
	case FieldDeleteRejectedAt:
		return FormatTime(q.DeleteRejectedAt)
	}
	return ""
}

// Set parses v and stores it into field f. An empty value clears the field.
func (q *Query) Set(f Field, v string) error {
	var err error
	setTime := func(dst *time.Time) {
		var t time.Time
		t, err = ParseTime(v)
		if err == nil {
			*dst = t
		}
	}
	setBool := func(dst *bool) {
		var b bool
		b, err = parseBool(v)
		if err == nil {
			*dst = b
		}
	}
	setBucket := func(dst *Bucket, allowEmpty bool) {
		b := Bucket(v)
		if (v == "" && allowEmpty) || b.Valid() {
			*dst = b
			return
		}
		err = fmt.Errorf("unknown bucket %q", v)
	}

	switch f {
	case FieldID:
		q.ID = v
	case FieldBucket:
		setBucket(&q.Bucket, false)
	case FieldDescription:
		q.Description = v
	case FieldType:
		q.Type = QueryType(v)
	case FieldRemarks:
		q.Remarks = v
	case FieldPendingNote:
		q.PendingNote = v
	case FieldOrderRef:
		q.OrderRef = v
	case FieldInvoiceRef:
		q.InvoiceRef = v
	case FieldVerified:
		setBool(&q.Verified)
	case FieldAssignedTo:
		q.AssignedTo = v
	case FieldAssignedBy:
		q.AssignedBy = v
	case FieldAssignedAt:
		setTime(&q.AssignedAt)
	case FieldAddedBy:
		q.AddedBy = v
	case FieldAddedAt:
		setTime(&q.AddedAt)
	case FieldLastEditedBy:
		q.LastEditedBy = v
	case FieldLastEditedAt:
		setTime(&q.LastEditedAt)
	case FieldLastActivityAt:
		setTime(&q.LastActivityAt)
	case FieldRemarkBy:
		q.RemarkBy = v
	case FieldRemarkAt:
		setTime(&q.RemarkAt)
	case FieldProposalSentAt:
		setTime(&q.ProposalSentAt)
	case FieldRefEnteredAt:
		setTime(&q.RefEnteredAt)
	case FieldDiscardedAt:
		setTime(&q.DiscardedAt)
	case FieldPriorBucket:
		setBucket(&q.PriorBucket, true)
	case FieldDeleteRequestedBy:
		q.DeleteRequestedBy = v
	case FieldDeleteRequestedAt:
		setTime(&q.DeleteRequestedAt)
	case FieldDeleteApprovedBy:
		q.DeleteApprovedBy = v
	case FieldDeleteApprovedAt:
		setTime(&q.DeleteApprovedAt)
	case FieldDeleteRejected:
		setBool(&q.DeleteRejected)
	case FieldDeleteRejectedBy:
		q.DeleteRejectedBy = v
	case FieldDeleteRejectedAt:
		setTime(&q.DeleteRejectedAt)
	default:
		return fmt.Errorf("unknown field %q", f)
	}
	if err != nil {
		return fmt.Errorf("field %s: %w", f, err)
	}
	return nil
}

// Delta is a set of field assignments. The empty string clears a field.
type Delta map[Field]string

// Fields returns the fields touched by the delta in a stable order.
func (d Delta) Fields() []Field {
	fields := make([]Field, 0, len(d))
	for f := range d {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

// Clone returns an independent copy of the delta.
func (d Delta) Clone() Delta {
	out := make(Delta, len(d))
	for f, v := range d {
		out[f] = v
	}
	return out
}

// Merge copies every assignment of other into d, overwriting existing keys.
func (d Delta) Merge(other Delta) {
	for f, v := range other {
		d[f] = v
	}
}

// Apply writes the delta into q. On error q is left unchanged.
func (d Delta) Apply(q *Query) error {
	next := *q
	for _, f := range d.Fields() {
		if err := next.Set(f, d[f]); err != nil {
			return err
		}
	}
	*q = next
	return nil
}

// Values returns every persisted column of q as a delta, omitting empty cells.
func (q *Query) Values() Delta {
	d := make(Delta)
	for _, f := range Fields {
		if v := q.Get(f); v != "" {
			d[f] = v
		}
	}
	return d
}
