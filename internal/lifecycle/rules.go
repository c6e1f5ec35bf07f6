// Package lifecycle holds the workflow rules of a query: which fields a bucket
// change stamps or clears, what an edit may touch and how the deletion
// sub-workflow moves a record in and out of bucket H.
//
// Every function is pure. The caller supplies the prior state and the time,
// so the client and the record server compute identical deltas.
package lifecycle

import (
	"strings"
	"time"

	"github.com/kilupskalvis/qsync/internal/models"
)

// NewQueryInput holds the caller-supplied content of a new query.
type NewQueryInput struct {
	Description string           `json:"description"`
	Type        models.QueryType `json:"type,omitempty"`
	AssignedTo  string           `json:"assigned_to,omitempty"`
}

// NewQuery builds a complete record with creation defaults. The returned
// query has no id.
func NewQuery(in NewQueryInput, actor string, now time.Time) (models.Query, error) {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return models.Query{}, invalid("add", "description is required")
	}
	if actor == "" {
		return models.Query{}, invalid("add", "actor is required")
	}
	typ := in.Type
	if typ == "" {
		typ = models.QueryTypeGeneral
	}
	if !typ.Valid() {
		return models.Query{}, invalid("add", "unknown query type %q", typ)
	}

	now = now.UTC()
	q := models.Query{
		Bucket:         models.BucketA,
		Description:    desc,
		Type:           typ,
		AddedBy:        actor,
		AddedAt:        now,
		LastActivityAt: now,
	}
	if in.AssignedTo != "" {
		q.Bucket = models.BucketB
		q.AssignedTo = in.AssignedTo
		q.AssignedBy = actor
		q.AssignedAt = now
	}
	return q, nil
}

// Transition computes the delta of moving a record to target, together with
// an optional field patch applied in the same step.
func Transition(prior models.PriorState, target models.Bucket, patch models.Delta, actor string, now time.Time) (models.Delta, error) {
	if !target.Valid() {
		return nil, invalid("transition", "unknown bucket %q", target)
	}
	if target == models.BucketH {
		return nil, invalid("transition", "bucket H is reached only by a delete request")
	}
	if prior.Bucket == models.BucketH {
		return nil, invalid("transition", "record is in the delete workflow")
	}
	if actor == "" {
		return nil, invalid("transition", "actor is required")
	}

	patch = StripProtected(patch)
	if err := checkPatch("transition", patch, target); err != nil {
		return nil, err
	}

	ts := models.FormatTime(now)
	d := patch.Clone()
	d[models.FieldBucket] = string(target)
	d[models.FieldLastActivityAt] = ts

	if target.Index() < prior.Bucket.Index() {
		for _, f := range ClearedFields(target) {
			d[f] = ""
		}
	} else {
		switch target {
		case models.BucketB:
			if !prior.HasAssignedAt {
				d[models.FieldAssignedAt] = ts
			}
		case models.BucketC, models.BucketD:
			if !prior.HasProposalSentAt {
				d[models.FieldProposalSentAt] = ts
			}
		case models.BucketE, models.BucketF:
			if !prior.HasRefEnteredAt {
				d[models.FieldRefEnteredAt] = ts
			}
		case models.BucketG:
			d[models.FieldDiscardedAt] = ts
		}
	}

	stampEdit(d, prior, patch, actor, ts)
	return d, nil
}

// Edit computes the delta of a field edit that leaves the bucket unchanged.
func Edit(prior models.PriorState, patch models.Delta, actor string, now time.Time) (models.Delta, error) {
	if prior.DeleteState() == models.DeleteApproved {
		return nil, invalid("edit", "record is deleted")
	}
	if actor == "" {
		return nil, invalid("edit", "actor is required")
	}
	patch = StripProtected(patch)
	if len(patch) == 0 {
		return nil, invalid("edit", "no editable fields in patch")
	}
	if err := checkPatch("edit", patch, prior.Bucket); err != nil {
		return nil, err
	}

	ts := models.FormatTime(now)
	d := patch.Clone()
	d[models.FieldLastActivityAt] = ts
	stampEdit(d, prior, patch, actor, ts)
	return d, nil
}

// Assign computes the delta of assigning a record. A record in A moves to B.
func Assign(prior models.PriorState, assignee, actor string, now time.Time) (models.Delta, error) {
	if prior.Bucket == models.BucketH {
		return nil, invalid("assign", "record is in the delete workflow")
	}
	if strings.TrimSpace(assignee) == "" {
		return nil, invalid("assign", "assignee is required")
	}
	if actor == "" {
		return nil, invalid("assign", "actor is required")
	}

	ts := models.FormatTime(now)
	d := models.Delta{
		models.FieldAssignedTo:     assignee,
		models.FieldAssignedBy:     actor,
		models.FieldAssignedAt:     ts,
		models.FieldLastActivityAt: ts,
	}
	if prior.Bucket == models.BucketA {
		d[models.FieldBucket] = string(models.BucketB)
	}
	return d, nil
}

// stampEdit adds the editor and remark audit stamps for a non-empty patch.
func stampEdit(d models.Delta, prior models.PriorState, patch models.Delta, actor, ts string) {
	if len(patch) == 0 {
		return
	}
	d[models.FieldLastEditedBy] = actor
	d[models.FieldLastEditedAt] = ts
	if remarks, ok := patch[models.FieldRemarks]; ok && remarks != prior.Remarks {
		d[models.FieldRemarkBy] = actor
		d[models.FieldRemarkAt] = ts
	}
}
