package lifecycle

import (
	"fmt"
	"time"

	"github.com/kilupskalvis/qsync/internal/models"
)

// RejectPolicy decides where a rejected delete request sends a record whose
// prior bucket is missing.
type RejectPolicy string

const (
	// RejectToEarliest restores the record to bucket A.
	RejectToEarliest RejectPolicy = "earliest"
	// RejectStrict refuses the rejection.
	RejectStrict RejectPolicy = "strict"
)

// ParseRejectPolicy parses a policy name. The empty string selects RejectToEarliest.
func ParseRejectPolicy(s string) (RejectPolicy, error) {
	switch RejectPolicy(s) {
	case "", RejectToEarliest:
		return RejectToEarliest, nil
	case RejectStrict:
		return RejectStrict, nil
	}
	return "", fmt.Errorf("unknown reject policy %q (expected %q or %q)", s, RejectToEarliest, RejectStrict)
}

// RequestDelete moves a record into bucket H pending approval. A privileged
// requester approves in the same step. A repeated request on a pending record
// re-stamps the requester.
func RequestDelete(prior models.PriorState, requestedBy string, privileged bool, now time.Time) (models.Delta, error) {
	if requestedBy == "" {
		return nil, invalid("request_delete", "requester is required")
	}
	ts := models.FormatTime(now)
	d := models.Delta{
		models.FieldDeleteRequestedBy: requestedBy,
		models.FieldDeleteRequestedAt: ts,
		models.FieldLastActivityAt:    ts,
	}

	switch prior.DeleteState() {
	case models.DeleteApproved:
		return nil, invalid("request_delete", "record is already deleted")
	case models.DeletePending:
		// prior bucket stays as recorded by the first request
	default:
		d[models.FieldPriorBucket] = string(prior.Bucket)
		d[models.FieldBucket] = string(models.BucketH)
		d[models.FieldDeleteRejected] = ""
		d[models.FieldDeleteRejectedBy] = ""
		d[models.FieldDeleteRejectedAt] = ""
	}

	if privileged {
		d[models.FieldDeleteApprovedBy] = requestedBy
		d[models.FieldDeleteApprovedAt] = ts
	}
	return d, nil
}

// ApproveDelete approves a pending delete request. The record stays in H.
func ApproveDelete(prior models.PriorState, approvedBy string, now time.Time) (models.Delta, error) {
	if prior.DeleteState() != models.DeletePending {
		return nil, invalid("approve_delete", "record is not pending deletion")
	}
	if approvedBy == "" {
		return nil, invalid("approve_delete", "approver is required")
	}
	ts := models.FormatTime(now)
	return models.Delta{
		models.FieldDeleteApprovedBy: approvedBy,
		models.FieldDeleteApprovedAt: ts,
		models.FieldLastActivityAt:   ts,
	}, nil
}

// RejectDelete returns a pending record to its prior bucket and leaves a
// rejection marker that survives later transitions.
func RejectDelete(prior models.PriorState, rejectedBy string, policy RejectPolicy, now time.Time) (models.Delta, error) {
	if prior.DeleteState() != models.DeletePending {
		return nil, invalid("reject_delete", "record is not pending deletion")
	}
	if rejectedBy == "" {
		return nil, invalid("reject_delete", "rejector is required")
	}

	restore := prior.PriorBucket
	if !restore.Valid() || restore == models.BucketH {
		if policy == RejectStrict {
			return nil, invalid("reject_delete", "record has no prior bucket to restore")
		}
		restore = models.BucketA
	}

	ts := models.FormatTime(now)
	d := models.Delta{}
	for _, f := range ClearedFields(restore) {
		d[f] = ""
	}
	d[models.FieldBucket] = string(restore)
	d[models.FieldDeleteRejected] = "true"
	d[models.FieldDeleteRejectedBy] = rejectedBy
	d[models.FieldDeleteRejectedAt] = ts
	d[models.FieldLastActivityAt] = ts
	return d, nil
}
