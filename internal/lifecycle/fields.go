package lifecycle

import (
	"fmt"

	"github.com/kilupskalvis/qsync/internal/models"
)

// fieldOwner maps a field to the earliest bucket whose stage produces it.
// Fields absent from the map belong to no stage (content and audit history).
var fieldOwner = map[models.Field]models.Bucket{
	models.FieldAssignedTo: models.BucketB,
	models.FieldAssignedBy: models.BucketB,
	models.FieldAssignedAt: models.BucketB,
	models.FieldRemarks:    models.BucketB,
	models.FieldRemarkBy:   models.BucketB,
	models.FieldRemarkAt:   models.BucketB,

	models.FieldProposalSentAt: models.BucketC,
	models.FieldPendingNote:    models.BucketC,

	models.FieldOrderRef:     models.BucketE,
	models.FieldInvoiceRef:   models.BucketE,
	models.FieldVerified:     models.BucketE,
	models.FieldRefEnteredAt: models.BucketE,

	models.FieldDiscardedAt: models.BucketG,

	models.FieldPriorBucket:       models.BucketH,
	models.FieldDeleteRequestedBy: models.BucketH,
	models.FieldDeleteRequestedAt: models.BucketH,
	models.FieldDeleteApprovedBy:  models.BucketH,
	models.FieldDeleteApprovedAt:  models.BucketH,
}

// protected fields are computed here and never accepted from a patch.
var protected = map[models.Field]bool{
	models.FieldID:                true,
	models.FieldBucket:            true,
	models.FieldAddedBy:           true,
	models.FieldAddedAt:           true,
	models.FieldAssignedBy:        true,
	models.FieldAssignedAt:        true,
	models.FieldLastEditedBy:      true,
	models.FieldLastEditedAt:      true,
	models.FieldLastActivityAt:    true,
	models.FieldRemarkBy:          true,
	models.FieldRemarkAt:          true,
	models.FieldProposalSentAt:    true,
	models.FieldRefEnteredAt:      true,
	models.FieldDiscardedAt:       true,
	models.FieldPriorBucket:       true,
	models.FieldDeleteRequestedBy: true,
	models.FieldDeleteRequestedAt: true,
	models.FieldDeleteApprovedBy:  true,
	models.FieldDeleteApprovedAt:  true,
	models.FieldDeleteRejected:    true,
	models.FieldDeleteRejectedBy:  true,
	models.FieldDeleteRejectedAt:  true,
}

// IsProtected reports whether f may only be written by lifecycle rules.
func IsProtected(f models.Field) bool {
	return protected[f]
}

// StripProtected returns a copy of patch without protected or unknown fields.
func StripProtected(patch models.Delta) models.Delta {
	out := make(models.Delta, len(patch))
	for f, v := range patch {
		if !f.Known() || protected[f] {
			continue
		}
		out[f] = v
	}
	return out
}

// StageFields returns the fields first produced by stage b.
// C and D share their fields, as do E and F; those are reported under C and E.
func StageFields(b models.Bucket) []models.Field {
	var out []models.Field
	for _, f := range models.Fields {
		if owner, ok := fieldOwner[f]; ok && owner == b {
			out = append(out, f)
		}
	}
	return out
}

// ClearedFields returns the fields a backward move into target must clear:
// everything owned by a stage later than target.
func ClearedFields(target models.Bucket) []models.Field {
	var out []models.Field
	for _, f := range models.Fields {
		if owner, ok := fieldOwner[f]; ok && owner.Index() > target.Index() {
			out = append(out, f)
		}
	}
	return out
}

// CheckNoLeakage verifies that q holds no value belonging to a stage later
// than its current bucket.
func CheckNoLeakage(q models.Query) error {
	for _, f := range ClearedFields(q.Bucket) {
		if v := q.Get(f); v != "" {
			return fmt.Errorf("%s: field %s=%q belongs to a later stage than %s", q.ID, f, v, q.Bucket)
		}
	}
	return nil
}

// checkPatch rejects values that do not parse and fields owned by a stage
// later than bucket.
func checkPatch(op string, patch models.Delta, bucket models.Bucket) error {
	var scratch models.Query
	for _, f := range patch.Fields() {
		if err := scratch.Set(f, patch[f]); err != nil {
			return invalid(op, "%v", err)
		}
		if f == models.FieldType && !models.QueryType(patch[f]).Valid() {
			return invalid(op, "unknown query type %q", patch[f])
		}
		if f == models.FieldDescription && patch[f] == "" {
			return invalid(op, "description cannot be empty")
		}
		if owner, ok := fieldOwner[f]; ok && patch[f] != "" && owner.Index() > bucket.Index() {
			return invalid(op, "field %s belongs to stage %s, record would be in %s", f, owner, bucket)
		}
	}
	return nil
}
