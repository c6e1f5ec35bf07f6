package lifecycle

import (
	"testing"
	"time"

	"github.com/kilupskalvis/qsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t0.Add(2 * time.Hour)
)

func apply(t *testing.T, q models.Query, d models.Delta) models.Query {
	t.Helper()
	require.NoError(t, d.Apply(&q))
	return q
}

// fullRecord returns a record that has travelled through every stage up to b.
func fullRecord(b models.Bucket) models.Query {
	q := models.Query{
		ID:             "Q-1",
		Bucket:         b,
		Description:    "ten pallets",
		Type:           models.QueryTypeSales,
		AddedBy:        "ana",
		AddedAt:        t0,
		LastActivityAt: t0,
	}
	if b.Index() >= models.BucketB.Index() {
		q.AssignedTo, q.AssignedBy, q.AssignedAt = "bo", "ana", t0
		q.Remarks, q.RemarkBy, q.RemarkAt = "call monday", "bo", t0
	}
	if b.Index() >= models.BucketC.Index() {
		q.ProposalSentAt = t0
		q.PendingNote = "awaiting signature"
	}
	if b.Index() >= models.BucketE.Index() {
		q.OrderRef, q.InvoiceRef, q.Verified, q.RefEnteredAt = "PO-9", "INV-3", true, t0
	}
	if b == models.BucketG {
		q.DiscardedAt = t0
	}
	return q
}

func TestNewQuery_Defaults(t *testing.T) {
	q, err := NewQuery(NewQueryInput{Description: "  pumps  "}, "ana", t0)
	require.NoError(t, err)

	assert.Equal(t, models.BucketA, q.Bucket)
	assert.Equal(t, "pumps", q.Description)
	assert.Equal(t, models.QueryTypeGeneral, q.Type)
	assert.Equal(t, "ana", q.AddedBy)
	assert.Equal(t, t0, q.AddedAt)
	assert.Equal(t, t0, q.LastActivityAt)
	assert.Empty(t, q.ID)
	require.NoError(t, CheckNoLeakage(q))
}

func TestNewQuery_WithAssignee(t *testing.T) {
	q, err := NewQuery(NewQueryInput{Description: "pumps", AssignedTo: "bo"}, "ana", t0)
	require.NoError(t, err)

	assert.Equal(t, models.BucketB, q.Bucket)
	assert.Equal(t, "bo", q.AssignedTo)
	assert.Equal(t, "ana", q.AssignedBy)
	assert.Equal(t, t0, q.AssignedAt)
}

func TestNewQuery_Invalid(t *testing.T) {
	_, err := NewQuery(NewQueryInput{Description: " "}, "ana", t0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewQuery(NewQueryInput{Description: "x", Type: "bogus"}, "ana", t0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewQuery(NewQueryInput{Description: "x"}, "", t0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTransition_ForwardStamps(t *testing.T) {
	q := fullRecord(models.BucketA)

	d, err := Transition(q.Prior(), models.BucketB, nil, "ana", t1)
	require.NoError(t, err)
	q = apply(t, q, d)
	assert.Equal(t, models.BucketB, q.Bucket)
	assert.Equal(t, t1, q.AssignedAt)
	assert.Equal(t, t1, q.LastActivityAt)
	assert.True(t, q.LastEditedAt.IsZero(), "a bare transition is not an edit")

	d, err = Transition(q.Prior(), models.BucketC, nil, "ana", t2)
	require.NoError(t, err)
	q = apply(t, q, d)
	assert.Equal(t, t2, q.ProposalSentAt)
	assert.Equal(t, t1, q.AssignedAt, "earlier stamp must not move")

	// C -> D keeps the proposal stamp
	d, err = Transition(q.Prior(), models.BucketD, nil, "ana", t2.Add(time.Hour))
	require.NoError(t, err)
	q = apply(t, q, d)
	assert.Equal(t, t2, q.ProposalSentAt)

	d, err = Transition(q.Prior(), models.BucketE, models.Delta{models.FieldOrderRef: "PO-1"}, "bo", t2.Add(2*time.Hour))
	require.NoError(t, err)
	q = apply(t, q, d)
	assert.Equal(t, "PO-1", q.OrderRef)
	assert.Equal(t, t2.Add(2*time.Hour), q.RefEnteredAt)
	assert.Equal(t, "bo", q.LastEditedBy)
	require.NoError(t, CheckNoLeakage(q))
}

func TestTransition_DiscardRestamps(t *testing.T) {
	q := fullRecord(models.BucketG)

	d, err := Transition(q.Prior(), models.BucketG, nil, "ana", t2)
	require.NoError(t, err)
	q = apply(t, q, d)
	assert.Equal(t, t2, q.DiscardedAt)
}

func TestTransition_Scenario_CToA(t *testing.T) {
	q := fullRecord(models.BucketC)

	d, err := Transition(q.Prior(), models.BucketA, nil, "ana", t1)
	require.NoError(t, err)
	q = apply(t, q, d)

	assert.Equal(t, models.BucketA, q.Bucket)
	assert.Empty(t, q.AssignedTo)
	assert.Empty(t, q.AssignedBy)
	assert.True(t, q.AssignedAt.IsZero())
	assert.Empty(t, q.Remarks)
	assert.Empty(t, q.RemarkBy)
	assert.True(t, q.ProposalSentAt.IsZero())
	assert.Empty(t, q.PendingNote)

	assert.Equal(t, "ten pallets", q.Description)
	assert.Equal(t, models.QueryTypeSales, q.Type)
	assert.Equal(t, "ana", q.AddedBy)
	assert.Equal(t, t0, q.AddedAt)
	assert.Equal(t, t1, q.LastActivityAt)
	require.NoError(t, CheckNoLeakage(q))
}

func TestTransition_BackwardClearIsIdempotent(t *testing.T) {
	for _, from := range models.Buckets[:7] {
		for _, to := range models.Buckets[:7] {
			if to.Index() >= from.Index() {
				continue
			}
			q := fullRecord(from)

			d, err := Transition(q.Prior(), to, nil, "ana", t1)
			require.NoError(t, err)
			once := apply(t, q, d)
			twice := apply(t, once, d)
			assert.Equal(t, once, twice, "%s -> %s", from, to)

			for _, f := range ClearedFields(to) {
				assert.Empty(t, once.Get(f), "%s -> %s left %s", from, to, f)
			}
		}
	}
}

func TestTransition_NoForwardLeakage(t *testing.T) {
	for _, from := range models.Buckets[:7] {
		for _, to := range models.Buckets[:7] {
			q := fullRecord(from)
			d, err := Transition(q.Prior(), to, nil, "ana", t1)
			require.NoError(t, err)
			q = apply(t, q, d)
			assert.NoError(t, CheckNoLeakage(q), "%s -> %s", from, to)
		}
	}
}

func TestTransition_RejectsLaterStagePatch(t *testing.T) {
	q := fullRecord(models.BucketF)

	_, err := Transition(q.Prior(), models.BucketB, models.Delta{models.FieldOrderRef: "PO-2"}, "ana", t1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTransition_DeletePathOnly(t *testing.T) {
	q := fullRecord(models.BucketC)
	_, err := Transition(q.Prior(), models.BucketH, nil, "ana", t1)
	assert.ErrorIs(t, err, ErrValidation)

	q.Bucket = models.BucketH
	q.PriorBucket = models.BucketC
	q.DeleteRequestedAt = t0
	_, err = Transition(q.Prior(), models.BucketC, nil, "ana", t1)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = Transition(q.Prior(), models.Bucket("Z"), nil, "ana", t1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTransition_StripsProtected(t *testing.T) {
	q := fullRecord(models.BucketB)

	d, err := Transition(q.Prior(), models.BucketC, models.Delta{
		models.FieldAddedBy:      "mallory",
		models.FieldAssignedAt:   models.FormatTime(t2),
		models.FieldPendingNote:  "sent by mail",
		models.FieldLastEditedBy: "mallory",
	}, "ana", t1)
	require.NoError(t, err)
	q = apply(t, q, d)

	assert.Equal(t, "ana", q.AddedBy)
	assert.Equal(t, t0, q.AssignedAt)
	assert.Equal(t, "ana", q.LastEditedBy)
	assert.Equal(t, "sent by mail", q.PendingNote)
}

func TestEdit_StampsEditorAndRemarks(t *testing.T) {
	q := fullRecord(models.BucketB)

	d, err := Edit(q.Prior(), models.Delta{models.FieldDescription: "eleven pallets"}, "cy", t1)
	require.NoError(t, err)
	q = apply(t, q, d)
	assert.Equal(t, "eleven pallets", q.Description)
	assert.Equal(t, "cy", q.LastEditedBy)
	assert.Equal(t, t1, q.LastEditedAt)
	assert.Equal(t, t1, q.LastActivityAt)
	assert.Equal(t, "bo", q.RemarkBy, "remarks untouched")

	d, err = Edit(q.Prior(), models.Delta{models.FieldRemarks: "call tuesday"}, "cy", t2)
	require.NoError(t, err)
	q = apply(t, q, d)
	assert.Equal(t, "cy", q.RemarkBy)
	assert.Equal(t, t2, q.RemarkAt)

	// same remarks again: no new remark stamp
	d, err = Edit(q.Prior(), models.Delta{models.FieldRemarks: "call tuesday"}, "dee", t2.Add(time.Hour))
	require.NoError(t, err)
	q = apply(t, q, d)
	assert.Equal(t, "cy", q.RemarkBy)
	assert.Equal(t, "dee", q.LastEditedBy)
}

func TestEdit_KeepsStageStamps(t *testing.T) {
	q := fullRecord(models.BucketE)

	d, err := Edit(q.Prior(), models.Delta{models.FieldInvoiceRef: "INV-4"}, "cy", t1)
	require.NoError(t, err)
	q = apply(t, q, d)

	assert.Equal(t, t0, q.RefEnteredAt)
	assert.Equal(t, t0, q.ProposalSentAt)
	assert.Equal(t, t0, q.AssignedAt)
	assert.Equal(t, models.BucketE, q.Bucket)
}

func TestEdit_Invalid(t *testing.T) {
	q := fullRecord(models.BucketA)

	_, err := Edit(q.Prior(), models.Delta{models.FieldAddedBy: "x"}, "cy", t1)
	assert.ErrorIs(t, err, ErrValidation, "only protected fields")

	_, err = Edit(q.Prior(), models.Delta{models.FieldOrderRef: "PO-1"}, "cy", t1)
	assert.ErrorIs(t, err, ErrValidation, "later-stage field")

	_, err = Edit(q.Prior(), models.Delta{models.FieldVerified: "perhaps"}, "cy", t1)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = Edit(q.Prior(), models.Delta{models.FieldDescription: ""}, "cy", t1)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = Edit(q.Prior(), models.Delta{models.FieldType: "bogus"}, "cy", t1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAssign(t *testing.T) {
	q := fullRecord(models.BucketA)

	d, err := Assign(q.Prior(), "bo", "ana", t1)
	require.NoError(t, err)
	q = apply(t, q, d)
	assert.Equal(t, models.BucketB, q.Bucket)
	assert.Equal(t, "bo", q.AssignedTo)
	assert.Equal(t, "ana", q.AssignedBy)
	assert.Equal(t, t1, q.AssignedAt)

	q = fullRecord(models.BucketD)
	d, err = Assign(q.Prior(), "cy", "ana", t1)
	require.NoError(t, err)
	q = apply(t, q, d)
	assert.Equal(t, models.BucketD, q.Bucket)
	assert.Equal(t, "cy", q.AssignedTo)

	_, err = Assign(q.Prior(), "", "ana", t1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStageFields(t *testing.T) {
	assert.Empty(t, StageFields(models.BucketA))
	assert.Contains(t, StageFields(models.BucketB), models.FieldAssignedTo)
	assert.Equal(t, []models.Field{models.FieldPendingNote, models.FieldProposalSentAt}, StageFields(models.BucketC))
	assert.Empty(t, StageFields(models.BucketD))
	assert.Equal(t, []models.Field{models.FieldDiscardedAt}, StageFields(models.BucketG))
	assert.Empty(t, ClearedFields(models.BucketH))
}

func TestCheckNoLeakage_Detects(t *testing.T) {
	q := fullRecord(models.BucketB)
	q.OrderRef = "PO-1"
	assert.Error(t, CheckNoLeakage(q))

	q = fullRecord(models.BucketB)
	q.DeleteRejected = true
	assert.NoError(t, CheckNoLeakage(q), "rejection marker is exempt")
}

func TestCompute_MatchesDirectCalls(t *testing.T) {
	q := fullRecord(models.BucketC)

	direct, err := Transition(q.Prior(), models.BucketA, nil, "ana", t1)
	require.NoError(t, err)
	viaCompute, err := Compute(MutationRequest{
		Kind:   models.ActionTransition,
		Target: models.BucketA,
		Actor:  "ana",
		At:     t1,
	}, q.Prior())
	require.NoError(t, err)
	assert.Equal(t, direct, viaCompute)

	_, err = Compute(MutationRequest{Kind: models.ActionAdd, Actor: "ana", At: t1}, q.Prior())
	assert.ErrorIs(t, err, ErrValidation)

	_, err = Compute(MutationRequest{Kind: "frobnicate", Actor: "ana", At: t1}, q.Prior())
	assert.ErrorIs(t, err, ErrValidation)
}
