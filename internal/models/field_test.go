package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_GetSet_RoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 4, 10, 30, 0, 123, time.UTC)
	q := Query{
		ID:             "Q-1",
		Bucket:         BucketE,
		Description:    "quote for pumps",
		Type:           QueryTypeSales,
		Verified:       true,
		AssignedTo:     "ana",
		AssignedAt:     at,
		RefEnteredAt:   at,
		DeleteRejected: true,
	}

	var out Query
	for _, f := range Fields {
		require.NoError(t, out.Set(f, q.Get(f)), "field %s", f)
	}
	assert.Equal(t, q, out)
}

func TestQuery_Set_Clears(t *testing.T) {
	q := Query{
		Remarks:    "call back",
		Verified:   true,
		AssignedAt: time.Now(),
	}

	require.NoError(t, q.Set(FieldRemarks, ""))
	require.NoError(t, q.Set(FieldVerified, ""))
	require.NoError(t, q.Set(FieldAssignedAt, ""))

	assert.Empty(t, q.Remarks)
	assert.False(t, q.Verified)
	assert.True(t, q.AssignedAt.IsZero())
}

func TestQuery_Set_Invalid(t *testing.T) {
	q := Query{Bucket: BucketA}

	assert.Error(t, q.Set(FieldBucket, "Z"))
	assert.Error(t, q.Set(FieldBucket, ""))
	assert.Error(t, q.Set(FieldVerified, "maybe"))
	assert.Error(t, q.Set(FieldAssignedAt, "yesterday"))
	assert.Error(t, q.Set(Field("colour"), "red"))
	assert.Equal(t, BucketA, q.Bucket)
}

func TestFormatTime_UTC(t *testing.T) {
	loc := time.FixedZone("plus2", 2*60*60)
	ts := time.Date(2026, 1, 2, 12, 0, 0, 0, loc)

	s := FormatTime(ts)
	assert.Equal(t, "2026-01-02T10:00:00Z", s)

	parsed, err := ParseTime(s)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
	assert.Empty(t, FormatTime(time.Time{}))
}

func TestDelta_Apply_Atomic(t *testing.T) {
	q := Query{Bucket: BucketB, Description: "before"}

	err := Delta{
		FieldDescription: "after",
		FieldVerified:    "nope",
	}.Apply(&q)
	require.Error(t, err)
	assert.Equal(t, "before", q.Description)

	require.NoError(t, Delta{FieldDescription: "after", FieldBucket: "C"}.Apply(&q))
	assert.Equal(t, "after", q.Description)
	assert.Equal(t, BucketC, q.Bucket)
}

func TestDelta_FieldsSortedAndMerge(t *testing.T) {
	d := Delta{FieldRemarks: "x", FieldBucket: "B"}
	d.Merge(Delta{FieldRemarks: "y", FieldAssignedTo: "bo"})

	assert.Equal(t, []Field{FieldAssignedTo, FieldBucket, FieldRemarks}, d.Fields())
	assert.Equal(t, "y", d[FieldRemarks])

	c := d.Clone()
	c[FieldRemarks] = "z"
	assert.Equal(t, "y", d[FieldRemarks])
}

func TestQuery_Values_OmitsEmpty(t *testing.T) {
	q := Query{ID: "Q-7", Bucket: BucketA, Description: "d"}
	assert.Equal(t, Delta{FieldID: "Q-7", FieldBucket: "A", FieldDescription: "d"}, q.Values())
}
