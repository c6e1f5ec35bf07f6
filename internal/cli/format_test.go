package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/qsync/internal/models"
)

func TestParseAssignments(t *testing.T) {
	d, err := parseAssignments([]string{"order_ref=SO-1", "remarks=a=b", "pending_note="})
	require.NoError(t, err)
	assert.Equal(t, models.Delta{
		models.FieldOrderRef:    "SO-1",
		models.FieldRemarks:     "a=b",
		models.FieldPendingNote: "",
	}, d)

	_, err = parseAssignments([]string{"order_ref"})
	assert.Error(t, err)

	_, err = parseAssignments([]string{"colour=red"})
	assert.Error(t, err)
}

func TestGroupByBucket(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	records := []models.Query{
		{ID: "Q-1", Bucket: models.BucketA, LastActivityAt: t0},
		{ID: "Q-2", Bucket: models.BucketA, LastActivityAt: t0.Add(time.Hour)},
		{ID: "Q-3", Bucket: models.BucketC, AssignedTo: "bob"},
		{ID: "Q-4", Bucket: models.BucketH, DeleteApprovedAt: t0},
		{ID: "Q-5", Bucket: models.BucketH},
	}

	groups := groupByBucket(records, listFilter{})
	require.Len(t, groups[models.BucketA], 2)
	assert.Equal(t, "Q-2", groups[models.BucketA][0].ID, "most recent first")
	require.Len(t, groups[models.BucketH], 1, "approved deletions hidden")
	assert.Equal(t, "Q-5", groups[models.BucketH][0].ID)

	groups = groupByBucket(records, listFilter{Deleted: true})
	assert.Len(t, groups[models.BucketH], 2)

	groups = groupByBucket(records, listFilter{Assignee: "bob"})
	assert.Len(t, groups, 1)
	assert.Len(t, groups[models.BucketC], 1)

	groups = groupByBucket(records, listFilter{Buckets: []models.Bucket{models.BucketC, models.BucketA}})
	assert.Len(t, groups[models.BucketA], 2)
	assert.Len(t, groups[models.BucketC], 1)
	assert.Empty(t, groups[models.BucketH])
}

func TestFormatRow(t *testing.T) {
	q := models.Query{ID: "Q-7", Bucket: models.BucketH, Type: models.QueryTypeSales, Description: "Quote", AssignedTo: "bob", DeleteRequestedBy: "alice", IsPending: true}
	row := formatRow(q)
	assert.Contains(t, row, "* Q-7")
	assert.Contains(t, row, "@bob")
	assert.Contains(t, row, "delete requested by alice")

	temp := models.Query{ID: "temp_1", TempID: "temp_1", Bucket: models.BucketA, Description: "new one"}
	assert.Contains(t, formatRow(temp), "(new)")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "two lines", truncate("two\nlines", 20))
}

func TestHumanizeSince(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "never", humanizeSince(time.Time{}, now))
	assert.Equal(t, "5s ago", humanizeSince(now.Add(-5*time.Second), now))
	assert.Equal(t, "3m ago", humanizeSince(now.Add(-3*time.Minute), now))
	assert.Equal(t, "2h ago", humanizeSince(now.Add(-2*time.Hour), now))
	assert.Equal(t, "4d ago", humanizeSince(now.Add(-96*time.Hour), now))
}

func TestCountByBucket(t *testing.T) {
	counts := countByBucket([]models.Query{
		{Bucket: models.BucketA},
		{Bucket: models.BucketA},
		{Bucket: models.BucketH},
		{Bucket: models.BucketH, DeleteApprovedAt: time.Now()},
	})
	assert.Equal(t, 2, counts[models.BucketA])
	assert.Equal(t, 1, counts[models.BucketH])
	assert.Zero(t, counts[models.BucketB])
}

func TestDiffSnapshots(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	prev := models.Snapshot{Records: []models.Query{
		{ID: "Q-1", Bucket: models.BucketA, LastActivityAt: t0},
		{ID: "Q-2", Bucket: models.BucketB, LastActivityAt: t0},
		{ID: "Q-3", Bucket: models.BucketC, LastActivityAt: t0},
		{ID: "temp_x", TempID: "temp_x", Bucket: models.BucketA},
	}}
	next := models.Snapshot{Records: []models.Query{
		{ID: "Q-4", Bucket: models.BucketA, LastActivityAt: t0},
		{ID: "Q-1", Bucket: models.BucketC, LastActivityAt: t0.Add(time.Minute)},
		{ID: "Q-2", Bucket: models.BucketB, LastActivityAt: t0, IsPending: true},
		{ID: "Q-3", Bucket: models.BucketC, LastActivityAt: t0, LastEditedAt: t0.Add(time.Minute)},
	}}

	lines := diffSnapshots(prev, next, listFilter{})
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "+ A")
	assert.Contains(t, lines[0], "Q-4")
	assert.Contains(t, lines[1], "~ A -> C")
	assert.Contains(t, lines[2], "~ C")
	assert.Contains(t, lines[2], "Q-3")

	removed := diffSnapshots(next, models.Snapshot{}, listFilter{Buckets: []models.Bucket{models.BucketB}})
	require.Len(t, removed, 1)
	assert.Contains(t, removed[0], "- B")
}
