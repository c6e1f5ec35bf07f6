package recordstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilupskalvis/qsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_Migrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)

	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, v)
	require.NoError(t, s.Close())

	// Reopening an up-to-date database is a no-op.
	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	v, err = s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, v)
}

func TestSQLiteStore_CreateAssignsSequentialIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id1, created, err := s.Create(ctx, "temp_a", models.Delta{models.FieldDescription: "first"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Q-1", id1)

	id2, _, err := s.Create(ctx, "", models.Delta{models.FieldDescription: "second", models.FieldID: "spoofed"})
	require.NoError(t, err)
	assert.Equal(t, "Q-2", id2)

	q, err := s.Get(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "first", q.Description)
	assert.Equal(t, models.BucketA, q.Bucket)
}

func TestSQLiteStore_CreateIsIdempotentOnClientKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id1, created, err := s.Create(ctx, "temp_1", models.Delta{models.FieldDescription: "pumps"})
	require.NoError(t, err)
	require.True(t, created)

	id2, created, err := s.Create(ctx, "temp_1", models.Delta{models.FieldDescription: "pumps"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id1, id2)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteStore_CreateRejectsUnknownField(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.Create(context.Background(), "", models.Delta{"colour": "red"})
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestSQLiteStore_SetFields(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, _, err := s.Create(ctx, "", models.Delta{
		models.FieldDescription: "pumps",
		models.FieldAssignedTo:  "bo",
		models.FieldBucket:      "B",
	})
	require.NoError(t, err)

	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetFields(ctx, id, models.Delta{
		models.FieldBucket:         "A",
		models.FieldAssignedTo:     "",
		models.FieldLastActivityAt: models.FormatTime(at),
	}))

	q, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.BucketA, q.Bucket)
	assert.Empty(t, q.AssignedTo)
	assert.Equal(t, "pumps", q.Description)
	assert.Equal(t, at, q.LastActivityAt)
}

func TestSQLiteStore_SetFieldsNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.SetFields(context.Background(), "Q-99", models.Delta{models.FieldRemarks: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(context.Background(), "Q-99")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_AllInInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, d := range []string{"one", "two", "three"} {
		_, _, err := s.Create(ctx, "", models.Delta{models.FieldDescription: d})
		require.NoError(t, err)
	}

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "one", all[0].Description)
	assert.Equal(t, "three", all[2].Description)
}

func TestSQLiteStore_PurgeDeleted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 1, 0, 0, 0, 500, time.UTC)

	oldID, _, err := s.Create(ctx, "", models.Delta{
		models.FieldDescription: "old", models.FieldBucket: "H",
		models.FieldDeleteApprovedAt: models.FormatTime(old),
	})
	require.NoError(t, err)
	_, _, err = s.Create(ctx, "", models.Delta{
		models.FieldDescription: "recent", models.FieldBucket: "H",
		models.FieldDeleteApprovedAt: models.FormatTime(recent),
	})
	require.NoError(t, err)
	_, _, err = s.Create(ctx, "", models.Delta{
		models.FieldDescription: "pending", models.FieldBucket: "H",
		models.FieldDeleteRequestedAt: models.FormatTime(old),
	})
	require.NoError(t, err)

	n, err := s.PurgeDeleted(ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, oldID)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
