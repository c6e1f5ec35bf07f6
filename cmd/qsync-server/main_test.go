package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilupskalvis/qsync/internal/remote/recordstore"
	"github.com/kilupskalvis/qsync/internal/remote/server"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDiskSheetOpener_Lifecycle(t *testing.T) {
	d := &diskSheetOpener{dir: t.TempDir(), stores: make(map[string]*recordstore.SQLiteStore), logger: quietLogger()}
	defer d.CloseAll()

	_, err := d.Open("sales")
	assert.ErrorIs(t, err, server.ErrSheetNotFound)

	require.NoError(t, d.Create("sales"))
	assert.ErrorIs(t, d.Create("sales"), server.ErrSheetExists)
	assert.ErrorIs(t, d.Create("../x"), server.ErrInvalidName)

	store, err := d.Open("sales")
	require.NoError(t, err)
	assert.NotNil(t, store)

	names, err := d.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"sales"}, names)

	require.NoError(t, d.Delete("sales"))
	assert.ErrorIs(t, d.Delete("sales"), server.ErrSheetNotFound)

	names, err = d.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}
