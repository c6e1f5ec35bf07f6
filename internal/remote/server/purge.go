package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kilupskalvis/qsync/internal/remote"
	"github.com/kilupskalvis/qsync/internal/remote/recordstore"
)

// Purge removes records whose deletion was approved before olderThan.
// Pending delete requests are never touched.
func Purge(ctx context.Context, store recordstore.RecordStore, olderThan time.Time, logger *slog.Logger) (*remote.PurgeResult, error) {
	n, err := store.PurgeDeleted(ctx, olderThan)
	if err != nil {
		return nil, fmt.Errorf("purge deleted records: %w", err)
	}

	logger.Info("purge complete",
		"older_than", olderThan.UTC().Format(time.RFC3339),
		"purged", n,
	)

	return &remote.PurgeResult{Purged: n}, nil
}
