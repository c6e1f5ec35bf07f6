// Package recordstore provides the record server's persistence of query rows.
package recordstore

import (
	"context"
	"errors"
	"time"

	"github.com/kilupskalvis/qsync/internal/models"
)

// Sentinel errors for expected conditions.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidField = errors.New("invalid field")
)

// RecordStore holds the rows of one sheet. Every value is stored as the
// string cell produced by models.Query.Get.
type RecordStore interface {
	// Create inserts a row and returns its id. A non-empty clientKey that was
	// already used returns the existing id with created=false.
	Create(ctx context.Context, clientKey string, fields models.Delta) (id string, created bool, err error)

	// SetFields writes the given cells of one row in a single statement.
	SetFields(ctx context.Context, id string, fields models.Delta) error

	Get(ctx context.Context, id string) (*models.Query, error)

	// All returns every row in insertion order.
	All(ctx context.Context) ([]models.Query, error)

	// PurgeDeleted removes rows whose deletion was approved before olderThan.
	PurgeDeleted(ctx context.Context, olderThan time.Time) (int, error)

	Close() error
}
