// Package remote defines the gateway contract between a qsync client and the
// record server, the wire protocol types and the HTTP clients speaking it.
package remote

import (
	"time"

	"github.com/kilupskalvis/qsync/internal/lifecycle"
	"github.com/kilupskalvis/qsync/internal/models"
)

// CreateRecordRequest asks the server to insert a record. ClientKey makes a
// repeated request return the id of the first insert.
type CreateRecordRequest struct {
	ClientKey string       `json:"client_key"`
	Fields    models.Delta `json:"fields"`
}

// CreateRecordResponse carries the server-assigned id.
type CreateRecordResponse struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// MutateRecordRequest carries a mutation intent plus the prior-state hints
// the server needs to recompute the same delta without reading the row.
type MutateRecordRequest struct {
	Mutation lifecycle.MutationRequest `json:"mutation"`
	Hints    models.PriorState         `json:"hints"`
}

// MutateRecordResponse echoes the delta the server wrote.
type MutateRecordResponse struct {
	Applied models.Delta `json:"applied"`
}

// RecordList is the response of a full read.
type RecordList struct {
	Records []models.Query `json:"records"`
	ReadAt  time.Time      `json:"read_at"`
}

// PurgeRequest selects approved deletions older than a cutoff.
type PurgeRequest struct {
	OlderThan time.Time `json:"older_than"`
}

// PurgeResult reports how many records a purge removed.
type PurgeResult struct {
	Purged int `json:"purged"`
}

// ErrorResponse is the structured error format returned by the server.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail,omitempty"`
}
