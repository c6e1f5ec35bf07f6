// Package store is the client-facing facade over the sync engine. It exposes
// the snapshot reactively, one blocking method per operation, the sync status
// and a stream of retryable failure notifications.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilupskalvis/qsync/internal/engine"
	"github.com/kilupskalvis/qsync/internal/lifecycle"
	"github.com/kilupskalvis/qsync/internal/models"
)

// ErrNotPermitted is returned when the actor lacks the approver capability.
var ErrNotPermitted = errors.New("actor is not permitted to approve or reject deletions")

// ErrUnknownRetry is returned by Retry for a token it does not hold.
var ErrUnknownRetry = errors.New("unknown retry token")

// notificationBuffer bounds undelivered notifications; older ones are dropped first.
const notificationBuffer = 32

// Actor is the identity operations run as. Privileged is supplied by the
// caller's authorization layer.
type Actor struct {
	Name       string
	Privileged bool
}

// SyncStatus summarises the client's sync state for status indicators.
type SyncStatus struct {
	Pending      int
	LastSyncedAt time.Time
	Syncing      bool
}

// Notification reports an operation that failed remotely and was rolled back.
type Notification struct {
	RecordID string
	Op       models.ActionKind
	Err      error
	Token    string // pass to Retry
}

// failedOp is what Retry needs to re-issue an operation.
type failedOp struct {
	recordID string
	req      lifecycle.MutationRequest
	add      *lifecycle.NewQueryInput
}

// Store wraps one Engine for one actor.
type Store struct {
	engine *engine.Engine
	actor  Actor
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[int]chan models.Snapshot
	nextSub int
	notes   chan Notification
	failed  map[string]failedOp
	closed  bool
}

// New attaches a Store to e. The store becomes e's observer.
func New(e *engine.Engine, actor Actor, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		engine: e,
		actor:  actor,
		logger: logger,
		subs:   make(map[int]chan models.Snapshot),
		notes:  make(chan Notification, notificationBuffer),
		failed: make(map[string]failedOp),
	}
	e.SetObserver(s.publish)
	return s
}

// Actor returns the identity the store acts as.
func (s *Store) Actor() Actor {
	return s.actor
}

// Start seeds the snapshot from the durable cache and starts background refresh.
func (s *Store) Start(ctx context.Context) {
	s.engine.Seed()
	s.engine.Start(ctx)
}

// Load seeds the snapshot from the durable cache and runs one foreground
// refresh. It is the one-shot alternative to Start.
func (s *Store) Load(ctx context.Context) error {
	s.engine.Seed()
	return s.Refresh(ctx)
}

// Stop halts background refresh and keeps the durable cache.
func (s *Store) Stop() {
	s.engine.Stop()
}

// Refresh runs one foreground read and merge.
func (s *Store) Refresh(ctx context.Context) error {
	_, err := s.engine.Refresh(ctx)
	return err
}

// Snapshot returns an immutable copy of the current snapshot.
func (s *Store) Snapshot() models.Snapshot {
	return s.engine.Snapshot()
}

// Subscribe returns a channel that always holds the latest snapshot. Slow
// readers skip intermediate versions. Call the returned func to unsubscribe.
func (s *Store) Subscribe() (<-chan models.Snapshot, func()) {
	ch := make(chan models.Snapshot, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	// deliver the current state through the observer path so ordering holds
	s.engine.Emit()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// publish runs under the engine lock and never blocks.
func (s *Store) publish(snap models.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Notifications delivers failures of operations issued through this store.
func (s *Store) Notifications() <-chan Notification {
	return s.notes
}

// Status reports the pending count, last sync time and whether a read is in flight.
func (s *Store) Status() SyncStatus {
	return SyncStatus{
		Pending:      s.engine.PendingCount(),
		LastSyncedAt: s.engine.Snapshot().LastSyncedAt,
		Syncing:      s.engine.Syncing(),
	}
}

// PendingCount returns the number of unconfirmed operations.
func (s *Store) PendingCount() int {
	return s.engine.PendingCount()
}

// Add creates a query and returns its server-assigned id once confirmed.
func (s *Store) Add(ctx context.Context, in lifecycle.NewQueryInput) (string, error) {
	h, err := s.engine.Add(ctx, in, s.actor.Name)
	if err != nil {
		return "", err
	}
	id, err := h.Wait()
	if err != nil {
		s.fail(failedOp{recordID: h.TempID, req: lifecycle.MutationRequest{Kind: models.ActionAdd}, add: &in}, err)
		return "", err
	}
	return id, nil
}

// Transition moves a record to target with an optional patch.
func (s *Store) Transition(ctx context.Context, id string, target models.Bucket, patch models.Delta) error {
	return s.mutate(ctx, id, lifecycle.MutationRequest{Kind: models.ActionTransition, Target: target, Patch: patch})
}

// Edit changes fields of a record.
func (s *Store) Edit(ctx context.Context, id string, patch models.Delta) error {
	return s.mutate(ctx, id, lifecycle.MutationRequest{Kind: models.ActionEdit, Patch: patch})
}

// Assign assigns a record.
func (s *Store) Assign(ctx context.Context, id, assignee string) error {
	return s.mutate(ctx, id, lifecycle.MutationRequest{Kind: models.ActionAssign, Assignee: assignee})
}

// RequestDelete asks for deletion. A privileged actor deletes immediately.
func (s *Store) RequestDelete(ctx context.Context, id string) error {
	return s.mutate(ctx, id, lifecycle.MutationRequest{Kind: models.ActionRequestDelete, Privileged: s.actor.Privileged})
}

// ApproveDelete approves a pending deletion.
func (s *Store) ApproveDelete(ctx context.Context, id string) error {
	if !s.actor.Privileged {
		return ErrNotPermitted
	}
	return s.mutate(ctx, id, lifecycle.MutationRequest{Kind: models.ActionApproveDelete})
}

// RejectDelete rejects a pending deletion.
func (s *Store) RejectDelete(ctx context.Context, id string) error {
	if !s.actor.Privileged {
		return ErrNotPermitted
	}
	return s.mutate(ctx, id, lifecycle.MutationRequest{Kind: models.ActionRejectDelete})
}

func (s *Store) mutate(ctx context.Context, id string, req lifecycle.MutationRequest) error {
	req.Actor = s.actor.Name
	err := s.engine.Mutate(ctx, id, req)
	if err != nil && errors.Is(err, engine.ErrRemoteRejected) {
		s.fail(failedOp{recordID: id, req: req}, err)
	}
	return err
}

// fail queues a retryable notification.
func (s *Store) fail(op failedOp, err error) {
	token := uuid.NewString()
	n := Notification{RecordID: op.recordID, Op: op.req.Kind, Err: err, Token: token}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.failed[token] = op
	for {
		select {
		case s.notes <- n:
			return
		default:
		}
		// full: drop the oldest undelivered notification
		select {
		case old := <-s.notes:
			delete(s.failed, old.Token)
			s.logger.Warn("notification dropped", "record", old.RecordID, "op", old.Op)
		default:
		}
	}
}

// Retry re-issues a failed operation against the current snapshot. The
// original timestamp is not reused.
func (s *Store) Retry(ctx context.Context, token string) error {
	s.mu.Lock()
	op, ok := s.failed[token]
	delete(s.failed, token)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRetry, token)
	}

	if op.add != nil {
		_, err := s.Add(ctx, *op.add)
		return err
	}
	req := op.req
	req.At = time.Time{}
	return s.mutate(ctx, op.recordID, req)
}

// Close stops the engine, clears the durable cache and closes all channels.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.engine.Logout()
	s.engine.SetObserver(nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	close(s.notes)
	s.failed = nil
	return err
}
