package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kilupskalvis/qsync/internal/lifecycle"
	"github.com/kilupskalvis/qsync/internal/models"
)

// TempIDPrefix marks ids allocated locally before the remote assigns one.
const TempIDPrefix = "temp_"

// Transition moves a record to target, applying patch in the same step.
func (e *Engine) Transition(ctx context.Context, id string, target models.Bucket, patch models.Delta, actor string) error {
	return e.Mutate(ctx, id, lifecycle.MutationRequest{
		Kind:   models.ActionTransition,
		Target: target,
		Patch:  patch,
		Actor:  actor,
	})
}

// Edit changes fields of a record without moving it.
func (e *Engine) Edit(ctx context.Context, id string, patch models.Delta, actor string) error {
	return e.Mutate(ctx, id, lifecycle.MutationRequest{
		Kind:  models.ActionEdit,
		Patch: patch,
		Actor: actor,
	})
}

// Assign assigns a record to assignee.
func (e *Engine) Assign(ctx context.Context, id, assignee, actor string) error {
	return e.Mutate(ctx, id, lifecycle.MutationRequest{
		Kind:     models.ActionAssign,
		Assignee: assignee,
		Actor:    actor,
	})
}

// RequestDelete starts the deletion sub-workflow. A privileged actor approves in the same step.
func (e *Engine) RequestDelete(ctx context.Context, id, actor string, privileged bool) error {
	return e.Mutate(ctx, id, lifecycle.MutationRequest{
		Kind:       models.ActionRequestDelete,
		Actor:      actor,
		Privileged: privileged,
	})
}

// ApproveDelete approves a pending delete request.
func (e *Engine) ApproveDelete(ctx context.Context, id, actor string) error {
	return e.Mutate(ctx, id, lifecycle.MutationRequest{
		Kind:  models.ActionApproveDelete,
		Actor: actor,
	})
}

// RejectDelete rejects a pending delete request using the engine's reject policy.
func (e *Engine) RejectDelete(ctx context.Context, id, actor string) error {
	return e.Mutate(ctx, id, lifecycle.MutationRequest{
		Kind:  models.ActionRejectDelete,
		Actor: actor,
	})
}

// Mutate applies req to record id optimistically, sends it to the gateway and
// blocks until it is confirmed or rolled back. A *lifecycle.ValidationError is
// returned before anything changes. A gateway failure returns an
// *OperationError after the record has been restored. So does an action
// that an earlier failed action on the same record invalidated, even when
// the gateway accepted it.
func (e *Engine) Mutate(ctx context.Context, id string, req lifecycle.MutationRequest) error {
	if req.At.IsZero() {
		req.At = e.clock()
	}
	if req.Kind == models.ActionRejectDelete && req.Policy == "" {
		req.Policy = e.policy
	}

	e.mu.Lock()
	idx := e.indexLocked(id)
	if idx < 0 {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownRecord, id)
	}
	before := e.records[idx]
	if before.IsTemp() {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRecordUnconfirmed, id)
	}

	hints := before.Prior()
	delta, err := lifecycle.Compute(req, hints)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	next := before
	if err := delta.Apply(&next); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("apply %s: %w", req.Kind, err)
	}
	next.IsPending = true
	e.records[idx] = next
	seq := e.bumpLocked(id)
	gen := e.gen
	ent := e.ledger.push(id, req, &before, seq)
	e.logger.Debug("mutation applied", "record", id, "op", req.Kind, "fields", len(delta))
	e.notifyLocked()
	e.mu.Unlock()

	gwErr := e.gw.MutateRecord(ctx, id, req, hints)

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		if gwErr != nil {
			return &OperationError{RecordID: id, Op: req.Kind, Err: gwErr}
		}
		return nil
	}
	if ent.dropped != nil {
		e.mu.Unlock()
		err := gwErr
		if err == nil {
			// the remote applied it, the next refresh brings its outcome back
			err = fmt.Errorf("%w: %w", ErrInvalidatedByRollback, ent.dropped)
		}
		e.logger.Warn("mutation discarded", "record", id, "op", req.Kind, "error", err)
		return &OperationError{RecordID: id, Op: req.Kind, Err: err}
	}
	if gwErr == nil {
		e.confirmLocked(id, ent.action.ID)
		view, seq := e.settledLocked(), e.seq
		e.mu.Unlock()
		e.persist(view, seq, gen)
		return nil
	}

	e.rollbackLocked(id, ent.action.ID)
	e.mu.Unlock()
	e.logger.Warn("mutation rolled back", "record", id, "op", req.Kind, "error", gwErr)
	return &OperationError{RecordID: id, Op: req.Kind, Err: gwErr}
}

func (e *Engine) confirmLocked(id, actionID string) {
	remaining, ok := e.ledger.confirm(id, actionID)
	if !ok {
		return
	}
	if idx := e.indexLocked(id); idx >= 0 && remaining == 0 {
		e.records[idx].IsPending = false
	}
	e.bumpLocked(id)
	e.notifyLocked()
}

// rollbackLocked removes a failed action. The record is rebuilt from the
// ledger base by replaying the surviving actions in order, so a failure never
// leaves another action's intermediate state behind.
func (e *Engine) rollbackLocked(id, actionID string) {
	list := e.ledger.entries(id)
	pos := -1
	for i, ent := range list {
		if ent.action.ID == actionID {
			pos = i
			break
		}
	}
	if pos < 0 || list[0].action.Before == nil {
		return
	}

	cur := *list[0].action.Before
	survivors := make([]*entry, 0, len(list)-1)
	for i, ent := range list {
		if i == pos {
			continue
		}
		b := cur
		delta, err := lifecycle.Compute(ent.req, b.Prior())
		if err == nil {
			err = delta.Apply(&cur)
		}
		if err != nil {
			e.logger.Warn("dropping action invalidated by rollback", "record", id, "op", ent.req.Kind, "error", err)
			ent.dropped = err
			continue
		}
		ent.action.Before = &b
		survivors = append(survivors, ent)
	}

	remaining := e.ledger.set(id, dropConfirmed(survivors))
	cur.IsPending = remaining > 0

	if idx := e.indexLocked(id); idx >= 0 {
		e.records[idx] = cur
	}
	e.bumpLocked(id)
	e.notifyLocked()
}

// AddHandle tracks an optimistic add whose create call is in flight.
type AddHandle struct {
	TempID string

	done chan struct{}
	id   string
	err  error
}

// Wait blocks until the create call settles and returns the server-assigned id.
func (h *AddHandle) Wait() (string, error) {
	<-h.done
	return h.id, h.err
}

// Done is closed once the create call has settled.
func (h *AddHandle) Done() <-chan struct{} {
	return h.done
}

// Add inserts a new record under a temporary id and creates it remotely in
// the background. ctx bounds the create call.
func (e *Engine) Add(ctx context.Context, in lifecycle.NewQueryInput, actor string) (*AddHandle, error) {
	now := e.clock()
	q, err := lifecycle.NewQuery(in, actor, now)
	if err != nil {
		return nil, err
	}

	tempID := TempIDPrefix + uuid.NewString()
	q.ID = tempID
	q.TempID = tempID
	q.IsPending = true

	fields := q.Values()
	delete(fields, models.FieldID)

	e.mu.Lock()
	e.records = append([]models.Query{q}, e.records...)
	seq := e.bumpLocked(tempID)
	gen := e.gen
	e.ledger.push(tempID, lifecycle.MutationRequest{Kind: models.ActionAdd, Actor: actor, At: now}, nil, seq)
	e.logger.Debug("record added", "record", tempID)
	e.notifyLocked()
	e.mu.Unlock()

	h := &AddHandle{TempID: tempID, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		id, err := e.gw.CreateRecord(ctx, tempID, fields)
		if err != nil {
			e.abandonAdd(tempID, gen)
			e.logger.Warn("add rolled back", "record", tempID, "error", err)
			h.err = &OperationError{RecordID: tempID, Op: models.ActionAdd, Err: err}
			return
		}
		e.confirmAdd(tempID, id, gen)
		h.id = id
	}()
	return h, nil
}

// AddAndWait is Add followed by Wait.
func (e *Engine) AddAndWait(ctx context.Context, in lifecycle.NewQueryInput, actor string) (string, error) {
	h, err := e.Add(ctx, in, actor)
	if err != nil {
		return "", err
	}
	return h.Wait()
}

func (e *Engine) abandonAdd(tempID string, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return
	}

	e.ledger.drop(tempID)
	delete(e.touched, tempID)
	if idx := e.indexLocked(tempID); idx >= 0 {
		e.records = append(e.records[:idx], e.records[idx+1:]...)
	}
	e.seq++
	e.notifyLocked()
}

// confirmAdd gives the temp record its server id. A refresh may already have
// delivered the row under that id; if it has been mutated locally since the
// add, it is kept and the temp record is dropped, otherwise the temp record
// takes its place.
func (e *Engine) confirmAdd(tempID, id string, gen uint64) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return
	}
	addSeq := e.touched[tempID]
	e.ledger.drop(tempID)
	delete(e.touched, tempID)

	keepDelivered := false
	if idx := e.indexLocked(id); idx >= 0 {
		keepDelivered = e.ledger.has(id) || e.touched[id] > addSeq
		if !keepDelivered {
			e.records = append(e.records[:idx], e.records[idx+1:]...)
		}
	}
	if idx := e.indexLocked(tempID); idx >= 0 {
		if keepDelivered {
			e.records = append(e.records[:idx], e.records[idx+1:]...)
		} else {
			rec := &e.records[idx]
			rec.ID = id
			rec.TempID = ""
		}
	}
	if idx := e.indexLocked(id); idx >= 0 {
		e.records[idx].IsPending = e.ledger.has(id)
	}
	e.bumpLocked(id)
	e.logger.Debug("record confirmed", "temp_id", tempID, "record", id, "kept_delivered", keepDelivered)
	e.notifyLocked()
	view, seq := e.settledLocked(), e.seq
	e.mu.Unlock()

	e.persist(view, seq, gen)
}
