package lifecycle

import (
	"time"

	"github.com/kilupskalvis/qsync/internal/models"
)

// MutationRequest describes one mutation intent. It carries the client's
// timestamp so replaying a request yields the same stamps.
type MutationRequest struct {
	Kind       models.ActionKind `json:"kind"`
	Target     models.Bucket     `json:"target,omitempty"`
	Patch      models.Delta      `json:"patch,omitempty"`
	Assignee   string            `json:"assignee,omitempty"`
	Actor      string            `json:"actor"`
	Privileged bool              `json:"privileged,omitempty"`
	Policy     RejectPolicy      `json:"policy,omitempty"`
	At         time.Time         `json:"at"`
}

// Compute dispatches req to the rule for its kind.
func Compute(req MutationRequest, prior models.PriorState) (models.Delta, error) {
	switch req.Kind {
	case models.ActionTransition:
		return Transition(prior, req.Target, req.Patch, req.Actor, req.At)
	case models.ActionEdit:
		return Edit(prior, req.Patch, req.Actor, req.At)
	case models.ActionAssign:
		return Assign(prior, req.Assignee, req.Actor, req.At)
	case models.ActionRequestDelete:
		return RequestDelete(prior, req.Actor, req.Privileged, req.At)
	case models.ActionApproveDelete:
		return ApproveDelete(prior, req.Actor, req.At)
	case models.ActionRejectDelete:
		policy := req.Policy
		if policy == "" {
			policy = RejectToEarliest
		}
		return RejectDelete(prior, req.Actor, policy, req.At)
	case models.ActionAdd:
		return nil, invalid(string(req.Kind), "creation is not a mutation")
	}
	return nil, invalid(string(req.Kind), "unknown mutation kind")
}
