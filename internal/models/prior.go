package models

// PriorState is the minimum pre-mutation context needed to recompute a
// lifecycle delta. The client sends it alongside every mutation so the
// record server reaches the same post-state without reading the row first.
type PriorState struct {
	Bucket            Bucket `json:"bucket"`
	Remarks           string `json:"remarks,omitempty"`
	HasAssignedAt     bool   `json:"has_assigned_at,omitempty"`
	HasProposalSentAt bool   `json:"has_proposal_sent_at,omitempty"`
	HasRefEnteredAt   bool   `json:"has_ref_entered_at,omitempty"`
	PriorBucket       Bucket `json:"prior_bucket,omitempty"`
	DeleteRequested   bool   `json:"delete_requested,omitempty"`
	DeleteApproved    bool   `json:"delete_approved,omitempty"`
}

// Prior extracts the hints describing q.
func (q *Query) Prior() PriorState {
	return PriorState{
		Bucket:            q.Bucket,
		Remarks:           q.Remarks,
		HasAssignedAt:     !q.AssignedAt.IsZero(),
		HasProposalSentAt: !q.ProposalSentAt.IsZero(),
		HasRefEnteredAt:   !q.RefEnteredAt.IsZero(),
		PriorBucket:       q.PriorBucket,
		DeleteRequested:   !q.DeleteRequestedAt.IsZero(),
		DeleteApproved:    !q.DeleteApprovedAt.IsZero(),
	}
}

// DeleteState derives the deletion sub-state from the hints.
func (p PriorState) DeleteState() DeleteState {
	return deleteStateOf(p.Bucket, p.DeleteApproved)
}
