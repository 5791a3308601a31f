// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package proposal

import "time"

// Type identifies the kind of corrective action a proposal drafts.
type Type string

const (
	TypeRecoveryInvoice  Type = "recovery_invoice"
	TypeCreditCorrection Type = "credit_correction"
	TypePlanChange       Type = "plan_change"
)

// Valid reports whether t is one of the known proposal types.
func (t Type) Valid() bool {
	switch t {
	case TypeRecoveryInvoice, TypeCreditCorrection, TypePlanChange:
		return true
	}
	return false
}

// Status is the lifecycle state of a proposal. Applied and rejected are
// terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApplied  Status = "applied"
	StatusRejected Status = "rejected"
)

// ActorAgent is recorded as the actor of proposals drafted by the agent.
const ActorAgent = "agent"

// DefaultRollbackReason is recorded when a rollback names no reason.
const DefaultRollbackReason = "No reason provided"

// Proposal is a drafted corrective action awaiting human review.
type Proposal struct {
	ID           string     `json:"id"`
	Type         Type       `json:"type"`
	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy   string     `json:"resolved_by,omitempty"`
	RejectReason string     `json:"reject_reason,omitempty"`
	Details      Details    `json:"details"`
}

// AppliedAction is the immutable record of an approved proposal. It is
// keyed by the proposal id.
type AppliedAction struct {
	Proposal  Proposal        `json:"proposal"`
	AppliedAt time.Time       `json:"applied_at"`
	AppliedBy string          `json:"applied_by"`
	Rollback  *RollbackMarker `json:"rollback,omitempty"`
}

// ID returns the id of the applied proposal.
func (a *AppliedAction) ID() string { return a.Proposal.ID }

// RolledBack reports whether a rollback marker has been recorded.
func (a *AppliedAction) RolledBack() bool { return a.Rollback != nil }

// RollbackMarker records that an applied action was reversed. The
// proposal itself stays applied.
type RollbackMarker struct {
	At     time.Time `json:"rolled_back_at"`
	Reason string    `json:"reason"`
	By     string    `json:"rolled_back_by"`
}

// AuditAction names the fact an audit entry records.
type AuditAction string

const (
	AuditProposalCreated  AuditAction = "proposal_created"
	AuditActionApplied    AuditAction = "action_applied"
	AuditProposalRejected AuditAction = "proposal_rejected"
	AuditActionRolledBack AuditAction = "action_rolled_back"
)

// AuditEntry is an append-only narration of a lifecycle event.
type AuditEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    AuditAction    `json:"action_type"`
	SubjectID string         `json:"subject_id"`
	Actor     string         `json:"actor"`
	Details   map[string]any `json:"details,omitempty"`
}

// ListOptions filters List results. Zero values do not filter.
type ListOptions struct {
	Status Status
	Type   Type
}
