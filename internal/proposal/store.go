// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

// Package proposal owns the lifecycle of drafted corrective actions:
// proposals, the actions created when they are applied, and the audit
// trail narrating both.
package proposal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tally-dev/tally/internal/store"
	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

// Collection names in the underlying record store.
const (
	CollectionProposals = "proposals"
	CollectionActions   = "applied_actions"
	CollectionAudit     = "audit_log"
)

// auditLogEscalationThreshold is the number of consecutive audit append
// failures after which failures are logged at Error instead of Warn.
const auditLogEscalationThreshold = 3

// Observer is notified after every successful lifecycle event.
type Observer interface {
	ObserveTransition(action AuditAction, t Type)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithObserver registers an observer for lifecycle events.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// Store persists proposals, applied actions and audit entries and enforces
// the proposal state machine:
//
//	pending -> applied  (Apply; writes an AppliedAction)
//	pending -> rejected (Reject)
//
// Both transitions are final. Rollback marks an AppliedAction as reversed
// without touching the proposal.
//
// Each collection has its own mutex. Operations that span collections take
// the locks in the order proposals, actions, audit.
type Store struct {
	records  store.RecordStore
	logger   *slog.Logger
	now      func() time.Time
	ids      *idSource
	observer Observer

	proposalsMu sync.Mutex
	actionsMu   sync.Mutex
	auditMu     sync.Mutex

	auditFailCount atomic.Int64
}

// NewStore returns a Store over records.
func NewStore(records store.RecordStore, opts ...Option) *Store {
	s := &Store{
		records: records,
		logger:  slog.Default(),
		now:     time.Now,
		ids:     newIDSource(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create validates details and persists a new pending proposal.
func (s *Store) Create(ctx context.Context, details Details) (*Proposal, error) {
	if err := ValidateDetails(details); err != nil {
		return nil, err
	}

	s.proposalsMu.Lock()
	defer s.proposalsMu.Unlock()
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	now := s.now().UTC()
	p := &Proposal{
		ID:        s.ids.next("prop-", now),
		Type:      details.ProposalType(),
		Status:    StatusPending,
		CreatedAt: now,
		Details:   details,
	}
	if err := s.putProposal(ctx, p); err != nil {
		return nil, err
	}

	fields := details.auditFields()
	fields["type"] = string(p.Type)
	s.appendAudit(ctx, AuditProposalCreated, p.ID, ActorAgent, fields)
	s.observe(AuditProposalCreated, p.Type)

	s.logger.Info("proposal created",
		slog.String("proposal_id", p.ID),
		slog.String("type", string(p.Type)),
	)
	return p, nil
}

// Get returns the proposal with id.
func (s *Store) Get(ctx context.Context, id string) (*Proposal, error) {
	s.proposalsMu.Lock()
	defer s.proposalsMu.Unlock()

	ps, err := s.loadProposals(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := findProposal(ps, id)
	if !ok {
		return nil, proposalNotFound(id)
	}
	return p, nil
}

// List returns proposals in creation order.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Proposal, error) {
	s.proposalsMu.Lock()
	defer s.proposalsMu.Unlock()

	ps, err := s.loadProposals(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Proposal, 0, len(ps))
	for _, p := range ps {
		if opts.Status != "" && p.Status != opts.Status {
			continue
		}
		if opts.Type != "" && p.Type != opts.Type {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Apply approves a pending proposal and records the AppliedAction.
// It fails with a not-found error for unknown ids and an invalid-state
// error when the proposal is no longer pending; in both cases nothing
// changes.
func (s *Store) Apply(ctx context.Context, id, approver string) (*AppliedAction, error) {
	s.proposalsMu.Lock()
	defer s.proposalsMu.Unlock()
	s.actionsMu.Lock()
	defer s.actionsMu.Unlock()
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	ps, err := s.loadProposals(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := findProposal(ps, id)
	if !ok {
		return nil, proposalNotFound(id)
	}
	if p.Status != StatusPending {
		return nil, notPending(p, "apply")
	}

	original := *p
	now := s.now().UTC()
	p.Status = StatusApplied
	p.ResolvedAt = &now
	p.ResolvedBy = approver

	if err := s.putProposal(ctx, p); err != nil {
		return nil, err
	}

	action := &AppliedAction{
		Proposal:  *p,
		AppliedAt: now,
		AppliedBy: approver,
	}
	if err := s.putAction(ctx, action); err != nil {
		// Revert the proposal so the two collections stay consistent.
		if cerr := s.putProposal(ctx, &original); cerr != nil {
			s.logger.Error("reverting proposal after failed apply",
				slog.String("proposal_id", id),
				slog.Any("error", cerr),
			)
			return nil, tallyerr.Wrap(errors.Join(err, cerr), tallyerr.CodeProposalStoreCompensateError,
				"apply failed and proposal could not be reverted", tallyerr.FieldProposalID(id))
		}
		return nil, err
	}

	s.appendAudit(ctx, AuditActionApplied, id, approver, map[string]any{
		"type":   string(p.Type),
		"reason": p.Details.Justification(),
	})
	s.observe(AuditActionApplied, p.Type)

	s.logger.Info("proposal applied",
		slog.String("proposal_id", id),
		slog.String("applied_by", approver),
	)
	return action, nil
}

// Reject closes a pending proposal without applying it.
func (s *Store) Reject(ctx context.Context, id, actor, reason string) (*Proposal, error) {
	s.proposalsMu.Lock()
	defer s.proposalsMu.Unlock()
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	ps, err := s.loadProposals(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := findProposal(ps, id)
	if !ok {
		return nil, proposalNotFound(id)
	}
	if p.Status != StatusPending {
		return nil, notPending(p, "reject")
	}

	now := s.now().UTC()
	p.Status = StatusRejected
	p.ResolvedAt = &now
	p.ResolvedBy = actor
	p.RejectReason = reason

	if err := s.putProposal(ctx, p); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, AuditProposalRejected, id, actor, map[string]any{
		"type":   string(p.Type),
		"reason": reason,
	})
	s.observe(AuditProposalRejected, p.Type)
	return p, nil
}

// Rollback marks an applied action as reversed. The proposal keeps its
// applied status. Unknown ids fail with a not-found error and write no
// audit entry; an action can be rolled back once.
func (s *Store) Rollback(ctx context.Context, actionID, actor, reason string) (*AppliedAction, error) {
	s.actionsMu.Lock()
	defer s.actionsMu.Unlock()
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	actions, err := s.loadActions(ctx)
	if err != nil {
		return nil, err
	}
	a, ok := findAction(actions, actionID)
	if !ok {
		return nil, actionNotFound(actionID)
	}
	if a.RolledBack() {
		return nil, tallyerr.New(tallyerr.CodeActionRollbackInvalidState, "action already rolled back",
			tallyerr.FieldActionID(actionID),
			tallyerr.Field("rolled_back_at", a.Rollback.At),
		)
	}

	if reason == "" {
		reason = DefaultRollbackReason
	}
	a.Rollback = &RollbackMarker{At: s.now().UTC(), Reason: reason, By: actor}

	if err := s.putAction(ctx, a); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, AuditActionRolledBack, actionID, actor, map[string]any{
		"type":   string(a.Proposal.Type),
		"reason": reason,
	})
	s.observe(AuditActionRolledBack, a.Proposal.Type)

	s.logger.Info("action rolled back",
		slog.String("action_id", actionID),
		slog.String("reason", reason),
	)
	return a, nil
}

// GetAction returns the applied action for a proposal id.
func (s *Store) GetAction(ctx context.Context, id string) (*AppliedAction, error) {
	s.actionsMu.Lock()
	defer s.actionsMu.Unlock()

	actions, err := s.loadActions(ctx)
	if err != nil {
		return nil, err
	}
	a, ok := findAction(actions, id)
	if !ok {
		return nil, actionNotFound(id)
	}
	return a, nil
}

// ListActions returns applied actions in proposal creation order.
func (s *Store) ListActions(ctx context.Context) ([]*AppliedAction, error) {
	s.actionsMu.Lock()
	defer s.actionsMu.Unlock()
	return s.loadActions(ctx)
}

// ListAudit returns audit entries oldest first. A non-empty subjectID
// limits the result to that proposal or action.
func (s *Store) ListAudit(ctx context.Context, subjectID string) ([]*AuditEntry, error) {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	recs, err := s.records.List(ctx, CollectionAudit)
	if err != nil {
		return nil, tallyerr.Wrap(err, tallyerr.CodeStoreDatabaseFailure, "listing audit entries")
	}
	out := make([]*AuditEntry, 0, len(recs))
	for _, r := range recs {
		var e AuditEntry
		if err := json.Unmarshal(r.Value, &e); err != nil {
			return nil, tallyerr.Wrap(err, tallyerr.CodeProposalStoreDecodeFailure, "decoding audit entry",
				tallyerr.Field("key", r.Key))
		}
		if subjectID != "" && e.SubjectID != subjectID {
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}

func (s *Store) loadProposals(ctx context.Context) ([]*Proposal, error) {
	recs, err := s.records.List(ctx, CollectionProposals)
	if err != nil {
		return nil, tallyerr.Wrap(err, tallyerr.CodeStoreDatabaseFailure, "listing proposals")
	}
	out := make([]*Proposal, 0, len(recs))
	for _, r := range recs {
		var p Proposal
		if err := json.Unmarshal(r.Value, &p); err != nil {
			return nil, tallyerr.Wrap(err, tallyerr.CodeProposalStoreDecodeFailure, "decoding proposal",
				tallyerr.FieldProposalID(r.Key))
		}
		out = append(out, &p)
	}
	return out, nil
}

func (s *Store) loadActions(ctx context.Context) ([]*AppliedAction, error) {
	recs, err := s.records.List(ctx, CollectionActions)
	if err != nil {
		return nil, tallyerr.Wrap(err, tallyerr.CodeStoreDatabaseFailure, "listing applied actions")
	}
	out := make([]*AppliedAction, 0, len(recs))
	for _, r := range recs {
		var a AppliedAction
		if err := json.Unmarshal(r.Value, &a); err != nil {
			return nil, tallyerr.Wrap(err, tallyerr.CodeProposalStoreDecodeFailure, "decoding applied action",
				tallyerr.FieldActionID(r.Key))
		}
		out = append(out, &a)
	}
	return out, nil
}

func (s *Store) putProposal(ctx context.Context, p *Proposal) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return tallyerr.Wrap(err, tallyerr.CodeProposalStorePersistFailure, "encoding proposal", tallyerr.FieldProposalID(p.ID))
	}
	if err := s.records.Put(ctx, CollectionProposals, p.ID, raw); err != nil {
		return tallyerr.Wrap(err, tallyerr.CodeProposalStorePersistFailure, "writing proposal", tallyerr.FieldProposalID(p.ID))
	}
	return nil
}

func (s *Store) putAction(ctx context.Context, a *AppliedAction) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return tallyerr.Wrap(err, tallyerr.CodeProposalStorePersistFailure, "encoding applied action", tallyerr.FieldActionID(a.ID()))
	}
	if err := s.records.Put(ctx, CollectionActions, a.ID(), raw); err != nil {
		return tallyerr.Wrap(err, tallyerr.CodeProposalStorePersistFailure, "writing applied action", tallyerr.FieldActionID(a.ID()))
	}
	return nil
}

// appendAudit writes a best-effort audit entry. The caller holds auditMu.
// Failures are logged at an escalating level and never returned.
func (s *Store) appendAudit(ctx context.Context, action AuditAction, subjectID, actor string, details map[string]any) {
	now := s.now().UTC()
	entry := AuditEntry{
		ID:        s.ids.next("audit-", now),
		Timestamp: now,
		Action:    action,
		SubjectID: subjectID,
		Actor:     actor,
		Details:   details,
	}

	raw, err := json.Marshal(entry)
	if err == nil {
		err = s.records.Put(ctx, CollectionAudit, entry.ID, raw)
	}
	if err != nil {
		consecutive := s.auditFailCount.Add(1)
		level := slog.LevelWarn
		if consecutive >= auditLogEscalationThreshold {
			level = slog.LevelError
		}
		s.logger.LogAttrs(ctx, level, "audit append failed",
			slog.Any("error", err),
			slog.String("action", string(action)),
			slog.String("subject_id", subjectID),
			slog.Int64("consecutive_failures", consecutive),
		)
		return
	}
	s.auditFailCount.Store(0)
}

func (s *Store) observe(action AuditAction, t Type) {
	if s.observer != nil {
		s.observer.ObserveTransition(action, t)
	}
}

func findProposal(ps []*Proposal, id string) (*Proposal, bool) {
	for _, p := range ps {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

func findAction(as []*AppliedAction, id string) (*AppliedAction, bool) {
	for _, a := range as {
		if a.ID() == id {
			return a, true
		}
	}
	return nil, false
}

func proposalNotFound(id string) error {
	return tallyerr.New(tallyerr.CodeProposalGetNotFound, "proposal not found", tallyerr.FieldProposalID(id))
}

func actionNotFound(id string) error {
	return tallyerr.New(tallyerr.CodeActionGetNotFound, "applied action not found", tallyerr.FieldActionID(id))
}

func notPending(p *Proposal, op string) error {
	return tallyerr.Errorf(tallyerr.CodeProposalTransitionInvalid,
		"cannot %s proposal %s: status is %s", op, p.ID, p.Status)
}
