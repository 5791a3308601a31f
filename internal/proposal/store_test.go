// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package proposal_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tally-dev/tally/internal/proposal"
	"github.com/tally-dev/tally/internal/store"
	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, records store.RecordStore, opts ...proposal.Option) *proposal.Store {
	t.Helper()
	if records == nil {
		records = store.NewMemoryStore()
	}
	opts = append([]proposal.Option{proposal.WithClock(func() time.Time { return fixedNow })}, opts...)
	return proposal.NewStore(records, opts...)
}

func recovery(planID string) proposal.RecoveryInvoice {
	return proposal.RecoveryInvoice{
		PlanID:   planID,
		Amount:   10000,
		Currency: "USD",
		Period:   "2024-04",
		Reason:   "April invoice missing for monthly plan",
	}
}

func auditActions(t *testing.T, s *proposal.Store, subject string) []proposal.AuditAction {
	t.Helper()
	entries, err := s.ListAudit(context.Background(), subject)
	require.NoError(t, err)
	out := make([]proposal.AuditAction, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	p, err := s.Create(ctx, recovery("C-1001"))
	require.NoError(t, err)

	assert.Regexp(t, `^prop-[0-9A-Z]{26}$`, p.ID)
	assert.Equal(t, proposal.TypeRecoveryInvoice, p.Type)
	assert.Equal(t, proposal.StatusPending, p.Status)
	assert.Equal(t, fixedNow, p.CreatedAt)

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, recovery("C-1001"), got.Details)

	entries, err := s.ListAudit(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, proposal.AuditProposalCreated, entries[0].Action)
	assert.Equal(t, proposal.ActorAgent, entries[0].Actor)
	assert.Equal(t, "C-1001", entries[0].Details["plan_id"])
}

func TestCreate_InvalidDetails(t *testing.T) {
	total := 5000.0
	tests := []struct {
		name    string
		details proposal.Details
	}{
		{name: "nil", details: nil},
		{name: "missing reason", details: proposal.RecoveryInvoice{PlanID: "C-1", Amount: 1, Currency: "USD"}},
		{name: "blank reason", details: proposal.CreditCorrection{InvoiceID: "I-1", Amount: 1, Currency: "USD", Reason: "  "}},
		{name: "zero amount", details: proposal.RecoveryInvoice{PlanID: "C-1", Currency: "USD", Reason: "r"}},
		{name: "bad currency", details: proposal.CreditCorrection{InvoiceID: "I-1", Amount: 1, Currency: "dollars", Reason: "r"}},
		{name: "missing invoice", details: proposal.CreditCorrection{Amount: 1, Currency: "USD", Reason: "r"}},
		{name: "empty plan change", details: proposal.PlanChange{PlanID: "C-1", Reason: "r"}},
		{name: "bad cadence", details: proposal.PlanChange{PlanID: "C-1", Reason: "r", Changes: proposal.PlanChanges{Cadence: "weekly"}}},
		{name: "negative total", details: proposal.PlanChange{PlanID: "C-1", Reason: "r", Changes: proposal.PlanChanges{TotalValue: ptr(-total)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, nil)
			_, err := s.Create(context.Background(), tt.details)
			require.Error(t, err)
			assert.True(t, tallyerr.IsInvalidInput(err), "code %s", tallyerr.CodeOf(err))

			ps, err := s.List(context.Background(), proposal.ListOptions{})
			require.NoError(t, err)
			assert.Empty(t, ps)
		})
	}
}

func TestList_CreationOrderAndFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	a, err := s.Create(ctx, recovery("C-1"))
	require.NoError(t, err)
	b, err := s.Create(ctx, proposal.CreditCorrection{InvoiceID: "I-1", Amount: 50, Currency: "GBP", Reason: "overbilled"})
	require.NoError(t, err)
	c, err := s.Create(ctx, recovery("C-2"))
	require.NoError(t, err)
	_, err = s.Apply(ctx, c.ID, "ops")
	require.NoError(t, err)

	all, err := s.List(ctx, proposal.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	pending, err := s.List(ctx, proposal.ListOptions{Status: proposal.StatusPending, Type: proposal.TypeRecoveryInvoice})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	p, err := s.Create(ctx, recovery("C-1001"))
	require.NoError(t, err)

	action, err := s.Apply(ctx, p.ID, "controller@acme")
	require.NoError(t, err)
	assert.Equal(t, p.ID, action.ID())
	assert.Equal(t, proposal.StatusApplied, action.Proposal.Status)
	assert.Equal(t, "controller@acme", action.AppliedBy)
	assert.False(t, action.RolledBack())

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusApplied, got.Status)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, "controller@acme", got.ResolvedBy)

	stored, err := s.GetAction(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, recovery("C-1001"), stored.Proposal.Details)

	assert.Equal(t, []proposal.AuditAction{proposal.AuditProposalCreated, proposal.AuditActionApplied}, auditActions(t, s, p.ID))
}

func TestApply_Twice(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	p, err := s.Create(ctx, recovery("C-1001"))
	require.NoError(t, err)

	first, err := s.Apply(ctx, p.ID, "alice")
	require.NoError(t, err)

	_, err = s.Apply(ctx, p.ID, "bob")
	require.Error(t, err)
	assert.True(t, tallyerr.IsInvalidState(err))

	action, err := s.GetAction(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, first.AppliedBy, action.AppliedBy)

	actions, err := s.ListActions(ctx)
	require.NoError(t, err)
	assert.Len(t, actions, 1)
	assert.Len(t, auditActions(t, s, p.ID), 2)
}

func TestApply_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	p, err := s.Create(ctx, recovery("C-1001"))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Apply(ctx, p.ID, "ops"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else {
				assert.True(t, tallyerr.IsInvalidState(err))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestTransitions_UnknownID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	_, err := s.Apply(ctx, "prop-missing", "ops")
	assert.True(t, tallyerr.IsNotFound(err))

	_, err = s.Reject(ctx, "prop-missing", "ops", "no")
	assert.True(t, tallyerr.IsNotFound(err))

	_, err = s.Rollback(ctx, "prop-missing", "ops", "oops")
	assert.True(t, tallyerr.IsNotFound(err))

	_, err = s.Get(ctx, "prop-missing")
	assert.True(t, tallyerr.IsNotFound(err))

	entries, err := s.ListAudit(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	p, err := s.Create(ctx, recovery("C-1001"))
	require.NoError(t, err)

	rejected, err := s.Reject(ctx, p.ID, "alice", "already invoiced manually")
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusRejected, rejected.Status)
	assert.Equal(t, "already invoiced manually", rejected.RejectReason)

	_, err = s.Apply(ctx, p.ID, "bob")
	assert.True(t, tallyerr.IsInvalidState(err))

	_, err = s.Reject(ctx, p.ID, "bob", "again")
	assert.True(t, tallyerr.IsInvalidState(err))

	_, err = s.GetAction(ctx, p.ID)
	assert.True(t, tallyerr.IsNotFound(err))

	assert.Equal(t, []proposal.AuditAction{proposal.AuditProposalCreated, proposal.AuditProposalRejected}, auditActions(t, s, p.ID))
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	p, err := s.Create(ctx, recovery("C-1001"))
	require.NoError(t, err)
	_, err = s.Apply(ctx, p.ID, "alice")
	require.NoError(t, err)

	a, err := s.Rollback(ctx, p.ID, "bob", "")
	require.NoError(t, err)
	require.True(t, a.RolledBack())
	assert.Equal(t, proposal.DefaultRollbackReason, a.Rollback.Reason)
	assert.Equal(t, "bob", a.Rollback.By)

	// The proposal is not reverted.
	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusApplied, got.Status)

	_, err = s.Rollback(ctx, p.ID, "bob", "again")
	require.Error(t, err)
	assert.True(t, tallyerr.IsInvalidState(err))

	assert.Equal(t, []proposal.AuditAction{
		proposal.AuditProposalCreated,
		proposal.AuditActionApplied,
		proposal.AuditActionRolledBack,
	}, auditActions(t, s, p.ID))
}

func TestRollback_PendingProposalIsNotAnAction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	p, err := s.Create(ctx, recovery("C-1001"))
	require.NoError(t, err)

	_, err = s.Rollback(ctx, p.ID, "ops", "")
	assert.True(t, tallyerr.IsNotFound(err))
	assert.Len(t, auditActions(t, s, p.ID), 1)
}

// faultyRecords fails Put for one collection.
type faultyRecords struct {
	*store.MemoryStore
	failCollection string
	putErr         error
}

func (f *faultyRecords) Put(ctx context.Context, collection, key string, value []byte) error {
	if collection == f.failCollection {
		return f.putErr
	}
	return f.MemoryStore.Put(ctx, collection, key, value)
}

func TestApply_ActionWriteFailureRevertsProposal(t *testing.T) {
	ctx := context.Background()
	records := &faultyRecords{MemoryStore: store.NewMemoryStore()}
	s := newTestStore(t, records)

	p, err := s.Create(ctx, recovery("C-1001"))
	require.NoError(t, err)

	records.failCollection = proposal.CollectionActions
	records.putErr = errors.New("disk full")

	_, err = s.Apply(ctx, p.ID, "ops")
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusPending, got.Status)
	assert.Nil(t, got.ResolvedAt)
}

func TestAuditFailureIsLoggedNotReturned(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	records := &faultyRecords{
		MemoryStore:    store.NewMemoryStore(),
		failCollection: proposal.CollectionAudit,
		putErr:         errors.New("audit offline"),
	}
	s := newTestStore(t, records, proposal.WithLogger(logger))

	for range 3 {
		_, err := s.Create(ctx, recovery("C-1001"))
		require.NoError(t, err)
	}

	out := buf.String()
	assert.Contains(t, out, "level=WARN msg=\"audit append failed\"")
	assert.Contains(t, out, "level=ERROR msg=\"audit append failed\"")
	assert.Contains(t, out, "consecutive_failures=3")
}

type recordingObserver struct {
	mu     sync.Mutex
	events []proposal.AuditAction
}

func (o *recordingObserver) ObserveTransition(action proposal.AuditAction, _ proposal.Type) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, action)
}

func TestObserver(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	s := newTestStore(t, nil, proposal.WithObserver(obs))

	p, err := s.Create(ctx, recovery("C-1001"))
	require.NoError(t, err)
	_, err = s.Apply(ctx, p.ID, "ops")
	require.NoError(t, err)
	_, err = s.Apply(ctx, p.ID, "ops")
	require.Error(t, err)

	assert.Equal(t, []proposal.AuditAction{proposal.AuditProposalCreated, proposal.AuditActionApplied}, obs.events)
}

func ptr[T any](v T) *T { return &v }
