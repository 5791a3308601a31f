// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tally-dev/tally/internal/mission"
	"github.com/tally-dev/tally/internal/proposal"
)

// defaultActor is recorded when a reviewer does not identify themselves.
const defaultActor = "user"

func (s *Server) registerRoutes() {
	// Proposal endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "list-proposals",
		Method:      http.MethodGet,
		Path:        "/api/v1/proposals",
		Summary:     "List proposals in creation order",
		Tags:        []string{"proposals"},
	}, s.handleListProposals)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-proposal",
		Method:      http.MethodGet,
		Path:        "/api/v1/proposals/{id}",
		Summary:     "Get a proposal",
		Tags:        []string{"proposals"},
	}, s.handleGetProposal)

	huma.Register(s.api, huma.Operation{
		OperationID: "apply-proposal",
		Method:      http.MethodPost,
		Path:        "/api/v1/proposals/{id}/apply",
		Summary:     "Approve a pending proposal",
		Tags:        []string{"proposals"},
	}, s.handleApplyProposal)

	huma.Register(s.api, huma.Operation{
		OperationID: "reject-proposal",
		Method:      http.MethodPost,
		Path:        "/api/v1/proposals/{id}/reject",
		Summary:     "Reject a pending proposal",
		Tags:        []string{"proposals"},
	}, s.handleRejectProposal)

	// Applied action endpoints
	huma.Register(s.api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/api/v1/actions",
		Summary:     "List applied actions",
		Tags:        []string{"actions"},
	}, s.handleListActions)

	huma.Register(s.api, huma.Operation{
		OperationID: "rollback-action",
		Method:      http.MethodPost,
		Path:        "/api/v1/actions/{id}/rollback",
		Summary:     "Record a rollback of an applied action",
		Tags:        []string{"actions"},
	}, s.handleRollbackAction)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/api/v1/audit",
		Summary:     "List audit entries in append order",
		Tags:        []string{"audit"},
	}, s.handleListAudit)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-missions",
		Method:      http.MethodGet,
		Path:        "/api/v1/missions",
		Summary:     "List predefined investigations",
		Tags:        []string{"chat"},
	}, s.handleListMissions)
}

// --- Request/Response types for huma ---

type listProposalsInput struct {
	Status string `query:"status" enum:"pending,applied,rejected" doc:"Only proposals in this status"`
	Type   string `query:"type" enum:"recovery_invoice,credit_correction,plan_change" doc:"Only proposals of this type"`
}
type listProposalsOutput struct {
	Body struct {
		Proposals []*proposal.Proposal `json:"proposals"`
	}
}

type proposalIDInput struct {
	ID string `path:"id"`
}
type proposalOutput struct {
	Body *proposal.Proposal
}

type applyProposalInput struct {
	ID   string `path:"id"`
	Body *struct {
		ApprovedBy string `json:"approved_by,omitempty" doc:"Reviewer approving the proposal"`
	}
}
type actionOutput struct {
	Body *proposal.AppliedAction
}

type rejectProposalInput struct {
	ID   string `path:"id"`
	Body *struct {
		RejectedBy string `json:"rejected_by,omitempty" doc:"Reviewer rejecting the proposal"`
		Reason     string `json:"reason,omitempty" doc:"Why the proposal was rejected"`
	}
}

type listActionsOutput struct {
	Body struct {
		Actions []*proposal.AppliedAction `json:"actions"`
	}
}

type rollbackActionInput struct {
	ID   string `path:"id"`
	Body *struct {
		Reason string `json:"reason,omitempty" doc:"Why the action is rolled back"`
		Actor  string `json:"actor,omitempty" doc:"Who performs the rollback"`
	}
}

type listAuditInput struct {
	SubjectID string `query:"subject_id" doc:"Only entries about this proposal or action"`
}
type listAuditOutput struct {
	Body struct {
		Entries []*proposal.AuditEntry `json:"entries"`
	}
}

type listMissionsOutput struct {
	Body struct {
		Missions []mission.Mission `json:"missions"`
	}
}

// --- Handlers ---

func (s *Server) handleListProposals(ctx context.Context, input *listProposalsInput) (*listProposalsOutput, error) {
	ps, err := s.services.Proposals().List(ctx, proposal.ListOptions{
		Status: proposal.Status(input.Status),
		Type:   proposal.Type(input.Type),
	})
	if err != nil {
		return nil, s.apiError("list-proposals", err)
	}
	out := &listProposalsOutput{}
	out.Body.Proposals = nonNil(ps)
	return out, nil
}

func (s *Server) handleGetProposal(ctx context.Context, input *proposalIDInput) (*proposalOutput, error) {
	p, err := s.services.Proposals().Get(ctx, input.ID)
	if err != nil {
		return nil, s.apiError("get-proposal", err)
	}
	return &proposalOutput{Body: p}, nil
}

func (s *Server) handleApplyProposal(ctx context.Context, input *applyProposalInput) (*actionOutput, error) {
	approver := defaultActor
	if input.Body != nil && input.Body.ApprovedBy != "" {
		approver = input.Body.ApprovedBy
	}
	a, err := s.services.Proposals().Apply(ctx, input.ID, approver)
	if err != nil {
		return nil, s.apiError("apply-proposal", err)
	}
	return &actionOutput{Body: a}, nil
}

func (s *Server) handleRejectProposal(ctx context.Context, input *rejectProposalInput) (*proposalOutput, error) {
	actor, reason := defaultActor, ""
	if input.Body != nil {
		if input.Body.RejectedBy != "" {
			actor = input.Body.RejectedBy
		}
		reason = input.Body.Reason
	}
	p, err := s.services.Proposals().Reject(ctx, input.ID, actor, reason)
	if err != nil {
		return nil, s.apiError("reject-proposal", err)
	}
	return &proposalOutput{Body: p}, nil
}

func (s *Server) handleListActions(ctx context.Context, _ *struct{}) (*listActionsOutput, error) {
	as, err := s.services.Proposals().ListActions(ctx)
	if err != nil {
		return nil, s.apiError("list-actions", err)
	}
	out := &listActionsOutput{}
	out.Body.Actions = nonNil(as)
	return out, nil
}

func (s *Server) handleRollbackAction(ctx context.Context, input *rollbackActionInput) (*actionOutput, error) {
	actor, reason := defaultActor, ""
	if input.Body != nil {
		if input.Body.Actor != "" {
			actor = input.Body.Actor
		}
		reason = input.Body.Reason
	}
	a, err := s.services.Proposals().Rollback(ctx, input.ID, actor, reason)
	if err != nil {
		return nil, s.apiError("rollback-action", err)
	}
	return &actionOutput{Body: a}, nil
}

func (s *Server) handleListAudit(ctx context.Context, input *listAuditInput) (*listAuditOutput, error) {
	entries, err := s.services.Proposals().ListAudit(ctx, input.SubjectID)
	if err != nil {
		return nil, s.apiError("list-audit", err)
	}
	out := &listAuditOutput{}
	out.Body.Entries = nonNil(entries)
	return out, nil
}

func (s *Server) handleListMissions(_ context.Context, _ *struct{}) (*listMissionsOutput, error) {
	out := &listMissionsOutput{}
	out.Body.Missions = nonNil(s.services.Missions().List())
	return out, nil
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
