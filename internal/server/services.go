// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package server

import (
	"context"

	"github.com/tally-dev/tally/internal/agent"
	"github.com/tally-dev/tally/internal/mission"
	"github.com/tally-dev/tally/internal/proposal"
	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

// Investigator runs investigations. *agent.Loop implements it.
type Investigator interface {
	Run(ctx context.Context, message string) (*agent.Result, error)
	Stream(ctx context.Context, message string) *agent.Stream
}

// ProposalService is the proposal lifecycle exposed to reviewers.
// *proposal.Store implements it.
type ProposalService interface {
	List(ctx context.Context, opts proposal.ListOptions) ([]*proposal.Proposal, error)
	Get(ctx context.Context, id string) (*proposal.Proposal, error)
	Apply(ctx context.Context, id, approver string) (*proposal.AppliedAction, error)
	Reject(ctx context.Context, id, actor, reason string) (*proposal.Proposal, error)
	ListActions(ctx context.Context) ([]*proposal.AppliedAction, error)
	GetAction(ctx context.Context, id string) (*proposal.AppliedAction, error)
	Rollback(ctx context.Context, actionID, actor, reason string) (*proposal.AppliedAction, error)
	ListAudit(ctx context.Context, subjectID string) ([]*proposal.AuditEntry, error)
}

// MissionCatalog lists predefined investigations and renders them into
// run messages. *mission.Catalog implements it.
type MissionCatalog interface {
	List() []mission.Mission
	Render(req mission.Request, extra string) (string, error)
}

// Services holds dependencies injected into route handlers.
// Use NewServices to ensure all of them are provided.
type Services struct {
	agent     Investigator
	proposals ProposalService
	missions  MissionCatalog
}

// NewServices creates a Services instance. Every service is required.
func NewServices(agent Investigator, proposals ProposalService, missions MissionCatalog) (*Services, error) {
	if agent == nil {
		return nil, tallyerr.New(tallyerr.CodeServerConfigInvalid, "investigator is required")
	}
	if proposals == nil {
		return nil, tallyerr.New(tallyerr.CodeServerConfigInvalid, "proposal service is required")
	}
	if missions == nil {
		return nil, tallyerr.New(tallyerr.CodeServerConfigInvalid, "mission catalog is required")
	}
	return &Services{agent: agent, proposals: proposals, missions: missions}, nil
}

// Agent returns the investigator.
func (s *Services) Agent() Investigator {
	return s.agent
}

// Proposals returns the proposal service.
func (s *Services) Proposals() ProposalService {
	return s.proposals
}

// Missions returns the mission catalog.
func (s *Services) Missions() MissionCatalog {
	return s.missions
}
