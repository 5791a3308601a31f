// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package server_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tally-dev/tally/internal/agent"
	"github.com/tally-dev/tally/internal/mission"
	"github.com/tally-dev/tally/internal/proposal"
	"github.com/tally-dev/tally/internal/server"
	"github.com/tally-dev/tally/internal/store"
	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

func TestNewServices_RequiresAll(t *testing.T) {
	loop := &agent.Loop{}
	proposals := proposal.NewStore(store.NewMemoryStore())
	catalog, err := mission.Default()
	require.NoError(t, err)

	tests := []struct {
		name      string
		agent     server.Investigator
		proposals server.ProposalService
		missions  server.MissionCatalog
		wantErr   string
	}{
		{name: "missing investigator", proposals: proposals, missions: catalog, wantErr: "investigator"},
		{name: "missing proposals", agent: loop, missions: catalog, wantErr: "proposal service"},
		{name: "missing missions", agent: loop, proposals: proposals, wantErr: "mission catalog"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := server.NewServices(tt.agent, tt.proposals, tt.missions)
			require.Error(t, err)
			assert.True(t, tallyerr.HasCode(err, tallyerr.CodeServerConfigInvalid))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	svc, err := server.NewServices(loop, proposals, catalog)
	require.NoError(t, err)
	assert.Same(t, loop, svc.Agent())
	assert.Same(t, proposals, svc.Proposals())
	assert.Same(t, catalog, svc.Missions())
}
