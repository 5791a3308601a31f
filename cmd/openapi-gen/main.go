// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tally-dev/tally/internal/agent"
	"github.com/tally-dev/tally/internal/mission"
	"github.com/tally-dev/tally/internal/proposal"
	"github.com/tally-dev/tally/internal/server"
	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

func main() {
	doc, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/openapi.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, doc, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing document: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI document written to %s\n", outPath)
}

// generateSpec creates a server with all routes registered and extracts the
// OpenAPI document huma builds from the Go type annotations.
func generateSpec() ([]byte, error) {
	missions, err := mission.Default()
	if err != nil {
		return nil, err
	}

	// Handlers are never invoked during generation.
	svc, err := server.NewServices(stubInvestigator{}, stubProposals{}, missions)
	if err != nil {
		return nil, err
	}

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	if err != nil {
		return nil, tallyerr.Errorf(tallyerr.CodeCLISetupFailure, "creating server: %w", err)
	}
	defer srv.Close()
	srv.RegisterServices(svc)

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

type stubInvestigator struct{}

func (stubInvestigator) Run(context.Context, string) (*agent.Result, error) { return nil, nil }
func (stubInvestigator) Stream(context.Context, string) *agent.Stream   { return nil }

type stubProposals struct{}

func (stubProposals) List(context.Context, proposal.ListOptions) ([]*proposal.Proposal, error) {
	return nil, nil
}
func (stubProposals) Get(context.Context, string) (*proposal.Proposal, error) { return nil, nil }
func (stubProposals) Apply(context.Context, string, string) (*proposal.AppliedAction, error) {
	return nil, nil
}
func (stubProposals) Reject(context.Context, string, string, string) (*proposal.Proposal, error) {
	return nil, nil
}
func (stubProposals) ListActions(context.Context) ([]*proposal.AppliedAction, error) { return nil, nil }
func (stubProposals) GetAction(context.Context, string) (*proposal.AppliedAction, error) {
	return nil, nil
}
func (stubProposals) Rollback(context.Context, string, string, string) (*proposal.AppliedAction, error) {
	return nil, nil
}
func (stubProposals) ListAudit(context.Context, string) ([]*proposal.AuditEntry, error) {
	return nil, nil
}
