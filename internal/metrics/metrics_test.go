// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tally-dev/tally/internal/agent"
	"github.com/tally-dev/tally/internal/metrics"
	"github.com/tally-dev/tally/internal/proposal"
)

func TestObserveRun(t *testing.T) {
	m := metrics.New()
	m.ObserveRun(agent.OutcomeAnswered, 3, 2*time.Second)
	m.ObserveRun(agent.OutcomeIncomplete, 15, time.Minute)
	m.ObserveRun(agent.OutcomeAnswered, 1, time.Second)

	assert.InDelta(t, 2, testutil.ToFloat64(m.RunsTotal.WithLabelValues("answered")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RunsTotal.WithLabelValues("incomplete")), 0)
}

func TestObserveTool_BoundsLabels(t *testing.T) {
	m := metrics.New()
	m.ObserveTool("load_plan", false, time.Millisecond)
	m.ObserveTool("rm_rf", true, time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("load_plan", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("unknown", "error")), 0)
}

func TestObserveTransition(t *testing.T) {
	m := metrics.New()
	m.ObserveTransition(proposal.AuditProposalCreated, proposal.TypeRecoveryInvoice)
	m.ObserveTransition(proposal.AuditActionApplied, proposal.TypeRecoveryInvoice)

	assert.InDelta(t, 1, testutil.ToFloat64(
		m.ProposalsTotal.WithLabelValues(string(proposal.AuditActionApplied), string(proposal.TypeRecoveryInvoice))), 0)
}

func TestHandler(t *testing.T) {
	m := metrics.New()
	m.ChatRateLimited.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tally_server_chat_rate_limited_total 1")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
