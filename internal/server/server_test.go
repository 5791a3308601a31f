// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package server_test

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tally-dev/tally/internal/server"
	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  server.Config
	}{
		{name: "missing listen address", cfg: server.Config{}},
		{name: "negative chat rate", cfg: server.Config{ListenAddr: ":0", ChatRate: -1}},
		{name: "rate without burst", cfg: server.Config{ListenAddr: ":0", ChatRate: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := server.New(tt.cfg)
			require.Error(t, err)
			assert.True(t, tallyerr.HasCode(err, tallyerr.CodeServerConfigInvalid))
		})
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/health", "")
	mustStatus(t, w, http.StatusOK)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/metrics", "")
	mustStatus(t, w, http.StatusOK)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestMetricsEndpoint_AbsentWithoutMetrics(t *testing.T) {
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	defer srv.Close()

	env := &testEnv{srv: srv}
	w := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOpenAPIDocumentsChatStream(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/openapi.json", "")
	mustStatus(t, w, http.StatusOK)
	body := w.Body.String()
	assert.Contains(t, body, "/api/v1/chat/stream")
	assert.Contains(t, body, "/api/v1/proposals/{id}/apply")
	assert.Contains(t, body, "Tally API")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodOptions, "/api/v1/proposals", "",
		"Origin", "http://localhost:5173",
		"Access-Control-Request-Method", http.MethodGet,
	)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStart_GracefulShutdown(t *testing.T) {
	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestStart_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv, err := server.New(server.Config{ListenAddr: ln.Addr().String()})
	require.NoError(t, err)

	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.True(t, tallyerr.HasCode(err, tallyerr.CodeServerStartFailure))
}
