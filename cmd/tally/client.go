// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tally-dev/tally/internal/agent"
	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

// defaultHTTPClient is used for short request/response calls.
var defaultHTTPClient = &http.Client{
	Timeout: 10 * time.Second,
}

// streamHTTPClient has no overall timeout since a stream lasts for a whole
// investigation. Cancellation comes from the request context.
var streamHTTPClient = &http.Client{}

// apiClient provides HTTP access to a running tally server.
type apiClient struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
}

// newAPIClient creates a client targeting the given host:port address.
func newAPIClient(addr string) *apiClient {
	return &apiClient{
		baseURL: "http://" + addr,
		http:    defaultHTTPClient,
		stream:  streamHTTPClient,
	}
}

// problem is the subset of an RFC 9457 error body the CLI reports.
type problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// getJSON performs a GET request and decodes the JSON response into dest.
func (c *apiClient) getJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return tallyerr.Wrapf(err, tallyerr.CodeCLIRequestFailure, "building request for %s", path)
	}
	return c.do(c.http, req, dest)
}

// postJSON sends body as JSON and decodes the JSON response into dest. A
// nil body sends an empty object.
func (c *apiClient) postJSON(ctx context.Context, path string, body, dest any) error {
	if body == nil {
		body = struct{}{}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return tallyerr.Wrapf(err, tallyerr.CodeCLIInputInvalid, "encoding request for %s", path)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return tallyerr.Wrapf(err, tallyerr.CodeCLIRequestFailure, "building request for %s", path)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(c.http, req, dest)
}

func (c *apiClient) do(hc *http.Client, req *http.Request, dest any) error {
	resp, err := c.send(hc, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return tallyerr.Wrapf(err, tallyerr.CodeCLIResponseInvalid, "invalid response from %s", req.URL.Path)
	}
	return nil
}

// send performs req and turns transport failures and non-2xx statuses
// into coded errors. The caller closes the body on success.
func (c *apiClient) send(hc *http.Client, req *http.Request) (*http.Response, error) {
	resp, err := hc.Do(req)
	if err != nil {
		if isDialError(err) {
			return nil, tallyerr.Errorf(tallyerr.CodeCLIGatewayNotRunning,
				"tally server is not running at %s (start it with `tally start`)", req.URL.Host)
		}
		return nil, tallyerr.Wrapf(err, tallyerr.CodeCLIRequestFailure, "request to %s failed", req.URL.Path)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(body))
	var p problem
	if json.Unmarshal(body, &p) == nil && p.Detail != "" {
		msg = p.Detail
	}
	return nil, tallyerr.Errorf(tallyerr.CodeCLIRequestFailure, "server returned %d: %s", resp.StatusCode, msg)
}

// streamChat posts req to the streaming endpoint and calls fn for every
// fragment in arrival order. It returns when the stream ends, fn returns
// an error, or ctx is cancelled.
func (c *apiClient) streamChat(ctx context.Context, body any, fn func(agent.Fragment) error) error {
	data, err := json.Marshal(body)
	if err != nil {
		return tallyerr.Wrapf(err, tallyerr.CodeCLIInputInvalid, "encoding chat request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/chat/stream", bytes.NewReader(data))
	if err != nil {
		return tallyerr.Wrapf(err, tallyerr.CodeCLIRequestFailure, "building chat request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.send(c.stream, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	return readSSE(resp.Body, fn)
}

// readSSE decodes the data line of each server-sent event as a fragment.
// Event names are ignored; the fragment carries its own type.
func readSSE(r io.Reader, fn func(agent.Fragment) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)

	var data strings.Builder
	flush := func() error {
		if data.Len() == 0 {
			return nil
		}
		var frag agent.Fragment
		err := json.Unmarshal([]byte(data.String()), &frag)
		data.Reset()
		if err != nil {
			return tallyerr.Wrapf(err, tallyerr.CodeCLIResponseInvalid, "invalid stream fragment")
		}
		return fn(frag)
	}

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return tallyerr.Wrapf(err, tallyerr.CodeCLIResponseInvalid, "reading stream")
	}
	return flush()
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
