// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package server

import "time"

var ClientIPFromRemoteAddr = clientIPFromRemoteAddr

// SetLimiterClock replaces the chat limiter's clock.
func (s *Server) SetLimiterClock(now func() time.Time) {
	s.limiter.mu.Lock()
	defer s.limiter.mu.Unlock()
	s.limiter.now = now
}

// LimiterCleanup runs one cleanup pass and returns the number evicted.
func (s *Server) LimiterCleanup() int {
	return s.limiter.cleanup()
}

// LimiterSize returns the number of tracked clients.
func (s *Server) LimiterSize() int {
	s.limiter.mu.Lock()
	defer s.limiter.mu.Unlock()
	return len(s.limiter.visitors)
}
