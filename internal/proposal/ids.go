// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package proposal

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// idSource issues lexically sortable ids. Ids from one source sort in
// issue order, which keeps store listings in creation order.
type idSource struct {
	mu      sync.Mutex
	entropy io.Reader
}

func newIDSource() *idSource {
	return &idSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *idSource) next(prefix string, now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return prefix + ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}
