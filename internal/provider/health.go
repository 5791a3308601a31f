// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package provider

import (
	"sync"
	"time"

	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

// HealthTracker provides simple health state tracking for providers.
// A provider is healthy until RecordFailure is called, then unhealthy for
// a cooldown period, after which it becomes available again.
type HealthTracker struct {
	mu       sync.RWMutex
	healthy  bool
	failedAt time.Time
	cooldown time.Duration
	nowFunc  func() time.Time
}

// DefaultHealthCooldown is the duration after which an unhealthy provider
// becomes eligible for retry.
const DefaultHealthCooldown = 30 * time.Second

// NewHealthTracker creates a HealthTracker that starts healthy.
func NewHealthTracker(cooldown time.Duration) (*HealthTracker, error) {
	if cooldown <= 0 {
		return nil, tallyerr.Errorf(tallyerr.CodeConfigValidateInvalidValue,
			"health tracker cooldown must be positive, got %s", cooldown)
	}
	return &HealthTracker{
		healthy:  true,
		cooldown: cooldown,
		nowFunc:  time.Now,
	}, nil
}

// isHealthyLocked reports whether the provider is healthy or the cooldown
// has elapsed. The caller MUST hold at least h.mu.RLock.
func (h *HealthTracker) isHealthyLocked() bool {
	if h.healthy {
		return true
	}
	return h.nowFunc().Sub(h.failedAt) >= h.cooldown
}

// IsHealthy returns true if the provider is healthy or the cooldown has elapsed.
func (h *HealthTracker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isHealthyLocked()
}

// RecordSuccess marks the provider as healthy.
func (h *HealthTracker) RecordSuccess() {
	h.mu.Lock()
	h.healthy = true
	h.mu.Unlock()
}

// RecordFailure marks the provider as unhealthy.
func (h *HealthTracker) RecordFailure() {
	h.mu.Lock()
	h.healthy = false
	h.failedAt = h.nowFunc()
	h.mu.Unlock()
}

// SetNowFunc overrides the time source (for testing).
func (h *HealthTracker) SetNowFunc(fn func() time.Time) {
	h.mu.Lock()
	h.nowFunc = fn
	h.mu.Unlock()
}

// StreamHealth wraps an adapter's event channel and records success or
// failure on h when the stream ends.
func StreamHealth(h *HealthTracker, in <-chan ChatEvent) <-chan ChatEvent {
	out := make(chan ChatEvent, cap(in))
	go func() {
		defer close(out)
		failed := false
		for ev := range in {
			if ev.Type == EventTypeError {
				failed = true
			}
			out <- ev
		}
		if failed {
			h.RecordFailure()
		} else {
			h.RecordSuccess()
		}
	}()
	return out
}
