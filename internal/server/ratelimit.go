// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package server

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/time/rate"
)

const (
	chatRateLimitRetryAfter = "1"
	chatVisitorStaleAfter   = 10 * time.Minute
	chatVisitorMaxKeys      = 10000
)

type chatVisitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// chatLimiter admits chat requests per client key with a token bucket each.
type chatLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu       sync.Mutex
	visitors map[string]*chatVisitor
}

func newChatLimiter(limit rate.Limit, burst int) *chatLimiter {
	return &chatLimiter{
		limit:    limit,
		burst:    burst,
		now:      time.Now,
		visitors: make(map[string]*chatVisitor),
	}
}

func (l *chatLimiter) allow(key string) bool {
	if l == nil {
		return true
	}
	if key == "" {
		key = "ip:unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[key]
	if !ok {
		v = &chatVisitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *chatLimiter) cleanupLoop(done <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-done:
			return
		}
	}
}

// cleanup drops idle visitors. Past the key cap it drops everyone, since a
// fresh bucket starts full and costs a client nothing.
func (l *chatLimiter) cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	evicted := 0
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > chatVisitorStaleAfter {
			delete(l.visitors, key)
			evicted++
		}
	}
	if len(l.visitors) > chatVisitorMaxKeys {
		evicted += len(l.visitors)
		clear(l.visitors)
	}
	return evicted
}

type clientIPContextKey struct{}

func clientIPContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientIPContextKey{}, clientIPFromRemoteAddr(r.RemoteAddr))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIPFromRemoteAddr strips the port so clients are limited per IP, not
// per connection.
func clientIPFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func clientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPContextKey{}).(string); ok {
		return ip
	}
	return ""
}

// hashKey returns the first 8 hex chars of SHA-256(key) for log privacy.
func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h[:4])
}

// checkChatLimit returns a 429 error when the caller has exhausted its chat
// budget.
func (s *Server) checkChatLimit(ctx context.Context, endpoint string) error {
	if s.limiter == nil {
		return nil
	}
	key := "ip:" + clientIPFromContext(ctx)
	if s.limiter.allow(key) {
		return nil
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ChatRateLimited.Inc()
	}
	s.logger.Warn("chat rate limit exceeded", "endpoint", endpoint, "key_hash", hashKey(key))
	return chatTooManyRequests("chat rate limit exceeded")
}

func chatTooManyRequests(msg string) error {
	err429 := huma.NewError(http.StatusTooManyRequests, msg)
	return huma.ErrorWithHeaders(err429, http.Header{"Retry-After": []string{chatRateLimitRetryAfter}})
}
