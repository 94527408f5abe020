// Package ratelimit throttles inbound realtime frames and REST calls per
// identity.
package ratelimit

import (
	"context"
	"time"
)

// Config holds rate limiting configuration.
type Config struct {
	// RequestsPerWindow is the maximum number of requests allowed in the window.
	RequestsPerWindow int
	// WindowSize is the duration of the window.
	WindowSize time.Duration
}

// Enabled reports whether the config describes a usable limit.
func (c Config) Enabled() bool {
	return c.RequestsPerWindow > 0 && c.WindowSize > 0
}

// Result represents the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is the interface for rate limiting implementations.
type Limiter interface {
	// Allow checks if a request identified by key is allowed.
	Allow(ctx context.Context, key string) (*Result, error)

	// Close releases any resources held by the limiter.
	Close() error
}

// Unlimited is a Limiter that allows everything.
type Unlimited struct{}

// Allow implements Limiter.
func (Unlimited) Allow(context.Context, string) (*Result, error) {
	return &Result{Allowed: true, Remaining: -1}, nil
}

// Close implements Limiter.
func (Unlimited) Close() error {
	return nil
}
