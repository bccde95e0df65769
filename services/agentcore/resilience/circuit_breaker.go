// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience provides failure-isolation primitives shared by every
// turn of engine execution: a three-state circuit breaker and an admission
// rate limiter. Instances are process-wide, injected where needed, and safe
// for concurrent use.
package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by CheckState when the breaker denies admission,
// either because the circuit is open or because the half-open trial quota is
// exhausted.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows requests through normally.
	CircuitClosed CircuitState = iota

	// CircuitOpen rejects all requests immediately.
	CircuitOpen

	// CircuitHalfOpen allows a limited number of trial requests.
	CircuitHalfOpen
)

// String returns the human-readable name for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before the next
	// state query moves it to half-open. Default: 60s
	RecoveryTimeout time.Duration

	// HalfOpenRequests is the max concurrent trial calls while half-open.
	// Default: 3
	HalfOpenRequests int

	// SuccessThreshold is the number of successes while half-open required
	// to close the circuit. Default: 2
	SuccessThreshold int
}

// DefaultCircuitBreakerConfig returns production defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenRequests: 3,
		SuccessThreshold: 2,
	}
}

// CircuitBreaker tracks consecutive failures and successes and gates
// admission to the reasoning loop.
//
// # Description
//
// State transitions:
//   - Closed -> Open after FailureThreshold consecutive failures (any
//     success while closed resets the counter).
//   - Open -> HalfOpen lazily, the next time state is queried once the
//     recovery timeout has elapsed since the last failure. No timer runs.
//   - HalfOpen -> Open on a single failure (the recovery clock restarts).
//   - HalfOpen -> Closed after SuccessThreshold successes (all counters
//     reset).
//
// The breaker is shared across turns and sessions; it is process-wide state,
// never per-turn.
//
// # Thread Safety
//
// Safe for concurrent use; every transition happens under one mutex.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	halfOpenTrials  int
	totalRequests   uint64
	totalRejections uint64
	lastFailureTime time.Time
}

// NewCircuitBreaker creates a breaker in the closed state.
//
// Inputs:
//
//	config - Thresholds and timeouts. Non-positive fields fall back to the
//	defaults from DefaultCircuitBreakerConfig.
//
// Outputs:
//
//	*CircuitBreaker - The breaker, ready for shared use.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = def.RecoveryTimeout
	}
	if config.HalfOpenRequests <= 0 {
		config.HalfOpenRequests = def.HalfOpenRequests
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}

	return &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
	}
}

// CheckState admits or denies a call.
//
// Description:
//
//	Performs the lazy open->half-open transition when the recovery window
//	has elapsed, then either counts the request and lets it through or
//	returns ErrCircuitOpen. While half-open, at most HalfOpenRequests trial
//	calls are admitted.
//
// Outputs:
//
//	error - nil when admitted; wraps ErrCircuitOpen when denied.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) CheckState() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeRecoverLocked()

	switch cb.state {
	case CircuitOpen:
		cb.totalRejections++
		return fmt.Errorf("%w: retry after %s", ErrCircuitOpen, cb.config.RecoveryTimeout)

	case CircuitHalfOpen:
		if cb.halfOpenTrials >= cb.config.HalfOpenRequests {
			cb.totalRejections++
			return fmt.Errorf("%w: half-open trial quota exhausted", ErrCircuitOpen)
		}
		cb.halfOpenTrials++
	}

	cb.totalRequests++
	return nil
}

// RecordSuccess records a successful call.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0

	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.transitionLocked(CircuitClosed)
		}
	}
}

// RecordFailure records a failed call.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		cb.successCount = 0
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transitionLocked(CircuitOpen)
		}

	case CircuitHalfOpen:
		// A single half-open failure reopens the circuit and restarts
		// the recovery clock.
		cb.transitionLocked(CircuitOpen)
	}
}

// State returns the current circuit state, applying the lazy open->half-open
// transition first.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeRecoverLocked()
	return cb.state
}

// Stats contains a snapshot of breaker counters.
type Stats struct {
	State           CircuitState
	FailureCount    int
	SuccessCount    int
	HalfOpenTrials  int
	TotalRequests   uint64
	TotalRejections uint64
	LastFailureTime time.Time
}

// Stats returns a snapshot of the breaker counters.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeRecoverLocked()
	return Stats{
		State:           cb.state,
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		HalfOpenTrials:  cb.halfOpenTrials,
		TotalRequests:   cb.totalRequests,
		TotalRejections: cb.totalRejections,
		LastFailureTime: cb.lastFailureTime,
	}
}

// Reset returns the breaker to the closed state with all counters cleared.
// Primarily for tests and manual intervention.
//
// Thread Safety: Safe for concurrent use.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenTrials = 0
}

// maybeRecoverLocked applies the lazy open->half-open transition.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) maybeRecoverLocked() {
	if cb.state == CircuitOpen && time.Since(cb.lastFailureTime) >= cb.config.RecoveryTimeout {
		cb.transitionLocked(CircuitHalfOpen)
	}
}

// transitionLocked changes state and resets per-state counters.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) transitionLocked(next CircuitState) {
	cb.state = next
	cb.successCount = 0
	cb.halfOpenTrials = 0
	if next == CircuitClosed {
		cb.failureCount = 0
	}
}
