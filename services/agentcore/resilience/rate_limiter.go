// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"errors"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned by AdmissionLimiter.Allow when the request
// exceeds the configured turn admission rate.
var ErrRateLimited = errors.New("turn admission rate exceeded")

// AdmissionLimiter bounds the rate at which new turns are admitted,
// independently of the circuit breaker. The breaker isolates sustained
// failure; the limiter smooths bursts of healthy traffic.
//
// Thread Safety: Safe for concurrent use.
type AdmissionLimiter struct {
	limiter *rate.Limiter
}

// NewAdmissionLimiter creates a limiter admitting turnsPerSecond sustained
// with the given burst. Non-positive values disable limiting.
func NewAdmissionLimiter(turnsPerSecond float64, burst int) *AdmissionLimiter {
	if turnsPerSecond <= 0 || burst <= 0 {
		return &AdmissionLimiter{}
	}
	return &AdmissionLimiter{limiter: rate.NewLimiter(rate.Limit(turnsPerSecond), burst)}
}

// Allow admits or rejects one turn without blocking.
func (l *AdmissionLimiter) Allow() error {
	if l.limiter == nil {
		return nil
	}
	if !l.limiter.Allow() {
		return ErrRateLimited
	}
	return nil
}
