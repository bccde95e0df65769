// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/stream"
)

// activeStream tracks one in-flight turn.
type activeStream struct {
	channel   *stream.Channel
	cancel    context.CancelFunc
	startedAt time.Time
}

// StreamRegistry tracks the active turn per session so status queries and
// cancellation can reach it.
//
// # Thread Safety
//
// Safe for concurrent use.
type StreamRegistry struct {
	mu      sync.RWMutex
	streams map[string]*activeStream
}

// NewStreamRegistry creates an empty registry.
func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{streams: make(map[string]*activeStream)}
}

// Register records a new active turn for the session. A session may have at
// most one active turn.
func (r *StreamRegistry) Register(sessionID string, ch *stream.Channel, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[sessionID]; exists {
		return fmt.Errorf("session %s already has an active stream", sessionID)
	}
	r.streams[sessionID] = &activeStream{
		channel:   ch,
		cancel:    cancel,
		startedAt: time.Now(),
	}
	return nil
}

// Lookup returns the channel of the session's active turn, if any.
func (r *StreamRegistry) Lookup(sessionID string) (*stream.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.streams[sessionID]
	if !ok {
		return nil, false
	}
	return s.channel, true
}

// Cancel aborts the session's active turn. Reports whether a turn was
// active.
func (r *StreamRegistry) Cancel(sessionID string) bool {
	r.mu.Lock()
	s, ok := r.streams[sessionID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.cancel()
	return true
}

// Remove clears the session's registry entry after the turn finishes.
func (r *StreamRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, sessionID)
}

// Count returns the number of active turns.
func (r *StreamRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}
