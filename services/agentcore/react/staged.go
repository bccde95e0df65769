// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package react

import (
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/datatypes"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/session"
)

// StagedState is a turn's private buffer of pending decision records and
// usage counters.
//
// # Description
//
// Updates accumulate lock-free in the buffer and are merged into the shared
// session state only at defined checkpoints (before every early return and
// at the end of every iteration) through Flush, which costs a single lock
// acquisition. This bounds lock-acquisition frequency to a handful per turn
// instead of one per field mutation.
//
// # Thread Safety
//
// NOT safe for concurrent use. A StagedState is owned by exactly one turn.
type StagedState struct {
	decisions []*datatypes.Decision
	tokens    int
	cost      float64
}

// NewStagedState creates an empty buffer.
func NewStagedState() *StagedState {
	return &StagedState{}
}

// Stage buffers a decision record. The record is held by reference; it must
// not be mutated after staging.
func (s *StagedState) Stage(d *datatypes.Decision) {
	s.decisions = append(s.decisions, d)
}

// AddUsage buffers token and cost consumption for the round.
func (s *StagedState) AddUsage(tokens int, cost float64) {
	s.tokens += tokens
	s.cost += cost
}

// Pending returns the number of buffered decision records.
func (s *StagedState) Pending() int {
	return len(s.decisions)
}

// Flush merges the buffer into the shared session state under one lock
// acquisition and resets the buffer. Flushing an empty buffer is a no-op.
func (s *StagedState) Flush(target *session.State) {
	if len(s.decisions) == 0 && s.tokens == 0 && s.cost == 0 {
		return
	}

	target.Merge(s.decisions, s.tokens, s.cost)

	s.decisions = nil
	s.tokens = 0
	s.cost = 0
}
