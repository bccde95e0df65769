// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// FrameKind identifies the kind of a streamed progress frame.
type FrameKind string

const (
	// FrameThinking carries a reasoning step produced by the backend's think call.
	FrameThinking FrameKind = "thinking"

	// FrameReasoning carries intermediate reasoning detail.
	FrameReasoning FrameKind = "reasoning"

	// FrameAction announces the action the engine selected.
	FrameAction FrameKind = "action"

	// FrameObservation carries the observation fed back into the loop.
	FrameObservation FrameKind = "observation"

	// FrameToolCall announces a tool invocation.
	FrameToolCall FrameKind = "tool_call"

	// FrameToolResult carries the outcome of a tool invocation. Exactly one
	// tool_result follows every executed tool_call, including failures.
	FrameToolResult FrameKind = "tool_result"

	// FrameDelta carries an incremental chunk of the final response.
	FrameDelta FrameKind = "delta"

	// FrameFinal carries the complete final response for the turn.
	FrameFinal FrameKind = "final"

	// FrameError reports a failure to the consumer.
	FrameError FrameKind = "error"

	// FrameEnd is the terminal frame. No frame follows it.
	FrameEnd FrameKind = "end"
)

// EmissionFrame is one unit of streamed progress output.
//
// Sequence is assigned by the emission channel under the same critical section
// as the enqueue, so it is strictly increasing within one channel instance.
// The channel owns the frame it assigned a sequence to; consumers receive
// read-only copies.
type EmissionFrame struct {
	// Kind is the frame kind.
	Kind FrameKind `json:"type"`

	// Content is the frame payload text.
	Content string `json:"content,omitempty"`

	// Metadata carries kind-specific context (tool name, error code, ...).
	Metadata map[string]any `json:"metadata,omitempty"`

	// Sequence is the monotonically increasing frame number.
	Sequence uint64 `json:"sequence"`

	// Timestamp records when the frame was enqueued.
	Timestamp time.Time `json:"timestamp"`

	// IsDelta marks incremental response chunks.
	IsDelta bool `json:"is_delta,omitempty"`

	// DeltaIndex orders delta chunks within one response.
	DeltaIndex int `json:"delta_index,omitempty"`

	// IsFinal marks the frame that completes the response.
	IsFinal bool `json:"is_final,omitempty"`
}

// MetaKeyErrorCode is the metadata key under which error frames carry a
// machine-readable code.
const MetaKeyErrorCode = "error_code"

// Error codes attached to error frames.
const (
	// ErrCodeCoordinatorRejected marks actions vetoed by the policy gate or
	// blocked by respond-only mode.
	ErrCodeCoordinatorRejected = "COORDINATOR_REJECTED"

	// ErrCodeBackendFailure marks fatal think/decide failures.
	ErrCodeBackendFailure = "BACKEND_FAILURE"

	// ErrCodeCancelled marks caller-initiated cancellation.
	ErrCodeCancelled = "CANCELLED"
)
