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
	"context"

	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/datatypes"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/session"
)

// ActionToolCall is the action type for tool invocations. It is not a
// DecisionType: tool calls are executed inside the turn rather than recorded
// as governed decisions.
const ActionToolCall = "tool_call"

// ReasoningContext is the read-only context handed to the backend for each
// reasoning round.
type ReasoningContext struct {
	// SessionID identifies the conversation session.
	SessionID string

	// WorkflowID scopes the turn to a workflow, when one exists.
	WorkflowID string

	// Message is the user message being processed.
	Message string

	// History is the conversation history so far.
	History []session.Message

	// GoalStack holds the open goals for the turn, most recent last.
	GoalStack []string

	// PendingFeedback carries observations not yet consumed by the backend
	// (tool outputs, recovery hints).
	PendingFeedback []string

	// Iteration is the current reasoning round, starting at 1.
	Iteration int

	// Constraints exposes the turn's resource budget to the backend.
	Constraints datatypes.ResourceBudget

	// Extra carries caller-supplied context for the turn.
	Extra map[string]any
}

// ActionDecision is the backend's chosen action for one round.
type ActionDecision struct {
	// ActionType is the raw action selected by the backend: either
	// ActionToolCall or a member of the DecisionType enumeration. Anything
	// else is a hard error.
	ActionType string

	// Response is the final response text when ActionType is "respond".
	Response string

	// ToolName names the tool when ActionType is "tool_call".
	ToolName string

	// ToolArgs are the tool parameters when ActionType is "tool_call".
	ToolArgs map[string]any

	// Payload carries decision parameters for privileged action types.
	Payload map[string]any

	// Confidence is the backend's self-reported confidence in [0,1].
	Confidence float64
}

// TokenUsage is the per-call usage report of a backend.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns the combined token count.
func (u TokenUsage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Backend is the pluggable language-model collaborator.
//
// Any error from the three required calls is fatal to the turn: the engine
// emits an error frame, closes the channel, and propagates the error. It
// does not retry.
type Backend interface {
	// Think produces the reasoning text for the round.
	Think(ctx context.Context, rc *ReasoningContext) (string, error)

	// DecideAction selects the action for the round.
	DecideAction(ctx context.Context, rc *ReasoningContext) (*ActionDecision, error)

	// ShouldContinue reports whether another round is worthwhile.
	ShouldContinue(ctx context.Context, rc *ReasoningContext) (bool, error)
}

// TokenUsageReporter is an optional backend capability reporting token usage
// accumulated since the previous read. Reading resets the counter, so one
// read per round captures every completion the round issued regardless of
// how many backend calls it took. A reporting failure is treated as zero
// usage for the round, logged at Warn; it never fails the turn.
type TokenUsageReporter interface {
	TokenUsage() (TokenUsage, error)
}

// CostReporter is an optional backend capability reporting cost accumulated
// since the previous read. Read-and-reset and failure contracts match
// TokenUsageReporter.
type CostReporter interface {
	Cost() (float64, error)
}

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	// Success reports whether the tool ran to completion.
	Success bool `json:"success"`

	// Output is the tool's output on success.
	Output string `json:"output,omitempty"`

	// Error is the failure message when Success is false.
	Error string `json:"error,omitempty"`
}

// ToolExecutor runs tools on behalf of the engine.
//
// Execute reports in-band failures through ToolResult rather than an error:
// an unknown tool returns Success=false with Error populated. The error
// return is reserved for context cancellation.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
}
