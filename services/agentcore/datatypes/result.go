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

// LimitType names the resource limit that terminated a turn.
type LimitType string

const (
	// LimitMaxIterations means the iteration budget was exhausted.
	LimitMaxIterations LimitType = "max_iterations"

	// LimitTimeout means the wall-clock budget was exhausted.
	LimitTimeout LimitType = "timeout"

	// LimitTokens means the token budget was exhausted.
	LimitTokens LimitType = "token_limit"

	// LimitCost means the cost budget was exhausted.
	LimitCost LimitType = "cost_limit"

	// LimitCircuitBreaker means the admission gate denied the iteration.
	LimitCircuitBreaker LimitType = "circuit_breaker"
)

// ResourceBudget bounds one turn of engine execution.
//
// The budget is owned by the caller and read-only to the engine. Zero values
// for Timeout, MaxTokens, and MaxCost disable the corresponding limit;
// MaxIterations must be positive.
type ResourceBudget struct {
	// MaxIterations caps the number of reasoning rounds.
	MaxIterations int `json:"max_iterations"`

	// Timeout caps elapsed wall-clock time (0 = unlimited).
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxTokens caps cumulative token usage (0 = unlimited).
	MaxTokens int `json:"max_tokens,omitempty"`

	// MaxCost caps cumulative backend cost (0 = unlimited).
	MaxCost float64 `json:"max_cost,omitempty"`
}

// ReActResult accumulates the outcome of one turn.
//
// The result is owned exclusively by the turn that created it and is finalized
// exactly once at the engine's single return point. Iterations never exceeds
// the budget's MaxIterations.
type ReActResult struct {
	// Iterations is the number of reasoning rounds performed.
	Iterations int `json:"iterations"`

	// Completed reports whether the turn produced a final response.
	Completed bool `json:"completed"`

	// FinalResponse is the response text when Completed is true.
	FinalResponse string `json:"final_response,omitempty"`

	// TotalTokens is the cumulative token usage reported by the backend.
	TotalTokens int `json:"total_tokens"`

	// TotalCost is the cumulative cost reported by the backend.
	TotalCost float64 `json:"total_cost"`

	// TerminatedByLimit reports whether a resource limit ended the turn.
	TerminatedByLimit bool `json:"terminated_by_limit"`

	// LimitType names the limit that fired when TerminatedByLimit is true.
	LimitType LimitType `json:"limit_type,omitempty"`

	// AlertMessage is a human-readable description of the termination.
	AlertMessage string `json:"alert_message,omitempty"`

	// ExecutionTime is the wall-clock duration of the turn.
	ExecutionTime time.Duration `json:"execution_time"`
}
