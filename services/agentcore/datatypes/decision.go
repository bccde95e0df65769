// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared data model for the agent core service:
// decisions, emission frames, resource budgets, run results, and the HTTP DTOs
// exchanged with transport clients.
package datatypes

import (
	"time"
)

// DecisionType enumerates every action the reasoning engine may select.
//
// The set is closed: the engine switches exhaustively over these values and
// treats anything else coming back from an LLM backend as a hard error rather
// than silently continuing.
type DecisionType string

const (
	// DecisionCreateNode requests creation of a single workflow node.
	DecisionCreateNode DecisionType = "create_node"

	// DecisionCreateWorkflowPlan requests creation of a full workflow plan.
	DecisionCreateWorkflowPlan DecisionType = "create_workflow_plan"

	// DecisionExecuteWorkflow requests execution of an existing workflow.
	DecisionExecuteWorkflow DecisionType = "execute_workflow"

	// DecisionModifyNode requests modification of an existing node.
	DecisionModifyNode DecisionType = "modify_node"

	// DecisionRequestClarification asks the user for more information.
	DecisionRequestClarification DecisionType = "request_clarification"

	// DecisionRespond produces the final textual response for the turn.
	DecisionRespond DecisionType = "respond"

	// DecisionContinue proceeds to the next reasoning iteration.
	DecisionContinue DecisionType = "continue"

	// DecisionErrorRecovery attempts recovery from a previous failure.
	DecisionErrorRecovery DecisionType = "error_recovery"

	// DecisionReplanWorkflow requests replanning of an existing workflow.
	DecisionReplanWorkflow DecisionType = "replan_workflow"

	// DecisionSpawnSubagent requests spawning a child agent.
	DecisionSpawnSubagent DecisionType = "spawn_subagent"
)

// allDecisionTypes is the membership set backing IsValid.
var allDecisionTypes = map[DecisionType]struct{}{
	DecisionCreateNode:           {},
	DecisionCreateWorkflowPlan:   {},
	DecisionExecuteWorkflow:      {},
	DecisionModifyNode:           {},
	DecisionRequestClarification: {},
	DecisionRespond:              {},
	DecisionContinue:             {},
	DecisionErrorRecovery:        {},
	DecisionReplanWorkflow:       {},
	DecisionSpawnSubagent:        {},
}

// IsValid reports whether t is a member of the closed enumeration.
func (t DecisionType) IsValid() bool {
	_, ok := allDecisionTypes[t]
	return ok
}

// IsPrivileged reports whether decisions of this type produce side effects in
// downstream collaborators and therefore must pass the policy gate before
// publication.
func (t DecisionType) IsPrivileged() bool {
	switch t {
	case DecisionCreateNode, DecisionCreateWorkflowPlan, DecisionExecuteWorkflow,
		DecisionModifyNode, DecisionRequestClarification, DecisionReplanWorkflow,
		DecisionSpawnSubagent:
		return true
	default:
		return false
	}
}

// Decision is a structured record of an action the engine wants to take.
//
// A Decision is immutable once recorded. It is staged into the turn's private
// buffer first, flushed to shared session state, and only then published to
// downstream consumers; both the staged buffer and the publisher hold the same
// pointer, never a destructive copy.
type Decision struct {
	// ID uniquely identifies the decision (UUID v4).
	ID string `json:"id"`

	// Type is the action kind.
	Type DecisionType `json:"type"`

	// Payload carries action-specific parameters, opaque to the core.
	Payload map[string]any `json:"payload,omitempty"`

	// Confidence is the backend's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Timestamp records when the engine created the decision.
	Timestamp time.Time `json:"timestamp"`
}
