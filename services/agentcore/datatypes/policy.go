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

// PolicyDecisionEnvelope is the payload the engine submits to the policy gate
// when a privileged decision needs approval.
//
// The envelope is constructed fresh per guarded call and is never persisted or
// mutated by the gate itself.
type PolicyDecisionEnvelope struct {
	// DecisionType is the kind of decision under review.
	DecisionType string `json:"decision_type"`

	// Action is the concrete operation requested (e.g. "create_node").
	Action string `json:"action"`

	// SessionID identifies the conversation session.
	SessionID string `json:"session_id"`

	// WorkflowID identifies the target workflow, when one exists.
	WorkflowID string `json:"workflow_id,omitempty"`

	// MessageLen is the length of the originating user message.
	MessageLen int `json:"message_len"`

	// CorrelationID lets the authority correlate request and verdict.
	CorrelationID string `json:"correlation_id"`

	// OriginalDecisionID references the staged decision under review.
	OriginalDecisionID string `json:"original_decision_id"`
}
