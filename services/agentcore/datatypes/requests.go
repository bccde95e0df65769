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

// ConversationStreamRequest is the body of POST /conversation/stream.
//
// Validation happens through gin's binding layer (go-playground/validator
// tags). SessionID is optional; when absent the handler mints a new session
// and returns its id in the response header.
type ConversationStreamRequest struct {
	// Message is the user message to process.
	Message string `json:"message" binding:"required,min=1,max=32768"`

	// SessionID continues an existing conversation when set.
	SessionID string `json:"session_id,omitempty" binding:"omitempty,uuid4"`

	// WorkflowID scopes the turn to an existing workflow when set.
	WorkflowID string `json:"workflow_id,omitempty"`

	// Context carries caller-supplied key/value context for the turn.
	Context map[string]any `json:"context,omitempty"`
}

// StreamStatusResponse is the body of GET /conversation/stream/:session_id/status.
type StreamStatusResponse struct {
	SessionID   string         `json:"session_id"`
	IsActive    bool           `json:"is_active"`
	IsCompleted bool           `json:"is_completed"`
	Statistics  map[string]any `json:"statistics,omitempty"`
}

// ErrorResponse is the generic JSON error body for non-streaming failures.
type ErrorResponse struct {
	Error string `json:"error"`
}
