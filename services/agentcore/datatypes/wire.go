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

// StreamEvent is the transport-level envelope for one emission frame on the
// SSE and WebSocket surfaces.
//
// Each event carries integrity metadata:
//   - Id: UUID v4 for ordering and deduplication
//   - Hash: SHA-256 hash of event content
//   - PrevHash: hash of the previous event for chain verification
type StreamEvent struct {
	Id        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"created_at"`
	Hash      string `json:"hash"`
	PrevHash  string `json:"prev_hash"`

	// Content is the frame payload text.
	Content string `json:"content,omitempty"`

	// Sequence is the frame's channel-assigned sequence number.
	Sequence uint64 `json:"sequence"`

	// Metadata carries the frame's metadata map, when present.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Error carries a sanitized error message on error events.
	Error string `json:"error,omitempty"`

	// SessionId identifies the conversation, set on terminal events.
	SessionId string `json:"session_id,omitempty"`
}
