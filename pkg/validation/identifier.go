// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for caller-provided identifiers that end
// up in log lines, registry keys, and downstream requests. Validating them
// at the boundary keeps injection and path-traversal payloads out of the
// execution path.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// toolNamePattern matches valid tool names.
// Allows: lowercase letters, digits, underscores, dots for namespacing
// (e.g. "search", "fs.read_file"). Max length: 64 characters.
var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)

// sessionIDPattern matches valid session identifiers.
// Allows: letters, digits, underscores, hyphens (covers UUIDs and
// caller-minted identifiers). Max length: 128 characters.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,127}$`)

// ValidateToolName validates a tool name before it is used to look up an
// executor or propagated into tool-call frames.
//
// Valid names:
//   - 1-64 characters
//   - lowercase letters, digits, underscores
//   - dot-separated segments for namespacing, each starting with a letter
//
// Returns an error if the name is invalid.
func ValidateToolName(name string) error {
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("tool name too long: %d chars (max 64)", len(name))
	}
	if !toolNamePattern.MatchString(name) {
		return fmt.Errorf("invalid tool name: %q (must be lowercase alphanumeric segments separated by dots)", name)
	}
	return nil
}

// ValidateSessionID validates a caller-supplied session identifier.
//
// Valid identifiers:
//   - 1-128 characters
//   - letters, digits, underscores, hyphens
//   - must start with a letter or digit
//
// Returns an error if the identifier is invalid. Empty identifiers are
// allowed upstream (the service mints one); callers check for empty first.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("invalid session id: %q (must be 1-128 alphanumeric chars, underscores, or hyphens)", id)
	}
	return nil
}

// SanitizeToolName normalizes and validates a tool name.
// Returns the lowercase trimmed name if valid, or an error if invalid.
func SanitizeToolName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if err := ValidateToolName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
