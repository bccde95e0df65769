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

import "errors"

// ErrUnknownAction is returned when the backend selects an action type
// outside the closed enumeration. Unknown actions are a hard error rather
// than an implicit continue, so backend bugs surface instead of looping.
var ErrUnknownAction = errors.New("backend selected unknown action type")

// ErrRespondOnlyViolation is returned when respond-only mode is active and
// the backend selects anything other than a final textual response. The
// blocked action is never executed.
var ErrRespondOnlyViolation = errors.New("action forbidden in respond-only mode")

// ErrBackendFailure wraps fatal think/decide/should_continue failures.
var ErrBackendFailure = errors.New("backend call failed")

// ErrTurnCancelled is returned when the caller's context ends the turn.
var ErrTurnCancelled = errors.New("turn cancelled")
