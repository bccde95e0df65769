// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy implements the admission-control gate that privileged
// decisions must pass before publication.
//
// The gate wraps an optional external authority. When the authority is
// unreachable or absent, behavior is governed by the fail-closed flag:
// fail-closed treats degradation as rejection (the safe default), fail-open
// treats it as approval.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/datatypes"
)

// ErrPolicyRejected is returned by Enforce when a supervised decision is
// denied, either explicitly by the authority or implicitly by fail-closed
// degradation. The turn must surface this; it never silently continues.
var ErrPolicyRejected = errors.New("policy gate rejected decision")

// Verdict is the authority's answer for one envelope.
type Verdict struct {
	// Approved reports whether the decision may proceed.
	Approved bool

	// Reason is the authority's human-readable justification.
	Reason string
}

// Authority reviews decision envelopes.
//
// Implementations must not mutate the envelope. Retry policy belongs to the
// caller; the gate never retries internally.
type Authority interface {
	// Review evaluates one envelope and returns a verdict.
	//
	// Outputs:
	//   Verdict - The authority's decision.
	//   error - Non-nil when the authority could not be consulted.
	Review(ctx context.Context, envelope datatypes.PolicyDecisionEnvelope) (Verdict, error)
}

// GateConfig configures a Gate.
type GateConfig struct {
	// SupervisedTypes is the set of decision types the gate intercepts.
	// Nil selects every privileged type (DecisionType.IsPrivileged).
	SupervisedTypes []datatypes.DecisionType

	// FailClosed controls behavior when the authority is degraded or
	// absent: true rejects (default), false approves.
	FailClosed bool
}

// DefaultGateConfig returns the safe default: every privileged decision type
// supervised, fail-closed.
func DefaultGateConfig() GateConfig {
	return GateConfig{FailClosed: true}
}

// Gate enforces policy on privileged decision envelopes.
//
// Thread Safety: Safe for concurrent use; the gate holds no mutable state
// beyond its immutable configuration.
type Gate struct {
	authority  Authority
	supervised map[datatypes.DecisionType]struct{}
	failClosed bool
}

// NewGate creates a gate around an optional authority.
//
// Inputs:
//
//	authority - External authority, or nil when none is deployed.
//	config - Supervision set and degradation behavior.
//
// Outputs:
//
//	*Gate - The configured gate.
func NewGate(authority Authority, config GateConfig) *Gate {
	var supervised map[datatypes.DecisionType]struct{}
	if config.SupervisedTypes != nil {
		supervised = make(map[datatypes.DecisionType]struct{}, len(config.SupervisedTypes))
		for _, t := range config.SupervisedTypes {
			supervised[t] = struct{}{}
		}
	}

	return &Gate{
		authority:  authority,
		supervised: supervised,
		failClosed: config.FailClosed,
	}
}

// Supervises reports whether the gate intercepts the given decision type.
func (g *Gate) Supervises(t datatypes.DecisionType) bool {
	if g.supervised == nil {
		return t.IsPrivileged()
	}
	_, ok := g.supervised[t]
	return ok
}

// Enforce evaluates an envelope.
//
// Description:
//
//	Unsupervised decision types pass through untouched. Supervised types are
//	submitted to the authority; an explicit denial, or any degradation under
//	fail-closed, returns an error wrapping ErrPolicyRejected. The envelope
//	is never mutated and the authority is consulted at most once.
//
// Inputs:
//
//	ctx - Context for the authority call.
//	envelope - The decision under review.
//
// Outputs:
//
//	error - nil when allowed; wraps ErrPolicyRejected when denied.
func (g *Gate) Enforce(ctx context.Context, envelope datatypes.PolicyDecisionEnvelope) error {
	if !g.Supervises(datatypes.DecisionType(envelope.DecisionType)) {
		return nil
	}

	if g.authority == nil {
		if g.failClosed {
			return fmt.Errorf("%w: no authority configured (fail-closed)", ErrPolicyRejected)
		}
		slog.Warn("Policy gate passing decision through without authority",
			slog.String("decision_type", envelope.DecisionType),
			slog.String("correlation_id", envelope.CorrelationID),
		)
		return nil
	}

	verdict, err := g.authority.Review(ctx, envelope)
	if err != nil {
		if g.failClosed {
			return fmt.Errorf("%w: authority unreachable (fail-closed): %v", ErrPolicyRejected, err)
		}
		slog.Warn("Policy authority degraded, approving by fail-open configuration",
			slog.String("decision_type", envelope.DecisionType),
			slog.String("correlation_id", envelope.CorrelationID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if !verdict.Approved {
		return fmt.Errorf("%w: %s (decision %s)", ErrPolicyRejected, verdict.Reason, envelope.OriginalDecisionID)
	}
	return nil
}
