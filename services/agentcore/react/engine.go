// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package react implements the resource-budgeted reasoning loop at the heart
// of the agent core.
//
// # Description
//
// One Run call processes one turn: at most MaxIterations reasoning rounds,
// each gated by the circuit breaker and the remaining time/token/cost budget,
// each producing progress frames on the turn's emission channel. Privileged
// decisions are staged, flushed to shared session state, routed through the
// policy gate, and only then published to downstream consumers.
//
// The engine is explicit composition: a struct holding the breaker, the
// gate, the publisher, a tool executor, and a narrow Backend interface, wired
// by a constructor. It holds no per-turn state of its own and may run many
// turns concurrently.
package react

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/DSGWJQ/Feagent-sub002/pkg/validation"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/datatypes"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/events"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/observability"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/policy"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/resilience"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/session"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/stream"
)

// ErrInvalidTurn is returned when a turn is missing required inputs.
var ErrInvalidTurn = errors.New("invalid turn")

// Turn bundles the inputs for one engine run.
type Turn struct {
	// Session is the shared session state the turn merges into.
	Session *session.State

	// Channel receives the turn's progress frames.
	Channel *stream.Channel

	// Message is the user message to process.
	Message string

	// WorkflowID scopes the turn to a workflow, when one exists.
	WorkflowID string

	// Budget bounds the turn. Read-only to the engine.
	Budget datatypes.ResourceBudget

	// Context carries caller-supplied key/value context.
	Context map[string]any
}

// Engine drives the reasoning loop.
//
// Thread Safety: Safe for concurrent use; all per-turn state lives in the
// Turn and its private StagedState.
type Engine struct {
	backend     Backend
	breaker     *resilience.CircuitBreaker
	gate        *policy.Gate
	publisher   events.DecisionPublisher
	tools       ToolExecutor
	metrics     *observability.Metrics
	respondOnly bool
	tracer      oteltrace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets the decision publisher notified after policy approval.
func WithPublisher(p events.DecisionPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithToolExecutor sets the tool executor for tool_call actions.
func WithToolExecutor(t ToolExecutor) Option {
	return func(e *Engine) { e.tools = t }
}

// WithMetrics sets the Prometheus metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRespondOnly puts the engine in respond-only mode: every action except a
// final textual response is rejected before execution.
func WithRespondOnly(enabled bool) Option {
	return func(e *Engine) { e.respondOnly = enabled }
}

// NewEngine wires an engine from its collaborators.
//
// Inputs:
//
//	backend - The language-model backend. Required.
//	breaker - The process-wide circuit breaker. Required.
//	gate - The policy gate for privileged decisions. Required.
//	opts - Optional collaborators and modes.
//
// Outputs:
//
//	*Engine - The configured engine.
func NewEngine(backend Backend, breaker *resilience.CircuitBreaker, gate *policy.Gate, opts ...Option) *Engine {
	e := &Engine{
		backend: backend,
		breaker: breaker,
		gate:    gate,
		tracer:  otel.Tracer("agentcore/react"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one turn.
//
// Description:
//
//	Performs at most Budget.MaxIterations reasoning rounds. At the start of
//	each round the active limits are checked in order: circuit breaker,
//	elapsed time, token budget, cost budget; the first limit hit terminates
//	the turn with the matching LimitType. Every terminal path, including
//	cancellation and backend failure, completes the channel so the consumer
//	is released promptly, and flushes staged state so no updates are lost.
//
// Inputs:
//
//	ctx - Context for cancellation; checked at iteration boundaries.
//	turn - The turn inputs.
//
// Outputs:
//
//	*datatypes.ReActResult - The turn outcome, finalized exactly once.
//	error - Non-nil for backend failures, policy rejections, unknown
//	actions, and cancellation. Limit terminations are not errors.
func (e *Engine) Run(ctx context.Context, turn Turn) (*datatypes.ReActResult, error) {
	if err := validateTurn(turn); err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "agentcore.turn",
		oteltrace.WithAttributes(
			attribute.String("session_id", turn.Session.ID),
			attribute.Int("budget.max_iterations", turn.Budget.MaxIterations),
		))
	defer span.End()

	result := &datatypes.ReActResult{}
	staged := NewStagedState()
	start := time.Now()
	outcome := "completed"

	defer func() {
		staged.Flush(turn.Session)
		result.ExecutionTime = time.Since(start)
		span.SetAttributes(attribute.Int("iterations", result.Iterations))
		if e.metrics != nil {
			e.metrics.TurnsTotal.WithLabelValues(outcome).Inc()
			e.metrics.TurnDurationSeconds.WithLabelValues(outcome).Observe(result.ExecutionTime.Seconds())
			e.metrics.IterationsPerTurn.Observe(float64(result.Iterations))
		}
	}()

	turn.Session.AppendMessage("user", turn.Message)

	goalStack := []string{turn.Message}
	var feedback []string

	for result.Iterations < turn.Budget.MaxIterations {
		// Cancellation first: stop before any further backend invocation
		// and release the consumer with a clean terminal sequence.
		if err := ctx.Err(); err != nil {
			outcome = "cancelled"
			staged.Flush(turn.Session)
			turn.Channel.CompleteWithError("turn cancelled", datatypes.ErrCodeCancelled)
			return result, fmt.Errorf("%w: %v", ErrTurnCancelled, err)
		}

		// Limit check order: breaker, elapsed time, tokens, cost.
		if err := e.breaker.CheckState(); err != nil {
			if e.metrics != nil {
				e.metrics.BreakerRejectionsTotal.Inc()
			}
			outcome = "limit"
			e.finishLimit(turn, staged, result, datatypes.LimitCircuitBreaker,
				"execution suspended: the circuit breaker is open after repeated backend failures")
			return result, nil
		}
		if turn.Budget.Timeout > 0 && time.Since(start) >= turn.Budget.Timeout {
			outcome = "limit"
			e.finishLimit(turn, staged, result, datatypes.LimitTimeout,
				fmt.Sprintf("turn exceeded its %s time budget after %d iteration(s)", turn.Budget.Timeout, result.Iterations))
			return result, nil
		}
		if turn.Budget.MaxTokens > 0 && result.TotalTokens >= turn.Budget.MaxTokens {
			outcome = "limit"
			e.finishLimit(turn, staged, result, datatypes.LimitTokens,
				fmt.Sprintf("turn exhausted its token budget (%d of %d)", result.TotalTokens, turn.Budget.MaxTokens))
			return result, nil
		}
		if turn.Budget.MaxCost > 0 && result.TotalCost >= turn.Budget.MaxCost {
			outcome = "limit"
			e.finishLimit(turn, staged, result, datatypes.LimitCost,
				fmt.Sprintf("turn exhausted its cost budget (%.4f of %.4f)", result.TotalCost, turn.Budget.MaxCost))
			return result, nil
		}

		result.Iterations++
		rc := e.buildContext(turn, result.Iterations, goalStack, feedback)
		feedback = nil

		thought, err := e.backend.Think(ctx, rc)
		if err != nil {
			outcome = "backend_error"
			staged.Flush(turn.Session)
			return result, e.failBackend(turn, span, "think", err)
		}
		e.emit(turn.Channel, datatypes.EmissionFrame{
			Kind:    datatypes.FrameThinking,
			Content: thought,
		})

		action, err := e.backend.DecideAction(ctx, rc)
		if err != nil {
			outcome = "backend_error"
			staged.Flush(turn.Session)
			return result, e.failBackend(turn, span, "decide", err)
		}

		e.accountUsage(staged, result)

		switch {
		case action.ActionType == string(datatypes.DecisionRespond):
			response := action.Response
			if response == "" {
				response = thought
			}
			e.finishCompleted(turn, staged, result, response)
			return result, nil

		case action.ActionType == ActionToolCall:
			if e.respondOnly {
				outcome = "policy_rejected"
				staged.Flush(turn.Session)
				turn.Channel.CompleteWithError(
					fmt.Sprintf("tool %q may not run in respond-only mode", action.ToolName),
					datatypes.ErrCodeCoordinatorRejected)
				return result, fmt.Errorf("%w: tool %q", ErrRespondOnlyViolation, action.ToolName)
			}

			e.emit(turn.Channel, datatypes.EmissionFrame{
				Kind:    datatypes.FrameToolCall,
				Content: action.ToolName,
				Metadata: map[string]any{
					"tool": action.ToolName,
					"args": action.ToolArgs,
				},
			})
			res := e.executeTool(ctx, action)
			e.emit(turn.Channel, datatypes.EmissionFrame{
				Kind:    datatypes.FrameToolResult,
				Content: res.Output,
				Metadata: map[string]any{
					"tool":    action.ToolName,
					"success": res.Success,
					"error":   res.Error,
				},
			})
			feedback = append(feedback, observationOf(action.ToolName, res))

		case datatypes.DecisionType(action.ActionType).IsValid():
			decisionType := datatypes.DecisionType(action.ActionType)

			if e.respondOnly {
				outcome = "policy_rejected"
				staged.Flush(turn.Session)
				turn.Channel.CompleteWithError(
					fmt.Sprintf("action %q may not run in respond-only mode", decisionType),
					datatypes.ErrCodeCoordinatorRejected)
				return result, fmt.Errorf("%w: action %q", ErrRespondOnlyViolation, decisionType)
			}

			decision := &datatypes.Decision{
				ID:         uuid.NewString(),
				Type:       decisionType,
				Payload:    action.Payload,
				Confidence: action.Confidence,
				Timestamp:  time.Now(),
			}
			staged.Stage(decision)

			if decisionType.IsPrivileged() {
				// Privileged decisions must be durable in shared state
				// before any downstream consumer hears about them.
				staged.Flush(turn.Session)

				envelope := datatypes.PolicyDecisionEnvelope{
					DecisionType:       string(decisionType),
					Action:             string(decisionType),
					SessionID:          turn.Session.ID,
					WorkflowID:         turn.WorkflowID,
					MessageLen:         len(turn.Message),
					CorrelationID:      uuid.NewString(),
					OriginalDecisionID: decision.ID,
				}
				if err := e.gate.Enforce(ctx, envelope); err != nil {
					outcome = "policy_rejected"
					if e.metrics != nil {
						e.metrics.PolicyVerdictsTotal.WithLabelValues("rejected").Inc()
					}
					span.RecordError(err)
					turn.Channel.CompleteWithError(err.Error(), datatypes.ErrCodeCoordinatorRejected)
					return result, err
				}
				if e.metrics != nil {
					e.metrics.PolicyVerdictsTotal.WithLabelValues("allowed").Inc()
				}

				if e.publisher != nil {
					e.publisher.Publish(decision)
				}
				e.emit(turn.Channel, datatypes.EmissionFrame{
					Kind:    datatypes.FrameAction,
					Content: string(decisionType),
					Metadata: map[string]any{
						"decision_id": decision.ID,
						"confidence":  decision.Confidence,
					},
				})
			}

		default:
			outcome = "backend_error"
			staged.Flush(turn.Session)
			turn.Channel.CompleteWithError(
				fmt.Sprintf("backend selected unknown action type %q", action.ActionType),
				datatypes.ErrCodeBackendFailure)
			return result, fmt.Errorf("%w: %q", ErrUnknownAction, action.ActionType)
		}

		cont, err := e.backend.ShouldContinue(ctx, rc)
		if err != nil {
			outcome = "backend_error"
			staged.Flush(turn.Session)
			return result, e.failBackend(turn, span, "should_continue", err)
		}
		if !cont {
			response := action.Response
			if response == "" {
				response = thought
			}
			e.finishCompleted(turn, staged, result, response)
			return result, nil
		}

		// End-of-iteration checkpoint.
		staged.Flush(turn.Session)
	}

	outcome = "limit"
	e.finishLimit(turn, staged, result, datatypes.LimitMaxIterations,
		fmt.Sprintf("reached the maximum of %d iteration(s) without completing; partial progress has been preserved", turn.Budget.MaxIterations))
	return result, nil
}

// validateTurn checks required turn inputs.
func validateTurn(turn Turn) error {
	if turn.Session == nil {
		return fmt.Errorf("%w: nil session", ErrInvalidTurn)
	}
	if turn.Channel == nil {
		return fmt.Errorf("%w: nil channel", ErrInvalidTurn)
	}
	if turn.Message == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidTurn)
	}
	if turn.Budget.MaxIterations <= 0 {
		return fmt.Errorf("%w: max_iterations must be positive", ErrInvalidTurn)
	}
	return nil
}

// buildContext assembles the read-only reasoning context for one round.
func (e *Engine) buildContext(turn Turn, iteration int, goals, feedback []string) *ReasoningContext {
	return &ReasoningContext{
		SessionID:       turn.Session.ID,
		WorkflowID:      turn.WorkflowID,
		Message:         turn.Message,
		History:         turn.Session.History(),
		GoalStack:       goals,
		PendingFeedback: feedback,
		Iteration:       iteration,
		Constraints:     turn.Budget,
		Extra:           turn.Context,
	}
}

// accountUsage reads the backend's optional usage reporters into the staged
// buffer and the turn result. A failing reporter contributes zero for the
// round; that is logged so under-accounting stays visible.
func (e *Engine) accountUsage(staged *StagedState, result *datatypes.ReActResult) {
	if reporter, ok := e.backend.(TokenUsageReporter); ok {
		usage, err := reporter.TokenUsage()
		if err != nil {
			slog.Warn("Backend token usage unavailable, counting zero for this round",
				slog.String("error", err.Error()))
		} else {
			total := usage.Total()
			staged.AddUsage(total, 0)
			result.TotalTokens += total
			if e.metrics != nil {
				e.metrics.TokensTotal.Add(float64(total))
			}
		}
	}

	if reporter, ok := e.backend.(CostReporter); ok {
		cost, err := reporter.Cost()
		if err != nil {
			slog.Warn("Backend cost unavailable, counting zero for this round",
				slog.String("error", err.Error()))
		} else {
			staged.AddUsage(0, cost)
			result.TotalCost += cost
		}
	}
}

// executeTool runs one tool call, mapping every failure mode into an in-band
// ToolResult so the caller can always emit exactly one tool_result frame.
func (e *Engine) executeTool(ctx context.Context, action *ActionDecision) *ToolResult {
	if err := validation.ValidateToolName(action.ToolName); err != nil {
		return &ToolResult{Success: false, Error: err.Error()}
	}
	if e.tools == nil {
		return &ToolResult{
			Success: false,
			Error:   fmt.Sprintf("unknown tool %q: no tool executor configured", action.ToolName),
		}
	}

	res, err := e.tools.Execute(ctx, action.ToolName, action.ToolArgs)
	if err != nil {
		return &ToolResult{Success: false, Error: err.Error()}
	}
	if res == nil {
		return &ToolResult{Success: false, Error: fmt.Sprintf("tool %q returned no result", action.ToolName)}
	}
	return res
}

// observationOf renders a tool outcome as feedback for the next round.
func observationOf(tool string, res *ToolResult) string {
	if res.Success {
		return fmt.Sprintf("tool %s: %s", tool, res.Output)
	}
	return fmt.Sprintf("tool %s failed: %s", tool, res.Error)
}

// finishCompleted finalizes a successful turn: flush, final frame, channel
// completion, breaker success.
func (e *Engine) finishCompleted(turn Turn, staged *StagedState, result *datatypes.ReActResult, response string) {
	staged.Flush(turn.Session)
	turn.Session.AppendMessage("assistant", response)

	e.emit(turn.Channel, datatypes.EmissionFrame{
		Kind:    datatypes.FrameFinal,
		Content: response,
		IsFinal: true,
	})
	turn.Channel.Complete()

	result.Completed = true
	result.FinalResponse = response
	e.breaker.RecordSuccess()
}

// finishLimit finalizes a limit-terminated turn. Limit hits are controlled
// terminations, not errors: the consumer gets a final frame carrying the
// alert message, then the end frame.
func (e *Engine) finishLimit(turn Turn, staged *StagedState, result *datatypes.ReActResult, limit datatypes.LimitType, alert string) {
	staged.Flush(turn.Session)

	result.TerminatedByLimit = true
	result.LimitType = limit
	result.AlertMessage = alert

	e.emit(turn.Channel, datatypes.EmissionFrame{
		Kind:    datatypes.FrameFinal,
		Content: alert,
		Metadata: map[string]any{
			"terminated_by_limit": true,
			"limit_type":          string(limit),
		},
		IsFinal: true,
	})
	turn.Channel.Complete()

	if e.metrics != nil {
		e.metrics.LimitTerminationsTotal.WithLabelValues(string(limit)).Inc()
	}

	slog.Info("Turn terminated by resource limit",
		slog.String("session_id", turn.Session.ID),
		slog.String("limit_type", string(limit)),
		slog.Int("iterations", result.Iterations),
	)
}

// failBackend finalizes a fatal backend failure: breaker failure record,
// error frame plus end frame, wrapped error for the caller.
func (e *Engine) failBackend(turn Turn, span oteltrace.Span, stage string, err error) error {
	e.breaker.RecordFailure()
	span.RecordError(err)

	turn.Channel.CompleteWithError(
		fmt.Sprintf("backend %s failed: %v", stage, err),
		datatypes.ErrCodeBackendFailure)

	return fmt.Errorf("%w: %s: %v", ErrBackendFailure, stage, err)
}

// emit writes a frame, treating a closed channel as a best-effort no-op.
func (e *Engine) emit(ch *stream.Channel, frame datatypes.EmissionFrame) {
	if err := ch.Emit(frame); err != nil {
		return
	}
	if e.metrics != nil {
		e.metrics.FramesEmittedTotal.WithLabelValues(string(frame.Kind)).Inc()
	}
}
