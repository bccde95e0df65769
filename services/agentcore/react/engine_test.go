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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/datatypes"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/events"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/policy"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/resilience"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/session"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/stream"
)

// =============================================================================
// Test doubles
// =============================================================================

// scriptedBackend replays a fixed sequence of per-round actions. After the
// script runs out it keeps returning the last entry.
type scriptedBackend struct {
	script []scriptStep

	thinkErr    error
	decideErr   error
	continueErr error

	tokensPerRound int
	costPerRound   float64
	usageErr       error

	round int
}

type scriptStep struct {
	thought   string
	action    *ActionDecision
	keepGoing bool
}

func (b *scriptedBackend) step() scriptStep {
	i := b.round
	if i >= len(b.script) {
		i = len(b.script) - 1
	}
	return b.script[i]
}

func (b *scriptedBackend) Think(_ context.Context, _ *ReasoningContext) (string, error) {
	if b.thinkErr != nil {
		return "", b.thinkErr
	}
	return b.step().thought, nil
}

func (b *scriptedBackend) DecideAction(_ context.Context, _ *ReasoningContext) (*ActionDecision, error) {
	if b.decideErr != nil {
		return nil, b.decideErr
	}
	return b.step().action, nil
}

func (b *scriptedBackend) ShouldContinue(_ context.Context, _ *ReasoningContext) (bool, error) {
	if b.continueErr != nil {
		return false, b.continueErr
	}
	step := b.step()
	b.round++
	return step.keepGoing, nil
}

func (b *scriptedBackend) TokenUsage() (TokenUsage, error) {
	if b.usageErr != nil {
		return TokenUsage{}, b.usageErr
	}
	return TokenUsage{PromptTokens: b.tokensPerRound}, nil
}

func (b *scriptedBackend) Cost() (float64, error) {
	if b.usageErr != nil {
		return 0, b.usageErr
	}
	return b.costPerRound, nil
}

var (
	_ Backend            = (*scriptedBackend)(nil)
	_ TokenUsageReporter = (*scriptedBackend)(nil)
	_ CostReporter       = (*scriptedBackend)(nil)
)

// stallingBackend sleeps inside Think to simulate a slow model.
type stallingBackend struct {
	scriptedBackend
	delay time.Duration
}

func (b *stallingBackend) Think(ctx context.Context, rc *ReasoningContext) (string, error) {
	time.Sleep(b.delay)
	return b.scriptedBackend.Think(ctx, rc)
}

// recordingExecutor returns a canned result and remembers the calls it saw.
type recordingExecutor struct {
	result *ToolResult
	err    error
	calls  []string
}

func (r *recordingExecutor) Execute(_ context.Context, name string, _ map[string]any) (*ToolResult, error) {
	r.calls = append(r.calls, name)
	return r.result, r.err
}

// verdictAuthority returns a fixed verdict.
type verdictAuthority struct {
	verdict policy.Verdict
	err     error
	reviews int
}

func (a *verdictAuthority) Review(_ context.Context, _ datatypes.PolicyDecisionEnvelope) (policy.Verdict, error) {
	a.reviews++
	return a.verdict, a.err
}

// =============================================================================
// Helpers
// =============================================================================

func newTestEngine(t *testing.T, backend Backend, opts ...Option) *Engine {
	t.Helper()
	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	gate := policy.NewGate(&verdictAuthority{verdict: policy.Verdict{Approved: true}}, policy.DefaultGateConfig())
	return NewEngine(backend, breaker, gate, opts...)
}

func newTestTurn(maxIterations int) Turn {
	return Turn{
		Session: session.New(),
		Channel: stream.NewChannel(),
		Message: "hello",
		Budget:  datatypes.ResourceBudget{MaxIterations: maxIterations},
	}
}

// drainFrames reads every frame off the channel until the end frame, failing
// the test if the stream stalls.
func drainFrames(t *testing.T, ch *stream.Channel) []datatypes.EmissionFrame {
	t.Helper()
	var frames []datatypes.EmissionFrame
	for {
		frame, err := ch.Receive(context.Background(), 2*time.Second)
		if err != nil {
			t.Fatalf("Receive failed after %d frames: %v", len(frames), err)
		}
		frames = append(frames, frame)
		if frame.Kind == datatypes.FrameEnd {
			return frames
		}
	}
}

func frameKinds(frames []datatypes.EmissionFrame) []datatypes.FrameKind {
	kinds := make([]datatypes.FrameKind, len(frames))
	for i, f := range frames {
		kinds[i] = f.Kind
	}
	return kinds
}

// =============================================================================
// Tests
// =============================================================================

func TestRunTrivialSuccess(t *testing.T) {
	backend := &scriptedBackend{script: []scriptStep{
		{thought: "user greeted me", action: &ActionDecision{ActionType: "respond", Response: "hi"}},
	}}
	engine := newTestEngine(t, backend)
	turn := newTestTurn(5)

	result, err := engine.Run(context.Background(), turn)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !result.Completed {
		t.Error("expected Completed")
	}
	if result.FinalResponse != "hi" {
		t.Errorf("FinalResponse = %q, want %q", result.FinalResponse, "hi")
	}
	if result.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", result.Iterations)
	}
	if result.TerminatedByLimit {
		t.Error("trivial turn should not be limit-terminated")
	}

	frames := drainFrames(t, turn.Channel)
	want := []datatypes.FrameKind{datatypes.FrameThinking, datatypes.FrameFinal, datatypes.FrameEnd}
	got := frameKinds(frames)
	if len(got) != len(want) {
		t.Fatalf("frame kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %q, want %q", i, got[i], want[i])
		}
	}
	if !frames[1].IsFinal {
		t.Error("final frame should be marked IsFinal")
	}
}

func TestRunMaxIterationsLimit(t *testing.T) {
	backend := &scriptedBackend{script: []scriptStep{
		{thought: "still working", action: &ActionDecision{ActionType: "continue"}, keepGoing: true},
	}}
	engine := newTestEngine(t, backend)
	turn := newTestTurn(3)

	result, err := engine.Run(context.Background(), turn)
	if err != nil {
		t.Fatalf("limit termination must not be an error: %v", err)
	}

	if result.Completed {
		t.Error("limit-terminated turn must not be Completed")
	}
	if !result.TerminatedByLimit {
		t.Error("expected TerminatedByLimit")
	}
	if result.LimitType != datatypes.LimitMaxIterations {
		t.Errorf("LimitType = %q, want %q", result.LimitType, datatypes.LimitMaxIterations)
	}
	if result.Iterations != 3 {
		t.Errorf("Iterations = %d, want exactly 3", result.Iterations)
	}
	if result.AlertMessage == "" {
		t.Error("expected a human-readable alert message")
	}

	frames := drainFrames(t, turn.Channel)
	last := frames[len(frames)-2]
	if last.Kind != datatypes.FrameFinal {
		t.Fatalf("penultimate frame = %q, want final", last.Kind)
	}
	if last.Metadata["limit_type"] != string(datatypes.LimitMaxIterations) {
		t.Errorf("final frame limit_type = %v", last.Metadata["limit_type"])
	}
}

func TestRunTokenBudgetLimit(t *testing.T) {
	backend := &scriptedBackend{
		script: []scriptStep{
			{thought: "chewing tokens", action: &ActionDecision{ActionType: "continue"}, keepGoing: true},
		},
		tokensPerRound: 600,
	}
	engine := newTestEngine(t, backend)
	turn := newTestTurn(10)
	turn.Budget.MaxTokens = 1000

	result, err := engine.Run(context.Background(), turn)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.LimitType != datatypes.LimitTokens {
		t.Errorf("LimitType = %q, want %q", result.LimitType, datatypes.LimitTokens)
	}
	// 600 after round one, 1200 after round two, checked entering round three.
	if result.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", result.Iterations)
	}
	if result.TotalTokens != 1200 {
		t.Errorf("TotalTokens = %d, want 1200", result.TotalTokens)
	}

	usage := turn.Session.Usage()
	if usage.TotalTokens != 1200 {
		t.Errorf("session usage = %d, want staged tokens flushed", usage.TotalTokens)
	}
	drainFrames(t, turn.Channel)
}

func TestRunCostBudgetLimit(t *testing.T) {
	backend := &scriptedBackend{
		script: []scriptStep{
			{thought: "spending", action: &ActionDecision{ActionType: "continue"}, keepGoing: true},
		},
		costPerRound: 0.30,
	}
	engine := newTestEngine(t, backend)
	turn := newTestTurn(10)
	turn.Budget.MaxCost = 0.50

	result, err := engine.Run(context.Background(), turn)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.LimitType != datatypes.LimitCost {
		t.Errorf("LimitType = %q, want %q", result.LimitType, datatypes.LimitCost)
	}
	if result.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", result.Iterations)
	}
	drainFrames(t, turn.Channel)
}

func TestRunTimeoutLimit(t *testing.T) {
	backend := &stallingBackend{
		scriptedBackend: scriptedBackend{script: []scriptStep{
			{thought: "slow going", action: &ActionDecision{ActionType: "continue"}, keepGoing: true},
		}},
		delay: 30 * time.Millisecond,
	}
	engine := newTestEngine(t, backend)
	turn := newTestTurn(10)
	turn.Budget.Timeout = 10 * time.Millisecond

	result, err := engine.Run(context.Background(), turn)
	if err != nil {
		t.Fatalf("timeout termination must not be an error: %v", err)
	}

	if result.Completed {
		t.Error("timed-out turn must not be Completed")
	}
	if !result.TerminatedByLimit {
		t.Error("expected TerminatedByLimit")
	}
	if result.LimitType != datatypes.LimitTimeout {
		t.Errorf("LimitType = %q, want %q", result.LimitType, datatypes.LimitTimeout)
	}
	// Round one starts well inside the budget and stalls past it; the check
	// entering round two terminates the turn.
	if result.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", result.Iterations)
	}
	if result.AlertMessage == "" {
		t.Error("expected a human-readable alert message")
	}

	frames := drainFrames(t, turn.Channel)
	last := frames[len(frames)-2]
	if last.Kind != datatypes.FrameFinal {
		t.Fatalf("penultimate frame = %q, want final", last.Kind)
	}
	if last.Metadata["limit_type"] != string(datatypes.LimitTimeout) {
		t.Errorf("final frame limit_type = %v", last.Metadata["limit_type"])
	}
}

func TestRunUsageReporterFailureCountsZero(t *testing.T) {
	backend := &scriptedBackend{
		script: []scriptStep{
			{thought: "working", action: &ActionDecision{ActionType: "respond", Response: "done"}},
		},
		usageErr: errors.New("usage endpoint unavailable"),
	}
	engine := newTestEngine(t, backend)
	turn := newTestTurn(5)
	turn.Budget.MaxTokens = 10

	result, err := engine.Run(context.Background(), turn)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Completed {
		t.Error("usage reporter failure must not fail the turn")
	}
	if result.TotalTokens != 0 || result.TotalCost != 0 {
		t.Errorf("usage should count zero, got %d tokens / %.2f cost", result.TotalTokens, result.TotalCost)
	}
	drainFrames(t, turn.Channel)
}

func TestRunCircuitBreakerOpenTerminates(t *testing.T) {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
		HalfOpenRequests: 1,
		SuccessThreshold: 1,
	})
	breaker.RecordFailure()

	gate := policy.NewGate(&verdictAuthority{verdict: policy.Verdict{Approved: true}}, policy.DefaultGateConfig())
	backend := &scriptedBackend{script: []scriptStep{
		{thought: "unreached", action: &ActionDecision{ActionType: "respond", Response: "x"}},
	}}
	engine := NewEngine(backend, breaker, gate)
	turn := newTestTurn(5)

	result, err := engine.Run(context.Background(), turn)
	if err != nil {
		t.Fatalf("breaker termination must be controlled: %v", err)
	}
	if result.LimitType != datatypes.LimitCircuitBreaker {
		t.Errorf("LimitType = %q, want %q", result.LimitType, datatypes.LimitCircuitBreaker)
	}
	if result.Iterations != 0 {
		t.Errorf("Iterations = %d, want 0 (no backend call while open)", result.Iterations)
	}
	drainFrames(t, turn.Channel)
}

func TestRunBackendThinkFailure(t *testing.T) {
	backend := &scriptedBackend{
		script:   []scriptStep{{}},
		thinkErr: errors.New("model unavailable"),
	}
	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	gate := policy.NewGate(&verdictAuthority{verdict: policy.Verdict{Approved: true}}, policy.DefaultGateConfig())
	engine := NewEngine(backend, breaker, gate)
	turn := newTestTurn(5)

	_, err := engine.Run(context.Background(), turn)
	if !errors.Is(err, ErrBackendFailure) {
		t.Fatalf("err = %v, want ErrBackendFailure", err)
	}

	if breaker.Stats().FailureCount != 1 {
		t.Error("backend failure must be recorded on the breaker")
	}

	frames := drainFrames(t, turn.Channel)
	errorFrame := frames[len(frames)-2]
	if errorFrame.Kind != datatypes.FrameError {
		t.Fatalf("penultimate frame = %q, want error", errorFrame.Kind)
	}
	if errorFrame.Metadata[datatypes.MetaKeyErrorCode] != datatypes.ErrCodeBackendFailure {
		t.Errorf("error code = %v, want %q", errorFrame.Metadata[datatypes.MetaKeyErrorCode], datatypes.ErrCodeBackendFailure)
	}
}

func TestRunUnknownActionIsHardError(t *testing.T) {
	backend := &scriptedBackend{script: []scriptStep{
		{thought: "hm", action: &ActionDecision{ActionType: "launch_rocket"}},
	}}
	engine := newTestEngine(t, backend)
	turn := newTestTurn(5)

	_, err := engine.Run(context.Background(), turn)
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("err = %v, want ErrUnknownAction", err)
	}

	frames := drainFrames(t, turn.Channel)
	if frames[len(frames)-2].Kind != datatypes.FrameError {
		t.Error("unknown action must produce an error frame before end")
	}
}

func TestRunToolCallEmitsCallAndResult(t *testing.T) {
	executor := &recordingExecutor{result: &ToolResult{Success: true, Output: "42"}}
	backend := &scriptedBackend{script: []scriptStep{
		{thought: "need math", action: &ActionDecision{ActionType: ActionToolCall, ToolName: "calculator", ToolArgs: map[string]any{"expr": "6*7"}}, keepGoing: true},
		{thought: "got it", action: &ActionDecision{ActionType: "respond", Response: "the answer is 42"}},
	}}
	engine := newTestEngine(t, backend, WithToolExecutor(executor))
	turn := newTestTurn(5)

	result, err := engine.Run(context.Background(), turn)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Completed || result.Iterations != 2 {
		t.Errorf("result = %+v, want completed in 2 iterations", result)
	}
	if len(executor.calls) != 1 || executor.calls[0] != "calculator" {
		t.Errorf("executor calls = %v", executor.calls)
	}

	kinds := frameKinds(drainFrames(t, turn.Channel))
	want := []datatypes.FrameKind{
		datatypes.FrameThinking, datatypes.FrameToolCall, datatypes.FrameToolResult,
		datatypes.FrameThinking, datatypes.FrameFinal, datatypes.FrameEnd,
	}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Errorf("frame kinds = %v, want %v", kinds, want)
	}
}

func TestRunToolFailureProducesOneResultFrame(t *testing.T) {
	executor := &recordingExecutor{err: errors.New("tool crashed")}
	backend := &scriptedBackend{script: []scriptStep{
		{thought: "trying tool", action: &ActionDecision{ActionType: ActionToolCall, ToolName: "flaky"}, keepGoing: true},
		{thought: "giving up", action: &ActionDecision{ActionType: "respond", Response: "could not compute"}},
	}}
	engine := newTestEngine(t, backend, WithToolExecutor(executor))
	turn := newTestTurn(5)

	if _, err := engine.Run(context.Background(), turn); err != nil {
		t.Fatalf("tool failure is in-band, not fatal: %v", err)
	}

	frames := drainFrames(t, turn.Channel)
	resultFrames := 0
	for _, f := range frames {
		if f.Kind == datatypes.FrameToolResult {
			resultFrames++
			if f.Metadata["success"] != false {
				t.Error("failed tool call must carry success=false")
			}
		}
	}
	if resultFrames != 1 {
		t.Errorf("tool_result frames = %d, want exactly 1", resultFrames)
	}
}

func TestRunRejectsMalformedToolName(t *testing.T) {
	executor := &recordingExecutor{result: &ToolResult{Success: true, Output: "never"}}
	backend := &scriptedBackend{script: []scriptStep{
		{thought: "using a tool", action: &ActionDecision{ActionType: ActionToolCall, ToolName: "../etc/passwd"}, keepGoing: true},
		{thought: "fine", action: &ActionDecision{ActionType: "respond", Response: "done"}},
	}}
	engine := newTestEngine(t, backend, WithToolExecutor(executor))
	turn := newTestTurn(5)

	if _, err := engine.Run(context.Background(), turn); err != nil {
		t.Fatalf("malformed tool name is in-band, not fatal: %v", err)
	}
	if len(executor.calls) != 0 {
		t.Errorf("executor ran for invalid tool name: %v", executor.calls)
	}

	for _, f := range drainFrames(t, turn.Channel) {
		if f.Kind == datatypes.FrameToolResult && f.Metadata["success"] != false {
			t.Error("invalid tool name must produce a failed tool_result")
		}
	}
}

func TestRunRespondOnlyBlocksTools(t *testing.T) {
	executor := &recordingExecutor{result: &ToolResult{Success: true, Output: "should not run"}}
	backend := &scriptedBackend{script: []scriptStep{
		{thought: "want a tool", action: &ActionDecision{ActionType: ActionToolCall, ToolName: "calculator"}},
	}}
	engine := newTestEngine(t, backend, WithToolExecutor(executor), WithRespondOnly(true))
	turn := newTestTurn(5)

	start := time.Now()
	_, err := engine.Run(context.Background(), turn)
	if !errors.Is(err, ErrRespondOnlyViolation) {
		t.Fatalf("err = %v, want ErrRespondOnlyViolation", err)
	}
	if len(executor.calls) != 0 {
		t.Error("tool must not execute in respond-only mode")
	}

	frames := drainFrames(t, turn.Channel)
	if time.Since(start) > time.Second {
		t.Error("rejection must reach the consumer promptly")
	}
	for _, f := range frames {
		if f.Kind == datatypes.FrameToolCall || f.Kind == datatypes.FrameToolResult {
			t.Errorf("respond-only stream must not contain %q frames", f.Kind)
		}
	}
	errorFrame := frames[len(frames)-2]
	if errorFrame.Metadata[datatypes.MetaKeyErrorCode] != datatypes.ErrCodeCoordinatorRejected {
		t.Errorf("error code = %v, want %q", errorFrame.Metadata[datatypes.MetaKeyErrorCode], datatypes.ErrCodeCoordinatorRejected)
	}
}

func TestRunRespondOnlyAllowsResponse(t *testing.T) {
	backend := &scriptedBackend{script: []scriptStep{
		{thought: "plain answer", action: &ActionDecision{ActionType: "respond", Response: "sure"}},
	}}
	engine := newTestEngine(t, backend, WithRespondOnly(true))
	turn := newTestTurn(5)

	result, err := engine.Run(context.Background(), turn)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Completed || result.FinalResponse != "sure" {
		t.Errorf("result = %+v", result)
	}
	drainFrames(t, turn.Channel)
}

func TestRunPrivilegedDecisionFlushedBeforePublish(t *testing.T) {
	publisher := events.NewMockPublisher()
	backend := &scriptedBackend{script: []scriptStep{
		{thought: "building", action: &ActionDecision{ActionType: "create_node", Payload: map[string]any{"node": "fetch"}}, keepGoing: true},
		{thought: "done", action: &ActionDecision{ActionType: "respond", Response: "node created"}},
	}}
	engine := newTestEngine(t, backend, WithPublisher(publisher))
	turn := newTestTurn(5)

	if _, err := engine.Run(context.Background(), turn); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	published := publisher.Published()
	if len(published) != 1 {
		t.Fatalf("published decisions = %d, want 1", len(published))
	}
	if published[0].Type != datatypes.DecisionCreateNode {
		t.Errorf("published type = %q", published[0].Type)
	}

	decisions := turn.Session.Decisions()
	if len(decisions) != 1 || decisions[0].ID != published[0].ID {
		t.Error("published decision must be durable in session state")
	}
	drainFrames(t, turn.Channel)
}

func TestRunPolicyRejectionTerminatesTurn(t *testing.T) {
	authority := &verdictAuthority{verdict: policy.Verdict{Approved: false, Reason: "workflow writes disabled"}}
	gate := policy.NewGate(authority, policy.DefaultGateConfig())
	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	backend := &scriptedBackend{script: []scriptStep{
		{thought: "mutating", action: &ActionDecision{ActionType: "execute_workflow"}},
	}}
	publisher := events.NewMockPublisher()
	engine := NewEngine(backend, breaker, gate, WithPublisher(publisher))
	turn := newTestTurn(5)

	_, err := engine.Run(context.Background(), turn)
	if !errors.Is(err, policy.ErrPolicyRejected) {
		t.Fatalf("err = %v, want ErrPolicyRejected", err)
	}
	if len(publisher.Published()) != 0 {
		t.Error("rejected decision must not be published")
	}

	frames := drainFrames(t, turn.Channel)
	errorFrame := frames[len(frames)-2]
	if errorFrame.Metadata[datatypes.MetaKeyErrorCode] != datatypes.ErrCodeCoordinatorRejected {
		t.Errorf("error code = %v", errorFrame.Metadata[datatypes.MetaKeyErrorCode])
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backend := &scriptedBackend{script: []scriptStep{
		{thought: "unreached", action: &ActionDecision{ActionType: "respond", Response: "x"}},
	}}
	engine := newTestEngine(t, backend)
	turn := newTestTurn(5)

	result, err := engine.Run(ctx, turn)
	if !errors.Is(err, ErrTurnCancelled) {
		t.Fatalf("err = %v, want ErrTurnCancelled", err)
	}
	if result.Iterations != 0 {
		t.Errorf("Iterations = %d, want 0", result.Iterations)
	}

	frames := drainFrames(t, turn.Channel)
	errorFrame := frames[len(frames)-2]
	if errorFrame.Metadata[datatypes.MetaKeyErrorCode] != datatypes.ErrCodeCancelled {
		t.Errorf("error code = %v, want %q", errorFrame.Metadata[datatypes.MetaKeyErrorCode], datatypes.ErrCodeCancelled)
	}
}

func TestRunInvalidTurn(t *testing.T) {
	engine := newTestEngine(t, &scriptedBackend{script: []scriptStep{{}}})

	cases := []struct {
		name string
		turn Turn
	}{
		{"nil session", Turn{Channel: stream.NewChannel(), Message: "x", Budget: datatypes.ResourceBudget{MaxIterations: 1}}},
		{"nil channel", Turn{Session: session.New(), Message: "x", Budget: datatypes.ResourceBudget{MaxIterations: 1}}},
		{"empty message", Turn{Session: session.New(), Channel: stream.NewChannel(), Budget: datatypes.ResourceBudget{MaxIterations: 1}}},
		{"zero iterations", Turn{Session: session.New(), Channel: stream.NewChannel(), Message: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.Run(context.Background(), tc.turn); !errors.Is(err, ErrInvalidTurn) {
				t.Errorf("err = %v, want ErrInvalidTurn", err)
			}
		})
	}
}

func TestRunHistoryRecordsConversation(t *testing.T) {
	backend := &scriptedBackend{script: []scriptStep{
		{thought: "answering", action: &ActionDecision{ActionType: "respond", Response: "pong"}},
	}}
	engine := newTestEngine(t, backend)
	turn := newTestTurn(5)
	turn.Message = "ping"

	if _, err := engine.Run(context.Background(), turn); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	history := turn.Session.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != "user" || history[0].Content != "ping" {
		t.Errorf("history[0] = %+v", history[0])
	}
	if history[1].Role != "assistant" || history[1].Content != "pong" {
		t.Errorf("history[1] = %+v", history[1])
	}
	drainFrames(t, turn.Channel)
}
