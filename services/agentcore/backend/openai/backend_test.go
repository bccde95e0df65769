// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/react"
)

// fakeCompletionServer serves a canned chat completion reply.
func fakeCompletionServer(t *testing.T, content string, promptTokens, completionTokens int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]any{
						"role":    "assistant",
						"content": content,
					},
				},
			},
			"usage": map[string]any{
				"prompt_tokens":     promptTokens,
				"completion_tokens": completionTokens,
				"total_tokens":      promptTokens + completionTokens,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
}

func newFakeBackend(t *testing.T, server *httptest.Server) *Backend {
	t.Helper()
	b, err := New(Config{
		APIKey:           "test-key",
		BaseURL:          server.URL + "/v1",
		Model:            "gpt-4o-mini",
		CostPerKiloToken: 0.01,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return b
}

func TestNewRequiresKeyAndModel(t *testing.T) {
	if _, err := New(Config{Model: "m"}); err == nil {
		t.Error("expected error for missing API key")
	}
	if _, err := New(Config{APIKey: "k"}); err == nil {
		t.Error("expected error for missing model")
	}
}

func TestThinkReturnsContent(t *testing.T) {
	server := fakeCompletionServer(t, "the user wants a greeting", 10, 5)
	defer server.Close()
	b := newFakeBackend(t, server)

	thought, err := b.Think(context.Background(), &react.ReasoningContext{Message: "hi"})
	if err != nil {
		t.Fatalf("Think failed: %v", err)
	}
	if thought != "the user wants a greeting" {
		t.Errorf("thought = %q", thought)
	}

	usage, err := b.TokenUsage()
	if err != nil {
		t.Fatalf("TokenUsage failed: %v", err)
	}
	if usage.Total() != 15 {
		t.Errorf("usage total = %d, want 15", usage.Total())
	}
	cost, err := b.Cost()
	if err != nil {
		t.Fatalf("Cost failed: %v", err)
	}
	if cost != 15.0/1000.0*0.01 {
		t.Errorf("cost = %f", cost)
	}
}

func TestTokenUsageAccumulatesAcrossCompletions(t *testing.T) {
	reply := `{"action_type": "respond", "response": "hi"}`
	server := fakeCompletionServer(t, reply, 60, 40)
	defer server.Close()
	b := newFakeBackend(t, server)

	ctx := context.Background()
	rc := &react.ReasoningContext{Message: "hi"}
	if _, err := b.Think(ctx, rc); err != nil {
		t.Fatalf("Think failed: %v", err)
	}
	if _, err := b.DecideAction(ctx, rc); err != nil {
		t.Fatalf("DecideAction failed: %v", err)
	}

	// Two completions at 100 tokens each: one read must bill both.
	usage, err := b.TokenUsage()
	if err != nil {
		t.Fatalf("TokenUsage failed: %v", err)
	}
	if usage.Total() != 200 {
		t.Errorf("usage total = %d, want 200 across two completions", usage.Total())
	}
	cost, err := b.Cost()
	if err != nil {
		t.Fatalf("Cost failed: %v", err)
	}
	if cost != 200.0/1000.0*0.01 {
		t.Errorf("cost = %f, want cost of 200 tokens", cost)
	}
}

func TestTokenUsageResetsOnRead(t *testing.T) {
	server := fakeCompletionServer(t, "ok", 30, 20)
	defer server.Close()
	b := newFakeBackend(t, server)

	if _, err := b.Think(context.Background(), &react.ReasoningContext{Message: "hi"}); err != nil {
		t.Fatalf("Think failed: %v", err)
	}

	first, err := b.TokenUsage()
	if err != nil {
		t.Fatalf("TokenUsage failed: %v", err)
	}
	if first.Total() != 50 {
		t.Errorf("first read = %d, want 50", first.Total())
	}

	second, err := b.TokenUsage()
	if err != nil {
		t.Fatalf("TokenUsage failed: %v", err)
	}
	if second.Total() != 0 {
		t.Errorf("second read = %d, want 0 after drain", second.Total())
	}

	// Cost drains its own counter, unaffected by the TokenUsage reads.
	cost, err := b.Cost()
	if err != nil {
		t.Fatalf("Cost failed: %v", err)
	}
	if cost != 50.0/1000.0*0.01 {
		t.Errorf("cost = %f, want cost of 50 tokens", cost)
	}
	cost, err = b.Cost()
	if err != nil {
		t.Fatalf("Cost failed: %v", err)
	}
	if cost != 0 {
		t.Errorf("second cost read = %f, want 0 after drain", cost)
	}
}

func TestDecideActionParsesJSON(t *testing.T) {
	reply := "Here is my choice:\n```json\n" +
		`{"action_type": "tool_call", "tool": "calculator", "args": {"expr": "6*7"}, "confidence": 0.9}` +
		"\n```"
	server := fakeCompletionServer(t, reply, 20, 10)
	defer server.Close()
	b := newFakeBackend(t, server)

	action, err := b.DecideAction(context.Background(), &react.ReasoningContext{Message: "compute"})
	if err != nil {
		t.Fatalf("DecideAction failed: %v", err)
	}
	if action.ActionType != "tool_call" || action.ToolName != "calculator" {
		t.Errorf("action = %+v", action)
	}
	if action.ToolArgs["expr"] != "6*7" {
		t.Errorf("args = %v", action.ToolArgs)
	}
}

func TestDecideActionRejectsMissingType(t *testing.T) {
	server := fakeCompletionServer(t, `{"response": "hi"}`, 5, 2)
	defer server.Close()
	b := newFakeBackend(t, server)

	if _, err := b.DecideAction(context.Background(), &react.ReasoningContext{Message: "x"}); err == nil {
		t.Fatal("expected error for missing action_type")
	}
}

func TestShouldContinueParsing(t *testing.T) {
	cases := []struct {
		reply string
		want  bool
	}{
		{"CONTINUE", true},
		{"continue, there is more to do", true},
		{"DONE", false},
		{"the task is done", false},
	}
	for _, tc := range cases {
		server := fakeCompletionServer(t, tc.reply, 1, 1)
		b := newFakeBackend(t, server)
		got, err := b.ShouldContinue(context.Background(), &react.ReasoningContext{Message: "x"})
		server.Close()
		if err != nil {
			t.Fatalf("ShouldContinue(%q) failed: %v", tc.reply, err)
		}
		if got != tc.want {
			t.Errorf("ShouldContinue(%q) = %v, want %v", tc.reply, got, tc.want)
		}
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"prose before {\"a\": 1} prose after", `{"a": 1}`},
		{"no json at all", "no json at all"},
	}
	for _, tc := range cases {
		if got := extractJSON(tc.in); got != tc.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
