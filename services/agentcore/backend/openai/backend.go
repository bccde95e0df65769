// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package openai adapts the OpenAI chat completion API to the reasoning
// backend interface used by the engine.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/react"
)

const (
	thinkSystemPrompt = "You are the reasoning module of an agent. Given the " +
		"conversation so far and any tool observations, produce one short " +
		"paragraph of reasoning about what to do next. Do not answer the user."

	decideSystemPrompt = "You are the action selector of an agent. Reply with " +
		"a single JSON object and nothing else: {\"action_type\": string, " +
		"\"response\": string, \"tool\": string, \"args\": object, " +
		"\"payload\": object, \"confidence\": number}. Use action_type " +
		"\"respond\" with a filled response when the task is complete, " +
		"\"tool_call\" with tool and args to gather information, or one of " +
		"the workflow decision types to mutate the workflow."

	continueSystemPrompt = "You are the completion judge of an agent. Reply " +
		"with exactly CONTINUE if more work remains, or DONE if the task is " +
		"finished."
)

// Backend calls the OpenAI chat API for each phase of a reasoning round.
//
// # Thread Safety
//
// Safe for concurrent use. Every completion adds its usage to pending
// counters; TokenUsage and Cost drain their counter on read, so a round's
// read covers all of the round's completions (Think, DecideAction,
// ShouldContinue), not just the last one.
type Backend struct {
	client *goopenai.Client
	model  string

	temperature      float32
	costPerKiloToken float64

	mu                sync.Mutex
	pendingUsage      react.TokenUsage
	pendingCostTokens int
}

var (
	_ react.Backend            = (*Backend)(nil)
	_ react.TokenUsageReporter = (*Backend)(nil)
	_ react.CostReporter       = (*Backend)(nil)
)

// Config holds the adapter settings.
type Config struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// BaseURL overrides the API endpoint, for local gateways. Optional.
	BaseURL string

	// Model is the chat model name. Required.
	Model string

	// Temperature applies to every completion.
	Temperature float64

	// CostPerKiloToken converts token usage to cost. Zero disables cost
	// reporting.
	CostPerKiloToken float64
}

// New builds a Backend from its config.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai backend: API key not set")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai backend: model not set")
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("Initializing OpenAI backend",
		slog.String("model", cfg.Model),
		slog.Bool("custom_base_url", cfg.BaseURL != ""))

	return &Backend{
		client:           goopenai.NewClientWithConfig(clientCfg),
		model:            cfg.Model,
		temperature:      float32(cfg.Temperature),
		costPerKiloToken: cfg.CostPerKiloToken,
	}, nil
}

// Think produces one round of free-form reasoning.
func (b *Backend) Think(ctx context.Context, rc *react.ReasoningContext) (string, error) {
	content, err := b.complete(ctx, thinkSystemPrompt, rc, "")
	if err != nil {
		return "", fmt.Errorf("think: %w", err)
	}
	return content, nil
}

// DecideAction selects the next action as a structured decision.
func (b *Backend) DecideAction(ctx context.Context, rc *react.ReasoningContext) (*react.ActionDecision, error) {
	content, err := b.complete(ctx, decideSystemPrompt, rc,
		"Select the next action as a single JSON object.")
	if err != nil {
		return nil, fmt.Errorf("decide: %w", err)
	}

	var raw struct {
		ActionType string         `json:"action_type"`
		Response   string         `json:"response"`
		Tool       string         `json:"tool"`
		Args       map[string]any `json:"args"`
		Payload    map[string]any `json:"payload"`
		Confidence float64        `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &raw); err != nil {
		return nil, fmt.Errorf("decide: malformed action JSON: %w", err)
	}
	if raw.ActionType == "" {
		return nil, fmt.Errorf("decide: action JSON missing action_type")
	}

	return &react.ActionDecision{
		ActionType: raw.ActionType,
		Response:   raw.Response,
		ToolName:   raw.Tool,
		ToolArgs:   raw.Args,
		Payload:    raw.Payload,
		Confidence: raw.Confidence,
	}, nil
}

// ShouldContinue asks the model whether the turn needs another round.
func (b *Backend) ShouldContinue(ctx context.Context, rc *react.ReasoningContext) (bool, error) {
	content, err := b.complete(ctx, continueSystemPrompt, rc,
		"Reply with exactly CONTINUE or DONE.")
	if err != nil {
		return false, fmt.Errorf("should_continue: %w", err)
	}
	return strings.Contains(strings.ToUpper(content), "CONTINUE"), nil
}

// TokenUsage returns the usage accumulated since the previous read and
// resets the counter.
func (b *Backend) TokenUsage() (react.TokenUsage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	usage := b.pendingUsage
	b.pendingUsage = react.TokenUsage{}
	return usage, nil
}

// Cost converts the tokens accumulated since the previous Cost read and
// resets its counter. Cost and TokenUsage drain independently so the engine
// can read both once per round in either order.
func (b *Backend) Cost() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cost := float64(b.pendingCostTokens) / 1000.0 * b.costPerKiloToken
	b.pendingCostTokens = 0
	return cost, nil
}

// complete issues one chat completion built from the reasoning context.
func (b *Backend) complete(ctx context.Context, system string, rc *react.ReasoningContext, suffix string) (string, error) {
	messages := []goopenai.ChatCompletionMessage{
		{Role: goopenai.ChatMessageRoleSystem, Content: system},
	}
	for _, m := range rc.History {
		role := goopenai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = goopenai.ChatMessageRoleAssistant
		}
		messages = append(messages, goopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	for _, obs := range rc.PendingFeedback {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleUser,
			Content: "Observation: " + obs,
		})
	}
	if suffix != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleUser,
			Content: suffix,
		})
	}

	resp, err := b.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		Temperature: b.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	b.mu.Lock()
	b.pendingUsage.PromptTokens += resp.Usage.PromptTokens
	b.pendingUsage.CompletionTokens += resp.Usage.CompletionTokens
	b.pendingCostTokens += resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	b.mu.Unlock()

	return resp.Choices[0].Message.Content, nil
}

// extractJSON strips surrounding prose or code fences from a model reply,
// returning the outermost JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
