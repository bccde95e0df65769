// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events broadcasts approved decisions to downstream consumers such
// as the workflow DAG executor.
//
// The publisher guarantees at-most-once publication per decision ID, and the
// engine guarantees that publication never precedes durable staging.
package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/datatypes"
)

// Handler processes one published decision.
type Handler func(decision *datatypes.Decision)

// DecisionPublisher is the publication contract the engine depends on.
type DecisionPublisher interface {
	// Publish broadcasts a decision to matching subscribers. Returns false
	// when the decision ID was already published (at-most-once guard).
	Publish(decision *datatypes.Decision) bool
}

// subscription pairs a handler with its type filter.
type subscription struct {
	id      string
	handler Handler
	types   []datatypes.DecisionType
}

// Publisher broadcasts decisions to subscribers keyed by decision type.
//
// Thread Safety: Safe for concurrent use.
type Publisher struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	published     map[string]struct{}
}

// NewPublisher creates an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{
		subscriptions: make(map[string]*subscription),
		published:     make(map[string]struct{}),
	}
}

// Subscribe registers a handler for the given decision types (none = all).
//
// Outputs:
//
//	string - Subscription ID for Unsubscribe.
func (p *Publisher) Subscribe(handler Handler, types ...datatypes.DecisionType) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub := &subscription{
		id:      uuid.NewString(),
		handler: handler,
		types:   types,
	}
	p.subscriptions[sub.id] = sub
	return sub.id
}

// Unsubscribe removes a subscription. Returns true if it existed.
func (p *Publisher) Unsubscribe(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.subscriptions[id]; ok {
		delete(p.subscriptions, id)
		return true
	}
	return false
}

// Publish implements DecisionPublisher.
//
// Description:
//
//	Broadcasts the decision to every subscriber whose type filter matches.
//	Each decision ID is published at most once; repeat calls are rejected.
//	Handler panics are recovered so one misbehaving consumer cannot take
//	down the publisher or starve its peers.
//
// Thread Safety: Safe for concurrent use.
func (p *Publisher) Publish(decision *datatypes.Decision) bool {
	p.mu.Lock()
	if _, dup := p.published[decision.ID]; dup {
		p.mu.Unlock()
		slog.Warn("Duplicate decision publication suppressed",
			slog.String("decision_id", decision.ID),
			slog.String("decision_type", string(decision.Type)),
		)
		return false
	}
	p.published[decision.ID] = struct{}{}

	subs := make([]*subscription, 0, len(p.subscriptions))
	for _, sub := range p.subscriptions {
		subs = append(subs, sub)
	}
	p.mu.Unlock()

	for _, sub := range subs {
		if sub.matches(decision.Type) {
			p.safeInvoke(sub.handler, decision)
		}
	}
	return true
}

// matches reports whether the subscription's type filter accepts t.
func (s *subscription) matches(t datatypes.DecisionType) bool {
	if len(s.types) == 0 {
		return true
	}
	for _, want := range s.types {
		if want == t {
			return true
		}
	}
	return false
}

// safeInvoke calls a handler with panic recovery.
func (p *Publisher) safeInvoke(handler Handler, decision *datatypes.Decision) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("decision handler panicked",
				slog.String("decision_id", decision.ID),
				slog.String("decision_type", string(decision.Type)),
				slog.Any("panic", r),
			)
		}
	}()
	handler(decision)
}

// SubscriptionCount returns the number of active subscriptions.
func (p *Publisher) SubscriptionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}

// MockPublisher records published decisions for tests.
type MockPublisher struct {
	mu        sync.Mutex
	Decisions []*datatypes.Decision
}

// NewMockPublisher creates an empty mock.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// Publish records the decision and always reports success.
func (m *MockPublisher) Publish(decision *datatypes.Decision) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Decisions = append(m.Decisions, decision)
	return true
}

// Published returns a copy of recorded decisions.
func (m *MockPublisher) Published() []*datatypes.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*datatypes.Decision, len(m.Decisions))
	copy(out, m.Decisions)
	return out
}

var _ DecisionPublisher = (*Publisher)(nil)
var _ DecisionPublisher = (*MockPublisher)(nil)
