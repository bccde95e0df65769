// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/datatypes"
)

func testDecision(t datatypes.DecisionType) *datatypes.Decision {
	return &datatypes.Decision{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now(),
	}
}

func TestPublishReachesMatchingSubscribers(t *testing.T) {
	p := NewPublisher()

	var nodeCalls, allCalls int
	p.Subscribe(func(d *datatypes.Decision) { nodeCalls++ }, datatypes.DecisionCreateNode)
	p.Subscribe(func(d *datatypes.Decision) { allCalls++ })

	if !p.Publish(testDecision(datatypes.DecisionCreateNode)) {
		t.Fatal("first publication must succeed")
	}
	if !p.Publish(testDecision(datatypes.DecisionExecuteWorkflow)) {
		t.Fatal("second publication must succeed")
	}

	if nodeCalls != 1 {
		t.Errorf("filtered subscriber calls = %d, want 1", nodeCalls)
	}
	if allCalls != 2 {
		t.Errorf("catch-all subscriber calls = %d, want 2", allCalls)
	}
}

func TestPublishAtMostOncePerDecisionID(t *testing.T) {
	p := NewPublisher()

	var calls int
	p.Subscribe(func(d *datatypes.Decision) { calls++ })

	d := testDecision(datatypes.DecisionCreateNode)
	if !p.Publish(d) {
		t.Fatal("first publication must succeed")
	}
	if p.Publish(d) {
		t.Fatal("duplicate publication must be rejected")
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	p := NewPublisher()

	var calls int
	id := p.Subscribe(func(d *datatypes.Decision) { calls++ })
	if p.SubscriptionCount() != 1 {
		t.Fatalf("SubscriptionCount = %d", p.SubscriptionCount())
	}

	if !p.Unsubscribe(id) {
		t.Fatal("Unsubscribe must report the subscription existed")
	}
	if p.Unsubscribe(id) {
		t.Fatal("second Unsubscribe must report absence")
	}

	p.Publish(testDecision(datatypes.DecisionCreateNode))
	if calls != 0 {
		t.Errorf("handler called %d times after unsubscribe", calls)
	}
}

func TestPublishRecoversFromHandlerPanic(t *testing.T) {
	p := NewPublisher()

	var survived int
	p.Subscribe(func(d *datatypes.Decision) { panic("bad handler") })
	p.Subscribe(func(d *datatypes.Decision) { survived++ })

	if !p.Publish(testDecision(datatypes.DecisionCreateNode)) {
		t.Fatal("publication must succeed despite a panicking handler")
	}
	if survived != 1 {
		t.Errorf("surviving handler calls = %d, want 1", survived)
	}
}

func TestPublishConcurrent(t *testing.T) {
	p := NewPublisher()

	var delivered atomic.Int64
	p.Subscribe(func(d *datatypes.Decision) { delivered.Add(1) })

	const publishers = 8
	const perPublisher = 50

	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				p.Publish(testDecision(datatypes.DecisionCreateNode))
			}
		}()
	}
	wg.Wait()

	if delivered.Load() != publishers*perPublisher {
		t.Errorf("delivered = %d, want %d", delivered.Load(), publishers*perPublisher)
	}
}

func TestMockPublisherRecords(t *testing.T) {
	m := NewMockPublisher()
	d := testDecision(datatypes.DecisionSpawnSubagent)

	if !m.Publish(d) {
		t.Fatal("mock publish must succeed")
	}
	published := m.Published()
	if len(published) != 1 || published[0].ID != d.ID {
		t.Errorf("published = %v", published)
	}
}
