// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/datatypes"
)

func testDecision() *datatypes.Decision {
	return &datatypes.Decision{
		ID:        uuid.NewString(),
		Type:      datatypes.DecisionCreateNode,
		Timestamp: time.Now(),
	}
}

func TestMergeAccumulates(t *testing.T) {
	s := New()

	s.Merge([]*datatypes.Decision{testDecision(), testDecision()}, 100, 0.05)
	s.Merge(nil, 50, 0.01)

	if got := len(s.Decisions()); got != 2 {
		t.Errorf("decisions = %d, want 2", got)
	}
	usage := s.Usage()
	if usage.TotalTokens != 150 {
		t.Errorf("TotalTokens = %d, want 150", usage.TotalTokens)
	}
	if usage.TotalCost != 0.06 {
		t.Errorf("TotalCost = %f, want 0.06", usage.TotalCost)
	}
}

func TestMergeConcurrent(t *testing.T) {
	s := New()

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				s.Merge([]*datatypes.Decision{testDecision()}, 10, 0.001)
			}
		}()
	}
	wg.Wait()

	if got := len(s.Decisions()); got != writers*perWriter {
		t.Errorf("decisions = %d, want %d", got, writers*perWriter)
	}
	if got := s.Usage().TotalTokens; got != writers*perWriter*10 {
		t.Errorf("TotalTokens = %d, want %d", got, writers*perWriter*10)
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	s := New()
	s.AppendMessage("user", "hello")

	history := s.History()
	history[0].Content = "mutated"

	if s.History()[0].Content != "hello" {
		t.Error("History must return a copy, not the backing slice")
	}
}

func TestLastActivityAdvances(t *testing.T) {
	s := New()
	first := s.LastActivity()

	time.Sleep(5 * time.Millisecond)
	s.AppendMessage("user", "ping")

	if !s.LastActivity().After(first) {
		t.Error("LastActivity must advance on writes")
	}
}

func TestStoreGetOrCreate(t *testing.T) {
	store := NewStore()

	// Empty ID mints a fresh session.
	a := store.GetOrCreate("")
	if a.ID == "" {
		t.Fatal("minted session must have an ID")
	}

	// Same ID returns the same instance.
	b := store.GetOrCreate(a.ID)
	if a != b {
		t.Error("GetOrCreate must return the existing session")
	}

	// Unknown ID creates a session with that ID.
	c := store.GetOrCreate("custom-id")
	if c.ID != "custom-id" {
		t.Errorf("ID = %q", c.ID)
	}

	got, ok := store.Get("custom-id")
	if !ok || got != c {
		t.Error("Get must find the created session")
	}
}

func TestStoreDeleteAndList(t *testing.T) {
	store := NewStore()
	store.GetOrCreate("b-session")
	store.GetOrCreate("a-session")

	ids := store.List()
	if len(ids) != 2 || ids[0] != "a-session" || ids[1] != "b-session" {
		t.Errorf("List = %v, want sorted ids", ids)
	}

	store.Delete("a-session")
	if _, ok := store.Get("a-session"); ok {
		t.Error("deleted session still present")
	}
}
