// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session holds the shared per-session state the engine's turns merge
// into: decision history, conversation history, and cumulative usage counters.
//
// A session is shared across the turns of one conversation. Turns never write
// to it field by field; they buffer updates privately (react.StagedState) and
// merge them in through Merge, a single lock acquisition per checkpoint.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/datatypes"
)

// Message is one entry of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is a snapshot of cumulative resource consumption.
type Usage struct {
	TotalTokens int
	TotalCost   float64
}

// State is the mutex-protected shared state of one session.
//
// Thread Safety: Safe for concurrent use by multiple turns.
type State struct {
	// ID is the session identifier (UUID v4).
	ID string

	// CreatedAt records session creation time.
	CreatedAt time.Time

	mu           sync.Mutex
	decisions    []*datatypes.Decision
	history      []Message
	totalTokens  int
	totalCost    float64
	lastActivity time.Time
}

// New creates a session with a fresh UUID.
func New() *State {
	now := time.Now()
	return &State{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		lastActivity: now,
	}
}

// NewWithID creates a session with a caller-supplied ID.
func NewWithID(id string) *State {
	s := New()
	s.ID = id
	return s
}

// Merge folds a turn's staged updates into the shared state under one lock
// acquisition.
//
// Inputs:
//
//	decisions - Staged decision records (appended by reference).
//	tokens - Token usage accumulated since the last flush.
//	cost - Cost accumulated since the last flush.
func (s *State) Merge(decisions []*datatypes.Decision, tokens int, cost float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.decisions = append(s.decisions, decisions...)
	s.totalTokens += tokens
	s.totalCost += cost
	s.lastActivity = time.Now()
}

// AppendMessage records one conversation history entry.
func (s *State) AppendMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, Message{Role: role, Content: content})
	s.lastActivity = time.Now()
}

// History returns a copy of the conversation history.
func (s *State) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Decisions returns a copy of the decision history slice. The Decision
// records themselves are immutable and shared by reference.
func (s *State) Decisions() []*datatypes.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*datatypes.Decision, len(s.decisions))
	copy(out, s.decisions)
	return out
}

// Usage returns cumulative token and cost counters.
func (s *State) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Usage{TotalTokens: s.totalTokens, TotalCost: s.totalCost}
}

// LastActivity returns the time of the most recent mutation.
func (s *State) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Store is an in-memory session store.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*State
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*State)}
}

// Get retrieves a session by ID.
func (st *Store) Get(id string) (*State, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// GetOrCreate returns the session with the given ID, creating it on first
// use. An empty ID mints a new session.
func (st *Store) GetOrCreate(id string) *State {
	st.mu.Lock()
	defer st.mu.Unlock()

	if id != "" {
		if s, ok := st.sessions[id]; ok {
			return s
		}
	}

	var s *State
	if id == "" {
		s = New()
	} else {
		s = NewWithID(id)
	}
	st.sessions[s.ID] = s
	return s
}

// Delete removes a session.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// List returns all session IDs sorted alphabetically for deterministic
// ordering.
func (st *Store) List() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
