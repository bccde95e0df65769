// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream implements the ordered emission channel between the reasoning
// engine and a transport adapter.
//
// # Description
//
// A Channel carries EmissionFrames from a single producer (the engine) to one
// or more consumers (SSE writer, websocket writer, policy hooks). Sequence
// numbers are assigned in the same critical section as the enqueue, so frames
// are delivered in exactly the order they were emitted even if emits race.
//
// Completion is close-once: the engine's success/failure path and the
// transport's disconnect cleanup may both try to complete the channel, but
// exactly one end frame is ever enqueued.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/datatypes"
)

// ErrChannelClosed is returned by Emit after the channel has completed, and by
// Receive once the end frame has been consumed. Callers performing best-effort
// cleanup treat it as a no-op.
var ErrChannelClosed = errors.New("emission channel closed")

// ErrReceiveTimeout is returned by Receive when no frame arrived within the
// per-read timeout. It is a distinguishable signal, not a frame.
var ErrReceiveTimeout = errors.New("emission channel receive timed out")

// Stats is a snapshot of cumulative channel statistics.
type Stats struct {
	// TotalFrames is the number of frames emitted so far.
	TotalFrames uint64

	// FramesByKind counts emitted frames per kind.
	FramesByKind map[datatypes.FrameKind]uint64

	// DeltaText is the accumulated content of all delta frames.
	DeltaText string

	// Completed reports whether the end frame has been enqueued.
	Completed bool
}

// Channel is an ordered, sequence-numbered, closable frame channel.
//
// The internal queue is unbounded: the producer is bounded by the turn's
// resource budget, so queue depth is bounded by construction, and an
// unbounded queue keeps the completion paths free of producer/consumer
// deadlocks (a disconnect-side Complete can never be wedged behind a
// producer blocked on a full buffer).
type Channel struct {
	mu        sync.Mutex
	queue     []datatypes.EmissionFrame
	notify    chan struct{}
	nextSeq   uint64
	completed bool
	drained   bool

	byKind      map[datatypes.FrameKind]uint64
	totalFrames uint64
	deltaText   strings.Builder
}

// NewChannel creates an empty, open emission channel.
func NewChannel() *Channel {
	return &Channel{
		notify: make(chan struct{}),
		byKind: make(map[datatypes.FrameKind]uint64),
	}
}

// Emit enqueues a frame and assigns it the next sequence number.
//
// Description:
//
//	Sequence assignment, statistics update, and enqueue happen under one
//	critical section. Emitting after completion fails with ErrChannelClosed
//	and does not alter channel statistics.
//
// Inputs:
//
//	frame - The frame to enqueue. Sequence and Timestamp are overwritten.
//
// Outputs:
//
//	error - ErrChannelClosed if the channel has completed.
//
// Thread Safety: Safe for concurrent use.
func (c *Channel) Emit(frame datatypes.EmissionFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.completed {
		return ErrChannelClosed
	}

	c.enqueueLocked(frame)
	return nil
}

// enqueueLocked assigns the sequence number, records statistics, appends the
// frame, and wakes waiting consumers. Caller must hold c.mu.
func (c *Channel) enqueueLocked(frame datatypes.EmissionFrame) {
	c.nextSeq++
	frame.Sequence = c.nextSeq
	frame.Timestamp = time.Now()

	c.totalFrames++
	c.byKind[frame.Kind]++
	if frame.Kind == datatypes.FrameDelta {
		c.deltaText.WriteString(frame.Content)
	}

	c.queue = append(c.queue, frame)

	// Wake everyone waiting on the current generation and start a new one.
	close(c.notify)
	c.notify = make(chan struct{})
}

// Complete enqueues the terminal end frame and closes the channel.
//
// Description:
//
//	Idempotent. The completion flag and the end frame share one critical
//	section, so two racing callers (engine finishing and transport-side
//	disconnect cleanup) produce exactly one end frame.
//
// Thread Safety: Safe for concurrent use.
func (c *Channel) Complete() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.completed {
		return
	}
	c.completed = true
	c.enqueueLocked(datatypes.EmissionFrame{Kind: datatypes.FrameEnd})
}

// CompleteWithError enqueues an error frame immediately followed by the end
// frame, in the same critical section.
//
// Description:
//
//	The two frames are enqueued atomically so a consumer is released promptly
//	rather than blocking until its own read timeout waiting for a terminal
//	frame that will never come. Idempotent: a no-op if already completed.
//
// Inputs:
//
//	message - Error text for the consumer.
//	code - Machine-readable error code attached as frame metadata.
//
// Thread Safety: Safe for concurrent use.
func (c *Channel) CompleteWithError(message, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.completed {
		return
	}
	c.completed = true
	c.enqueueLocked(datatypes.EmissionFrame{
		Kind:     datatypes.FrameError,
		Content:  message,
		Metadata: map[string]any{datatypes.MetaKeyErrorCode: code},
	})
	c.enqueueLocked(datatypes.EmissionFrame{Kind: datatypes.FrameEnd})
}

// Receive returns the next frame in emission order.
//
// Description:
//
//	Blocks until a frame is available, the per-read timeout elapses, or the
//	context is cancelled. After the end frame has been delivered, subsequent
//	calls return ErrChannelClosed.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	timeout - Per-read timeout (0 = wait indefinitely).
//
// Outputs:
//
//	datatypes.EmissionFrame - The next frame.
//	error - ErrReceiveTimeout, ErrChannelClosed, or the context error.
//
// Thread Safety: Safe for concurrent use; racing consumers each receive
// distinct frames.
func (c *Channel) Receive(ctx context.Context, timeout time.Duration) (datatypes.EmissionFrame, error) {
	var timer *time.Timer
	var expired <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			frame := c.queue[0]
			c.queue = c.queue[1:]
			if frame.Kind == datatypes.FrameEnd {
				c.drained = true
			}
			c.mu.Unlock()
			return frame, nil
		}
		if c.drained {
			c.mu.Unlock()
			return datatypes.EmissionFrame{}, ErrChannelClosed
		}
		ready := c.notify
		c.mu.Unlock()

		select {
		case <-ready:
		case <-expired:
			return datatypes.EmissionFrame{}, ErrReceiveTimeout
		case <-ctx.Done():
			return datatypes.EmissionFrame{}, ctx.Err()
		}
	}
}

// Completed reports whether the channel has been completed.
func (c *Channel) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// Stats returns a snapshot of cumulative channel statistics.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[datatypes.FrameKind]uint64, len(c.byKind))
	for k, v := range c.byKind {
		byKind[k] = v
	}
	return Stats{
		TotalFrames:  c.totalFrames,
		FramesByKind: byKind,
		DeltaText:    c.deltaText.String(),
		Completed:    c.completed,
	}
}
