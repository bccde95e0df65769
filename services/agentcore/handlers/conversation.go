// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the agent core over HTTP: an SSE streaming
// endpoint for turns, status and cancellation endpoints, and a WebSocket
// transport for clients that prefer bidirectional framing.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DSGWJQ/Feagent-sub002/pkg/validation"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/config"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/datatypes"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/observability"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/react"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/resilience"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/session"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/stream"
)

// Server wires the engine, session store, and stream registry behind the
// HTTP surface.
type Server struct {
	cfg      config.Config
	engine   *react.Engine
	sessions *session.Store
	registry *StreamRegistry
	limiter  *resilience.AdmissionLimiter
	metrics  *observability.Metrics
}

// NewServer builds the HTTP server facade.
func NewServer(cfg config.Config, engine *react.Engine, sessions *session.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		engine:   engine,
		sessions: sessions,
		registry: NewStreamRegistry(),
		limiter:  resilience.NewAdmissionLimiter(cfg.RateLimit.TurnsPerSecond, cfg.RateLimit.Burst),
		metrics:  metrics,
	}
}

// RegisterRoutes mounts the conversation endpoints on the router.
func (s *Server) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api/v1")
	api.POST("/conversation/stream", s.HandleConversationStream)
	api.GET("/conversation/stream/:session_id/status", s.HandleStreamStatus)
	api.DELETE("/conversation/stream/:session_id", s.HandleCancelStream)
	api.GET("/conversation/ws", s.HandleConversationWS)
}

// HandleConversationStream runs one turn and streams its frames as SSE.
//
// # Description
//
// Validates the request, admits it through the rate limiter, binds the turn
// to its session, and pumps emission frames to the client. A client
// disconnect completes the channel and cancels the turn; the engine observes
// the cancellation at its next iteration boundary.
func (s *Server) HandleConversationStream(c *gin.Context) {
	var req datatypes.ConversationStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
		return
	}

	if req.SessionID != "" {
		if err := validation.ValidateSessionID(req.SessionID); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
			return
		}
	}

	if err := s.limiter.Allow(); err != nil {
		c.JSON(http.StatusTooManyRequests, datatypes.ErrorResponse{Error: "too many concurrent turn requests"})
		return
	}

	sess := s.sessions.GetOrCreate(req.SessionID)
	ch := stream.NewChannel()

	turnCtx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	if err := s.registry.Register(sess.ID, ch, cancel); err != nil {
		c.JSON(http.StatusConflict, datatypes.ErrorResponse{Error: err.Error()})
		return
	}
	defer s.registry.Remove(sess.ID)

	if s.metrics != nil {
		s.metrics.ActiveStreams.Inc()
		defer s.metrics.ActiveStreams.Dec()
	}

	turn := react.Turn{
		Session:    sess,
		Channel:    ch,
		Message:    req.Message,
		WorkflowID: req.WorkflowID,
		Budget: datatypes.ResourceBudget{
			MaxIterations: s.cfg.Budget.MaxIterations,
			Timeout:       s.cfg.Budget.Timeout,
			MaxTokens:     s.cfg.Budget.MaxTokens,
			MaxCost:       s.cfg.Budget.MaxCost,
		},
		Context: req.Context,
	}

	go func() {
		if _, err := s.engine.Run(turnCtx, turn); err != nil {
			slog.Warn("Turn ended with error",
				slog.String("session_id", sess.ID),
				slog.String("error", err.Error()))
		}
	}()

	c.Header("X-Session-Id", sess.ID)
	SetSSEHeaders(c.Writer)

	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "streaming not supported"})
		return
	}

	s.pumpFrames(c.Request.Context(), writer, ch, sess.ID)
}

// pumpFrames relays frames from the channel to the SSE writer until the end
// frame, a disconnect, or a write failure. Receive timeouts become
// keep-alive comments rather than stream errors.
func (s *Server) pumpFrames(ctx context.Context, writer SSEWriter, ch *stream.Channel, sessionID string) {
	for {
		frame, err := ch.Receive(ctx, s.cfg.Stream.ReceiveTimeout)
		switch {
		case errors.Is(err, stream.ErrReceiveTimeout):
			if kerr := writer.WriteKeepAlive(); kerr != nil {
				s.handleDisconnect(ch, sessionID)
				return
			}
			continue
		case errors.Is(err, stream.ErrChannelClosed):
			return
		case err != nil:
			// Context cancelled: the client went away.
			s.handleDisconnect(ch, sessionID)
			return
		}

		if werr := writer.WriteFrame(frame); werr != nil {
			s.handleDisconnect(ch, sessionID)
			return
		}
		if frame.Kind == datatypes.FrameEnd {
			if derr := writer.WriteDone(sessionID); derr != nil {
				slog.Debug("Client disconnected before done event",
					slog.String("session_id", sessionID))
			}
			return
		}
	}
}

// handleDisconnect completes the channel from the transport side so the
// producer never blocks on a consumer that is gone.
func (s *Server) handleDisconnect(ch *stream.Channel, sessionID string) {
	ch.Complete()
	slog.Info("Client disconnected mid-stream",
		slog.String("session_id", sessionID))
}

// HandleStreamStatus reports whether the session has an active turn and the
// channel statistics accumulated so far.
func (s *Server) HandleStreamStatus(c *gin.Context) {
	sessionID := c.Param("session_id")

	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "session not found"})
		return
	}

	resp := datatypes.StreamStatusResponse{SessionID: sess.ID}
	if ch, active := s.registry.Lookup(sessionID); active {
		stats := ch.Stats()
		resp.IsActive = !stats.Completed
		resp.IsCompleted = stats.Completed
		byKind := make(map[string]any, len(stats.FramesByKind))
		for kind, count := range stats.FramesByKind {
			byKind[string(kind)] = count
		}
		resp.Statistics = map[string]any{
			"total_frames":   stats.TotalFrames,
			"frames_by_kind": byKind,
		}
	} else {
		resp.IsCompleted = true
	}

	c.JSON(http.StatusOK, resp)
}

// HandleCancelStream aborts the session's active turn.
func (s *Server) HandleCancelStream(c *gin.Context) {
	sessionID := c.Param("session_id")

	if !s.registry.Cancel(sessionID) {
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "no active stream for session"})
		return
	}

	slog.Info("Stream cancelled by client request",
		slog.String("session_id", sessionID))
	c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID, "status": "cancelling"})
}
