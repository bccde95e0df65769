// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/datatypes"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/react"
	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/stream"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Same-origin policy is enforced upstream; the service itself only
	// binds loopback or pod-internal addresses.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// HandleConversationWS runs one turn over a WebSocket connection.
//
// # Description
//
// The client sends a single JSON ConversationStreamRequest after connecting.
// The server streams each emission frame as a JSON StreamEvent message and
// closes the connection after the done event. Closing the connection early
// cancels the turn.
func (s *Server) HandleConversationWS(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		slog.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	var req datatypes.ConversationStreamRequest
	if err := conn.ReadJSON(&req); err != nil {
		writeWSError(conn, "malformed request: "+err.Error())
		return
	}
	if req.Message == "" {
		writeWSError(conn, "message is required")
		return
	}

	if err := s.limiter.Allow(); err != nil {
		writeWSError(conn, "too many concurrent turn requests")
		return
	}

	sess := s.sessions.GetOrCreate(req.SessionID)
	ch := stream.NewChannel()

	turnCtx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	if err := s.registry.Register(sess.ID, ch, cancel); err != nil {
		writeWSError(conn, err.Error())
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

	// Reader goroutine: its only job is to notice the peer going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				ch.Complete()
				return
			}
		}
	}()

	s.pumpFramesWS(c.Request.Context(), conn, ch, sess.ID)
}

// pumpFramesWS relays frames to the WebSocket peer until the end frame or a
// failure. Receive timeouts become ping control messages.
func (s *Server) pumpFramesWS(ctx context.Context, conn *websocket.Conn, ch *stream.Channel, sessionID string) {
	prevHash := ""
	for {
		frame, err := ch.Receive(ctx, s.cfg.Stream.ReceiveTimeout)
		switch {
		case errors.Is(err, stream.ErrReceiveTimeout):
			deadline := time.Now().Add(wsWriteTimeout)
			if perr := conn.WriteControl(websocket.PingMessage, nil, deadline); perr != nil {
				s.handleDisconnect(ch, sessionID)
				return
			}
			continue
		case errors.Is(err, stream.ErrChannelClosed):
			return
		case err != nil:
			s.handleDisconnect(ch, sessionID)
			return
		}

		event := datatypes.StreamEvent{
			Id:        uuid.New().String(),
			Type:      string(frame.Kind),
			CreatedAt: time.Now().UnixMilli(),
			PrevHash:  prevHash,
			Content:   frame.Content,
			Sequence:  frame.Sequence,
			Metadata:  frame.Metadata,
		}
		if frame.Kind == datatypes.FrameError {
			event.Error = frame.Content
		}
		event.Hash = computeEventHash(event)
		prevHash = event.Hash

		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if werr := conn.WriteJSON(event); werr != nil {
			s.handleDisconnect(ch, sessionID)
			return
		}

		if frame.Kind == datatypes.FrameEnd {
			done := datatypes.StreamEvent{
				Id:        uuid.New().String(),
				Type:      "done",
				CreatedAt: time.Now().UnixMilli(),
				PrevHash:  prevHash,
				SessionId: sessionID,
			}
			done.Hash = computeEventHash(done)
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if werr := conn.WriteJSON(done); werr == nil {
				deadline := time.Now().Add(wsWriteTimeout)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			}
			return
		}
	}
}

// writeWSError sends one error event and closes the connection.
func writeWSError(conn *websocket.Conn, msg string) {
	event := datatypes.StreamEvent{
		Id:        uuid.New().String(),
		Type:      string(datatypes.FrameError),
		CreatedAt: time.Now().UnixMilli(),
		Error:     msg,
	}
	event.Hash = computeEventHash(event)

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(event); err != nil {
		return
	}
	deadline := time.Now().Add(wsWriteTimeout)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg), deadline)
}
