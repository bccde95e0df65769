// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/datatypes"
)

var (
	chatSessionID  string
	chatWorkflowID string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Stream one conversation turn",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(strings.Join(args, " "))
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show the status of a session's stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(args[0])
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [session-id]",
	Short: "Cancel a session's active stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCancel(args[0])
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "Continue an existing session")
	chatCmd.Flags().StringVar(&chatWorkflowID, "workflow", "", "Scope the turn to a workflow")
}

// runChat posts one turn and renders the SSE stream as it arrives.
func runChat(message string) error {
	body, err := json.Marshal(datatypes.ConversationStreamRequest{
		Message:    message,
		SessionID:  chatSessionID,
		WorkflowID: chatWorkflowID,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Post(serverURL+"/api/v1/conversation/stream",
		"application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("connect to service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("service returned %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	if sid := resp.Header.Get("X-Session-Id"); sid != "" {
		fmt.Printf("session: %s\n", sid)
	}

	return renderSSE(resp.Body)
}

// renderSSE prints each event's content line by line until the [DONE]
// sentinel.
func renderSSE(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			return nil
		}

		var event datatypes.StreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}

		switch event.Type {
		case "thinking":
			fmt.Printf("  [thinking] %s\n", event.Content)
		case "final":
			fmt.Printf("\n%s\n", event.Content)
		case "error":
			fmt.Printf("error: %s\n", event.Error)
		case "end", "done":
			// Terminal markers carry no content.
		default:
			fmt.Printf("  [%s] %s\n", event.Type, event.Content)
		}
	}
	return scanner.Err()
}

func runStatus(sessionID string) error {
	resp, err := http.Get(serverURL + "/api/v1/conversation/stream/" + sessionID + "/status")
	if err != nil {
		return fmt.Errorf("connect to service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service returned %s", resp.Status)
	}

	var status datatypes.StreamStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	fmt.Printf("session:   %s\nactive:    %v\ncompleted: %v\n",
		status.SessionID, status.IsActive, status.IsCompleted)
	if len(status.Statistics) > 0 {
		pretty, _ := json.MarshalIndent(status.Statistics, "", "  ")
		fmt.Printf("stats:     %s\n", pretty)
	}
	return nil
}

func runCancel(sessionID string) error {
	req, err := http.NewRequest(http.MethodDelete,
		serverURL+"/api/v1/conversation/stream/"+sessionID, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect to service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		fmt.Printf("cancelling session %s\n", sessionID)
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("no active stream for session %s", sessionID)
	default:
		return fmt.Errorf("service returned %s", resp.Status)
	}
}
