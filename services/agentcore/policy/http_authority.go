// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/DSGWJQ/Feagent-sub002/services/agentcore/datatypes"
)

// HTTPAuthority consults a remote policy authority over HTTP.
//
// The authority endpoint receives the envelope as JSON via POST and answers
// with {"approved": bool, "reason": string}. Any transport or decode failure
// is reported as a degradation error; the gate decides what degradation
// means (fail-closed vs fail-open).
type HTTPAuthority struct {
	endpoint string
	client   *http.Client
}

// NewHTTPAuthority creates an authority client for the given endpoint.
//
// Inputs:
//
//	endpoint - Full URL of the review endpoint.
//	timeout - Per-review request timeout (0 = 5s default).
func NewHTTPAuthority(endpoint string, timeout time.Duration) *HTTPAuthority {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPAuthority{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type authorityResponse struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// Review implements Authority.
func (a *HTTPAuthority) Review(ctx context.Context, envelope datatypes.PolicyDecisionEnvelope) (Verdict, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return Verdict{}, fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("build review request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-Id", envelope.CorrelationID)

	resp, err := a.client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("authority request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("authority returned status %d", resp.StatusCode)
	}

	var parsed authorityResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Verdict{}, fmt.Errorf("decode authority response: %w", err)
	}

	return Verdict{Approved: parsed.Approved, Reason: parsed.Reason}, nil
}

var _ Authority = (*HTTPAuthority)(nil)
