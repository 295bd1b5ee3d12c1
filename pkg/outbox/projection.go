// SPDX-FileCopyrightText: Copyright 2025 Lano Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lanolabs/authgate/pkg/storage"
)

// Projection is the external system events are delivered to. Delivery is
// at-least-once; the consumer dedupes on event_id.
type Projection interface {
	Deliver(ctx context.Context, event *storage.Event) error
}

// Envelope is the wire form of a projected event.
type Envelope struct {
	EventID          string          `json:"event_id"`
	AggregateType    string          `json:"aggregate_type"`
	AggregateID      string          `json:"aggregate_id"`
	Version          int64           `json:"version"`
	EventType        string          `json:"event_type"`
	EventTypeVersion int             `json:"event_type_version"`
	Payload          json.RawMessage `json:"payload"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

// HTTPProjection posts event envelopes to the projection target.
type HTTPProjection struct {
	client *http.Client
	url    string
	token  string
}

var _ Projection = (*HTTPProjection)(nil)

// NewHTTPProjection creates the HTTP projection client. The bearer token
// may be empty for unauthenticated targets.
func NewHTTPProjection(url, token string) *HTTPProjection {
	return &HTTPProjection{
		client: &http.Client{},
		url:    url,
		token:  token,
	}
}

// Deliver implements Projection. Any non-2xx response is a failed attempt.
func (p *HTTPProjection) Deliver(ctx context.Context, event *storage.Event) error {
	body, err := json.Marshal(Envelope{
		EventID:          event.EventID,
		AggregateType:    event.AggregateType,
		AggregateID:      event.AggregateID,
		Version:          event.Version,
		EventType:        event.EventType,
		EventTypeVersion: event.EventTypeVersion,
		Payload:          json.RawMessage(event.Payload),
		OccurredAt:       event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling event envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building projection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to projection: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("projection responded %d", resp.StatusCode)
	}
	return nil
}
