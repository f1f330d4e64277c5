package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// EventsClient publishes behavioral events.
type EventsClient struct {
	session *Session
}

// Publish sends a single event.
func (e *EventsClient) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("api: encoding event: %w", err)
	}

	resp, err := e.session.do(ctx, http.MethodPost, "/events", body, false)
	if err != nil {
		return err
	}
	resp.Body.Close()

	e.session.logger.Debug("published event",
		slog.String("name", ev.Name),
		slog.String("customer_id", ev.CustomerID),
	)

	return nil
}

// batchResponse mirrors the wire JSON of POST /events/batch.
type batchResponse struct {
	Accepted int `json:"accepted"`
}

// PublishBatch sends multiple events in one request and returns how many
// the platform accepted.
func (e *EventsClient) PublishBatch(ctx context.Context, events []Event) (int, error) {
	body, err := json.Marshal(map[string]any{"events": events})
	if err != nil {
		return 0, fmt.Errorf("api: encoding event batch: %w", err)
	}

	resp, err := e.session.do(ctx, http.MethodPost, "/events/batch", body, false)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var br batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return 0, fmt.Errorf("api: decoding batch response: %w", err)
	}

	e.session.logger.Info("published event batch",
		slog.Int("sent", len(events)),
		slog.Int("accepted", br.Accepted),
	)

	return br.Accepted, nil
}
