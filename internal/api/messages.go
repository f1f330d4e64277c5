package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// MessagesClient sends multi-channel messages and queries delivery state.
type MessagesClient struct {
	session *Session
}

// receiptResponse mirrors the wire JSON of POST /messages.
type receiptResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// statusResponse mirrors the wire JSON of GET /messages/{id}.
type statusResponse struct {
	ID       string            `json:"id"`
	State    string            `json:"state"`
	Channels map[string]string `json:"channels"`
}

func (r *statusResponse) toStatus() MessageStatus {
	st := MessageStatus{
		ID:       r.ID,
		State:    r.State,
		Channels: make(map[Channel]string, len(r.Channels)),
	}

	for ch, state := range r.Channels {
		st.Channels[Channel(ch)] = state
	}

	return st
}

// Send submits a message for delivery on every requested channel.
func (m *MessagesClient) Send(ctx context.Context, msg Message) (*MessageReceipt, error) {
	if len(msg.Channels) == 0 {
		return nil, fmt.Errorf("api: message requires at least one channel")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("api: encoding message: %w", err)
	}

	resp, err := m.session.do(ctx, http.MethodPost, "/messages", body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rr receiptResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("api: decoding message receipt: %w", err)
	}

	m.session.logger.Info("message accepted",
		slog.String("id", rr.ID),
		slog.String("customer_id", msg.CustomerID),
		slog.Int("channels", len(msg.Channels)),
	)

	return &MessageReceipt{ID: rr.ID, State: rr.State}, nil
}

// Status fetches the per-channel delivery state of a sent message.
func (m *MessagesClient) Status(ctx context.Context, messageID string) (*MessageStatus, error) {
	resp, err := m.session.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(messageID), nil, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("api: decoding message status: %w", err)
	}

	status := sr.toStatus()

	return &status, nil
}
