package api

import "time"

// TokenPair is an access token plus the refresh token issued alongside it.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Event is a behavioral event attributed to a customer.
type Event struct {
	ID         string         `json:"id,omitempty"`
	Name       string         `json:"name"`
	CustomerID string         `json:"customerId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Customer is the profile the platform targets messages at.
type Customer struct {
	ID         string         `json:"id"`
	Email      string         `json:"email,omitempty"`
	FirstName  string         `json:"firstName,omitempty"`
	LastName   string         `json:"lastName,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
}

// Channel is a message delivery channel.
type Channel string

// Supported delivery channels.
const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "inapp"
)

// Message is a multi-channel message addressed to one customer.
type Message struct {
	CustomerID string         `json:"customerId"`
	Channels   []Channel      `json:"channels"`
	Title      string         `json:"title,omitempty"`
	Body       string         `json:"body"`
	Data       map[string]any `json:"data,omitempty"`
}

// MessageReceipt acknowledges an accepted message.
type MessageReceipt struct {
	ID    string
	State string
}

// MessageStatus is the per-channel delivery state of a sent message.
type MessageStatus struct {
	ID       string
	State    string
	Channels map[Channel]string
}
