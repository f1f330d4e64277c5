package pulsora

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/pulsora/pulsora-go/internal/api"
	"github.com/pulsora/pulsora-go/internal/outbox"
	"github.com/pulsora/pulsora-go/internal/push"
)

// Domain types are defined in the session layer; these aliases make
// them part of the public surface.
type (
	Event          = api.Event
	Customer       = api.Customer
	Message        = api.Message
	Channel        = api.Channel
	MessageReceipt = api.MessageReceipt
	MessageStatus  = api.MessageStatus
	TokenPair      = api.TokenPair
	PushMessage    = push.Message
	DeviceToken    = push.DeviceToken
)

// Delivery channels accepted in Message.Channels.
const (
	ChannelPush  = api.ChannelPush
	ChannelEmail = api.ChannelEmail
	ChannelSMS   = api.ChannelSMS
	ChannelInApp = api.ChannelInApp
)

// Sentinel errors returned by Client methods. Check with errors.Is.
var (
	ErrBadRequest   = api.ErrBadRequest
	ErrUnauthorized = api.ErrUnauthorized
	ErrForbidden    = api.ErrForbidden
	ErrNotFound     = api.ErrNotFound
	ErrConflict     = api.ErrConflict
	ErrThrottled    = api.ErrThrottled
	ErrServerError  = api.ErrServerError

	// ErrPushDisabled is returned by push operations when the client
	// was built without a push gateway URL.
	ErrPushDisabled = errors.New("pulsora: push gateway not configured")
)

// Options configures a Client. BaseURL is required; everything else
// is optional. Provide either an AccessToken (with RefreshToken for
// automatic renewal) or an APIKey, not both.
type Options struct {
	// BaseURL is the API root, e.g. "https://api.pulsora.io/v1".
	BaseURL string

	// OrganisationID scopes every request to one organisation.
	OrganisationID string

	AccessToken  string
	RefreshToken string
	APIKey       string

	// PushGatewayURL enables RegisterPushToken and Listen when set,
	// e.g. "wss://push.pulsora.io/v1".
	PushGatewayURL string

	// OutboxPath enables the offline event buffer when set. It names
	// a sqlite file; the directory must exist.
	OutboxPath string

	// HTTPClient overrides the default transport. Mainly for tests.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// retrySleep overrides the wait between transport retries. Tests set it
// to skip real backoff delays; nil means a real timer.
var retrySleep func(ctx context.Context, d time.Duration) error

// Client is the SDK entry point. It is safe for concurrent use.
type Client struct {
	session  *api.Session
	outbox   *outbox.Outbox
	provider *push.Provider
	logger   *slog.Logger

	mu        sync.Mutex
	listening bool
}

// New builds a Client from opts. The returned client holds an open
// outbox database when Options.OutboxPath is set; call Close when
// done with it.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("pulsora: base URL is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		session: api.NewSession(api.Options{
			BaseURL:        opts.BaseURL,
			OrganisationID: opts.OrganisationID,
			AccessToken:    opts.AccessToken,
			RefreshToken:   opts.RefreshToken,
			APIKey:         opts.APIKey,
			HTTPClient:     opts.HTTPClient,
			Logger:         logger,
			SleepFunc:      retrySleep,
		}),
		logger: logger,
	}

	if opts.OutboxPath != "" {
		ob, err := outbox.Open(opts.OutboxPath, logger)
		if err != nil {
			return nil, fmt.Errorf("pulsora: opening outbox: %w", err)
		}
		c.outbox = ob
	}

	if opts.PushGatewayURL != "" {
		c.provider = push.NewProvider(push.Options{
			GatewayURL: opts.PushGatewayURL,
			Headers:    c.session.Headers,
			Logger:     logger,
		})
	}

	return c, nil
}

// Close releases resources held by the client. It does not wait for
// a background API key exchange or an active Listen to finish.
func (c *Client) Close() error {
	if c.outbox != nil {
		return c.outbox.Close()
	}
	return nil
}

// TrackEvent publishes a behavioral event. A missing ID is filled
// with a fresh UUID and a zero OccurredAt with the current time, so
// the event stays idempotent and correctly ordered if it is buffered
// and flushed later.
//
// When the client has an outbox and publishing fails for a transient
// reason (network error, throttling, server error) the event is
// queued locally and TrackEvent returns nil. Rejections such as
// validation errors are returned to the caller and never buffered.
func (c *Client) TrackEvent(ctx context.Context, ev Event) error {
	if ev.Name == "" {
		return fmt.Errorf("pulsora: event name is required")
	}
	ev.Name = norm.NFC.String(ev.Name)
	ev.CustomerID = norm.NFC.String(ev.CustomerID)
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	err := c.session.Events().Publish(ctx, ev)
	if err == nil {
		return nil
	}
	if c.outbox == nil || !bufferable(err) {
		return err
	}
	if qerr := c.outbox.Enqueue(ctx, ev); qerr != nil {
		return fmt.Errorf("pulsora: publish failed (%v) and outbox enqueue failed: %w", err, qerr)
	}
	c.logger.Warn("event buffered to outbox",
		slog.String("event", ev.Name),
		slog.String("id", ev.ID),
		slog.String("reason", err.Error()))
	return nil
}

// bufferable reports whether a publish failure is worth retrying
// later from the outbox. Client-side rejections are not; the event
// would fail again identically.
func bufferable(err error) bool {
	switch {
	case errors.Is(err, api.ErrServerError), errors.Is(err, api.ErrThrottled):
		return true
	case errors.Is(err, api.ErrRefreshUnavailable), errors.Is(err, api.ErrRefreshFailed):
		return false
	}
	var apiErr *api.APIError
	return !errors.As(err, &apiErr)
}

// FlushOutbox publishes buffered events in the order they were
// queued and reports how many were delivered. It stops at the first
// failure, leaving the remainder queued. A client without an outbox
// flushes zero events.
func (c *Client) FlushOutbox(ctx context.Context) (int, error) {
	if c.outbox == nil {
		return 0, nil
	}
	return c.outbox.Flush(ctx, c.session.Events().Publish)
}

// PendingEvents reports how many events are waiting in the outbox.
func (c *Client) PendingEvents(ctx context.Context) (int, error) {
	if c.outbox == nil {
		return 0, nil
	}
	return c.outbox.Pending(ctx)
}

// Identify creates or updates a customer profile and returns the
// stored version.
func (c *Client) Identify(ctx context.Context, customer Customer) (*Customer, error) {
	customer.ID = norm.NFC.String(customer.ID)
	customer.Email = norm.NFC.String(customer.Email)
	customer.FirstName = norm.NFC.String(customer.FirstName)
	customer.LastName = norm.NFC.String(customer.LastName)
	return c.session.Customers().Upsert(ctx, customer)
}

// GetCustomer fetches a customer profile by ID.
func (c *Client) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	return c.session.Customers().Get(ctx, id)
}

// DeleteCustomer removes a customer profile and its event history.
func (c *Client) DeleteCustomer(ctx context.Context, id string) error {
	return c.session.Customers().Delete(ctx, id)
}

// TagCustomer adds tags to a customer profile.
func (c *Client) TagCustomer(ctx context.Context, id string, tags ...string) error {
	return c.session.Customers().AddTags(ctx, id, tags)
}

// UntagCustomer removes tags from a customer profile.
func (c *Client) UntagCustomer(ctx context.Context, id string, tags ...string) error {
	return c.session.Customers().RemoveTags(ctx, id, tags)
}

// SendMessage submits a message for delivery and returns its receipt.
func (c *Client) SendMessage(ctx context.Context, msg Message) (*MessageReceipt, error) {
	msg.CustomerID = norm.NFC.String(msg.CustomerID)
	msg.Title = norm.NFC.String(msg.Title)
	msg.Body = norm.NFC.String(msg.Body)
	return c.session.Messages().Send(ctx, msg)
}

// GetMessageStatus reports the per-channel delivery state of a
// previously sent message.
func (c *Client) GetMessageStatus(ctx context.Context, id string) (*MessageStatus, error) {
	return c.session.Messages().Status(ctx, id)
}

// RegisterPushToken registers this device's push token with the
// gateway. Listen must have established a connection first.
func (c *Client) RegisterPushToken(ctx context.Context, token DeviceToken) error {
	if c.provider == nil {
		return ErrPushDisabled
	}
	return c.provider.SendToken(ctx, token)
}

// Listen connects to the push gateway and returns the channel
// incoming messages are delivered on. The connection is maintained
// in the background, reconnecting with backoff, until ctx is
// cancelled. Every call returns the same channel; it is never closed.
// While a listener is active, further calls only return the channel.
// After the active listener's context is cancelled, the next Listen
// starts a fresh connection loop delivering on that same channel.
func (c *Client) Listen(ctx context.Context) (<-chan PushMessage, error) {
	if c.provider == nil {
		return nil, ErrPushDisabled
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.listening {
		c.listening = true
		go func() {
			if err := c.provider.Run(ctx); err != nil {
				c.logger.Error("push listener stopped", slog.String("error", err.Error()))
			}
			c.mu.Lock()
			c.listening = false
			c.mu.Unlock()
		}()
	}
	return c.provider.Messages(), nil
}

// SetTokens replaces the session's token pair, for example after an
// out-of-band login. An empty refresh token leaves the existing one
// in place.
func (c *Client) SetTokens(accessToken, refreshToken string) {
	c.session.SetToken(accessToken)
	if refreshToken != "" {
		c.session.SetRefreshToken(refreshToken)
	}
}

// SetOrganisationID switches the organisation all subsequent
// requests are scoped to.
func (c *Client) SetOrganisationID(id string) {
	c.session.SetOrganisationID(id)
}

// AuthInfo describes the client's current credential state. Token
// expiry comes from the access token's exp claim, read without
// signature verification; a token without one reports a zero Expiry.
type AuthInfo struct {
	Mode            string    `json:"mode"`
	OrganisationID  string    `json:"organisation_id,omitempty"`
	HasRefreshToken bool      `json:"has_refresh_token"`
	Expiry          time.Time `json:"expiry,omitzero"`
}

// AuthInfo reports how the client is currently authenticated.
func (c *Client) AuthInfo() AuthInfo {
	info := AuthInfo{
		Mode:            c.session.Mode().String(),
		OrganisationID:  c.session.OrganisationID(),
		HasRefreshToken: c.session.HasRefreshToken(),
	}
	if exp, ok := c.session.TokenExpiry(); ok {
		info.Expiry = exp
	}
	return info
}

// Login exchanges an API key for a token pair and adopts it. Unlike
// the background exchange New performs for Options.APIKey, Login is
// synchronous and reports failure to the caller.
func (c *Client) Login(ctx context.Context, apiKey string) (TokenPair, error) {
	return c.session.LoginWithAPIKey(ctx, apiKey)
}
