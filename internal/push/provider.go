// Package push implements the client side of the Pulsora push gateway:
// a websocket channel that registers device tokens and receives push
// messages for display.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Reconnect backoff constants.
const (
	reconnectBase = 1 * time.Second
	reconnectMax  = 60 * time.Second
	pingInterval  = 30 * time.Second
)

// Options configures a Provider.
type Options struct {
	// GatewayURL is the push gateway endpoint, e.g. "wss://push.pulsora.io/v1".
	GatewayURL string

	// Headers supplies the dial headers. Called per (re)connect so a
	// refreshed bearer token is picked up on reconnection.
	Headers func() http.Header

	Logger *slog.Logger

	// dialFunc is overridden by tests.
	dialFunc func(ctx context.Context, url string, opts *websocket.DialOptions) (*websocket.Conn, *http.Response, error)
}

// Provider maintains the gateway connection and fans incoming push
// messages out to Messages().
type Provider struct {
	gatewayURL string
	headers    func() http.Header
	logger     *slog.Logger
	dialFunc   func(ctx context.Context, url string, opts *websocket.DialOptions) (*websocket.Conn, *http.Response, error)

	msgs chan Message

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewProvider creates a Provider. Run must be called to connect.
func NewProvider(opts Options) *Provider {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	headers := opts.Headers
	if headers == nil {
		headers = func() http.Header { return nil }
	}

	dial := opts.dialFunc
	if dial == nil {
		dial = websocket.Dial
	}

	return &Provider{
		gatewayURL: opts.GatewayURL,
		headers:    headers,
		logger:     logger,
		dialFunc:   dial,
		msgs:       make(chan Message, 16),
	}
}

// Messages returns the stream of decoded incoming push messages. The
// channel is owned by the Provider, not by any one Run: it is never
// closed, stays quiet while no Run is active, and resumes delivering
// when Run is called again.
func (p *Provider) Messages() <-chan Message {
	return p.msgs
}

// Run connects to the gateway and pumps messages until ctx is canceled.
// Connection drops trigger reconnection with exponential backoff. Run
// may be called again after it returns to resume on the same message
// channel.
func (p *Provider) Run(ctx context.Context) error {
	var attempt int

	for {
		connected, err := p.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		// A session that reached the gateway proves the endpoint is
		// healthy; only consecutive dial failures escalate the delay.
		if connected {
			attempt = 0
		}

		backoff := reconnectBackoff(attempt)
		attempt++

		p.logger.Warn("push gateway connection lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

// session dials the gateway and runs the read and ping pumps until one of
// them fails or ctx is canceled. connected reports whether the dial
// succeeded, regardless of how the session ended afterwards.
func (p *Provider) session(ctx context.Context) (connected bool, _ error) {
	conn, _, err := p.dialFunc(ctx, p.gatewayURL, &websocket.DialOptions{
		HTTPHeader: p.headers(),
	})
	if err != nil {
		return false, fmt.Errorf("push: dialing gateway: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.conn = nil
		p.mu.Unlock()

		conn.Close(websocket.StatusNormalClosure, "")
	}()

	p.logger.Info("connected to push gateway")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.readPump(gctx, conn)
	})

	g.Go(func() error {
		return p.pingPump(gctx, conn)
	})

	return true, g.Wait()
}

// readPump decodes incoming frames and forwards message frames.
func (p *Provider) readPump(ctx context.Context, conn *websocket.Conn) error {
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}

			return fmt.Errorf("push: reading frame: %w", err)
		}

		switch f.Type {
		case frameMessage:
			if f.Message == nil {
				p.logger.Warn("message frame without payload")

				continue
			}

			msg := f.Message.toMessage()

			p.logger.Debug("push message received", slog.String("id", msg.ID))

			select {
			case p.msgs <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		case frameAck:
			// Delivery acknowledgements carry nothing actionable.
		default:
			p.logger.Debug("ignoring unknown frame", slog.String("type", f.Type))
		}
	}
}

// pingPump keeps the connection alive.
func (p *Provider) pingPump(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return fmt.Errorf("push: ping failed: %w", err)
			}
		}
	}
}

// ErrNotConnected is returned by the send surfaces when Run has not yet
// established a gateway connection.
var ErrNotConnected = errors.New("push: not connected to gateway")

// SendToken uploads a device push token. A missing instance ID is filled
// with a fresh UUID so registrations from the same process correlate.
func (p *Provider) SendToken(ctx context.Context, token DeviceToken) error {
	if token.InstanceID == "" {
		token.InstanceID = uuid.NewString()
	}

	err := p.write(ctx, frame{Type: frameRegister, Token: &token})
	if err != nil {
		return err
	}

	p.logger.Info("registered device token",
		slog.String("platform", token.Platform),
		slog.String("instance_id", token.InstanceID),
	)

	return nil
}

// SendMessage sends an upstream message payload over the gateway channel.
func (p *Provider) SendMessage(ctx context.Context, payload map[string]any) error {
	return p.write(ctx, frame{Type: frameSend, Data: payload})
}

func (p *Provider) write(ctx context.Context, f frame) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	if err := wsjson.Write(ctx, conn, f); err != nil {
		return fmt.Errorf("push: writing %s frame: %w", f.Type, err)
	}

	return nil
}

// reconnectBackoff computes the capped exponential reconnect delay.
func reconnectBackoff(attempt int) time.Duration {
	backoff := reconnectBase << attempt
	if backoff > reconnectMax || backoff <= 0 {
		return reconnectMax
	}

	return backoff
}
