package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newGateway starts a test websocket server driven by handle.
func newGateway(t *testing.T, handle func(ctx context.Context, conn *websocket.Conn)) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		handle(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestProvider_ReceivesMessages(t *testing.T) {
	srv := newGateway(t, func(ctx context.Context, conn *websocket.Conn) {
		err := wsjson.Write(ctx, conn, frame{
			Type: frameMessage,
			Message: &wireMessage{
				ID:    "push-1",
				Title: "Sale",
				Body:  "Everything must go",
				Data:  map[string]any{"deep_link": "app://sale"},
				Actions: []wireAction{
					{Label: "Open", URL: "app://sale"},
				},
			},
		})
		require.NoError(t, err)

		// Keep the connection open until the client is done.
		<-ctx.Done()
	})

	p := NewProvider(Options{GatewayURL: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx)
	}()

	select {
	case msg := <-p.Messages():
		assert.Equal(t, "push-1", msg.ID)
		assert.Equal(t, "Sale", msg.Title)
		assert.Equal(t, "Everything must go", msg.Body)
		assert.Equal(t, "app://sale", msg.Data["deep_link"])
		require.Len(t, msg.Actions, 1)
		assert.Equal(t, "Open", msg.Actions[0].Label)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for push message")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestProvider_RestartDeliversOnSameChannel(t *testing.T) {
	// One message per connection, then hold until the client hangs up.
	srv := newGateway(t, func(ctx context.Context, conn *websocket.Conn) {
		_ = wsjson.Write(ctx, conn, frame{
			Type:    frameMessage,
			Message: &wireMessage{ID: "push-1", Title: "Sale"},
		})
		<-ctx.Done()
	})

	p := NewProvider(Options{GatewayURL: srv.URL})
	msgs := p.Messages()

	ctx1, cancel1 := context.WithCancel(context.Background())
	done1 := make(chan error, 1)
	go func() { done1 <- p.Run(ctx1) }()

	select {
	case msg := <-msgs:
		assert.Equal(t, "push-1", msg.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first listen")
	}

	cancel1()
	require.NoError(t, <-done1)

	// The channel outlives the stopped run: open, and quiet.
	select {
	case _, ok := <-msgs:
		require.True(t, ok, "messages channel must stay open across restarts")
		t.Fatal("unexpected message after run stopped")
	default:
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	done2 := make(chan error, 1)
	go func() { done2 <- p.Run(ctx2) }()

	select {
	case msg, ok := <-msgs:
		require.True(t, ok, "messages channel must stay open across restarts")
		assert.Equal(t, "push-1", msg.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for second listen")
	}

	cancel2()
	require.NoError(t, <-done2)
}

func TestSession_ReportsConnected(t *testing.T) {
	// Dial failure: no connection was ever established.
	p := NewProvider(Options{GatewayURL: "ws://localhost:1"})

	connected, err := p.session(context.Background())
	require.Error(t, err)
	assert.False(t, connected)

	// Abnormal close after accept: the session still counted as
	// connected, so the reconnect backoff starts over.
	srv := newGateway(t, func(ctx context.Context, conn *websocket.Conn) {
		conn.Close(websocket.StatusInternalError, "going down")
	})

	p = NewProvider(Options{GatewayURL: srv.URL})

	connected, err = p.session(context.Background())
	require.Error(t, err)
	assert.True(t, connected)
}

func TestProvider_SendToken(t *testing.T) {
	frames := make(chan frame, 1)

	srv := newGateway(t, func(ctx context.Context, conn *websocket.Conn) {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return
		}

		frames <- f
		<-ctx.Done()
	})

	p := NewProvider(Options{GatewayURL: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = p.Run(ctx) }()

	// Wait for the connection to come up before writing.
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()

		return p.conn != nil
	}, 5*time.Second, 10*time.Millisecond)

	err := p.SendToken(ctx, DeviceToken{Value: "fcm-token-abc", Platform: "android"})
	require.NoError(t, err)

	select {
	case f := <-frames:
		assert.Equal(t, frameRegister, f.Type)
		require.NotNil(t, f.Token)
		assert.Equal(t, "fcm-token-abc", f.Token.Value)
		assert.Equal(t, "android", f.Token.Platform)
		assert.NotEmpty(t, f.Token.InstanceID, "instance id is filled when absent")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for register frame")
	}
}

func TestProvider_SendBeforeConnect(t *testing.T) {
	p := NewProvider(Options{GatewayURL: "ws://localhost:1"})

	err := p.SendToken(context.Background(), DeviceToken{Value: "tok"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)

	err = p.SendMessage(context.Background(), map[string]any{"k": "v"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestProvider_DialHeaders(t *testing.T) {
	headers := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Get("Authorization")

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	p := NewProvider(Options{
		GatewayURL: srv.URL,
		Headers: func() http.Header {
			h := http.Header{}
			h.Set("Authorization", "Bearer A1")

			return h
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = p.Run(ctx) }()

	select {
	case auth := <-headers:
		assert.Equal(t, "Bearer A1", auth)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dial")
	}
}

func TestReconnectBackoff_Caps(t *testing.T) {
	assert.Equal(t, reconnectBase, reconnectBackoff(0))
	assert.Equal(t, 2*reconnectBase, reconnectBackoff(1))
	assert.Equal(t, reconnectMax, reconnectBackoff(10))
	assert.Equal(t, reconnectMax, reconnectBackoff(64))
}
