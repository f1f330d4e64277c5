package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetToken_IdempotenceGuard(t *testing.T) {
	s := NewSession(Options{BaseURL: "http://localhost", AccessToken: "A1"})
	before := s.handleRebuilds()

	s.SetToken("A1")
	assert.Equal(t, before, s.handleRebuilds(), "same value must not rebuild the handle")

	s.SetToken("A2")
	assert.Equal(t, before+1, s.handleRebuilds(), "new value must rebuild the handle")
	assert.Equal(t, "Bearer A2", s.currentHandle().header.Get("Authorization"))
}

func TestSetOrganisationID_IdempotenceGuard(t *testing.T) {
	s := NewSession(Options{BaseURL: "http://localhost", OrganisationID: "org-1"})
	before := s.handleRebuilds()

	s.SetOrganisationID("org-1")
	assert.Equal(t, before, s.handleRebuilds())

	s.SetOrganisationID("org-2")
	assert.Equal(t, before+1, s.handleRebuilds())
	assert.Equal(t, "org-2", s.currentHandle().header.Get(HeaderOrganisation))
}

func TestSetTokenAndOrganisationID_SingleRebuild(t *testing.T) {
	s := NewSession(Options{BaseURL: "http://localhost", AccessToken: "A1", OrganisationID: "org-1"})
	before := s.handleRebuilds()

	s.SetTokenAndOrganisationID("A2", "org-2")
	assert.Equal(t, before+1, s.handleRebuilds(), "both values changed, at most one rebuild")

	h := s.currentHandle()
	assert.Equal(t, "Bearer A2", h.header.Get("Authorization"))
	assert.Equal(t, "org-2", h.header.Get(HeaderOrganisation))

	s.SetTokenAndOrganisationID("A2", "org-2")
	assert.Equal(t, before+1, s.handleRebuilds(), "no change, no rebuild")
}

func TestSetBaseURL_RebuildsHandle(t *testing.T) {
	s := NewSession(Options{BaseURL: "http://one"})
	before := s.handleRebuilds()

	s.SetBaseURL("http://two")
	assert.Equal(t, before+1, s.handleRebuilds())
	assert.Equal(t, "http://two", s.currentHandle().baseURL)
}

func TestHandle_ConditionalHeaders(t *testing.T) {
	t.Run("bare session", func(t *testing.T) {
		s := NewSession(Options{BaseURL: "http://localhost"})
		h := s.currentHandle()

		assert.Equal(t, ClientValue(), h.header.Get(HeaderClient))
		assert.Empty(t, h.header.Get(HeaderOrganisation))
		assert.Empty(t, h.header.Get("Authorization"))
	})

	t.Run("full session", func(t *testing.T) {
		s := NewSession(Options{BaseURL: "http://localhost", AccessToken: "A1", OrganisationID: "org-1"})
		h := s.currentHandle()

		assert.Equal(t, ClientValue(), h.header.Get(HeaderClient))
		assert.Equal(t, "org-1", h.header.Get(HeaderOrganisation))
		assert.Equal(t, "Bearer A1", h.header.Get("Authorization"))
	})
}

func TestSubClients_CachedByName(t *testing.T) {
	s := NewSession(Options{BaseURL: "http://localhost"})

	assert.Same(t, s.Auth(), s.Auth())
	assert.Same(t, s.Events(), s.Events())
	assert.Same(t, s.Customers(), s.Customers())
	assert.Same(t, s.Messages(), s.Messages())
}

func TestAuthMode_Inference(t *testing.T) {
	t.Run("access token wins over api key", func(t *testing.T) {
		s := NewSession(Options{BaseURL: "http://localhost", AccessToken: "A1", APIKey: "key"})
		assert.Equal(t, ModeToken, s.Mode())
	})

	t.Run("api key alone", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeTokenPair(t, w, "A1", "R1")
		}))
		defer srv.Close()

		s := NewSession(Options{BaseURL: srv.URL, APIKey: "key"})
		assert.Equal(t, ModeAPIKey, s.Mode())
	})
}

func TestSetAPIKey_ExchangesForTokenPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/client-app/login", r.URL.Path)
		writeTokenPair(t, w, "A1", "R1")
	}))
	defer srv.Close()

	s := NewSession(Options{BaseURL: srv.URL})
	s.SetAPIKey("secret-key")

	assert.Equal(t, ModeAPIKey, s.Mode())

	// The exchange is asynchronous; the tokens appear eventually.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()

		return s.accessToken == "A1" && s.refreshToken == "R1"
	}, time.Second, time.Millisecond)
}

// syncBuffer is a goroutine-safe bytes.Buffer for capturing log output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func TestSetAPIKey_LoginFailureSurfacedToLogOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	buf := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	s := NewSession(Options{BaseURL: srv.URL, Logger: logger})
	s.sleepFunc = noopSleep

	// Must not block or panic; the failure goes to the logger.
	s.SetAPIKey("bad-key")

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(buf.String()), []byte("api key login failed"))
	}, time.Second, time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.accessToken, "no token adopted after failed exchange")
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "client-app",
		"exp": exp.Unix(),
	})

	signed, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	got, ok := tokenExpiry(signed)
	require.True(t, ok)
	assert.Equal(t, exp.Unix(), got.Unix())

	_, ok = tokenExpiry("not-a-jwt")
	assert.False(t, ok)
}

func TestSubClient_UnknownNamePanics(t *testing.T) {
	s := NewSession(Options{BaseURL: "http://localhost"})

	assert.Panics(t, func() {
		s.subClient("bogus")
	})
}
