package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Header names stamped on every request by the transport handle.
const (
	// HeaderClient identifies requests issued by this SDK. The refresh
	// interceptor never touches a response whose request lacks it.
	HeaderClient = "X-Pulsora-Client"

	// HeaderOrganisation carries the tenant identifier. Only sent when an
	// organisation id is configured.
	HeaderOrganisation = "X-Pulsora-Org"

	// headerRetried marks a request that has already been replayed once
	// after a token refresh. Prevents refresh loops.
	headerRetried = "X-Pulsora-Retried"
)

// Version is the SDK version reported in the client-identification header.
var Version = "0.1"

// ClientValue is the fixed value of the client-identification header.
func ClientValue() string {
	return "pulsora-go/" + Version
}

// AuthMode selects which refresh endpoint the session uses when an access
// token expires.
type AuthMode int

const (
	// ModeAPIKey means the session was bootstrapped from an API key
	// (client-app credentials). Refreshes go to the client-app endpoint.
	ModeAPIKey AuthMode = iota

	// ModeToken means the session was given an access token directly.
	ModeToken
)

func (m AuthMode) String() string {
	if m == ModeAPIKey {
		return "api_key"
	}

	return "token"
}

// Options configures a Session. Auth mode is inferred from which of
// {AccessToken, APIKey} is supplied; AccessToken takes precedence when both
// are present. OrganisationID is always applied when supplied, independent
// of whether an access token was also given.
type Options struct {
	BaseURL        string
	OrganisationID string
	AccessToken    string
	RefreshToken   string
	APIKey         string

	// HTTPClient is the underlying client; its transport is wrapped by the
	// refresh interceptor. Defaults to http.DefaultClient's transport.
	HTTPClient *http.Client
	Logger     *slog.Logger

	// SleepFunc replaces the wait between retry attempts. Nil uses a real
	// timer. Tests override it to avoid backoff delays.
	SleepFunc func(ctx context.Context, d time.Duration) error
}

// refreshResult settles a queued waiter: the refreshed access token on
// success, the refresh error otherwise.
type refreshResult struct {
	token string
	err   error
}

// Session holds mutable auth/tenant state, rebuilds the immutable transport
// handle whenever that state changes, and provides typed sub-clients bound
// to the current handle. One Session is created per process by the
// composition root and shared by reference.
type Session struct {
	httpClient *http.Client
	logger     *slog.Logger

	// sleepFunc waits between retries. Tests override it to avoid delays.
	sleepFunc func(ctx context.Context, d time.Duration) error

	mu             sync.Mutex
	baseURL        string
	accessToken    string
	refreshToken   string
	organisationID string
	mode           AuthMode
	handle         *handle
	rebuilds       int
	subClients     map[string]any

	// Single-flight refresh state. refreshing is set strictly before the
	// remote refresh call starts and cleared when it settles; waiters that
	// arrive in between park on the queue instead of racing a second call.
	refreshing bool
	waiters    []chan refreshResult
}

// NewSession creates a Session from opts. If an API key is supplied without
// an access token, the key exchange starts asynchronously; see SetAPIKey.
func NewSession(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := http.DefaultTransport
	timeout := time.Duration(0)

	if opts.HTTPClient != nil {
		timeout = opts.HTTPClient.Timeout
		if opts.HTTPClient.Transport != nil {
			base = opts.HTTPClient.Transport
		}
	}

	s := &Session{
		logger:         logger,
		sleepFunc:      timeSleep,
		baseURL:        opts.BaseURL,
		accessToken:    opts.AccessToken,
		refreshToken:   opts.RefreshToken,
		organisationID: opts.OrganisationID,
		subClients:     make(map[string]any),
	}

	if opts.SleepFunc != nil {
		s.sleepFunc = opts.SleepFunc
	}

	s.httpClient = &http.Client{
		Transport: &refreshTransport{session: s, base: base},
		Timeout:   timeout,
	}

	s.rebuildHandleLocked()

	switch {
	case opts.AccessToken != "":
		s.mode = ModeToken
		s.logTokenAdopted(opts.AccessToken)
	case opts.APIKey != "":
		s.SetAPIKey(opts.APIKey)
	default:
		s.mode = ModeToken
	}

	return s
}

// SetBaseURL updates the transport base address and rebuilds the handle.
func (s *Session) SetBaseURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.baseURL = url
	s.rebuildHandleLocked()
}

// SetToken sets the bearer token. The handle is rebuilt only if the value
// actually changed.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setTokenLocked(token)
}

func (s *Session) setTokenLocked(token string) {
	if token == s.accessToken {
		return
	}

	s.accessToken = token
	s.rebuildHandleLocked()
	s.logTokenAdopted(token)
}

// SetRefreshToken sets the refresh token. The refresh token is never sent
// as a header, so no handle rebuild is needed.
func (s *Session) SetRefreshToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshToken = token
}

// SetOrganisationID sets the tenant header value. The handle is rebuilt
// only if the value actually changed.
func (s *Session) SetOrganisationID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == s.organisationID {
		return
	}

	s.organisationID = id
	s.rebuildHandleLocked()
}

// SetTokenAndOrganisationID applies both values atomically, rebuilding the
// handle at most once even when both change.
func (s *Session) SetTokenAndOrganisationID(token, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false

	if token != s.accessToken {
		s.accessToken = token
		changed = true
	}

	if id != s.organisationID {
		s.organisationID = id
		changed = true
	}

	if changed {
		s.rebuildHandleLocked()
	}
}

// SetAPIKey switches the session to API-key mode and starts the key→token
// exchange in the background. The call returns immediately; a failed
// exchange is surfaced to the logger only, so callers must not assume the
// exchange has completed when this returns.
func (s *Session) SetAPIKey(key string) {
	s.mu.Lock()
	s.mode = ModeAPIKey
	s.mu.Unlock()

	go func() {
		pair, err := s.Auth().LoginClientApp(context.Background(), key)
		if err != nil {
			s.logger.Error("api key login failed", slog.String("error", err.Error()))

			return
		}

		s.SetToken(pair.AccessToken)
		s.SetRefreshToken(pair.RefreshToken)

		s.logger.Info("api key exchanged for token pair")
	}()
}

// LoginWithAPIKey is the synchronous counterpart of SetAPIKey: it
// switches to API-key mode, performs the key→token exchange, and adopts
// the resulting pair before returning.
func (s *Session) LoginWithAPIKey(ctx context.Context, key string) (TokenPair, error) {
	s.mu.Lock()
	s.mode = ModeAPIKey
	s.mu.Unlock()

	pair, err := s.Auth().LoginClientApp(ctx, key)
	if err != nil {
		return TokenPair{}, err
	}

	s.SetToken(pair.AccessToken)
	s.SetRefreshToken(pair.RefreshToken)

	return pair, nil
}

// Mode returns the current auth mode.
func (s *Session) Mode() AuthMode {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mode
}

// OrganisationID returns the organisation all requests are scoped to,
// or empty when unscoped.
func (s *Session) OrganisationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.organisationID
}

// HasRefreshToken reports whether the session can refresh an expired
// access token.
func (s *Session) HasRefreshToken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.refreshToken != ""
}

// TokenExpiry returns the current access token's exp claim. ok is false
// when there is no token or it carries no parseable expiry.
func (s *Session) TokenExpiry() (time.Time, bool) {
	s.mu.Lock()
	token := s.accessToken
	s.mu.Unlock()

	if token == "" {
		return time.Time{}, false
	}

	return tokenExpiry(token)
}

// Sub-client cache keys.
const (
	subAuth      = "auth"
	subEvents    = "events"
	subCustomers = "customers"
	subMessages  = "messages"
)

// Auth returns the auth sub-client, constructing and caching it on first
// access.
func (s *Session) Auth() *AuthClient {
	return s.subClient(subAuth).(*AuthClient)
}

// Events returns the events sub-client.
func (s *Session) Events() *EventsClient {
	return s.subClient(subEvents).(*EventsClient)
}

// Customers returns the customers sub-client.
func (s *Session) Customers() *CustomersClient {
	return s.subClient(subCustomers).(*CustomersClient)
}

// Messages returns the messages sub-client.
func (s *Session) Messages() *MessagesClient {
	return s.subClient(subMessages).(*MessagesClient)
}

// subClient returns the cached instance for name, constructing one on first
// access. Cache entries are never evicted. Sub-clients hold the Session
// itself and resolve the transport handle per request, so a cached
// sub-client always observes the current handle.
func (s *Session) subClient(name string) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.subClients[name]; ok {
		return c
	}

	var c any

	switch name {
	case subAuth:
		c = &AuthClient{session: s}
	case subEvents:
		c = &EventsClient{session: s}
	case subCustomers:
		c = &CustomersClient{session: s}
	case subMessages:
		c = &MessagesClient{session: s}
	default:
		panic(fmt.Sprintf("api: unknown sub-client %q", name))
	}

	s.subClients[name] = c

	return c
}

// refreshedToken implements the single-flight refresh protocol. The first
// caller performs the remote refresh while every concurrent caller parks on
// the FIFO waiter queue; all of them settle with the same outcome.
func (s *Session) refreshedToken(ctx context.Context) (string, error) {
	s.mu.Lock()

	if s.refreshing {
		ch := make(chan refreshResult, 1)
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()

		// Queued waiters have no independent cancellation path: they
		// settle when the in-flight refresh settles.
		res := <-ch

		return res.token, res.err
	}

	if s.refreshToken == "" {
		s.mu.Unlock()

		return "", ErrRefreshUnavailable
	}

	s.refreshing = true
	mode := s.mode
	refreshToken := s.refreshToken
	s.mu.Unlock()

	s.logger.Info("refreshing access token", slog.String("mode", mode.String()))

	pair, callErr := s.callRefresh(ctx, mode, refreshToken)

	var token string

	var err error
	if callErr != nil {
		err = fmt.Errorf("%w: %w", ErrRefreshFailed, callErr)
	} else {
		token = pair.AccessToken
	}

	// Settle: adopt tokens, clear the flag, and drain the queue in arrival
	// order. A single settle path serves both outcomes so the flag cannot
	// stay stuck.
	s.mu.Lock()
	s.refreshing = false

	if err == nil {
		s.setTokenLocked(pair.AccessToken)
		s.refreshToken = pair.RefreshToken
	}

	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{token: token, err: err}
	}

	if err != nil {
		s.logger.Warn("token refresh failed", slog.String("error", err.Error()))

		return "", err
	}

	return token, nil
}

// callRefresh invokes the refresh endpoint matching the auth mode.
func (s *Session) callRefresh(ctx context.Context, mode AuthMode, refreshToken string) (TokenPair, error) {
	if mode == ModeAPIKey {
		return s.Auth().RefreshClientApp(ctx, refreshToken)
	}

	return s.Auth().Refresh(ctx, refreshToken)
}

// Headers returns a copy of the headers the current handle stamps on every
// request. The push gateway dials with the same identity.
func (s *Session) Headers() http.Header {
	return s.currentHandle().header.Clone()
}

// currentHandle snapshots the transport handle. Handles are immutable and
// replaced wholesale, so readers never observe a half-updated header set.
func (s *Session) currentHandle() *handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.handle
}

// handleRebuilds returns how many times the handle has been reconstructed.
func (s *Session) handleRebuilds() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rebuilds
}

// logTokenAdopted logs token adoption with its expiry claim, never the
// token value itself.
func (s *Session) logTokenAdopted(token string) {
	if token == "" {
		return
	}

	attrs := []any{}
	if exp, ok := tokenExpiry(token); ok {
		attrs = append(attrs, slog.Time("expiry", exp))
	}

	s.logger.Debug("adopted access token", attrs...)
}

// tokenExpiry extracts the exp claim from a JWT access token without
// verifying the signature. Used for logging only — the server remains the
// authority on token validity.
func tokenExpiry(token string) (time.Time, bool) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}

	return exp.Time, true
}
