package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// handle is an immutable snapshot of the transport identity: the base URL
// plus the header set stamped on every request. Identity-affecting setters
// replace it wholesale instead of mutating it in place.
type handle struct {
	baseURL string
	header  http.Header
}

// rebuildHandleLocked constructs a fresh handle from the current session
// state. Every request carries the fixed client-identification header;
// the tenant and authorization headers are conditional on their values
// being set. Caller holds s.mu.
func (s *Session) rebuildHandleLocked() {
	h := &handle{
		baseURL: s.baseURL,
		header:  http.Header{},
	}

	h.header.Set(HeaderClient, ClientValue())

	if s.organisationID != "" {
		h.header.Set(HeaderOrganisation, s.organisationID)
	}

	if s.accessToken != "" {
		h.header.Set("Authorization", "Bearer "+s.accessToken)
	}

	s.handle = h
	s.rebuilds++
}

// refreshTransport intercepts authorization failures. An eligible failure
// (401, SDK-issued request, not yet replayed) triggers the session's
// single-flight refresh, after which the original request is replayed once
// with the new token. Everything else passes through unchanged.
type refreshTransport struct {
	session *Session
	base    http.RoundTripper
}

func (t *refreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// Requests not issued by this SDK are never intercepted.
	if req.Header.Get(HeaderClient) != ClientValue() {
		return resp, nil
	}

	// A request already replayed once is never replayed again.
	if req.Header.Get(headerRetried) != "" {
		return resp, nil
	}

	resp.Body.Close()

	token, refreshErr := t.session.refreshedToken(req.Context())
	if refreshErr != nil {
		// The refresh error replaces the original 401: it is the true cause.
		return nil, refreshErr
	}

	retry := req.Clone(req.Context())
	retry.Header.Set(headerRetried, "1")
	retry.Header.Set("Authorization", "Bearer "+token)

	if req.GetBody != nil {
		body, bodyErr := req.GetBody()
		if bodyErr != nil {
			return nil, fmt.Errorf("api: rewinding request body for replay: %w", bodyErr)
		}

		retry.Body = body
	}

	return t.base.RoundTrip(retry)
}

// do executes an HTTP request against the API with retry on transient
// failures. The path is appended to the handle's base URL. The handle is
// snapshotted per attempt, so a rebuild between attempts takes effect
// immediately. The caller closes the response body on success.
//
// preAuth marks requests that must bypass the refresh interceptor: the
// login and refresh calls themselves, which would otherwise recurse.
func (s *Session) do(ctx context.Context, method, path string, body []byte, preAuth bool) (*http.Response, error) {
	var attempt int

	for {
		resp, err := s.doOnce(ctx, method, path, body, preAuth)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("api: request canceled: %w", ctx.Err())
			}

			// Refresh protocol errors are final: the interceptor already
			// consumed the single permitted replay.
			if errors.Is(err, ErrRefreshUnavailable) || errors.Is(err, ErrRefreshFailed) {
				return nil, err
			}

			if attempt < maxRetries {
				backoff := s.calcBackoff(attempt)
				s.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := s.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("api: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("api: %s %s failed after %d retries: %w", method, path, maxRetries, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			s.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		reqID := resp.Header.Get("request-id")

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := s.retryBackoff(resp, attempt)
			s.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := s.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("api: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  reqID,
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// doOnce executes a single HTTP request (no retry) using the current handle.
func (s *Session) doOnce(ctx context.Context, method, path string, body []byte, preAuth bool) (*http.Response, error) {
	h := s.currentHandle()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for name, values := range h.header {
		req.Header[name] = values
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if preAuth {
		// Marked as already-replayed so the interceptor passes any 401
		// from the auth endpoints through unchanged.
		req.Header.Set(headerRetried, "1")
	}

	return s.httpClient.Do(req)
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (s *Session) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return s.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (s *Session) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Session.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
