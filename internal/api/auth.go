package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// AuthClient wraps the authentication endpoints: API-key login and the two
// token refresh variants. Its requests bypass the refresh interceptor —
// a 401 from an auth endpoint is a real credential failure, not something
// a refresh could fix.
type AuthClient struct {
	session *Session
}

// tokenResponse mirrors the wire JSON of every auth endpoint.
type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (r *tokenResponse) toPair() TokenPair {
	return TokenPair{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
	}
}

// LoginClientApp exchanges an API key for an access+refresh token pair.
func (a *AuthClient) LoginClientApp(ctx context.Context, apiKey string) (TokenPair, error) {
	body, err := json.Marshal(map[string]string{"apiKey": apiKey})
	if err != nil {
		return TokenPair{}, fmt.Errorf("api: encoding login request: %w", err)
	}

	return a.tokenCall(ctx, "/auth/client-app/login", body)
}

// Refresh exchanges a refresh token for a new pair. Used in token mode.
func (a *AuthClient) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return TokenPair{}, fmt.Errorf("api: encoding refresh request: %w", err)
	}

	return a.tokenCall(ctx, "/auth/refresh", body)
}

// RefreshClientApp exchanges a refresh token for a new pair via the
// client-app endpoint. Used in API-key mode.
func (a *AuthClient) RefreshClientApp(ctx context.Context, refreshToken string) (TokenPair, error) {
	body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return TokenPair{}, fmt.Errorf("api: encoding refresh request: %w", err)
	}

	return a.tokenCall(ctx, "/auth/client-app/refresh", body)
}

// tokenCall posts to an auth endpoint and decodes the token pair.
func (a *AuthClient) tokenCall(ctx context.Context, path string, body []byte) (TokenPair, error) {
	resp, err := a.session.do(ctx, http.MethodPost, path, body, true)
	if err != nil {
		return TokenPair{}, err
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return TokenPair{}, fmt.Errorf("api: decoding token response: %w", err)
	}

	if tr.AccessToken == "" {
		return TokenPair{}, fmt.Errorf("api: token response missing access token")
	}

	return tr.toPair(), nil
}
