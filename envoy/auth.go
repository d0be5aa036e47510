// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package envoy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/soothill/envoy-data-logger/pkg/errors"
	"github.com/soothill/envoy-data-logger/pkg/logger"
)

const (
	defaultLoginURL  = "https://enlighten.enphaseenergy.com/login/login.json"
	defaultTokensURL = "https://entrez.enphaseenergy.com/tokens"
	authTimeout      = 30 * time.Second
)

// TokenSource supplies a bearer token for Envoy requests.
type TokenSource interface {
	// Token returns a valid token, fetching or refreshing as needed
	Token(ctx context.Context) (string, error)

	// Invalidate discards any cached token so the next Token call refetches
	Invalidate()
}

// StaticToken is a TokenSource backed by a pre-obtained token.
type StaticToken string

// Token returns the static token.
func (t StaticToken) Token(_ context.Context) (string, error) {
	return string(t), nil
}

// Invalidate is a no-op; a static token cannot be refreshed.
func (t StaticToken) Invalidate() {}

// EnphaseAuth obtains a long-lived Envoy JWT from the Enphase cloud:
// a login yields a session id, which is exchanged for a gateway-scoped
// token. The token is cached until invalidated.
type EnphaseAuth struct {
	email       string
	password    string
	envoySerial string
	loginURL    string
	tokensURL   string
	httpClient  *http.Client

	mu    sync.Mutex
	token string
}

// NewEnphaseAuth creates a token source backed by Enphase cloud credentials.
func NewEnphaseAuth(email, password, envoySerial string) *EnphaseAuth {
	return &EnphaseAuth{
		email:       email,
		password:    password,
		envoySerial: envoySerial,
		loginURL:    defaultLoginURL,
		tokensURL:   defaultTokensURL,
		httpClient:  &http.Client{Timeout: authTimeout},
	}
}

// Token returns the cached token or performs the cloud login flow.
func (a *EnphaseAuth) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" {
		return a.token, nil
	}

	sessionID, err := a.login(ctx)
	if err != nil {
		return "", pkgerrors.NewAuthError("login", err)
	}

	token, err := a.fetchToken(ctx, sessionID)
	if err != nil {
		return "", pkgerrors.NewAuthError("fetch token", err)
	}

	logger.Info().Str("envoy_serial", a.envoySerial).Msg("Obtained Envoy access token")
	a.token = token
	return token, nil
}

// Invalidate discards the cached token. Called when the Envoy rejects it.
func (a *EnphaseAuth) Invalidate() {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
}

// login authenticates against the Enphase cloud and returns a session id
func (a *EnphaseAuth) login(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("user[email]", a.email)
	form.Set("user[password]", a.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login returned status %d", resp.StatusCode)
	}

	var loginResp struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	if loginResp.SessionID == "" {
		return "", fmt.Errorf("login response contained no session id")
	}

	return loginResp.SessionID, nil
}

// fetchToken exchanges a session id for a gateway-scoped JWT
func (a *EnphaseAuth) fetchToken(ctx context.Context, sessionID string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"session_id": sessionID,
		"serial_num": a.envoySerial,
		"username":   a.email,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokensURL, strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	// The token endpoint returns the raw JWT as text
	token, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	trimmed := strings.TrimSpace(string(token))
	if trimmed == "" {
		return "", fmt.Errorf("token endpoint returned an empty token")
	}

	return trimmed, nil
}
