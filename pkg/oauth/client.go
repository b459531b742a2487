package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultRefreshExpiredStatus is the non-standard status the refresh
	// endpoint answers with once the refresh token is dead.
	DefaultRefreshExpiredStatus = 468

	// maxErrorBodySize bounds how much of an error response is read.
	maxErrorBodySize = 64 << 10
)

// Client talks to the token issuing and token refresh endpoints.
// It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	refreshExpiredStatus   int
	defaultRefreshLifetime time.Duration

	mu         sync.RWMutex
	tokenURL   string
	refreshURL string
}

// ClientOption configures the token client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTokenURL sets the endpoint credentials are issued from.
func WithTokenURL(u string) ClientOption {
	return func(c *Client) {
		c.tokenURL = u
	}
}

// WithRefreshURL sets the endpoint credentials are refreshed at.
func WithRefreshURL(u string) ClientOption {
	return func(c *Client) {
		c.refreshURL = u
	}
}

// WithRefreshExpiredStatus overrides the status code that signals an
// expired refresh token.
func WithRefreshExpiredStatus(status int) ClientOption {
	return func(c *Client) {
		c.refreshExpiredStatus = status
	}
}

// WithDefaultRefreshLifetime sets the refresh lifetime assumed when a
// response carries no refresh expiry.
func WithDefaultRefreshLifetime(d time.Duration) ClientOption {
	return func(c *Client) {
		c.defaultRefreshLifetime = d
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new token client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:             &http.Client{Timeout: DefaultHTTPTimeout},
		logger:                 slog.Default(),
		now:                    time.Now,
		refreshExpiredStatus:   DefaultRefreshExpiredStatus,
		defaultRefreshLifetime: DefaultRefreshLifetime,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// TokenURL returns the current token endpoint.
func (c *Client) TokenURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokenURL
}

// RefreshURL returns the current refresh endpoint.
func (c *Client) RefreshURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshURL
}

// SetTokenURL replaces the token endpoint at runtime.
func (c *Client) SetTokenURL(u string) {
	c.mu.Lock()
	c.tokenURL = u
	c.mu.Unlock()
}

// SetRefreshURL replaces the refresh endpoint at runtime.
func (c *Client) SetRefreshURL(u string) {
	c.mu.Lock()
	c.refreshURL = u
	c.mu.Unlock()
}

// IsAuthenticationURL reports whether u addresses the token or the refresh
// endpoint. Requests to those endpoints are never decorated or retried.
// Query strings, fragments and trailing slashes are ignored.
func (c *Client) IsAuthenticationURL(u string) bool {
	target := normalizeURL(u)
	if target == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return target == normalizeURL(c.tokenURL) || target == normalizeURL(c.refreshURL)
}

func normalizeURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimSuffix(raw, "/")
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)
	return strings.TrimSuffix(u.String(), "/")
}

// Issue posts request as JSON to the token endpoint and decodes the issued
// credential. request may be any JSON-encodable value, or a json.RawMessage
// that is sent verbatim.
func (c *Client) Issue(ctx context.Context, request interface{}) (*Credential, error) {
	tokenURL := c.TokenURL()
	if tokenURL == "" {
		return nil, &BackendError{Message: "token URL is not configured"}
	}

	body, err := encodeRequest(request)
	if err != nil {
		return nil, err
	}

	cred, err := c.doTokenRequest(ctx, tokenURL, body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Issued credential",
		"subject", cred.Subject,
		"access_expiry", cred.AccessExpiry,
		"refresh_expiry", cred.RefreshExpiry)

	return cred, nil
}

// Refresh exchanges a refresh token for a new credential.
//
// When the endpoint reports the refresh token as expired, either with the
// configured status (468 by default) or with an expired_refresh_token
// challenge, the returned error matches ErrRefreshTokenExpired. Every other
// failure is a *BackendError.
func (c *Client) Refresh(ctx context.Context, subject, refreshToken string) (*Credential, error) {
	refreshURL := c.RefreshURL()
	if refreshURL == "" {
		return nil, &BackendError{Message: "refresh URL is not configured"}
	}

	body, err := EncodeRefreshRequest(subject, refreshToken)
	if err != nil {
		return nil, err
	}

	cred, err := c.doTokenRequest(ctx, refreshURL, body)
	if err != nil {
		var backendErr *BackendError
		if errors.As(err, &backendErr) && backendErr.StatusCode == c.refreshExpiredStatus {
			return nil, fmt.Errorf("%w: %w", ErrRefreshTokenExpired, err)
		}
		return nil, err
	}

	if cred.Subject == "" {
		cred.Subject = subject
	}

	c.logger.Debug("Refreshed credential",
		"subject", cred.Subject,
		"access_expiry", cred.AccessExpiry)

	return cred, nil
}

func encodeRequest(request interface{}) ([]byte, error) {
	switch r := request.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		return r, nil
	case []byte:
		return r, nil
	}
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token request: %w", err)
	}
	return body, nil
}

// doTokenRequest performs a token endpoint request.
func (c *Client) doTokenRequest(ctx context.Context, endpoint string, body []byte) (*Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &BackendError{Message: "failed to create token request", Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &BackendError{Message: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.responseError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BackendError{Message: "failed to read token response", StatusCode: resp.StatusCode, Err: err}
	}

	return DecodeTokenResponse(respBody, c.now(), c.defaultRefreshLifetime)
}

// errorBody is the error shape returned by the authentication backend.
type errorBody struct {
	Message         string `json:"message"`
	DetailedMessage string `json:"detailedMessage"`
}

func (c *Client) responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	backendErr := &BackendError{StatusCode: resp.StatusCode}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		backendErr.Message = eb.Message
		backendErr.DetailedMessage = eb.DetailedMessage
	}

	c.logger.Debug("Token request failed",
		"url", resp.Request.URL.Redacted(),
		"status", resp.StatusCode,
		"message", backendErr.Message)

	if resp.StatusCode == http.StatusUnauthorized {
		if challenge, err := ChallengeFromResponse(resp); err == nil && challenge.IsRefreshTokenExpired() {
			return fmt.Errorf("%w: %w", ErrRefreshTokenExpired, backendErr)
		}
	}

	return backendErr
}
