package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	t.Run("creates client with defaults", func(t *testing.T) {
		c := NewClient()
		if c.httpClient == nil {
			t.Error("expected httpClient to be set")
		}
		if c.logger == nil {
			t.Error("expected logger to be set")
		}
		if c.refreshExpiredStatus != DefaultRefreshExpiredStatus {
			t.Errorf("expected refresh expired status %d, got %d", DefaultRefreshExpiredStatus, c.refreshExpiredStatus)
		}
		if c.defaultRefreshLifetime != DefaultRefreshLifetime {
			t.Errorf("expected default refresh lifetime %v, got %v", DefaultRefreshLifetime, c.defaultRefreshLifetime)
		}
	})

	t.Run("applies options", func(t *testing.T) {
		customHTTP := &http.Client{Timeout: 10 * time.Second}

		c := NewClient(
			WithHTTPClient(customHTTP),
			WithTokenURL("https://auth.example.com/token"),
			WithRefreshURL("https://auth.example.com/refresh"),
			WithRefreshExpiredStatus(419),
		)

		if c.httpClient != customHTTP {
			t.Error("expected custom httpClient to be set")
		}
		if c.TokenURL() != "https://auth.example.com/token" {
			t.Errorf("unexpected token URL %q", c.TokenURL())
		}
		if c.RefreshURL() != "https://auth.example.com/refresh" {
			t.Errorf("unexpected refresh URL %q", c.RefreshURL())
		}
		if c.refreshExpiredStatus != 419 {
			t.Errorf("expected refresh expired status 419, got %d", c.refreshExpiredStatus)
		}
	})
}

func TestIsAuthenticationURL(t *testing.T) {
	c := NewClient(
		WithTokenURL("https://auth.example.com/token"),
		WithRefreshURL("https://auth.example.com/refresh"),
	)

	tests := []struct {
		url  string
		want bool
	}{
		{"https://auth.example.com/token", true},
		{"https://auth.example.com/token/", true},
		{"https://AUTH.example.com/refresh?x=1", true},
		{"https://auth.example.com/api/items", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := c.IsAuthenticationURL(tt.url); got != tt.want {
			t.Errorf("IsAuthenticationURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}

	c.SetRefreshURL("https://auth.example.com/v2/refresh")
	if c.IsAuthenticationURL("https://auth.example.com/refresh") {
		t.Error("old refresh URL should no longer match after SetRefreshURL")
	}
	if !c.IsAuthenticationURL("https://auth.example.com/v2/refresh") {
		t.Error("new refresh URL should match after SetRefreshURL")
	}
}

func TestIssue(t *testing.T) {
	t.Run("posts request and decodes credential", func(t *testing.T) {
		var gotBody map[string]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON content type, got %q", ct)
			}
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"subject":"alice","accessToken":"a1","expiresIn":60,"refreshToken":"r1","refreshTokenExpiresIn":3600}`))
		}))
		defer server.Close()

		now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		c := NewClient(
			WithHTTPClient(server.Client()),
			WithTokenURL(server.URL+"/token"),
			WithClock(func() time.Time { return now }),
		)

		cred, err := c.Issue(context.Background(), map[string]string{"username": "alice", "password": "secret"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotBody["username"] != "alice" {
			t.Errorf("expected request body to be forwarded, got %v", gotBody)
		}
		if cred.AccessToken != "a1" || cred.Subject != "alice" {
			t.Errorf("unexpected credential: %+v", cred)
		}
		if !cred.AccessExpiry.Equal(now.Add(time.Minute)) {
			t.Errorf("expected access expiry %v, got %v", now.Add(time.Minute), cred.AccessExpiry)
		}
	})

	t.Run("server error populates backend error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"login failed","detailedMessage":"directory unavailable"}`))
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()), WithTokenURL(server.URL))

		_, err := c.Issue(context.Background(), nil)
		var backendErr *BackendError
		if !errors.As(err, &backendErr) {
			t.Fatalf("expected *BackendError, got %v", err)
		}
		if backendErr.StatusCode != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", backendErr.StatusCode)
		}
		if backendErr.Message != "login failed" || backendErr.DetailedMessage != "directory unavailable" {
			t.Errorf("unexpected messages: %+v", backendErr)
		}
	})

	t.Run("missing token URL", func(t *testing.T) {
		_, err := NewClient().Issue(context.Background(), nil)
		var backendErr *BackendError
		if !errors.As(err, &backendErr) {
			t.Fatalf("expected *BackendError, got %v", err)
		}
	})
}

func TestRefresh(t *testing.T) {
	t.Run("sends subject and refresh token", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			var req map[string]string
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req["subject"] != "alice" || req["refreshToken"] != "r1" {
				t.Errorf("unexpected refresh request: %v", req)
			}
			_, _ = w.Write([]byte(`{"accessToken":"a2","expiresIn":60,"refreshToken":"r2"}`))
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()), WithRefreshURL(server.URL))

		cred, err := c.Refresh(context.Background(), "alice", "r1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cred.AccessToken != "a2" {
			t.Errorf("expected new access token, got %q", cred.AccessToken)
		}
		if cred.Subject != "alice" {
			t.Errorf("expected subject to carry over, got %q", cred.Subject)
		}
		if calls.Load() != 1 {
			t.Errorf("expected 1 call, got %d", calls.Load())
		}
	})

	t.Run("468 means refresh token expired", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(DefaultRefreshExpiredStatus)
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()), WithRefreshURL(server.URL))

		_, err := c.Refresh(context.Background(), "alice", "r1")
		if !errors.Is(err, ErrRefreshTokenExpired) {
			t.Fatalf("expected ErrRefreshTokenExpired, got %v", err)
		}
		var backendErr *BackendError
		if !errors.As(err, &backendErr) || backendErr.StatusCode != DefaultRefreshExpiredStatus {
			t.Errorf("expected wrapped backend error with status 468, got %v", err)
		}
	})

	t.Run("expired_refresh_token challenge", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("WWW-Authenticate", `Bearer error="expired_refresh_token"`)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()), WithRefreshURL(server.URL))

		_, err := c.Refresh(context.Background(), "alice", "r1")
		if !errors.Is(err, ErrRefreshTokenExpired) {
			t.Fatalf("expected ErrRefreshTokenExpired, got %v", err)
		}
	})

	t.Run("other failures are backend errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		c := NewClient(WithHTTPClient(server.Client()), WithRefreshURL(server.URL))

		_, err := c.Refresh(context.Background(), "alice", "r1")
		if errors.Is(err, ErrRefreshTokenExpired) {
			t.Fatal("502 must not be treated as refresh token expiry")
		}
		var backendErr *BackendError
		if !errors.As(err, &backendErr) || backendErr.StatusCode != http.StatusBadGateway {
			t.Errorf("expected backend error with status 502, got %v", err)
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		c := NewClient(WithRefreshURL(url))

		_, err := c.Refresh(context.Background(), "alice", "r1")
		var backendErr *BackendError
		if !errors.As(err, &backendErr) {
			t.Fatalf("expected *BackendError, got %v", err)
		}
		if backendErr.StatusCode != 0 || backendErr.Unwrap() == nil {
			t.Errorf("expected transport error without status, got %+v", backendErr)
		}
	})
}
