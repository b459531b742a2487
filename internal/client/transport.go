package client

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"jwtauth/pkg/logging"
	"jwtauth/pkg/oauth"
)

// Transport is an http.RoundTripper that authorizes requests with the
// session's access token and refreshes it when the server rejects it.
type Transport struct {
	auth Authenticator
	base http.RoundTripper
}

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(auth Authenticator, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{auth: auth, base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.auth.IsAuthenticationURL(req.URL.String()) {
		return t.base.RoundTrip(req)
	}

	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	cred := t.auth.Credential()
	first, err := authorize(req, cred, getBody)
	if err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || cred == nil {
		return resp, err
	}

	challenge, err := oauth.ChallengeFromResponse(resp)
	if err != nil {
		discard(resp)
		return nil, err
	}

	if challenge.IsRefreshTokenExpired() {
		logging.Info("Client", "Server reported an expired refresh token for %s, logging out", req.URL.Redacted())
		if err := t.auth.Logout(req.Context()); err != nil {
			logging.Warn("Client", "Failed to log out: %v", err)
		}
		return resp, nil
	}

	discard(resp)

	fresh, err := renew(req.Context(), t.auth, cred)
	if err != nil {
		return nil, err
	}

	retry, err := authorize(req, fresh, getBody)
	if err != nil {
		return nil, err
	}
	return t.base.RoundTrip(retry)
}

// replayableBody makes sure the body of req can be sent twice. Every attempt
// gets its own copy, so the original body is closed here. Bodies without
// GetBody are buffered first.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()

	if req.GetBody != nil {
		return req.GetBody, nil
	}

	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

// authorize returns a copy of req with a fresh body and the bearer token of
// cred. The Authorization header is left out when cred is nil.
func authorize(req *http.Request, cred *oauth.Credential, getBody func() (io.ReadCloser, error)) (*http.Request, error) {
	out := req.Clone(req.Context())
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, fmt.Errorf("failed to obtain request body: %w", err)
		}
		out.Body = body
		out.GetBody = getBody
	}

	if cred != nil {
		out.Header.Set("Authorization", bearer(cred))
	}
	return out, nil
}

// discard drains and closes resp so the connection can be reused.
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
