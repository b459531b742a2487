package client

import (
	"context"

	"jwtauth/pkg/logging"
	"jwtauth/pkg/oauth"
)

// Authenticator is the credential state the decorators work against. It is
// implemented by *session.Service.
type Authenticator interface {
	// Credential returns the current credential, or nil when logged out.
	Credential() *oauth.Credential

	// Refresh obtains a new credential through the refresh coordinator.
	Refresh(ctx context.Context) (*oauth.Credential, error)

	// Logout clears the credential.
	Logout(ctx context.Context) error

	// IsAuthenticationURL reports whether u is the token or refresh endpoint.
	IsAuthenticationURL(u string) bool
}

// bearer formats the Authorization header value for cred.
func bearer(cred *oauth.Credential) string {
	return "Bearer " + cred.AccessToken
}

// renew returns the credential to retry with after rejected was refused. A
// credential replaced in the meantime, by a refresh that finished while the
// request was in flight, is used as is; otherwise a refresh is requested.
func renew(ctx context.Context, auth Authenticator, rejected *oauth.Credential) (*oauth.Credential, error) {
	if current := auth.Credential(); current != nil && !oauth.SameAccessToken(current, rejected) {
		logging.Debug("Client", "Access token was replaced while the request was in flight")
		return current, nil
	}
	logging.Debug("Client", "Access token rejected, refreshing")
	return auth.Refresh(ctx)
}
