// Package oauth provides the credential model and the authorization server
// protocol shared by every jwtauth component.
//
// # Core Components
//
//   - Credential: access and refresh token pair with absolute expiries
//   - IsAccessExpired / IsRefreshExpired: the expiry policy
//   - AuthChallenge: parsed WWW-Authenticate Bearer challenge
//   - DecodeTokenResponse: tolerant token endpoint response decoding
//   - Client: token issue and token refresh over HTTP
//
// # Errors
//
// ErrLoggedOut and ErrRefreshTokenExpired are sentinels checked with
// errors.Is. BackendError, TransientRefreshError and UnsupportedSchemeError
// are inspected with errors.As.
//
// # Usage
//
//	client := oauth.NewClient(
//		oauth.WithTokenURL("https://auth.example.com/token"),
//		oauth.WithRefreshURL("https://auth.example.com/refresh"),
//	)
//
//	cred, err := client.Issue(ctx, map[string]string{"username": u, "password": p})
//
//	challenge, err := oauth.ChallengeFromResponse(resp)
//	if challenge.IsRefreshTokenExpired() {
//		// log in again
//	}
package oauth
