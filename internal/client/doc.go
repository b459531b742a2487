// Package client decorates outgoing requests with the bearer access token of
// a session and recovers from expired access tokens.
//
// Transport does this for HTTP as an http.RoundTripper; UnaryClientInterceptor
// does the same for gRPC unary calls. Both follow one policy:
//
//   - requests to the token and refresh endpoints are sent untouched;
//   - every other request carries "Authorization: Bearer <access token>"
//     when a credential is held;
//   - an authentication failure whose challenge reports an expired refresh
//     token logs the session out and is returned as is;
//   - any other authentication failure triggers a coordinated refresh and the
//     request is replayed exactly once with the new token.
//
// Responses other than authentication failures, including 403 Forbidden,
// are passed through unchanged.
package client
