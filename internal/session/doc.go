// Package session assembles the authentication session of one context from
// configuration.
//
// A Service wires together the credential store, the refresh coordinator,
// the token endpoint client and the shared backend (process memory for the
// session scope, or a file directory, Redis or a Kubernetes Secret and Lease
// for the shared scope). On startup it validates the persisted credential:
//
//   - no credential: logged out;
//   - valid access token: logged in;
//   - expired access token with a valid refresh token: refreshed;
//   - both expired: logged out.
//
// The Service then serves as the Authenticator behind the decorated HTTP
// transport, the gRPC interceptor and an oauth2.TokenSource.
package session
