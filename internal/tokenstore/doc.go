// Package tokenstore holds the credential of one context.
//
// A Store caches the credential in memory, persists every change to a
// storage.Medium and follows the medium so that a login, refresh or logout
// in any other context sharing it is seen here. Changes made elsewhere are
// applied only when they carry a different access token; writing the value
// already held does nothing.
package tokenstore
