// Package logging provides the structured logger shared by every jwtauth
// package.
//
// It is a thin layer over Go's slog package. Each entry is tagged with a
// subsystem so that output from the token store, the refresh coordinator and
// the request decorator can be told apart:
//
//	logging.Init(logging.LevelDebug, os.Stderr)
//
//	logging.Debug("TokenStore", "Loaded credential for subject=%s", subject)
//	logging.Warn("Lease", "Lease %s expired while held", key)
//	logging.Error("Refresh", err, "Refresh failed for subject=%s", subject)
//
// # Verbosity
//
// The logVerbosity configuration option maps onto levels with ParseVerbosity:
//
//   - verbose: DEBUG and above
//   - error: ERROR only
//   - silent: nothing
//
// # Security
//
// Callers never pass access or refresh token values to the logger. Subjects,
// URLs and expiry instants are safe to log.
//
// Kubernetes client logging (klog) is routed to the same handler by Init.
package logging
