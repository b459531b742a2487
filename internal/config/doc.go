// Package config provides configuration management for jwtauth.
//
// Configuration is read from config.yaml in a single directory, by default
// ~/.config/jwtauth. Values present in the file override the defaults
// returned by GetDefaultConfig; a missing file means defaults only. Command
// line flags override both.
//
// # Example
//
//	tokenUrl: https://auth.example.com/api/token
//	refreshUrl: https://auth.example.com/api/token/refresh
//	storageScope: shared
//	logVerbosity: verbose
//	storage:
//	  backend: redis
//	  redis:
//	    addr: localhost:6379
//	lease:
//	  ttl: 10s
//	  acquireWait: 100ms
//
// # Errors
//
// Unreadable or malformed files yield a ConfigurationError. Semantic problems
// are collected into ValidationErrors so every mistake is reported at once.
package config
