// Package storage provides the key-value mediums credentials are persisted
// in, each with change notification so that every context sharing a medium
// learns about writes made by the others.
//
// Implementations:
//
//   - Memory: in-process map. Contexts sharing one Memory behave like
//     independent processes sharing persisted state.
//   - File: one 0600 file per key in a 0700 directory, replaced atomically
//     on write and watched with fsnotify (polling where unavailable).
//   - Redis: SET/DEL plus PUBLISH on a change channel.
//   - Kube: entries of one Kubernetes Secret, watched through the API server.
//
// Keys must satisfy ValidateKey so that every implementation can store them.
package storage
