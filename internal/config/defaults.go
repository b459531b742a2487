package config

import "time"

const (
	// DefaultNamespace prefixes persisted keys unless configured otherwise.
	DefaultNamespace = "jwt-auth"

	DefaultLeaseTTL         = 10 * time.Second
	DefaultLeaseAcquireWait = 100 * time.Millisecond

	DefaultHTTPTimeout    = 30 * time.Second
	DefaultRefreshTimeout = 30 * time.Second

	DefaultRefreshExpiredStatus = 468
	DefaultRefreshLifetime      = 7 * 24 * time.Hour
	DefaultRedisPrefix          = "jwtauth"
	DefaultKubernetesSecretName = "jwt-auth"
	DefaultKubernetesNamespace  = "default"

	// credentialDir is relative to the user's home directory.
	credentialDir = ".config/jwtauth/credentials"
)

// GetDefaultConfig returns the default configuration: in-memory session
// storage, INFO logging and automatic initialization.
func GetDefaultConfig() Config {
	return Config{
		StorageScope:           StorageScopeSession,
		Namespace:              DefaultNamespace,
		RefreshExpiredStatus:   DefaultRefreshExpiredStatus,
		DefaultRefreshLifetime: DefaultRefreshLifetime,
		Storage: StorageConfig{
			Backend: StorageBackendFile,
			Redis: RedisConfig{
				Prefix: DefaultRedisPrefix,
			},
			Kubernetes: KubernetesConfig{
				Namespace:  DefaultKubernetesNamespace,
				SecretName: DefaultKubernetesSecretName,
			},
		},
		Lease: LeaseConfig{
			TTL:         DefaultLeaseTTL,
			AcquireWait: DefaultLeaseAcquireWait,
		},
		HTTP: HTTPConfig{
			Timeout:        DefaultHTTPTimeout,
			RefreshTimeout: DefaultRefreshTimeout,
		},
	}
}
