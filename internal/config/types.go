package config

import "time"

// Config is the top-level configuration structure for jwtauth.
type Config struct {
	// TokenURL is the endpoint credentials are issued from.
	TokenURL string `yaml:"tokenUrl"`

	// RefreshURL is the endpoint credentials are refreshed at.
	RefreshURL string `yaml:"refreshUrl"`

	// StorageScope selects whether credentials are private to this process
	// (session) or shared with every process using the same backend (shared).
	StorageScope StorageScope `yaml:"storageScope"`

	// ManualInitialization skips startup hydration; the caller runs Init.
	ManualInitialization bool `yaml:"manualInitialization"`

	// LogVerbosity is one of verbose, error or silent.
	LogVerbosity string `yaml:"logVerbosity,omitempty"`

	// Namespace prefixes every persisted key (<namespace>-token,
	// <namespace>-refreshing).
	Namespace string `yaml:"namespace"`

	// RefreshExpiredStatus is the status the refresh endpoint answers with
	// once the refresh token is dead.
	RefreshExpiredStatus int `yaml:"refreshExpiredStatus"`

	// DefaultRefreshLifetime applies when a token response carries no
	// refresh expiry at all.
	DefaultRefreshLifetime time.Duration `yaml:"defaultRefreshLifetime"`

	Storage StorageConfig `yaml:"storage"`
	Lease   LeaseConfig   `yaml:"lease"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// StorageScope is the visibility of persisted credentials.
type StorageScope string

const (
	// StorageScopeSession keeps credentials in process memory only.
	StorageScopeSession StorageScope = "session"
	// StorageScopeShared persists credentials in the configured backend.
	StorageScopeShared StorageScope = "shared"
)

// StorageBackend names a shared storage medium.
type StorageBackend string

const (
	StorageBackendFile       StorageBackend = "file"
	StorageBackendRedis      StorageBackend = "redis"
	StorageBackendKubernetes StorageBackend = "kubernetes"
)

// StorageConfig configures the shared credential medium.
type StorageConfig struct {
	Backend    StorageBackend   `yaml:"backend"`
	Dir        string           `yaml:"dir,omitempty"`
	Redis      RedisConfig      `yaml:"redis,omitempty"`
	Kubernetes KubernetesConfig `yaml:"kubernetes,omitempty"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// KubernetesConfig configures the Kubernetes backend. An empty Kubeconfig
// selects in-cluster configuration, falling back to the default loading
// rules.
type KubernetesConfig struct {
	Kubeconfig string `yaml:"kubeconfig,omitempty"`
	Namespace  string `yaml:"namespace"`
	SecretName string `yaml:"secretName"`
}

// LeaseConfig configures the cross-process refresh lease.
type LeaseConfig struct {
	// TTL bounds how long a crashed refresh owner can block its peers.
	TTL time.Duration `yaml:"ttl"`
	// AcquireWait bounds how long a refresh waits for the lease.
	AcquireWait time.Duration `yaml:"acquireWait"`
}

// HTTPConfig configures outgoing HTTP calls.
type HTTPConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	RefreshTimeout time.Duration `yaml:"refreshTimeout"`
}

// TokenKey is the persisted key of the credential.
func (c Config) TokenKey() string {
	return c.Namespace + "-token"
}

// RefreshingKey is the persisted key of the refresh marker and lease.
func (c Config) RefreshingKey() string {
	return c.Namespace + "-refreshing"
}
