package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"

	"jwtauth/internal/config"
	"jwtauth/internal/lease"
	"jwtauth/internal/storage"
	"jwtauth/pkg/logging"
)

// leaseDir is the subdirectory of the file backend holding lock files.
const leaseDir = "leases"

// Backend is the shared state of every context using the same credentials:
// the medium the credential and refresh marker live in, and the locker
// refresh leases are taken from.
type Backend struct {
	Medium storage.Medium
	Locker lease.Locker

	closers []func() error
}

// NewMemoryBackend returns a backend private to this process. Services
// created with the same memory backend behave like independent processes
// sharing persisted state.
func NewMemoryBackend() *Backend {
	return &Backend{Medium: storage.NewMemory(), Locker: lease.NewLocal()}
}

// NewBackend builds the backend selected by cfg: process memory for the
// session scope, otherwise the configured shared backend.
func NewBackend(ctx context.Context, cfg config.Config) (*Backend, error) {
	if cfg.StorageScope != config.StorageScopeShared {
		logging.Debug("Session", "Using in-memory credential storage")
		return NewMemoryBackend(), nil
	}

	switch cfg.Storage.Backend {
	case config.StorageBackendFile, "":
		return newFileBackend(cfg.Storage.Dir)
	case config.StorageBackendRedis:
		return newRedisBackend(ctx, cfg.Storage.Redis)
	case config.StorageBackendKubernetes:
		return newKubeBackend(cfg.Storage.Kubernetes)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func newFileBackend(dir string) (*Backend, error) {
	if dir == "" {
		var err error
		if dir, err = config.DefaultStorageDir(); err != nil {
			return nil, err
		}
	}

	medium, err := storage.NewFile(dir)
	if err != nil {
		return nil, err
	}
	locker, err := lease.NewFile(filepath.Join(dir, leaseDir))
	if err != nil {
		medium.Close()
		return nil, err
	}

	logging.Info("Session", "Using file credential storage in %s", dir)
	return &Backend{Medium: medium, Locker: locker}, nil
}

func newRedisBackend(ctx context.Context, cfg config.RedisConfig) (*Backend, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	logging.Info("Session", "Using redis credential storage at %s (prefix %s)", cfg.Addr, cfg.Prefix)
	return &Backend{
		Medium:  storage.NewRedis(rdb, cfg.Prefix),
		Locker:  lease.NewRedis(rdb, cfg.Prefix),
		closers: []func() error{rdb.Close},
	}, nil
}

func newKubeBackend(cfg config.KubernetesConfig) (*Backend, error) {
	restConfig, err := kubeRestConfig(cfg.Kubeconfig)
	if err != nil {
		return nil, err
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	logging.Info("Session", "Using Kubernetes credential storage in secret %s/%s", cfg.Namespace, cfg.SecretName)
	return &Backend{
		Medium: storage.NewKube(clientset, cfg.Namespace, cfg.SecretName),
		Locker: lease.NewKube(clientset, cfg.Namespace),
	}, nil
}

// kubeRestConfig loads the given kubeconfig, or uses controller-runtime's
// standard detection (in-cluster, KUBECONFIG, ~/.kube/config).
func kubeRestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		restConfig, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig %s: %w", kubeconfig, err)
		}
		return restConfig, nil
	}

	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get Kubernetes config: %w", err)
	}
	return restConfig, nil
}

// Close closes the medium and any client the backend created.
func (b *Backend) Close() error {
	errs := []error{b.Medium.Close()}
	for _, closeFn := range b.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}
