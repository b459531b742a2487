package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(c *Config)
		wantFields []string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name: "shared file backend is valid",
			mutate: func(c *Config) {
				c.StorageScope = StorageScopeShared
				c.Storage.Dir = "/tmp/creds"
			},
		},
		{
			name: "redis backend requires an address",
			mutate: func(c *Config) {
				c.StorageScope = StorageScopeShared
				c.Storage.Backend = StorageBackendRedis
			},
			wantFields: []string{"storage.redis.addr"},
		},
		{
			name: "kubernetes backend requires valid names",
			mutate: func(c *Config) {
				c.StorageScope = StorageScopeShared
				c.Storage.Backend = StorageBackendKubernetes
				c.Storage.Kubernetes.Namespace = "Bad_Namespace"
				c.Storage.Kubernetes.SecretName = ""
			},
			wantFields: []string{"storage.kubernetes.namespace", "storage.kubernetes.secretName"},
		},
		{
			name: "backend is ignored in session scope",
			mutate: func(c *Config) {
				c.Storage.Backend = "etcd"
			},
		},
		{
			name: "unknown backend",
			mutate: func(c *Config) {
				c.StorageScope = StorageScopeShared
				c.Storage.Backend = "etcd"
			},
			wantFields: []string{"storage.backend"},
		},
		{
			name: "bad urls and durations",
			mutate: func(c *Config) {
				c.TokenURL = "ftp://auth.example.com"
				c.RefreshURL = "/relative"
				c.Lease.TTL = 0
				c.HTTP.RefreshTimeout = -time.Second
			},
			wantFields: []string{"tokenUrl", "refreshUrl", "lease.ttl", "http.refreshTimeout"},
		},
		{
			name: "namespace and status",
			mutate: func(c *Config) {
				c.Namespace = "Has Spaces"
				c.RefreshExpiredStatus = 42
			},
			wantFields: []string{"namespace", "refreshExpiredStatus"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if len(tt.wantFields) == 0 {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}

			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %v", err)
			}
			if len(verrs) != len(tt.wantFields) {
				t.Fatalf("expected %d errors, got %d: %v", len(tt.wantFields), len(verrs), verrs)
			}
			for i, field := range tt.wantFields {
				if verrs[i].Field != field {
					t.Errorf("error %d: expected field %q, got %q", i, field, verrs[i].Field)
				}
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	var errs ValidationErrors
	if errs.Error() != "no validation errors" {
		t.Errorf("unexpected message for empty collection: %q", errs.Error())
	}

	errs.Add("tokenUrl", "must be an absolute http or https URL")
	if errs.Error() != "field 'tokenUrl': must be an absolute http or https URL" {
		t.Errorf("unexpected single error message: %q", errs.Error())
	}

	errs.Add("", "something else")
	if !strings.HasPrefix(errs.Error(), "validation failed: ") {
		t.Errorf("unexpected multi error message: %q", errs.Error())
	}
}
