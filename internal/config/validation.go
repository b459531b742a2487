package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"jwtauth/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateURL checks that an optional value is an absolute http(s) URL.
func ValidateURL(field, value string) error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: "must be an absolute http or https URL",
		}
	}
	return nil
}

// dnsLabel matches Kubernetes object names and our namespaces.
var dnsLabel = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// Validate checks the configuration and returns ValidationErrors listing
// every problem found, or nil.
func (c Config) Validate() error {
	var errs ValidationErrors

	if err := ValidateURL("tokenUrl", c.TokenURL); err != nil {
		errs = append(errs, err.(ValidationError))
	}
	if err := ValidateURL("refreshUrl", c.RefreshURL); err != nil {
		errs = append(errs, err.(ValidationError))
	}

	if err := ValidateOneOf("storageScope", string(c.StorageScope),
		[]string{string(StorageScopeSession), string(StorageScopeShared)}); err != nil {
		errs = append(errs, err.(ValidationError))
	}

	if _, err := logging.ParseVerbosity(c.LogVerbosity); err != nil {
		errs.Add("logVerbosity", "must be one of: verbose, info, warn, error, silent", c.LogVerbosity)
	}

	if !dnsLabel.MatchString(c.Namespace) {
		errs.Add("namespace", "must consist of lower case alphanumeric characters or '-'", c.Namespace)
	}

	if c.RefreshExpiredStatus < 100 || c.RefreshExpiredStatus > 599 {
		errs.Add("refreshExpiredStatus", "must be an HTTP status code", c.RefreshExpiredStatus)
	}
	if c.DefaultRefreshLifetime <= 0 {
		errs.Add("defaultRefreshLifetime", "must be positive", c.DefaultRefreshLifetime)
	}

	if c.Lease.TTL <= 0 {
		errs.Add("lease.ttl", "must be positive", c.Lease.TTL)
	}
	if c.Lease.AcquireWait < 0 {
		errs.Add("lease.acquireWait", "must not be negative", c.Lease.AcquireWait)
	}
	if c.HTTP.Timeout < 0 {
		errs.Add("http.timeout", "must not be negative", c.HTTP.Timeout)
	}
	if c.HTTP.RefreshTimeout <= 0 {
		errs.Add("http.refreshTimeout", "must be positive", c.HTTP.RefreshTimeout)
	}

	if c.StorageScope == StorageScopeShared {
		c.Storage.validate(&errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (s StorageConfig) validate(errs *ValidationErrors) {
	err := ValidateOneOf("storage.backend", string(s.Backend), []string{
		string(StorageBackendFile),
		string(StorageBackendRedis),
		string(StorageBackendKubernetes),
	})
	if err != nil {
		*errs = append(*errs, err.(ValidationError))
		return
	}

	switch s.Backend {
	case StorageBackendRedis:
		if strings.TrimSpace(s.Redis.Addr) == "" {
			errs.Add("storage.redis.addr", "is required for the redis backend")
		}
	case StorageBackendKubernetes:
		if !dnsLabel.MatchString(s.Kubernetes.Namespace) {
			errs.Add("storage.kubernetes.namespace", "must be a valid Kubernetes namespace", s.Kubernetes.Namespace)
		}
		if !dnsLabel.MatchString(s.Kubernetes.SecretName) {
			errs.Add("storage.kubernetes.secretName", "must be a valid Kubernetes object name", s.Kubernetes.SecretName)
		}
	}
}
