package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/grpc"

	"jwtauth/internal/client"
	"jwtauth/internal/config"
	"jwtauth/internal/refresh"
	"jwtauth/internal/tokenstore"
	"jwtauth/pkg/logging"
	"jwtauth/pkg/oauth"
)

// Option configures a Service.
type Option func(*options)

type options struct {
	backend    *Backend
	httpClient *http.Client
	now        func() time.Time
}

// WithBackend makes the Service use b instead of building a backend from
// the configuration. The Service does not close b.
func WithBackend(b *Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithHTTPClient sets the client used to reach the token and refresh
// endpoints.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithClock sets the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Service is the authentication session of one context. It owns the
// credential store, the token endpoint client and the refresh coordinator,
// and hands out decorated HTTP and gRPC clients.
type Service struct {
	cfg         config.Config
	backend     *Backend
	ownsBackend bool

	store       *tokenstore.Store
	tokens      *oauth.Client
	coordinator *refresh.Coordinator
	now         func() time.Time
}

// New builds a Service from cfg. Unless cfg.ManualInitialization is set,
// the persisted credential is validated (and refreshed if needed) before
// New returns; a failure of that step is logged and leaves the session
// logged out.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Service, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{cfg: cfg, backend: o.backend, now: o.now}
	if s.backend == nil {
		backend, err := NewBackend(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage backend: %w", err)
		}
		s.backend = backend
		s.ownsBackend = true
	}

	store, err := tokenstore.New(ctx, s.backend.Medium, cfg.TokenKey())
	if err != nil {
		s.closeBackend()
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	s.store = store

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTP.Timeout}
	}
	s.tokens = oauth.NewClient(
		oauth.WithHTTPClient(httpClient),
		oauth.WithLogger(logging.Logger()),
		oauth.WithTokenURL(cfg.TokenURL),
		oauth.WithRefreshURL(cfg.RefreshURL),
		oauth.WithRefreshExpiredStatus(cfg.RefreshExpiredStatus),
		oauth.WithDefaultRefreshLifetime(cfg.DefaultRefreshLifetime),
		oauth.WithClock(o.now),
	)

	s.coordinator = refresh.New(store, s.backend.Locker, s.backend.Medium, s.tokens, cfg.RefreshingKey(),
		refresh.WithLeaseTTL(cfg.Lease.TTL),
		refresh.WithAcquireWait(cfg.Lease.AcquireWait),
		refresh.WithRefreshTimeout(cfg.HTTP.RefreshTimeout),
		refresh.WithClock(o.now),
	)

	if !cfg.ManualInitialization {
		if err := s.Init(ctx); err != nil {
			logging.Warn("Session", "Startup validation of the stored credential failed: %v", err)
		}
	}
	return s, nil
}

// Init validates the persisted credential: it is kept while the access
// token is valid, refreshed when only the refresh token is, and cleared
// otherwise. A failed refresh leaves the session logged out and is returned.
func (s *Service) Init(ctx context.Context) error {
	cred := s.store.Get()
	now := s.now()

	switch {
	case cred == nil:
		logging.Debug("Session", "No stored credential")
		return s.Logout(ctx)
	case !oauth.IsAccessExpired(cred, now):
		logging.Info("Session", "Restored session for subject=%s", cred.Subject)
		return nil
	case !oauth.IsRefreshExpired(cred, now):
		logging.Info("Session", "Access token of subject=%s expired, refreshing", cred.Subject)
		if _, err := s.coordinator.Refresh(ctx); err != nil {
			if lerr := s.Logout(ctx); lerr != nil {
				logging.Warn("Session", "Failed to clear credential: %v", lerr)
			}
			return err
		}
		return nil
	default:
		logging.Info("Session", "Stored credential of subject=%s expired", cred.Subject)
		return s.Logout(ctx)
	}
}

// Login sends request to the token endpoint and stores the issued
// credential. On failure the session is logged out and the
// *oauth.BackendError is returned.
func (s *Service) Login(ctx context.Context, request interface{}) (*oauth.Credential, error) {
	cred, err := s.tokens.Issue(ctx, request)
	if err != nil {
		if lerr := s.Logout(ctx); lerr != nil {
			logging.Warn("Session", "Failed to clear credential: %v", lerr)
		}
		return nil, err
	}

	if err := s.store.Set(ctx, cred); err != nil {
		return nil, err
	}
	logging.Info("Session", "Logged in as subject=%s", cred.Subject)
	return cred.Clone(), nil
}

// Logout clears the credential in every context sharing the backend.
func (s *Service) Logout(ctx context.Context) error {
	return s.store.Clear(ctx)
}

// Refresh obtains a new credential through the refresh coordinator.
func (s *Service) Refresh(ctx context.Context) (*oauth.Credential, error) {
	return s.coordinator.Refresh(ctx)
}

// Credential returns a copy of the current credential, nil when logged out.
func (s *Service) Credential() *oauth.Credential {
	return s.store.Get()
}

// IsLoggedIn reports whether a credential is held.
func (s *Service) IsLoggedIn() bool {
	return s.store.LoggedIn()
}

// IsAccessExpired reports whether the access token is expired, or absent.
func (s *Service) IsAccessExpired() bool {
	return oauth.IsAccessExpired(s.store.Get(), s.now())
}

// IsRefreshExpired reports whether the refresh token is expired, or absent.
func (s *Service) IsRefreshExpired() bool {
	return oauth.IsRefreshExpired(s.store.Get(), s.now())
}

// Subscribe registers fn for credential changes, local or from other
// contexts, and returns a function that unregisters it.
func (s *Service) Subscribe(fn tokenstore.Listener) func() {
	return s.store.Subscribe(fn)
}

// State returns the refresh coordination state.
func (s *Service) State() refresh.State {
	return s.coordinator.State()
}

// CanActivate reports whether a protected operation may proceed: the
// session must hold a credential with a live refresh token, and an expired
// access token is refreshed first.
func (s *Service) CanActivate(ctx context.Context) bool {
	cred := s.store.Get()
	now := s.now()

	if cred == nil || oauth.IsRefreshExpired(cred, now) {
		return false
	}
	if !oauth.IsAccessExpired(cred, now) {
		return true
	}

	if _, err := s.coordinator.Refresh(ctx); err != nil {
		logging.Info("Session", "Refresh before activation failed: %v", err)
		return false
	}
	return true
}

// TokenURL returns the token endpoint.
func (s *Service) TokenURL() string {
	return s.tokens.TokenURL()
}

// RefreshURL returns the refresh endpoint.
func (s *Service) RefreshURL() string {
	return s.tokens.RefreshURL()
}

// SetTokenURL changes the token endpoint.
func (s *Service) SetTokenURL(u string) {
	s.tokens.SetTokenURL(u)
}

// SetRefreshURL changes the refresh endpoint.
func (s *Service) SetRefreshURL(u string) {
	s.tokens.SetRefreshURL(u)
}

// IsAuthenticationURL reports whether u is the token or refresh endpoint.
func (s *Service) IsAuthenticationURL(u string) bool {
	return s.tokens.IsAuthenticationURL(u)
}

// Transport returns an http.RoundTripper over base (http.DefaultTransport
// when nil) that authorizes requests with this session.
func (s *Service) Transport(base http.RoundTripper) http.RoundTripper {
	return client.NewTransport(s, base)
}

// HTTPClient returns an http.Client authorizing requests with this session.
func (s *Service) HTTPClient() *http.Client {
	return &http.Client{
		Transport: s.Transport(nil),
		Timeout:   s.cfg.HTTP.Timeout,
	}
}

// UnaryClientInterceptor returns a gRPC interceptor authorizing calls with
// this session.
func (s *Service) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return client.UnaryClientInterceptor(s)
}

// TokenSource returns an oauth2.TokenSource backed by this session.
// Expired access tokens are refreshed through the coordinator.
func (s *Service) TokenSource() oauth2.TokenSource {
	return &tokenSource{service: s}
}

type tokenSource struct {
	service *Service
}

// Token implements oauth2.TokenSource.
func (ts *tokenSource) Token() (*oauth2.Token, error) {
	s := ts.service
	cred := s.store.Get()
	if cred == nil {
		return nil, oauth.ErrLoggedOut
	}
	if !oauth.IsAccessExpired(cred, s.now()) {
		return cred.OAuth2Token(), nil
	}

	timeout := s.cfg.HTTP.RefreshTimeout
	if timeout <= 0 {
		timeout = refresh.DefaultRefreshTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	fresh, err := s.coordinator.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return fresh.OAuth2Token(), nil
}

// Close stops following other contexts and closes the backend if the
// Service created it.
func (s *Service) Close() error {
	return errors.Join(s.store.Close(), s.closeBackend())
}

func (s *Service) closeBackend() error {
	if !s.ownsBackend {
		return nil
	}
	return s.backend.Close()
}
