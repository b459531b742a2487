package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jwtauth/internal/config"
	"jwtauth/internal/session"
	"jwtauth/pkg/oauth"
)

// tokenServer issues access-N tokens and serves /whoami to the latest one.
type tokenServer struct {
	*httptest.Server

	mu      sync.Mutex
	issued  int
	current string
	subject string
}

func newTokenServer(t *testing.T) *tokenServer {
	s := &tokenServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid credentials"}`))
			return
		}
		s.issue(w, req["username"])
	})
	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Subject string `json:"subject"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.issue(w, req.Subject)
	})
	mux.HandleFunc("/whoami", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		current, subject := s.current, s.subject
		s.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+current {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = fmt.Fprintf(w, "%s via %s", subject, r.URL.Path)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *tokenServer) issue(w http.ResponseWriter, subject string) {
	s.mu.Lock()
	s.issued++
	s.current = fmt.Sprintf("access-%d", s.issued)
	s.subject = subject
	access := s.current
	s.mu.Unlock()

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"subject":               subject,
		"accessToken":           access,
		"expiresIn":             60,
		"refreshToken":          "refresh-" + access,
		"refreshTokenExpiresIn": 3600,
	})
}

// revoke makes the resource reject the current access token.
func (s *tokenServer) revoke() {
	s.mu.Lock()
	s.current = "revoked"
	s.mu.Unlock()
}

// writeConfig writes a config.yaml using the file backend under a fresh
// temporary directory and returns the config directory.
func writeConfig(t *testing.T, srv *tokenServer) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`tokenUrl: %s/token
refreshUrl: %s/refresh
storage:
  backend: file
  dir: %s
`, srv.URL, srv.URL, filepath.Join(dir, "store"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))
	return dir
}

// resetFlags clears flag state left over from an earlier execution.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Value.Type() != "stringArray" {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// runCLI executes the root command with args against configDir and returns
// its standard output.
func runCLI(t *testing.T, configDir string, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	getHeaders = nil

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--config-path", configDir, "--log-level", "silent"}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_LoginStatusLogout(t *testing.T) {
	srv := newTokenServer(t)
	dir := writeConfig(t, srv)

	out, err := runCLI(t, dir, "", "status", "-o", "json")
	require.ErrorIs(t, err, oauth.ErrLoggedOut)
	assert.Equal(t, ExitCodeAuthRequired, getExitCode(err))
	assert.Contains(t, out, `"loggedIn": false`)

	out, err = runCLI(t, dir, "secret\n", "login", "--username", "alice", "--password", "-", "-q")
	require.NoError(t, err)
	assert.Empty(t, out, "quiet mode prints nothing")

	out, err = runCLI(t, dir, "", "status", "-o", "json")
	require.NoError(t, err)
	var st sessionStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.LoggedIn)
	assert.Equal(t, "alice", st.Subject)
	assert.False(t, st.AccessExpired)
	assert.Equal(t, "Idle", st.RefreshState)

	out, err = runCLI(t, dir, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "Logged in")

	out, err = runCLI(t, dir, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")

	_, err = runCLI(t, dir, "", "status", "-o", "json")
	require.ErrorIs(t, err, oauth.ErrLoggedOut)
}

func TestCLI_LoginRejected(t *testing.T) {
	srv := newTokenServer(t)
	dir := writeConfig(t, srv)

	_, err := runCLI(t, dir, "", "login", "-u", "alice", "-p", "wrong", "-q")
	require.Error(t, err)
	assert.Equal(t, ExitCodeAuthFailed, getExitCode(err))

	var backendErr *oauth.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "invalid credentials", backendErr.Message)
}

func TestCLI_LoginFromRequestFile(t *testing.T) {
	srv := newTokenServer(t)
	dir := writeConfig(t, srv)

	requestFile := filepath.Join(t.TempDir(), "login.json")
	require.NoError(t, os.WriteFile(requestFile, []byte(`{"username":"bob","password":"secret"}`), 0o600))

	out, err := runCLI(t, dir, "", "login", "--request-file", requestFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as bob")

	require.NoError(t, os.WriteFile(requestFile, []byte(`{not json`), 0o600))
	_, err = runCLI(t, dir, "", "login", "--request-file", requestFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestCLI_GetRefreshesRejectedToken(t *testing.T) {
	srv := newTokenServer(t)
	dir := writeConfig(t, srv)

	_, err := runCLI(t, dir, "", "login", "-u", "alice", "-p", "secret", "-q")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "", "get", srv.URL+"/whoami")
	require.NoError(t, err)
	assert.Equal(t, "alice via /whoami", out)

	srv.revoke()
	_, err = runCLI(t, dir, "", "get", srv.URL+"/whoami")
	require.NoError(t, err, "a rejected token is refreshed and the request retried")

	out, err = runCLI(t, dir, "", "status", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"loggedIn": true`)
}

func TestCLI_GetWithoutSession(t *testing.T) {
	srv := newTokenServer(t)
	dir := writeConfig(t, srv)

	_, err := runCLI(t, dir, "", "get", srv.URL+"/whoami")
	require.ErrorIs(t, err, oauth.ErrLoggedOut)
}

func TestCLI_Refresh(t *testing.T) {
	srv := newTokenServer(t)
	dir := writeConfig(t, srv)

	_, err := runCLI(t, dir, "", "refresh", "-q")
	require.ErrorIs(t, err, oauth.ErrLoggedOut)

	_, err = runCLI(t, dir, "", "login", "-u", "alice", "-p", "secret", "-q")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "", "refresh", "-q")
	require.NoError(t, err)
	assert.Empty(t, out)

	srv.mu.Lock()
	issued := srv.issued
	srv.mu.Unlock()
	assert.Equal(t, 2, issued)
}

func TestProxy_AuthorizesUpstreamRequests(t *testing.T) {
	srv := newTokenServer(t)

	cfg := config.GetDefaultConfig()
	cfg.TokenURL = srv.URL + "/token"
	cfg.RefreshURL = srv.URL + "/refresh"
	backend := session.NewMemoryBackend()
	defer backend.Close()

	svc, err := session.New(context.Background(), cfg, session.WithBackend(backend))
	require.NoError(t, err)
	defer svc.Close()
	_, err = svc.Login(context.Background(), map[string]string{"username": "carol", "password": "secret"})
	require.NoError(t, err)

	upstream, err := url.Parse(srv.URL)
	require.NoError(t, err)
	proxy := httptest.NewServer(newProxy(svc, upstream))
	defer proxy.Close()

	req, err := http.NewRequest(http.MethodGet, proxy.URL+"/whoami", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer client-supplied")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "carol via /whoami", string(body))
}
