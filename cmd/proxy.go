package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"jwtauth/internal/session"
	"jwtauth/pkg/logging"

	"github.com/spf13/cobra"
)

var (
	proxyListen   string
	proxyUpstream string
)

// proxyShutdownTimeout bounds how long in-flight requests may finish after
// a termination signal.
const proxyShutdownTimeout = 10 * time.Second

func newProxyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Serve a local proxy that authorizes requests to an upstream",
		Long: `Starts a reverse proxy that forwards every request to --upstream with
the stored access token attached. Rejected requests are retried once after a
coordinated refresh, so tools without token handling can talk to a protected
API through it.`,
		Example: `  jwtauth proxy --upstream https://api.example.com --listen 127.0.0.1:8099`,
		Args:    cobra.NoArgs,
		RunE:    runProxy,
	}
	cmd.Flags().StringVar(&proxyListen, "listen", "127.0.0.1:8099", "Address to listen on")
	cmd.Flags().StringVar(&proxyUpstream, "upstream", "", "Base URL requests are forwarded to")
	_ = cmd.MarkFlagRequired("upstream")
	return cmd
}

func runProxy(cmd *cobra.Command, args []string) error {
	upstream, err := url.Parse(proxyUpstream)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return fmt.Errorf("--upstream must be an absolute URL, got %q", proxyUpstream)
	}

	svc, err := openSession(cmd, false)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", proxyListen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", proxyListen, err)
	}

	printf(cmd, "Proxying http://%s to %s\n", listener.Addr(), upstream.Redacted())
	return serveProxy(ctx, listener, newProxy(svc, upstream))
}

// newProxy returns a reverse proxy to upstream whose outgoing requests are
// authorized by svc.
func newProxy(svc *session.Service, upstream *url.URL) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(upstream)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = upstream.Host
		// The session token replaces whatever the local client sent.
		req.Header.Del("Authorization")
	}
	proxy.Transport = svc.Transport(nil)
	proxy.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		logging.Warn("Proxy", "Request to %s failed: %v", req.URL.Redacted(), err)
		w.WriteHeader(http.StatusBadGateway)
	}
	return proxy
}

// serveProxy serves handler on listener until ctx is done.
func serveProxy(ctx context.Context, listener net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.Info("Proxy", "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), proxyShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down proxy: %w", err)
	}
	return nil
}

// splitHeader parses a "Name: value" header argument.
func splitHeader(h string) (string, string, error) {
	name, value, ok := strings.Cut(h, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", "", fmt.Errorf("invalid header %q, expected \"Name: value\"", h)
	}
	return name, strings.TrimSpace(value), nil
}
