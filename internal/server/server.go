package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"treesync/internal/migrate"
	"treesync/internal/models"
	"treesync/internal/repair"
)

const (
	allowRemoteEnvKey        = "TREESYNC_ALLOW_REMOTE"
	readHeaderTimeout        = 5 * time.Second
	readTimeout              = 30 * time.Second
	idleTimeout              = 60 * time.Second
	shutdownTimeout          = 30 * time.Second
	runConcurrencyLimit      = 1
	manifestConcurrencyLimit = 4
	authMaxFailures          = 10
	authFailureWindow        = time.Minute
	authBlockedFor           = 5 * time.Minute
)

// Migrator plans and runs migrations.
type Migrator interface {
	Plan(ctx context.Context, scope models.Scope) (*migrate.Plan, error)
	Migrate(ctx context.Context, scope models.Scope) (*migrate.Report, error)
}

// Verifier checks a migrated scope and repairs what diverged.
type Verifier interface {
	VerifyAndRepair(ctx context.Context, scope models.Scope, opts repair.Options) (*repair.Result, error)
}

// Server wraps HTTP handlers for the treesync API.
type Server struct {
	addr            string
	migrator        Migrator
	verifier        Verifier
	logger          *slog.Logger
	apiTokenHash    string
	authLimiter     *authFailureLimiter
	runLimiter      chan struct{}
	manifestLimiter chan struct{}
}

// New creates a new server instance. An empty apiTokenHash disables auth.
func New(addr string, migrator Migrator, verifier Verifier, apiTokenHash string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		addr:            addr,
		migrator:        migrator,
		verifier:        verifier,
		logger:          logger,
		apiTokenHash:    strings.TrimSpace(apiTokenHash),
		authLimiter:     newAuthFailureLimiter(authMaxFailures, authFailureWindow, authBlockedFor),
		runLimiter:      make(chan struct{}, runConcurrencyLimit),
		manifestLimiter: make(chan struct{}, manifestConcurrencyLimit),
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.withRequestLogging(s.withAuth(s.routes()))
}

// ListenAndServe starts the HTTP server and shuts it down when ctx is done.
// Runs in flight get shutdownTimeout to finish.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.log().Info("starting server", "addr", s.addr, "auth", s.apiTokenHash != "")
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAddr converts a base API URL into a listen address.
func ListenAddr(apiURL string) (string, error) {
	if apiURL == "" {
		return "", fmt.Errorf("api url is required")
	}
	if u, err := url.Parse(apiURL); err == nil && u.Host != "" {
		host := u.Hostname()
		if !isAllowedListenHost(host) {
			return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
		}
		return u.Host, nil
	}

	host, _, err := net.SplitHostPort(apiURL)
	if err == nil && !isAllowedListenHost(host) {
		return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
	}

	return apiURL, nil
}

func isAllowedListenHost(host string) bool {
	if host == "" {
		return true
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv(allowRemoteEnvKey)), "true") {
		return true
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) acquireLimiter(limiter chan struct{}, w http.ResponseWriter, r *http.Request, name string) bool {
	if limiter == nil {
		return true
	}
	select {
	case limiter <- struct{}{}:
		return true
	default:
		err := apiError{
			status:  http.StatusTooManyRequests,
			code:    "resource_exhausted",
			errCode: ErrCodeResourceExhausted,
			err:     fmt.Errorf("a %s run is already in progress", name),
		}
		s.writeErrorReq(w, r, http.StatusTooManyRequests, err)
		return false
	}
}

func (s *Server) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

func (s *Server) releaseLimiter(limiter chan struct{}) {
	if limiter == nil {
		return
	}
	select {
	case <-limiter:
	default:
	}
}
