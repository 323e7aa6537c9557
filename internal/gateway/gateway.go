// ABOUTME: Gateway orchestrator that wires the store, services and HTTP server
// ABOUTME: Manages the listener (TCP or tailnet), live channels, and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/Sahil-Karanje/chat-backend/internal/auth"
	"github.com/Sahil-Karanje/chat-backend/internal/config"
	"github.com/Sahil-Karanje/chat-backend/internal/conversation"
	"github.com/Sahil-Karanje/chat-backend/internal/dedupe"
	"github.com/Sahil-Karanje/chat-backend/internal/presence"
	"github.com/Sahil-Karanje/chat-backend/internal/store"
)

// Gateway orchestrates the chat-backend server components.
type Gateway struct {
	config       *config.Config
	store        store.Store
	auth         *auth.Service
	conversation *conversation.Service
	presence     *presence.Registry
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	upgrader     websocket.Upgrader
	cookies      auth.CookieConfig
	logger       *slog.Logger

	// dedupe drops resent live-channel frames carrying a known clientMessageId
	dedupe *dedupe.Cache

	// sockets counts running websocket handlers; closing refuses new ones
	sockets   sync.WaitGroup
	socketsMu sync.Mutex
	closing   bool
}

// OpenStore opens the store selected by database.driver. CHAT_DB_PATH overrides the sqlite path.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		s, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	default:
		dbPath := cfg.Database.Path
		if envPath := os.Getenv("CHAT_DB_PATH"); envPath != "" {
			dbPath = envPath
		}
		s, err := store.NewSQLiteStore(dbPath)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	}
}

// New creates a gateway from configuration, opening the store.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	gw, err := NewWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithStore creates a gateway around an already opened store.
// The gateway takes ownership of s and closes it on Shutdown.
func NewWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  []byte(cfg.Auth.JWTSecret),
		RefreshSecret: []byte(cfg.Auth.JWTRefreshSecret),
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshTTL:    cfg.Auth.RefreshTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating token issuer: %w", err)
	}

	gw := &Gateway{
		config:       cfg,
		store:        s,
		auth:         auth.NewService(s, tokens, logger),
		conversation: conversation.New(s, logger),
		presence:     presence.NewRegistry(logger),
		dedupe:       dedupe.New(cfg.Realtime.DedupeTTL, dedupe.DefaultMaxSize),
		cookies: auth.CookieConfig{
			Secure:     cfg.Auth.SecureCookies,
			AccessTTL:  tokens.AccessTTL(),
			RefreshTTL: tokens.RefreshTTL(),
		},
		logger: logger.With("component", "gateway"),
	}
	gw.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     gw.checkOrigin,
	}

	mux := http.NewServeMux()
	gw.registerRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.recoverMiddleware(gw.corsMiddleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerRoutes mounts every HTTP and websocket endpoint on mux.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	requireAuth := auth.HTTPAuthMiddleware(g.auth)
	requireAdmin := auth.RequireAdminHTTP()
	protected := func(h http.HandlerFunc) http.Handler { return requireAuth(h) }
	adminOnly := func(h http.HandlerFunc) http.Handler { return requireAuth(requireAdmin(h)) }

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	mux.HandleFunc("POST /api/auth/register", g.handleRegister)
	mux.HandleFunc("POST /api/auth/login", g.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", g.handleRefresh)
	mux.Handle("POST /api/auth/logout", protected(g.handleLogout))
	mux.Handle("GET /api/auth/me", protected(g.handleMe))

	mux.Handle("POST /api/message/send", protected(g.handleSendMessage))
	mux.Handle("GET /api/message/conversations", protected(g.handleListConversations))
	mux.Handle("GET /api/message/messages/{conversationId}", protected(g.handleGetMessages))
	mux.Handle("POST /api/message/read/{conversationId}", protected(g.handleMarkRead))
	mux.Handle("DELETE /api/message/{messageId}", protected(g.handleHideMessage))

	mux.Handle("GET /api/users/search", protected(g.handleSearchUsers))

	mux.Handle("POST /api/admin/users/{id}/deactivate", adminOnly(g.handleDeactivateUser))

	mux.HandleFunc("GET /ws", g.handleWebSocket)
}

// Handler returns the root HTTP handler, for embedding in tests or other servers.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Presence exposes the registry of live channels.
func (g *Gateway) Presence() *presence.Registry {
	return g.presence
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer starts the HTTP server in a goroutine, returning the error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The original context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "chat-backend", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and listens on its port 80.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the server and releases resources.
// Websocket handlers are drained, bounded by ctx, before the store is closed.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// hijacked websocket connections are not tracked by http.Server
	g.socketsMu.Lock()
	g.closing = true
	g.socketsMu.Unlock()
	g.presence.Close()
	errs = appendCloseError(errs, "websocket drain", g.waitForSockets(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	g.dedupe.Close()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// trackSocket counts a websocket handler in. It returns false once Shutdown has begun.
func (g *Gateway) trackSocket() bool {
	g.socketsMu.Lock()
	defer g.socketsMu.Unlock()
	if g.closing {
		return false
	}
	g.sockets.Add(1)
	return true
}

func (g *Gateway) isClosing() bool {
	g.socketsMu.Lock()
	defer g.socketsMu.Unlock()
	return g.closing
}

// waitForSockets blocks until every tracked websocket handler has returned or ctx is done.
func (g *Gateway) waitForSockets(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.sockets.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 when the store answers, with the number of online users.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d online)", g.presence.Count())
}
