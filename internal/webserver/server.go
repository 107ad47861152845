package webserver

import (
	"context"
	"crypto/tls"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agusx1211/grotto/internal/config"
	"github.com/agusx1211/grotto/internal/daemon"
	"github.com/agusx1211/grotto/internal/debug"
	"github.com/agusx1211/grotto/internal/metrics"
)

//go:embed static
var staticFS embed.FS

// Options configures web server behavior.
type Options struct {
	Host      string
	Port      int
	TLSMode   string
	CertFile  string
	KeyFile   string
	AuthToken string
	// WebDir overrides the embedded UI assets when a file exists there.
	WebDir string
}

// Server exposes a daemon over HTTP and WebSocket.
type Server struct {
	daemon     *daemon.Daemon
	httpServer *http.Server
	port       int
	host       string
	tlsMode    string
	certFile   string
	keyFile    string
	authToken  string
	webDir     string
}

// New constructs a web server in front of d.
func New(d *daemon.Daemon, opts Options) *Server {
	return newServer(d, opts)
}

func newServer(d *daemon.Daemon, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = config.DefaultHost
	}

	port := opts.Port
	if port < 0 {
		port = config.DefaultPort
	}

	srv := &Server{
		daemon:    d,
		host:      host,
		port:      port,
		tlsMode:   strings.TrimSpace(opts.TLSMode),
		certFile:  strings.TrimSpace(opts.CertFile),
		keyFile:   strings.TrimSpace(opts.KeyFile),
		authToken: strings.TrimSpace(opts.AuthToken),
		webDir:    strings.TrimSpace(opts.WebDir),
	}

	mux := http.NewServeMux()
	srv.setupRoutes(mux)

	handler := corsMiddleware(logMiddleware(metricsMiddleware(authMiddleware(srv.authToken, mux))))
	srv.httpServer = &http.Server{
		Addr:              srv.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv
}

func (srv *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", srv.handleListSessions)
	mux.HandleFunc("POST /api/sessions", srv.handleRegisterSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", srv.handleUnregisterSession)
	mux.HandleFunc("GET /api/sessions/{id}/events", srv.handleSessionEvents)
	mux.HandleFunc("GET /api/sessions/{id}/snapshot", srv.handleSessionSnapshot)

	mux.HandleFunc("GET /ws/{id}", srv.handleSessionWebSocket)
	mux.HandleFunc("GET /ws/{id}/attach", srv.handleAttachWebSocket)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /", srv.handleFallback)
}

// Start starts the server in a background goroutine and returns immediately.
// A zero port binds an ephemeral one; Addr reports the result.
func (srv *Server) Start() error {
	if srv.httpServer == nil {
		return fmt.Errorf("webserver not initialized")
	}

	if srv.tlsMode != "" {
		cert, err := srv.loadCertificate()
		if err != nil {
			return err
		}
		srv.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	ln, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return err
	}

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		srv.port = tcpAddr.Port
		srv.httpServer.Addr = srv.Addr()
	}
	debug.LogKV("webserver", "listening", "addr", srv.Addr(), "scheme", srv.Scheme())

	go func() {
		var err error
		if srv.tlsMode != "" {
			err = srv.httpServer.ServeTLS(ln, "", "")
		} else {
			err = srv.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			debug.LogKV("webserver", "server stopped with error", "error", err)
		}
	}()

	return nil
}

func (srv *Server) loadCertificate() (tls.Certificate, error) {
	switch srv.tlsMode {
	case "self-signed":
		cert, err := generateSelfSignedCert(srv.host)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("generating self-signed certificate: %w", err)
		}
		return cert, nil
	case "custom":
		cert, err := tls.LoadX509KeyPair(srv.certFile, srv.keyFile)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("loading TLS certificate: %w", err)
		}
		return cert, nil
	default:
		return tls.Certificate{}, fmt.Errorf("unsupported TLS mode: %q", srv.tlsMode)
	}
}

// Shutdown gracefully stops the HTTP server. Open WebSocket streams are
// hijacked connections, so callers stop the daemon to end them.
func (srv *Server) Shutdown(ctx context.Context) error {
	if srv.httpServer == nil {
		return nil
	}
	return srv.httpServer.Shutdown(ctx)
}

// Addr returns the bound host:port address.
func (srv *Server) Addr() string {
	return net.JoinHostPort(srv.host, strconv.Itoa(srv.port))
}

// Port returns the bound port.
func (srv *Server) Port() int {
	return srv.port
}

// Scheme returns the URL scheme for the running server.
func (srv *Server) Scheme() string {
	if srv.tlsMode != "" {
		return "https"
	}
	return "http"
}

// URL returns the base URL clients should use.
func (srv *Server) URL() string {
	return srv.Scheme() + "://" + srv.Addr()
}
