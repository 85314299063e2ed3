// Package health exposes the liveness endpoint hosting platforms probe
// and, optionally, pings an external URL so free-tier hosts do not idle
// the process out.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	logx "remindbot/pkg/logx"
)

type Config struct {
	// Addr is the listen address for the liveness endpoint.
	Addr string
	// PingURL, when set, is fetched every PingInterval to keep the
	// instance warm. Empty disables self-ping.
	PingURL      string
	PingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8000"
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 5 * time.Minute
	}
	return c
}

type Server struct {
	cfg    Config
	log    logx.Logger
	srv    *http.Server
	client *http.Client
}

func New(cfg Config, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		cfg:    cfg.withDefaults(),
		log:    log,
		client: &http.Client{Timeout: 20 * time.Second},
	}
}

// Start binds the listener and serves in the background until Stop.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/healthz", s.handleRoot)

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("health listen %s: %w", s.cfg.Addr, err)
	}

	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("health server stopped", logx.Err(err))
		}
	}()
	s.log.Info("health endpoint up", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		io.WriteString(w, "OK")
	}
}

// Stop shuts the listener down, waiting for in-flight probes.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// RunPinger fetches PingURL on a ticker until ctx is done. No-op when
// PingURL is empty.
func (s *Server) RunPinger(ctx context.Context) error {
	if s.cfg.PingURL == "" {
		return nil
	}
	t := time.NewTicker(s.cfg.PingInterval)
	defer t.Stop()

	s.log.Info("self-ping loop started",
		logx.String("url", s.cfg.PingURL),
		logx.Duration("interval", s.cfg.PingInterval))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.pingOnce(ctx)
		}
	}
}

func (s *Server) pingOnce(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.PingURL, nil)
	if err != nil {
		s.log.Warn("self-ping request build failed", logx.Err(err))
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("self-ping failed", logx.Err(err))
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	s.log.Debug("self-ping ok", logx.Int("status", resp.StatusCode))
}
