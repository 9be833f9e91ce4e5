// Package httpapi is the HTTP transport: booking endpoints, health, metrics
// and token-guarded operator endpoints on one gin router.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"bookingsched/internal/booking"
	logx "bookingsched/pkg/logx"
)

// Config controls the HTTP server. Durations of 0 disable the timeout.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Token guards /api/status, /api/daily-check and /debug/pprof.
	Token string
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof       bool
	MetricsPath string
}

// Deps are the handlers' collaborators. Only Scheduler is required.
type Deps struct {
	Scheduler booking.Scheduler
	// DailyCheck queues the daily check now; false means it is not registered.
	DailyCheck func() bool
	// Status returns a JSON-serializable view of the running service.
	Status  func() any
	Metrics http.Handler
	Log     logx.Logger
}

type Server struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	handler http.Handler
	ln      net.Listener
	srv     *http.Server
}

func New(cfg Config, deps Deps) *Server {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	log := deps.Log.With(logx.String("comp", "http"))
	deps.Log = log
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.Pprof && cfg.Token == "" && !isLoopbackAddr(cfg.Addr) {
		log.Warn("pprof disabled: non-loopback addr requires a token", logx.String("addr", cfg.Addr))
		cfg.Pprof = false
	}
	return &Server{cfg: cfg, log: log, handler: NewRouter(cfg, deps)}
}

func (s *Server) Handler() http.Handler { return s.handler }

// Listen binds the configured address. Requests are accepted from this
// point and served once Serve runs.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr(), nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	return ln.Addr(), nil
}

// Serve serves until ctx is cancelled or Shutdown is called. It listens
// first when Listen has not been called.
func (s *Server) Serve(ctx context.Context) error {
	addr, err := s.Listen()
	if err != nil {
		return err
	}
	s.mu.Lock()
	srv, ln := s.srv, s.ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("http server started", logx.String("addr", addr.String()))
	err = srv.Serve(ln)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	s.log.Info("http server stopped")
	return err
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
