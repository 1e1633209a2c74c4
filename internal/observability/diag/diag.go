// Package diag serves an optional HTTP endpoint with liveness, JSON views of the timer
// scheduler and periodic jobs, and net/http/pprof profiles.
package diag

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"unibot/internal/runtime/supervisor"
	logx "unibot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

var ErrInsecureBind = errors.New("diag: non-loopback addr requires token or allow_insecure")

type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
}

// Views supply the JSON bodies of the /debug endpoints. A nil view answers 404.
type Views struct {
	Timers     func() any
	Tasks      func() any
	Goroutines func() any
}

type Service struct {
	cfg   Config
	views Views
	log   logx.Logger

	mu  sync.Mutex
	sup *supervisor.Supervisor
	srv *http.Server
}

func New(cfg Config, views Views, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	return &Service{cfg: cfg, views: views, log: log.With(logx.String("comp", "diag"))}
}

// Check reports whether the configured bind is allowed.
func (s *Service) Check() error {
	if s.cfg.Token == "" && !s.cfg.AllowInsecure && !isLoopbackAddr(s.cfg.Addr) {
		return errors.Wrapf(ErrInsecureBind, "%s", s.cfg.Addr)
	}
	return nil
}

// Start listens in the background; a failing server is restarted with backoff.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	if err := s.Check(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	// diagnostics never take the bot down
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(false))
	s.sup.GoRestart("http.serve", s.serveOnce,
		supervisor.WithPublishFirstError(true),
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup, s.srv = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	sup.Cancel()
	err := sup.Wait(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) serveOnce(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.cfg.Addr)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("diagnostics listening", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("diagnostics server exited unexpectedly")
	}
	return err
}

// Handler builds the gin engine. It is exported for tests.
func (s *Service) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.auth())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	debug := r.Group("/debug")
	view := func(fn func() any) gin.HandlerFunc {
		return func(c *gin.Context) {
			if fn == nil {
				c.Status(http.StatusNotFound)
				return
			}
			c.JSON(http.StatusOK, fn())
		}
	}
	debug.GET("/timers", view(s.views.Timers))
	debug.GET("/tasks", view(s.views.Tasks))
	debug.GET("/goroutines", view(s.views.Goroutines))

	prof := debug.Group("/pprof")
	prof.GET("/", gin.WrapF(hpprof.Index))
	prof.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
	prof.GET("/profile", gin.WrapF(hpprof.Profile))
	prof.GET("/symbol", gin.WrapF(hpprof.Symbol))
	prof.POST("/symbol", gin.WrapF(hpprof.Symbol))
	prof.GET("/trace", gin.WrapF(hpprof.Trace))
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		prof.GET("/"+name, gin.WrapH(hpprof.Handler(name)))
	}
	return r
}

// auth accepts "Authorization: Bearer <token>" or "?token=<token>".
func (s *Service) auth() gin.HandlerFunc {
	want := []byte(strings.TrimSpace(s.cfg.Token))
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		got := c.Query("token")
		if got == "" {
			got = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
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
