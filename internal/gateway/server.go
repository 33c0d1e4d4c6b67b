// Package gateway exposes the USSD engine to carriers over HTTP, along with
// health and Prometheus endpoints.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/zulandar/signalbox/internal/i18n"
	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/session"
	"github.com/zulandar/signalbox/internal/ussd"
)

const (
	// DefaultPort is used when Opts.Port is unset.
	DefaultPort = 8080
	// shutdownTimeout bounds graceful shutdown.
	shutdownTimeout = 10 * time.Second
	// limiterIdle is how long a quiet phone number keeps its bucket.
	limiterIdle = 10 * time.Minute
)

// Handler runs one USSD request; *ussd.Engine implements it.
type Handler interface {
	HandleRequest(ctx context.Context, req ussd.Request) string
}

// Server is the carrier-facing HTTP server.
type Server struct {
	handler Handler
	cat     *i18n.Catalog
	code    string
	lang    string
	port    int
	limiter *phoneLimiter
	log     zerolog.Logger
	router  *gin.Engine
}

// Opts holds parameters for creating a Server.
type Opts struct {
	Handler Handler
	Catalog *i18n.Catalog
	// ServiceCode and Language shape the gateway's own END replies when
	// the carrier sends no service code.
	ServiceCode string
	Language    string // defaults to session.DefaultLang
	Port        int
	// RatePerMinute and Burst bound requests per phone number. Zero
	// RatePerMinute disables limiting.
	RatePerMinute int
	Burst         int
	Logger        zerolog.Logger
}

// New creates a Server with every route registered.
func New(opts Opts) (*Server, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("gateway: handler is required")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("gateway: catalog is required")
	}
	if opts.Port <= 0 {
		opts.Port = DefaultPort
	}

	if opts.Language == "" {
		opts.Language = session.DefaultLang
	}

	s := &Server{
		handler: opts.Handler,
		cat:     opts.Catalog,
		code:    opts.ServiceCode,
		lang:    opts.Language,
		port:    opts.Port,
		log:     opts.Logger,
	}
	if opts.RatePerMinute > 0 {
		s.limiter = newPhoneLimiter(opts.RatePerMinute, opts.Burst, limiterIdle)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.accessLog())
	registerRoutes(router, s)
	s.router = router
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.log.Warn().Err(err).Msg("gateway shutdown")
		}
	}()

	s.log.Info().Int("port", s.port).Msg("gateway listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway: %w", err)
	}
	<-done
	return nil
}

func registerRoutes(r *gin.Engine, s *Server) {
	r.POST("/ussd", s.handleUSSD)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// handleUSSD accepts the carrier's form-encoded callback and replies with
// plain CON/END text.
func (s *Server) handleUSSD(c *gin.Context) {
	req := ussd.Request{
		SessionID:   strings.TrimSpace(c.PostForm("sessionId")),
		Phone:       strings.TrimSpace(c.PostForm("phoneNumber")),
		Text:        c.PostForm("text"),
		ServiceCode: c.PostForm("serviceCode"),
	}
	if req.SessionID == "" || req.Phone == "" {
		metrics.ObserveRequest("bad_request", time.Now())
		c.String(http.StatusBadRequest, s.end("service_unavailable", req.ServiceCode))
		return
	}
	if s.limiter != nil && !s.limiter.Allow(req.Phone, time.Now()) {
		metrics.ObserveRequest("rate_limited", time.Now())
		s.log.Warn().Str("session_id", req.SessionID).Msg("rate limited")
		c.String(http.StatusOK, s.end("rate_limited", req.ServiceCode))
		return
	}
	c.String(http.StatusOK, s.handler.HandleRequest(c.Request.Context(), req))
}

func (s *Server) end(key, serviceCode string) string {
	if serviceCode == "" {
		serviceCode = s.code
	}
	return ussd.End(s.cat, s.cat.Translate(key, s.lang), s.lang, serviceCode)
}

// accessLog writes one structured entry per request.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ev := s.log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}
