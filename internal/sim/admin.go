package sim

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/clusterctl/internal/auth"
	"github.com/danmuck/clusterctl/internal/command"
	"github.com/danmuck/clusterctl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminRouter builds the admin HTTP API.
func (s *Server) AdminRouter() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.InitLogger("devicesim")))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"uptime":          s.clk.Now().Sub(s.appeared).String(),
			"device":          s.cfg.Name,
			"node_id":         command.FormatNodeID(s.device.NodeID()),
			"active_sessions": s.ActiveSessions(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	if token := strings.TrimSpace(s.cfg.AdminToken); token != "" {
		v1.Use(requireToken(auth.StaticToken{Token: token}))
	}
	v1.GET("/endpoints", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"endpoints": s.device.Snapshot()})
	})
	return r
}

func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok || v.Validate(token) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}

// ServeAdmin serves the admin API on ln until ctx is cancelled.
func (s *Server) ServeAdmin(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.AdminRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run serves sessions, plus the admin API when admin_addr is set, until ctx
// is cancelled or either listener fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	running := 1
	go func() { errs <- s.Serve(ctx, ln) }()

	if addr := s.cfg.AdminAddr; addr != "" {
		adminLn, err := net.Listen("tcp", addr)
		if err != nil {
			cancel()
			<-errs
			return err
		}
		running++
		go func() { errs <- s.ServeAdmin(ctx, adminLn) }()
	}

	var first error
	for i := 0; i < running; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
		cancel()
	}
	return first
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
