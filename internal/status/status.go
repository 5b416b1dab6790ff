// Package status implements the supervisor's optional, read-only, loopback
// HTTP surface: a supplemented feature (not in the original C program) for
// observing tunnel health without grepping log files.
package status

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/alexmarkley/sshtunnels/internal/http/middleware"
	"github.com/alexmarkley/sshtunnels/internal/tunnel"
)

// TunnelLister is the read-only view of supervised tunnels the status
// surface needs; internal/supervisor.Context satisfies it. Snapshot is the
// once-per-tick published view used for /api/tunnels; TunnelByID is used
// only to reach RecentLogs, which is safe to call cross-goroutine on its
// own.
type TunnelLister interface {
	TunnelByID(id int) (*tunnel.Tunnel, bool)
	Snapshot() []tunnel.Snapshot
}

// Server is the loopback-only status HTTP server.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// New builds a Server bound to 127.0.0.1:port. It is never exposed beyond
// loopback: there is no TLS, auth, or remote-address configuration — this
// is strictly a local operator convenience.
func New(log *zap.Logger, lister TunnelLister, port int) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"http://127.0.0.1"},
		AllowMethods: []string{"GET"},
	}))
	router.Use(secure.New(secure.Config{
		IsDevelopment:      false,
		FrameDeny:          true,
		ContentTypeNosniff: true,
	}))

	router.GET("/api/tunnels", func(c *gin.Context) {
		snaps := lister.Snapshot()
		out := make([]gin.H, 0, len(snaps))
		for _, s := range snaps {
			out = append(out, gin.H{
				"id":                  s.ID,
				"pid":                 s.PID,
				"trouble":             s.Trouble,
				"condemned":           s.Condemned,
				"relaunch_not_before": s.RelaunchNotBefore,
				"heartbeat":           s.Heartbeat,
			})
		}
		c.JSON(http.StatusOK, gin.H{"tunnels": out})
	})

	router.GET("/api/tunnels/:id/logs", func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tunnel id"})
			return
		}
		t, ok := lister.TunnelByID(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such tunnel"})
			return
		}
		lines := 0
		if raw := c.Query("lines"); raw != "" {
			lines, _ = strconv.Atoi(raw)
		}
		c.JSON(http.StatusOK, gin.H{"id": t.ID(), "lines": t.RecentLogs(lines)})
	})

	return &Server{
		log: log.Named("status"),
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", port),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ErrorLog:          zap.NewStdLog(log.Named("status").WithOptions(zap.AddCallerSkip(1))),
		},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("running status HTTP server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
