package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MonocleCam/MonocleGateway/internal/camera"
	"github.com/MonocleCam/MonocleGateway/internal/control"
	"github.com/MonocleCam/MonocleGateway/internal/remote"
	"github.com/MonocleCam/MonocleGateway/internal/types"
)

// HealthStatus is the payload served on GET /health.
type HealthStatus struct {
	Status    string  `json:"status"`
	UptimeS   float64 `json:"uptime_s"`
	Remote    bool    `json:"remote_connected"`
	Camera    bool    `json:"camera_initialized"`
	Timestamp string  `json:"timestamp"`
}

// StatusReport is the payload served on GET /api/status.
type StatusReport struct {
	Health  HealthStatus       `json:"health"`
	Source  *types.CameraState `json:"source,omitempty"`
	Remote  remote.Stats       `json:"remote"`
	Camera  camera.Stats       `json:"camera"`
	Control control.Stats      `json:"control"`
}

// HealthCheck reports overall gateway health. The gateway is healthy when
// the control plane session is up; a camera that is absent or degraded only
// marks it as such, since that is driven by the remote side.
func (g *Gateway) HealthCheck() HealthStatus {
	g.mu.RLock()
	started := g.started
	g.mu.RUnlock()

	st := HealthStatus{
		Remote:    g.remote.Connected(),
		Camera:    g.session.Stats().Initialized,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if !started.IsZero() {
		st.UptimeS = time.Since(started).Seconds()
	}

	switch {
	case st.Remote && st.Camera:
		st.Status = "healthy"
	case st.Remote:
		st.Status = "idle"
	default:
		st.Status = "degraded"
	}
	return st
}

// statusReport gathers per-component counters for the status endpoint.
func (g *Gateway) statusReport() StatusReport {
	report := StatusReport{
		Health:  g.HealthCheck(),
		Remote:  g.remote.Stats(),
		Camera:  g.session.Stats(),
		Control: g.control.Stats(),
	}
	if state, ok := g.session.State(); ok {
		report.Source = &state
	}
	return report
}

// StartWebServer serves the health and status endpoints on the given port.
func (g *Gateway) StartWebServer(ctx context.Context, port int) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		st := g.HealthCheck()
		code := http.StatusOK
		if st.Status == "degraded" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, st)
	})

	router.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, g.statusReport())
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	g.mu.Lock()
	g.web = srv
	g.mu.Unlock()

	go func() {
		slog.Info("web server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("web server failed", "error", err)
		}
	}()
	return nil
}

func (g *Gateway) stopWebServer(ctx context.Context) {
	g.mu.Lock()
	srv := g.web
	g.web = nil
	g.mu.Unlock()

	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("web server shutdown failed", "error", err)
	}
}
