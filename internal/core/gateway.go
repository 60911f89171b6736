// Package core wires the gateway together: control-plane events drive camera
// session initialization, local controller intents drive camera commands, and
// every resulting state snapshot is broadcast back to the controllers.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MonocleCam/MonocleGateway/internal/camera"
	"github.com/MonocleCam/MonocleGateway/internal/config"
	"github.com/MonocleCam/MonocleGateway/internal/control"
	"github.com/MonocleCam/MonocleGateway/internal/onvif"
	"github.com/MonocleCam/MonocleGateway/internal/remote"
	"github.com/MonocleCam/MonocleGateway/internal/types"
)

// Gateway is the service orchestrator. It owns the camera session, the
// control-plane client and the local control server, and serializes all
// session work through a single action loop so at most one command runs at
// a time.
type Gateway struct {
	cfg *config.Config

	session *camera.Session
	remote  *remote.Client
	control *control.Server

	actions chan func(context.Context)

	mu        sync.RWMutex
	started   time.Time
	isRunning bool
	cancelCtx context.CancelFunc
	web       *http.Server

	wg sync.WaitGroup
}

type options struct {
	connector camera.Connector
}

// Option configures a Gateway.
type Option func(*options)

// WithConnector replaces the ONVIF device connector, e.g. with a fake in
// tests.
func WithConnector(c camera.Connector) Option {
	return func(o *options) { o.connector = c }
}

// NewGateway creates the gateway from configuration.
func NewGateway(cfg *config.Config, opts ...Option) *Gateway {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.connector == nil {
		o.connector = onvif.NewConnector(cfg.Camera.Username, cfg.Camera.Password, cfg.DeviceTimeout())
	}

	g := &Gateway{
		cfg:     cfg,
		actions: make(chan func(context.Context), 32),
	}

	g.session = camera.NewSession(o.connector)

	g.control = control.NewServer(cfg.PTZ.Port, control.Callbacks{
		OnIntent: g.handleIntent,
		OnError: func(err error) {
			slog.Warn("control protocol error", "error", err)
		},
	})

	g.remote = remote.NewClient(remote.Config{
		URL:               cfg.Remote.URL,
		Token:             cfg.Token,
		ReconnectInterval: cfg.ReconnectInterval(),
	}, remote.Callbacks{
		OnConnect: func() {
			g.remote.Subscribe(cfg.Remote.Subscriptions)
		},
		OnError: func(err error, authFailure bool) {
			if authFailure {
				slog.Error("control plane rejected the gateway token", "error", err)
				return
			}
			slog.Warn("control plane session error", "error", err)
		},
		OnClose: func(code int) {
			slog.Info("control plane session closed", "code", code)
		},
		OnReconnecting: func(interval time.Duration) {
			slog.Info("control plane reconnect pending", "interval", interval)
		},
	})

	for _, name := range cfg.Remote.Subscriptions {
		g.remote.Handle(name, g.handleSource)
	}
	g.remote.HandleDefault(func(name string, payload json.RawMessage) {
		slog.Debug("unhandled control plane event", "event", name)
	})

	return g
}

// Run starts every component and blocks until the context is cancelled.
// A control plane that cannot be reached at startup is not fatal: the
// session client keeps retrying on its own.
func (g *Gateway) Run(ctx context.Context) error {
	g.mu.Lock()
	if g.isRunning {
		g.mu.Unlock()
		return fmt.Errorf("gateway is already running")
	}
	g.isRunning = true
	g.started = time.Now()
	g.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	g.mu.Lock()
	g.cancelCtx = cancel
	g.mu.Unlock()
	defer cancel()

	slog.Info("monocle gateway starting",
		"remote_url", g.cfg.Remote.URL,
		"ptz_port", g.cfg.PTZ.Port,
	)

	if err := g.control.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control server: %w", err)
	}

	if port := g.cfg.WebPort(); port > 0 {
		if err := g.StartWebServer(ctx, port); err != nil {
			return fmt.Errorf("failed to start web server: %w", err)
		}
	}

	if err := g.remote.Start(ctx); err != nil {
		slog.Warn("initial control plane connection failed, retrying in background", "error", err)
	}

	g.wg.Add(2)
	go g.actionLoop(ctx)
	go g.eventLoop(ctx)

	<-ctx.Done()
	return nil
}

// actionLoop runs queued session work one item at a time.
func (g *Gateway) actionLoop(ctx context.Context) {
	defer g.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-g.actions:
			fn(ctx)
		}
	}
}

// eventLoop surfaces session notifications in the log, so failures reported
// asynchronously are visible without any controller polling.
func (g *Gateway) eventLoop(ctx context.Context) {
	defer g.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-g.session.Events():
			if ev.Type == camera.EventError {
				slog.Warn("camera notification", "event", "error", "error", ev.Err)
				continue
			}
			slog.Debug("camera notification",
				"event", ev.Type.String(),
				"token", ev.Token,
				"pan", ev.Pan,
				"tilt", ev.Tilt,
				"zoom", ev.Zoom,
			)
		}
	}
}

// enqueue schedules session work on the action loop. Work is dropped, with
// a log line, rather than blocking the caller when the queue is saturated.
func (g *Gateway) enqueue(fn func(context.Context)) {
	select {
	case g.actions <- fn:
	default:
		slog.Warn("action queue full, dropping work")
	}
}

// handleSource reacts to an active-source-changed event from the control
// plane: re-initialize the camera session with the new descriptor and
// publish the resulting state to every controller.
func (g *Gateway) handleSource(payload json.RawMessage) {
	var desc types.CameraDescriptor
	if err := json.Unmarshal(payload, &desc); err != nil {
		slog.Warn("discarding malformed source event", "error", err)
		return
	}
	if desc.ID == "" && desc.URI == "" {
		slog.Warn("discarding source event without camera identity")
		return
	}

	slog.Info("active source changed", "camera_id", desc.ID, "name", desc.Name)
	g.enqueue(func(ctx context.Context) {
		g.activateSource(ctx, desc)
	})
}

// activateSource runs one serialized source activation. A failed device
// connection still publishes a snapshot: the descriptor plus the failure
// text, built here because the session exposes nothing on failure.
func (g *Gateway) activateSource(ctx context.Context, desc types.CameraDescriptor) {
	state, err := g.session.Initialize(ctx, desc)
	if err != nil {
		if errors.Is(err, camera.ErrSuperseded) {
			return
		}
		state = types.DegradedCameraState(desc, err)
	}
	g.control.Publish(state)
}

// handleIntent maps a controller intent onto the matching session command.
func (g *Gateway) handleIntent(in control.Intent) {
	g.enqueue(func(ctx context.Context) {
		g.dispatchIntent(ctx, in)
	})
}

func (g *Gateway) dispatchIntent(ctx context.Context, in control.Intent) {
	var err error
	switch in.Kind {
	case control.IntentStop:
		err = g.session.Stop(ctx)
	case control.IntentHome:
		err = g.session.GotoHome(ctx)
	case control.IntentPreset:
		err = g.session.GotoPreset(ctx, in.Token)
	case control.IntentPTZ:
		err = g.session.PTZ(ctx, in.Pan, in.Tilt, in.Zoom)
	case control.IntentPan:
		err = g.session.Pan(ctx, in.Pan)
	case control.IntentTilt:
		err = g.session.Tilt(ctx, in.Tilt)
	case control.IntentZoom:
		err = g.session.Zoom(ctx, in.Zoom)
	default:
		slog.Warn("ignoring unknown intent", "kind", int(in.Kind))
		return
	}

	if err != nil {
		slog.Warn("controller command failed",
			"command", in.Kind.String(),
			"addr", in.Addr,
			"error", err,
		)
	}
}

// ShutdownTimeout returns the configured graceful shutdown budget.
func (g *Gateway) ShutdownTimeout() time.Duration {
	return g.cfg.ShutdownTimeout()
}

// Shutdown stops every component, deliberately closing the control plane
// session so no reconnect fires afterwards.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	cancel := g.cancelCtx
	running := g.isRunning
	g.isRunning = false
	g.mu.Unlock()

	if !running {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	g.remote.Stop()
	if err := g.control.Stop(); err != nil {
		slog.Warn("control server shutdown failed", "error", err)
	}
	if err := g.session.Close(); err != nil {
		slog.Warn("camera session close failed", "error", err)
	}
	g.stopWebServer(ctx)

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}
