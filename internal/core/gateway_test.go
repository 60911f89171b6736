package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/MonocleCam/MonocleGateway/internal/camera"
	"github.com/MonocleCam/MonocleGateway/internal/config"
	"github.com/MonocleCam/MonocleGateway/internal/control"
	"github.com/MonocleCam/MonocleGateway/internal/types"
)

type fakeDevice struct {
	info    types.DeviceInfo
	ptz     bool
	presets []types.Preset

	calls []string
	moves []camera.Velocity
}

func (d *fakeDevice) Info() types.DeviceInfo { return d.info }
func (d *fakeDevice) PTZSupported() bool     { return d.ptz }

func (d *fakeDevice) Presets(ctx context.Context) ([]types.Preset, error) {
	return d.presets, nil
}

func (d *fakeDevice) ContinuousMove(ctx context.Context, v camera.Velocity, timeout time.Duration) error {
	d.calls = append(d.calls, "move")
	d.moves = append(d.moves, v)
	return nil
}

func (d *fakeDevice) GotoPreset(ctx context.Context, token string, speed camera.Velocity) error {
	d.calls = append(d.calls, "preset:"+token)
	return nil
}

func (d *fakeDevice) GotoHome(ctx context.Context) error {
	d.calls = append(d.calls, "home")
	return nil
}

func (d *fakeDevice) Stop(ctx context.Context) error {
	d.calls = append(d.calls, "stop")
	return nil
}

func (d *fakeDevice) Close() error { return nil }

func testConfig() *config.Config {
	cfg := &config.Config{Token: "test-token"}
	cfg.Remote.URL = "wss://example.invalid/gateway"
	cfg.Remote.ReconnectIntervalS = 30
	cfg.Remote.Subscriptions = []string{"alexa.source"}
	cfg.PTZ.Port = 0
	cfg.Camera.TimeoutS = 1
	return cfg
}

func newTestGateway(t *testing.T, dev *fakeDevice, connectErr error) *Gateway {
	t.Helper()
	connector := camera.ConnectorFunc(func(ctx context.Context, desc types.CameraDescriptor) (camera.Device, error) {
		if connectErr != nil {
			return nil, connectErr
		}
		return dev, nil
	})
	return NewGateway(testConfig(), WithConnector(connector))
}

// drainAction pops one queued unit of work and runs it inline.
func drainAction(t *testing.T, g *Gateway) {
	t.Helper()
	select {
	case fn := <-g.actions:
		fn(context.Background())
	default:
		t.Fatal("expected queued work, queue is empty")
	}
}

func TestSourceEventPublishesState(t *testing.T) {
	dev := &fakeDevice{
		info:    types.DeviceInfo{Manufacturer: "Axis", Model: "P5534"},
		ptz:     true,
		presets: []types.Preset{{Token: "p1", Name: "door"}},
	}
	g := newTestGateway(t, dev, nil)

	g.handleSource(json.RawMessage(`{"id":"cam1","name":"Front Door","uri":"rtsp://10.0.0.5/stream1"}`))
	drainAction(t, g)

	state, ok := g.control.State()
	if !ok {
		t.Fatal("no state published after source activation")
	}
	if state.ID != "cam1" || state.Name != "Front Door" {
		t.Fatalf("unexpected state identity: %+v", state)
	}
	if !state.PTZCapable {
		t.Fatal("published state should report PTZ capability")
	}
	if len(state.Presets) != 1 || state.Presets[0].Token != "p1" {
		t.Fatalf("unexpected presets: %+v", state.Presets)
	}
	if state.Manufacturer != "Axis" {
		t.Fatalf("device manufacturer not merged: %q", state.Manufacturer)
	}
}

func TestMalformedSourceEventIgnored(t *testing.T) {
	g := newTestGateway(t, &fakeDevice{ptz: true}, nil)

	g.handleSource(json.RawMessage(`{"id":`))
	g.handleSource(json.RawMessage(`{"note":"no camera identity"}`))

	select {
	case <-g.actions:
		t.Fatal("malformed source event must not queue work")
	default:
	}
}

func TestConnectionFailurePublishesDegradedState(t *testing.T) {
	g := newTestGateway(t, nil, errors.New("connection refused"))

	g.handleSource(json.RawMessage(`{"id":"cam2","name":"Yard","uri":"rtsp://10.0.0.9/s0"}`))
	drainAction(t, g)

	state, ok := g.control.State()
	if !ok {
		t.Fatal("degraded state should still be published")
	}
	if state.ID != "cam2" {
		t.Fatalf("unexpected state identity: %+v", state)
	}
	if state.Error == "" {
		t.Fatal("degraded state should carry the failure text")
	}
	if state.PTZCapable {
		t.Fatal("degraded state must not claim PTZ capability")
	}
}

func TestIntentDispatch(t *testing.T) {
	dev := &fakeDevice{ptz: true, presets: []types.Preset{{Token: "p1"}, {Token: "p2"}}}
	g := newTestGateway(t, dev, nil)

	g.activateSource(context.Background(), types.CameraDescriptor{ID: "cam1", URI: "rtsp://10.0.0.5/s0"})

	intents := []control.Intent{
		{Kind: control.IntentPan, Pan: 2},
		{Kind: control.IntentTilt, Tilt: -1},
		{Kind: control.IntentZoom, Zoom: 3},
		{Kind: control.IntentPTZ, Pan: 1, Tilt: 1, Zoom: 0},
		{Kind: control.IntentPreset, Token: "#1"},
		{Kind: control.IntentHome},
		{Kind: control.IntentStop},
	}
	for _, in := range intents {
		g.handleIntent(in)
		drainAction(t, g)
	}

	want := []string{"move", "move", "move", "move", "preset:p2", "home", "stop"}
	if len(dev.calls) != len(want) {
		t.Fatalf("got %d device calls %v, want %d", len(dev.calls), dev.calls, len(want))
	}
	for i, call := range want {
		if dev.calls[i] != call {
			t.Fatalf("call %d = %q, want %q", i, dev.calls[i], call)
		}
	}
	if v := dev.moves[0]; v.Pan != 0.5 || v.Tilt != 0 || v.Zoom != 0 {
		t.Fatalf("pan intent produced velocity %+v", v)
	}
	if v := dev.moves[1]; v.Tilt != -0.2 {
		t.Fatalf("tilt intent produced velocity %+v", v)
	}
}

func TestIntentBeforeActivationFailsQuietly(t *testing.T) {
	dev := &fakeDevice{ptz: true}
	g := newTestGateway(t, dev, nil)

	g.handleIntent(control.Intent{Kind: control.IntentStop})
	drainAction(t, g)

	if len(dev.calls) != 0 {
		t.Fatalf("device must not be touched before activation, got %v", dev.calls)
	}
}

func TestHealthCheckStates(t *testing.T) {
	dev := &fakeDevice{ptz: true}
	g := newTestGateway(t, dev, nil)

	st := g.HealthCheck()
	if st.Status != "degraded" {
		t.Fatalf("health before any connection = %q, want degraded", st.Status)
	}
	if st.Remote || st.Camera {
		t.Fatalf("unexpected component flags: %+v", st)
	}

	g.activateSource(context.Background(), types.CameraDescriptor{ID: "cam1", URI: "rtsp://10.0.0.5/s0"})
	st = g.HealthCheck()
	if !st.Camera {
		t.Fatal("camera flag should be set after activation")
	}
}
