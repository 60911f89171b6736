package camera

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MonocleCam/MonocleGateway/internal/quantize"
	"github.com/MonocleCam/MonocleGateway/internal/types"
)

const defaultMoveTimeout = 10 * time.Second

// Session owns the lifecycle of the currently controlled camera. Exactly one
// device connection is live at a time; starting a new initialization discards
// the previous one. Command methods are serialized against each other and
// checked per call against the session's readiness and the camera's PTZ
// capability.
type Session struct {
	connector   Connector
	quant       *quantize.Quantizer
	moveTimeout time.Duration

	events        chan Event
	eventsDropped uint64

	commands      uint64
	commandErrors uint64

	// cmdMu serializes command device I/O so overlapping callers cannot
	// race on the device handle.
	cmdMu sync.Mutex

	mu          sync.Mutex
	generation  uint64
	initialized bool
	device      Device
	state       *types.CameraState
	presets     []types.Preset
}

// Option configures a Session.
type Option func(*Session)

// WithQuantizer replaces the default speed quantizer.
func WithQuantizer(q *quantize.Quantizer) Option {
	return func(s *Session) { s.quant = q }
}

// WithMoveTimeout overrides the device-side idle-stop timeout sent with
// continuous moves.
func WithMoveTimeout(d time.Duration) Option {
	return func(s *Session) { s.moveTimeout = d }
}

// NewSession creates a session that opens device connections through the
// given connector.
func NewSession(connector Connector, opts ...Option) *Session {
	s := &Session{
		connector:   connector,
		quant:       quantize.New(),
		moveTimeout: defaultMoveTimeout,
		events:      make(chan Event, 16),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the session notification channel. Events are published
// non-blocking; a slow consumer drops notifications rather than stalling
// commands.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		atomic.AddUint64(&s.eventsDropped, 1)
	}
}

// Initialize discards any existing device connection and opens a new one for
// the descriptor. On success it returns the freshly built CameraState and
// marks the session ready. On connection failure the session stays not-ready
// and the error carries the descriptor; no state is made visible.
//
// A slow Initialize that completes after a newer one has superseded it is
// detected by generation and its result discarded with ErrSuperseded.
func (s *Session) Initialize(ctx context.Context, desc types.CameraDescriptor) (types.CameraState, error) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.initialized = false
	old := s.device
	s.device = nil
	s.mu.Unlock()

	// Closing the old handle waits for any command still using it; cmdMu is
	// never held across Connect, so a newer Initialize can still supersede
	// this one while it dials.
	if old != nil {
		s.cmdMu.Lock()
		_ = old.Close()
		s.cmdMu.Unlock()
	}

	slog.Info("initializing camera session",
		"camera_id", desc.ID,
		"name", desc.Name,
		"uri", desc.URI,
	)

	dev, err := s.connector.Connect(ctx, desc)
	if err != nil {
		connErr := &ConnectionError{Descriptor: desc, Err: err}
		slog.Error("camera connection failed", "camera_id", desc.ID, "error", err)
		s.emit(Event{Type: EventError, Err: connErr})
		return types.CameraState{}, connErr
	}

	info := dev.Info()
	ptzCapable := dev.PTZSupported()

	var presets []types.Preset
	if ptzCapable {
		presets, err = dev.Presets(ctx)
		if err != nil {
			_ = dev.Close()
			connErr := &ConnectionError{Descriptor: desc, Err: err}
			slog.Error("preset enumeration failed", "camera_id", desc.ID, "error", err)
			s.emit(Event{Type: EventError, Err: connErr})
			return types.CameraState{}, connErr
		}
	}

	state := types.NewCameraState(desc, info, ptzCapable, presets)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		_ = dev.Close()
		slog.Warn("discarding superseded initialization", "camera_id", desc.ID)
		return types.CameraState{}, ErrSuperseded
	}
	s.device = dev
	s.presets = presets
	s.state = &state
	s.initialized = true
	s.mu.Unlock()

	slog.Info("camera session ready",
		"camera_id", desc.ID,
		"manufacturer", state.Manufacturer,
		"model", state.Model,
		"ptz", ptzCapable,
		"presets", len(presets),
	)

	return state, nil
}

// State returns the active CameraState snapshot, if the session has one.
func (s *Session) State() (types.CameraState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized || s.state == nil {
		return types.CameraState{}, false
	}
	return *s.state, true
}

// ready returns the device handle if the session is initialized and the
// camera supports PTZ. Both conditions are checked per call.
func (s *Session) ready() (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized || s.device == nil {
		return nil, ErrNotReady
	}
	if s.state == nil || !s.state.PTZCapable {
		return nil, ErrUnsupported
	}
	return s.device, nil
}

// command runs one serialized device operation with readiness checks. Every
// failure both returns the error and emits a matching error event.
func (s *Session) command(op string, exec func(Device) error, success Event) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	dev, err := s.ready()
	if err != nil {
		s.emit(Event{Type: EventError, Err: err})
		return err
	}

	if err := exec(dev); err != nil {
		cmdErr := &CommandError{Op: op, Err: err}
		atomic.AddUint64(&s.commandErrors, 1)
		slog.Error("camera command failed", "op", op, "error", err)
		s.emit(Event{Type: EventError, Err: cmdErr})
		return cmdErr
	}

	atomic.AddUint64(&s.commands, 1)
	s.emit(success)
	return nil
}

// Stop halts all camera axes.
func (s *Session) Stop(ctx context.Context) error {
	return s.command("stop", func(d Device) error {
		return d.Stop(ctx)
	}, Event{Type: EventStop})
}

// GotoHome moves the camera to its home position.
func (s *Session) GotoHome(ctx context.Context) error {
	return s.command("home", func(d Device) error {
		return d.GotoHome(ctx)
	}, Event{Type: EventHome})
}

// GotoPreset recalls a preset. A token beginning with '#' is resolved as an
// index into the preset list cached at initialization; a bad index never
// reaches the device. Any other token is sent to the device verbatim at
// full speed.
func (s *Session) GotoPreset(ctx context.Context, token string) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	dev, err := s.ready()
	if err != nil {
		s.emit(Event{Type: EventError, Err: err})
		return err
	}

	resolved, err := s.resolvePreset(token)
	if err != nil {
		s.emit(Event{Type: EventError, Err: err})
		return err
	}

	if err := dev.GotoPreset(ctx, resolved, FullSpeed); err != nil {
		cmdErr := &CommandError{Op: "preset", Err: err}
		atomic.AddUint64(&s.commandErrors, 1)
		slog.Error("camera command failed", "op", "preset", "token", resolved, "error", err)
		s.emit(Event{Type: EventError, Err: cmdErr})
		return cmdErr
	}

	atomic.AddUint64(&s.commands, 1)
	s.emit(Event{Type: EventPreset, Token: resolved})
	return nil
}

// resolvePreset maps a '#index' shorthand to the token of the cached preset
// at that position. The cache is a snapshot read at call time.
func (s *Session) resolvePreset(token string) (string, error) {
	if !strings.HasPrefix(token, "#") {
		return token, nil
	}

	idx, err := strconv.Atoi(token[1:])
	if err != nil || idx < 0 {
		return "", &InvalidPresetError{Token: token, Reason: "malformed index"}
	}

	s.mu.Lock()
	presets := s.presets
	s.mu.Unlock()

	if idx >= len(presets) {
		return "", &InvalidPresetError{Token: token, Reason: "index out of range"}
	}
	return presets[idx].Token, nil
}

// Pan starts a continuous pan at the quantized speed for level. The device
// stops on its own once the idle timeout passes without a renewed command.
func (s *Session) Pan(ctx context.Context, level int) error {
	v := Velocity{Pan: s.quant.Quantize(quantize.Pan, level)}
	return s.command("pan", func(d Device) error {
		return d.ContinuousMove(ctx, v, s.moveTimeout)
	}, Event{Type: EventPan, Pan: v.Pan})
}

// Tilt starts a continuous tilt at the quantized speed for level.
func (s *Session) Tilt(ctx context.Context, level int) error {
	v := Velocity{Tilt: s.quant.Quantize(quantize.Tilt, level)}
	return s.command("tilt", func(d Device) error {
		return d.ContinuousMove(ctx, v, s.moveTimeout)
	}, Event{Type: EventTilt, Tilt: v.Tilt})
}

// Zoom starts a continuous zoom at the quantized speed for level.
func (s *Session) Zoom(ctx context.Context, level int) error {
	v := Velocity{Zoom: s.quant.Quantize(quantize.Zoom, level)}
	return s.command("zoom", func(d Device) error {
		return d.ContinuousMove(ctx, v, s.moveTimeout)
	}, Event{Type: EventZoom, Zoom: v.Zoom})
}

// PTZ starts one combined continuous move with all three axes quantized
// independently.
func (s *Session) PTZ(ctx context.Context, panLevel, tiltLevel, zoomLevel int) error {
	v := Velocity{
		Pan:  s.quant.Quantize(quantize.Pan, panLevel),
		Tilt: s.quant.Quantize(quantize.Tilt, tiltLevel),
		Zoom: s.quant.Quantize(quantize.Zoom, zoomLevel),
	}
	return s.command("ptz", func(d Device) error {
		return d.ContinuousMove(ctx, v, s.moveTimeout)
	}, Event{Type: EventPTZ, Pan: v.Pan, Tilt: v.Tilt, Zoom: v.Zoom})
}

// Close discards the active device connection and marks the session
// not-ready.
func (s *Session) Close() error {
	s.mu.Lock()
	s.generation++
	s.initialized = false
	dev := s.device
	s.device = nil
	s.mu.Unlock()

	if dev != nil {
		s.cmdMu.Lock()
		defer s.cmdMu.Unlock()
		return dev.Close()
	}
	return nil
}

// Stats is a thread-safe snapshot of session counters.
type Stats struct {
	Initialized   bool
	PTZCapable    bool
	Presets       int
	Commands      uint64
	CommandErrors uint64
	EventsDropped uint64
}

// Stats returns current session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		Initialized: s.initialized,
		Presets:     len(s.presets),
	}
	if s.state != nil {
		st.PTZCapable = s.state.PTZCapable
	}
	s.mu.Unlock()

	st.Commands = atomic.LoadUint64(&s.commands)
	st.CommandErrors = atomic.LoadUint64(&s.commandErrors)
	st.EventsDropped = atomic.LoadUint64(&s.eventsDropped)
	return st
}
