package camera

import (
	"context"
	"time"

	"github.com/MonocleCam/MonocleGateway/internal/types"
)

// Velocity expresses a continuous-move speed per axis in device units,
// each in the range -1.0..1.0.
type Velocity struct {
	Pan  float64
	Tilt float64
	Zoom float64
}

// FullSpeed is the vector sent with preset recalls.
var FullSpeed = Velocity{Pan: 1, Tilt: 1, Zoom: 1}

// Device is the device-protocol capability a session operates through.
//
// Implementations must guarantee:
//   - Info and PTZSupported are cheap snapshot reads, valid for the life of
//     the connection
//   - every operation is safe to call from a single goroutine at a time
//     (the session serializes callers)
//   - operations honor context cancellation where the underlying transport
//     allows it
type Device interface {
	// Info returns the facts the device reported on connection.
	Info() types.DeviceInfo

	// PTZSupported reports whether the device exposes PTZ operations.
	PTZSupported() bool

	// Presets lists the device-stored positions.
	Presets(ctx context.Context) ([]types.Preset, error)

	// ContinuousMove starts moving at the given per-axis velocity. The
	// device stops an axis on its own if no renewed command arrives within
	// timeout.
	ContinuousMove(ctx context.Context, v Velocity, timeout time.Duration) error

	// GotoPreset recalls a stored position by its opaque token.
	GotoPreset(ctx context.Context, token string, speed Velocity) error

	// GotoHome moves to the device home position.
	GotoHome(ctx context.Context) error

	// Stop halts all axes immediately.
	Stop(ctx context.Context) error

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Connector opens a device-protocol connection for a camera descriptor.
// The gateway injects the real protocol implementation; tests inject fakes.
type Connector interface {
	Connect(ctx context.Context, desc types.CameraDescriptor) (Device, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, desc types.CameraDescriptor) (Device, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context, desc types.CameraDescriptor) (Device, error) {
	return f(ctx, desc)
}
