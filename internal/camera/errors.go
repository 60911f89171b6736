package camera

import (
	"errors"
	"fmt"

	"github.com/MonocleCam/MonocleGateway/internal/types"
)

var (
	// ErrNotReady reports a command issued before a successful
	// initialization. Transient: retry after the session initializes.
	ErrNotReady = errors.New("camera: session not initialized")

	// ErrUnsupported reports a command issued against a camera without PTZ
	// support. Permanent for that camera.
	ErrUnsupported = errors.New("camera: device does not support ptz")

	// ErrSuperseded reports an initialization whose result was discarded
	// because a newer initialization started before it completed.
	ErrSuperseded = errors.New("camera: initialization superseded")
)

// ConnectionError reports a failed device connection during initialization.
// The session stays not-ready; the caller decides what degraded state to
// surface.
type ConnectionError struct {
	Descriptor types.CameraDescriptor
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("camera: failed to connect to %s (%s): %v", e.Descriptor.Name, e.Descriptor.URI, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommandError reports a device rejection or failure of an in-flight
// command. Not retried by the session.
type CommandError struct {
	Op  string
	Err error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("camera: %s command failed: %v", e.Op, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// InvalidPresetError reports a preset reference that cannot resolve against
// the cached preset list. The token never reaches the device.
type InvalidPresetError struct {
	Token  string
	Reason string
}

func (e *InvalidPresetError) Error() string {
	return fmt.Sprintf("camera: invalid preset %q: %s", e.Token, e.Reason)
}
