package camera

// EventType identifies a session notification.
type EventType int

const (
	EventStop EventType = iota
	EventHome
	EventPreset
	EventPan
	EventTilt
	EventZoom
	EventPTZ
	EventError
)

// String returns the event name used in logs.
func (t EventType) String() string {
	switch t {
	case EventStop:
		return "stop"
	case EventHome:
		return "home"
	case EventPreset:
		return "preset"
	case EventPan:
		return "pan"
	case EventTilt:
		return "tilt"
	case EventZoom:
		return "zoom"
	case EventPTZ:
		return "ptz"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a session notification. Commands emit one event per outcome:
// the matching success event with the values actually sent to the device,
// or an error event carrying the failure.
type Event struct {
	Type  EventType
	Token string   // preset events
	Pan   float64  // quantized velocity, pan/ptz events
	Tilt  float64  // quantized velocity, tilt/ptz events
	Zoom  float64  // quantized velocity, zoom/ptz events
	Err   error    // error events
}
