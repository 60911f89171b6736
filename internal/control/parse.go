package control

import (
	"fmt"
	"strconv"
	"strings"
)

// IntentKind identifies a parsed controller command.
type IntentKind int

const (
	IntentStop IntentKind = iota
	IntentHome
	IntentPreset
	IntentPTZ
	IntentPan
	IntentTilt
	IntentZoom
)

// String returns the command word for the intent.
func (k IntentKind) String() string {
	switch k {
	case IntentStop:
		return "stop"
	case IntentHome:
		return "home"
	case IntentPreset:
		return "preset"
	case IntentPTZ:
		return "ptz"
	case IntentPan:
		return "pan"
	case IntentTilt:
		return "tilt"
	case IntentZoom:
		return "zoom"
	default:
		return "unknown"
	}
}

// Intent is one semantic command parsed from a controller line, tagged with
// the address of the controller that issued it.
type Intent struct {
	Kind  IntentKind
	Addr  string
	Token string // preset
	Pan   int
	Tilt  int
	Zoom  int
}

// parseCommand parses one case-insensitive colon-delimited command line.
// The command word is matched case-insensitively; preset tokens pass through
// verbatim. A command with too few parts, a non-integer level, or an unknown
// word is an error and the line is dropped.
func parseCommand(addr, line string) (Intent, error) {
	line = strings.TrimSpace(line)
	parts := strings.Split(line, ":")
	word := strings.ToLower(strings.TrimSpace(parts[0]))

	intent := Intent{Addr: addr}

	switch word {
	case "stop":
		intent.Kind = IntentStop
		return intent, nil

	case "home":
		intent.Kind = IntentHome
		return intent, nil

	case "preset":
		if len(parts) < 2 {
			return Intent{}, fmt.Errorf("control: preset command from %s missing token: %q", addr, line)
		}
		intent.Kind = IntentPreset
		intent.Token = strings.TrimSpace(parts[1])
		return intent, nil

	case "ptz":
		if len(parts) < 4 {
			return Intent{}, fmt.Errorf("control: ptz command from %s needs 3 levels: %q", addr, line)
		}
		var err error
		if intent.Pan, err = parseLevel(parts[1]); err != nil {
			return Intent{}, fmt.Errorf("control: bad pan level from %s: %q", addr, line)
		}
		if intent.Tilt, err = parseLevel(parts[2]); err != nil {
			return Intent{}, fmt.Errorf("control: bad tilt level from %s: %q", addr, line)
		}
		if intent.Zoom, err = parseLevel(parts[3]); err != nil {
			return Intent{}, fmt.Errorf("control: bad zoom level from %s: %q", addr, line)
		}
		intent.Kind = IntentPTZ
		return intent, nil

	case "pan", "tilt", "zoom":
		if len(parts) < 2 {
			return Intent{}, fmt.Errorf("control: %s command from %s missing level: %q", word, addr, line)
		}
		level, err := parseLevel(parts[1])
		if err != nil {
			return Intent{}, fmt.Errorf("control: bad %s level from %s: %q", word, addr, line)
		}
		switch word {
		case "pan":
			intent.Kind = IntentPan
			intent.Pan = level
		case "tilt":
			intent.Kind = IntentTilt
			intent.Tilt = level
		case "zoom":
			intent.Kind = IntentZoom
			intent.Zoom = level
		}
		return intent, nil

	default:
		return Intent{}, fmt.Errorf("control: unknown command from %s: %q", addr, line)
	}
}

func parseLevel(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
