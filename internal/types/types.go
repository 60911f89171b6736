// Package types contains the shared data model of the gateway: the camera
// descriptor handed down by the control plane, the device facts reported by
// the camera, and the merged state snapshot broadcast to local controllers.
package types

// CameraDescriptor identifies and addresses one camera as known by the
// control plane. It is supplied once per activation and never mutated.
type CameraDescriptor struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	URI          string `json:"uri"`
	Protocol     string `json:"protocol,omitempty"`
	Codec        string `json:"codec,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	TimeoutS     int    `json:"timeout,omitempty"`
}

// DeviceInfo holds the facts a camera reports about itself on connection.
// Device protocol responses spell these fields with varying case; decoding
// normalizes them into this one shape.
type DeviceInfo struct {
	Manufacturer    string `json:"manufacturer"`
	Model           string `json:"model"`
	FirmwareVersion string `json:"firmwareVersion"`
	SerialNumber    string `json:"serialNumber"`
	HardwareID      string `json:"hardwareId"`
}

// Preset is a device-stored named position recallable by an opaque token.
type Preset struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

// CameraState is the externally visible, read-only snapshot of the currently
// controlled camera. It merges descriptor and device facts, with descriptor
// values taking precedence. A new initialization always produces a new
// CameraState; an existing one is never mutated.
type CameraState struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Manufacturer    string   `json:"manufacturer,omitempty"`
	Model           string   `json:"model,omitempty"`
	URI             string   `json:"uri,omitempty"`
	Protocol        string   `json:"protocol,omitempty"`
	Codec           string   `json:"codec,omitempty"`
	FirmwareVersion string   `json:"firmwareVersion,omitempty"`
	SerialNumber    string   `json:"serialNumber,omitempty"`
	HardwareID      string   `json:"hardwareId,omitempty"`
	PTZCapable      bool     `json:"ptz"`
	Presets         []Preset `json:"presets"`
	Error           string   `json:"error,omitempty"`
}

// NewCameraState builds the snapshot for a successful initialization.
// Descriptor values win over device-reported values for the shared fields.
func NewCameraState(desc CameraDescriptor, info DeviceInfo, ptzCapable bool, presets []Preset) CameraState {
	state := CameraState{
		ID:              desc.ID,
		Name:            desc.Name,
		Manufacturer:    desc.Manufacturer,
		Model:           desc.Model,
		URI:             desc.URI,
		Protocol:        desc.Protocol,
		Codec:           desc.Codec,
		FirmwareVersion: info.FirmwareVersion,
		SerialNumber:    info.SerialNumber,
		HardwareID:      info.HardwareID,
		PTZCapable:      ptzCapable,
		Presets:         presets,
	}
	if state.Manufacturer == "" {
		state.Manufacturer = info.Manufacturer
	}
	if state.Model == "" {
		state.Model = info.Model
	}
	if state.Presets == nil {
		state.Presets = []Preset{}
	}
	return state
}

// DegradedCameraState builds the snapshot for a failed initialization: the
// descriptor facts plus the failure text, with no device-derived fields.
func DegradedCameraState(desc CameraDescriptor, err error) CameraState {
	state := CameraState{
		ID:           desc.ID,
		Name:         desc.Name,
		Manufacturer: desc.Manufacturer,
		Model:        desc.Model,
		URI:          desc.URI,
		Protocol:     desc.Protocol,
		Codec:        desc.Codec,
		Presets:      []Preset{},
	}
	if err != nil {
		state.Error = err.Error()
	}
	return state
}
