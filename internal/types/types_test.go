package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// TestCameraStateDescriptorPrecedence verifies that descriptor values win
// over device-reported values for the shared fields.
func TestCameraStateDescriptorPrecedence(t *testing.T) {
	desc := CameraDescriptor{
		ID:           "cam1",
		Name:         "Front Door",
		Manufacturer: "Acme",
		Model:        "PTZ-9",
		URI:          "rtsp://10.0.0.5/stream",
	}
	info := DeviceInfo{
		Manufacturer:    "ACME Industrial",
		Model:           "PTZ-9000",
		FirmwareVersion: "1.2.3",
		SerialNumber:    "SN42",
		HardwareID:      "HW7",
	}

	state := NewCameraState(desc, info, true, []Preset{{Token: "p1", Name: "door"}})

	if state.Manufacturer != "Acme" {
		t.Errorf("expected descriptor manufacturer to win, got %q", state.Manufacturer)
	}
	if state.Model != "PTZ-9" {
		t.Errorf("expected descriptor model to win, got %q", state.Model)
	}
	if state.FirmwareVersion != "1.2.3" || state.SerialNumber != "SN42" || state.HardwareID != "HW7" {
		t.Errorf("device facts not carried over: %+v", state)
	}
	if !state.PTZCapable || len(state.Presets) != 1 {
		t.Errorf("capability or presets lost: %+v", state)
	}
}

// TestCameraStateFallsBackToDeviceInfo verifies device facts fill the gaps
// the descriptor leaves empty.
func TestCameraStateFallsBackToDeviceInfo(t *testing.T) {
	desc := CameraDescriptor{ID: "cam1", Name: "Front Door"}
	info := DeviceInfo{Manufacturer: "Acme", Model: "PTZ-9"}

	state := NewCameraState(desc, info, false, nil)

	if state.Manufacturer != "Acme" || state.Model != "PTZ-9" {
		t.Errorf("device facts should fill empty descriptor fields: %+v", state)
	}
	if state.Presets == nil {
		t.Error("presets should never be nil in a built state")
	}
}

// TestDegradedCameraState verifies a failed initialization snapshot carries
// descriptor facts and the failure text only.
func TestDegradedCameraState(t *testing.T) {
	desc := CameraDescriptor{ID: "cam1", Name: "Front Door", URI: "rtsp://10.0.0.5"}
	state := DegradedCameraState(desc, errors.New("connection refused"))

	if state.Error != "connection refused" {
		t.Errorf("expected error text, got %q", state.Error)
	}
	if state.PTZCapable {
		t.Error("degraded state must not report ptz capability")
	}
	if state.ID != "cam1" || state.Name != "Front Door" {
		t.Errorf("descriptor facts lost: %+v", state)
	}
}

// TestCameraStateJSONShape verifies the broadcast DTO is flat and omits
// empty optional fields.
func TestCameraStateJSONShape(t *testing.T) {
	state := NewCameraState(CameraDescriptor{ID: "cam1", Name: "n"}, DeviceInfo{}, true, nil)

	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	s := string(data)

	for _, want := range []string{`"id":"cam1"`, `"ptz":true`, `"presets":[]`} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %s in %s", want, s)
		}
	}
	for _, reject := range []string{`"error"`, `"serialNumber"`, `"uri"`} {
		if strings.Contains(s, reject) {
			t.Errorf("did not expect %s in %s", reject, s)
		}
	}
}
