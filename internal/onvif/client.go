// Package onvif implements the camera.Device capability over the ONVIF
// device protocol. It handles device bootstrap, capability detection,
// profile selection and the PTZ operation surface the gateway needs.
package onvif

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	goonvif "github.com/use-go/onvif"
	"github.com/use-go/onvif/device"
	"github.com/use-go/onvif/media"
	"github.com/use-go/onvif/ptz"
	"github.com/use-go/onvif/xsd"
	xonvif "github.com/use-go/onvif/xsd/onvif"

	"github.com/MonocleCam/MonocleGateway/internal/camera"
	"github.com/MonocleCam/MonocleGateway/internal/types"
)

// Connector opens ONVIF device connections for camera descriptors. The
// service address is derived from the descriptor URI host; credentials come
// from the descriptor, falling back to the configured defaults.
type Connector struct {
	defaultUsername string
	defaultPassword string
	timeout         time.Duration
}

// NewConnector creates an ONVIF connector with fallback credentials and a
// per-request timeout.
func NewConnector(username, password string, timeout time.Duration) *Connector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Connector{
		defaultUsername: username,
		defaultPassword: password,
		timeout:         timeout,
	}
}

// Connect bootstraps the device, records its identity, detects PTZ support
// and selects the media profile every PTZ operation targets.
func (c *Connector) Connect(ctx context.Context, desc types.CameraDescriptor) (camera.Device, error) {
	xaddr, err := deviceAddress(desc.URI)
	if err != nil {
		return nil, err
	}

	username := desc.Username
	password := desc.Password
	if username == "" {
		username = c.defaultUsername
		password = c.defaultPassword
	}

	timeout := c.timeout
	if desc.TimeoutS > 0 {
		timeout = time.Duration(desc.TimeoutS) * time.Second
	}

	slog.Debug("connecting to onvif device", "camera_id", desc.ID, "xaddr", xaddr)

	dev, err := goonvif.NewDevice(goonvif.DeviceParams{
		Xaddr:      xaddr,
		Username:   username,
		Password:   password,
		HttpClient: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("onvif: device bootstrap failed: %w", err)
	}

	d := &onvifDevice{dev: dev}

	if err := d.call(device.GetDeviceInformation{}, &d.infoResp); err != nil {
		return nil, fmt.Errorf("onvif: device information request failed: %w", err)
	}

	// A device without a PTZ service endpoint has no PTZ support at all.
	if dev.GetEndpoint("ptz") != "" {
		var profiles getProfilesResponse
		if err := d.call(media.GetProfiles{}, &profiles); err != nil {
			return nil, fmt.Errorf("onvif: profile enumeration failed: %w", err)
		}
		if len(profiles.Profiles) > 0 {
			d.profileToken = profiles.Profiles[0].Token
			d.ptzSupported = true
		}
	}

	slog.Info("onvif device connected",
		"camera_id", desc.ID,
		"manufacturer", d.infoResp.Manufacturer,
		"model", d.infoResp.Model,
		"ptz", d.ptzSupported,
	)

	return d, nil
}

// deviceAddress derives the ONVIF service host from a descriptor URI. The
// device service lives at http://<host>/onvif/device_service.
func deviceAddress(rawURI string) (string, error) {
	if rawURI == "" {
		return "", fmt.Errorf("onvif: descriptor has no uri")
	}

	raw := rawURI
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("onvif: unusable descriptor uri %q", rawURI)
	}
	return u.Host, nil
}

// onvifDevice implements camera.Device over a bootstrapped ONVIF client.
type onvifDevice struct {
	dev          *goonvif.Device
	profileToken string
	ptzSupported bool
	infoResp     deviceInformationResponse
}

func (d *onvifDevice) Info() types.DeviceInfo {
	return types.DeviceInfo{
		Manufacturer:    d.infoResp.Manufacturer,
		Model:           d.infoResp.Model,
		FirmwareVersion: d.infoResp.FirmwareVersion,
		SerialNumber:    d.infoResp.SerialNumber,
		HardwareID:      d.infoResp.HardwareID,
	}
}

func (d *onvifDevice) PTZSupported() bool { return d.ptzSupported }

func (d *onvifDevice) Presets(ctx context.Context) ([]types.Preset, error) {
	var resp getPresetsResponse
	err := d.call(ptz.GetPresets{ProfileToken: xonvif.ReferenceToken(d.profileToken)}, &resp)
	if err != nil {
		return nil, fmt.Errorf("onvif: get presets failed: %w", err)
	}

	presets := make([]types.Preset, 0, len(resp.Presets))
	for _, p := range resp.Presets {
		name := p.Name
		if name == "" {
			name = p.Token
		}
		presets = append(presets, types.Preset{Token: p.Token, Name: name})
	}
	return presets, nil
}

func (d *onvifDevice) ContinuousMove(ctx context.Context, v camera.Velocity, timeout time.Duration) error {
	req := ptz.ContinuousMove{
		ProfileToken: xonvif.ReferenceToken(d.profileToken),
		Velocity: xonvif.PTZSpeed{
			PanTilt: xonvif.Vector2D{X: v.Pan, Y: v.Tilt},
			Zoom:    xonvif.Vector1D{X: v.Zoom},
		},
		Timeout: soapDuration(timeout),
	}
	if err := d.call(req, nil); err != nil {
		return fmt.Errorf("onvif: continuous move failed: %w", err)
	}
	return nil
}

func (d *onvifDevice) GotoPreset(ctx context.Context, token string, speed camera.Velocity) error {
	req := ptz.GotoPreset{
		ProfileToken: xonvif.ReferenceToken(d.profileToken),
		PresetToken:  xonvif.ReferenceToken(token),
		Speed: xonvif.PTZSpeed{
			PanTilt: xonvif.Vector2D{X: speed.Pan, Y: speed.Tilt},
			Zoom:    xonvif.Vector1D{X: speed.Zoom},
		},
	}
	if err := d.call(req, nil); err != nil {
		return fmt.Errorf("onvif: goto preset %q failed: %w", token, err)
	}
	return nil
}

func (d *onvifDevice) GotoHome(ctx context.Context) error {
	req := ptz.GotoHomePosition{ProfileToken: xonvif.ReferenceToken(d.profileToken)}
	if err := d.call(req, nil); err != nil {
		return fmt.Errorf("onvif: goto home failed: %w", err)
	}
	return nil
}

func (d *onvifDevice) Stop(ctx context.Context) error {
	req := ptz.Stop{
		ProfileToken: xonvif.ReferenceToken(d.profileToken),
		PanTilt:      xsd.Boolean(true),
		Zoom:         xsd.Boolean(true),
	}
	if err := d.call(req, nil); err != nil {
		return fmt.Errorf("onvif: stop failed: %w", err)
	}
	return nil
}

// Close releases nothing today: the ONVIF client is plain HTTP request
// scoped, so dropping the handle is enough.
func (d *onvifDevice) Close() error { return nil }

// call performs one SOAP request and decodes the response body into out
// when provided.
func (d *onvifDevice) call(req interface{}, out interface{}) error {
	resp, err := d.dev.CallMethod(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if fault := decodeFault(body); fault != "" {
			return fmt.Errorf("soap fault: %s", fault)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return decodeBody(body, out)
}

// soapDuration renders a duration as the xsd:duration subset devices accept.
func soapDuration(d time.Duration) xsd.Duration {
	secs := int(d.Seconds())
	if secs <= 0 {
		secs = 10
	}
	return xsd.Duration(fmt.Sprintf("PT%dS", secs))
}
