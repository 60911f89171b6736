package onvif

import (
	"encoding/xml"
	"fmt"
)

// Response decoding matches on local element names only, so the namespace
// prefixes devices choose (and their case variants) do not matter.

type deviceInformationResponse struct {
	Manufacturer    string `xml:"Manufacturer"`
	Model           string `xml:"Model"`
	FirmwareVersion string `xml:"FirmwareVersion"`
	SerialNumber    string `xml:"SerialNumber"`
	HardwareID      string `xml:"HardwareId"`
}

type getProfilesResponse struct {
	Profiles []struct {
		Token string `xml:"token,attr"`
		Name  string `xml:"Name"`
	} `xml:"Profiles"`
}

type getPresetsResponse struct {
	Presets []struct {
		Token string `xml:"token,attr"`
		Name  string `xml:"Name"`
	} `xml:"Preset"`
}

// decodeBody unwraps a SOAP envelope and decodes the first body element
// into out.
func decodeBody(data []byte, out interface{}) error {
	var env struct {
		Body struct {
			Inner []byte `xml:",innerxml"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decoding envelope: %w", err)
	}
	if len(env.Body.Inner) == 0 {
		return fmt.Errorf("empty soap body")
	}
	if err := xml.Unmarshal(env.Body.Inner, out); err != nil {
		return fmt.Errorf("decoding body: %w", err)
	}
	return nil
}

// decodeFault extracts the human-readable reason from a SOAP fault body,
// returning "" when the body is not a fault.
func decodeFault(data []byte) string {
	var env struct {
		Body struct {
			Fault struct {
				Reason struct {
					Text string `xml:"Text"`
				} `xml:"Reason"`
				FaultString string `xml:"faultstring"`
			} `xml:"Fault"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(data, &env); err != nil {
		return ""
	}
	if env.Body.Fault.Reason.Text != "" {
		return env.Body.Fault.Reason.Text
	}
	return env.Body.Fault.FaultString
}
