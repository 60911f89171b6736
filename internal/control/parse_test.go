package control

import "testing"

// TestParseCommandGrammar walks the command table, including arity and
// integer validation failures.
func TestParseCommandGrammar(t *testing.T) {
	cases := []struct {
		line    string
		want    Intent
		wantErr bool
	}{
		{line: "stop", want: Intent{Kind: IntentStop}},
		{line: "HOME", want: Intent{Kind: IntentHome}},
		{line: "  Stop  ", want: Intent{Kind: IntentStop}},
		{line: "preset:p1", want: Intent{Kind: IntentPreset, Token: "p1"}},
		{line: "PRESET:#2", want: Intent{Kind: IntentPreset, Token: "#2"}},
		{line: "ptz:1:-2:0", want: Intent{Kind: IntentPTZ, Pan: 1, Tilt: -2, Zoom: 0}},
		{line: "PTZ:3:3:3", want: Intent{Kind: IntentPTZ, Pan: 3, Tilt: 3, Zoom: 3}},
		{line: "pan:-3", want: Intent{Kind: IntentPan, Pan: -3}},
		{line: "tilt:2", want: Intent{Kind: IntentTilt, Tilt: 2}},
		{line: "zoom:1", want: Intent{Kind: IntentZoom, Zoom: 1}},
		{line: "ptz:1:2", wantErr: true},  // too few parts
		{line: "ptz:1:2:x", wantErr: true}, // non-integer level
		{line: "preset", wantErr: true},
		{line: "pan", wantErr: true},
		{line: "pan:fast", wantErr: true},
		{line: "selfdestruct", wantErr: true},
		{line: "", wantErr: true},
	}

	for _, tc := range cases {
		got, err := parseCommand("10.0.0.2:4242", tc.line)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseCommand(%q): expected error, got %+v", tc.line, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseCommand(%q) failed: %v", tc.line, err)
			continue
		}
		tc.want.Addr = "10.0.0.2:4242"
		if got != tc.want {
			t.Errorf("parseCommand(%q) = %+v, want %+v", tc.line, got, tc.want)
		}
	}
}

// TestParseCommandKeepsTokenCase verifies preset tokens are opaque: only the
// command word is case-folded.
func TestParseCommandKeepsTokenCase(t *testing.T) {
	got, err := parseCommand("a", "Preset:CamPos7")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got.Token != "CamPos7" {
		t.Errorf("token = %q, want CamPos7", got.Token)
	}
}
