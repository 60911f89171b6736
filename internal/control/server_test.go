package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/MonocleCam/MonocleGateway/internal/types"
)

type serverHarness struct {
	srv        *Server
	intents    chan Intent
	errs       chan error
	connects   chan string
	disconnect chan string
}

func startServer(t *testing.T) *serverHarness {
	t.Helper()
	h := &serverHarness{
		intents:    make(chan Intent, 16),
		errs:       make(chan error, 16),
		connects:   make(chan string, 16),
		disconnect: make(chan string, 16),
	}
	h.srv = NewServer(0, Callbacks{
		OnIntent:     func(in Intent) { h.intents <- in },
		OnError:      func(err error) { h.errs <- err },
		OnConnect:    func(addr string) { h.connects <- addr },
		OnDisconnect: func(addr string) { h.disconnect <- addr },
	})
	if err := h.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = h.srv.Stop() })
	return h
}

func (h *serverHarness) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", h.srv.Addr())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	select {
	case <-h.connects:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for connect notification")
	}
	return conn
}

func (h *serverHarness) waitIntent(t *testing.T) Intent {
	t.Helper()
	select {
	case in := <-h.intents:
		return in
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for intent")
		return Intent{}
	}
}

func testState(id string) types.CameraState {
	return types.NewCameraState(
		types.CameraDescriptor{ID: id, Name: "Front Door"},
		types.DeviceInfo{Manufacturer: "Acme"},
		true,
		[]types.Preset{{Token: "p1", Name: "door"}},
	)
}

func readSourceFrame(t *testing.T, r *bufio.Reader) types.CameraState {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var frame struct {
		Source types.CameraState `json:"source"`
	}
	if err := json.Unmarshal([]byte(line), &frame); err != nil {
		t.Fatalf("bad frame %q: %v", line, err)
	}
	return frame.Source
}

// TestIntentDelivery verifies command lines become intents tagged with the
// controller address.
func TestIntentDelivery(t *testing.T) {
	h := startServer(t)
	conn := h.dial(t)

	if _, err := conn.Write([]byte("ptz:1:-2:0\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	in := h.waitIntent(t)
	if in.Kind != IntentPTZ || in.Pan != 1 || in.Tilt != -2 || in.Zoom != 0 {
		t.Errorf("intent = %+v", in)
	}
	if in.Addr != conn.LocalAddr().String() {
		t.Errorf("intent addr = %q, want %q", in.Addr, conn.LocalAddr().String())
	}

	if _, err := conn.Write([]byte("home\nstop\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if in := h.waitIntent(t); in.Kind != IntentHome {
		t.Errorf("expected home intent, got %+v", in)
	}
	if in := h.waitIntent(t); in.Kind != IntentStop {
		t.Errorf("expected stop intent, got %+v", in)
	}
}

// TestBadCommandKeepsConnectionOpen verifies a malformed line surfaces an
// error, produces no intent, and leaves the controller connected.
func TestBadCommandKeepsConnectionOpen(t *testing.T) {
	h := startServer(t)
	conn := h.dial(t)

	if _, err := conn.Write([]byte("ptz:1:2\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case <-h.errs:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for parse error")
	}

	select {
	case in := <-h.intents:
		t.Fatalf("malformed line must not yield an intent: %+v", in)
	case <-time.After(50 * time.Millisecond):
	}

	// Connection still works.
	if _, err := conn.Write([]byte("pan:2\n")); err != nil {
		t.Fatalf("write after bad command failed: %v", err)
	}
	if in := h.waitIntent(t); in.Kind != IntentPan || in.Pan != 2 {
		t.Errorf("intent after bad command = %+v", in)
	}
}

// TestLateJoinerReplay verifies a controller connecting after a publish
// immediately receives exactly one source frame.
func TestLateJoinerReplay(t *testing.T) {
	h := startServer(t)
	h.srv.Publish(testState("cam1"))

	conn := h.dial(t)
	r := bufio.NewReader(conn)

	state := readSourceFrame(t, r)
	if state.ID != "cam1" || !state.PTZCapable {
		t.Errorf("replayed state = %+v", state)
	}

	// No second frame until the next publish.
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := r.ReadString('\n'); err == nil {
		t.Fatal("expected exactly one replay frame")
	}
	_ = conn.SetReadDeadline(time.Time{})

	h.srv.Publish(testState("cam2"))
	if state := readSourceFrame(t, r); state.ID != "cam2" {
		t.Errorf("broadcast state = %+v", state)
	}
}

// TestBroadcastReachesAllControllers verifies every connected controller
// receives a published state.
func TestBroadcastReachesAllControllers(t *testing.T) {
	h := startServer(t)

	connA := h.dial(t)
	connB := h.dial(t)
	rA := bufio.NewReader(connA)
	rB := bufio.NewReader(connB)

	h.srv.Publish(testState("cam9"))

	if state := readSourceFrame(t, rA); state.ID != "cam9" {
		t.Errorf("controller A state = %+v", state)
	}
	if state := readSourceFrame(t, rB); state.ID != "cam9" {
		t.Errorf("controller B state = %+v", state)
	}

	if n := h.srv.ControllerCount(); n != 2 {
		t.Errorf("controller count = %d, want 2", n)
	}
}

// TestSlowControllerDoesNotBlockPublish verifies a controller that stops
// reading never stalls Publish: the publisher stays non-blocking, the stuck
// controller is dropped, and the server keeps serving new controllers.
func TestSlowControllerDoesNotBlockPublish(t *testing.T) {
	h := startServer(t)

	// This controller never reads a single byte.
	_ = h.dial(t)

	big := testState("cam1")
	big.Name = strings.Repeat("x", 64*1024)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 256; i++ {
			h.srv.Publish(big)
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Publish blocked on a non-reading controller")
	}

	select {
	case <-h.disconnect:
	case <-time.After(2 * time.Second):
		t.Fatal("stuck controller was never dropped")
	}
	if h.srv.Stats().SlowDrops == 0 {
		t.Error("slow drop counter should have advanced")
	}

	// The server is still live for new controllers.
	conn := h.dial(t)
	r := bufio.NewReader(conn)
	if state := readSourceFrame(t, r); state.ID != "cam1" {
		t.Errorf("replayed state = %+v", state)
	}
}

// TestDisconnectNotification verifies closed controllers are dropped and
// reported by address.
func TestDisconnectNotification(t *testing.T) {
	h := startServer(t)
	conn := h.dial(t)
	addr := conn.LocalAddr().String()

	_ = conn.Close()

	select {
	case got := <-h.disconnect:
		if got != addr {
			t.Errorf("disconnect addr = %q, want %q", got, addr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for disconnect notification")
	}

	if n := h.srv.ControllerCount(); n != 0 {
		t.Errorf("controller count = %d, want 0", n)
	}
}
