// Package control implements the local PTZ control protocol: a TCP line
// server physical controllers connect to, speaking a compact case-insensitive
// colon-delimited command grammar, and receiving camera state broadcasts as
// JSON frames.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MonocleCam/MonocleGateway/internal/types"
)

const (
	// writeTimeout bounds a single state frame write to one controller.
	writeTimeout = 5 * time.Second
	// frameQueueSize is the per-controller outbound frame buffer. A
	// controller that falls this far behind is disconnected rather than
	// allowed to stall publishers.
	frameQueueSize = 8
)

// Callbacks contains the notifications a server consumer can register.
// Nil entries are skipped. Controllers are identified by their remote
// address in every notification; no other session concept exists for them.
type Callbacks struct {
	OnIntent     func(intent Intent)
	OnConnect    func(addr string)
	OnDisconnect func(addr string)
	OnError      func(err error)
}

// Server accepts local controller connections and parses their command
// lines into semantic intents.
type Server struct {
	port      int
	callbacks Callbacks

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]*controllerConn
	state    *types.CameraState
	closing  bool

	wg sync.WaitGroup

	intents     uint64
	parseErrors uint64
	broadcasts  uint64
	slowDrops   uint64
}

// controllerConn pairs a controller connection with its outbound frame
// queue. All writes to the connection go through the queue, so the single
// writer goroutine is the only one touching the socket and frames can never
// interleave.
type controllerConn struct {
	conn   net.Conn
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

// enqueue hands a frame to the writer without blocking. A full queue means
// the controller is not keeping up.
func (c *controllerConn) enqueue(frame []byte) bool {
	select {
	case c.frames <- frame:
		return true
	default:
		return false
	}
}

// shutdown stops the writer and closes the socket, which also unblocks the
// connection's read loop.
func (c *controllerConn) shutdown() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// NewServer creates a control server listening on port once started.
func NewServer(port int, callbacks Callbacks) *Server {
	return &Server{
		port:      port,
		callbacks: callbacks,
		conns:     make(map[string]*controllerConn),
	}
}

// Start begins listening and accepting controller connections. It returns
// immediately; accepting runs in the background until Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return fmt.Errorf("control: server already running")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("control: listen failed: %w", err)
	}
	s.listener = ln
	s.closing = false
	s.mu.Unlock()

	slog.Info("control server listening", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop(ln)

	return nil
}

// Addr returns the bound listener address, "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if !closing && s.callbacks.OnError != nil {
				s.callbacks.OnError(fmt.Errorf("control: accept failed: %w", err))
			}
			return
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	addr := conn.RemoteAddr().String()
	cc := &controllerConn{
		conn:   conn,
		frames: make(chan []byte, frameQueueSize),
		closed: make(chan struct{}),
	}

	s.mu.Lock()
	s.conns[addr] = cc
	state := s.state
	s.mu.Unlock()

	s.wg.Add(1)
	go s.writeLoop(addr, cc)

	slog.Info("controller connected", "addr", addr)
	if s.callbacks.OnConnect != nil {
		s.callbacks.OnConnect(addr)
	}

	// Late joiners get the current state right away so they never start
	// from a stale view.
	if state != nil {
		if frame, err := encodeState(*state); err == nil {
			cc.enqueue(frame)
		} else {
			slog.Warn("state replay failed", "addr", addr, "error", err)
		}
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		intent, err := parseCommand(addr, line)
		if err != nil {
			atomic.AddUint64(&s.parseErrors, 1)
			slog.Warn("bad controller command", "addr", addr, "line", line, "error", err)
			if s.callbacks.OnError != nil {
				s.callbacks.OnError(err)
			}
			// The offending connection stays open; the line is dropped.
			continue
		}

		atomic.AddUint64(&s.intents, 1)
		if s.callbacks.OnIntent != nil {
			s.callbacks.OnIntent(intent)
		}
	}

	if err := scanner.Err(); err != nil {
		s.mu.Lock()
		closing := s.closing
		s.mu.Unlock()
		deliberate := false
		select {
		case <-cc.closed:
			deliberate = true
		default:
		}
		if !closing && !deliberate && s.callbacks.OnError != nil {
			s.callbacks.OnError(fmt.Errorf("control: read from %s failed: %w", addr, err))
		}
	}

	s.mu.Lock()
	delete(s.conns, addr)
	s.mu.Unlock()
	cc.shutdown()

	slog.Info("controller disconnected", "addr", addr)
	if s.callbacks.OnDisconnect != nil {
		s.callbacks.OnDisconnect(addr)
	}
}

// writeLoop is the sole writer for one controller connection. Every write
// carries a deadline; a controller that cannot take a frame within it is
// disconnected.
func (s *Server) writeLoop(addr string, cc *controllerConn) {
	defer s.wg.Done()

	for {
		select {
		case <-cc.closed:
			return
		case frame := <-cc.frames:
			_ = cc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := cc.conn.Write(frame); err != nil {
				slog.Warn("state write failed, dropping controller", "addr", addr, "error", err)
				cc.shutdown()
				return
			}
		}
	}
}

type sourceFrame struct {
	Source types.CameraState `json:"source"`
}

func encodeState(state types.CameraState) ([]byte, error) {
	data, err := json.Marshal(sourceFrame{Source: state})
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Publish stores the state and hands it to every controller's writer queue.
// The stored snapshot is replaced, never mutated, so a late replay can never
// observe a partial update. Publish never blocks on controller sockets; a
// controller whose queue is full is disconnected instead.
func (s *Server) Publish(state types.CameraState) {
	frame, err := encodeState(state)
	if err != nil {
		slog.Error("state encoding failed", "camera_id", state.ID, "error", err)
		return
	}

	s.mu.Lock()
	s.state = &state
	ccs := make(map[string]*controllerConn, len(s.conns))
	for addr, cc := range s.conns {
		ccs[addr] = cc
	}
	s.mu.Unlock()

	atomic.AddUint64(&s.broadcasts, 1)
	slog.Info("publishing camera state",
		"camera_id", state.ID,
		"ptz", state.PTZCapable,
		"controllers", len(ccs),
	)

	for addr, cc := range ccs {
		if !cc.enqueue(frame) {
			atomic.AddUint64(&s.slowDrops, 1)
			slog.Warn("controller not keeping up, dropping", "addr", addr)
			cc.shutdown()
		}
	}
}

// State returns the currently published snapshot, if any.
func (s *Server) State() (types.CameraState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return types.CameraState{}, false
	}
	return *s.state, true
}

// ControllerCount returns the number of connected controllers.
func (s *Server) ControllerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Stop closes the listener and every controller connection.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.closing = true
	ln := s.listener
	s.listener = nil
	ccs := make([]*controllerConn, 0, len(s.conns))
	for _, cc := range s.conns {
		ccs = append(ccs, cc)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, cc := range ccs {
		cc.shutdown()
	}

	s.wg.Wait()
	slog.Info("control server stopped")
	return nil
}

// Stats is a thread-safe snapshot of server counters.
type Stats struct {
	Controllers int
	Intents     uint64
	ParseErrors uint64
	Broadcasts  uint64
	SlowDrops   uint64
}

// Stats returns current server counters.
func (s *Server) Stats() Stats {
	return Stats{
		Controllers: s.ControllerCount(),
		Intents:     atomic.LoadUint64(&s.intents),
		ParseErrors: atomic.LoadUint64(&s.parseErrors),
		Broadcasts:  atomic.LoadUint64(&s.broadcasts),
		SlowDrops:   atomic.LoadUint64(&s.slowDrops),
	}
}
