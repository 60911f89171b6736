// Package remote maintains the long-lived outbound session to the Monocle
// control plane: an authenticated WebSocket carrying JSON frames whose
// top-level keys are demultiplexed into named events.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// CloseCodeShutdown is the deliberate-shutdown sentinel. A session closed
// with this code never reconnects; any other close schedules a retry.
const CloseCodeShutdown = 4001

const defaultHandshakeTimeout = 10 * time.Second

// Handler consumes the payload of one demultiplexed named event.
type Handler func(payload json.RawMessage)

// Callbacks contains the lifecycle notifications a session consumer can
// register. Nil entries are skipped.
type Callbacks struct {
	// OnConnect fires when the transport opens.
	OnConnect func()
	// OnData fires for every decoded inbound message, before the per-key
	// named handlers run.
	OnData func(msg map[string]json.RawMessage)
	// OnError fires on transport and decode errors. authFailure marks a
	// 401-coded handshake rejection.
	OnError func(err error, authFailure bool)
	// OnClose fires with the transport close code.
	OnClose func(code int)
	// OnReconnecting fires when a retry is scheduled, immediately, with the
	// fixed interval the timer will wait.
	OnReconnecting func(interval time.Duration)
}

// Config contains the session settings.
type Config struct {
	URL               string
	Token             string
	ReconnectInterval time.Duration
}

// Client maintains one outbound control-plane session with fixed-interval
// auto-reconnect. Named handlers must be registered before Start.
type Client struct {
	cfg       Config
	callbacks Callbacks
	dialer    *websocket.Dialer

	mu             sync.Mutex
	handlers       map[string]Handler
	defaultHandler func(name string, payload json.RawMessage)
	conn           *websocket.Conn
	connected      bool
	stopping       bool
	timer          *time.Timer
	runCtx         context.Context

	// writeMu serializes frame writes; gorilla connections allow at most
	// one concurrent writer.
	writeMu sync.Mutex

	wg sync.WaitGroup

	messages     uint64
	reconnects   uint64
	sendsDropped uint64
	sends        uint64
}

// NewClient creates a session client. Register named handlers with Handle
// before calling Start.
func NewClient(cfg Config, callbacks Callbacks) *Client {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 30 * time.Second
	}
	return &Client{
		cfg:       cfg,
		callbacks: callbacks,
		dialer:    &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout},
		handlers:  make(map[string]Handler),
	}
}

// Handle registers the handler for one demultiplexed event name.
func (c *Client) Handle(name string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = h
}

// HandleDefault registers the catch-all for event names without a handler.
func (c *Client) HandleDefault(h func(name string, payload json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultHandler = h
}

// Start opens the transport with the configured bearer credential and begins
// reading. A failed dial reports the error, then schedules a reconnect like
// any abnormal disconnect would.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return fmt.Errorf("remote: client stopped")
	}
	c.runCtx = ctx
	c.mu.Unlock()

	attemptID := uuid.NewString()
	slog.Debug("dialing control plane", "url", c.cfg.URL, "attempt_id", attemptID)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.Token)

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		authFailure := resp != nil && resp.StatusCode == http.StatusUnauthorized
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		slog.Error("control plane dial failed",
			"url", c.cfg.URL,
			"attempt_id", attemptID,
			"auth_failure", authFailure,
			"error", err,
		)
		if c.callbacks.OnError != nil {
			c.callbacks.OnError(err, authFailure)
		}
		if c.callbacks.OnClose != nil {
			c.callbacks.OnClose(websocket.CloseAbnormalClosure)
		}
		c.scheduleReconnect()
		return fmt.Errorf("remote: dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	slog.Info("control plane session established", "url", c.cfg.URL, "attempt_id", attemptID)

	if c.callbacks.OnConnect != nil {
		c.callbacks.OnConnect()
	}

	c.wg.Add(1)
	go c.readLoop(conn)

	return nil
}

// readLoop reads frames until the transport drops, then decides whether the
// close was deliberate.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code := closeCode(err)

			c.mu.Lock()
			c.connected = false
			if c.conn == conn {
				c.conn = nil
			}
			stopping := c.stopping
			c.mu.Unlock()

			_ = conn.Close()

			slog.Info("control plane session closed", "code", code, "stopping", stopping)

			if c.callbacks.OnClose != nil {
				c.callbacks.OnClose(code)
			}
			if !stopping && code != CloseCodeShutdown {
				c.scheduleReconnect()
			}
			return
		}

		atomic.AddUint64(&c.messages, 1)
		c.dispatch(data)
	}
}

// dispatch decodes one inbound frame, notifies the generic data callback,
// then demultiplexes every top-level key into its named handler (or the
// catch-all).
func (c *Client) dispatch(data []byte) {
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("discarding malformed control plane frame", "error", err)
		if c.callbacks.OnError != nil {
			c.callbacks.OnError(fmt.Errorf("remote: malformed frame: %w", err), false)
		}
		return
	}

	if c.callbacks.OnData != nil {
		c.callbacks.OnData(msg)
	}

	names := make([]string, 0, len(msg))
	for name := range msg {
		names = append(names, name)
	}
	sort.Strings(names)

	c.mu.Lock()
	handlers := c.handlers
	fallback := c.defaultHandler
	c.mu.Unlock()

	for _, name := range names {
		if h, ok := handlers[name]; ok {
			h(msg[name])
		} else if fallback != nil {
			fallback(name, msg[name])
		}
	}
}

// scheduleReconnect arms the fixed-interval retry timer and reports it
// immediately. Retries repeat until Stop.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return
	}
	ctx := c.runCtx
	interval := c.cfg.ReconnectInterval
	c.mu.Unlock()

	atomic.AddUint64(&c.reconnects, 1)
	slog.Warn("control plane reconnect scheduled", "interval", interval)

	if c.callbacks.OnReconnecting != nil {
		c.callbacks.OnReconnecting(interval)
	}

	timer := time.AfterFunc(interval, func() {
		c.mu.Lock()
		stopping := c.stopping
		c.mu.Unlock()
		if stopping || (ctx != nil && ctx.Err() != nil) {
			return
		}
		// Start reports its own failures and re-arms the timer itself.
		_ = c.Start(ctx)
	})

	c.mu.Lock()
	c.timer = timer
	c.mu.Unlock()
}

// Send serializes and transmits a frame while the transport is open. It
// returns whether the send was attempted; a dropped send is never queued or
// retried. Frames are marshaled directly so the wire carries the bare JSON
// object with no trailing newline.
func (c *Client) Send(v interface{}) bool {
	c.mu.Lock()
	conn := c.conn
	open := c.connected
	c.mu.Unlock()

	if !open || conn == nil {
		atomic.AddUint64(&c.sendsDropped, 1)
		slog.Debug("dropping send, transport not open")
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("control plane send failed", "error", err)
		atomic.AddUint64(&c.sends, 1)
		return true
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Warn("control plane send failed", "error", err)
	}
	atomic.AddUint64(&c.sends, 1)
	return true
}

type subscribeRequest struct {
	Sub []string `json:"sub"`
}

// Subscribe sends the subscription frame for the given event ids.
func (c *Client) Subscribe(ids []string) bool {
	return c.Send(subscribeRequest{Sub: ids})
}

// Connected reports whether the transport is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stop closes the transport with the deliberate-shutdown sentinel,
// suppressing any further reconnect.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopping = true
	if c.timer != nil {
		c.timer.Stop()
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(CloseCodeShutdown, "gateway shutdown")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}

	c.wg.Wait()
	slog.Info("control plane session stopped")
}

// Stats is a thread-safe snapshot of session counters.
type Stats struct {
	Connected    bool
	Messages     uint64
	Reconnects   uint64
	Sends        uint64
	SendsDropped uint64
}

// Stats returns current session counters.
func (c *Client) Stats() Stats {
	return Stats{
		Connected:    c.Connected(),
		Messages:     atomic.LoadUint64(&c.messages),
		Reconnects:   atomic.LoadUint64(&c.reconnects),
		Sends:        atomic.LoadUint64(&c.sends),
		SendsDropped: atomic.LoadUint64(&c.sendsDropped),
	}
}

// closeCode extracts the transport close code from a read error. An abrupt
// drop without a close frame reads as abnormal closure.
func closeCode(err error) int {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}
