package relay

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lanehart/beam/internal/event"
	"github.com/lanehart/beam/internal/term"
)

const (
	defaultRetryInterval = 5 * time.Second
	outboundQueueSize    = 256
)

// SessionManager is the registry surface the command bridge consumes. The
// client references sessions only by id; it never owns them.
type SessionManager interface {
	Write(id string, data []byte) error
	Kill(id string)
	List() []term.Info
	Attach(id string, emit func(snapshot []byte)) error
	MarkAttached(id string)
	Detach(id string)
}

// ProjectSource supplies the project list for status synthesis.
type ProjectSource interface {
	Projects() ([]ProjectInfo, error)
}

// ConfigStore persists the relay config document.
type ConfigStore interface {
	RelayConfig() (Config, error)
	SetRelayConfig(Config) error
}

// Options wires the client's collaborators.
type Options struct {
	Store    ConfigStore
	Sessions SessionManager
	Projects ProjectSource
	Sink     event.Sink
	Logger   *slog.Logger
	Theme    string

	// RetryInterval overrides the fixed reconnect delay. Tests shorten it.
	RetryInterval time.Duration
}

// Client keeps one logical connection to the relay:
// connect, register, serve, disconnect, then retry after a fixed delay while
// enabled. Disable tears the loop down immediately from any state.
type Client struct {
	opts  Options
	retry time.Duration

	mu            sync.Mutex
	cfg           Config
	gen           int           // bumped on enable/disable/regenerate; stale loops exit
	stop          chan struct{} // closed to interrupt the current loop's retry wait
	conn          *websocket.Conn
	outbound      chan []byte
	connected     bool
	activeProject string
}

func NewClient(opts Options) (*Client, error) {
	if opts.Sink == nil {
		opts.Sink = event.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cfg, err := opts.Store.RelayConfig()
	if err != nil {
		return nil, err
	}
	retry := opts.RetryInterval
	if retry <= 0 {
		retry = defaultRetryInterval
	}
	return &Client{opts: opts, retry: retry, cfg: cfg}, nil
}

// Start launches the connect loop if the persisted config says enabled. Used
// once at host startup; later toggling goes through Enable/Disable.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Enabled {
		c.startLoopLocked()
	}
}

// Enable persists the flag and starts the connect loop. Idempotent while
// already enabled.
func (c *Client) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Enabled && c.stop != nil {
		return nil
	}
	c.cfg.Enabled = true
	if err := c.opts.Store.SetRelayConfig(c.cfg); err != nil {
		c.cfg.Enabled = false
		return err
	}
	c.startLoopLocked()
	return nil
}

// Disable persists the flag and abandons any in-flight connection without
// waiting for a graceful close.
func (c *Client) Disable() error {
	c.mu.Lock()
	c.cfg.Enabled = false
	err := c.opts.Store.SetRelayConfig(c.cfg)
	wasConnected := c.connected
	c.teardownLocked()
	c.mu.Unlock()

	if wasConnected {
		c.emitConnectivity(false)
	}
	c.opts.Logger.Info("relay disabled")
	return err
}

// Close tears down any in-flight connection without touching the persisted
// enabled flag. Used at host shutdown so the relay comes back on restart.
func (c *Client) Close() {
	c.mu.Lock()
	wasConnected := c.connected
	c.teardownLocked()
	c.mu.Unlock()

	if wasConnected {
		c.emitConnectivity(false)
	}
}

// RegeneratePairing rotates the code and passphrase, clears the linked-device
// list (prior trust is void), persists, and reconnects with the new
// credentials when enabled.
func (c *Client) RegeneratePairing() (Config, error) {
	c.mu.Lock()
	c.cfg.PairingCode = GeneratePairingCode()
	c.cfg.PairingPassphrase = GeneratePassphrase()
	c.cfg.LinkedDevices = nil
	if err := c.opts.Store.SetRelayConfig(c.cfg); err != nil {
		cfg := c.cfg
		c.mu.Unlock()
		return cfg, err
	}
	cfg := c.cfg
	wasConnected := c.connected
	if c.cfg.Enabled {
		c.teardownLocked()
		c.startLoopLocked()
	}
	c.mu.Unlock()

	if wasConnected {
		c.emitConnectivity(false)
	}
	return cfg, nil
}

// Connected reports whether the client is currently registered with a relay.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Status returns the current config and connectivity.
func (c *Client) Status() (Config, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, c.connected
}

// SetActiveProject records the project id reported in status updates and
// notifies the paired device of the switch.
func (c *Client) SetActiveProject(id string) {
	c.mu.Lock()
	c.activeProject = id
	c.mu.Unlock()
	c.Send(NewProjectChanged(id))
}

// NotifyGitFilesChanged tells the paired device a repository changed on disk.
func (c *Client) NotifyGitFilesChanged(repoPath string) {
	c.Send(NewGitFilesChanged(repoPath))
}

// Send enqueues one message, fire-and-forget: dropped silently when not
// registered or when the outbound queue is full. Callers that need feedback
// must observe connectivity separately.
func (c *Client) Send(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.opts.Logger.Warn("relay encode", "type", msg.Type, "err", err)
		return
	}
	c.mu.Lock()
	out := c.outbound
	ok := c.connected
	c.mu.Unlock()
	if !ok || out == nil {
		return
	}
	select {
	case out <- data:
	default:
		c.opts.Logger.Warn("relay outbound queue full, dropping", "type", msg.Type)
	}
}

// ForwardOutput implements term.Forwarder: live output for attached sessions.
func (c *Client) ForwardOutput(sessionID string, chunk []byte) {
	if !c.Connected() {
		return
	}
	c.Send(NewTerminalOutput(sessionID, string(chunk)))
}

// startLoopLocked invalidates any previous loop and launches a new one.
func (c *Client) startLoopLocked() {
	c.gen++
	c.stop = make(chan struct{})
	go c.run(c.gen, c.stop)
}

// teardownLocked invalidates the current loop and abandons its connection.
func (c *Client) teardownLocked() {
	c.gen++
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.outbound = nil
	c.connected = false
}

func (c *Client) current(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.cfg.Enabled
}

func (c *Client) wsURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.TrimRight(c.cfg.RelayURL, "/") + "/ws"
}

// run is the connect loop: one iteration per connection attempt, a fixed
// delay between attempts, exiting as soon as its generation goes stale.
func (c *Client) run(gen int, stop chan struct{}) {
	for {
		if !c.current(gen) {
			return
		}
		url := c.wsURL()
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			c.opts.Logger.Error("relay connect", "url", url, "err", err)
		} else {
			c.serve(gen, conn)
		}
		select {
		case <-stop:
			return
		case <-time.After(c.retry):
		}
	}
}

// serve registers over the fresh connection and runs the reader/writer pair
// until either side fails. Inbound messages are dispatched strictly in
// arrival order by this goroutine alone.
func (c *Client) serve(gen int, conn *websocket.Conn) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	out := make(chan []byte, outboundQueueSize)
	c.conn = conn
	c.outbound = out
	c.connected = true
	cfg := c.cfg
	c.mu.Unlock()

	c.opts.Logger.Info("relay connected", "device", cfg.DeviceID)
	c.emitConnectivity(true)

	// Registration goes out exactly once, before the writer starts draining
	// the queue, so identity always precedes any queued traffic.
	reg, _ := json.Marshal(newRegisterDesktop(cfg))
	if err := conn.WriteMessage(websocket.TextMessage, reg); err != nil {
		c.opts.Logger.Error("relay register", "err", err)
	}

	quit := make(chan struct{})
	go func() {
		for {
			select {
			case msg := <-out:
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-quit:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.opts.Logger.Error("relay read", "err", err)
			}
			break
		}
		c.dispatch(data)
	}

	close(quit)
	_ = conn.Close()

	c.mu.Lock()
	torn := c.conn == conn
	if torn {
		c.conn = nil
		c.outbound = nil
		c.connected = false
	}
	c.mu.Unlock()

	// Disable/regenerate already tore the state down and reported it.
	if torn {
		c.opts.Logger.Info("relay disconnected")
		c.emitConnectivity(false)
	}
}

func (c *Client) emitConnectivity(connected bool) {
	c.opts.Sink.Emit(event.Event{
		Kind:    event.RelayConnectivity,
		Payload: map[string]bool{"isConnected": connected},
	})
}
