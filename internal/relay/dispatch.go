package relay

import (
	"encoding/json"

	"github.com/lanehart/beam/internal/event"
)

// dispatch interprets one inbound relay message. Runs on the reader goroutine
// only, so handling order matches arrival order. Malformed or unrecognized
// messages are logged and skipped; the connection stays open.
func (c *Client) dispatch(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.opts.Logger.Warn("relay decode", "err", err)
		return
	}

	switch msg.Type {
	case TypeDeviceList:
		c.handleDeviceList(msg)

	case TypeRequestStatus:
		c.handleRequestStatus()

	case TypeCommand:
		// Opaque passthrough; the host interprets the payload.
		c.opts.Sink.Emit(event.Event{Kind: event.RelayCommand, Payload: json.RawMessage(append([]byte(nil), raw...))})

	case TypeSelectProject:
		c.opts.Sink.Emit(event.Event{Kind: event.RelaySelect, Payload: msg.ProjectID})

	case TypeTerminalInput:
		// Remote input implies the device wants the session's output from now
		// on. No ack channel exists here, so unknown ids are dropped.
		c.opts.Sessions.MarkAttached(msg.TerminalID)
		if err := c.opts.Sessions.Write(msg.TerminalID, []byte(msg.Data)); err != nil {
			c.opts.Logger.Debug("relay input for unknown session", "id", msg.TerminalID)
		}

	case TypeAttachTerminal:
		c.handleAttach(msg.TerminalID)

	case TypeDetachTerminal:
		c.opts.Sessions.Detach(msg.TerminalID)

	case TypeKillTerminal:
		c.opts.Sessions.Detach(msg.TerminalID)
		c.opts.Sessions.Kill(msg.TerminalID)

	case TypeError:
		c.opts.Logger.Error("relay error", "code", msg.Code, "message", msg.Text)
		c.opts.Sink.Emit(event.Event{Kind: event.RelayError, Payload: map[string]string{
			"code":    msg.Code,
			"message": msg.Text,
		}})

	default:
		c.opts.Logger.Debug("relay unhandled message", "type", string(msg.Type))
	}
}

// handleDeviceList replaces the stored linked-device list. A persistence
// failure leaves the in-memory and stored lists diverged until the relay
// resends; that divergence is logged, not fatal.
func (c *Client) handleDeviceList(msg Message) {
	devices := msg.Devices
	if devices == nil {
		devices = []LinkedDevice{}
	}

	c.mu.Lock()
	c.cfg.LinkedDevices = devices
	cfg := c.cfg
	c.mu.Unlock()

	if err := c.opts.Store.SetRelayConfig(cfg); err != nil {
		c.opts.Logger.Error("persist device list", "err", err)
	}
	c.opts.Sink.Emit(event.Event{Kind: event.RelayDevices, Payload: devices})
}

// handleRequestStatus synthesizes a snapshot of projects and live sessions
// and enqueues one status_update reply.
func (c *Client) handleRequestStatus() {
	projects, err := c.opts.Projects.Projects()
	if err != nil {
		c.opts.Logger.Error("load projects for status", "err", err)
	}

	sessions := c.opts.Sessions.List()
	terminals := make([]TerminalInfo, 0, len(sessions))
	for _, s := range sessions {
		terminals = append(terminals, TerminalInfo{
			ID:    s.ID,
			Title: s.Title,
			Cwd:   s.Cwd,
			Type:  string(s.Kind),
		})
	}

	c.mu.Lock()
	active := c.activeProject
	c.mu.Unlock()

	c.Send(NewStatusUpdate(projects, active, terminals, c.opts.Theme))
}

// handleAttach replays the buffered output, then marks the session attached,
// then confirms. The replay is enqueued under the session's own lock
// (registry Attach contract), so it is ordered strictly before any live
// chunk forwarded to the same consumer. An unknown session id is an explicit
// failure.
func (c *Client) handleAttach(id string) {
	err := c.opts.Sessions.Attach(id, func(snapshot []byte) {
		if len(snapshot) > 0 {
			c.Send(NewTerminalOutput(id, string(snapshot)))
		}
	})
	if err != nil {
		c.Send(NewAttachResponse(id, false, "terminal not found"))
		return
	}
	c.Send(NewAttachResponse(id, true, ""))
}
