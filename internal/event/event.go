// Package event defines the host notification port. The session registry and
// the relay client publish a closed set of event kinds through a Sink so the
// surrounding application (GUI, IPC bridge, tests) can observe them without
// the core depending on any particular delivery mechanism.
package event

import (
	"log/slog"
)

type Kind string

const (
	SessionOutput     Kind = "session-output"
	SessionExited     Kind = "session-exited"
	RelayConnectivity Kind = "relay-connectivity-changed"
	RelayCommand      Kind = "relay-inbound-command"
	RelayDevices      Kind = "relay-devices-updated"
	RelayError        Kind = "relay-error"
	RelaySelect       Kind = "relay-select-project"
)

// Event carries one notification. SessionID is set for session-scoped kinds,
// Data for raw output chunks, Payload for structured relay payloads.
type Event struct {
	Kind      Kind   `json:"kind"`
	SessionID string `json:"sessionId,omitempty"`
	Data      []byte `json:"data,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

type Sink interface {
	Emit(evt Event)
}

// LogSink writes events to a logger. Output chunks are summarized by length
// rather than dumped.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Emit(evt Event) {
	if s.Logger == nil {
		return
	}
	if evt.Kind == SessionOutput {
		s.Logger.Debug("event", "kind", evt.Kind, "session", evt.SessionID, "bytes", len(evt.Data))
		return
	}
	s.Logger.Debug("event", "kind", evt.Kind, "session", evt.SessionID, "payload", evt.Payload)
}

// Discard drops every event. Useful as a default and in tests that only
// exercise registry semantics.
type Discard struct{}

func (Discard) Emit(Event) {}
