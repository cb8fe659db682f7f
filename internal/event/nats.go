package event

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes events as JSON on "beam.event.<kind>" so an out-of-process
// GUI or automation can subscribe. Publish failures are logged and dropped;
// event delivery is best-effort and must never stall a PTY reader.
type NATSSink struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewNATSSink(url string, logger *slog.Logger) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("beamd"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &NATSSink{conn: conn, logger: logger}, nil
}

func (s *NATSSink) Emit(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		s.logger.Warn("event marshal", "kind", evt.Kind, "err", err)
		return
	}
	if err := s.conn.Publish("beam.event."+string(evt.Kind), data); err != nil {
		s.logger.Warn("event publish", "kind", evt.Kind, "err", err)
	}
}

func (s *NATSSink) Close() {
	s.conn.Drain()
}
