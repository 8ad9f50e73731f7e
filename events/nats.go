package events

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// NATSMirror forwards events to a NATS subject per job
// (<prefix>.<jobID>.<event type>). Mirroring is fire-and-forget: publish
// failures are logged and never affect the in-process bus.
type NATSMirror struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSMirror connects to url and returns a mirror publishing under prefix.
func NewNATSMirror(url, prefix string, logger *slog.Logger) (*NATSMirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("docscope-event-mirror"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSMirror{conn: conn, prefix: prefix, logger: logger}, nil
}

// Mirror publishes e as JSON.
func (m *NATSMirror) Mirror(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		m.logger.Warn("Failed to marshal event for mirror", "type", string(e.Type), "error", err)
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", m.prefix, e.JobID, string(e.Type))
	if err := m.conn.Publish(subject, payload); err != nil {
		m.logger.Warn("Failed to mirror event", "subject", subject, "error", err)
	}
}

// Close drains the NATS connection.
func (m *NATSMirror) Close() {
	if m.conn != nil {
		_ = m.conn.Drain()
		m.conn.Close()
	}
}
