package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"sentinel1090/internal/consistency"
)

// NATS subjects the publisher writes to.
const (
	SubjectMessages = "adsb.messages"
	SubjectVerdicts = "adsb.verdicts"

	streamName = "ADSB"
)

// Publisher streams message and verdict records over NATS JetStream so
// downstream consumers (dashboards, dataset builders) see them live.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and ensures the stream exists.
func NewPublisher(url string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{SubjectMessages, SubjectVerdicts},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Publisher{conn: nc, js: js}, nil
}

// WriteMessage publishes one message record.
func (p *Publisher) WriteMessage(rec *MessageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal message record: %w", err)
	}
	if _, err := p.js.Publish(SubjectMessages, data); err != nil {
		return fmt.Errorf("failed to publish message record: %w", err)
	}
	return nil
}

// WriteVerdict publishes one verdict.
func (p *Publisher) WriteVerdict(v *consistency.Verdict) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	if _, err := p.js.Publish(SubjectVerdicts, data); err != nil {
		return fmt.Errorf("failed to publish verdict: %w", err)
	}
	return nil
}

// Close drains the connection so queued publishes flush before shutdown.
func (p *Publisher) Close() error {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
			return err
		}
	}
	return nil
}
