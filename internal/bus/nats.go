// Package bus forwards component events to external consumers.
package bus

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// Publisher sends every envelope to <prefix>.<source>.<kind>.
type Publisher struct {
	conn   conn
	prefix string
	logger zerolog.Logger
}

func NewPublisher(url, prefix string, logger zerolog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("pulsewatch"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return newPublisher(nc, prefix, logger), nil
}

func newPublisher(c conn, prefix string, logger zerolog.Logger) *Publisher {
	if prefix == "" {
		prefix = "pulsewatch.events"
	}
	return &Publisher{
		conn:   c,
		prefix: strings.TrimSuffix(prefix, "."),
		logger: logger.With().Str("component", "nats_publisher").Logger(),
	}
}

func (p *Publisher) Subject(env Envelope) string {
	return p.prefix + "." + env.Source + "." + env.Kind
}

func (p *Publisher) Publish(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", env.Kind, err)
	}
	if err := p.conn.Publish(p.Subject(env), data); err != nil {
		return fmt.Errorf("publish %s event: %w", env.Kind, err)
	}
	return nil
}

// Forward publishes env and logs a failure instead of returning it. It is
// meant to be used as an event subscriber.
func (p *Publisher) Forward(env Envelope) {
	if err := p.Publish(env); err != nil {
		p.logger.Warn().Err(err).Str("subject", p.Subject(env)).Msg("Failed to publish event")
	}
}

func (p *Publisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
		p.conn.Close()
	}
}
