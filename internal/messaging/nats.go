// Package messaging provides a NATS client wrapper used to fan match events
// out to other Ad-lib services such as chat bots or the web front end.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/adlib/coffee-chat/pkg/logger"
)

// NATS subject patterns.
const (
	SubjectMatchFound     = "match.found"     // + .<username>
	SubjectMatchWithdrawn = "match.withdrawn" // participant left the pool
)

// MatchFoundSubject returns the per-user subject a match result is sent on.
func MatchFoundSubject(username string) string {
	return SubjectMatchFound + "." + username
}

// NATSClient wraps the NATS connection with the publishers the matcher uses.
type NATSClient struct {
	conn *nats.Conn
	log  logger.Logger
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "adlib-matcher",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, log logger.Logger) (*NATSClient, error) {
	ctx := context.Background()
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn(ctx, "nats disconnected", logger.Error(err))
			} else {
				log.Warn(ctx, "nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info(ctx, "nats reconnected", logger.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info(ctx, "nats connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Info(ctx, "nats connected", logger.String("url", nc.ConnectedUrl()))

	return &NATSClient{conn: nc, log: log}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// PublishMatchFound publishes data to match.found.<username>.
func (c *NATSClient) PublishMatchFound(username string, data []byte) error {
	return c.Publish(MatchFoundSubject(username), data)
}

// PublishMatchWithdrawn announces that a participant left the pool.
func (c *NATSClient) PublishMatchWithdrawn(data []byte) error {
	return c.Publish(SubjectMatchWithdrawn, data)
}

// Close flushes pending publishes and closes the NATS connection.
func (c *NATSClient) Close() {
	ctx := context.Background()
	if err := c.conn.Drain(); err != nil {
		c.log.Warn(ctx, "nats connection drain", logger.Error(err))
	}

	c.log.Info(ctx, "nats client closed")
}
