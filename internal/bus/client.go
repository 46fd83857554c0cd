// Package bus publishes discovery events over NATS.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/audiolibrelab/disconium/internal/config"
	"github.com/audiolibrelab/disconium/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Client wraps a NATS connection.
type Client struct {
	conn    *nats.Conn
	subject string
	log     *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	options := []nats.Option{
		nats.Name("disconium"),
		nats.Timeout(time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	subject := cfg.Subject
	if subject == "" {
		subject = protocol.SubjectDiscoveryMatched
	}

	log.Info("Connected to NATS", "servers", url, "subject", subject)

	return &Client{conn: conn, subject: subject, log: log}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("Closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// PublishDiscovery sends a matched track on the discovery subject.
func (c *Client) PublishDiscovery(ctx context.Context, d protocol.Discovery) error {
	return c.publish(ctx, c.subject, d)
}

// RecordAttempt sends every settled attempt on the attempt subject.
func (c *Client) RecordAttempt(ctx context.Context, a protocol.AttemptSettled) error {
	return c.publish(ctx, protocol.SubjectAttemptSettled, a)
}

func (c *Client) publish(ctx context.Context, subject string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	c.log.Debug("Published event", "subject", subject, "bytes", len(data))
	return nil
}
