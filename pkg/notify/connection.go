package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ConnectionConfig describes the client that publishes batch reports.
type ConnectionConfig struct {
	URL  string
	Name string

	// Token wins over User and Password.
	Token    string
	User     string
	Password string

	Timeout       time.Duration
	ReconnectWait time.Duration
	MaxReconnects int // -1 retries forever
}

// DefaultConnectionConfig returns the settings used by the command line.
func DefaultConnectionConfig(url string) *ConnectionConfig {
	return &ConnectionConfig{
		URL:           url,
		Name:          "terser",
		Timeout:       5 * time.Second,
		ReconnectWait: 2 * time.Second,
		MaxReconnects: 10,
	}
}

// natsOptions translates the config, routing connection events to logger.
func (c *ConnectionConfig) natsOptions(logger *zap.Logger) nats.Options {
	o := nats.GetDefaultOptions()
	o.Url = c.URL
	o.Name = c.Name
	o.Timeout = c.Timeout
	o.ReconnectWait = c.ReconnectWait
	o.MaxReconnect = c.MaxReconnects

	switch {
	case c.Token != "":
		o.Token = c.Token
	case c.User != "":
		o.User, o.Password = c.User, c.Password
	}

	o.DisconnectedErrCB = func(_ *nats.Conn, err error) {
		if err != nil {
			logger.Warn("Lost connection to NATS", zap.Error(err))
		}
	}
	o.ReconnectedCB = func(nc *nats.Conn) {
		logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
	}
	o.ClosedCB = func(*nats.Conn) {
		logger.Debug("NATS connection closed")
	}
	return o
}

// Connect dials the server in the background and gives up when ctx is done. A
// connection that completes after that is closed.
func Connect(ctx context.Context, config *ConnectionConfig, logger *zap.Logger) (*nats.Conn, error) {
	if config == nil {
		return nil, errors.New("nats: missing connection config")
	}
	if config.URL == "" {
		return nil, errors.New("nats: missing server url")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := config.natsOptions(logger)
	var dialErr error
	dialed := make(chan *nats.Conn, 1)
	go func() {
		conn, err := opts.Connect()
		dialErr = err
		dialed <- conn
	}()

	select {
	case conn := <-dialed:
		if dialErr != nil {
			return nil, fmt.Errorf("nats: connect %s: %w", config.URL, dialErr)
		}
		return conn, nil
	case <-ctx.Done():
		go func() {
			if conn := <-dialed; conn != nil {
				conn.Close()
			}
		}()
		return nil, fmt.Errorf("nats: connect %s: %w", config.URL, ctx.Err())
	}
}

// Close flushes pending reports before closing conn.
func Close(conn *nats.Conn) error {
	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return fmt.Errorf("nats: drain: %w", err)
	}
	return nil
}
