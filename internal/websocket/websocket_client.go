// Package websocket provides a WebSocket client used by the realtime telemetry source
// and the terminal client.
//
// The client owns one connection, decodes every inbound frame through a Handler into
// a typed channel, keeps the connection alive with protocol pings and optional
// application heartbeats, and shuts down exactly once.
package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// defaultPingPeriod defines the default interval for sending WebSocket ping messages.
	defaultPingPeriod = 15 * time.Second

	// defaultSendTimeout defines the default timeout for WebSocket write operations.
	defaultSendTimeout = 5 * time.Second

	// defaultReadLimit defines the maximum size of incoming WebSocket messages.
	defaultReadLimit = 1 << 20 // 1MB

	// defaultHandshakeTimeout defines the maximum time allowed for WebSocket handshake.
	defaultHandshakeTimeout = 10 * time.Second

	defaultBufferSize = 1000
)

// Common errors returned by the WebSocket client
var (
	// ErrClientShuttingDown indicates that the client is in the process of shutting down.
	ErrClientShuttingDown = errors.New("client is shutting down")

	// ErrNotConnected is returned by Send before a connection exists.
	ErrNotConnected = errors.New("websocket not connected")
)

// Config defines settings for the WebSocket client.
type Config[T any] struct {
	// Endpoint is the WebSocket URL to connect to.
	// Required: This field must be provided and non-empty.
	Endpoint string

	// Handler decodes each incoming message and emits zero or more values.
	// Required: This field must be provided and non-nil.
	Handler func([]byte, chan<- T) error

	// Header is sent with the handshake request.
	Header http.Header

	// TLSInsecureSkip disables TLS certificate verification.
	TLSInsecureSkip bool

	// PingPeriod is the interval between WebSocket ping messages.
	PingPeriod time.Duration

	// SendTimeout is the maximum time allowed for WebSocket write operations.
	SendTimeout time.Duration

	// SubscriptionMessages contains messages to send immediately after connection.
	SubscriptionMessages [][]byte

	// Heartbeat builds an application-level keepalive message, sent every
	// HeartbeatPeriod. Nil disables it.
	Heartbeat       func() []byte
	HeartbeatPeriod time.Duration

	// BufferSize is the capacity of the Messages channel.
	BufferSize int
}

// Client wraps a websocket.Conn with lifecycle and message handling logic.
type Client[T any] struct {
	conn atomic.Pointer[websocket.Conn]

	// Messages delivers decoded values to consumers. It is closed when the read loop exits.
	Messages chan T

	disconnect chan struct{}
	errChan    chan error
	writeMu    sync.Mutex

	cfg    *Config[T]
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// NewClient returns a connected client with its subscriptions sent and its
// background goroutines running.
func NewClient[T any](ctx context.Context, cfg Config[T]) (*Client[T], error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint URL is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("message handler is required")
	}
	if cfg.Heartbeat != nil && cfg.HeartbeatPeriod <= 0 {
		return nil, errors.New("heartbeat period is required with a heartbeat")
	}

	if cfg.PingPeriod == 0 {
		cfg.PingPeriod = defaultPingPeriod
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Header == nil {
		cfg.Header = make(http.Header)
	}

	ctx, cancel := context.WithCancel(ctx)

	client := &Client[T]{
		cfg:        &cfg,
		ctx:        ctx,
		cancel:     cancel,
		disconnect: make(chan struct{}),
		errChan:    make(chan error, 1),
		Messages:   make(chan T, cfg.BufferSize),
	}

	if err := client.run(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start client: %w", err)
	}
	return client, nil
}

func (c *Client[T]) run() error {
	logger := log.With().
		Str("endpoint", c.cfg.Endpoint).
		Str("component", "run").
		Logger()

	logger.Info().Msg("starting WebSocket client")

	conn, err := c.dial(c.ctx)
	if err != nil {
		return fmt.Errorf("initial dial failed: %w", err)
	}

	conn.SetReadLimit(defaultReadLimit)
	conn.SetPongHandler(func(string) error {
		deadline := time.Now().Add(c.cfg.PingPeriod * 2)
		if err := conn.SetReadDeadline(deadline); err != nil {
			logger.Warn().Err(err).Msg("failed to set read deadline in pong handler")
		}
		return nil
	})
	c.conn.Store(conn)

	for _, msg := range c.cfg.SubscriptionMessages {
		if err := c.Send(msg); err != nil {
			logger.Error().Err(err).Msg("subscription error")
			if closeErr := conn.Close(); closeErr != nil {
				logger.Warn().Err(closeErr).Msg("error closing connection during cleanup")
			}
			return err
		}
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.keepaliveLoop()
	}()
	// Not tracked by wg: it calls Close, which waits on wg.
	go c.shutdownListener()

	return nil
}

// Send writes a text message. Writes are serialized.
func (c *Client[T]) Send(msg []byte) error {
	return c.write(websocket.TextMessage, msg)
}

func (c *Client[T]) write(messageType int, data []byte) error {
	conn := c.conn.Load()
	if conn == nil {
		return ErrNotConnected
	}
	if c.ctx.Err() != nil {
		return ErrClientShuttingDown
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.SendTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return conn.WriteMessage(messageType, data)
}

func (c *Client[T]) readLoop() {
	conn := c.conn.Load()
	logger := log.With().
		Str("endpoint", c.cfg.Endpoint).
		Str("component", "readLoop").
		Logger()

	logger.Info().Msg("starting read loop")
	defer func() {
		logger.Info().Msg("read loop exiting")
		close(c.disconnect)
		close(c.Messages)
		// A dead connection stops keepalives and triggers the shutdown listener.
		c.cancel()

		select {
		case c.errChan <- ErrClientShuttingDown:
		default:
			logger.Debug().Msg("error channel full, skipping error send")
		}
	}()

	for {
		select {
		case <-c.ctx.Done():
			logger.Info().Msg("context cancelled, exiting read loop")
			return
		default:
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info().Err(err).Msg("websocket closed normally")
				} else if websocket.IsUnexpectedCloseError(err) {
					logger.Warn().Err(err).Msg("unexpected websocket closure")
				} else {
					logger.Error().Err(err).Msg("read error")
				}

				select {
				case c.errChan <- err:
				default:
					logger.Warn().Err(err).Msg("error channel full, dropping error")
				}
				return
			}

			logger.Debug().
				Int("messageType", messageType).
				Int("bytes", len(data)).
				Msg("received message")

			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error().Any("recover", r).Msg("panic in message handler")
					}
				}()

				if err := c.cfg.Handler(data, c.Messages); err != nil {
					logger.Warn().Err(err).Msg("error handling message")
				}
			}()
		}
	}
}

// keepaliveLoop sends protocol pings and, when configured, application heartbeats.
func (c *Client[T]) keepaliveLoop() {
	ping := time.NewTicker(c.cfg.PingPeriod)
	defer ping.Stop()

	var heartbeat <-chan time.Time
	if c.cfg.Heartbeat != nil {
		t := time.NewTicker(c.cfg.HeartbeatPeriod)
		defer t.Stop()
		heartbeat = t.C
	}

	logger := log.With().
		Str("endpoint", c.cfg.Endpoint).
		Str("component", "keepaliveLoop").
		Logger()

	logger.Info().Dur("period", c.cfg.PingPeriod).Msg("starting keepalive loop")
	defer logger.Info().Msg("keepalive loop exiting")

	for {
		select {
		case <-ping.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				logger.Warn().Err(err).Msg("ping error")
			} else {
				logger.Debug().Msg("ping sent")
			}
		case <-heartbeat:
			if err := c.Send(c.cfg.Heartbeat()); err != nil {
				logger.Warn().Err(err).Msg("heartbeat error")
			} else {
				logger.Debug().Msg("heartbeat sent")
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client[T]) shutdownListener() {
	<-c.ctx.Done()
	log.Info().Str("endpoint", c.cfg.Endpoint).Msg("context cancelled, shutting down WebSocket client")
	c.Close()
}

// Close gracefully shuts down the client. It can be called multiple times safely.
func (c *Client[T]) Close() {
	c.once.Do(func() {
		logger := log.With().
			Str("endpoint", c.cfg.Endpoint).
			Str("component", "close").
			Logger()

		logger.Info().Msg("initiating graceful shutdown")
		c.cancel()

		if ws := c.conn.Load(); ws != nil {
			c.writeMu.Lock()
			if err := ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			); err != nil {
				logger.Debug().Err(err).Msg("failed to send close frame")
			}
			c.writeMu.Unlock()

			if err := ws.Close(); err != nil {
				logger.Debug().Err(err).Msg("error closing websocket connection")
			}
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			logger.Info().Msg("all goroutines completed")
		case <-time.After(5 * time.Second):
			logger.Warn().Msg("timeout waiting for goroutines to complete")
		}
	})
}

func (c *Client[T]) dial(ctx context.Context) (*websocket.Conn, error) {
	logger := log.With().
		Str("endpoint", c.cfg.Endpoint).
		Bool("tlsInsecureSkip", c.cfg.TLSInsecureSkip).
		Dur("handshakeTimeout", defaultHandshakeTimeout).
		Logger()

	logger.Info().Msg("attempting websocket connection")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: c.cfg.TLSInsecureSkip},
		HandshakeTimeout: defaultHandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.Endpoint, c.cfg.Header)
	if err != nil {
		if resp != nil {
			logger.Error().
				Err(err).
				Int("statusCode", resp.StatusCode).
				Str("status", resp.Status).
				Msg("connection failed")
		} else {
			logger.Error().Err(err).Msg("connection failed")
		}
		return nil, err
	}

	logger.Info().Msg("websocket connection established")
	return conn, nil
}

// DisconnectChan returns a channel that is closed when the client disconnects.
func (c *Client[T]) DisconnectChan() <-chan struct{} {
	return c.disconnect
}

// ErrChan returns a channel that emits any terminal read errors.
func (c *Client[T]) ErrChan() <-chan error {
	return c.errChan
}
