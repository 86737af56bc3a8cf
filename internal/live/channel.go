// Package live keeps a websocket open to the sync backend and wakes the domain's sync
// worker whenever the server reports a change.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/allisson/offline-sync/internal/errors"
	"github.com/allisson/offline-sync/internal/remote"
)

// State is the connection state of a Channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// errAuthRejected marks a session that ended because the server refused the token.
var errAuthRejected = apperrors.Wrap(apperrors.ErrChannelDisconnected, "authorization rejected")

// Notifier is told that the server has changes to pull.
type Notifier interface {
	Notify()
}

// TokenSource provides the current access token.
type TokenSource interface {
	Load(ctx context.Context) (remote.Tokens, error)
}

// Config holds live channel configuration
type Config struct {
	// BaseURL is the websocket root, e.g. "wss://api.example.com".
	BaseURL          string
	ReconnectDelay   time.Duration
	MaxBackoff       time.Duration
	MaxAuthFailures  int
	AuthCloseCode    int
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	HeartbeatTimeout time.Duration
}

// Channel is the live-update connection of one domain.
type Channel struct {
	config   Config
	domain   string
	tokens   TokenSource
	notifier Notifier
	logger   *slog.Logger

	mu    sync.RWMutex
	state State
}

// NewChannel creates a new Channel
func NewChannel(config Config, domainName string, tokens TokenSource, notifier Notifier, logger *slog.Logger) *Channel {
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 3 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.MaxAuthFailures <= 0 {
		config.MaxAuthFailures = 3
	}
	if config.AuthCloseCode == 0 {
		config.AuthCloseCode = 4001
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Channel{
		config:   config,
		domain:   domainName,
		tokens:   tokens,
		notifier: notifier,
		logger:   logger.With(slog.String("domain", domainName), slog.String("component", "live")),
		state:    StateDisconnected,
	}
}

// Name returns the channel's domain.
func (c *Channel) Name() string {
	return c.domain
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Channel) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// Run connects and reconnects until ctx is done, which returns nil. After
// MaxAuthFailures consecutive authorization failures it gives up with ErrReauthenticate.
func (c *Channel) Run(ctx context.Context) error {
	defer c.setState(StateDisconnected)

	authFailures := 0
	for {
		err := c.session(ctx)
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return nil
		}

		delay := c.config.ReconnectDelay
		if errors.Is(err, errAuthRejected) {
			authFailures++
			if authFailures >= c.config.MaxAuthFailures {
				c.logger.Error("live channel stopped after repeated authorization failures",
					slog.Int("failures", authFailures),
					slog.Any("error", err),
				)
				return apperrors.ErrReauthenticate
			}
			delay = min(c.config.ReconnectDelay*time.Duration(authFailures), c.config.MaxBackoff)
		} else {
			authFailures = 0
		}

		c.logger.Warn("live channel disconnected",
			slog.Any("error", err),
			slog.Duration("reconnect_in", delay),
			slog.Int("auth_failures", authFailures),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session runs one connection from dial to close.
func (c *Channel) session(ctx context.Context) error {
	tokens, err := c.tokens.Load(ctx)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrUnauthorized) {
			return fmt.Errorf("%w: %v", errAuthRejected, err)
		}
		return fmt.Errorf("%w: %v", apperrors.ErrChannelDisconnected, err)
	}

	c.setState(StateConnecting)

	dialCtx, cancelDial := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	conn, resp, err := websocket.Dial(dialCtx, c.endpoint(tokens.AccessToken), nil)
	cancelDial()
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: handshake status %d", errAuthRejected, resp.StatusCode)
		}
		return fmt.Errorf("%w: dial: %v", apperrors.ErrChannelDisconnected, err)
	}
	defer func() { _ = conn.CloseNow() }()

	c.setState(StateConnected)
	c.logger.Info("live channel connected")
	c.notifier.Notify()

	// The connection outlives ctx long enough to say goodbye.
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.Go(func() error { return c.readLoop(gctx, conn) })
	g.Go(func() error { return c.pingLoop(gctx, conn) })
	g.Go(func() error {
		select {
		case <-ctx.Done():
			c.closeGracefully(conn)
		case <-gctx.Done():
		}
		return nil
	})
	return g.Wait()
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		readCtx, cancel := context.WithTimeout(ctx, c.config.HeartbeatTimeout)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			return c.classifyReadError(err)
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("ignoring malformed live frame", slog.Any("error", err))
			continue
		}

		switch {
		case frame.triggersSync():
			c.logger.Debug("live event received", slog.String("type", frame.Type))
			c.notifier.Notify()
		case frame.Type == EventHeartbeat:
		default:
			c.logger.Debug("ignoring unknown live event", slog.String("type", frame.Type))
		}
	}
}

func (c *Channel) classifyReadError(err error) error {
	if websocket.CloseStatus(err) == websocket.StatusCode(c.config.AuthCloseCode) {
		return fmt.Errorf("%w: close code %d", errAuthRejected, c.config.AuthCloseCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: no frame within %s", apperrors.ErrChannelDisconnected, c.config.HeartbeatTimeout)
	}
	return fmt.Errorf("%w: %v", apperrors.ErrChannelDisconnected, err)
}

func (c *Channel) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	if c.config.PingInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.send(ctx, conn, Frame{Type: ControlPing}); err != nil {
				return fmt.Errorf("%w: ping: %v", apperrors.ErrChannelDisconnected, err)
			}
		}
	}
}

func (c *Channel) closeGracefully(conn *websocket.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.HandshakeTimeout)
	defer cancel()

	if err := c.send(ctx, conn, Frame{Type: ControlUnsubscribe}); err != nil {
		c.logger.Debug("failed to send unsubscribe", slog.Any("error", err))
	}
	_ = conn.Close(websocket.StatusNormalClosure, "client shutdown")
}

func (c *Channel) send(ctx context.Context, conn *websocket.Conn, frame Frame) error {
	writeCtx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, frame)
}

func (c *Channel) endpoint(accessToken string) string {
	query := url.Values{}
	query.Set("token", accessToken)
	return strings.TrimRight(c.config.BaseURL, "/") + "/ws/" + url.PathEscape(c.domain) + "?" + query.Encode()
}
