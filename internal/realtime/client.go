package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	DefaultReconnectDelay = 2 * time.Second
	DefaultMaxReconnects  = 5

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	eventBuffer      = 64
)

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrAuthRejected = errors.New("realtime: authentication rejected")
)

// AllEvents are the change events a collection subscription can carry.
var AllEvents = []string{"create", "update", "delete"}

// TokenSource hands out a valid access token for the websocket handshake.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Options configures reconnect behaviour.
type Options struct {
	ReconnectDelay time.Duration
	// MaxReconnects caps consecutive reconnect attempts. 0 means unlimited.
	MaxReconnects int
	Dialer        *websocket.Dialer
	Logger        zerolog.Logger
}

// Client is a Directus realtime connection with its subscriptions.
type Client struct {
	url    string
	tokens TokenSource
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	stop    chan struct{}
	subs    map[string]*Subscription
	nextUID uint64

	// reauthConn is the connection with a re-authentication in flight.
	reauthConn *websocket.Conn

	writeMu sync.Mutex
}

// WebsocketURL derives the realtime endpoint from the REST base URL.
func WebsocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/websocket"
	u.RawQuery = ""
	return u.String(), nil
}

func New(baseURL string, tokens TokenSource, opts Options) (*Client, error) {
	wsURL, err := WebsocketURL(baseURL)
	if err != nil {
		return nil, err
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.MaxReconnects < 0 {
		opts.MaxReconnects = 0
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}

	return &Client{
		url:    wsURL,
		tokens: tokens,
		opts:   opts,
		logger: opts.Logger.With().Str("component", "realtime").Logger(),
		subs:   make(map[string]*Subscription),
	}, nil
}

// Connected reports whether a live, authenticated connection is held.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect dials the endpoint and authenticates. It is a no-op when already
// connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}
	if c.stop == nil {
		c.stop = make(chan struct{})
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.conn = conn
	go c.readLoop(conn)

	c.logger.Debug().Str("url", c.url).Msg("Realtime connected")
	return nil
}

// Disconnect closes the connection without reconnecting. Every subscription
// ends.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	subs := c.takeSubscriptions()
	c.mu.Unlock()

	for _, sub := range subs {
		sub.end()
	}
	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

// Subscribe registers for one change event on a collection. The
// subscription ends when ctx is cancelled, on Unsubscribe, on Disconnect, or
// when reconnecting gives up.
func (c *Client) Subscribe(ctx context.Context, collection, event string, query *Query) (*Subscription, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.nextUID++
	sub := &Subscription{
		uid:        fmt.Sprintf("%s:%s:%d", collection, event, c.nextUID),
		collection: collection,
		event:      event,
		query:      query,
		events:     make(chan Event, eventBuffer),
		done:       make(chan struct{}),
		client:     c,
	}
	c.subs[sub.uid] = sub
	c.mu.Unlock()

	if err := c.write(conn, sub.subscribeMessage()); err != nil {
		c.remove(sub.uid)
		sub.end()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", collection, err)
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Unsubscribe()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// SubscribeAll subscribes to create, update and delete on a collection.
func (c *Client) SubscribeAll(ctx context.Context, collection string, query *Query) ([]*Subscription, error) {
	subs := make([]*Subscription, 0, len(AllEvents))
	for _, event := range AllEvents {
		sub, err := c.Subscribe(ctx, collection, event, query)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	conn, _, err := c.opts.Dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", c.url, err)
	}
	if err := authenticate(ctx, conn, token); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func authenticate(ctx context.Context, conn *websocket.Conn, token string) error {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(message{Type: "auth", AccessToken: token}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read auth response: %w", err)
		}
		var msg message
		if json.Unmarshal(data, &msg) != nil || msg.Type != "auth" {
			continue
		}
		if msg.Status != "ok" {
			if msg.Error != nil && msg.Error.Message != "" {
				return fmt.Errorf("%w: %s", ErrAuthRejected, msg.Error.Message)
			}
			return ErrAuthRejected
		}
		return nil
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug().Err(err).Msg("Ignoring malformed realtime message")
			continue
		}
		c.handleMessage(conn, msg)
	}
}

func (c *Client) handleMessage(conn *websocket.Conn, msg message) {
	switch msg.Type {
	case "ping":
		if err := c.write(conn, message{Type: "pong"}); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to answer ping")
		}

	case "subscription":
		if msg.Event == "init" {
			return
		}
		c.mu.Lock()
		sub := c.subs[msg.UID]
		c.mu.Unlock()
		if sub == nil {
			return
		}
		ev := Event{Collection: sub.collection, Event: msg.Event, Data: msg.Data}
		if !sub.deliver(ev) {
			c.logger.Warn().
				Str("collection", sub.collection).
				Str("event", msg.Event).
				Msg("Subscriber is not keeping up, dropping realtime event")
		}

	case "auth":
		c.handleAuth(conn, msg)

	case "error":
		l := c.logger.Warn().Str("uid", msg.UID)
		if msg.Error != nil {
			l = l.Str("code", msg.Error.Code).Str("message", msg.Error.Message)
		}
		l.Msg("Realtime error")
	}
}

// handleAuth reacts to auth messages after the handshake. Expired tokens are
// answered with a failed auth message, which is retried once on the same
// connection. A failure while that retry is pending drops the connection and
// leaves recovery to reconnect.
func (c *Client) handleAuth(conn *websocket.Conn, msg message) {
	c.mu.Lock()
	pending := c.reauthConn == conn
	if msg.Status == "ok" || pending {
		c.reauthConn = nil
	} else {
		c.reauthConn = conn
	}
	c.mu.Unlock()

	switch {
	case msg.Status == "ok":
	case pending:
		err := ErrAuthRejected
		if msg.Error != nil && msg.Error.Message != "" {
			err = fmt.Errorf("%w: %s", ErrAuthRejected, msg.Error.Message)
		}
		c.handleClose(conn, err)
	default:
		go c.reauthenticate(conn)
	}
}

func (c *Client) reauthenticate(conn *websocket.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()

	token, err := c.tokens.AccessToken(ctx)
	if err == nil {
		err = c.write(conn, message{Type: "auth", AccessToken: token})
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to refresh realtime authentication")
		c.handleClose(conn, err)
	}
}

func (c *Client) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// Already handled, or closed by Disconnect.
		c.mu.Unlock()
		return
	}
	if c.reauthConn == conn {
		c.reauthConn = nil
	}
	c.conn = nil
	stop := c.stop
	c.mu.Unlock()

	conn.Close()
	c.logger.Warn().Err(err).Msg("Realtime connection lost")
	go c.reconnect(stop)
}

func (c *Client) reconnect(stop chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for attempt := 1; c.opts.MaxReconnects == 0 || attempt <= c.opts.MaxReconnects; attempt++ {
		timer := time.NewTimer(c.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		dialCtx, dialCancel := context.WithTimeout(ctx, handshakeTimeout)
		conn, err := c.dial(dialCtx)
		dialCancel()
		if err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Realtime reconnect failed")
			continue
		}

		if c.adopt(conn, stop) {
			c.logger.Info().Int("attempt", attempt).Msg("Realtime reconnected")
		}
		return
	}

	c.logger.Error().Int("attempts", c.opts.MaxReconnects).Msg("Giving up on realtime reconnect")

	c.mu.Lock()
	if c.stop != stop || c.conn != nil {
		c.mu.Unlock()
		return
	}
	subs := c.takeSubscriptions()
	c.mu.Unlock()
	for _, sub := range subs {
		sub.end()
	}
}

// adopt installs a reconnected conn and replays live subscriptions on it.
func (c *Client) adopt(conn *websocket.Conn, stop chan struct{}) bool {
	c.mu.Lock()
	if c.stop != stop || c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		return false
	}
	c.conn = conn
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	go c.readLoop(conn)

	for _, sub := range subs {
		if err := c.write(conn, sub.subscribeMessage()); err != nil {
			c.logger.Warn().Err(err).Str("collection", sub.collection).Msg("Failed to resubscribe")
		}
	}
	return true
}

func (c *Client) write(conn *websocket.Conn, msg message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) remove(uid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[uid]; !ok {
		return false
	}
	delete(c.subs, uid)
	return true
}

// takeSubscriptions empties the registry. Callers hold c.mu.
func (c *Client) takeSubscriptions() []*Subscription {
	subs := make([]*Subscription, 0, len(c.subs))
	for uid, sub := range c.subs {
		subs = append(subs, sub)
		delete(c.subs, uid)
	}
	return subs
}
