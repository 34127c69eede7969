package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Options tunes the connection loop
type Options struct {
	PingInterval   time.Duration
	ReconnectDelay time.Duration
	MaxReconnect   time.Duration
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 2 * time.Second
	}
	if o.MaxReconnect <= 0 {
		o.MaxReconnect = 30 * time.Second
	}
	return o
}

// Subscription is a standing pubsub request. It is replayed after every reconnect.
type Subscription struct {
	method  string
	params  []any
	handler func(json.RawMessage)

	serverID atomic.Uint64
}

// ID is the server side subscription id for the current connection, 0 when not subscribed
func (s *Subscription) ID() uint64 { return s.serverID.Load() }

type rpcMessage struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Params struct {
		Result       json.RawMessage `json:"result"`
		Subscription uint64          `json:"subscription"`
	} `json:"params"`
}

// Client is a reconnecting Solana pubsub client
type Client struct {
	url  string
	opts Options

	nextID atomic.Uint64

	mu        sync.Mutex
	conn      *websocket.Conn
	wanted    map[*Subscription]struct{}
	pending   map[uint64]*Subscription // request id -> subscription
	active    map[uint64]*Subscription // server id -> subscription
	connected atomic.Bool
	writeMu   sync.Mutex
}

// NewClient creates a client for url. Nothing is dialed until Run.
func NewClient(url string, opts Options) *Client {
	return &Client{
		url:     url,
		opts:    opts.withDefaults(),
		wanted:  make(map[*Subscription]struct{}),
		pending: make(map[uint64]*Subscription),
		active:  make(map[uint64]*Subscription),
	}
}

// Connected reports whether a session is live
func (c *Client) Connected() bool { return c.connected.Load() }

// Subscribe registers a subscription and sends it if a session is live
func (c *Client) Subscribe(method string, params []any, handler func(json.RawMessage)) *Subscription {
	sub := &Subscription{method: method, params: params, handler: handler}

	c.mu.Lock()
	c.wanted[sub] = struct{}{}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.send(conn, sub); err != nil {
			log.Warn().Err(err).Str("method", method).Msg("subscribe failed, will retry on reconnect")
		}
	}
	return sub
}

// AccountSubscribe watches an account with jsonParsed encoding at confirmed commitment
func (c *Client) AccountSubscribe(address string, handler func(json.RawMessage)) *Subscription {
	return c.Subscribe("accountSubscribe", []any{
		address,
		map[string]string{"encoding": "jsonParsed", "commitment": "confirmed"},
	}, handler)
}

// Unsubscribe drops sub; unsubMethod is the matching *Unsubscribe RPC
func (c *Client) Unsubscribe(sub *Subscription, unsubMethod string) {
	c.mu.Lock()
	delete(c.wanted, sub)
	id := sub.serverID.Swap(0)
	if id != 0 {
		delete(c.active, id)
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || id == 0 {
		return
	}
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  unsubMethod,
		"params":  []any{id},
	}
	if err := c.write(conn, req); err != nil {
		log.Debug().Err(err).Uint64("sub", id).Msg("unsubscribe failed")
	}
}

// Run dials and serves sessions until ctx is done, reconnecting with backoff
func (c *Client) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.ReconnectDelay
	policy.MaxInterval = c.opts.MaxReconnect

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			delay := policy.NextBackOff()
			log.Warn().Err(err).Dur("retry_in", delay).Msg("websocket dial failed")
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}
		policy.Reset()

		err = c.session(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		delay := policy.NextBackOff()
		log.Warn().Err(err).Dur("retry_in", delay).Msg("websocket disconnected")
		if !sleep(ctx, delay) {
			return nil
		}
	}
}

func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	subs := make([]*Subscription, 0, len(c.wanted))
	for sub := range c.wanted {
		subs = append(subs, sub)
	}
	c.mu.Unlock()
	c.connected.Store(true)
	log.Info().Int("subscriptions", len(subs)).Msg("websocket connected")

	defer func() {
		c.connected.Store(false)
		c.mu.Lock()
		c.conn = nil
		for id, sub := range c.active {
			sub.serverID.CompareAndSwap(id, 0)
		}
		clear(c.active)
		clear(c.pending)
		c.mu.Unlock()
		_ = conn.Close()
	}()

	for _, sub := range subs {
		if err := c.send(conn, sub); err != nil {
			return err
		}
	}

	stop := make(chan struct{})
	defer close(stop)
	go c.keepalive(ctx, conn, stop)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrCloseSent) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("websocket read: %w", err)
		}
		c.dispatch(raw)
	}
}

func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-stop:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(3*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) dispatch(raw []byte) {
	var msg rpcMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Debug().Err(err).Msg("undecodable websocket message")
		return
	}

	if msg.Method != "" {
		c.mu.Lock()
		sub := c.active[msg.Params.Subscription]
		c.mu.Unlock()
		if sub != nil && sub.handler != nil {
			sub.handler(msg.Params.Result)
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.pending[msg.ID]
	if !ok {
		return
	}
	delete(c.pending, msg.ID)
	if msg.Error != nil {
		log.Warn().Str("method", sub.method).Str("error", msg.Error.Message).Msg("subscription rejected")
		return
	}
	if _, still := c.wanted[sub]; !still {
		return
	}
	var id uint64
	if err := json.Unmarshal(msg.Result, &id); err != nil {
		return
	}
	sub.serverID.Store(id)
	c.active[id] = sub
}

func (c *Client) send(conn *websocket.Conn, sub *Subscription) error {
	reqID := c.nextID.Add(1)
	c.mu.Lock()
	c.pending[reqID] = sub
	c.mu.Unlock()

	return c.write(conn, map[string]any{
		"jsonrpc": "2.0",
		"id":      reqID,
		"method":  sub.method,
		"params":  sub.params,
	})
}

func (c *Client) write(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(v)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
