package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"walletprovider/internal/jsonrpc"
)

const (
	defaultReadTimeout   = 60 * time.Second
	handshakeTimeout     = 10 * time.Second
	writeControlTimeout  = 10 * time.Second
	minReconnectInterval = 100 * time.Millisecond
	pushQueueSize        = 1024
)

// WSOptions configures a WSClient
type WSOptions struct {
	URL               string
	MessageTimeout    time.Duration
	ReconnectInterval time.Duration
	PingInterval      time.Duration
}

// WSClient is a Transport over a single WebSocket connection to the wallet
// process. Requests and responses are matched by id; frames without an id are
// push events and are handed to the push handler one at a time, in order.
type WSClient struct {
	opts   WSOptions
	logger zerolog.Logger

	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex

	pending   map[int64]chan *jsonrpc.Response
	pendingMu sync.Mutex
	reqID     int64

	push        PushHandler
	onConnState func(connected bool)
	handlerMu   sync.RWMutex

	pushChan chan *jsonrpc.Notification

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWSClient creates a client. Connect must be called before use.
func NewWSClient(opts WSOptions, logger zerolog.Logger) *WSClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &WSClient{
		opts:     opts,
		logger:   logger.With().Str("component", "transport").Str("url", opts.URL).Logger(),
		pending:  make(map[int64]chan *jsonrpc.Response),
		pushChan: make(chan *jsonrpc.Notification, pushQueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetPushHandler implements Transport
func (c *WSClient) SetPushHandler(h PushHandler) {
	c.handlerMu.Lock()
	c.push = h
	c.handlerMu.Unlock()
}

// SetConnStateHandler installs a callback for connection state changes
func (c *WSClient) SetConnStateHandler(fn func(connected bool)) {
	c.handlerMu.Lock()
	c.onConnState = fn
	c.handlerMu.Unlock()
}

// Connect dials the wallet and starts the reader, push and ping goroutines
func (c *WSClient) Connect(ctx context.Context) error {
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.connMu.Unlock()
		return nil
	}
	c.connMu.Unlock()

	c.logger.Info().Msg("WebSocket connecting")
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect WebSocket: %w", err)
	}

	c.setConn(conn)
	c.logger.Info().Msg("WebSocket connected")

	c.wg.Add(1)
	go c.pushWorker()
	c.wg.Add(1)
	go c.readLoop()
	if c.opts.PingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop()
	}
	return nil
}

// Connected returns true if the WebSocket connection is established
func (c *WSClient) Connected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

// Close closes the connection, fails every pending request and stops all goroutines
func (c *WSClient) Close() {
	c.closeOnce.Do(func() {
		c.logger.Info().Msg("WebSocket closing")
		c.cancel()
		c.dropConn()
		c.failPending()
		c.wg.Wait()
		c.logger.Info().Msg("WebSocket closed")
	})
}

// Request implements Transport
func (c *WSClient) Request(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	if err := req.Validate(); err != nil {
		return nil, jsonrpc.NewErrorWithData(jsonrpc.CodeInvalidRequest, "Invalid Request", err.Error())
	}

	select {
	case <-c.ctx.Done():
		return nil, ErrClosed
	default:
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	reqID := atomic.AddInt64(&c.reqID, 1)
	respChan := make(chan *jsonrpc.Response, 1)

	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()

	wireReq := req.Clone()
	wireReq.JSONRPC = jsonrpc.Version
	wireReq.ID = jsonrpc.NewIDInt(reqID)

	reqBytes, err := wireReq.Bytes()
	if err != nil {
		c.forget(reqID)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	c.writeMu.Lock()
	writeErr := conn.WriteMessage(websocket.TextMessage, reqBytes)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.forget(reqID)
		return nil, fmt.Errorf("failed to send request: %w", writeErr)
	}

	select {
	case resp := <-respChan:
		if resp == nil {
			return nil, ErrNotConnected
		}
		if resp.HasError() {
			return nil, resp.Error
		}
		if len(resp.Result) == 0 {
			return json.RawMessage("null"), nil
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.forget(reqID)
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrClosed
	}
}

// Notify sends a request without waiting for its answer. The response, if
// the wallet sends one, is discarded.
func (c *WSClient) Notify(req *jsonrpc.Request) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	wireReq := req.Clone()
	wireReq.JSONRPC = jsonrpc.Version
	wireReq.ID = jsonrpc.NewIDInt(atomic.AddInt64(&c.reqID, 1))
	reqBytes, err := wireReq.Bytes()
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, reqBytes)
}

func (c *WSClient) forget(reqID int64) {
	c.pendingMu.Lock()
	delete(c.pending, reqID)
	c.pendingMu.Unlock()
}

func (c *WSClient) readTimeout() time.Duration {
	if c.opts.MessageTimeout == 0 {
		return defaultReadTimeout
	}
	return c.opts.MessageTimeout
}

func (c *WSClient) setConn(conn *websocket.Conn) {
	readTimeout := c.readTimeout()
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.notifyConnState(true)
}

func (c *WSClient) dropConn() {
	c.connMu.Lock()
	had := c.conn != nil
	if had {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
	if had {
		c.notifyConnState(false)
	}
}

func (c *WSClient) notifyConnState(connected bool) {
	c.handlerMu.RLock()
	fn := c.onConnState
	c.handlerMu.RUnlock()
	if fn != nil {
		fn(connected)
	}
}

// failPending wakes every waiting request with a nil response
func (c *WSClient) failPending() {
	c.pendingMu.Lock()
	for _, ch := range c.pending {
		select {
		case ch <- nil:
		default:
		}
	}
	c.pending = make(map[int64]chan *jsonrpc.Response)
	c.pendingMu.Unlock()
}

func (c *WSClient) pingLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn == nil {
				continue
			}
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeControlTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("ping write failed")
			}
		}
	}
}

func (c *WSClient) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn == nil {
			c.logger.Info().Msg("WebSocket reader stopped (no connection)")
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout()))
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
				c.logger.Info().Msg("WebSocket reader stopped (shutdown)")
				return
			default:
			}

			c.logger.Warn().Err(err).Msg("WebSocket connection lost, reconnecting")
			if c.reconnect() {
				continue
			}
			return
		}

		msg, err := jsonrpc.ParseMessage(data)
		if err != nil {
			c.logger.Warn().Err(err).Int("len", len(data)).Msg("ws message parse error")
			continue
		}

		if msg.Notification != nil {
			// blocks rather than drop: push events must not be lost or reordered
			select {
			case c.pushChan <- msg.Notification:
			case <-c.ctx.Done():
				return
			}
			continue
		}
		c.deliverResponse(msg.Response)
	}
}

func (c *WSClient) deliverResponse(resp *jsonrpc.Response) {
	reqID, ok := resp.ID.Int64()
	if !ok {
		c.logger.Warn().Interface("id", resp.ID.Value()).Msg("response with non-numeric id")
		return
	}

	c.pendingMu.Lock()
	ch, exists := c.pending[reqID]
	if exists {
		delete(c.pending, reqID)
	}
	c.pendingMu.Unlock()

	if exists {
		select {
		case ch <- resp:
		default:
		}
	}
}

func (c *WSClient) pushWorker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case n := <-c.pushChan:
			c.handlerMu.RLock()
			h := c.push
			c.handlerMu.RUnlock()
			if h == nil {
				c.logger.Debug().Str("event", n.Method).Msg("push event with no handler")
				continue
			}
			c.runPush(h, n)
		}
	}
}

func (c *WSClient) runPush(h PushHandler, n *jsonrpc.Notification) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("event", n.Method).Msg("push handler panic")
		}
	}()
	h(n.Method, n.Params)
}

func (c *WSClient) reconnect() bool {
	c.dropConn()
	c.failPending()
	c.logger.Info().Msg("WebSocket connection closed, starting reconnection loop")

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	interval := c.opts.ReconnectInterval
	if interval < minReconnectInterval {
		interval = minReconnectInterval
	}
	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info().Msg("WebSocket reconnection stopped (shutdown)")
			return false
		case <-time.After(interval):
		}

		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Dur("nextRetry", interval).Msg("WebSocket reconnection failed, will retry")
			continue
		}

		c.setConn(conn)
		c.logger.Info().Msg("WebSocket reconnected successfully")
		return true
	}
}
