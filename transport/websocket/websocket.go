// Package websocket provides a point-to-point transport over one WebSocket
// connection. One endpoint dials, the other accepts exactly one peer. Text
// frames carry uisync messages unchanged.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gorilla/websocket"

	errspkg "github.com/drblury/uisync/internal/runtime/errors"
	"github.com/drblury/uisync/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "websocket"

// Path is where a listening endpoint accepts its peer.
const Path = "/uisync"

const closeGracePeriod = time.Second

// Dialer allows overriding the client dialer for testing.
var Dialer = websocket.DefaultDialer

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func init() {
	Register()
}

// Register registers the WebSocket transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.WebSocketCapabilities)
}

// Build dials WebSocketURL when set, otherwise listens on
// WebSocketListenAddress and waits for the peer in the background.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Channel, error) {
	if url := cfg.GetWebSocketURL(); url != "" {
		return Dial(ctx, url, logger)
	}
	if addr := cfg.GetWebSocketListenAddress(); addr != "" {
		return Listen(addr, logger)
	}
	return nil, fmt.Errorf("websocket: either a url or a listen address is required")
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.WebSocketCapabilities
}

// Channel is a transport.Channel over a single WebSocket connection.
type Channel struct {
	logger watermill.LoggerAdapter

	claimed atomic.Bool
	connMu  sync.Mutex
	conn    *websocket.Conn
	ready   chan struct{}

	writeMu sync.Mutex

	subMu      sync.Mutex
	subscribed bool

	server   *http.Server
	listener net.Listener

	closeOnce sync.Once
	closed    chan struct{}
}

func newChannel(logger watermill.LoggerAdapter) *Channel {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Channel{
		logger: logger,
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// Dial connects to a listening peer.
func Dial(ctx context.Context, url string, logger watermill.LoggerAdapter) (*Channel, error) {
	conn, _, err := Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	c := newChannel(logger)
	c.attach(conn)
	return c, nil
}

// NewAcceptor returns a channel that becomes connected once a peer upgrades
// through its ServeHTTP. Mount it on any mux.
func NewAcceptor(logger watermill.LoggerAdapter) *Channel {
	return newChannel(logger)
}

// Listen serves an acceptor on addr at Path.
func Listen(addr string, logger watermill.LoggerAdapter) (*Channel, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	c := NewAcceptor(logger)

	mux := http.NewServeMux()
	mux.Handle(Path, c)
	c.listener = ln
	c.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("WebSocket server stopped", err, watermill.LogFields{"address": addr})
		}
	}()
	c.logger.Info("Waiting for WebSocket peer", watermill.LogFields{"address": ln.Addr().String(), "path": Path})
	return c, nil
}

// Addr returns the listening address, or nil for dialled channels.
func (c *Channel) Addr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// ServeHTTP accepts the first peer. Later attempts get 409 Conflict.
func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-c.closed:
		http.Error(w, "channel closed", http.StatusGone)
		return
	default:
	}

	if !c.claimed.CompareAndSwap(false, true) {
		http.Error(w, "peer already connected", http.StatusConflict)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.claimed.Store(false)
		c.logger.Error("WebSocket upgrade failed", err, nil)
		return
	}
	if !c.attach(conn) {
		c.logger.Info("WebSocket peer connected after close, dropping it", watermill.LogFields{"remote": r.RemoteAddr})
		return
	}
	c.logger.Info("WebSocket peer connected", watermill.LogFields{"remote": r.RemoteAddr})
}

// attach stores conn as the peer connection. Close reads c.conn only after
// closing c.closed, so a connection that arrives once the channel is shut is
// closed here instead of leaking.
func (c *Channel) attach(conn *websocket.Conn) bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	select {
	case <-c.closed:
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(closeGracePeriod))
		_ = conn.Close()
		return false
	default:
	}
	c.conn = conn
	close(c.ready)
	return true
}

func (c *Channel) waitConn(ctx context.Context) (*websocket.Conn, error) {
	select {
	case <-c.ready:
	case <-c.closed:
		return nil, errspkg.ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case <-c.closed:
		return nil, errspkg.ErrChannelClosed
	default:
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn, nil
}

// SendMessage writes msg as one text frame, waiting for the peer when none
// is connected yet.
func (c *Channel) SendMessage(ctx context.Context, msg string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := c.waitConn(ctx)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// Subscribe starts the read loop. The stream closes when the peer goes away,
// ctx is done or the channel is closed.
func (c *Channel) Subscribe(ctx context.Context) (<-chan string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.subMu.Lock()
	if c.subscribed {
		c.subMu.Unlock()
		return nil, errors.New("uisync: channel already has a subscriber")
	}
	c.subscribed = true
	c.subMu.Unlock()

	select {
	case <-c.closed:
		return nil, errspkg.ErrChannelClosed
	default:
	}

	out := make(chan string)
	go func() {
		defer close(out)
		conn, err := c.waitConn(ctx)
		if err != nil {
			return
		}
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.isClosed() {
					c.logger.Error("WebSocket read failed", err, nil)
				}
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			select {
			case out <- string(data):
			case <-ctx.Done():
				return
			case <-c.closed:
				return
			}
		}
	}()
	return out, nil
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close sends a close frame, closes the connection and stops the listener.
func (c *Channel) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeGracePeriod))
			c.writeMu.Unlock()
			if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if c.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), closeGracePeriod)
			defer cancel()
			errs = append(errs, c.server.Shutdown(ctx))
		}
	})
	return errors.Join(errs...)
}

// Capabilities returns the capabilities of this transport.
func (c *Channel) Capabilities() transport.Capabilities {
	return transport.WebSocketCapabilities
}
