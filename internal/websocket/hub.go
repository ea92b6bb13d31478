// Package websocket pushes live-reload notifications to connected pages.
//
// A Hub owns every client connection from a single goroutine: registration,
// removal and broadcast are all channel messages to that goroutine, so the
// client set needs no lock. Each client gets a write pump draining its send
// buffer and a read pump that only watches for the connection going away.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/hydra/internal/logging"
	"github.com/conneroisu/hydra/internal/metrics"
	"github.com/conneroisu/hydra/internal/protocol"
	"github.com/conneroisu/hydra/internal/registry"
)

const (
	sendBuffer   = 16
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// OriginValidator decides whether a browser origin may connect.
type OriginValidator interface {
	IsAllowedOrigin(origin string) bool
}

// AllowedOrigins accepts an origin when it equals an entry or its host name
// does. "*" accepts everything. Requests without an Origin header come
// from non-browser clients and are accepted.
type AllowedOrigins []string

// IsAllowedOrigin implements OriginValidator.
func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	for _, allowed := range a {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Hostname()) {
			return true
		}
	}
	return false
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string
}

// Hub fans live-reload messages out to every connected client.
type Hub struct {
	origins OriginValidator
	logger  logging.Logger
	metrics *metrics.Metrics

	clients    map[*client]struct{}
	count      atomic.Int64
	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	shutdownOnce sync.Once
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l logging.Logger) Option {
	return func(h *Hub) { h.logger = l.WithComponent("live") }
}

// WithMetrics records the client count.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub starts a hub. Call Shutdown to stop it.
func NewHub(origins OriginValidator, opts ...Option) *Hub {
	if origins == nil {
		origins = AllowedOrigins{"*"}
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		origins:    origins,
		logger:     logging.NewNop(),
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 64),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.run()
	return h
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	origin := r.Header.Get("Origin")
	if !h.origins.IsAllowedOrigin(origin) {
		h.logger.Warn(r.Context(), nil, "Live connection rejected", "origin", origin, "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	// Origins were checked above.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "Live upgrade failed", "remote", r.RemoteAddr)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer), remote: r.RemoteAddr}
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount()
			h.logger.Debug(h.ctx, "Live client connected", "remote", c.remote, "clients", len(h.clients))

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client: drop it rather than stall everyone else.
					h.logger.Warn(h.ctx, nil, "Live client too slow, disconnecting", "remote", c.remote)
					h.drop(c)
				}
			}

		case <-h.ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

// drop must run on the hub goroutine.
func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.setCount()
	h.logger.Debug(h.ctx, "Live client disconnected", "remote", c.remote, "clients", len(h.clients))
}

func (h *Hub) setCount() {
	h.count.Store(int64(len(h.clients)))
	h.metrics.SetLiveClients(len(h.clients))
}

func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
	}()
	for {
		// The write pump closes the connection on shutdown, which ends Read.
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && h.ctx.Err() == nil {
				h.logger.Debug(h.ctx, "Live read ended", "remote", c.remote, "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close(websocket.StatusNormalClosure, "")

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				h.logger.Debug(h.ctx, "Live write failed", "remote", c.remote, "error", err)
				return
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// Announce tells every client that components changed. An empty list
// means everything may have changed.
func (h *Hub) Announce(components []string) {
	raw, err := json.Marshal(protocol.LiveMessage{
		Type:       protocol.LiveReload,
		Components: components,
		Timestamp:  time.Now().UnixMilli(),
	})
	if err != nil {
		h.logger.Error(h.ctx, err, "Failed to marshal live message")
		return
	}
	select {
	case h.broadcast <- raw:
	case <-h.ctx.Done():
	default:
		h.logger.Warn(h.ctx, nil, "Live broadcast queue full, dropping message", "components", len(components))
	}
}

// Follow subscribes to live and, until ctx or the hub is done, announces
// the components changed by every swap. Events from one swap go out as a
// single message. The returned channel closes once it stops.
func (h *Hub) Follow(ctx context.Context, live *registry.Live) <-chan struct{} {
	events := live.Watch()
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		defer live.UnWatch(events)
		for {
			select {
			case ev := <-events:
				names := []string{ev.Name}
			drain:
				for {
					select {
					case more := <-events:
						names = append(names, more.Name)
					default:
						break drain
					}
				}
				h.Announce(names)
			case <-ctx.Done():
				return
			case <-h.ctx.Done():
				return
			}
		}
	}()
	return stopped
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Shutdown disconnects every client and stops the hub.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(h.cancel)
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
