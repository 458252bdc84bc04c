package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shadow-hunter/shadowhunter-go/internal/contracts"
	"github.com/shadow-hunter/shadowhunter-go/internal/events"
	"github.com/shadow-hunter/shadowhunter-go/internal/observability"
	"github.com/shadow-hunter/shadowhunter-go/internal/reqcontext"
)

const (
	// pingInterval is how often the server pushes a {type:"ping"} envelope.
	pingInterval = 30 * time.Second

	// idleTimeout closes a connection that produced no reads for this long.
	idleTimeout = 90 * time.Second

	writeWait      = 10 * time.Second
	clientSendSize = 64
)

// Hub fans broker alert and graph-change messages out to WebSocket clients.
// A client that cannot keep up is disconnected rather than blocking the rest.
type Hub struct {
	logger  *zap.SugaredLogger
	metrics *observability.Metrics

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	subs    []*events.Subscription
	closed  bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan contracts.WSMessage
}

// NewHub subscribes to the alert and graph-change topics and returns a hub
// ready to accept connections on /ws.
func NewHub(broker *events.Broker, metrics *observability.Metrics, logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	h := &Hub{
		logger:  logger,
		metrics: metrics,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	h.subs = append(h.subs,
		broker.Subscribe(events.TopicAlerts, func(msg any) {
			if alert, ok := msg.(contracts.Alert); ok {
				h.broadcast(contracts.WSMessage{Type: "alert", Payload: alert})
			}
		}),
		broker.Subscribe(events.TopicGraphChanges, func(msg any) {
			if _, ok := msg.(contracts.GraphChange); ok {
				h.broadcast(contracts.WSMessage{Type: "graph"})
			}
		}),
	)
	return h
}

// handleWS upgrades the connection and starts the client pumps.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	r = r.WithContext(reqcontext.WithRequestSource(r.Context(), reqcontext.SourceWebSocket))
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugw("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := &wsClient{conn: conn, send: make(chan contracts.WSMessage, clientSendSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.metrics.WSClientConnected()
	h.logger.Infow("websocket client connected",
		"remote", r.RemoteAddr, "source", string(reqcontext.GetRequestSource(r.Context())))

	go h.writePump(c)
	go h.readPump(c)
}

// broadcast queues msg for every client, dropping clients whose queue is
// full.
func (h *Hub) broadcast(msg contracts.WSMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
			h.metrics.WSClientDisconnected()
			h.logger.Warnw("websocket client too slow, dropping")
		}
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		h.metrics.WSClientDisconnected()
	}
	_ = c.conn.Close()
}

// writePump pushes queued envelopes plus a periodic ping heartbeat.
func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		h.remove(c)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(contracts.WSMessage{Type: "ping"}); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages. Reads only serve to detect closes and
// enforce the idle deadline.
func (h *Hub) readPump(c *wsClient) {
	defer h.remove(c)
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close detaches from the broker and disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	for _, sub := range h.subs {
		sub.Close()
	}
	for _, c := range clients {
		_ = c.conn.Close()
		h.metrics.WSClientDisconnected()
	}
}
