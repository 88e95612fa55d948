package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/wrapcycler/pkg/types"
)

// DefaultBroadcastInterval is how often snapshots are pushed to clients.
const DefaultBroadcastInterval = time.Second

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow requests without Origin header (same-origin or direct)
		}

		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if originURL.Host == r.Host {
			return true
		}
		// Allow localhost connections (common for development)
		return originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1"
	},
}

// wsClient serializes writes to one connection.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WebSocketServer streams run snapshots to connected clients.
type WebSocketServer struct {
	status   StatusSource
	interval time.Duration
	logger   *slog.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	done     chan struct{}
	stopOnce sync.Once
}

// NewWebSocketServer creates a new WebSocket server.
func NewWebSocketServer(status StatusSource, interval time.Duration, logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultBroadcastInterval
	}
	return &WebSocketServer{
		status:   status,
		interval: interval,
		logger:   logger,
		clients:  make(map[*wsClient]struct{}),
		done:     make(chan struct{}),
	}
}

// Handler returns the WebSocket HTTP handler. Each client receives the
// current snapshot on connect and then every broadcast.
func (ws *WebSocketServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
			return
		}
		client := &wsClient{conn: conn}

		ws.clientsMu.Lock()
		ws.clients[client] = struct{}{}
		total := len(ws.clients)
		ws.clientsMu.Unlock()
		ws.logger.Debug("WebSocket client connected", slog.Int("total_clients", total))

		defer func() {
			ws.clientsMu.Lock()
			delete(ws.clients, client)
			total := len(ws.clients)
			ws.clientsMu.Unlock()
			conn.Close()
			ws.logger.Debug("WebSocket client disconnected", slog.Int("total_clients", total))
		}()

		if data, err := json.Marshal(ws.status.Snapshot()); err == nil {
			if err := client.write(data); err != nil {
				return
			}
		}

		// Read messages (mainly for ping/pong and close)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ws.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

// Start begins the broadcasting goroutine.
func (ws *WebSocketServer) Start() {
	go ws.broadcastLoop()
}

// Stop stops broadcasting and closes all client connections. Safe to call
// more than once.
func (ws *WebSocketServer) Stop() {
	ws.stopOnce.Do(func() {
		close(ws.done)

		ws.clientsMu.Lock()
		for c := range ws.clients {
			c.conn.Close()
		}
		ws.clients = make(map[*wsClient]struct{})
		ws.clientsMu.Unlock()
	})
}

func (ws *WebSocketServer) broadcastLoop() {
	ticker := time.NewTicker(ws.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			snap := ws.status.Snapshot()
			// An idle collector has nothing new to say.
			if snap.Status == types.StatusIdle && snap.RunID == "" {
				continue
			}
			ws.broadcast(snap)
		}
	}
}

func (ws *WebSocketServer) broadcast(snap types.RunMetrics) {
	data, err := json.Marshal(snap)
	if err != nil {
		ws.logger.Error("Failed to marshal snapshot", slog.String("error", err.Error()))
		return
	}

	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()

	for c := range ws.clients {
		if err := c.write(data); err != nil {
			// Will be cleaned up by the read loop
			ws.logger.Debug("Failed to write to WebSocket", slog.String("error", err.Error()))
		}
	}
}

// ClientCount returns the number of connected clients.
func (ws *WebSocketServer) ClientCount() int {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()
	return len(ws.clients)
}
