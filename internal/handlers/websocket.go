package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/neochat/roulette/internal/core"
	"github.com/neochat/roulette/internal/models"
	"github.com/neochat/roulette/internal/redis"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Client is one WebSocket connection with its outbound buffer.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// Hub tracks live WebSocket clients and delivers the engine's outbound
// frames to them. It is the engine's Notifier: sends are channel pushes and
// never block, so the engine can call it while holding its state lock.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	engine  *core.Engine
}

func NewHub(nameMax int) *Hub {
	h := &Hub{clients: make(map[string]*Client)}
	h.engine = core.New(h, nameMax)
	return h
}

// Engine exposes the matchmaking engine for the HTTP status handlers.
func (h *Hub) Engine() *core.Engine { return h.engine }

// Send implements core.Notifier for a single connection.
func (h *Hub) Send(id string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal message", "err", err)
		return
	}
	h.mu.RLock()
	client, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case client.Send <- data:
	default:
		slog.Warn("send buffer full, dropping frame", "id", id)
	}
}

// Broadcast implements core.Notifier for all connections. Presence
// snapshots are additionally mirrored to redis when configured.
func (h *Hub) Broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal message", "err", err)
		return
	}
	h.mu.RLock()
	for id, client := range h.clients {
		select {
		case client.Send <- data:
		default:
			slog.Warn("send buffer full, dropping frame", "id", id)
		}
	}
	h.mu.RUnlock()

	if _, ok := msg.(models.OnlineCount); ok && redis.Enabled() {
		go redis.MirrorStats(data)
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.ID)
}

// HandleSignaling upgrades the connection and attaches it to the engine.
func HandleSignaling(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade connection", "err", err)
			return
		}

		client := &Client{
			ID:   uuid.New().String(),
			Conn: conn,
			Send: make(chan []byte, 256),
		}

		// The client must be reachable before Connect fires the greeting
		// and the first presence broadcast.
		hub.addClient(client)
		hub.engine.Connect(client.ID)

		go client.writePump()
		go client.readPump(hub)
	}
}

func (c *Client) readPump(hub *Hub) {
	defer func() {
		hub.removeClient(c)
		hub.engine.Disconnect(c.ID)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket error", "id", c.ID, "err", err)
			}
			break
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			slog.Warn("failed to parse message", "id", c.ID, "err", err)
			continue
		}

		switch msg.Type {
		case models.EventRegister:
			hub.engine.Register(c.ID, msg.Name)
		case models.EventFind:
			hub.engine.Find(c.ID)
		case models.EventStopSearch:
			hub.engine.StopSearch(c.ID)
		case models.EventMediaReady:
			hub.engine.SetMediaReady(c.ID, msg.Ready)
		case models.EventSkip:
			hub.engine.Skip(c.ID, msg.MatchID)
		case models.EventStop, models.EventStopCall:
			hub.engine.Stop(c.ID, msg.MatchID)
		case models.EventOffer, models.EventAnswer, models.EventCandidate:
			hub.engine.Relay(msg.Type, c.ID, msg.To, msg.MatchID, msg.Payload)
		case models.EventWhoami:
			hub.engine.Whoami(c.ID)
		default:
			slog.Warn("unknown message type", "id", c.ID, "type", msg.Type)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
