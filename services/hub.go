package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ShahidDS/game-time-tracker/models"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	MessageSessionRecorded = "session_recorded"
	MessageSessionDeleted  = "session_deleted"
	MessagePong            = "pong"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Hub fans committed session changes out to websocket subscribers.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
	log        *slog.Logger
}

// Client is one live-feed subscriber. Zero filters match every session.
type Client struct {
	hub    *Hub
	id     string
	socket *websocket.Conn
	send   chan []byte
	userID uint
	gameID uint
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type envelope struct {
	userID uint
	gameID uint
	data   []byte
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run owns the client set until ctx is cancelled, then closes every socket.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
			return nil

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.log.Info("ws_client_registered",
				slog.String("client_id", client.id),
				slog.Uint64("user_id", uint64(client.userID)),
				slog.Uint64("game_id", uint64(client.gameID)),
				slog.Int("clients", total),
			)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.log.Info("ws_client_unregistered", slog.String("client_id", client.id), slog.Int("clients", total))

		case msg := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if !client.matches(msg.userID, msg.gameID) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					h.log.Warn("ws_client_slow", slog.String("client_id", client.id))
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (c *Client) matches(userID, gameID uint) bool {
	if c.userID != 0 && c.userID != userID {
		return false
	}
	if c.gameID != 0 && c.gameID != gameID {
		return false
	}
	return true
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) SessionRecorded(ctx context.Context, session *models.PlaySession) {
	h.publish(MessageSessionRecorded, session)
}

func (h *Hub) SessionDeleted(ctx context.Context, session *models.PlaySession) {
	h.publish(MessageSessionDeleted, session)
}

func (h *Hub) publish(messageType string, session *models.PlaySession) {
	if h == nil {
		return
	}
	data, err := json.Marshal(Message{Type: messageType, Payload: session})
	if err != nil {
		h.log.Error("ws_marshal_failed", slog.String("type", messageType), slog.Any("error", err))
		return
	}
	select {
	case h.broadcast <- envelope{userID: session.UserID, gameID: session.GameID, data: data}:
	default:
		h.log.Warn("ws_broadcast_dropped", slog.String("type", messageType))
	}
}

// RegisterClient attaches an upgraded connection and starts its pumps.
func (h *Hub) RegisterClient(conn *websocket.Conn, userID, gameID uint) *Client {
	client := &Client{
		hub:    h,
		id:     uuid.NewString(),
		socket: conn,
		send:   make(chan []byte, sendBuffer),
		userID: userID,
		gameID: gameID,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return nil
	}

	go client.writePump()
	go client.readPump()

	return client
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.socket.Close()
	}()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("ws_read_failed", slog.String("client_id", c.id), slog.Any("error", err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.log.Debug("ws_bad_message", slog.String("client_id", c.id), slog.Any("error", err))
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "ping":
		data, err := json.Marshal(Message{Type: MessagePong, Payload: MessagePong})
		if err != nil {
			return
		}
		c.hub.mutex.RLock()
		defer c.hub.mutex.RUnlock()
		if !c.hub.clients[c] {
			return
		}
		select {
		case c.send <- data:
		default:
		}
	default:
		c.hub.log.Debug("ws_unknown_message", slog.String("client_id", c.id), slog.String("type", msg.Type))
	}
}
