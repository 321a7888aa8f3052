package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Broadcaster is a hub of Admin API subscribers watching tunnel
// lifecycle events live over /api/live, fed by the Admin API's tunnel
// create and delete handlers rather than by polling the tunnels table.
type Broadcaster struct {
	clients    map[*liveClient]bool
	broadcast  chan liveEvent
	register   chan *liveClient
	unregister chan *liveClient
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	ctx        context.Context
	cancel     context.CancelFunc
	log        zerolog.Logger
}

type liveClient struct {
	hub    *Broadcaster
	conn   *websocket.Conn
	send   chan liveEvent
	userID string
}

// liveEvent is one message pushed to every connected Admin API
// subscriber: a tunnel creation or removal.
type liveEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	Time    time.Time   `json:"time"`
}

func NewBroadcaster(log zerolog.Logger) *Broadcaster {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broadcaster{
		clients:    make(map[*liveClient]bool),
		broadcast:  make(chan liveEvent, 256),
		register:   make(chan *liveClient),
		unregister: make(chan *liveClient),
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		ctx:        ctx,
		cancel:     cancel,
		log:        log.With().Str("component", "admin_broadcaster").Logger(),
	}
	go b.run()
	return b
}

func (b *Broadcaster) Stop() {
	b.cancel()
	b.mu.Lock()
	for client := range b.clients {
		close(client.send)
		delete(b.clients, client)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) run() {
	for {
		select {
		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			b.mu.Unlock()

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client.send)
			}
			b.mu.Unlock()

		case event := <-b.broadcast:
			b.mu.RLock()
			clients := make([]*liveClient, 0, len(b.clients))
			for client := range b.clients {
				clients = append(clients, client)
			}
			b.mu.RUnlock()

			for _, client := range clients {
				select {
				case client.send <- event:
				default:
					b.mu.Lock()
					delete(b.clients, client)
					close(client.send)
					b.mu.Unlock()
				}
			}

		case <-b.ctx.Done():
			return
		}
	}
}

// HandleWebSocket upgrades the caller into a live-event subscriber.
// The caller must already have passed AuthMiddleware.
func (b *Broadcaster) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := "anonymous"
	if id, ok := identityFromContext(r.Context()); ok {
		userID = id.UserID
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Error().Err(err).Msg("upgrade failed")
		return
	}

	client := &liveClient{hub: b, conn: conn, send: make(chan liveEvent, 256), userID: userID}
	b.register <- client

	go client.writePump()
	go client.readPump()
}

// TunnelCreated notifies subscribers that a tunnel was created.
func (b *Broadcaster) TunnelCreated(subdomain string) {
	b.emit(liveEvent{Type: "tunnel_created", Payload: map[string]string{"subdomain": subdomain}, Time: time.Now()})
}

// TunnelDestroyed notifies subscribers that a tunnel was removed.
func (b *Broadcaster) TunnelDestroyed(subdomain string) {
	b.emit(liveEvent{Type: "tunnel_destroyed", Payload: map[string]string{"subdomain": subdomain}, Time: time.Now()})
}

func (b *Broadcaster) emit(event liveEvent) {
	select {
	case b.broadcast <- event:
	case <-time.After(100 * time.Millisecond):
		b.log.Warn().Msg("broadcast channel full, dropping event")
	}
}

func (c *liveClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *liveClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.hub.ctx.Done():
			return
		}
	}
}
