package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/metrics"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/models"
)

// broadcastBuffer bounds the points queued for fan out. Points beyond it are
// dropped so the relay never waits on live feed clients.
const broadcastBuffer = 256

// Hub maintains the set of active clients and broadcasts relayed points.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			metrics.LiveClients.Set(0)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			metrics.LiveClients.Set(float64(len(h.clients)))
			h.mu.Unlock()
			log.Printf("WebSocket client registered: %s", client.Conn.RemoteAddr())

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					log.Printf("WebSocket client %s send buffer full, removing.", client.Conn.RemoteAddr())
					delete(h.clients, client)
					close(client.Send)
				}
			}
			metrics.LiveClients.Set(float64(len(h.clients)))
			h.mu.Unlock()
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
		metrics.LiveClients.Set(float64(len(h.clients)))
		log.Printf("WebSocket client unregistered: %s", client.Conn.RemoteAddr())
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RegisterClient registers a new client with the hub. It reports false
// once the hub has stopped.
func (h *Hub) RegisterClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastPoint queues a relayed point for every client. It never blocks.
func (h *Hub) BroadcastPoint(point models.SensorPoint) {
	messageBytes, err := json.Marshal(map[string]interface{}{"type": "point", "payload": point})
	if err != nil {
		log.Printf("Error marshalling point for broadcast: %v", err)
		return
	}
	select {
	case h.broadcast <- messageBytes:
	default:
		log.Printf("Live feed backlog full, dropping point for %s", point.Topic())
	}
}
