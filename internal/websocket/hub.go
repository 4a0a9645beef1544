// Package websocket pushes view snapshots to connected browsers.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"airq-dashboard/internal/view"

	"go.uber.org/zap"
)

// ErrBroadcastFull 广播队列已满，本次快照被丢弃（下一次变更会带上最新状态）
var ErrBroadcastFull = errors.New("broadcast queue full")

// Message 推送给浏览器的消息
type Message struct {
	Type    string        `json:"type"`
	Payload view.Snapshot `json:"payload"`
}

// Hub 维护在线客户端并广播快照
type Hub struct {
	logger *zap.Logger

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu     sync.RWMutex
	latest []byte
	count  int
}

// NewHub 创建 Hub；需要 Run 才会处理注册与广播
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx ends, then closes every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.setCount()
			h.logger.Info("WebSocket client registered",
				zap.String("client_id", client.ID),
				zap.String("remote_addr", client.remoteAddr()),
			)
			if latest := h.Latest(); latest != nil {
				select {
				case client.send <- latest:
				default:
				}
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Info("WebSocket client unregistered", zap.String("client_id", client.ID))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.logger.Warn("WebSocket client send buffer full, removing",
						zap.String("client_id", client.ID),
					)
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}

// Clients 当前在线客户端数
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Latest 最近一次发布的消息（尚未发布时为 nil）
func (h *Hub) Latest() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// Publish encodes snap, keeps it for clients that connect later and queues it
// for every connected client. It never blocks.
func (h *Hub) Publish(ctx context.Context, snap view.Snapshot) error {
	message, err := json.Marshal(Message{Type: "snapshot", Payload: snap})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	h.mu.Lock()
	h.latest = message
	h.mu.Unlock()

	select {
	case h.broadcast <- message:
		return nil
	default:
		return ErrBroadcastFull
	}
}
