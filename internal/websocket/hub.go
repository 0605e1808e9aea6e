package websocket

import (
	"sync"

	"github.com/mautops/docflow-gin/internal/metrics"
)

// Hub 按用户管理通知推送连接
type Hub struct {
	// 用户 ID -> 该用户的全部连接
	clients map[string]map[*Client]struct{}

	// 注册新客户端
	Register chan *Client

	// 注销客户端
	Unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once

	// 保护 clients
	mu sync.RWMutex
}

// NewHub 创建新的 Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run 运行 Hub，Stop 后返回
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			conns, ok := h.clients[client.UserID]
			if !ok {
				conns = make(map[*Client]struct{})
				h.clients[client.UserID] = conns
			}
			conns[client] = struct{}{}
			h.mu.Unlock()
			metrics.SetNotificationStreams(h.ClientCount())

		case client := <-h.Unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			metrics.SetNotificationStreams(h.ClientCount())

		case <-h.stop:
			h.mu.Lock()
			for _, conns := range h.clients {
				for client := range conns {
					h.remove(client)
				}
			}
			h.mu.Unlock()
			metrics.SetNotificationStreams(0)
			return
		}
	}
}

// remove 移除客户端并关闭发送通道，调用方持有写锁
func (h *Hub) remove(client *Client) {
	conns, ok := h.clients[client.UserID]
	if !ok {
		return
	}
	if _, ok := conns[client]; !ok {
		return
	}
	delete(conns, client)
	close(client.Send)
	if len(conns) == 0 {
		delete(h.clients, client.UserID)
	}
}

// register 注册客户端，Hub 已停止时返回 false
func (h *Hub) register(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.stop:
		return false
	}
}

// unregister 注销客户端
func (h *Hub) unregister(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.stop:
	}
}

// PushToUser 向用户的全部连接推送消息，返回送达的连接数
// 发送缓冲已满的连接会被断开
func (h *Hub) PushToUser(userID string, message []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for client := range h.clients[userID] {
		select {
		case client.Send <- message:
			sent++
		default:
			h.remove(client)
		}
	}
	return sent
}

// HasClient 检查客户端是否存在
func (h *Hub) HasClient(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conns := range h.clients {
		for client := range conns {
			if client.ID == clientID {
				return true
			}
		}
	}
	return false
}

// ClientCount 获取连接数量
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

// Stop 停止 Hub 并关闭全部连接
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}
