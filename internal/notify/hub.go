// Package notify 实现网关与已打开 UI 标签页之间的消息协议。
package notify

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const defaultBuffer = 16

// Hub 将出站消息扇出给所有订阅者。订阅者缓冲区满时丢弃消息，不阻塞广播方。
type Hub struct {
	mu      sync.Mutex
	nextID  int
	clients map[int]chan Outbound
	buffer  int
	logger  *logrus.Logger
}

// NewHub 创建广播中心；buffer <= 0 时使用默认缓冲。
func NewHub(buffer int, logger *logrus.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		clients: make(map[int]chan Outbound),
		buffer:  buffer,
		logger:  logger,
	}
}

// Subscribe 注册一个订阅者，返回消息通道与取消函数。取消函数可重复调用。
func (h *Hub) Subscribe() (<-chan Outbound, func()) {
	ch := make(chan Outbound, h.buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.clients[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast 投递消息给全部订阅者，返回成功投递的数量。
func (h *Hub) Broadcast(msg Outbound) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for id, ch := range h.clients {
		select {
		case ch <- msg:
			delivered++
		default:
			if h.logger != nil {
				h.logger.WithFields(logrus.Fields{
					"action":     "notify",
					"type":       msg.Type,
					"subscriber": id,
				}).Warn("subscriber_buffer_full")
			}
		}
	}
	return delivered
}

// Clients 返回当前订阅者数量。
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
