package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"chatserver/internal/metrics"
)

// Hub 管理频道级别的子 Hub，实现延迟创建与并发安全。频道 id 是房间
// slug、私聊会话 UUID 或个人频道 "user:<id>"，Hub 对三者一视同仁。
type Hub struct {
	mu       sync.RWMutex
	channels map[string]*channelHub
}

func NewHub() *Hub { return &Hub{channels: make(map[string]*channelHub)} }

// getChannel 若频道未初始化则懒加载一个 channelHub。
func (h *Hub) getChannel(channelID string) *channelHub {
	h.mu.RLock()
	ch := h.channels[channelID]
	h.mu.RUnlock()
	if ch != nil {
		return ch
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ch = h.channels[channelID]
	if ch != nil {
		return ch
	}
	ch = newChannelHub(channelID)
	h.channels[channelID] = ch
	go ch.run()
	return ch
}

func (h *Hub) peek(channelID string) *channelHub {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channels[channelID]
}

// Subscribe 把连接加入频道的在线集合。同一连接可以同时订阅多个频道。
func (h *Hub) Subscribe(c *Client, channelID string) {
	ch := h.getChannel(channelID)
	c.track(channelID, ch)
	ch.register <- c
}

// Unsubscribe 把连接移出频道，连接的其余订阅不受影响。
func (h *Hub) Unsubscribe(c *Client, channelID string) {
	if ch := c.untrack(channelID); ch != nil {
		ch.unregister <- c
	}
}

// UnsubscribeAll 在断连时移除该连接的全部订阅，没有宽限期。
func (h *Hub) UnsubscribeAll(c *Client) {
	for _, ch := range c.untrackAll() {
		ch.unregister <- c
	}
}

// Publish 把事件投递给频道的全部在线订阅者。尽力而为：频道无人订阅
// 或缓冲已满时直接丢弃，调用方永远不会因推送失败而出错。
func (h *Hub) Publish(channelID string, evt Event) {
	ch := h.peek(channelID)
	if ch == nil {
		return
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return
	}
	select {
	case ch.broadcast <- b:
	default:
	}
}

// RelayEphemeral 与 Publish 走同一条投递路径，单独命名用于打字这类
// 永不落库的瞬时信号。
func (h *Hub) RelayEphemeral(channelID string, evt Event) {
	h.Publish(channelID, evt)
}

// Online 返回频道当前在线连接数，供 REST 接口复用。
func (h *Hub) Online(channelID string) int {
	ch := h.peek(channelID)
	if ch == nil {
		return 0
	}
	return ch.Online()
}

type channelHub struct {
	id         string
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	online     int32
}

func newChannelHub(channelID string) *channelHub {
	return &channelHub{
		id:         channelID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
	}
}

func (ch *channelHub) run() {
	for {
		select {
		case c := <-ch.register:
			ch.clients[c] = true
			atomic.StoreInt32(&ch.online, int32(len(ch.clients)))
			metrics.WsSubscriptions.Inc()
			ch.fanout(ch.controlEvent(EventJoin, c))
		case c := <-ch.unregister:
			if _, ok := ch.clients[c]; ok {
				delete(ch.clients, c)
				atomic.StoreInt32(&ch.online, int32(len(ch.clients)))
				metrics.WsSubscriptions.Dec()
				ch.fanout(ch.controlEvent(EventLeave, c))
			}
		case msg := <-ch.broadcast:
			ch.fanout(msg)
		}
	}
}

// fanout 逐个投递；发不进去的连接视为死连接，移出集合并关闭底层连接，
// 由它自己的 readPump 走正常清理路径。
func (ch *channelHub) fanout(msg []byte) {
	if msg == nil {
		return
	}
	for c := range ch.clients {
		select {
		case c.send <- msg:
		default:
			delete(ch.clients, c)
			atomic.StoreInt32(&ch.online, int32(len(ch.clients)))
			metrics.WsSubscriptions.Dec()
			c.kill()
		}
	}
}

func (ch *channelHub) controlEvent(typ string, c *Client) []byte {
	evt := Event{Type: typ, ChannelID: ch.id, Data: map[string]interface{}{
		"user_id":  c.userID,
		"username": c.uname,
		"online":   int(atomic.LoadInt32(&ch.online)),
	}}
	b, err := json.Marshal(evt)
	if err != nil {
		return nil
	}
	return b
}

func (ch *channelHub) Online() int { return int(atomic.LoadInt32(&ch.online)) }
