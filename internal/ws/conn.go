package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"chatserver/internal/auth"
	"chatserver/internal/config"
	"chatserver/internal/metrics"
	"chatserver/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Client 是一条活跃的 WebSocket 连接。一条连接可以同时订阅多个频道
// （每个打开的房间/私聊视图各一个），断连即刻退订全部频道。
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uint
	uname  string

	mu       sync.Mutex
	channels map[string]*channelHub
	quit     chan struct{}
	quitOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, userID uint, username string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		userID:   userID,
		uname:    username,
		channels: make(map[string]*channelHub),
		quit:     make(chan struct{}),
	}
}

func (c *Client) track(channelID string, ch *channelHub) {
	c.mu.Lock()
	c.channels[channelID] = ch
	c.mu.Unlock()
}

func (c *Client) untrack(channelID string) *channelHub {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.channels[channelID]
	delete(c.channels, channelID)
	return ch
}

func (c *Client) untrackAll() []*channelHub {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*channelHub, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ch)
	}
	c.channels = make(map[string]*channelHub)
	return out
}

func (c *Client) subscribed(channelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channelID]
	return ok
}

// kill 供 hub 在投递缓冲塞满时调用，关掉底层连接后 readPump 会走
// 统一的清理路径。
func (c *Client) kill() {
	c.quitOnce.Do(func() { close(c.quit) })
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// InboundFrame 是客户端上行帧：订阅、退订或打字信号。消息的发布、
// 编辑等写操作一律走 REST，由会话服务先落库再广播。
type InboundFrame struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	IsTyping  bool   `json:"is_typing"`
}

// Serve 升级 WebSocket 连接：校验 token、自动订阅个人频道、
// 可选订阅 ?channel_id= 指定的初始频道。
func Serve(h *Hub, st store.Store, cfg config.Config, guard ChannelGuard, typing TypingSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		// WS 的 token 支持 Authorization 头或 token 查询参数。
		authz := c.GetHeader("Authorization")
		token := c.Query("token")
		if token == "" && len(authz) > 7 && (authz[:7] == "Bearer " || authz[:7] == "bearer ") {
			token = authz[7:]
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := auth.ParseAccessToken(token, cfg.JWTSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		user, err := st.UserByID(claims.UserID)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}

		// 初始频道在升级前校验，校验不过直接拒绝整个握手。
		initial := c.Query("channel_id")
		if initial != "" {
			if err := guard.CanSubscribe(initial, user.ID); err != nil {
				c.JSON(http.StatusForbidden, gin.H{"error": "channel access denied"})
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := newClient(h, conn, user.ID, user.Username)
		metrics.WsConnections.Inc()
		h.Subscribe(client, UserChannel(user.ID))
		if initial != "" {
			h.Subscribe(client, initial)
		}

		go client.writePump()
		client.readPump(guard, typing)
	}
}

func (c *Client) readPump(guard ChannelGuard, typing TypingSink) {
	defer func() {
		c.hub.UnsubscribeAll(c)
		c.kill()
		metrics.WsConnections.Dec()
	}()
	c.conn.SetReadLimit(1 << 20) // 1MB
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var in InboundFrame
		if err := json.Unmarshal(data, &in); err != nil || in.ChannelID == "" {
			continue
		}
		switch in.Type {
		case "subscribe":
			if err := guard.CanSubscribe(in.ChannelID, c.userID); err != nil {
				continue
			}
			c.hub.Subscribe(c, in.ChannelID)
		case "unsubscribe":
			c.hub.Unsubscribe(c, in.ChannelID)
		case "typing":
			// 只给已订阅频道中继打字信号。
			if !c.subscribed(in.ChannelID) {
				continue
			}
			typing.SetTyping(in.ChannelID, c.userID, c.uname, in.IsTyping)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-c.quit:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
