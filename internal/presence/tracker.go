package presence

import (
	"strconv"
	"sync"
	"time"

	"chatserver/internal/metrics"
	"chatserver/internal/ws"
)

// Tracker 维护"谁正在哪个频道打字"的短命状态。纯内存、纯中继：
// 每次信号立即转发给频道订阅者，超过空闲窗口自动清除——客户端
// 中途断线不会留下悬挂的打字指示。
type Tracker struct {
	hub  *ws.Hub
	idle time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewTracker(hub *ws.Hub, idle time.Duration) *Tracker {
	return &Tracker{hub: hub, idle: idle, timers: make(map[string]*time.Timer)}
}

func key(channelID string, userID uint) string {
	return channelID + "|" + strconv.FormatUint(uint64(userID), 10)
}

// SetTyping 中继打字信号并重置该用户在该频道的空闲计时器。
func (t *Tracker) SetTyping(channelID string, userID uint, username string, isTyping bool) {
	t.relay(channelID, userID, username, isTyping)

	k := key(channelID, userID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm, ok := t.timers[k]; ok {
		tm.Stop()
		delete(t.timers, k)
	}
	if isTyping {
		t.timers[k] = time.AfterFunc(t.idle, func() {
			t.expire(channelID, userID, username)
		})
	}
}

// Typing 返回该用户在该频道是否处于打字状态，测试用。
func (t *Tracker) Typing(channelID string, userID uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[key(channelID, userID)]
	return ok
}

func (t *Tracker) expire(channelID string, userID uint, username string) {
	k := key(channelID, userID)
	t.mu.Lock()
	_, ok := t.timers[k]
	if ok {
		delete(t.timers, k)
	}
	t.mu.Unlock()
	if ok {
		t.relay(channelID, userID, username, false)
	}
}

func (t *Tracker) relay(channelID string, userID uint, username string, isTyping bool) {
	metrics.TypingEventsTotal.Inc()
	t.hub.RelayEphemeral(channelID, ws.Event{
		Type:      ws.EventTyping,
		ChannelID: channelID,
		Data: map[string]interface{}{
			"user_id":   userID,
			"username":  username,
			"is_typing": isTyping,
		},
	})
}

// Stop 停掉全部计时器，用于停服。
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, tm := range t.timers {
		tm.Stop()
		delete(t.timers, k)
	}
}
