package ws

import "strconv"

// 推送事件的类型标签。入站帧只有 subscribe/unsubscribe/typing 三种，
// 其余全部是服务端出站事件。
const (
	EventJoin           = "join"
	EventLeave          = "leave"
	EventMessage        = "message"
	EventMessageEdited  = "message_edited"
	EventMessageDeleted = "message_deleted"
	EventReaction       = "reaction"
	EventTyping         = "typing"
	EventPin            = "pin"
	EventNotification   = "notification"
)

// Event 是统一的出站事件信封，Data 携带 service 层产出的最终实体。
type Event struct {
	Type      string      `json:"type"`
	ChannelID string      `json:"channel_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// UserChannel 返回用户的个人频道 id，连接建立时自动订阅，
// 通知事件走这个频道推送。
func UserChannel(userID uint) string {
	return "user:" + strconv.FormatUint(uint64(userID), 10)
}

// ChannelGuard 判定用户能否订阅某个频道，由会话服务实现。
type ChannelGuard interface {
	CanSubscribe(channelID string, userID uint) error
}

// TypingSink 接收打字信号，由 presence 追踪器实现。打字信号只中继，
// 从不落库。
type TypingSink interface {
	SetTyping(channelID string, userID uint, username string, isTyping bool)
}
