package store

import (
	"errors"
	"time"

	"chatserver/internal/models"
)

// 存储层统一错误，service 层据此映射业务错误，不感知底层是 gorm 还是内存实现。
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Store 是会话子系统的持久化契约。唯一性约束（反应三元组、置顶、回执、
// 私聊用户对）由实现方保证原子性，并发竞争的败者收到 ErrDuplicate。
type Store interface {
	// 用户
	CreateUser(u *models.User) error
	UserByID(id uint) (*models.User, error)
	UserByUsername(username string) (*models.User, error)
	UsersByIDs(ids []uint) ([]models.User, error)
	UsersByUsernames(usernames []string) ([]models.User, error)

	// 房间与成员
	CreateRoom(r *models.Room) error
	RoomByID(id string) (*models.Room, error)
	ListRooms(limit int) ([]models.Room, error)
	AddRoomMember(roomID string, userID uint) error
	IsRoomMember(roomID string, userID uint) (bool, error)
	RoomMemberIDs(roomID string) ([]uint, error)

	// 私聊会话
	CreateDirectConversation(dc *models.DirectConversation) error
	DirectConversationByID(id string) (*models.DirectConversation, error)
	DirectConversationByPair(lowID, highID uint) (*models.DirectConversation, error)
	ListDirectConversations(userID uint) ([]models.DirectConversation, error)
	TouchDirectConversation(id string, at time.Time) error

	// 消息
	CreateMessage(m *models.Message) error
	MessageByID(id uint) (*models.Message, error)
	UpdateMessage(m *models.Message) error
	ListMessages(channelID string, limit int, beforeID uint) ([]models.Message, error)
	CountMessagesAfter(channelID string, messageID uint) (int64, error)

	// 反应
	CreateReaction(r *models.Reaction) error
	DeleteReaction(messageID, userID uint, emoji string) (bool, error)
	ListReactions(messageID uint) ([]models.Reaction, error)

	// 置顶
	CreatePin(p *models.PinnedMessage) error
	PinByID(id uint) (*models.PinnedMessage, error)
	DeletePin(id uint) error
	ListPins(roomID string) ([]models.PinnedMessage, error)

	// 已读回执与水位线
	CreateReadReceipt(r *models.ReadReceipt) error
	UpsertWatermark(userID uint, channelID string, messageID uint, at time.Time) error
	Watermark(userID uint, channelID string) (*models.ChannelReadState, error)

	// 禁言
	UpsertMute(m *models.Mute) error
	DeleteMute(userID, mutedBy uint) error
	ActiveMuteExists(userID uint, now time.Time) (bool, error)

	// 通知
	CreateNotification(n *models.Notification) error
	ListNotifications(recipientID uint, limit int) ([]models.Notification, error)
	MarkNotificationRead(id, recipientID uint) error

	// 刷新 token
	SaveRefreshToken(rt *models.RefreshToken) error
	RotateRefreshToken(oldToken string, newToken *models.RefreshToken, now time.Time) (uint, error)
	RevokeRefreshToken(token string, at time.Time) error
}
