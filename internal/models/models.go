package models

import (
	"time"

	"gorm.io/datatypes"
)

// 房间可见性与用户角色的取值集合。
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"

	RoleUser  = "user"
	RoleAdmin = "admin"
)

// 通知类型。普通房间消息不产生通知行，所以没有对应的类型。
const (
	NotifyDMMessage = "dm-message"
	NotifyMention   = "mention"
)

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"size:16;not null;default:user"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Room 的主键即 slug，由房间名小写 slug 化得到，天然保证大小写不敏感唯一。
type Room struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"uniqueIndex;size:50;not null"`
	Description string `gorm:"size:255"`
	Visibility  string `gorm:"size:16;not null;default:public"`
	CreatorID   uint   `gorm:"not null"`
	CreatedAt   time.Time
}

// RoomMember 仅对私有房间有业务意义，公开房间对所有登录用户可见。
type RoomMember struct {
	ID        uint   `gorm:"primaryKey"`
	RoomID    string `gorm:"uniqueIndex:idx_room_member;size:64;not null"`
	UserID    uint   `gorm:"uniqueIndex:idx_room_member;not null"`
	CreatedAt time.Time
}

// DirectConversation 的用户对按 (低 id, 高 id) 规范化存储，
// 保证 (A,B) 和 (B,A) 查到同一条会话。ID 为 UUID，同时充当频道 id。
type DirectConversation struct {
	ID             string `gorm:"primaryKey;size:36"`
	UserLowID      uint   `gorm:"uniqueIndex:idx_dm_pair;not null"`
	UserHighID     uint   `gorm:"uniqueIndex:idx_dm_pair;not null"`
	LastActivityAt time.Time
	CreatedAt      time.Time
}

// Message 统一承载房间消息与私聊消息，ChannelID 为房间 slug 或会话 UUID。
// 软删除自行管理（不用 gorm.DeletedAt）：删除后的 id 仍要能被
// 反应/置顶/回执引用。
type Message struct {
	ID          uint   `gorm:"primaryKey"`
	ChannelID   string `gorm:"index:idx_msg_channel;size:64;not null"`
	AuthorID    uint   `gorm:"index;not null"`
	Body        string `gorm:"type:text;not null"`
	Attachments datatypes.JSON
	Edited      bool `gorm:"not null;default:false"`
	EditedAt    *time.Time
	Deleted     bool `gorm:"not null;default:false"`
	DeletedAt   *time.Time
	CreatedAt   time.Time
}

// Reaction 三元组 (message, user, emoji) 唯一，重复提交即取消。
type Reaction struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID uint   `gorm:"uniqueIndex:idx_reaction_triple;not null"`
	UserID    uint   `gorm:"uniqueIndex:idx_reaction_triple;not null"`
	Emoji     string `gorm:"uniqueIndex:idx_reaction_triple;size:32;not null"`
	CreatedAt time.Time
}

// PinnedMessage 每条消息在一个房间内至多置顶一次。
type PinnedMessage struct {
	ID        uint   `gorm:"primaryKey"`
	MessageID uint   `gorm:"uniqueIndex:idx_pin_once;not null"`
	RoomID    string `gorm:"uniqueIndex:idx_pin_once;size:64;not null"`
	PinnedBy  uint   `gorm:"not null"`
	CreatedAt time.Time
}

// ReadReceipt 每个 (message, user) 至多一条，重复写入是幂等 no-op。
type ReadReceipt struct {
	ID        uint `gorm:"primaryKey"`
	MessageID uint `gorm:"uniqueIndex:idx_receipt_once;not null"`
	UserID    uint `gorm:"uniqueIndex:idx_receipt_once;not null"`
	CreatedAt time.Time
}

// ChannelReadState 是用户在频道内的已读水位线，最后一次调用覆盖写。
type ChannelReadState struct {
	ID                uint   `gorm:"primaryKey"`
	UserID            uint   `gorm:"uniqueIndex:idx_watermark;not null"`
	ChannelID         string `gorm:"uniqueIndex:idx_watermark;size:64;not null"`
	LastReadMessageID uint   `gorm:"not null"`
	UpdatedAt         time.Time
}

// Mute 以 (被禁言人, 操作管理员) 为键 upsert，Until 为空表示无限期。
type Mute struct {
	ID        uint `gorm:"primaryKey"`
	UserID    uint `gorm:"uniqueIndex:idx_mute_pair;not null"`
	MutedBy   uint `gorm:"uniqueIndex:idx_mute_pair;not null"`
	Until     *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Notification struct {
	ID           uint   `gorm:"primaryKey"`
	RecipientID  uint   `gorm:"index:idx_notify_recipient;not null"`
	Type         string `gorm:"size:32;not null"`
	MessageID    uint   `gorm:"not null"`
	SourceUserID uint   `gorm:"not null"`
	Read         bool   `gorm:"not null;default:false"`
	CreatedAt    time.Time
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Attachment 是消息附件的元数据，文件本体在别处上传，这里只当不透明引用。
type Attachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}
