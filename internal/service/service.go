package service

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"chatserver/internal/models"
	"chatserver/internal/store"
	"chatserver/internal/ws"
)

// Broadcaster 是会话服务依赖的实时推送最小面。生产环境由 *ws.Hub
// 实现，测试里换成可记录的假实现。
type Broadcaster interface {
	Publish(channelID string, evt ws.Event)
	RelayEphemeral(channelID string, evt ws.Event)
	Online(channelID string) int
}

// ConversationService 是会话状态唯一的写入口：房间、私聊、消息、
// 反应、置顶、回执、禁言都从这里落库，落库成功后才通知 fan-out
// 和广播 Hub，从不广播未持久化的状态。
type ConversationService struct {
	store    store.Store
	hub      Broadcaster
	notifier *NotificationService

	// 每频道一把发布锁，持锁跨越"落库 + 入队广播"，保证频道内
	// 投递顺序等于提交顺序。锁范围只有单个频道，不存在跨频道
	// 嵌套获取，因此不会互相死锁。
	locks sync.Map
}

func NewConversationService(st store.Store, hub Broadcaster, notifier *NotificationService) *ConversationService {
	return &ConversationService{store: st, hub: hub, notifier: notifier}
}

func (s *ConversationService) channelLock(channelID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(channelID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Channel 是房间或私聊会话的统一视图，广播 Hub 对两者一视同仁。
type Channel struct {
	ID           string
	Room         *models.Room
	Conversation *models.DirectConversation
}

func (ch *Channel) isDM() bool { return ch.Conversation != nil }

// resolveChannel 按 id 先查房间再查私聊会话。
func (s *ConversationService) resolveChannel(channelID string) (*Channel, error) {
	if room, err := s.store.RoomByID(channelID); err == nil {
		return &Channel{ID: channelID, Room: room}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if conv, err := s.store.DirectConversationByID(channelID); err == nil {
		return &Channel{ID: channelID, Conversation: conv}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: channel %s", ErrNotFound, channelID)
}

// requireMember 校验用户对频道的访问权：公开房间对所有登录用户开放，
// 私有房间只对成员开放（管理员例外），私聊只对两名参与者开放。
func (s *ConversationService) requireMember(ch *Channel, user *models.User) error {
	if ch.isDM() {
		dc := ch.Conversation
		if user.ID != dc.UserLowID && user.ID != dc.UserHighID {
			return fmt.Errorf("%w: not a participant", ErrForbidden)
		}
		return nil
	}
	if ch.Room.Visibility == models.VisibilityPublic {
		return nil
	}
	if user.Role == models.RoleAdmin {
		return nil
	}
	ok, err := s.store.IsRoomMember(ch.Room.ID, user.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: not a room member", ErrForbidden)
	}
	return nil
}

// CanSubscribe 供 WebSocket 层在订阅前校验频道访问权。
// 个人频道只有本人可以订阅。
func (s *ConversationService) CanSubscribe(channelID string, userID uint) error {
	if strings.HasPrefix(channelID, "user:") {
		if channelID != ws.UserChannel(userID) {
			return fmt.Errorf("%w: foreign user channel", ErrForbidden)
		}
		return nil
	}
	user, err := s.store.UserByID(userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: unknown user", ErrUnauthorized)
		}
		return err
	}
	ch, err := s.resolveChannel(channelID)
	if err != nil {
		return err
	}
	return s.requireMember(ch, user)
}

// resolveUsernames 批量获取一组消息涉及的用户名。
func (s *ConversationService) resolveUsernames(msgs []models.Message) (map[uint]string, error) {
	seen := make(map[uint]struct{}, len(msgs))
	ids := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.AuthorID]; ok {
			continue
		}
		seen[m.AuthorID] = struct{}{}
		ids = append(ids, m.AuthorID)
	}
	usernames := make(map[uint]string, len(ids))
	if len(ids) > 0 {
		users, err := s.store.UsersByIDs(ids)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			usernames[u.ID] = u.Username
		}
	}
	return usernames, nil
}
