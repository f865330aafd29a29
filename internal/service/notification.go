package service

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"chatserver/internal/metrics"
	"chatserver/internal/models"
	"chatserver/internal/store"
	"chatserver/internal/ws"
)

// NotificationService 负责事件的接收者推导与通知落库，投递与否
// 不影响它：通知行写下后再尽力通过个人频道推一条 WS 事件。
type NotificationService struct {
	store store.Store
	hub   Broadcaster
}

func NewNotificationService(st store.Store, hub Broadcaster) *NotificationService {
	return &NotificationService{store: st, hub: hub}
}

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_]{2,64})`)

// NotificationDTO 是对外输出的通知数据。
type NotificationDTO struct {
	ID           uint      `json:"id"`
	Type         string    `json:"type"`
	MessageID    uint      `json:"message_id"`
	SourceUserID uint      `json:"source_user_id"`
	Read         bool      `json:"read"`
	CreatedAt    time.Time `json:"created_at"`
}

func notificationDTO(n *models.Notification) *NotificationDTO {
	return &NotificationDTO{
		ID: n.ID, Type: n.Type, MessageID: n.MessageID,
		SourceUserID: n.SourceUserID, Read: n.Read, CreatedAt: n.CreatedAt,
	}
}

// MessageCreated 为一条新消息推导接收者并逐个落通知行：私聊消息通知
// 对端；@提及通知被提及者。公开房间的普通消息不向全体成员 fan-out，
// 只有被提及者收到通知。被提及者必须能访问该频道，否则跳过。
func (n *NotificationService) MessageCreated(ch *Channel, msg *models.Message, author *models.User) error {
	type pending struct {
		recipient uint
		typ       string
	}
	var targets []pending

	if ch.isDM() {
		other := ch.Conversation.UserLowID + ch.Conversation.UserHighID - author.ID
		targets = append(targets, pending{other, models.NotifyDMMessage})
	}

	mentioned, err := n.mentionedUsers(msg.Body)
	if err != nil {
		return err
	}
	for _, u := range mentioned {
		if u.ID == author.ID {
			continue
		}
		ok, err := n.canRead(ch, &u)
		if err != nil {
			return err
		}
		if ok {
			targets = append(targets, pending{u.ID, models.NotifyMention})
		}
	}

	var firstErr error
	for _, t := range targets {
		row := models.Notification{
			RecipientID: t.recipient, Type: t.typ,
			MessageID: msg.ID, SourceUserID: author.ID,
		}
		if err := n.store.CreateNotification(&row); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("notify user %d: %w", t.recipient, err)
			}
			continue
		}
		metrics.NotificationsTotal.Inc()
		n.hub.Publish(ws.UserChannel(t.recipient), ws.Event{
			Type: ws.EventNotification, Data: notificationDTO(&row),
		})
	}
	return firstErr
}

// mentionedUsers 解析正文里的 @username 并换成真实用户。同一用户
// 被提及多次只算一次。
func (n *NotificationService) mentionedUsers(body string) ([]models.User, error) {
	matches := mentionPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return n.store.UsersByUsernames(names)
}

// canRead 判断用户能否读到该频道的消息。
func (n *NotificationService) canRead(ch *Channel, user *models.User) (bool, error) {
	if ch.isDM() {
		dc := ch.Conversation
		return user.ID == dc.UserLowID || user.ID == dc.UserHighID, nil
	}
	if ch.Room.Visibility == models.VisibilityPublic || user.Role == models.RoleAdmin {
		return true, nil
	}
	return n.store.IsRoomMember(ch.Room.ID, user.ID)
}

// List 返回用户的通知，按时间倒序。只需要用户 id，不依赖完整用户行。
func (n *NotificationService) List(userID uint, limit int) ([]NotificationDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := n.store.ListNotifications(userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]NotificationDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *notificationDTO(&rows[i]))
	}
	return out, nil
}

// MarkRead 把一条属于该用户的通知标记为已读。
func (n *NotificationService) MarkRead(id, userID uint) error {
	if err := n.store.MarkNotificationRead(id, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: notification %d", ErrNotFound, id)
		}
		return err
	}
	return nil
}
