package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"chatserver/internal/metrics"
	"chatserver/internal/models"
	"chatserver/internal/store"
	"chatserver/internal/ws"

	"github.com/rs/zerolog/log"
)

// 消息正文的长度上限，创建与编辑同限。
const maxMessageLen = 2000

// MessageDTO 是对外输出（含 WS 广播）的消息数据。
type MessageDTO struct {
	ID          uint                `json:"id"`
	ChannelID   string              `json:"channel_id"`
	AuthorID    uint                `json:"author_id"`
	Username    string              `json:"username,omitempty"`
	Body        string              `json:"body"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	Edited      bool                `json:"edited"`
	EditedAt    *time.Time          `json:"edited_at,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

func messageDTO(m *models.Message, username string) *MessageDTO {
	dto := &MessageDTO{
		ID: m.ID, ChannelID: m.ChannelID, AuthorID: m.AuthorID,
		Username: username, Body: m.Body,
		Edited: m.Edited, EditedAt: m.EditedAt, CreatedAt: m.CreatedAt,
	}
	if len(m.Attachments) > 0 {
		_ = json.Unmarshal(m.Attachments, &dto.Attachments)
	}
	return dto
}

func validateBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", fmt.Errorf("%w: empty message body", ErrValidation)
	}
	if utf8.RuneCountInString(body) > maxMessageLen {
		return "", fmt.Errorf("%w: message body exceeds %d characters", ErrValidation, maxMessageLen)
	}
	return body, nil
}

// PostMessage 发布消息：校验 → 禁言/成员检查 → 落库 → 通知 fan-out
// → 广播。落库与广播入队在频道锁内完成，保证频道内投递顺序等于提交
// 顺序；两者都成功返回后，请求方断线也不影响已提交的消息。
func (s *ConversationService) PostMessage(channelID string, author *models.User, body string, attachments []models.Attachment) (*MessageDTO, error) {
	body, err := validateBody(body)
	if err != nil {
		return nil, err
	}
	ch, err := s.resolveChannel(channelID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ch, author); err != nil {
		return nil, err
	}
	muted, err := s.store.ActiveMuteExists(author.ID, time.Now())
	if err != nil {
		return nil, err
	}
	if muted {
		return nil, fmt.Errorf("%w: author is muted", ErrForbidden)
	}

	msg := models.Message{ChannelID: channelID, AuthorID: author.ID, Body: body}
	if len(attachments) > 0 {
		raw, err := json.Marshal(attachments)
		if err != nil {
			return nil, fmt.Errorf("%w: bad attachment metadata", ErrValidation)
		}
		msg.Attachments = raw
	}

	lk := s.channelLock(channelID)
	lk.Lock()
	if err := s.store.CreateMessage(&msg); err != nil {
		lk.Unlock()
		return nil, err
	}
	dto := messageDTO(&msg, author.Username)
	// fan-out 失败只记日志：消息已提交，通知行缺失不回滚写入。
	if err := s.notifier.MessageCreated(ch, &msg, author); err != nil {
		log.Warn().Err(err).Uint("message_id", msg.ID).Msg("notification fan-out")
	}
	s.hub.Publish(channelID, ws.Event{Type: ws.EventMessage, ChannelID: channelID, Data: dto})
	lk.Unlock()

	metrics.MessagesTotal.Inc()
	if ch.isDM() {
		if err := s.store.TouchDirectConversation(ch.Conversation.ID, msg.CreatedAt); err != nil {
			log.Warn().Err(err).Str("conversation", ch.Conversation.ID).Msg("touch conversation")
		}
	}
	return dto, nil
}

// loadEditable 取出一条可被 requester 编辑/删除的消息：已软删或不存在
// 都算 NotFound，非作者且非管理员是 Forbidden。
func (s *ConversationService) loadEditable(messageID uint, requester *models.User) (*models.Message, error) {
	m, err := s.store.MessageByID(messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
		}
		return nil, err
	}
	if m.Deleted {
		return nil, fmt.Errorf("%w: message %d is deleted", ErrNotFound, messageID)
	}
	if m.AuthorID != requester.ID && requester.Role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: not the author", ErrForbidden)
	}
	return m, nil
}

// EditMessage 编辑消息正文，只有作者或管理员可以，已删除的不能编辑。
func (s *ConversationService) EditMessage(messageID uint, requester *models.User, newBody string) (*MessageDTO, error) {
	m, err := s.loadEditable(messageID, requester)
	if err != nil {
		return nil, err
	}
	newBody, err = validateBody(newBody)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	m.Body = newBody
	m.Edited = true
	m.EditedAt = &now

	lk := s.channelLock(m.ChannelID)
	lk.Lock()
	defer lk.Unlock()
	if err := s.store.UpdateMessage(m); err != nil {
		return nil, err
	}
	usernames, err := s.resolveUsernames([]models.Message{*m})
	if err != nil {
		return nil, err
	}
	dto := messageDTO(m, usernames[m.AuthorID])
	s.hub.Publish(m.ChannelID, ws.Event{Type: ws.EventMessageEdited, ChannelID: m.ChannelID, Data: dto})
	return dto, nil
}

// DeleteMessage 软删除：行保留，id 对既有反应/置顶/回执仍然有效。
// 管理员删除任何人的消息走同一条路径。
func (s *ConversationService) DeleteMessage(messageID uint, requester *models.User) error {
	m, err := s.loadEditable(messageID, requester)
	if err != nil {
		return err
	}
	now := time.Now()
	m.Deleted = true
	m.DeletedAt = &now

	lk := s.channelLock(m.ChannelID)
	lk.Lock()
	defer lk.Unlock()
	if err := s.store.UpdateMessage(m); err != nil {
		return err
	}
	s.hub.Publish(m.ChannelID, ws.Event{
		Type: ws.EventMessageDeleted, ChannelID: m.ChannelID,
		Data: map[string]interface{}{"id": m.ID},
	})
	return nil
}

// ListMessages 分页拉取频道历史，升序返回，软删除的消息被排除。
func (s *ConversationService) ListMessages(channelID string, user *models.User, limit int, beforeID uint) ([]MessageDTO, error) {
	ch, err := s.resolveChannel(channelID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ch, user); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	msgs, err := s.store.ListMessages(channelID, limit, beforeID)
	if err != nil {
		return nil, err
	}
	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	usernames, err := s.resolveUsernames(msgs)
	if err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for i := range msgs {
		out = append(out, *messageDTO(&msgs[i], usernames[msgs[i].AuthorID]))
	}
	return out, nil
}
