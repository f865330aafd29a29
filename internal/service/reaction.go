package service

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"chatserver/internal/models"
	"chatserver/internal/store"
	"chatserver/internal/ws"
)

// ToggleReaction 幂等开关：三元组 (message, user, emoji) 已存在则移除
// 并报告 removed，否则插入并报告 added。并发竞争由存储层唯一约束裁决，
// 败者转为走删除分支，结果与自己的读一致。软删除的消息仍可被反应。
func (s *ConversationService) ToggleReaction(messageID uint, user *models.User, emoji string) (added bool, err error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > 32 {
		return false, fmt.Errorf("%w: invalid emoji", ErrValidation)
	}
	m, err := s.store.MessageByID(messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
		}
		return false, err
	}
	ch, err := s.resolveChannel(m.ChannelID)
	if err != nil {
		return false, err
	}
	if err := s.requireMember(ch, user); err != nil {
		return false, err
	}

	r := models.Reaction{MessageID: messageID, UserID: user.ID, Emoji: emoji}
	switch cerr := s.store.CreateReaction(&r); {
	case cerr == nil:
		added = true
	case errors.Is(cerr, store.ErrDuplicate):
		if _, derr := s.store.DeleteReaction(messageID, user.ID, emoji); derr != nil {
			return false, derr
		}
		added = false
	default:
		return false, cerr
	}

	action := "removed"
	if added {
		action = "added"
	}
	s.hub.Publish(m.ChannelID, ws.Event{
		Type: ws.EventReaction, ChannelID: m.ChannelID,
		Data: map[string]interface{}{
			"message_id": messageID,
			"user_id":    user.ID,
			"username":   user.Username,
			"emoji":      emoji,
			"action":     action,
		},
	})
	return added, nil
}

// ListReactions 返回消息上的全部反应。
func (s *ConversationService) ListReactions(messageID uint, user *models.User) ([]models.Reaction, error) {
	m, err := s.store.MessageByID(messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
		}
		return nil, err
	}
	ch, err := s.resolveChannel(m.ChannelID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ch, user); err != nil {
		return nil, err
	}
	return s.store.ListReactions(messageID)
}
