package service

import (
	"errors"
	"fmt"
	"time"

	"chatserver/internal/models"
	"chatserver/internal/store"
)

// RecordReadReceipt 记录已读回执并推进水位线。回执幂等：同一
// (message, user) 重复调用是 no-op。水位线是覆盖写——最后一次调用
// 生效而不是取最大值，客户端后读旧消息会让水位线回退（沿用既有行为）。
func (s *ConversationService) RecordReadReceipt(messageID uint, channelID string, user *models.User) error {
	m, err := s.store.MessageByID(messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: message %d", ErrNotFound, messageID)
		}
		return err
	}
	if m.ChannelID != channelID {
		return fmt.Errorf("%w: message does not belong to channel", ErrValidation)
	}
	ch, err := s.resolveChannel(channelID)
	if err != nil {
		return err
	}
	if err := s.requireMember(ch, user); err != nil {
		return err
	}

	receipt := models.ReadReceipt{MessageID: messageID, UserID: user.ID}
	if err := s.store.CreateReadReceipt(&receipt); err != nil && !errors.Is(err, store.ErrDuplicate) {
		return err
	}
	return s.store.UpsertWatermark(user.ID, channelID, messageID, time.Now())
}

// UnreadCount 按水位线计算频道内未读消息数，没有水位线时整个频道都算未读。
func (s *ConversationService) UnreadCount(channelID string, user *models.User) (int64, error) {
	ch, err := s.resolveChannel(channelID)
	if err != nil {
		return 0, err
	}
	if err := s.requireMember(ch, user); err != nil {
		return 0, err
	}
	var since uint
	state, err := s.store.Watermark(user.ID, channelID)
	switch {
	case err == nil:
		since = state.LastReadMessageID
	case errors.Is(err, store.ErrNotFound):
		since = 0
	default:
		return 0, err
	}
	return s.store.CountMessagesAfter(channelID, since)
}
