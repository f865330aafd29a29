package service

import (
	"errors"
	"fmt"
	"time"

	"chatserver/internal/models"
	"chatserver/internal/store"

	"github.com/google/uuid"
)

// ConversationDTO 是对外输出的私聊会话数据，附带对端用户名。
type ConversationDTO struct {
	ID             string    `json:"id"`
	OtherUserID    uint      `json:"other_user_id"`
	OtherUsername  string    `json:"other_username,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// GetOrCreateDirectConversation 查找或创建两人私聊会话。用户对按
// (低 id, 高 id) 规范化，(A,B) 与 (B,A) 得到同一条会话；并发创建
// 竞争的败者吃到唯一约束后回头复用赢家的那条。
func (s *ConversationService) GetOrCreateDirectConversation(requester *models.User, otherID uint) (*ConversationDTO, error) {
	if requester.ID == otherID {
		return nil, fmt.Errorf("%w: cannot open a conversation with yourself", ErrValidation)
	}
	other, err := s.store.UserByID(otherID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, otherID)
		}
		return nil, err
	}

	low, high := requester.ID, otherID
	if low > high {
		low, high = high, low
	}
	dc, err := s.store.DirectConversationByPair(low, high)
	if errors.Is(err, store.ErrNotFound) {
		now := time.Now()
		fresh := models.DirectConversation{
			ID: uuid.NewString(), UserLowID: low, UserHighID: high,
			LastActivityAt: now, CreatedAt: now,
		}
		switch cerr := s.store.CreateDirectConversation(&fresh); {
		case cerr == nil:
			dc = &fresh
		case errors.Is(cerr, store.ErrDuplicate):
			dc, err = s.store.DirectConversationByPair(low, high)
			if err != nil {
				return nil, err
			}
		default:
			return nil, cerr
		}
	} else if err != nil {
		return nil, err
	}

	return &ConversationDTO{
		ID: dc.ID, OtherUserID: other.ID, OtherUsername: other.Username,
		LastActivityAt: dc.LastActivityAt, CreatedAt: dc.CreatedAt,
	}, nil
}

// ListDirectConversations 返回用户参与的会话，按最近活跃排序。
func (s *ConversationService) ListDirectConversations(user *models.User) ([]ConversationDTO, error) {
	dcs, err := s.store.ListDirectConversations(user.ID)
	if err != nil {
		return nil, err
	}
	otherIDs := make([]uint, 0, len(dcs))
	for _, dc := range dcs {
		otherIDs = append(otherIDs, dc.UserLowID+dc.UserHighID-user.ID)
	}
	usernames := make(map[uint]string, len(otherIDs))
	if len(otherIDs) > 0 {
		users, err := s.store.UsersByIDs(otherIDs)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			usernames[u.ID] = u.Username
		}
	}
	out := make([]ConversationDTO, 0, len(dcs))
	for _, dc := range dcs {
		otherID := dc.UserLowID + dc.UserHighID - user.ID
		out = append(out, ConversationDTO{
			ID: dc.ID, OtherUserID: otherID, OtherUsername: usernames[otherID],
			LastActivityAt: dc.LastActivityAt, CreatedAt: dc.CreatedAt,
		})
	}
	return out, nil
}
