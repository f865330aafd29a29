package service

import (
	"errors"
	"fmt"
	"time"

	"chatserver/internal/models"
	"chatserver/internal/store"
	"chatserver/internal/ws"
)

// PinDTO 是对外输出的置顶数据。
type PinDTO struct {
	ID        uint      `json:"id"`
	MessageID uint      `json:"message_id"`
	RoomID    string    `json:"room_id"`
	PinnedBy  uint      `json:"pinned_by"`
	CreatedAt time.Time `json:"created_at"`
}

func pinDTO(p *models.PinnedMessage) *PinDTO {
	return &PinDTO{
		ID: p.ID, MessageID: p.MessageID, RoomID: p.RoomID,
		PinnedBy: p.PinnedBy, CreatedAt: p.CreatedAt,
	}
}

// PinMessage 置顶房间内的一条消息，重复置顶返回 ErrConflict。
// 并发置顶同一条消息时，存储层唯一约束是唯一裁决，败者收到 ErrConflict。
func (s *ConversationService) PinMessage(messageID uint, roomID string, user *models.User) (*PinDTO, error) {
	room, err := s.store.RoomByID(roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: room %s", ErrNotFound, roomID)
		}
		return nil, err
	}
	if err := s.requireMember(&Channel{ID: roomID, Room: room}, user); err != nil {
		return nil, err
	}
	m, err := s.store.MessageByID(messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
		}
		return nil, err
	}
	if m.ChannelID != roomID {
		return nil, fmt.Errorf("%w: message does not belong to room", ErrValidation)
	}

	pin := models.PinnedMessage{MessageID: messageID, RoomID: roomID, PinnedBy: user.ID}
	if err := s.store.CreatePin(&pin); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: message already pinned", ErrConflict)
		}
		return nil, err
	}
	dto := pinDTO(&pin)
	s.hub.Publish(roomID, ws.Event{Type: ws.EventPin, ChannelID: roomID, Data: map[string]interface{}{
		"action": "pinned", "pin": dto, "username": user.Username,
	}})
	return dto, nil
}

// UnpinMessage 取消置顶，只有置顶者本人或管理员可以。
func (s *ConversationService) UnpinMessage(pinID uint, requester *models.User) error {
	pin, err := s.store.PinByID(pinID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: pin %d", ErrNotFound, pinID)
		}
		return err
	}
	if pin.PinnedBy != requester.ID && requester.Role != models.RoleAdmin {
		return fmt.Errorf("%w: not the pinner", ErrForbidden)
	}
	if err := s.store.DeletePin(pinID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: pin %d", ErrNotFound, pinID)
		}
		return err
	}
	s.hub.Publish(pin.RoomID, ws.Event{Type: ws.EventPin, ChannelID: pin.RoomID, Data: map[string]interface{}{
		"action": "unpinned", "pin": pinDTO(pin),
	}})
	return nil
}

// ListPins 返回房间的置顶列表。
func (s *ConversationService) ListPins(roomID string, user *models.User) ([]PinDTO, error) {
	room, err := s.store.RoomByID(roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: room %s", ErrNotFound, roomID)
		}
		return nil, err
	}
	if err := s.requireMember(&Channel{ID: roomID, Room: room}, user); err != nil {
		return nil, err
	}
	pins, err := s.store.ListPins(roomID)
	if err != nil {
		return nil, err
	}
	out := make([]PinDTO, 0, len(pins))
	for i := range pins {
		out = append(out, *pinDTO(&pins[i]))
	}
	return out, nil
}
