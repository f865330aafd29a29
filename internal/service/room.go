package service

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"chatserver/internal/models"
	"chatserver/internal/store"

	"github.com/gosimple/slug"
)

const maxRoomNameLen = 50

// RoomDTO 是对外输出的房间数据。
type RoomDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Visibility  string    `json:"visibility"`
	CreatorID   uint      `json:"creator_id"`
	Online      int       `json:"online"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *ConversationService) roomDTO(r *models.Room) *RoomDTO {
	return &RoomDTO{
		ID: r.ID, Name: r.Name, Description: r.Description,
		Visibility: r.Visibility, CreatorID: r.CreatorID,
		Online: s.hub.Online(r.ID), CreatedAt: r.CreatedAt,
	}
}

// CreateRoom 创建房间。房间 id 由房间名 slug 化得到，slug 冲突即
// 名字（大小写不敏感）冲突，返回 ErrConflict。私有房间自动把创建者
// 加为成员。
func (s *ConversationService) CreateRoom(name, description, visibility string, creator *models.User) (*RoomDTO, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty room name", ErrValidation)
	}
	if utf8.RuneCountInString(name) > maxRoomNameLen {
		return nil, fmt.Errorf("%w: room name too long", ErrValidation)
	}
	switch visibility {
	case "":
		visibility = models.VisibilityPublic
	case models.VisibilityPublic, models.VisibilityPrivate:
	default:
		return nil, fmt.Errorf("%w: invalid visibility %q", ErrValidation, visibility)
	}
	id := slug.Make(name)
	if id == "" {
		return nil, fmt.Errorf("%w: room name yields empty slug", ErrValidation)
	}

	room := models.Room{
		ID: id, Name: name, Description: description,
		Visibility: visibility, CreatorID: creator.ID,
	}
	if err := s.store.CreateRoom(&room); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: room name already exists", ErrConflict)
		}
		return nil, err
	}
	if visibility == models.VisibilityPrivate {
		if err := s.store.AddRoomMember(room.ID, creator.ID); err != nil {
			return nil, err
		}
	}
	return s.roomDTO(&room), nil
}

// ListRooms 返回请求者可见的房间：公开房间全部可见，私有房间只对
// 成员（和管理员）可见，附带各房间的在线人数。
func (s *ConversationService) ListRooms(user *models.User, limit int) ([]RoomDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	rooms, err := s.store.ListRooms(limit)
	if err != nil {
		return nil, err
	}
	out := make([]RoomDTO, 0, len(rooms))
	for i := range rooms {
		r := &rooms[i]
		if r.Visibility == models.VisibilityPrivate && user.Role != models.RoleAdmin {
			ok, err := s.store.IsRoomMember(r.ID, user.ID)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, *s.roomDTO(r))
	}
	return out, nil
}

// MemberDTO 是对外输出的房间成员数据。
type MemberDTO struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
}

// ListRoomMembers 返回房间的成员列表。公开房间只列出显式加入过的
// 用户，私有房间要求请求者自己是成员。
func (s *ConversationService) ListRoomMembers(roomID string, user *models.User) ([]MemberDTO, error) {
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
	ids, err := s.store.RoomMemberIDs(roomID)
	if err != nil {
		return nil, err
	}
	out := make([]MemberDTO, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	users, err := s.store.UsersByIDs(ids)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		out = append(out, MemberDTO{UserID: u.ID, Username: u.Username})
	}
	return out, nil
}

// JoinRoom 处理加入房间：公开房间任何人加自己，私有房间只有创建者
// 或管理员能拉人。
func (s *ConversationService) JoinRoom(roomID string, requester *models.User, targetID uint) error {
	room, err := s.store.RoomByID(roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: room %s", ErrNotFound, roomID)
		}
		return err
	}
	if targetID == 0 {
		targetID = requester.ID
	}
	if _, err := s.store.UserByID(targetID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: user %d", ErrNotFound, targetID)
		}
		return err
	}
	if room.Visibility == models.VisibilityPrivate {
		if requester.ID != room.CreatorID && requester.Role != models.RoleAdmin {
			return fmt.Errorf("%w: only creator or admin may invite", ErrForbidden)
		}
	} else if targetID != requester.ID && requester.Role != models.RoleAdmin {
		return fmt.Errorf("%w: cannot join on behalf of others", ErrForbidden)
	}
	return s.store.AddRoomMember(roomID, targetID)
}
