package service

import (
	"errors"
	"fmt"
	"time"

	"chatserver/internal/models"
	"chatserver/internal/store"
)

// MuteUser 禁言用户，管理员专用。以 (目标, 管理员) 为键 upsert，
// durationHours 为 nil 表示无限期。
func (s *ConversationService) MuteUser(targetID uint, admin *models.User, durationHours *int) error {
	if admin.Role != models.RoleAdmin {
		return fmt.Errorf("%w: admin only", ErrForbidden)
	}
	if targetID == admin.ID {
		return fmt.Errorf("%w: cannot mute yourself", ErrValidation)
	}
	if _, err := s.store.UserByID(targetID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: user %d", ErrNotFound, targetID)
		}
		return err
	}
	var until *time.Time
	if durationHours != nil {
		if *durationHours <= 0 {
			return fmt.Errorf("%w: duration must be positive", ErrValidation)
		}
		t := time.Now().Add(time.Duration(*durationHours) * time.Hour)
		until = &t
	}
	return s.store.UpsertMute(&models.Mute{UserID: targetID, MutedBy: admin.ID, Until: until})
}

// UnmuteUser 解除某管理员对用户的禁言。
func (s *ConversationService) UnmuteUser(targetID uint, admin *models.User) error {
	if admin.Role != models.RoleAdmin {
		return fmt.Errorf("%w: admin only", ErrForbidden)
	}
	return s.store.DeleteMute(targetID, admin.ID)
}
