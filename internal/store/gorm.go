package store

import (
	"errors"
	"time"

	"chatserver/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DBStore 是 Store 的 gorm/Postgres 实现。要求连接开启 TranslateError，
// 这样唯一索引冲突会被翻译成 gorm.ErrDuplicatedKey。
type DBStore struct {
	db *gorm.DB
}

func NewDBStore(db *gorm.DB) *DBStore { return &DBStore{db: db} }

func wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	default:
		return err
	}
}

func (s *DBStore) CreateUser(u *models.User) error { return wrap(s.db.Create(u).Error) }

func (s *DBStore) UserByID(id uint) (*models.User, error) {
	var u models.User
	if err := s.db.First(&u, id).Error; err != nil {
		return nil, wrap(err)
	}
	return &u, nil
}

func (s *DBStore) UserByUsername(username string) (*models.User, error) {
	var u models.User
	if err := s.db.Where("username = ?", username).First(&u).Error; err != nil {
		return nil, wrap(err)
	}
	return &u, nil
}

func (s *DBStore) UsersByIDs(ids []uint) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []models.User
	if err := s.db.Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, wrap(err)
	}
	return users, nil
}

func (s *DBStore) UsersByUsernames(usernames []string) ([]models.User, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	var users []models.User
	if err := s.db.Where("username IN ?", usernames).Find(&users).Error; err != nil {
		return nil, wrap(err)
	}
	return users, nil
}

func (s *DBStore) CreateRoom(r *models.Room) error { return wrap(s.db.Create(r).Error) }

func (s *DBStore) RoomByID(id string) (*models.Room, error) {
	var r models.Room
	if err := s.db.Where("id = ?", id).First(&r).Error; err != nil {
		return nil, wrap(err)
	}
	return &r, nil
}

func (s *DBStore) ListRooms(limit int) ([]models.Room, error) {
	var rooms []models.Room
	if err := s.db.Order("created_at desc").Limit(limit).Find(&rooms).Error; err != nil {
		return nil, wrap(err)
	}
	return rooms, nil
}

// AddRoomMember 幂等：重复加入同一房间不是错误。
func (s *DBStore) AddRoomMember(roomID string, userID uint) error {
	m := models.RoomMember{RoomID: roomID, UserID: userID}
	err := wrap(s.db.Create(&m).Error)
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}

func (s *DBStore) IsRoomMember(roomID string, userID uint) (bool, error) {
	var count int64
	err := s.db.Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).Count(&count).Error
	return count > 0, wrap(err)
}

func (s *DBStore) RoomMemberIDs(roomID string) ([]uint, error) {
	var ids []uint
	err := s.db.Model(&models.RoomMember{}).
		Where("room_id = ?", roomID).Pluck("user_id", &ids).Error
	return ids, wrap(err)
}

func (s *DBStore) CreateDirectConversation(dc *models.DirectConversation) error {
	return wrap(s.db.Create(dc).Error)
}

func (s *DBStore) DirectConversationByID(id string) (*models.DirectConversation, error) {
	var dc models.DirectConversation
	if err := s.db.Where("id = ?", id).First(&dc).Error; err != nil {
		return nil, wrap(err)
	}
	return &dc, nil
}

func (s *DBStore) DirectConversationByPair(lowID, highID uint) (*models.DirectConversation, error) {
	var dc models.DirectConversation
	err := s.db.Where("user_low_id = ? AND user_high_id = ?", lowID, highID).First(&dc).Error
	if err != nil {
		return nil, wrap(err)
	}
	return &dc, nil
}

func (s *DBStore) ListDirectConversations(userID uint) ([]models.DirectConversation, error) {
	var dcs []models.DirectConversation
	err := s.db.Where("user_low_id = ? OR user_high_id = ?", userID, userID).
		Order("last_activity_at desc").Find(&dcs).Error
	return dcs, wrap(err)
}

func (s *DBStore) TouchDirectConversation(id string, at time.Time) error {
	return wrap(s.db.Model(&models.DirectConversation{}).
		Where("id = ?", id).Update("last_activity_at", at).Error)
}

func (s *DBStore) CreateMessage(m *models.Message) error { return wrap(s.db.Create(m).Error) }

func (s *DBStore) MessageByID(id uint) (*models.Message, error) {
	var m models.Message
	if err := s.db.First(&m, id).Error; err != nil {
		return nil, wrap(err)
	}
	return &m, nil
}

func (s *DBStore) UpdateMessage(m *models.Message) error { return wrap(s.db.Save(m).Error) }

// ListMessages 按 id 倒序取一页再由调用方反转，软删除的消息不出现在历史里。
func (s *DBStore) ListMessages(channelID string, limit int, beforeID uint) ([]models.Message, error) {
	q := s.db.Where("channel_id = ? AND deleted = ?", channelID, false)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []models.Message
	if err := q.Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, wrap(err)
	}
	return msgs, nil
}

func (s *DBStore) CountMessagesAfter(channelID string, messageID uint) (int64, error) {
	var count int64
	err := s.db.Model(&models.Message{}).
		Where("channel_id = ? AND deleted = ? AND id > ?", channelID, false, messageID).
		Count(&count).Error
	return count, wrap(err)
}

func (s *DBStore) CreateReaction(r *models.Reaction) error { return wrap(s.db.Create(r).Error) }

func (s *DBStore) DeleteReaction(messageID, userID uint, emoji string) (bool, error) {
	res := s.db.Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&models.Reaction{})
	return res.RowsAffected > 0, wrap(res.Error)
}

func (s *DBStore) ListReactions(messageID uint) ([]models.Reaction, error) {
	var rs []models.Reaction
	err := s.db.Where("message_id = ?", messageID).Order("id asc").Find(&rs).Error
	return rs, wrap(err)
}

func (s *DBStore) CreatePin(p *models.PinnedMessage) error { return wrap(s.db.Create(p).Error) }

func (s *DBStore) PinByID(id uint) (*models.PinnedMessage, error) {
	var p models.PinnedMessage
	if err := s.db.First(&p, id).Error; err != nil {
		return nil, wrap(err)
	}
	return &p, nil
}

func (s *DBStore) DeletePin(id uint) error {
	res := s.db.Delete(&models.PinnedMessage{}, id)
	if res.Error != nil {
		return wrap(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *DBStore) ListPins(roomID string) ([]models.PinnedMessage, error) {
	var ps []models.PinnedMessage
	err := s.db.Where("room_id = ?", roomID).Order("id desc").Find(&ps).Error
	return ps, wrap(err)
}

func (s *DBStore) CreateReadReceipt(r *models.ReadReceipt) error { return wrap(s.db.Create(r).Error) }

// UpsertWatermark 无条件覆盖，最后一次调用生效。
func (s *DBStore) UpsertWatermark(userID uint, channelID string, messageID uint, at time.Time) error {
	state := models.ChannelReadState{
		UserID: userID, ChannelID: channelID,
		LastReadMessageID: messageID, UpdatedAt: at,
	}
	return wrap(s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "channel_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_read_message_id", "updated_at"}),
	}).Create(&state).Error)
}

func (s *DBStore) Watermark(userID uint, channelID string) (*models.ChannelReadState, error) {
	var state models.ChannelReadState
	err := s.db.Where("user_id = ? AND channel_id = ?", userID, channelID).First(&state).Error
	if err != nil {
		return nil, wrap(err)
	}
	return &state, nil
}

func (s *DBStore) UpsertMute(m *models.Mute) error {
	return wrap(s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "muted_by"}},
		DoUpdates: clause.AssignmentColumns([]string{"until", "updated_at"}),
	}).Create(m).Error)
}

func (s *DBStore) DeleteMute(userID, mutedBy uint) error {
	return wrap(s.db.Where("user_id = ? AND muted_by = ?", userID, mutedBy).
		Delete(&models.Mute{}).Error)
}

func (s *DBStore) ActiveMuteExists(userID uint, now time.Time) (bool, error) {
	var count int64
	err := s.db.Model(&models.Mute{}).
		Where("user_id = ? AND (until IS NULL OR until > ?)", userID, now).
		Count(&count).Error
	return count > 0, wrap(err)
}

func (s *DBStore) CreateNotification(n *models.Notification) error {
	return wrap(s.db.Create(n).Error)
}

func (s *DBStore) ListNotifications(recipientID uint, limit int) ([]models.Notification, error) {
	var ns []models.Notification
	err := s.db.Where("recipient_id = ?", recipientID).
		Order("id desc").Limit(limit).Find(&ns).Error
	return ns, wrap(err)
}

func (s *DBStore) MarkNotificationRead(id, recipientID uint) error {
	res := s.db.Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).Update("read", true)
	if res.Error != nil {
		return wrap(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *DBStore) SaveRefreshToken(rt *models.RefreshToken) error {
	return wrap(s.db.Create(rt).Error)
}

// RotateRefreshToken 在一个事务里完成校验、吊销旧 token、写入新 token，
// 返回所属用户 id。旧 token 无效或过期返回 ErrNotFound。
func (s *DBStore) RotateRefreshToken(oldToken string, newToken *models.RefreshToken, now time.Time) (uint, error) {
	var userID uint
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var rec models.RefreshToken
		err := tx.Where("token = ? AND revoked_at IS NULL AND expires_at > ?", oldToken, now).
			First(&rec).Error
		if err != nil {
			return wrap(err)
		}
		if err := tx.Model(&models.RefreshToken{}).
			Where("token = ?", oldToken).Update("revoked_at", &now).Error; err != nil {
			return wrap(err)
		}
		newToken.UserID = rec.UserID
		if err := tx.Create(newToken).Error; err != nil {
			return wrap(err)
		}
		userID = rec.UserID
		return nil
	})
	return userID, err
}

func (s *DBStore) RevokeRefreshToken(token string, at time.Time) error {
	return wrap(s.db.Model(&models.RefreshToken{}).
		Where("token = ?", token).Update("revoked_at", &at).Error)
}
