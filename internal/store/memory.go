package store

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"chatserver/internal/models"
)

// MemStore 是 Store 的纯内存实现，测试使用。单把互斥锁即是它的
// "存储层序列化"：唯一性检查和写入在同一临界区内完成。
type MemStore struct {
	mu sync.Mutex

	nextID        map[string]uint
	users         map[uint]models.User
	rooms         map[string]models.Room
	members       []models.RoomMember
	conversations map[string]models.DirectConversation
	messages      map[uint]models.Message
	reactions     map[uint]models.Reaction
	pins          map[uint]models.PinnedMessage
	receipts      map[uint]models.ReadReceipt
	watermarks    map[string]models.ChannelReadState
	mutes         map[string]models.Mute
	notifications map[uint]models.Notification
	refreshTokens map[string]models.RefreshToken
}

func NewMemStore() *MemStore {
	return &MemStore{
		nextID:        make(map[string]uint),
		users:         make(map[uint]models.User),
		rooms:         make(map[string]models.Room),
		conversations: make(map[string]models.DirectConversation),
		messages:      make(map[uint]models.Message),
		reactions:     make(map[uint]models.Reaction),
		pins:          make(map[uint]models.PinnedMessage),
		receipts:      make(map[uint]models.ReadReceipt),
		watermarks:    make(map[string]models.ChannelReadState),
		mutes:         make(map[string]models.Mute),
		notifications: make(map[uint]models.Notification),
		refreshTokens: make(map[string]models.RefreshToken),
	}
}

func (s *MemStore) next(table string) uint {
	s.nextID[table]++
	return s.nextID[table]
}

func wmKey(userID uint, channelID string) string {
	return channelID + "|" + strconv.FormatUint(uint64(userID), 10)
}

func muteKey(userID, mutedBy uint) string {
	return strconv.FormatUint(uint64(userID), 10) + "|" + strconv.FormatUint(uint64(mutedBy), 10)
}

func (s *MemStore) CreateUser(u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.users {
		if ex.Username == u.Username {
			return ErrDuplicate
		}
	}
	u.ID = s.next("users")
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	s.users[u.ID] = *u
	return nil
}

func (s *MemStore) UserByID(id uint) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *MemStore) UserByUsername(username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			out := u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) UsersByIDs(ids []uint) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *MemStore) UsersByUsernames(usernames []string) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]struct{}, len(usernames))
	for _, n := range usernames {
		want[n] = struct{}{}
	}
	var out []models.User
	for _, u := range s.users {
		if _, ok := want[u.Username]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *MemStore) CreateRoom(r *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[r.ID]; ok {
		return ErrDuplicate
	}
	for _, ex := range s.rooms {
		if ex.Name == r.Name {
			return ErrDuplicate
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.rooms[r.ID] = *r
	return nil
}

func (s *MemStore) RoomByID(id string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *MemStore) ListRooms(limit int) ([]models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) AddRoomMember(roomID string, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.RoomID == roomID && m.UserID == userID {
			return nil
		}
	}
	s.members = append(s.members, models.RoomMember{
		ID: s.next("members"), RoomID: roomID, UserID: userID, CreatedAt: time.Now(),
	})
	return nil
}

func (s *MemStore) IsRoomMember(roomID string, userID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.RoomID == roomID && m.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) RoomMemberIDs(roomID string) ([]uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint
	for _, m := range s.members {
		if m.RoomID == roomID {
			ids = append(ids, m.UserID)
		}
	}
	return ids, nil
}

func (s *MemStore) CreateDirectConversation(dc *models.DirectConversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.conversations {
		if ex.UserLowID == dc.UserLowID && ex.UserHighID == dc.UserHighID {
			return ErrDuplicate
		}
	}
	if dc.CreatedAt.IsZero() {
		dc.CreatedAt = time.Now()
	}
	if dc.LastActivityAt.IsZero() {
		dc.LastActivityAt = dc.CreatedAt
	}
	s.conversations[dc.ID] = *dc
	return nil
}

func (s *MemStore) DirectConversationByID(id string) (*models.DirectConversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dc, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &dc, nil
}

func (s *MemStore) DirectConversationByPair(lowID, highID uint) (*models.DirectConversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dc := range s.conversations {
		if dc.UserLowID == lowID && dc.UserHighID == highID {
			out := dc
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) ListDirectConversations(userID uint) ([]models.DirectConversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DirectConversation
	for _, dc := range s.conversations {
		if dc.UserLowID == userID || dc.UserHighID == userID {
			out = append(out, dc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

func (s *MemStore) TouchDirectConversation(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dc, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	dc.LastActivityAt = at
	s.conversations[id] = dc
	return nil
}

func (s *MemStore) CreateMessage(m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.next("messages")
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.messages[m.ID] = *m
	return nil
}

func (s *MemStore) MessageByID(id uint) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *MemStore) UpdateMessage(m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; !ok {
		return ErrNotFound
	}
	s.messages[m.ID] = *m
	return nil
}

func (s *MemStore) ListMessages(channelID string, limit int, beforeID uint) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.ChannelID != channelID || m.Deleted {
			continue
		}
		if beforeID > 0 && m.ID >= beforeID {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) CountMessagesAfter(channelID string, messageID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, m := range s.messages {
		if m.ChannelID == channelID && !m.Deleted && m.ID > messageID {
			count++
		}
	}
	return count, nil
}

func (s *MemStore) CreateReaction(r *models.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.reactions {
		if ex.MessageID == r.MessageID && ex.UserID == r.UserID && ex.Emoji == r.Emoji {
			return ErrDuplicate
		}
	}
	r.ID = s.next("reactions")
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.reactions[r.ID] = *r
	return nil
}

func (s *MemStore) DeleteReaction(messageID, userID uint, emoji string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ex := range s.reactions {
		if ex.MessageID == messageID && ex.UserID == userID && ex.Emoji == emoji {
			delete(s.reactions, id)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) ListReactions(messageID uint) ([]models.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reaction
	for _, r := range s.reactions {
		if r.MessageID == messageID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) CreatePin(p *models.PinnedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.pins {
		if ex.MessageID == p.MessageID && ex.RoomID == p.RoomID {
			return ErrDuplicate
		}
	}
	p.ID = s.next("pins")
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.pins[p.ID] = *p
	return nil
}

func (s *MemStore) PinByID(id uint) (*models.PinnedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemStore) DeletePin(id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pins[id]; !ok {
		return ErrNotFound
	}
	delete(s.pins, id)
	return nil
}

func (s *MemStore) ListPins(roomID string) ([]models.PinnedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PinnedMessage
	for _, p := range s.pins {
		if p.RoomID == roomID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemStore) CreateReadReceipt(r *models.ReadReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.receipts {
		if ex.MessageID == r.MessageID && ex.UserID == r.UserID {
			return ErrDuplicate
		}
	}
	r.ID = s.next("receipts")
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.receipts[r.ID] = *r
	return nil
}

func (s *MemStore) UpsertWatermark(userID uint, channelID string, messageID uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := wmKey(userID, channelID)
	state, ok := s.watermarks[key]
	if !ok {
		state = models.ChannelReadState{
			ID: s.next("watermarks"), UserID: userID, ChannelID: channelID,
		}
	}
	state.LastReadMessageID = messageID
	state.UpdatedAt = at
	s.watermarks[key] = state
	return nil
}

func (s *MemStore) Watermark(userID uint, channelID string) (*models.ChannelReadState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.watermarks[wmKey(userID, channelID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &state, nil
}

func (s *MemStore) UpsertMute(m *models.Mute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := muteKey(m.UserID, m.MutedBy)
	if ex, ok := s.mutes[key]; ok {
		ex.Until = m.Until
		ex.UpdatedAt = time.Now()
		s.mutes[key] = ex
		m.ID = ex.ID
		return nil
	}
	m.ID = s.next("mutes")
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.mutes[key] = *m
	return nil
}

func (s *MemStore) DeleteMute(userID, mutedBy uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mutes, muteKey(userID, mutedBy))
	return nil
}

func (s *MemStore) ActiveMuteExists(userID uint, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mutes {
		if m.UserID != userID {
			continue
		}
		if m.Until == nil || m.Until.After(now) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) CreateNotification(n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = s.next("notifications")
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	s.notifications[n.ID] = *n
	return nil
}

func (s *MemStore) ListNotifications(recipientID uint, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.notifications {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) MarkNotificationRead(id, recipientID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return ErrNotFound
	}
	n.Read = true
	s.notifications[id] = n
	return nil
}

func (s *MemStore) SaveRefreshToken(rt *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refreshTokens[rt.Token]; ok {
		return ErrDuplicate
	}
	rt.ID = s.next("refresh_tokens")
	if rt.CreatedAt.IsZero() {
		rt.CreatedAt = time.Now()
	}
	s.refreshTokens[rt.Token] = *rt
	return nil
}

func (s *MemStore) RotateRefreshToken(oldToken string, newToken *models.RefreshToken, now time.Time) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refreshTokens[oldToken]
	if !ok || rec.RevokedAt != nil || !rec.ExpiresAt.After(now) {
		return 0, ErrNotFound
	}
	revoked := now
	rec.RevokedAt = &revoked
	s.refreshTokens[oldToken] = rec
	newToken.ID = s.next("refresh_tokens")
	newToken.UserID = rec.UserID
	if newToken.CreatedAt.IsZero() {
		newToken.CreatedAt = now
	}
	s.refreshTokens[newToken.Token] = *newToken
	return rec.UserID, nil
}

func (s *MemStore) RevokeRefreshToken(token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refreshTokens[token]
	if !ok {
		return ErrNotFound
	}
	rec.RevokedAt = &at
	s.refreshTokens[token] = rec
	return nil
}
