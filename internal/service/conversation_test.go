package service

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"chatserver/internal/models"
	"chatserver/internal/store"
	"chatserver/internal/ws"
)

// fakeHub records published events so tests can assert on delivery
// order and payloads without real sockets.
type fakeHub struct {
	mu     sync.Mutex
	events []ws.Event
}

func (f *fakeHub) Publish(channelID string, evt ws.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evt.ChannelID = channelID
	f.events = append(f.events, evt)
}

func (f *fakeHub) RelayEphemeral(channelID string, evt ws.Event) { f.Publish(channelID, evt) }

func (f *fakeHub) Online(channelID string) int { return 0 }

func (f *fakeHub) eventsFor(channelID string, typ string) []ws.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ws.Event
	for _, e := range f.events {
		if e.ChannelID == channelID && (typ == "" || e.Type == typ) {
			out = append(out, e)
		}
	}
	return out
}

func newTestService(t *testing.T) (*ConversationService, *store.MemStore, *fakeHub) {
	t.Helper()
	st := store.NewMemStore()
	hub := &fakeHub{}
	notif := NewNotificationService(st, hub)
	return NewConversationService(st, hub, notif), st, hub
}

func mustUser(t *testing.T, st *store.MemStore, username, role string) *models.User {
	t.Helper()
	u := models.User{Username: username, PasswordHash: "x", Role: role}
	if err := st.CreateUser(&u); err != nil {
		t.Fatalf("CreateUser(%s) error = %v", username, err)
	}
	return &u
}

func mustRoom(t *testing.T, svc *ConversationService, creator *models.User, name, visibility string) *RoomDTO {
	t.Helper()
	room, err := svc.CreateRoom(name, "", visibility, creator)
	if err != nil {
		t.Fatalf("CreateRoom(%s) error = %v", name, err)
	}
	return room
}

func TestCreateRoom_Validation(t *testing.T) {
	svc, st, _ := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)

	tests := []struct {
		name     string
		roomName string
	}{
		{"empty name", ""},
		{"whitespace name", "   "},
		{"too long", strings.Repeat("x", 51)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateRoom(tt.roomName, "", "", alice)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("CreateRoom(%q) error = %v, want ErrValidation", tt.roomName, err)
			}
		})
	}

	if _, err := svc.CreateRoom("general", "", "secret", alice); !errors.Is(err, ErrValidation) {
		t.Errorf("CreateRoom with bad visibility error = %v, want ErrValidation", err)
	}
}

func TestCreateRoom_SlugAndConflict(t *testing.T) {
	svc, st, _ := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)

	room := mustRoom(t, svc, alice, "General Chat", models.VisibilityPublic)
	if room.ID != "general-chat" {
		t.Errorf("room id = %q, want general-chat", room.ID)
	}

	// Case-insensitive collision: both names slug to the same id.
	if _, err := svc.CreateRoom("GENERAL CHAT", "", "", alice); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate room error = %v, want ErrConflict", err)
	}
}

func TestCreateRoom_PrivateAddsCreator(t *testing.T) {
	svc, st, _ := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)

	room := mustRoom(t, svc, alice, "staff", models.VisibilityPrivate)
	ok, err := st.IsRoomMember(room.ID, alice.ID)
	if err != nil || !ok {
		t.Errorf("creator should be a member of the private room, ok=%v err=%v", ok, err)
	}
}

func TestGetOrCreateDirectConversation_Canonical(t *testing.T) {
	svc, st, _ := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)
	bob := mustUser(t, st, "bob", models.RoleUser)

	c1, err := svc.GetOrCreateDirectConversation(alice, bob.ID)
	if err != nil {
		t.Fatalf("GetOrCreateDirectConversation(alice, bob) error = %v", err)
	}
	c2, err := svc.GetOrCreateDirectConversation(bob, alice.ID)
	if err != nil {
		t.Fatalf("GetOrCreateDirectConversation(bob, alice) error = %v", err)
	}
	if c1.ID != c2.ID {
		t.Errorf("conversation ids differ: %q vs %q", c1.ID, c2.ID)
	}

	if _, err := svc.GetOrCreateDirectConversation(alice, alice.ID); !errors.Is(err, ErrValidation) {
		t.Errorf("self conversation error = %v, want ErrValidation", err)
	}
	if _, err := svc.GetOrCreateDirectConversation(alice, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown user error = %v, want ErrNotFound", err)
	}
}

func TestPostMessage_Validation(t *testing.T) {
	svc, st, _ := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)
	room := mustRoom(t, svc, alice, "general", models.VisibilityPublic)

	if _, err := svc.PostMessage(room.ID, alice, "   ", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("whitespace body error = %v, want ErrValidation", err)
	}
	if _, err := svc.PostMessage(room.ID, alice, strings.Repeat("a", 2001), nil); !errors.Is(err, ErrValidation) {
		t.Errorf("oversized body error = %v, want ErrValidation", err)
	}
	if _, err := svc.PostMessage("no-such-channel", alice, "hi", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown channel error = %v, want ErrNotFound", err)
	}
}

func TestPostMessage_PrivateRoomMembership(t *testing.T) {
	svc, st, _ := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)
	mallory := mustUser(t, st, "mallory", models.RoleUser)
	room := mustRoom(t, svc, alice, "staff", models.VisibilityPrivate)

	if _, err := svc.PostMessage(room.ID, mallory, "hi", nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-member post error = %v, want ErrForbidden", err)
	}
	if _, err := svc.PostMessage(room.ID, alice, "hi", nil); err != nil {
		t.Errorf("member post error = %v", err)
	}
}

func TestPostMessage_BroadcastCarriesFinalEntity(t *testing.T) {
	svc, st, hub := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)
	room := mustRoom(t, svc, alice, "general", models.VisibilityPublic)

	msg, err := svc.PostMessage(room.ID, alice, "hello", nil)
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}

	events := hub.eventsFor(room.ID, ws.EventMessage)
	if len(events) != 1 {
		t.Fatalf("got %d message events, want 1", len(events))
	}
	dto, ok := events[0].Data.(*MessageDTO)
	if !ok {
		t.Fatalf("event data is %T, want *MessageDTO", events[0].Data)
	}
	if dto.ID != msg.ID || dto.Body != "hello" || dto.AuthorID != alice.ID {
		t.Errorf("broadcast dto = %+v, want persisted message %+v", dto, msg)
	}
}

func TestMessageLifecycle_EditDeleteReact(t *testing.T) {
	svc, st, hub := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)
	room := mustRoom(t, svc, alice, "general", models.VisibilityPublic)

	msg, err := svc.PostMessage(room.ID, alice, "hello", nil)
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}

	edited, err := svc.EditMessage(msg.ID, alice, "hello world")
	if err != nil {
		t.Fatalf("EditMessage() error = %v", err)
	}
	if !edited.Edited || edited.Body != "hello world" || edited.ID != msg.ID {
		t.Errorf("edited dto = %+v, want same id with edited=true", edited)
	}
	if evts := hub.eventsFor(room.ID, ws.EventMessageEdited); len(evts) != 1 {
		t.Errorf("got %d edited events, want 1", len(evts))
	}

	if err := svc.DeleteMessage(msg.ID, alice); err != nil {
		t.Fatalf("DeleteMessage() error = %v", err)
	}
	history, err := svc.ListMessages(room.ID, alice, 50, 0)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	for _, m := range history {
		if m.ID == msg.ID {
			t.Error("deleted message still present in history")
		}
	}

	// Reactions against a soft-deleted id still succeed.
	added, err := svc.ToggleReaction(msg.ID, alice, "👍")
	if err != nil {
		t.Fatalf("ToggleReaction() on deleted message error = %v", err)
	}
	if !added {
		t.Error("ToggleReaction() = removed, want added")
	}

	// But editing a deleted message is NotFound.
	if _, err := svc.EditMessage(msg.ID, alice, "zombie"); !errors.Is(err, ErrNotFound) {
		t.Errorf("edit deleted message error = %v, want ErrNotFound", err)
	}
}

func TestEditDelete_Ownership(t *testing.T) {
	svc, st, _ := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)
	bob := mustUser(t, st, "bob", models.RoleUser)
	admin := mustUser(t, st, "root", models.RoleAdmin)
	room := mustRoom(t, svc, alice, "general", models.VisibilityPublic)

	msg, err := svc.PostMessage(room.ID, alice, "mine", nil)
	if err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}

	if _, err := svc.EditMessage(msg.ID, bob, "stolen"); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-owner edit error = %v, want ErrForbidden", err)
	}
	if err := svc.DeleteMessage(msg.ID, bob); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-owner delete error = %v, want ErrForbidden", err)
	}

	// Admin may edit and force-delete regardless of authorship.
	if _, err := svc.EditMessage(msg.ID, admin, "moderated"); err != nil {
		t.Errorf("admin edit error = %v", err)
	}
	if err := svc.DeleteMessage(msg.ID, admin); err != nil {
		t.Errorf("admin delete error = %v", err)
	}
}

func TestToggleReaction_Inverse(t *testing.T) {
	svc, st, _ := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)
	room := mustRoom(t, svc, alice, "general", models.VisibilityPublic)
	msg, _ := svc.PostMessage(room.ID, alice, "hello", nil)

	added, err := svc.ToggleReaction(msg.ID, alice, "🔥")
	if err != nil || !added {
		t.Fatalf("first toggle = (%v, %v), want (true, nil)", added, err)
	}
	added, err = svc.ToggleReaction(msg.ID, alice, "🔥")
	if err != nil || added {
		t.Fatalf("second toggle = (%v, %v), want (false, nil)", added, err)
	}
	rs, err := svc.ListReactions(msg.ID, alice)
	if err != nil {
		t.Fatalf("ListReactions() error = %v", err)
	}
	if len(rs) != 0 {
		t.Errorf("got %d reactions after double toggle, want 0", len(rs))
	}
}

func TestPin_ConflictAndOwnership(t *testing.T) {
	svc, st, _ := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)
	bob := mustUser(t, st, "bob", models.RoleUser)
	admin := mustUser(t, st, "root", models.RoleAdmin)
	room := mustRoom(t, svc, alice, "general", models.VisibilityPublic)
	msg, _ := svc.PostMessage(room.ID, alice, "pin me", nil)

	pin, err := svc.PinMessage(msg.ID, room.ID, alice)
	if err != nil {
		t.Fatalf("PinMessage() error = %v", err)
	}
	if _, err := svc.PinMessage(msg.ID, room.ID, bob); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate pin error = %v, want ErrConflict", err)
	}

	if err := svc.UnpinMessage(pin.ID, bob); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-pinner unpin error = %v, want ErrForbidden", err)
	}
	if err := svc.UnpinMessage(pin.ID, admin); err != nil {
		t.Errorf("admin unpin error = %v", err)
	}
}

func TestPin_ConcurrentExactlyOneWins(t *testing.T) {
	svc, st, _ := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)
	bob := mustUser(t, st, "bob", models.RoleUser)
	room := mustRoom(t, svc, alice, "general", models.VisibilityPublic)
	msg, _ := svc.PostMessage(room.ID, alice, "race", nil)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, u := range []*models.User{alice, bob} {
		wg.Add(1)
		go func(idx int, user *models.User) {
			defer wg.Done()
			_, results[idx] = svc.PinMessage(msg.ID, room.ID, user)
		}(i, u)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected pin error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Errorf("wins=%d conflicts=%d, want exactly one of each", wins, conflicts)
	}
}

func TestRecordReadReceipt_IdempotentWatermark(t *testing.T) {
	svc, st, _ := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)
	bob := mustUser(t, st, "bob", models.RoleUser)
	room := mustRoom(t, svc, alice, "general", models.VisibilityPublic)

	m1, _ := svc.PostMessage(room.ID, alice, "one", nil)
	m2, _ := svc.PostMessage(room.ID, alice, "two", nil)

	for i := 0; i < 3; i++ {
		if err := svc.RecordReadReceipt(m2.ID, room.ID, bob); err != nil {
			t.Fatalf("RecordReadReceipt() #%d error = %v", i, err)
		}
	}
	unread, err := svc.UnreadCount(room.ID, bob)
	if err != nil {
		t.Fatalf("UnreadCount() error = %v", err)
	}
	if unread != 0 {
		t.Errorf("unread = %d after reading newest, want 0", unread)
	}

	// Watermark is last-call-wins, not max: reading an older message
	// afterwards regresses the pointer.
	if err := svc.RecordReadReceipt(m1.ID, room.ID, bob); err != nil {
		t.Fatalf("RecordReadReceipt(older) error = %v", err)
	}
	unread, _ = svc.UnreadCount(room.ID, bob)
	if unread != 1 {
		t.Errorf("unread = %d after regressing watermark, want 1", unread)
	}

	state, err := st.Watermark(bob.ID, room.ID)
	if err != nil {
		t.Fatalf("Watermark() error = %v", err)
	}
	if state.LastReadMessageID != m1.ID {
		t.Errorf("watermark = %d, want %d", state.LastReadMessageID, m1.ID)
	}
}

func TestMuteLifecycle(t *testing.T) {
	svc, st, _ := newTestService(t)
	admin := mustUser(t, st, "root", models.RoleAdmin)
	carol := mustUser(t, st, "carol", models.RoleUser)
	room := mustRoom(t, svc, admin, "general", models.VisibilityPublic)

	if err := svc.MuteUser(carol.ID, admin, nil); err != nil {
		t.Fatalf("MuteUser() error = %v", err)
	}
	if _, err := svc.PostMessage(room.ID, carol, "hi", nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("muted post error = %v, want ErrForbidden", err)
	}

	if err := svc.UnmuteUser(carol.ID, admin); err != nil {
		t.Fatalf("UnmuteUser() error = %v", err)
	}
	if _, err := svc.PostMessage(room.ID, carol, "hi again", nil); err != nil {
		t.Errorf("post after unmute error = %v", err)
	}

	// Non-admins cannot mute.
	if err := svc.MuteUser(admin.ID, carol, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin mute error = %v, want ErrForbidden", err)
	}
}

func TestBroadcastOrderMatchesCommitOrder(t *testing.T) {
	svc, st, hub := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)
	room := mustRoom(t, svc, alice, "general", models.VisibilityPublic)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.PostMessage(room.ID, alice, "m", nil); err != nil {
				t.Errorf("PostMessage() error = %v", err)
			}
		}()
	}
	wg.Wait()

	events := hub.eventsFor(room.ID, ws.EventMessage)
	if len(events) != n {
		t.Fatalf("got %d events, want %d", len(events), n)
	}
	var last uint
	for i, e := range events {
		dto := e.Data.(*MessageDTO)
		if dto.ID <= last {
			t.Fatalf("event %d has id %d after id %d: delivery order != commit order", i, dto.ID, last)
		}
		last = dto.ID
	}
}

func TestCanSubscribe(t *testing.T) {
	svc, st, _ := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)
	bob := mustUser(t, st, "bob", models.RoleUser)
	private := mustRoom(t, svc, alice, "staff", models.VisibilityPrivate)
	public := mustRoom(t, svc, alice, "general", models.VisibilityPublic)

	if err := svc.CanSubscribe(public.ID, bob.ID); err != nil {
		t.Errorf("public room subscribe error = %v", err)
	}
	if err := svc.CanSubscribe(private.ID, bob.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("private room subscribe error = %v, want ErrForbidden", err)
	}
	if err := svc.CanSubscribe(ws.UserChannel(alice.ID), alice.ID); err != nil {
		t.Errorf("own user channel subscribe error = %v", err)
	}
	if err := svc.CanSubscribe(ws.UserChannel(alice.ID), bob.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign user channel subscribe error = %v, want ErrForbidden", err)
	}

	dm, err := svc.GetOrCreateDirectConversation(alice, bob.ID)
	if err != nil {
		t.Fatalf("GetOrCreateDirectConversation() error = %v", err)
	}
	mallory := mustUser(t, st, "mallory", models.RoleUser)
	if err := svc.CanSubscribe(dm.ID, mallory.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("outsider DM subscribe error = %v, want ErrForbidden", err)
	}
}

func TestListRoomMembers(t *testing.T) {
	svc, st, _ := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)
	bob := mustUser(t, st, "bob", models.RoleUser)
	mallory := mustUser(t, st, "mallory", models.RoleUser)
	room := mustRoom(t, svc, alice, "staff", models.VisibilityPrivate)

	if err := svc.JoinRoom(room.ID, alice, bob.ID); err != nil {
		t.Fatalf("JoinRoom() error = %v", err)
	}

	members, err := svc.ListRoomMembers(room.ID, alice)
	if err != nil {
		t.Fatalf("ListRoomMembers() error = %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("got %d members, want 2 (creator + invited)", len(members))
	}
	names := map[string]bool{}
	for _, m := range members {
		names[m.Username] = true
	}
	if !names["alice"] || !names["bob"] {
		t.Errorf("members = %v, want alice and bob", members)
	}

	// Non-members cannot enumerate a private room.
	if _, err := svc.ListRoomMembers(room.ID, mallory); !errors.Is(err, ErrForbidden) {
		t.Errorf("outsider list error = %v, want ErrForbidden", err)
	}
	if _, err := svc.ListRoomMembers("no-such-room", alice); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown room error = %v, want ErrNotFound", err)
	}
}

func TestListRooms_VisibilityFiltered(t *testing.T) {
	svc, st, _ := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)
	bob := mustUser(t, st, "bob", models.RoleUser)
	mustRoom(t, svc, alice, "general", models.VisibilityPublic)
	mustRoom(t, svc, alice, "staff", models.VisibilityPrivate)

	rooms, err := svc.ListRooms(bob, 0)
	if err != nil {
		t.Fatalf("ListRooms() error = %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != "general" {
		t.Errorf("bob sees %v, want only the public room", rooms)
	}

	rooms, err = svc.ListRooms(alice, 0)
	if err != nil {
		t.Fatalf("ListRooms() error = %v", err)
	}
	if len(rooms) != 2 {
		t.Errorf("alice sees %d rooms, want 2", len(rooms))
	}
}
