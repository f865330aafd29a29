package service

import (
	"errors"
	"testing"

	"chatserver/internal/models"
	"chatserver/internal/ws"
)

func TestMessageCreated_DMNotifiesOtherParticipant(t *testing.T) {
	svc, st, hub := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)
	bob := mustUser(t, st, "bob", models.RoleUser)

	dm, err := svc.GetOrCreateDirectConversation(alice, bob.ID)
	if err != nil {
		t.Fatalf("GetOrCreateDirectConversation() error = %v", err)
	}
	if _, err := svc.PostMessage(dm.ID, alice, "hey bob", nil); err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}

	ns, err := st.ListNotifications(bob.ID, 10)
	if err != nil {
		t.Fatalf("ListNotifications() error = %v", err)
	}
	if len(ns) != 1 || ns[0].Type != models.NotifyDMMessage || ns[0].SourceUserID != alice.ID {
		t.Errorf("bob notifications = %+v, want one dm_message from alice", ns)
	}
	if got, _ := st.ListNotifications(alice.ID, 10); len(got) != 0 {
		t.Errorf("author received %d notifications, want 0", len(got))
	}

	// Pushed on bob's personal channel, not the conversation channel.
	if evts := hub.eventsFor(ws.UserChannel(bob.ID), ws.EventNotification); len(evts) != 1 {
		t.Errorf("got %d notification events on bob's channel, want 1", len(evts))
	}
}

func TestMessageCreated_MentionFanOut(t *testing.T) {
	svc, st, hub := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)
	bob := mustUser(t, st, "bob", models.RoleUser)
	carol := mustUser(t, st, "carol", models.RoleUser)
	room := mustRoom(t, svc, alice, "general", models.VisibilityPublic)

	// Plain room messages do not fan out to members.
	if _, err := svc.PostMessage(room.ID, alice, "morning all", nil); err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}
	if ns, _ := st.ListNotifications(bob.ID, 10); len(ns) != 0 {
		t.Fatalf("plain message produced %d notifications, want 0", len(ns))
	}

	// A mention reaches exactly the mentioned users, deduplicated,
	// excluding the author's self-mention.
	if _, err := svc.PostMessage(room.ID, alice, "@bob @bob @alice see @nosuchuser", nil); err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}
	ns, _ := st.ListNotifications(bob.ID, 10)
	if len(ns) != 1 || ns[0].Type != models.NotifyMention {
		t.Errorf("bob notifications = %+v, want exactly one mention", ns)
	}
	if got, _ := st.ListNotifications(alice.ID, 10); len(got) != 0 {
		t.Errorf("self-mention produced %d notifications, want 0", len(got))
	}
	if got, _ := st.ListNotifications(carol.ID, 10); len(got) != 0 {
		t.Errorf("unmentioned carol got %d notifications, want 0", len(got))
	}
	if evts := hub.eventsFor(ws.UserChannel(bob.ID), ws.EventNotification); len(evts) != 1 {
		t.Errorf("got %d events on bob's channel, want 1", len(evts))
	}
}

func TestMessageCreated_MentionRequiresChannelAccess(t *testing.T) {
	svc, st, _ := newTestService(t)
	alice := mustUser(t, st, "alice", models.RoleUser)
	bob := mustUser(t, st, "bob", models.RoleUser)
	room := mustRoom(t, svc, alice, "staff", models.VisibilityPrivate)

	// bob is not a member of the private room, so mentioning him
	// must not leak a notification.
	if _, err := svc.PostMessage(room.ID, alice, "ask @bob later", nil); err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}
	if ns, _ := st.ListNotifications(bob.ID, 10); len(ns) != 0 {
		t.Errorf("outsider mention produced %d notifications, want 0", len(ns))
	}
}

func TestNotification_ListAndMarkRead(t *testing.T) {
	svc, st, _ := newTestService(t)
	notif := NewNotificationService(st, &fakeHub{})
	alice := mustUser(t, st, "alice", models.RoleUser)
	bob := mustUser(t, st, "bob", models.RoleUser)
	room := mustRoom(t, svc, alice, "general", models.VisibilityPublic)

	if _, err := svc.PostMessage(room.ID, alice, "ping @bob", nil); err != nil {
		t.Fatalf("PostMessage() error = %v", err)
	}

	list, err := notif.List(bob.ID, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].Read {
		t.Fatalf("list = %+v, want one unread notification", list)
	}

	if err := notif.MarkRead(list[0].ID, bob.ID); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	list, _ = notif.List(bob.ID, 10)
	if len(list) != 1 || !list[0].Read {
		t.Errorf("list after MarkRead = %+v, want read=true", list)
	}

	// Only the recipient may mark it read.
	if err := notif.MarkRead(list[0].ID, alice.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign MarkRead error = %v, want ErrNotFound", err)
	}
}
