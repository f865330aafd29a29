package presence

import (
	"testing"
	"time"

	"chatserver/internal/ws"
)

// The tracker relays through a real hub; with no subscribers the relay
// is a no-op, which is exactly the ephemeral contract.
func TestTracker_AutoClearAfterIdle(t *testing.T) {
	tr := NewTracker(ws.NewHub(), 30*time.Millisecond)
	defer tr.Stop()

	tr.SetTyping("general", 1, "alice", true)
	if !tr.Typing("general", 1) {
		t.Fatal("user should be typing right after the signal")
	}

	time.Sleep(60 * time.Millisecond)
	if tr.Typing("general", 1) {
		t.Error("typing state should expire after the idle window")
	}
}

func TestTracker_RepeatSignalExtendsWindow(t *testing.T) {
	tr := NewTracker(ws.NewHub(), 50*time.Millisecond)
	defer tr.Stop()

	tr.SetTyping("general", 1, "alice", true)
	time.Sleep(30 * time.Millisecond)
	tr.SetTyping("general", 1, "alice", true)
	time.Sleep(30 * time.Millisecond)

	// 60ms after the first signal but only 30ms after the second:
	// the timer must have been reset.
	if !tr.Typing("general", 1) {
		t.Error("repeat signal should extend the typing window")
	}
}

func TestTracker_ExplicitStop(t *testing.T) {
	tr := NewTracker(ws.NewHub(), time.Minute)
	defer tr.Stop()

	tr.SetTyping("general", 1, "alice", true)
	tr.SetTyping("general", 1, "alice", false)
	if tr.Typing("general", 1) {
		t.Error("explicit is_typing=false should clear the state")
	}
}

func TestTracker_PerChannelState(t *testing.T) {
	tr := NewTracker(ws.NewHub(), time.Minute)
	defer tr.Stop()

	tr.SetTyping("general", 1, "alice", true)
	tr.SetTyping("random", 1, "alice", true)
	tr.SetTyping("general", 1, "alice", false)

	if tr.Typing("general", 1) {
		t.Error("general should be cleared")
	}
	if !tr.Typing("random", 1) {
		t.Error("random should be untouched")
	}
}
