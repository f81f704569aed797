package chat

import (
	"errors"
	"testing"
)

func TestRegistryKeepsOneEntryPerUser(t *testing.T) {
	r := NewRegistry()
	a1, a2 := &fakeConn{}, &fakeConn{}

	if prev := r.Register("alice", a1); prev != nil {
		t.Fatalf("expected no previous connection, got %v", prev)
	}
	if prev := r.Register("alice", a2); prev != a1 {
		t.Fatal("expected first connection to be returned as replaced")
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", r.Len())
	}
	if got, _ := r.Lookup("alice"); got != a2 {
		t.Fatal("expected latest connection")
	}

	if r.Unregister("alice", a1) {
		t.Fatal("unregistering a replaced connection must not remove the entry")
	}
	if !r.IsOnline("alice") {
		t.Fatal("alice should still be online")
	}
	if !r.Unregister("alice", a2) {
		t.Fatal("expected current connection to be removed")
	}
	if r.IsOnline("alice") || r.Len() != 0 {
		t.Fatal("registry should be empty")
	}
}

func TestRegistrySendToUser(t *testing.T) {
	r := NewRegistry()
	ok := &fakeConn{}
	broken := &fakeConn{err: errors.New("broken pipe")}
	r.Register("bob", ok)
	r.Register("carol", broken)

	if err := r.SendToUser("alice", Outbound{Event: EventTyping}); !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
	if err := r.SendToUser("bob", Outbound{Event: EventTyping}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(ok.named(EventTyping)) != 1 {
		t.Fatal("bob did not receive the event")
	}

	if err := r.SendToUser("carol", Outbound{Event: EventTyping}); err == nil {
		t.Fatal("expected send error")
	}
	if !broken.isClosed() {
		t.Fatal("failing connection should be closed")
	}
}
