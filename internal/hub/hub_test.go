package hub

import "testing"

type testWriter struct {
	writes int
	fail   bool
}

func (w *testWriter) Write(message []byte) error {
	w.writes++
	if w.fail {
		return errTest
	}
	return nil
}

func (w *testWriter) Close() error { return nil }

var errTest = &testErr{}

type testErr struct{}

func (*testErr) Error() string { return "test" }

func TestHub_SendToUserAndUnregister(t *testing.T) {
	h := New()
	w1 := &testWriter{}
	c1 := &Connection{UserID: "u", ConnectionID: "c1", Writer: w1}

	h.Register(c1)
	_ = h.SendToUser("u", []byte("x"))
	if w1.writes != 1 {
		t.Fatalf("expected 1 write, got %d", w1.writes)
	}

	h.Unregister(c1)
	_ = h.SendToUser("u", []byte("x"))
	if w1.writes != 1 {
		t.Fatalf("expected no more writes, got %d", w1.writes)
	}
}

func TestHub_GroupBroadcast(t *testing.T) {
	h := New()
	w1 := &testWriter{}
	w2 := &testWriter{}
	c1 := &Connection{UserID: "u1", ConnectionID: "c1", Writer: w1}
	c2 := &Connection{UserID: "u2", ConnectionID: "c2", Writer: w2}

	h.Register(c1)
	h.Register(c2)
	h.Join("presence", c1)
	h.Join("presence", c2)

	_ = h.Broadcast("presence", []byte("x"))
	if w1.writes != 1 || w2.writes != 1 {
		t.Fatalf("expected 1 write each, got %d and %d", w1.writes, w2.writes)
	}

	h.Leave("presence", c2)
	_ = h.Broadcast("presence", []byte("x"))
	if w2.writes != 1 {
		t.Fatalf("expected left member untouched, got %d", w2.writes)
	}
}

func TestHub_RemovesFailedConnections(t *testing.T) {
	h := New()
	w1 := &testWriter{fail: true}
	c1 := &Connection{UserID: "u", ConnectionID: "c1", Writer: w1}
	h.Register(c1)
	h.Join("presence", c1)

	_ = h.Broadcast("presence", []byte("x"))
	_ = h.Broadcast("presence", []byte("x"))
	if w1.writes != 1 {
		t.Fatalf("expected only 1 write before removal, got %d", w1.writes)
	}

	users, _ := h.ListLiveConnections()
	if len(users) != 0 {
		t.Fatalf("expected failed connection dropped from registry, got %v", users)
	}
}

func TestHub_ListLiveConnections(t *testing.T) {
	h := New()
	c1 := &Connection{UserID: "u1", ConnectionID: "c1", Writer: &testWriter{}}
	c2 := &Connection{UserID: "u1", ConnectionID: "c2", Writer: &testWriter{}}
	h.Register(c1)
	h.Register(c2)

	users, err := h.ListLiveConnections()
	if err != nil {
		t.Fatalf("ListLiveConnections: %v", err)
	}
	if len(users) != 1 || users[0] != "u1" {
		t.Fatalf("expected [u1], got %v", users)
	}
	if h.ConnectionCount("u1") != 2 {
		t.Fatalf("expected 2 connections, got %d", h.ConnectionCount("u1"))
	}

	h.Unregister(c1)
	if h.ConnectionCount("u1") != 1 {
		t.Fatalf("expected 1 connection after unregister, got %d", h.ConnectionCount("u1"))
	}
}
