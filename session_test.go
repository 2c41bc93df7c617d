package agentgate

import (
	"testing"
	"time"
)

func TestSessionHasScope(t *testing.T) {
	s := &Session{Scopes: []string{"read", "watch"}}
	if !s.HasScope("read") {
		t.Fatal("expected read scope")
	}
	if s.HasScope("admin") {
		t.Fatal("unexpected admin scope")
	}

	wild := &Session{Scopes: []string{"*"}}
	if !wild.HasScope("anything") {
		t.Fatal("wildcard should grant every scope")
	}
}

func TestSessionStoreCreateAndRemove(t *testing.T) {
	st := newSessionStore(time.Minute)
	now := time.Now()

	s := st.create("svc-a", []string{"read"}, time.Time{}, "conn-1", now)
	if !st.has(s.ID) {
		t.Fatal("created session not found")
	}
	if st.len() != 1 {
		t.Fatalf("len = %d, want 1", st.len())
	}

	if !st.removeByConn("conn-1") {
		t.Fatal("removeByConn returned false for live session")
	}
	if st.has(s.ID) {
		t.Fatal("session survived removeByConn")
	}
	if st.removeByConn("conn-1") {
		t.Fatal("second removeByConn should be a no-op")
	}
}

func TestSessionStoreSweep(t *testing.T) {
	st := newSessionStore(time.Minute)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	idle := st.create("svc-a", nil, time.Time{}, "conn-1", base)
	active := st.create("svc-b", nil, time.Time{}, "conn-2", base)
	active.Touch(base.Add(2 * time.Minute))

	removed := st.sweep(base.Add(2*time.Minute + time.Second))
	if removed != 1 {
		t.Fatalf("sweep removed %d, want 1", removed)
	}
	if st.has(idle.ID) {
		t.Fatal("idle session survived sweep")
	}
	if !st.has(active.ID) {
		t.Fatal("active session was swept")
	}
}

func TestSessionStoreSweepDisabled(t *testing.T) {
	st := newSessionStore(0)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	st.create("svc-a", nil, time.Time{}, "conn-1", base)

	if removed := st.sweep(base.Add(24 * time.Hour)); removed != 0 {
		t.Fatalf("sweep removed %d with maxIdle=0, want 0", removed)
	}
}
