package orchestrator

import (
	"testing"
	"time"
)

func TestInMemoryStore_GetSetSession(t *testing.T) {
	store := NewInMemoryStore()

	_, ok := store.GetSession(SessionID("s1"))
	if ok {
		t.Error("expected not found for empty store")
	}

	s, _ := newTestSession("s1", time.Now())
	store.SetSession(s)

	got, ok := store.GetSession(SessionID("s1"))
	if !ok || got != s {
		t.Errorf("GetSession: ok=%v, got %p want %p", ok, got, s)
	}
}

func TestInMemoryStore_SetSession_replaces(t *testing.T) {
	store := NewInMemoryStore()
	s1, _ := newTestSession("s1", time.Now())
	s2, _ := newTestSession("s1", time.Now())
	store.SetSession(s1)
	store.SetSession(s2)

	got, ok := store.GetSession(SessionID("s1"))
	if !ok || got != s2 {
		t.Errorf("SetSession should replace: got %p want %p", got, s2)
	}
}

func TestInMemoryStore_Delete_and_List(t *testing.T) {
	store := NewInMemoryStore()
	a, _ := newTestSession("a", time.Now())
	b, _ := newTestSession("b", time.Now())
	store.SetSession(a)
	store.SetSession(b)

	if n := len(store.ListSessionIDs()); n != 2 {
		t.Errorf("ListSessionIDs len = %d, want 2", n)
	}
	store.DeleteSession("a")
	ids := store.ListSessionIDs()
	if len(ids) != 1 || ids[0] != "b" {
		t.Errorf("ListSessionIDs = %v, want [b]", ids)
	}
}

func TestNewInMemoryRepositoryWithStore(t *testing.T) {
	store := NewInMemoryStore()
	repo := NewInMemoryRepositoryWithStore(store)
	s, _ := newTestSession("s1", time.Now())
	if err := repo.AddSession(s); err != nil {
		t.Fatalf("AddSession: %v", err)
	}

	if _, ok := store.GetSession("s1"); !ok {
		t.Error("repository should persist through the given store")
	}
}
