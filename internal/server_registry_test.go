package internal

import (
	"errors"
	"testing"
	"time"
)

func TestParseNamePolicy(t *testing.T) {
	for in, want := range map[string]NamePolicy{"": PolicyTakeover, "Takeover": PolicyTakeover, " unique ": PolicyUnique} {
		got, err := ParseNamePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParseNamePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseNamePolicy("first-wins"); err == nil {
		t.Fatalf("expected an error for an unknown policy")
	}
}

func TestRegistryRemoveOnlyMatchingHandle(t *testing.T) {
	registry := NewRegistry(PolicyTakeover, 32)
	now := time.Now()
	old := &Client{username: "alice"}
	current := &Client{username: "alice"}

	if evicted, err := registry.Admit("alice", old, now); err != nil || evicted != nil {
		t.Fatalf("first admit = %v, %v", evicted, err)
	}
	evicted, err := registry.Admit("alice", current, now)
	if err != nil || evicted != old {
		t.Fatalf("takeover admit = %v, %v", evicted, err)
	}
	if registry.Remove(old) {
		t.Fatalf("removing a superseded handle must be a no-op")
	}
	if !registry.Remove(current) {
		t.Fatalf("expected the live handle to be removed")
	}
	if registry.Remove(current) {
		t.Fatalf("second remove must be a no-op")
	}
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry")
	}
}

func TestRegistryUniquePolicy(t *testing.T) {
	registry := NewRegistry(PolicyUnique, 32)
	first := &Client{username: "alice"}
	if _, err := registry.Admit("alice", first, time.Now()); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if _, err := registry.Admit("alice", &Client{username: "alice"}, time.Now()); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
	// re-admitting the same handle is not a conflict
	if _, err := registry.Admit("alice", first, time.Now()); err != nil {
		t.Fatalf("re-admit same handle: %v", err)
	}
}

func TestRegistrySnapshotAndIdle(t *testing.T) {
	registry := NewRegistry(PolicyTakeover, 32)
	base := time.UnixMilli(1_000_000)
	carol := &Client{username: "carol"}
	alice := &Client{username: "alice"}
	bob := &Client{username: "bob"}
	registry.Admit("carol", carol, base)
	registry.Admit("alice", alice, base)
	registry.Admit("bob", bob, base)
	registry.Touch(bob, base.Add(time.Minute))

	if got := registry.Snapshot(); len(got) != 3 || got[0] != "alice" || got[1] != "bob" || got[2] != "carol" {
		t.Fatalf("expected sorted snapshot, got %v", got)
	}
	idle := registry.Idle(base.Add(30 * time.Second))
	if len(idle) != 2 || idle[0] != alice || idle[1] != carol {
		t.Fatalf("unexpected idle set %v", idle)
	}
}

func TestValidateName(t *testing.T) {
	registry := NewRegistry(PolicyTakeover, 5)
	if name, err := registry.ValidateName("  zoë  "); err != nil || name != "zoë" {
		t.Fatalf("ValidateName trimmed = %q, %v", name, err)
	}
	if _, err := registry.ValidateName("ζζζζζζ"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("length is counted in characters, expected ErrInvalidName, got %v", err)
	}
}
