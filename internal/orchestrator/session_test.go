package orchestrator

import "testing"

func TestSessionAcquireRelease(t *testing.T) {
	s := newSessionSet()

	tok, ok := s.Acquire("alice")
	if !ok || tok == nil {
		t.Fatal("first Acquire should succeed")
	}
	if _, ok := s.Acquire("alice"); ok {
		t.Error("second Acquire for same requester should be rejected")
	}
	if _, ok := s.Acquire("bob"); !ok {
		t.Error("distinct requesters should not contend")
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}

	s.Release("alice")
	if _, ok := s.Acquire("alice"); !ok {
		t.Error("Acquire after Release should succeed")
	}
}

func TestSessionCancel(t *testing.T) {
	s := newSessionSet()

	if s.Cancel("nobody") {
		t.Error("Cancel with no active request should report false")
	}

	tok, _ := s.Acquire("alice")
	if !s.Cancel("alice") {
		t.Error("Cancel with an active request should report true")
	}
	if !tok.IsSet() {
		t.Error("Cancel should set the active token")
	}

	// Slot stays claimed until the worker unwinds and releases it.
	if _, ok := s.Acquire("alice"); ok {
		t.Error("slot should remain held after Cancel")
	}
	s.Release("alice")
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}
