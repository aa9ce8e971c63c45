package logger

import "testing"

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud"); err == nil {
		t.Fatalf("expected unknown level to be rejected")
	}
}

func TestNewDefaultsToInfo(t *testing.T) {
	log, err := New("")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if log.Core().Enabled(-1) {
		t.Fatalf("expected debug to be disabled at default level")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("expected nop logger")
	}
}
