package logging

import "testing"

func TestNew(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", ""} {
		l, err := New(level, true)
		if err != nil {
			t.Fatalf("New(%q) error = %v", level, err)
		}
		_ = l.Sync()
	}

	if _, err := New("chatty", false); err == nil {
		t.Fatal("New() accepted unknown level")
	}
}

func TestNop(t *testing.T) {
	Nop().Info("discarded")
}
