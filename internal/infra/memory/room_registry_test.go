package memory

import (
	"testing"

	"github.com/jonboulle/clockwork"

	"quiz-room-service/internal/app"
)

func TestRoomRegistryLifecycle(t *testing.T) {
	registry := NewRoomRegistry()

	calls := 0
	create := func() *app.Session {
		calls++
		return app.NewSession(app.SessionConfig{Code: "ABCD", HostID: "host"}, clockwork.NewFakeClock(), nil, nil)
	}

	first, created := registry.GetOrCreate("ABCD", create)
	if !created || first == nil {
		t.Fatalf("expected room to be created")
	}
	second, created := registry.GetOrCreate("ABCD", create)
	if created || second != first {
		t.Fatalf("expected existing room to be returned")
	}
	if calls != 1 {
		t.Fatalf("expected factory once, got %d", calls)
	}

	if _, ok := registry.Get("abcd"); ok {
		t.Fatalf("room codes are case-sensitive")
	}
	if got := len(registry.List()); got != 1 {
		t.Fatalf("expected 1 room listed, got %d", got)
	}

	registry.Delete("ABCD")
	if _, ok := registry.Get("ABCD"); ok {
		t.Fatalf("expected room removed")
	}
	if got := len(registry.List()); got != 0 {
		t.Fatalf("expected no rooms listed, got %d", got)
	}
}
