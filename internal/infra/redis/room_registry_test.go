package redis

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

func TestRoomRegistrySetsAndClearsMarkers(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	registry := NewRoomRegistry(newClient(mr), time.Minute)

	_, created := registry.GetOrCreate("ABCD", func() *app.Session {
		return app.NewSession(app.SessionConfig{
			Code:       "ABCD",
			HostID:     "host-1",
			MaxPlayers: 4,
			Flow:       domain.FlowHostPaced,
		}, clockwork.NewFakeClock(), nil, nil)
	})
	if !created {
		t.Fatalf("expected room to be created")
	}

	key := Key("ABCD")
	if !mr.Exists(key) {
		t.Fatalf("expected redis marker to be set")
	}
	if got := mr.HGet(key, "host"); got != "host-1" {
		t.Fatalf("expected host marker host-1, got %q", got)
	}
	if got := mr.HGet(key, "max_players"); got != "4" {
		t.Fatalf("expected max_players 4, got %q", got)
	}
	if got := mr.HGet(key, "flow"); got != "host-paced" {
		t.Fatalf("expected flow host-paced, got %q", got)
	}
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Fatalf("expected ttl of a minute, got %v", ttl)
	}

	mr.FastForward(30 * time.Second)
	if err := registry.Touch(context.Background()); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Fatalf("expected touch to refresh ttl, got %v", ttl)
	}

	if mr.HGet(key, "marker") == "" {
		t.Fatalf("expected marker id to be stored")
	}

	registry.Delete("ABCD")
	registry.Wait()
	if mr.Exists(key) {
		t.Fatalf("expected redis marker to be removed")
	}
	if _, ok := registry.Get("ABCD"); ok {
		t.Fatalf("expected room removed locally")
	}
}

func TestRoomRegistrySurvivesRedisOutage(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := newClient(mr)
	mr.Close()

	registry := NewRoomRegistry(client, time.Minute)
	session, created := registry.GetOrCreate("WXYZ", func() *app.Session {
		return app.NewSession(app.SessionConfig{Code: "WXYZ", HostID: "host"}, clockwork.NewFakeClock(), nil, nil)
	})
	if !created || session == nil {
		t.Fatalf("expected room created despite redis outage")
	}
	if _, ok := registry.Get("WXYZ"); !ok {
		t.Fatalf("expected room to be tracked locally")
	}
	registry.Delete("WXYZ")
	registry.Wait()
}

func TestRoomRegistryLateClearKeepsRecreatedMarker(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	registry := NewRoomRegistry(newClient(mr), time.Minute)
	create := func(host string) func() *app.Session {
		return func() *app.Session {
			return app.NewSession(app.SessionConfig{Code: "ABCD", HostID: host}, clockwork.NewFakeClock(), nil, nil)
		}
	}

	registry.GetOrCreate("ABCD", create("old-host"))
	oldMarker := mr.HGet(Key("ABCD"), "marker")
	registry.Delete("ABCD")
	registry.Wait()

	registry.GetOrCreate("ABCD", create("new-host"))
	if oldMarker == "" || oldMarker == mr.HGet(Key("ABCD"), "marker") {
		t.Fatalf("expected a fresh marker id for the re-created room")
	}
	registry.clear("ABCD", oldMarker)
	if got := mr.HGet(Key("ABCD"), "host"); got != "new-host" {
		t.Fatalf("expected marker of re-created room kept, got host %q", got)
	}
}

func TestRoomRegistryDeleteDoesNotWaitForRedis(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(io.Discard, conn)
			}()
		}
	}()

	client := redis.NewClient(&redis.Options{Addr: ln.Addr().String(), MaxRetries: -1, ReadTimeout: 200 * time.Millisecond})
	defer client.Close()
	registry := NewRoomRegistry(client, time.Minute)
	registry.GetOrCreate("SLOW", func() *app.Session {
		return app.NewSession(app.SessionConfig{Code: "SLOW", HostID: "host"}, clockwork.NewFakeClock(), nil, nil)
	})

	start := time.Now()
	registry.Delete("SLOW")
	if _, ok := registry.Get("SLOW"); ok {
		t.Fatalf("expected room removed locally")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("delete blocked on redis for %v", elapsed)
	}
	registry.Wait()
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
