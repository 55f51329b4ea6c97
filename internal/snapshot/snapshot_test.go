package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func sample() Snapshot {
	s := New()
	s.TeamDomain = "acme"
	s.GeneratedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.Users["U1"] = User{Name: "Alice", Email: "alice@example.com"}
	s.Users["U2"] = User{Name: "Bob"}
	s.Channels["C1"] = Channel{Name: "general", Members: []string{"U1", "U2"}}
	return s
}

func assertSnapshotEqual(t *testing.T, got, want Snapshot) {
	t.Helper()
	if !got.GeneratedAt.Equal(want.GeneratedAt) {
		t.Fatalf("GeneratedAt = %s, want %s", got.GeneratedAt, want.GeneratedAt)
	}
	got.GeneratedAt, want.GeneratedAt = time.Time{}, time.Time{}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("loaded %+v, want %+v", got, want)
	}
}

func TestFileSink_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "snapshot.json")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	want := sample()
	if err := sink.Save(context.Background(), want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("temporary file left behind: %v", err)
	}

	got, err := sink.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSnapshotEqual(t, got, want)
}

func TestFileSink_LoadMissing(t *testing.T) {
	sink, err := NewFileSink(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	if _, err := sink.Load(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func newRedisSink(t *testing.T, opts ...RedisOption) (*RedisSink, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	opts = append([]RedisOption{WithRedisPrefix("test:snap:")}, opts...)
	return NewRedisSink(rdb, opts...), mr
}

func TestRedisSink_RoundTrip(t *testing.T) {
	sink, mr := newRedisSink(t, WithRedisTTL(time.Minute))
	ctx := context.Background()

	want := sample()
	if err := sink.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	for _, key := range []string{"test:snap:users", "test:snap:channels", "test:snap:meta"} {
		if !mr.Exists(key) {
			t.Fatalf("%s not written", key)
		}
		if ttl := mr.TTL(key); ttl != time.Minute {
			t.Fatalf("TTL(%s) = %s, want 1m", key, ttl)
		}
	}
	if got := mr.HGet("test:snap:meta", "teamDomain"); got != "acme" {
		t.Fatalf("teamDomain = %q", got)
	}

	got, err := sink.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSnapshotEqual(t, got, want)
}

func TestRedisSink_SaveReplacesPreviousSnapshot(t *testing.T) {
	sink, _ := newRedisSink(t)
	ctx := context.Background()

	if err := sink.Save(ctx, sample()); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	next := sample()
	delete(next.Users, "U2")
	if err := sink.Save(ctx, next); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, err := sink.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := got.Users["U2"]; ok {
		t.Fatal("user from the previous snapshot survived")
	}
}

func TestRedisSink_NoTTLKeepsKeys(t *testing.T) {
	sink, mr := newRedisSink(t, WithRedisTTL(0))
	if err := sink.Save(context.Background(), sample()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ttl := mr.TTL("test:snap:users"); ttl != 0 {
		t.Fatalf("TTL = %s, want no expiry", ttl)
	}
}

func TestRedisSink_SkipsMalformedEntries(t *testing.T) {
	sink, mr := newRedisSink(t)
	ctx := context.Background()

	if err := sink.Save(ctx, sample()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	mr.HSet("test:snap:users", "U9", "{not json")
	mr.HSet("test:snap:channels", "C9", "[]")

	got, err := sink.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := got.Users["U9"]; ok {
		t.Fatal("malformed user was loaded")
	}
	if _, ok := got.Channels["C9"]; ok {
		t.Fatal("malformed channel was loaded")
	}
	if len(got.Users) != 2 || len(got.Channels) != 1 {
		t.Fatalf("loaded %d users and %d channels, want 2 and 1", len(got.Users), len(got.Channels))
	}
}

func TestRedisSink_ExpiredSnapshotLoadsEmpty(t *testing.T) {
	sink, mr := newRedisSink(t, WithRedisTTL(time.Minute))
	ctx := context.Background()

	if err := sink.Save(ctx, sample()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	got, err := sink.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Users) != 0 || len(got.Channels) != 0 || !got.GeneratedAt.IsZero() {
		t.Fatalf("expired snapshot loaded as %+v", got)
	}
}
