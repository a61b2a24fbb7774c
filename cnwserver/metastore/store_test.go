package metastore

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	s, err := DialRedisStore(context.Background(), "redis://"+srv.Addr())
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, srv
}

func TestRedisStore_GetMissing(t *testing.T) {
	s, _ := newRedisStore(t)

	meta, err := s.Get(context.Background(), 7, "license")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta == nil || len(meta) != 0 {
		t.Errorf("expected empty metadata, got %v", meta)
	}
	if _, ok := meta.Status(); ok {
		t.Error("expected status to be absent")
	}
}

func TestRedisStore_UpdateThenGet(t *testing.T) {
	s, srv := newRedisStore(t)
	ctx := context.Background()

	err := s.Update(ctx, 7, "license", Metadata{KeyStatus: StatusActive, KeyExpired: FlagYes})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !srv.Exists("cnw:meta:7:license") {
		t.Error("expected key cnw:meta:7:license to exist")
	}

	meta, err := s.Get(ctx, 7, "license")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if status, _ := meta.Status(); status != StatusActive {
		t.Errorf("expected status active, got %q", status)
	}
	if !meta.Expired() {
		t.Error("expected expired flag to be set")
	}
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	defer srv.Close()

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	s, err := NewRedisStore(client, WithKeyPrefix("shop"))
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	if err := s.Update(context.Background(), 3, "k", Metadata{KeyStatus: "inactive"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !srv.Exists("shop:3:k") {
		t.Error("expected key shop:3:k to exist")
	}
	// Close must not close a client the store does not own.
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Errorf("expected caller's client to stay open, got %v", err)
	}
}

func TestRedisStore_CorruptValue(t *testing.T) {
	s, srv := newRedisStore(t)
	if err := srv.Set("cnw:meta:1:license", "not-json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.Get(context.Background(), 1, "license"); err == nil {
		t.Error("expected decode error")
	}
}

func TestNewRedisStore_NilClient(t *testing.T) {
	if _, err := NewRedisStore(nil); err == nil {
		t.Error("expected error for nil client")
	}
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	meta := Metadata{KeyStatus: StatusActive}
	if err := s.Update(ctx, 1, "license", meta); err != nil {
		t.Fatalf("update: %v", err)
	}
	meta[KeyStatus] = "changed"

	got, _ := s.Get(ctx, 1, "license")
	if got[KeyStatus] != StatusActive {
		t.Errorf("expected stored status active, got %q", got[KeyStatus])
	}
	got[KeyExpired] = FlagYes

	again, _ := s.Get(ctx, 1, "license")
	if again.Expired() {
		t.Error("expected stored metadata to be unaffected by caller mutation")
	}
	if s.Updates() != 1 {
		t.Errorf("expected 1 update, got %d", s.Updates())
	}
}

func TestNewPostgresStore_InvalidTableName(t *testing.T) {
	_, err := NewPostgresStore(context.Background(), nil, WithTableName("meta; DROP TABLE x"))
	if err == nil {
		t.Fatal("expected error for invalid table name")
	}
}

func TestNewPostgresStore_NilPool(t *testing.T) {
	if _, err := NewPostgresStore(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestNewMongoStore_InvalidCollectionName(t *testing.T) {
	_, err := NewMongoStore(context.Background(), nil, WithCollectionName("bad-name"))
	if err == nil {
		t.Fatal("expected error for invalid collection name")
	}
}

func TestMetadata_CloneNil(t *testing.T) {
	var m Metadata
	c := m.Clone()
	if c == nil {
		t.Fatal("expected non-nil clone")
	}
	c[KeyStatus] = StatusActive
	if len(m) != 0 {
		t.Error("expected original to stay empty")
	}
}
