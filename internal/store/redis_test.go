package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestRedisBalanceStoreMemoryOnly(t *testing.T) {
	ctx := context.Background()
	s := NewRedisBalanceStore(nil, "1001", zerolog.Nop())

	if v, err := s.LoadBalance(ctx); err != nil || v != 0 {
		t.Fatalf("Expected 0, got %v %v", v, err)
	}
	if err := s.SaveBalance(ctx, 12000); err != nil {
		t.Fatalf("SaveBalance: %v", err)
	}
	if v, _ := s.LoadBalance(ctx); v != 12000 {
		t.Errorf("Expected 12000 from memory, got %v", v)
	}
}

func TestRedisBalanceStoreFallsBackWhenUnreachable(t *testing.T) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	s := NewRedisBalanceStore(client, "1001", zerolog.Nop())
	if s.Available() {
		t.Fatal("Expected Redis to be marked unavailable")
	}
	if err := s.SaveBalance(ctx, 9000); err != nil {
		t.Errorf("Expected save to succeed in memory, got %v", err)
	}
	if v, _ := s.LoadBalance(ctx); v != 9000 {
		t.Errorf("Expected 9000, got %v", v)
	}
}
