package middleware

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestLimiterStore_AllowAndBlock(t *testing.T) {
	// allow 5 events immediately then the 6th should be rejected
	s := NewLimiterStore(5, 5, time.Minute)
	defer s.Stop()

	key := "user-1"
	for i := 0; i < 5; i++ {
		if !s.Allow(key) {
			t.Fatalf("expected allow at iteration %d", i)
		}
	}
	if s.Allow(key) {
		t.Fatalf("expected limiter to block after burst consumed")
	}

	// other keys have their own bucket
	if !s.Allow("user-2") {
		t.Fatalf("expected a fresh key to be allowed")
	}
}

func TestLimiterStore_EvictIdle(t *testing.T) {
	s := NewLimiterStorePerSecond(10, 2, time.Hour)
	defer s.Stop()

	s.Allow("idle")
	s.evictIdle(time.Now().Add(time.Second))

	s.mu.Lock()
	_, ok := s.clients["idle"]
	s.mu.Unlock()
	if ok {
		t.Fatal("expected idle entry to be evicted")
	}
}

func TestLimiterStore_StopTwice(t *testing.T) {
	s := NewLimiterStore(1, 1, time.Minute)
	s.Stop()
	s.Stop()
}

func TestRateLimitUnaryInterceptor(t *testing.T) {
	s := NewLimiterStore(1, 1, time.Minute)
	defer s.Stop()

	method := "/wayfare.v1.InteractionService/RecordInteraction"
	interceptor := RateLimitUnaryInterceptor(s, map[string]bool{method: true}, func(context.Context) string { return "user-1" })
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: method}

	if _, err := interceptor(context.Background(), nil, info, handler); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}
	_, err := interceptor(context.Background(), nil, info, handler)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}

	// methods outside the limited set are never throttled
	other := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	for i := 0; i < 3; i++ {
		if _, err := interceptor(context.Background(), nil, other, handler); err != nil {
			t.Fatalf("unlimited method throttled: %v", err)
		}
	}
}
