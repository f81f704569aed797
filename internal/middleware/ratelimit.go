package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// idleTTL is how long an unused limiter is kept before cleanup drops it.
const idleTTL = 10 * time.Minute

// LimiterStore maintains per-key token buckets and performs periodic cleanup.
// Keys are user ids for authenticated traffic and peer addresses otherwise.
type LimiterStore struct {
	mu              sync.Mutex
	limit           rate.Limit
	burst           int
	clients         map[string]*clientEntry
	cleanupInterval time.Duration
	stopOnce        sync.Once
	stopCh          chan struct{}
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiterStore creates a store allowing limitPerMinute events per key with
// the given burst capacity.
func NewLimiterStore(limitPerMinute int, burst int, cleanupInterval time.Duration) *LimiterStore {
	if limitPerMinute <= 0 {
		limitPerMinute = 60
	}
	return newStore(rate.Every(time.Minute/time.Duration(limitPerMinute)), burst, cleanupInterval)
}

// NewLimiterStorePerSecond is NewLimiterStore for high-frequency streams such
// as websocket events, where per-minute granularity is too coarse.
func NewLimiterStorePerSecond(perSecond float64, burst int, cleanupInterval time.Duration) *LimiterStore {
	if perSecond <= 0 {
		perSecond = 1
	}
	return newStore(rate.Limit(perSecond), burst, cleanupInterval)
}

func newStore(limit rate.Limit, burst int, cleanupInterval time.Duration) *LimiterStore {
	if burst <= 0 {
		burst = 1
	}
	s := &LimiterStore{
		limit:           limit,
		burst:           burst,
		clients:         map[string]*clientEntry{},
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *LimiterStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictIdle(time.Now().Add(-idleTTL))
		case <-s.stopCh:
			return
		}
	}
}

func (s *LimiterStore) evictIdle(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.clients {
		if v.lastSeen.Before(cutoff) {
			delete(s.clients, k)
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (s *LimiterStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *LimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.clients[key]; ok {
		e.lastSeen = time.Now()
		return e.limiter
	}
	limiter := rate.NewLimiter(s.limit, s.burst)
	s.clients[key] = &clientEntry{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

// Allow reports whether an event for key is permitted now.
func (s *LimiterStore) Allow(key string) bool {
	return s.getLimiter(key).Allow()
}

// KeyFunc derives the limiter key for a call. Returning "" falls back to the
// peer address.
type KeyFunc func(ctx context.Context) string

// RateLimitUnaryInterceptor applies rate limiting to the supplied methods.
func RateLimitUnaryInterceptor(store *LimiterStore, limitedMethods map[string]bool, keyFn KeyFunc) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !limitedMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		key := ""
		if keyFn != nil {
			key = keyFn(ctx)
		}
		if key == "" {
			key = "unknown"
			if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
				key = "peer:" + p.Addr.String()
			}
		}

		if !store.Allow(key) {
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}
