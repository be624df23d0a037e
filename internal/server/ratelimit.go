package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/raaihank/medgateway/internal/config"
)

// RateLimiter keeps one token bucket per client address
type RateLimiter struct {
	config  config.RateLimitConfig
	buckets map[string]*bucket
	mu      sync.RWMutex
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

// NewRateLimiter creates a rate limiter
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:  cfg,
		buckets: make(map[string]*bucket),
	}
}

// Allow checks whether a request from clientIP may proceed
func (r *RateLimiter) Allow(clientIP string) bool {
	if !r.config.Enabled {
		return true
	}

	b := r.getBucket(clientIP)
	b.mu.Lock()
	b.lastSeen = time.Now()
	b.mu.Unlock()
	return b.limiter.Allow()
}

func (r *RateLimiter) getBucket(clientIP string) *bucket {
	r.mu.RLock()
	b, exists := r.buckets[clientIP]
	r.mu.RUnlock()
	if exists {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, exists := r.buckets[clientIP]; exists {
		return b
	}

	burst := r.config.Burst
	if burst < 1 {
		burst = 1
	}
	b = &bucket{
		limiter:  rate.NewLimiter(rate.Limit(float64(r.config.RequestsPerMinute)/60), burst),
		lastSeen: time.Now(),
	}
	r.buckets[clientIP] = b
	return b
}

// CleanupOldBuckets removes buckets idle for more than an hour
func (r *RateLimiter) CleanupOldBuckets() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-time.Hour)
	for ip, b := range r.buckets {
		b.mu.Lock()
		if b.lastSeen.Before(cutoff) {
			delete(r.buckets, ip)
		}
		b.mu.Unlock()
	}
}

// StartCleanupRoutine cleans up idle buckets until ctx is done
func (r *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.CleanupOldBuckets()
		}
	}
}
