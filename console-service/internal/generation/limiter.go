package generation

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/snapquant/services/shared/tier"
)

const week = 7 * 24 * time.Hour

// LimiterConfig bounds generation requests per user.
type LimiterConfig struct {
	// StarterPerWeek is both the refill rate and the burst for starter users.
	StarterPerWeek  int
	CleanupInterval time.Duration
}

type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter throttles starter users; pro users are never limited.
type Limiter struct {
	config LimiterConfig
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*userLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewLimiter starts the background cleanup of idle entries.
func NewLimiter(config LimiterConfig) *Limiter {
	if config.StarterPerWeek <= 0 {
		config.StarterPerWeek = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}
	l := &Limiter{
		config:   config,
		now:      time.Now,
		limiters: make(map[string]*userLimiter),
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Stop ends the cleanup goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func noRefund() {}

// Allow consumes one generation for userID. When denied it returns how long until the next one.
// Calling refund gives an admitted generation back, for requests that produced nothing.
func (l *Limiter) Allow(userID string, t tier.Tier) (ok bool, retryAfter time.Duration, refund func()) {
	if t == tier.TierPro {
		return true, 0, noRefund
	}

	now := l.now()
	limiter := l.getOrCreate(userID, now)

	r := limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, week, noRefund
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay, noRefund
	}

	var once sync.Once
	// Cancelling at the reservation time restores the token; later times are ignored by rate.
	return true, 0, func() { once.Do(func() { r.CancelAt(now) }) }
}

func (l *Limiter) getOrCreate(userID string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ul, ok := l.limiters[userID]; ok {
		ul.lastAccess = now
		return ul.limiter
	}

	every := week / time.Duration(l.config.StarterPerWeek)
	limiter := rate.NewLimiter(rate.Every(every), l.config.StarterPerWeek)
	l.limiters[userID] = &userLimiter{limiter: limiter, lastAccess: now}
	return limiter
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// cleanup drops limiters idle long enough to have refilled completely.
func (l *Limiter) cleanup() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for userID, ul := range l.limiters {
		if now.Sub(ul.lastAccess) > week {
			delete(l.limiters, userID)
		}
	}
}
