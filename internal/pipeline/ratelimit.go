package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DestinationLimiters rate-limits outbound HTTP calls per destination URL
// (§4.F: "outbound HTTP destinations are rate-limited per destination"),
// generalizing the teacher's per-plugin InMemoryRateLimiter (lazy
// per-key limiter creation under a double-checked lock, idle-key cleanup on
// a ticker) from inbound per-plugin limiting to outbound per-destination
// limiting.
type DestinationLimiters struct {
	mu        sync.RWMutex
	limiters  map[string]*destinationLimiter
	rps       float64
	burst     int
	interval  time.Duration
	idleAfter time.Duration

	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

type destinationLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
	mu         sync.Mutex
}

// NewDestinationLimiters builds a DestinationLimiters and starts its
// background cleanup goroutine.
func NewDestinationLimiters(cfg Config) *DestinationLimiters {
	dl := &DestinationLimiters{
		limiters:  make(map[string]*destinationLimiter),
		rps:       cfg.DestinationRPS,
		burst:     cfg.DestinationBurst,
		interval:  cfg.CleanupInterval,
		idleAfter: cfg.IdleTimeout,
		done:      make(chan struct{}),
	}

	dl.startCleanup()

	return dl
}

// Wait blocks until destination's token bucket admits one more call, or ctx
// is done.
func (dl *DestinationLimiters) Wait(ctx context.Context, destination string) error {
	dl.mu.RLock()
	l, ok := dl.limiters[destination]
	dl.mu.RUnlock()

	if !ok {
		dl.mu.Lock()
		if l, ok = dl.limiters[destination]; !ok {
			l = &destinationLimiter{
				limiter:    rate.NewLimiter(rate.Limit(dl.rps), dl.burst),
				lastAccess: time.Now(),
			}
			dl.limiters[destination] = l
		}
		dl.mu.Unlock()
	}

	l.mu.Lock()
	l.lastAccess = time.Now()
	l.mu.Unlock()

	return l.limiter.Wait(ctx)
}

// Close stops the cleanup goroutine.
func (dl *DestinationLimiters) Close() {
	dl.once.Do(func() {
		if dl.ticker != nil {
			dl.ticker.Stop()
		}

		close(dl.done)
	})
}

func (dl *DestinationLimiters) startCleanup() {
	dl.ticker = time.NewTicker(dl.interval)

	go func() {
		for {
			select {
			case <-dl.ticker.C:
				dl.cleanup()
			case <-dl.done:
				return
			}
		}
	}()
}

func (dl *DestinationLimiters) cleanup() {
	now := time.Now()

	dl.mu.Lock()
	defer dl.mu.Unlock()

	for destination, l := range dl.limiters {
		l.mu.Lock()
		last := l.lastAccess
		l.mu.Unlock()

		if now.Sub(last) > dl.idleAfter {
			delete(dl.limiters, destination)
		}
	}
}
