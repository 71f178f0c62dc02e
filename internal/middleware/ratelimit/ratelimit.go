package ratelimit

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/bidboard/backend/internal/metrics"
)

type window struct {
	mu     sync.Mutex
	stamps []time.Time
}

// Limiter is a sliding-window counter keyed by (scope, caller). A request is
// rejected when the trailing window already holds Limit timestamps; rejected
// attempts are not recorded, so hammering a full window does not extend it.
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window

	limit    int
	duration time.Duration
	logger   *zap.Logger
	now      func() time.Time

	cleanupTicker *time.Ticker
}

type Config struct {
	Limit          int
	WindowDuration time.Duration
	Logger         *zap.Logger
	Now            func() time.Time
}

func New(cfg Config) *Limiter {
	if cfg.Limit == 0 {
		cfg.Limit = 8
	}
	if cfg.WindowDuration == 0 {
		cfg.WindowDuration = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	l := &Limiter{
		windows:       make(map[string]*window),
		limit:         cfg.Limit,
		duration:      cfg.WindowDuration,
		logger:        cfg.Logger,
		now:           cfg.Now,
		cleanupTicker: time.NewTicker(5 * time.Minute),
	}

	go l.cleanup()

	return l
}

// Allow checks and, when admitted, records one request for (scope, callerID).
func (l *Limiter) Allow(scope, callerID string) bool {
	key := scope + ":" + callerID

	l.mu.RLock()
	w, exists := l.windows[key]
	l.mu.RUnlock()

	if !exists {
		l.mu.Lock()
		w, exists = l.windows[key]
		if !exists {
			w = &window{}
			l.windows[key] = w
		}
		l.mu.Unlock()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.duration)

	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= l.limit {
		metrics.RateLimited.WithLabelValues(scope).Inc()
		l.logger.Warn("Rate limit exceeded",
			zap.String("scope", scope),
			zap.String("caller", callerID),
		)
		return false
	}

	w.stamps = append(w.stamps, now)
	return true
}

// Middleware applies the limiter per client IP under the given scope, for
// coarse protection of the whole API group.
func (l *Limiter) Middleware(scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !l.Allow(scope, c.IP()) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}
		return c.Next()
	}
}

// cleanup drops long-empty windows. An empty window and a missing one are
// indistinguishable to Allow, so this does not change observable behavior.
func (l *Limiter) cleanup() {
	for range l.cleanupTicker.C {
		cutoff := l.now().Add(-l.duration)

		l.mu.Lock()
		for key, w := range l.windows {
			w.mu.Lock()
			stale := len(w.stamps) == 0 || !w.stamps[len(w.stamps)-1].After(cutoff)
			w.mu.Unlock()
			if stale {
				delete(l.windows, key)
			}
		}
		l.mu.Unlock()
	}
}

func (l *Limiter) Stop() {
	l.cleanupTicker.Stop()
}
