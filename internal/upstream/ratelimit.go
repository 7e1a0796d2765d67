package upstream

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/relaymesh/edgeproxy/internal/model"
)

// Limiter gates outbound upstream calls per Route when a Ratelimit
// descriptor is declared (§3, supplemented from the teacher's
// proxyratelimit middleware). Keyed by Route id since model.Ratelimit
// itself carries no mutable state.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLimiter creates an empty Limiter registry.
func NewLimiter() *Limiter {
	return &Limiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether routeID may proceed to the upstream call right
// now, lazily constructing its token bucket from cfg on first use. A nil
// cfg always allows (no Ratelimit declared).
func (l *Limiter) Allow(routeID string, cfg *model.Ratelimit) bool {
	if cfg == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[routeID]
	if !ok {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
		l.limiters[routeID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
