// Package rate keeps one token bucket per key: callers are organizations on the
// inbound API and upstream hosts on outbound calls.
package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"
)

// Config defines token bucket parameters shared by every key of a Manager.
type Config struct {
	RequestsPerSecond int
	Burst             int
}

// Limiter is a token bucket for one key.
type Limiter struct {
	lim *xrate.Limiter
}

// New creates a limiter with a full bucket. Burst is at least 1.
func New(cfg Config) *Limiter {
	burst := max(cfg.Burst, 1)
	return &Limiter{lim: xrate.NewLimiter(xrate.Limit(cfg.RequestsPerSecond), burst)}
}

// Allow takes a token if one is available.
func (l *Limiter) Allow() bool { return l.lim.Allow() }

// RetryAfter estimates how long until the next token is available.
// A limiter that never refills reports one second.
func (l *Limiter) RetryAfter() time.Duration {
	perSec := float64(l.lim.Limit())
	if perSec <= 0 {
		// a zero limit spends its burst and never refills
		if l.lim.Burst() > 0 {
			return 0
		}
		return time.Second
	}
	tokens := l.lim.Tokens()
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) / perSec * float64(time.Second))
}

// Wait blocks until a token is available. It fails fast when ctx would expire first.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.lim.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return nil
}

// Manager holds one limiter per key.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Config
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
	}
}

// GetLimiter returns the limiter for key, creating it on first use.
func (m *Manager) GetLimiter(key string) *Limiter {
	m.mu.RLock()
	lim, ok := m.limiters[key]
	m.mu.RUnlock()
	if ok {
		return lim
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[key]; ok {
		return lim
	}
	lim = New(m.defaults)
	m.limiters[key] = lim
	return lim
}

func (m *Manager) Allow(key string) bool {
	return m.GetLimiter(key).Allow()
}

func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.GetLimiter(key).Wait(ctx)
}
