package engine

import (
	"context"
	"sync"
	"time"
)

// Debouncer is consulted after the gate passes and may suppress a dispatch
// for a subject that fired recently.
type Debouncer interface {
	Allow(ctx context.Context, subject string) (bool, error)
}

// AuditOnly never suppresses. Every qualifying event dispatches.
type AuditOnly struct{}

func (AuditOnly) Allow(context.Context, string) (bool, error) { return true, nil }

// CooldownDebouncer suppresses repeat dispatches for the same subject inside
// a fixed window. State is in-process only.
type CooldownDebouncer struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

// NewCooldownDebouncer creates a debouncer with the given window.
func NewCooldownDebouncer(cooldown time.Duration) *CooldownDebouncer {
	return &CooldownDebouncer{
		cooldown: cooldown,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

func (d *CooldownDebouncer) Allow(_ context.Context, subject string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if t, ok := d.last[subject]; ok && now.Sub(t) < d.cooldown {
		return false, nil
	}
	d.last[subject] = now
	return true, nil
}
