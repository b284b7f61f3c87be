package dispatch

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ContactLimiter keeps one token bucket per contact.
type ContactLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	contacts map[string]*contactBucket
	now      func() time.Time
}

type contactBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewContactLimiter allows perMinute messages per contact with the given
// burst. perMinute <= 0 disables limiting.
func NewContactLimiter(perMinute float64, burst int) *ContactLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	if burst <= 0 {
		burst = 5
	}
	return &ContactLimiter{
		limit:    limit,
		burst:    burst,
		contacts: make(map[string]*contactBucket),
		now:      time.Now,
	}
}

func (l *ContactLimiter) Allow(contactID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.contacts[contactID]
	if !ok {
		b = &contactBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.contacts[contactID] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Prune forgets contacts idle for longer than idle and returns how many
// were removed.
func (l *ContactLimiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-idle)
	removed := 0
	for id, b := range l.contacts {
		if b.lastSeen.Before(cutoff) {
			delete(l.contacts, id)
			removed++
		}
	}
	return removed
}

func (l *ContactLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.contacts)
}
