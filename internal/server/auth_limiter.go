package server

import (
	"sync"
	"time"
)

// authFailureLimiter blocks a client after repeated bad bearer tokens.
type authFailureLimiter struct {
	mu            sync.Mutex
	entries       map[string]authFailureEntry
	maxFailures   int
	window        time.Duration
	blockedFor    time.Duration
	staleAfter    time.Duration
	opCount       int
	cleanupEveryN int
}

type authFailureEntry struct {
	failures       int
	firstFailureAt time.Time
	blockedUntil   time.Time
	lastSeenAt     time.Time
}

func newAuthFailureLimiter(maxFailures int, window, blockedFor time.Duration) *authFailureLimiter {
	if maxFailures <= 0 || window <= 0 || blockedFor <= 0 {
		return nil
	}
	staleAfter := max(window, blockedFor) * 2
	return &authFailureLimiter{
		entries:       make(map[string]authFailureEntry),
		maxFailures:   maxFailures,
		window:        window,
		blockedFor:    blockedFor,
		staleAfter:    max(staleAfter, 10*time.Minute),
		cleanupEveryN: 64,
	}
}

// Allow reports whether key may attempt authentication at now.
func (l *authFailureLimiter) Allow(key string, now time.Time) bool {
	if l == nil || key == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.entries[key]
	entry.lastSeenAt = now
	defer func() {
		l.entries[key] = entry
		l.maybeCleanupLocked(now)
	}()

	if now.Before(entry.blockedUntil) {
		return false
	}
	if !entry.firstFailureAt.IsZero() && now.Sub(entry.firstFailureAt) > l.window {
		entry.failures = 0
		entry.firstFailureAt = time.Time{}
	}
	entry.blockedUntil = time.Time{}
	return true
}

// RegisterFailure counts one rejected token for key.
func (l *authFailureLimiter) RegisterFailure(key string, now time.Time) {
	if l == nil || key == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.entries[key]
	if entry.firstFailureAt.IsZero() || now.Sub(entry.firstFailureAt) > l.window {
		entry.failures = 0
		entry.firstFailureAt = now
	}
	entry.failures++
	if entry.failures >= l.maxFailures {
		entry.blockedUntil = now.Add(l.blockedFor)
		entry.failures = 0
		entry.firstFailureAt = time.Time{}
	}
	entry.lastSeenAt = now
	l.entries[key] = entry
	l.maybeCleanupLocked(now)
}

// Reset forgets key after a successful authentication.
func (l *authFailureLimiter) Reset(key string) {
	if l == nil || key == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

func (l *authFailureLimiter) maybeCleanupLocked(now time.Time) {
	l.opCount++
	if l.opCount%l.cleanupEveryN != 0 {
		return
	}
	for key, entry := range l.entries {
		if now.Sub(entry.lastSeenAt) > l.staleAfter {
			delete(l.entries, key)
		}
	}
}
