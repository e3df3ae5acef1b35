package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryGuard is an in-process request guard for single-instance deployments
// and tests. Keys expire after ttl like their Redis counterparts; expired keys
// are swept from Acquire at most once per ttl.
type MemoryGuard struct {
	mu        sync.Mutex
	keys      map[string]lease
	ttl       time.Duration
	nextSweep time.Time
	now       func() time.Time
}

type lease struct {
	token   string
	expires time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{keys: make(map[string]lease), ttl: ttl, now: time.Now}
}

func (g *MemoryGuard) Acquire(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !now.Before(g.nextSweep) {
		g.sweep(now)
		g.nextSweep = now.Add(g.ttl)
	}

	if l, ok := g.keys[key]; ok && now.Before(l.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	g.keys[key] = lease{token: token, expires: now.Add(g.ttl)}
	return token, true, nil
}

func (g *MemoryGuard) Release(_ context.Context, key, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.keys[key]; ok && l.token == token {
		delete(g.keys, key)
	}
	return nil
}

// Len reports how many keys are currently tracked, expired ones included.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.keys)
}

func (g *MemoryGuard) sweep(now time.Time) {
	for key, l := range g.keys {
		if !now.Before(l.expires) {
			delete(g.keys, key)
		}
	}
}
