package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// LocalBackend is an in-process backend on a ristretto cache. It is used
// when no Redis URL is configured and in tests.
type LocalBackend struct {
	c *ristretto.Cache[string, []byte]

	// ristretto cannot enumerate keys, so expiry times are tracked for Count.
	mu      sync.Mutex
	expires map[string]time.Time
}

// NewLocalBackend creates a cache bounded to maxCostBytes of values.
func NewLocalBackend(maxCostBytes int64) (*LocalBackend, error) {
	if maxCostBytes <= 0 {
		maxCostBytes = 64 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        maxCostBytes / 100 * 10,
		MaxCost:            maxCostBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &LocalBackend{c: c, expires: make(map[string]time.Time)}, nil
}

func (b *LocalBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := b.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set waits for the write buffer to drain so a following Get observes it.
func (b *LocalBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.c.SetWithTTL(key, value, int64(len(value)), ttl)
	b.c.Wait()

	b.mu.Lock()
	b.expires[key] = time.Now().Add(ttl)
	b.mu.Unlock()
	return nil
}

func (b *LocalBackend) Delete(_ context.Context, key string) error {
	b.c.Del(key)
	b.mu.Lock()
	delete(b.expires, key)
	b.mu.Unlock()
	return nil
}

// Count prunes expired or evicted entries while counting.
func (b *LocalBackend) Count(_ context.Context, prefix string) (int, error) {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for k, exp := range b.expires {
		if now.After(exp) {
			delete(b.expires, k)
			continue
		}
		if _, ok := b.c.Get(k); !ok {
			delete(b.expires, k)
			continue
		}
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n, nil
}

func (b *LocalBackend) Close() error {
	b.c.Close()
	return nil
}
