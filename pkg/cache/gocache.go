package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// goCacheClaimer 进程内占位实现，基于 go-cache 的 Add
type goCacheClaimer struct {
	mu     sync.Mutex
	cache  *gocache.Cache
	prefix string
}

// NewGoCacheClaimer 创建进程内占位
func NewGoCacheClaimer(prefix string) Claimer {
	return &goCacheClaimer{
		cache:  gocache.New(gocache.NoExpiration, time.Minute),
		prefix: prefix,
	}
}

func (g *goCacheClaimer) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	// Add 在 key 存在且未过期时返回错误
	if err := g.cache.Add(g.prefix+key, owner, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (g *goCacheClaimer) Release(ctx context.Context, key, owner string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.cache.Get(g.prefix + key); ok && v == owner {
		g.cache.Delete(g.prefix + key)
	}
	return nil
}

// Close 清空
func (g *goCacheClaimer) Close() error {
	g.cache.Flush()
	return nil
}
