package netpool

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"
)

// PoolGroup keeps one [Pool] per key, usually the scheme, address and proxy
// a connection was dialed for.
type PoolGroup struct {
	sync.RWMutex
	pools map[string]*Pool

	maxConnsPerHost, maxIdlePerHost uint
	maxIdleDuration                 time.Duration

	// BufferSize sizes the read buffer of new connections.
	BufferSize int
	Logger     *slog.Logger
}

func NewGroup(maxConnsPerHost, maxIdlePerHost uint, maxIdleDuration time.Duration) *PoolGroup {
	return &PoolGroup{
		pools:           map[string]*Pool{},
		maxConnsPerHost: maxConnsPerHost, maxIdlePerHost: maxIdlePerHost,
		maxIdleDuration: maxIdleDuration,
	}
}

func (g *PoolGroup) pool(key string) *Pool {
	g.RLock()
	p, ok := g.pools[key]
	g.RUnlock()
	if ok {
		return p
	}
	g.Lock()
	defer g.Unlock()
	if p, ok = g.pools[key]; !ok {
		p = NewPool(g.maxIdlePerHost, g.maxConnsPerHost, g.maxIdleDuration)
		if g.BufferSize > 0 {
			p.bufSize = g.BufferSize
		}
		if g.Logger != nil {
			p.logger = g.Logger
		}
		g.pools[key] = p
	}
	return p
}

func (g *PoolGroup) Connect(ctx context.Context, key string, dial func(ctx context.Context) (net.Conn, error)) (*Conn, error) {
	return g.pool(key).Connect(ctx, dial)
}

// Idle is the number of idle connections pooled for key.
func (g *PoolGroup) Idle(key string) int {
	g.RLock()
	p, ok := g.pools[key]
	g.RUnlock()
	if !ok {
		return 0
	}
	return p.Idle()
}

func (g *PoolGroup) CloseIdle() {
	g.RLock()
	defer g.RUnlock()
	for _, p := range g.pools {
		p.CloseIdle()
	}
}
