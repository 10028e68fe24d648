// package middleware contains optional [http.Middleware]s for a
// [http.Client].
//
// [http.Middleware]: github.com/frankli0324/go-asynchttp.Middleware
// [http.Client]: github.com/frankli0324/go-asynchttp.Client
package middleware

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/frankli0324/go-asynchttp/internal"
	ihttp "github.com/frankli0324/go-asynchttp/internal/http"
)

type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = l
	return l
}

// RateLimit delays requests so that each host sees at most rps requests per
// second, with bursts of up to burst requests. Waiting honours the request
// context.
func RateLimit(rps float64, burst int) internal.Middleware {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	pool := &limiterPool{rps: rps, burst: burst}
	return func(next internal.Handler) internal.Handler {
		return func(ctx context.Context, req *internal.PreparedRequest) (*ihttp.Response, error) {
			if err := pool.get(req.U.Host).Wait(ctx); err != nil {
				return nil, err
			}
			return next(ctx, req)
		}
	}
}
