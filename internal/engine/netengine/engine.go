// package netengine implements the engine contract over plain sockets. Every
// asynchronous operation runs on its own goroutine, which delivers the
// completion to the engine callback once the I/O is done.
package netengine

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/frankli0324/go-asynchttp/internal/engine"
	"github.com/frankli0324/go-asynchttp/internal/handle"
	ihttp "github.com/frankli0324/go-asynchttp/internal/http"
	"github.com/frankli0324/go-asynchttp/utils/netpool"
)

var ErrNoResponse = errors.New("netengine: response headers not received")

const defaultStaging = 32 * 1024

type Engine struct {
	Dialer   ihttp.Dialer
	Callback engine.Callback
	Logger   *slog.Logger

	// Pool keeps connections alive between requests, nil disables keep-alive.
	Pool *netpool.PoolGroup
	// StagingSize bounds the bytes a data-available query buffers.
	StagingSize int
}

func New(d ihttp.Dialer, cb engine.Callback) *Engine {
	return &Engine{
		Dialer:      d,
		Callback:    cb,
		Logger:      slog.Default(),
		Pool:        netpool.NewGroup(0, 16, 90*time.Second),
		StagingSize: defaultStaging,
	}
}

func (e *Engine) Open(r *ihttp.PreparedRequest, id handle.ID) (engine.Handle, error) {
	if e.Dialer == nil || e.Callback == nil {
		return nil, errors.New("netengine: engine without dialer or callback")
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &request{
		e:      e,
		id:     id,
		req:    r,
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("id", uintptr(id), "host", r.U.Host),
	}
	if e.Pool != nil && poolable(r) {
		h.key = poolKey(r)
	}
	return h, nil
}

// poolable requests share connections. Custom TLS verification runs during
// the handshake only, a reused connection would skip it.
func poolable(r *ihttp.PreparedRequest) bool {
	return r.VerifyConnection == nil && !r.CheckRevocation
}

func poolKey(r *ihttp.PreparedRequest) string {
	key := r.U.Scheme + "://" + r.U.Host
	if r.Proxy != "" {
		key += "|" + r.Proxy
	}
	return key
}

func (e *Engine) dial(ctx context.Context, r *ihttp.PreparedRequest, key string) (*netpool.Conn, error) {
	dial := func(ctx context.Context) (net.Conn, error) {
		return e.Dialer.Dial(ctx, r)
	}
	if key == "" {
		// a private pool, its only connection is never released to it
		return netpool.NewPool(0, 0, 0).Connect(ctx, dial)
	}
	return e.Pool.Connect(ctx, key, dial)
}
