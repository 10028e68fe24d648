package internal

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"

	"github.com/frankli0324/go-asynchttp/internal/dialer"
	"github.com/frankli0324/go-asynchttp/internal/engine"
	"github.com/frankli0324/go-asynchttp/internal/engine/netengine"
	"github.com/frankli0324/go-asynchttp/internal/http"
	"github.com/frankli0324/go-asynchttp/internal/state"
)

type PreparedRequest = http.PreparedRequest

type Handler = func(ctx context.Context, req *PreparedRequest) (*http.Response, error)
type Middleware func(next Handler) Handler

const defaultBufferSize = 16 * 1024

// Client is usable as its zero value. Use* helpers and exported fields must
// not be changed while requests are in flight.
type Client struct {
	// Logger defaults to [slog.Default].
	Logger *slog.Logger
	// BufferSize is the size of the off-heap receive buffer.
	BufferSize int
	// OffHeapBuffers makes response bodies land in memory the Go runtime
	// doesn't manage before being copied to the reader's buffer.
	OffHeapBuffers bool

	middlewares []Middleware

	mu       sync.Mutex
	dialer   http.Dialer
	engine   engine.Engine // set by UseEngine
	fallback *netengine.Engine
}

// Use appends mw to the end of the chain. The last "Use"d mw executes first
func (c *Client) Use(mws ...Middleware) {
	c.middlewares = append(c.middlewares, mws...)
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) getDialer() http.Dialer {
	if c.dialer == nil {
		c.dialer = dialer.NewCoreDialer()
	}
	return c.dialer
}

func (c *Client) getEngine() engine.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine != nil {
		return c.engine
	}
	if c.fallback == nil {
		c.fallback = netengine.New(c.getDialer(), state.Callback)
		c.fallback.Logger = c.logger()
		c.fallback.Pool.Logger = c.logger()
	}
	return c.fallback
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.CtxDo(context.Background(), req)
}

func (c *Client) CtxDo(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	pr, err := req.Prepare()
	if err != nil {
		return nil, err
	}
	var next Handler = c.roundTrip
	for i := 0; i < len(c.middlewares); i++ {
		next = c.middlewares[i](next)
	}
	return next(ctx, pr)
}

// roundTrip drives one request through the engine, phase by phase. The
// returned body owns the request state from then on.
func (c *Client) roundTrip(ctx context.Context, pr *PreparedRequest) (*http.Response, error) {
	st := state.New(c.logger())
	st.Request = pr
	st.Proxy = pr.Proxy
	st.Credentials = pr.Credentials
	st.VerifyConnection = pr.VerifyConnection
	st.CheckRevocation = pr.CheckRevocation
	st.Retry = pr.Rewindable
	if st.Credentials != nil && pr.Header.Get("Authorization") == "" {
		pw, _ := st.Credentials.Password()
		auth := st.Credentials.Username() + ":" + pw
		pr.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth)))
	}
	st.Logger.Debug("request starting", "method", pr.Method, "url", pr.U.Redacted(), "retryable", st.Retry)

	h, err := c.getEngine().Open(pr, st.Anchor())
	if err != nil {
		st.CloseHandle()
		return nil, err
	}
	st.SetHandle(h)

	resp, err := c.exchange(ctx, st, pr)
	if err != nil {
		st.Logger.Debug("request failed", "error", err)
		abort(st)
		return nil, err
	}
	return resp, nil
}

func (c *Client) exchange(ctx context.Context, st *state.State, pr *PreparedRequest) (*http.Response, error) {
	trace := traceFrom(ctx)
	if _, err := await(ctx, st, st.Send, func(h engine.Handle) error { return h.SendRequest() }); err != nil {
		return nil, err
	}
	trace.wroteHeaders()

	err := writeBody(ctx, st, pr)
	trace.wroteRequest(err)
	if err != nil {
		return nil, err
	}

	if _, err := await(ctx, st, st.ReceiveHeaders, func(h engine.Handle) error { return h.ReceiveResponse() }); err != nil {
		return nil, err
	}
	trace.gotFirstResponseByte()

	var resp *http.Response
	if err := st.Do(func(h engine.Handle) (err error) {
		resp, err = h.QueryHeaders()
		return
	}); err != nil {
		return nil, err
	}
	st.LastStatusCode = resp.StatusCode
	st.ExpectedLength = resp.ContentLength
	st.Logger.Debug("response headers", "status", resp.StatusCode, "length", resp.ContentLength)

	body, err := c.newResponseStream(ctx, st)
	if err != nil {
		return nil, err
	}
	resp.Body = body
	return resp, nil
}

// abort drops the request's references and closes its handle, teardown
// follows once the engine reported the handle closed.
func abort(st *state.State) {
	st.SoftReset()
	if err := st.CloseHandle(); err != nil {
		st.Logger.Debug("closing request handle", "error", err)
	}
}
