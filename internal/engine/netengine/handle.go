package netengine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/frankli0324/go-asynchttp/internal/engine"
	"github.com/frankli0324/go-asynchttp/internal/handle"
	ihttp "github.com/frankli0324/go-asynchttp/internal/http"
	"github.com/frankli0324/go-asynchttp/internal/transport"
	"github.com/frankli0324/go-asynchttp/utils/netpool"
)

var h1 = transport.HTTP1{}

var (
	errNotSent     = errors.New("netengine: request not sent")
	errAlreadySent = errors.New("netengine: request already sent")
)

// request is the handle of one request. At most one operation goroutine runs
// at a time, it owns conn and the body state while it runs.
type request struct {
	e      *Engine
	id     handle.ID
	req    *ihttp.PreparedRequest
	key    string
	logger *slog.Logger

	ctx    context.Context // aborts dialing on close
	cancel context.CancelFunc

	mu     sync.Mutex
	busy   bool
	closed bool
	sent   bool
	conn   *netpool.Conn // nil before send and after release
	resp   *ihttp.Response

	body     io.Reader
	reusable bool
	eof      bool
	staging  []byte
	staged   []byte

	pending sync.WaitGroup
}

// start claims the handle for op and runs fn on its own goroutine. fn's event
// is delivered after the claim is dropped, so the callback may start the next
// operation right away.
func (r *request) start(op engine.Op, fn func() engine.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return engine.ErrClosed
	}
	if r.busy {
		return engine.ErrBusy
	}
	r.busy = true
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		ev := fn()
		r.mu.Lock()
		r.busy = false
		if ev.Kind == engine.EventError && r.closed {
			ev.Err = errors.Join(engine.ErrClosed, ev.Err)
		}
		r.mu.Unlock()
		if ev.Kind == engine.EventError {
			ev.Op = op
			r.logger.Debug("operation failed", "op", op.String(), "error", ev.Err)
		}
		r.e.Callback(r.id, ev)
	}()
	return nil
}

func fail(err error) engine.Event {
	return engine.Event{Kind: engine.EventError, Err: err}
}

// connection returns the connection of the running operation.
func (r *request) connection() (*netpool.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, engine.ErrClosed
	}
	if r.conn == nil {
		return nil, errNotSent
	}
	return r.conn, nil
}

func (r *request) SendRequest() error {
	return r.start(engine.OpSend, func() engine.Event {
		r.mu.Lock()
		sent := r.sent
		r.sent = true
		r.mu.Unlock()
		if sent {
			return fail(errAlreadySent)
		}

		conn, err := r.e.dial(r.ctx, r.req, r.key)
		if err != nil {
			return fail(err)
		}
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			conn.Close()
			return fail(engine.ErrClosed)
		}
		r.conn = conn
		r.mu.Unlock()
		r.logger.Debug("connected", "reused", conn.Reused(), "remote", conn.RemoteAddr().String())

		if err := h1.WriteHeader(conn, r.req); err != nil {
			return fail(err)
		}
		return engine.Event{Kind: engine.EventSendComplete}
	})
}

func (r *request) WriteData(p []byte) error {
	return r.start(engine.OpWrite, func() engine.Event {
		conn, err := r.connection()
		if err != nil {
			return fail(err)
		}
		n, err := conn.Write(p)
		if err != nil {
			return fail(err)
		}
		return engine.Event{Kind: engine.EventWriteComplete, N: n}
	})
}

func (r *request) ReceiveResponse() error {
	return r.start(engine.OpReceive, func() engine.Event {
		conn, err := r.connection()
		if err != nil {
			return fail(err)
		}
		resp := &ihttp.Response{}
		if err := h1.ReadHeader(conn.Reader, resp); err != nil {
			return fail(err)
		}
		body, reusable, err := h1.Body(conn.Reader, r.req, resp)
		if err != nil {
			return fail(err)
		}
		r.mu.Lock()
		r.resp, r.body, r.reusable = resp, body, reusable
		r.mu.Unlock()
		if body == nil {
			r.finishBody()
		}
		return engine.Event{Kind: engine.EventHeadersAvailable}
	})
}

func (r *request) QueryHeaders() (*ihttp.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, engine.ErrClosed
	}
	if r.resp == nil {
		return nil, ErrNoResponse
	}
	resp := *r.resp
	resp.Header = r.resp.Header.Clone()
	return &resp, nil
}

func (r *request) QueryDataAvailable() error {
	return r.start(engine.OpQueryAvailable, func() engine.Event {
		if len(r.staged) > 0 || r.eof {
			return engine.Event{Kind: engine.EventDataAvailable, N: len(r.staged)}
		}
		if r.body == nil {
			return fail(ErrNoResponse)
		}
		if r.staging == nil {
			size := r.e.StagingSize
			if size <= 0 {
				size = defaultStaging
			}
			r.staging = make([]byte, size)
		}
		n, err := r.fill(r.staging)
		if err != nil {
			return fail(err)
		}
		r.staged = r.staging[:n]
		if n == 0 {
			r.finishBody()
		}
		return engine.Event{Kind: engine.EventDataAvailable, N: n}
	})
}

func (r *request) ReadData(p []byte) error {
	return r.start(engine.OpRead, func() engine.Event {
		if len(r.staged) > 0 {
			n := copy(p, r.staged)
			r.staged = r.staged[n:]
			if len(r.staged) == 0 && r.eof {
				r.finishBody()
			}
			return engine.Event{Kind: engine.EventReadComplete, N: n}
		}
		if r.eof {
			return engine.Event{Kind: engine.EventReadComplete}
		}
		if r.body == nil {
			return fail(ErrNoResponse)
		}
		n, err := r.fill(p)
		if err != nil {
			return fail(err)
		}
		if r.eof {
			r.finishBody()
		}
		return engine.Event{Kind: engine.EventReadComplete, N: n}
	})
}

// fill reads at least one body byte into p unless the body ended.
func (r *request) fill(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := r.body.Read(p)
		if err == io.EOF {
			r.eof = true
			return n, nil
		}
		if err != nil || n > 0 {
			return n, err
		}
	}
}

// finishBody gives the connection back once the body was consumed. The
// handle never touches it again.
func (r *request) finishBody() {
	r.mu.Lock()
	conn := r.conn
	r.conn, r.eof = nil, true
	closed := r.closed
	r.mu.Unlock()
	if conn == nil {
		return
	}
	if r.key != "" && r.reusable && !closed {
		r.logger.Debug("connection released to pool")
		conn.Release()
		return
	}
	conn.Close()
}

// Close aborts the operation in flight by closing the connection under it.
// The handle-closed event is delivered once that operation reported back.
func (r *request) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return engine.ErrClosed
	}
	r.closed = true
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	r.cancel()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	go func() {
		r.pending.Wait()
		r.logger.Debug("handle closed")
		r.e.Callback(r.id, engine.Event{Kind: engine.EventHandleClosed})
	}()
	return err
}
