package internal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/frankli0324/go-asynchttp/internal/engine"
	"github.com/frankli0324/go-asynchttp/internal/phase"
	"github.com/frankli0324/go-asynchttp/internal/pin"
	"github.com/frankli0324/go-asynchttp/internal/state"
	"github.com/frankli0324/go-asynchttp/internal/transport/chunked"
)

var errBodyClosed = http.ErrBodyReadAfterClose

// await starts the phase held by slot, issues call and blocks until the
// engine settles the phase or ctx is done. A canceled phase closes the handle
// and only returns once the engine let go of it.
func await[T any](ctx context.Context, st *state.State, slot *phase.Slot[T], call func(h engine.Handle) error) (T, error) {
	sig := slot.Start()
	if err := st.Do(call); err != nil {
		slot.Clear()
		var zero T
		return zero, err
	}
	select {
	case <-sig.Done():
	case <-ctx.Done():
		if sig.TryReject(phase.Canceled(slot.Phase(), context.Cause(ctx))) {
			st.Logger.Debug("phase canceled", "phase", slot.Phase().String())
			st.CloseHandle()
			<-st.HandleClosed()
		}
	}
	return sig.Result()
}

// phaseWriter hands every Write to the engine as one write phase. The written
// memory stays pinned until the next write replaces it.
type phaseWriter struct {
	ctx  context.Context
	st   *state.State
	slot *phase.Slot[int]
}

func (w phaseWriter) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		chunk := p[written:]
		if _, err := w.st.PinBuffer(chunk); err != nil {
			return written, err
		}
		w.st.BeginWrite(w.slot)
		n, err := await(w.ctx, w.st, w.slot, func(h engine.Handle) error { return h.WriteData(chunk) })
		if err != nil {
			return written, err
		}
		if n <= 0 {
			return written, io.ErrShortWrite
		}
		written += n
	}
	return written, nil
}

func writeBody(ctx context.Context, st *state.State, pr *PreparedRequest) error {
	body, err := pr.GetBody()
	if err != nil {
		return err
	}
	if body == nil {
		return nil
	}
	defer body.Close() // request body is ALWAYS closed

	data := phaseWriter{ctx, st, st.Write}
	if pr.Chunked() {
		cw := chunked.NewSplitWriter(data, phaseWriter{ctx, st, st.WriteChunk})
		if _, err := io.Copy(cw, body); err != nil {
			return err
		}
		return cw.CloseWithTrailer(nil)
	}
	n, err := io.Copy(data, body)
	if err != nil {
		return err
	}
	if n != pr.ContentLength {
		return fmt.Errorf("http: ContentLength=%d with Body length %d", pr.ContentLength, n)
	}
	return nil
}

// responseStream is the response body. Each Read is a data-available phase
// followed by a read phase into pinned memory.
type responseStream struct {
	ctx context.Context
	st  *state.State

	mu     sync.Mutex
	buf    *pin.Buffer // off-heap landing buffer, optional
	err    error       // sticky, io.EOF once the body ended
	closed bool
}

func (c *Client) newResponseStream(ctx context.Context, st *state.State) (*responseStream, error) {
	r := &responseStream{ctx: ctx, st: st}
	if c.OffHeapBuffers {
		size := c.BufferSize
		if size <= 0 {
			size = defaultBufferSize
		}
		buf, err := pin.Alloc(size)
		if err != nil {
			return nil, err
		}
		r.buf = buf
	}
	return r, nil
}

func (r *responseStream) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	st := r.st

	avail, err := await(r.ctx, st, st.DataAvailable, func(h engine.Handle) error { return h.QueryDataAvailable() })
	if err != nil {
		return 0, r.fail(err)
	}
	if avail == 0 {
		return 0, r.finish()
	}

	dst := p
	if r.buf != nil {
		dst = r.buf.Bytes()
	}
	if len(dst) > len(p) {
		dst = dst[:len(p)]
	}
	if len(dst) > avail {
		dst = dst[:avail]
	}
	if _, err := st.PinBuffer(dst); err != nil {
		return 0, r.fail(err)
	}

	sig := st.Read.Start()
	reg := st.RegisterReadCancellation(r.ctx, sig, func() { st.CloseHandle() })
	if err := st.Do(func(h engine.Handle) error { return h.ReadData(dst) }); err != nil {
		reg.Stop()
		st.Read.Clear()
		return 0, r.fail(err)
	}
	n, err := sig.Wait(context.Background())
	reg.Stop()
	if err != nil {
		// the engine may still be writing into dst until the handle closed
		st.CloseHandle()
		<-st.HandleClosed()
		return 0, r.fail(err)
	}
	if r.buf != nil {
		copy(p, dst[:n])
	}
	st.AddBytesRead(n)
	if n == 0 {
		return 0, r.finish()
	}
	return n, nil
}

// finish runs once the whole body was read. The connection went back to the
// engine's pool already, closing the handle only ends this request.
func (r *responseStream) finish() error {
	r.st.Logger.Debug("response body complete", "bytes", r.st.BytesRead())
	r.err = io.EOF
	r.release()
	return io.EOF
}

func (r *responseStream) fail(err error) error {
	r.err = err
	r.release()
	return err
}

func (r *responseStream) release() {
	if r.closed {
		return
	}
	r.closed = true
	abort(r.st)
	if r.buf != nil {
		<-r.st.HandleClosed()
		r.buf.Free()
		r.buf = nil
	}
}

// Close may be called while a Read is blocked, closing the handle aborts it.
func (r *responseStream) Close() error {
	r.st.CloseHandle()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = errBodyClosed
	}
	r.release()
	return nil
}
