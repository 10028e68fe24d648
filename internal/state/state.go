// package state holds the per-request context shared between the goroutines
// driving a request and the asynchronous engine calling back into it.
//
// A [State] is anchored in the handle table before the first engine call, so
// the engine can refer to it by an opaque identity and it stays alive for as
// long as the engine may call back, regardless of whether any request code
// still references it. The engine's [engine.EventHandleClosed] is the only
// point after which that is no longer the case, it triggers [State.Dispose].
//
// Lock discipline: the guard serializes every call into the engine handle with
// the handle's closure. Phase signals are never settled under the guard,
// a waiter woken by a settlement may immediately need the guard to issue the
// next engine call.
package state

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/google/uuid"

	"github.com/frankli0324/go-asynchttp/internal/assert"
	"github.com/frankli0324/go-asynchttp/internal/engine"
	"github.com/frankli0324/go-asynchttp/internal/handle"
	ihttp "github.com/frankli0324/go-asynchttp/internal/http"
	"github.com/frankli0324/go-asynchttp/internal/phase"
	"github.com/frankli0324/go-asynchttp/internal/pin"
)

var (
	ErrHandleClosed = errors.New("state: request handle closed")
	ErrNoHandle     = errors.New("state: request handle not opened")
	ErrNotAnchored  = errors.New("state: not anchored")
)

const (
	active int32 = iota
	disposing
	disposed
)

type State struct {
	Trace  string
	Logger *slog.Logger

	anchorMu sync.Mutex
	anchored bool
	id       handle.ID

	guard  sync.Mutex
	handle engine.Handle
	closed bool // closure was issued, guarded

	Send           *phase.Slot[struct{}]
	Write          *phase.Slot[int]
	WriteChunk     *phase.Slot[int]
	ReceiveHeaders *phase.Slot[struct{}]
	Read           *phase.Slot[int]
	DataAvailable  *phase.Slot[int]

	regMu   sync.Mutex
	readReg *Registration

	// writing is the write slot of the last write issued to the engine.
	writing atomic.Pointer[phase.Slot[int]]

	// ExpectedLength is the response body length, -1 while unknown.
	ExpectedLength int64
	bytesRead      atomic.Int64

	pins pin.Cache

	// Policy snapshot. Written by the request pipeline only, the callback path
	// never touches it.
	Request          *ihttp.PreparedRequest
	VerifyConnection func(tls.ConnectionState) error
	Proxy            string
	Credentials      *url.Userinfo
	CheckRevocation  bool
	Retry            bool
	LastStatusCode   int

	handleClosed *phase.Signal[struct{}]
	life         atomic.Int32
}

func New(logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	trace := uuid.NewString()
	return &State{
		Trace:  trace,
		Logger: logger.With("trace", trace),

		Send:           phase.NewSlot[struct{}](phase.Send),
		Write:          phase.NewSlot[int](phase.Write),
		WriteChunk:     phase.NewSlot[int](phase.WriteChunk),
		ReceiveHeaders: phase.NewSlot[struct{}](phase.ReceiveHeaders),
		Read:           phase.NewSlot[int](phase.Read),
		DataAvailable:  phase.NewSlot[int](phase.DataAvailable),

		ExpectedLength: -1,
		handleClosed:   phase.NewSignal[struct{}](),
	}
}

// Anchor makes the state resolvable from its identity and keeps it alive until
// [State.Dispose]. Anchoring twice is a no-op.
func (s *State) Anchor() handle.ID {
	s.anchorMu.Lock()
	defer s.anchorMu.Unlock()
	if s.anchored {
		return s.id
	}
	if s.life.Load() != active {
		assert.Fail("anchoring a disposed state")
		return 0
	}
	s.id = handle.Register(s)
	s.anchored = true
	s.Logger.Debug("state anchored", "id", uintptr(s.id))
	return s.id
}

// Identity returns the opaque identity handed to the engine.
func (s *State) Identity() (handle.ID, error) {
	s.anchorMu.Lock()
	defer s.anchorMu.Unlock()
	if !s.anchored {
		return 0, ErrNotAnchored
	}
	return s.id, nil
}

// Resolve maps an identity back to its state. It fails for identities that
// were never issued or whose state was disposed.
func Resolve(id handle.ID) (*State, error) {
	return handle.Lookup[*State](id)
}

func (s *State) releaseAnchor() {
	s.anchorMu.Lock()
	defer s.anchorMu.Unlock()
	if !s.anchored {
		return
	}
	if err := handle.Release(s.id); err != nil {
		assert.Fail("releasing anchor: %v", err)
	}
	s.anchored = false
}

// SetHandle hands the engine handle to the state, which owns it from then on.
func (s *State) SetHandle(h engine.Handle) {
	s.guard.Lock()
	defer s.guard.Unlock()
	assert.That(s.handle == nil, "request handle set twice")
	s.handle = h
}

// BeginWrite records that the next engine write belongs to slot, which must
// be Write or WriteChunk. Write completions are delivered to it.
func (s *State) BeginWrite(slot *phase.Slot[int]) {
	assert.That(slot == s.Write || slot == s.WriteChunk, "write on a non-write slot")
	s.writing.Store(slot)
}

// Do runs fn with the guard held. Once the handle is closed fn is not called
// and ErrHandleClosed is returned.
func (s *State) Do(fn func(h engine.Handle) error) error {
	s.guard.Lock()
	defer s.guard.Unlock()
	if s.closed {
		return ErrHandleClosed
	}
	if s.handle == nil {
		return ErrNoHandle
	}
	return fn(s.handle)
}

// CloseHandle closes the engine handle once. Teardown follows when the engine
// reports the handle closed, or right away if no handle was ever opened.
func (s *State) CloseHandle() error {
	s.guard.Lock()
	if s.closed {
		s.guard.Unlock()
		return nil
	}
	s.closed = true
	h := s.handle
	var err error
	if h != nil {
		err = h.Close()
	}
	s.guard.Unlock()

	if h == nil {
		s.onHandleClosed()
	}
	s.Logger.Debug("request handle closing", "error", err)
	return err
}

// HandleClosed is closed once the engine delivered its final event.
func (s *State) HandleClosed() <-chan struct{} {
	return s.handleClosed.Done()
}

func (s *State) onHandleClosed() {
	s.handleClosed.TryResolve(struct{}{})
	s.Dispose()
}

// Dispose releases the pinned buffer and the anchor. It must only run once the
// engine can no longer call back, concurrent and repeated calls collapse into
// one execution whose caller gets true.
func (s *State) Dispose() bool {
	if !s.life.CompareAndSwap(active, disposing) {
		return false
	}
	s.pins.Close()
	s.releaseAnchor()
	s.life.Store(disposed)
	s.Logger.Debug("state disposed")
	return true
}

func (s *State) Disposed() bool {
	return s.life.Load() == disposed
}

// SoftReset drops per-request references once the response was delivered, so
// the anchored state does not keep them reachable until the handle is closed.
func (s *State) SoftReset() {
	s.StopReadRegistration()

	s.Request = nil
	s.VerifyConnection = nil
	s.Proxy = ""
	s.Credentials = nil

	s.writing.Store(nil)
	s.Send.Clear()
	s.Write.Clear()
	s.WriteChunk.Clear()
	s.ReceiveHeaders.Clear()
	s.Read.Clear()
	s.DataAvailable.Clear()
}

// PinBuffer pins buf until it is replaced by another buffer or the state is
// disposed. Once disposed it fails with ErrHandleClosed: the handle was
// closed under the caller, which must not hand buf to the engine.
func (s *State) PinBuffer(buf []byte) (unsafe.Pointer, error) {
	p, err := s.pins.Pin(buf)
	if errors.Is(err, pin.ErrClosed) {
		return nil, ErrHandleClosed
	}
	return p, err
}

func (s *State) PinnedBuffer() []byte {
	return s.pins.Pinned()
}

// AddBytesRead accounts n body bytes and returns the running total.
func (s *State) AddBytesRead(n int) int64 {
	total := s.bytesRead.Add(int64(n))
	if s.ExpectedLength >= 0 {
		assert.That(total <= s.ExpectedLength, "read %d bytes, expected at most %d", total, s.ExpectedLength)
	}
	return total
}

func (s *State) BytesRead() int64 {
	return s.bytesRead.Load()
}

// Registration ties one read to a cancellation source. It is disposed by
// [Registration.Stop], independently of the read's signal.
type Registration struct {
	stop func() bool
	once sync.Once
}

// Stop disposes the registration. It reports false if the cancellation
// already fired or the registration was stopped before.
func (r *Registration) Stop() bool {
	stopped := false
	r.once.Do(func() { stopped = r.stop() })
	return stopped
}

// RegisterReadCancellation rejects sig with a cancellation fault when ctx is
// done, then runs onCancel if set. The registration replaces any previous
// read registration of the state, which is stopped.
func (s *State) RegisterReadCancellation(ctx context.Context, sig *phase.Signal[int], onCancel func()) *Registration {
	reg := &Registration{}
	reg.stop = context.AfterFunc(ctx, func() {
		if sig.TryReject(phase.Canceled(phase.Read, context.Cause(ctx))) {
			s.Logger.Debug("read canceled", "cause", context.Cause(ctx))
		}
		if onCancel != nil {
			onCancel()
		}
	})

	s.regMu.Lock()
	prev := s.readReg
	s.readReg = reg
	s.regMu.Unlock()
	if prev != nil {
		prev.Stop()
	}
	return reg
}

// StopReadRegistration stops the current read registration, if any.
func (s *State) StopReadRegistration() {
	s.regMu.Lock()
	reg := s.readReg
	s.readReg = nil
	s.regMu.Unlock()
	if reg != nil {
		reg.Stop()
	}
}
