// package engine is the contract between request states and the asynchronous
// I/O engine that performs the actual network work.
//
// Every asynchronous [Handle] method returns immediately and completes by
// delivering exactly one [Event] to the engine's [Callback], on a goroutine of
// the engine's choosing. The callback receives the opaque identity the handle
// was opened with, never a Go pointer to the request state.
package engine

import (
	"errors"
	"fmt"

	"github.com/frankli0324/go-asynchttp/internal/handle"
	"github.com/frankli0324/go-asynchttp/internal/http"
)

var (
	ErrClosed = errors.New("engine: handle closed")
	ErrBusy   = errors.New("engine: another operation is in flight")
)

type Op uint8

const (
	OpSend Op = iota + 1
	OpWrite
	OpReceive
	OpQueryAvailable
	OpRead
)

func (o Op) String() string {
	switch o {
	case OpSend:
		return "send"
	case OpWrite:
		return "write"
	case OpReceive:
		return "receive"
	case OpQueryAvailable:
		return "query-available"
	case OpRead:
		return "read"
	}
	return fmt.Sprintf("op(%d)", o)
}

type EventKind uint8

const (
	EventSendComplete EventKind = iota + 1
	EventWriteComplete
	EventHeadersAvailable
	EventDataAvailable
	EventReadComplete
	EventError
	// EventHandleClosed is the last event of a handle.
	EventHandleClosed
)

func (k EventKind) String() string {
	switch k {
	case EventSendComplete:
		return "send-complete"
	case EventWriteComplete:
		return "write-complete"
	case EventHeadersAvailable:
		return "headers-available"
	case EventDataAvailable:
		return "data-available"
	case EventReadComplete:
		return "read-complete"
	case EventError:
		return "error"
	case EventHandleClosed:
		return "handle-closed"
	}
	return fmt.Sprintf("event(%d)", k)
}

type Event struct {
	Kind EventKind
	// N is the byte count of write, read and data-available completions.
	N int
	// Op and Err describe the failed operation of an EventError.
	Op  Op
	Err error
}

// Callback is the single entry point the engine calls back into.
type Callback func(id handle.ID, ev Event)

// Error is an engine failure surfaced through an EventError.
type Error struct {
	Op  Op
	Err error
}

func (e *Error) Error() string {
	return "engine: " + e.Op.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

type Engine interface {
	// Open creates a handle for r. Events of the handle carry id. The engine
	// only reads r, the per-request policy (proxy, TLS verification) is taken
	// from r.Request.
	Open(r *http.PreparedRequest, id handle.ID) (Handle, error)
}

// Handle is a request handle. Its methods must not be called concurrently with
// each other, and at most one asynchronous operation may be in flight.
type Handle interface {
	// SendRequest connects and writes the request head. Completes with
	// EventSendComplete.
	SendRequest() error
	// WriteData writes p as request body bytes. p is used in place until
	// EventWriteComplete is delivered.
	WriteData(p []byte) error
	// ReceiveResponse waits for the response head. Completes with
	// EventHeadersAvailable.
	ReceiveResponse() error
	// QueryHeaders returns the response head once headers are available.
	QueryHeaders() (*http.Response, error)
	// QueryDataAvailable completes with EventDataAvailable carrying the number
	// of body bytes readable without blocking, 0 at the end of the body.
	QueryDataAvailable() error
	// ReadData reads body bytes into p asynchronously, p must stay at a fixed
	// address until EventReadComplete. N == 0 marks the end of the body.
	ReadData(p []byte) error
	// Close aborts pending operations. Their failures are delivered first,
	// EventHandleClosed follows as the final event.
	Close() error
}
