// package phase implements the one-shot completion signals a request waits on
// while the engine works on one of its asynchronous phases.
//
// A [Signal] is settled exactly once, from whatever goroutine the engine
// delivers its callback on, and observed by blocking callers through
// [Signal.Wait]. A [Slot] holds the signal of the phase currently in flight
// and is restarted for every new operation of that phase.
package phase

import (
	"errors"
	"fmt"
)

type Phase uint8

const (
	Send Phase = iota // connect and send request headers
	Write             // write to the request body stream
	WriteChunk        // internal write of chunk framing
	ReceiveHeaders
	Read
	DataAvailable
)

var names = [...]string{
	Send:           "send",
	Write:          "write",
	WriteChunk:     "write-chunk",
	ReceiveHeaders: "receive-headers",
	Read:           "read",
	DataAvailable:  "data-available",
}

func (p Phase) String() string {
	if int(p) < len(names) {
		return names[p]
	}
	return fmt.Sprintf("phase(%d)", p)
}

var (
	ErrSettled  = errors.New("phase: signal already settled")
	ErrNoPhase  = errors.New("phase: no signal started")
	ErrCanceled = errors.New("phase: canceled")
)

// CanceledError is the fault a phase settles with when the caller cancelled
// it. It matches [ErrCanceled] and unwraps to the context error.
type CanceledError struct {
	Phase Phase
	Cause error
}

func (e *CanceledError) Error() string {
	msg := e.Phase.String() + " canceled"
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CanceledError) Unwrap() error { return e.Cause }

func (e *CanceledError) Is(err error) bool { return err == ErrCanceled }

// Canceled builds the cancellation fault of phase p.
func Canceled(p Phase, cause error) error {
	return &CanceledError{Phase: p, Cause: cause}
}
