package state

import (
	"errors"
	"log/slog"

	"github.com/frankli0324/go-asynchttp/internal/engine"
	"github.com/frankli0324/go-asynchttp/internal/handle"
	"github.com/frankli0324/go-asynchttp/internal/phase"
)

// Callback is the engine's entry point into request states. It never takes
// the guard.
func Callback(id handle.ID, ev engine.Event) {
	s, err := Resolve(id)
	if err != nil {
		slog.Default().Warn("dropping engine event", "event", ev.Kind.String(), "error", err)
		return
	}
	s.dispatch(ev)
}

type faultSink interface {
	Phase() phase.Phase
	Fail(err error) error
}

func (s *State) dispatch(ev engine.Event) {
	var (
		err error
		p   phase.Phase
	)
	switch ev.Kind {
	case engine.EventSendComplete:
		p, err = phase.Send, s.Send.Resolve(struct{}{})
	case engine.EventWriteComplete:
		slot := s.writeSlot()
		p, err = slot.Phase(), slot.Resolve(ev.N)
	case engine.EventHeadersAvailable:
		p, err = phase.ReceiveHeaders, s.ReceiveHeaders.Resolve(struct{}{})
	case engine.EventDataAvailable:
		p, err = phase.DataAvailable, s.DataAvailable.Resolve(ev.N)
	case engine.EventReadComplete:
		p, err = phase.Read, s.Read.Resolve(ev.N)
	case engine.EventError:
		sink := s.sinkFor(ev.Op)
		p, err = sink.Phase(), sink.Fail(&engine.Error{Op: ev.Op, Err: ev.Err})
	case engine.EventHandleClosed:
		s.Logger.Debug("request handle closed")
		s.onHandleClosed()
		return
	default:
		s.Logger.Warn("unknown engine event", "event", ev.Kind.String())
		return
	}

	switch {
	case err == nil:
		s.Logger.Debug("phase settled", "phase", p.String(), "event", ev.Kind.String(), "n", ev.N)
	case errors.Is(err, phase.ErrNoPhase):
		// soft reset already dropped the phase
		s.Logger.Debug("event without pending phase", "phase", p.String(), "event", ev.Kind.String())
	default:
		s.Logger.Debug("event not delivered", "phase", p.String(), "event", ev.Kind.String(), "error", err)
	}
}

// writeSlot is the slot of the write issued last. Its signal may already be
// settled by a cancellation, the late completion then lands on that signal
// and is dropped.
func (s *State) writeSlot() *phase.Slot[int] {
	if slot := s.writing.Load(); slot != nil {
		return slot
	}
	return s.Write
}

func (s *State) sinkFor(op engine.Op) faultSink {
	switch op {
	case engine.OpSend:
		return s.Send
	case engine.OpWrite:
		return s.writeSlot()
	case engine.OpReceive:
		return s.ReceiveHeaders
	case engine.OpQueryAvailable:
		return s.DataAvailable
	default:
		return s.Read
	}
}
