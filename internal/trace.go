package internal

import (
	"context"
	"net/http/httptrace"
)

// tracer reports request progress to the [httptrace.ClientTrace] of the
// request context, if any.
type tracer struct {
	*httptrace.ClientTrace
}

func traceFrom(ctx context.Context) tracer {
	return tracer{httptrace.ContextClientTrace(ctx)}
}

func (t tracer) wroteHeaders() {
	if t.ClientTrace != nil && t.WroteHeaders != nil {
		t.WroteHeaders()
	}
}

func (t tracer) wroteRequest(err error) {
	if t.ClientTrace != nil && t.WroteRequest != nil {
		t.WroteRequest(httptrace.WroteRequestInfo{Err: err})
	}
}

func (t tracer) gotFirstResponseByte() {
	if t.ClientTrace != nil && t.GotFirstResponseByte != nil {
		t.GotFirstResponseByte()
	}
}
