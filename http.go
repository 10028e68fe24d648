package http

import (
	"net/http"

	"github.com/frankli0324/go-asynchttp/internal"
	"github.com/frankli0324/go-asynchttp/internal/engine"
	ihttp "github.com/frankli0324/go-asynchttp/internal/http"
	"github.com/frankli0324/go-asynchttp/internal/phase"
	"github.com/frankli0324/go-asynchttp/internal/state"
)

type Header = http.Header
type Request = ihttp.Request
type PreparedRequest = ihttp.PreparedRequest
type Response = ihttp.Response

type Handler = internal.Handler
type Middleware = internal.Middleware

// Engine performs the network work of requests asynchronously, see
// [Client.UseEngine].
type Engine = engine.Engine
type EngineHandle = engine.Handle
type EngineEvent = engine.Event

// EngineCallback must receive every event of the handles a custom [Engine]
// opens.
var EngineCallback engine.Callback = state.Callback

// ErrCanceled matches errors of requests whose context ended while one of
// their phases was pending. Such errors also match the context's error.
var ErrCanceled = phase.ErrCanceled
