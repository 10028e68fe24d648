// package http holds the request model handed to engines: the caller's
// [Request] with its per-request policy (credentials, proxy, TLS checks),
// the [PreparedRequest] an engine serializes, and the [Response] read back.
// It shares the root package's name so the re-exported types read the same.
package http

import (
	"net/http"
)

type Header = http.Header

// NoBody is the body of a prepared request without one.
var NoBody = http.NoBody
