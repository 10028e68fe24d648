package http

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
)

type Dialer interface {
	Dial(ctx context.Context, r *PreparedRequest) (net.Conn, error)
	Unwrap() Dialer
}

type Request struct {
	Method string
	URL    string
	Body   interface{}
	Header http.Header

	// Credentials are sent preemptively as basic authorization.
	Credentials *url.Userinfo
	// Proxy overrides the dialer's proxy selection for this request,
	// "direct" disables proxying.
	Proxy string
	// VerifyConnection is called after the TLS handshake with the origin,
	// on top of the default certificate verification.
	VerifyConnection func(tls.ConnectionState) error
	// CheckRevocation rejects origin certificates whose stapled OCSP
	// response reports them revoked.
	CheckRevocation bool
}

type Response struct {
	Proto      string
	Status     string
	StatusCode int
	Header     http.Header

	ContentLength int64
	Body          io.ReadCloser
}
