package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	ihttp "github.com/frankli0324/go-asynchttp/internal/http"
	"github.com/frankli0324/go-asynchttp/internal/transport/chunked"
)

type HTTP1 struct{}

// Write writes the whole request, head and body, synchronously.
func (t HTTP1) Write(ctx context.Context, w io.Writer, r *ihttp.PreparedRequest) error {
	body, err := r.GetBody() // can write body
	if err != nil {
		return err
	}
	if body != nil {
		defer body.Close() // request body is ALWAYS closed
	}

	if err := t.WriteHeader(w, r); err != nil {
		return err
	}
	if body == nil || body == http.NoBody {
		return nil
	}
	if r.Chunked() {
		cw := chunked.NewChunkedWriter(w)
		if _, err := io.Copy(cw, body); err != nil {
			return err
		}
		return cw.CloseWithTrailer(nil)
	}
	_, err = io.Copy(w, body)
	return err
}

// WriteHeader writes the status and header part of an http 1.1 request
// e.g.:
//
//	GET / HTTP/1.1\r\n
//	Host: www.google.com\r\n
//	X-Xx-Yy: cccccc\r\n
//	\r\n
func (t HTTP1) WriteHeader(w io.Writer, r *ihttp.PreparedRequest) error {
	header := bufio.NewWriter(w) // default bufsize is 4096

	if _, err := header.WriteString(r.Method); err != nil {
		return err
	}
	header.WriteByte(' ')
	if r.Method == "CONNECT" && r.U.Path != "" {
		header.WriteString(r.U.Path)
	} else {
		header.WriteString(r.U.RequestURI())
	}
	header.WriteString(" HTTP/1.1\r\n")

	header.WriteString("Host: ")
	header.WriteString(r.HeaderHost)
	header.WriteString("\r\n")
	if r.Chunked() {
		header.WriteString("Transfer-Encoding: chunked\r\n")
	} else if r.SendContentLength() {
		header.WriteString("Content-Length: ")
		header.WriteString(strconv.FormatInt(r.ContentLength, 10))
		header.WriteString("\r\n")
	}
	for k, v := range r.Header {
		for _, v := range v {
			header.WriteString(k)
			header.WriteString(": ")
			header.WriteString(v)
			if _, err := header.WriteString("\r\n"); err != nil {
				return err
			}
		}
	}
	if _, err := header.WriteString("\r\n"); err != nil {
		return err
	}
	return header.Flush()
}

// Read reads the response head and frames the body, the returned body closes r
// if r is an [io.Closer].
func (t HTTP1) Read(ctx context.Context, r io.Reader, req *ihttp.PreparedRequest, resp *ihttp.Response) (err error) {
	closer := io.NopCloser
	if cr, ok := r.(io.Closer); ok {
		closer = func(r io.Reader) io.ReadCloser { return bodyCloser{r, cr.Close} }
	}
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	if err := t.ReadHeader(br, resp); err != nil {
		return err
	}
	body, _, err := t.Body(br, req, resp)
	if err != nil {
		return err
	}
	if body == nil {
		resp.Body = http.NoBody
		return nil
	}
	resp.Body = closer(body)
	return nil
}

// ReadHeader parses the status line and header block, skipping 1xx
// informational responses.
func (t HTTP1) ReadHeader(br *bufio.Reader, resp *ihttp.Response) (err error) {
	tp := textproto.NewReader(br)
	for {
		if err := t.readHead(tp, resp); err != nil {
			return err
		}
		// 101 switches protocols, the caller owns the connection afterwards
		if resp.StatusCode < 100 || resp.StatusCode > 199 || resp.StatusCode == 101 {
			return nil
		}
	}
}

func (t HTTP1) readHead(tp *textproto.Reader, resp *ihttp.Response) (err error) {
	line, err := tp.ReadLine()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	proto, status, ok := strings.Cut(line, " ")
	if !ok {
		return errors.New("malformed HTTP response")
	}
	resp.Proto = proto
	resp.Status = strings.TrimLeft(status, " ")

	statusCode, _, _ := strings.Cut(resp.Status, " ")
	if len(statusCode) != 3 {
		return errors.New("malformed HTTP status code " + statusCode)
	}
	resp.StatusCode, err = strconv.Atoi(statusCode)
	if err != nil || resp.StatusCode < 0 {
		return errors.New("malformed HTTP status code")
	}

	// Parse the response headers.
	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	if hp, ok := mimeHeader["Pragma"]; ok && len(hp) > 0 && hp[0] == "no-cache" {
		if _, presentcc := mimeHeader["Cache-Control"]; !presentcc {
			mimeHeader["Cache-Control"] = []string{"no-cache"}
		}
	}
	resp.Header = http.Header(mimeHeader)
	return nil
}

// Body frames the response body on r. It returns a nil reader for bodiless
// responses and reports whether the connection may be reused once the body
// was read to EOF. resp.ContentLength is -1 when the length is unknown.
func (t HTTP1) Body(r *bufio.Reader, req *ihttp.PreparedRequest, resp *ihttp.Response) (body io.Reader, reusable bool, err error) {
	contentLens := resp.Header["Content-Length"]

	// Hardening against HTTP request smuggling, taken from standard library
	if len(contentLens) > 1 {
		// Per RFC 7230 Section 3.3.2
		first := textproto.TrimString(contentLens[0])
		for _, ct := range contentLens[1:] {
			if first != textproto.TrimString(ct) {
				return nil, false, fmt.Errorf("http: message cannot contain multiple Content-Length headers; got %q", contentLens)
			}
		}

		// deduplicate Content-Length
		resp.Header.Del("Content-Length")
		resp.Header.Add("Content-Length", first)

		contentLens = resp.Header["Content-Length"]
	}

	cl := int64(-1)
	if len(contentLens) > 0 {
		// Logic based on Content-Length
		n, err := strconv.ParseUint(textproto.TrimString(contentLens[0]), 10, 63)
		if err != nil {
			return nil, false, fmt.Errorf("http: bad Content-Length %q", contentLens[0])
		}
		cl = int64(n)
	}
	keepAlive := !strings.EqualFold(resp.Header.Get("Connection"), "close") && resp.Proto != "HTTP/1.0"

	if req != nil && req.Method == "CONNECT" && resp.StatusCode/100 == 2 {
		// the connection now belongs to the tunnel
		resp.ContentLength = 0
		return nil, false, nil
	}
	if (req != nil && req.Method == "HEAD") || noResponseBody(resp.StatusCode) {
		resp.ContentLength = 0
		if cl > 0 && req != nil && req.Method == "HEAD" {
			resp.ContentLength = cl
		}
		return nil, keepAlive, nil
	}

	if strings.EqualFold(resp.Header.Get("Transfer-Encoding"), "chunked") {
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
		return chunked.NewChunkedReader(r), keepAlive, nil
	}

	resp.ContentLength = cl
	switch {
	case cl > 0:
		return io.LimitReader(r, cl), keepAlive, nil
	case cl == 0:
		return nil, keepAlive, nil
	}
	// delimited by connection close
	return r, false, nil
}

func noResponseBody(code int) bool {
	return (code >= 100 && code < 200) || code == 204 || code == 304
}
