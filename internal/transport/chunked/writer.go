package chunked

import (
	"fmt"
	"io"
	"net/http"
)

// NewChunkedWriter is taken from golang src/net/http/internal/chunked.go
func NewChunkedWriter(w io.Writer) *chunkedWriter {
	return &chunkedWriter{w, w}
}

// NewSplitWriter writes chunk payloads to data and the chunk framing
// (sizes, CRLFs, last-chunk and trailers) to framing. Both must end up on the
// same wire in call order.
func NewSplitWriter(data, framing io.Writer) *chunkedWriter {
	return &chunkedWriter{data, framing}
}

type chunkedWriter struct {
	Wire    io.Writer
	Framing io.Writer
}

func (cw *chunkedWriter) Write(data []byte) (n int, err error) {

	// Don't send 0-length data. It looks like EOF for chunked encoding.
	if len(data) == 0 {
		return 0, nil
	}

	if _, err = fmt.Fprintf(cw.Framing, "%x\r\n", len(data)); err != nil {
		return 0, err
	}
	if n, err = cw.Wire.Write(data); err != nil {
		return
	}
	if n != len(data) {
		err = io.ErrShortWrite
		return
	}
	if _, err = io.WriteString(cw.Framing, "\r\n"); err != nil {
		return
	}
	if f, ok := cw.Wire.(interface{ Flush() error }); ok {
		err = f.Flush()
	}
	return
}

func (cw *chunkedWriter) CloseWithTrailer(trailer http.Header) error {
	if _, err := io.WriteString(cw.Framing, "0\r\n"); err != nil {
		return err
	}
	if len(trailer) != 0 {
		if err := trailer.Write(cw.Framing); err != nil {
			return err
		}
	}
	n, err := io.WriteString(cw.Framing, "\r\n")
	if err == nil && n != 2 {
		return io.ErrShortWrite
	}
	return err
}
