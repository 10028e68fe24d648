package internal_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/frankli0324/go-asynchttp/internal"
	"github.com/frankli0324/go-asynchttp/internal/handle"
	"github.com/frankli0324/go-asynchttp/internal/http"
)

type TestDialer struct {
	net.Conn
}

// Dial implements http.Dialer.
func (t *TestDialer) Dial(ctx context.Context, r *http.PreparedRequest) (net.Conn, error) {
	return t.Conn, nil
}

// Unwrap implements http.Dialer.
func (t *TestDialer) Unwrap() http.Dialer {
	return nil
}

// SendSingleRequest sends req over an in-memory connection and returns the
// bytes the client wrote, the connection ends once the exchange is over.
func SendSingleRequest(t *testing.T, req *http.Request) io.Reader {
	server, client := net.Pipe()
	go io.WriteString(server, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")

	c := &internal.Client{}
	c.UseDialer(func(http.Dialer) http.Dialer {
		return &TestDialer{client}
	})
	go func() {
		resp, err := c.CtxDo(context.Background(), req)
		if err != nil {
			t.Error(err)
			return
		}
		resp.Body.Close()
	}()
	return server
}

// misuseLog counts the misuse reports logged while it is the default logger.
type misuseLog struct{ n atomic.Int32 }

func (m *misuseLog) Enabled(context.Context, slog.Level) bool { return true }
func (m *misuseLog) Handle(_ context.Context, r slog.Record) error {
	if r.Message == "asynchttp: misuse detected" {
		m.n.Add(1)
	}
	return nil
}
func (m *misuseLog) WithAttrs([]slog.Attr) slog.Handler { return m }
func (m *misuseLog) WithGroup(string) slog.Handler      { return m }

func recordMisuse(t *testing.T) *misuseLog {
	m := &misuseLog{}
	prev := slog.Default()
	slog.SetDefault(slog.New(m))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return m
}

// expectReleased waits for every request state anchored during the test to
// be torn down.
func expectReleased(t *testing.T) {
	t.Helper()
	base := handle.Count()
	t.Cleanup(func() {
		assert.Eventually(t, func() bool { return handle.Count() <= base }, 2*time.Second, 5*time.Millisecond,
			"request states still anchored")
	})
}
