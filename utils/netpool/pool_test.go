package netpool

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer accepts connections and keeps them open until the test ends.
func echoServer(t *testing.T) (addr string, accepted *atomic.Int32, conns chan net.Conn) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	accepted = &atomic.Int32{}
	conns = make(chan net.Conn, 16)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			conns <- c
		}
	}()
	t.Cleanup(func() {
		for {
			select {
			case c := <-conns:
				c.Close()
			default:
				return
			}
		}
	})
	return ln.Addr().String(), accepted, conns
}

func dialer(addr string) func(ctx context.Context) (net.Conn, error) {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}

func TestPoolReuse(t *testing.T) {
	addr, accepted, _ := echoServer(t)
	p := NewPool(2, 0, 0)

	c, err := p.Connect(context.Background(), dialer(addr))
	require.NoError(t, err)
	assert.False(t, c.Reused())
	c.Release()
	assert.Equal(t, 1, p.Idle())

	c2, err := p.Connect(context.Background(), dialer(addr))
	require.NoError(t, err)
	assert.True(t, c2.Reused())
	assert.Same(t, c, c2)
	c2.Close()
	assert.Equal(t, int32(1), accepted.Load())
}

func TestPoolDropsStale(t *testing.T) {
	addr, accepted, conns := echoServer(t)
	p := NewPool(2, 0, 0)

	c, err := p.Connect(context.Background(), dialer(addr))
	require.NoError(t, err)
	c.Release()
	(<-conns).Close()
	time.Sleep(20 * time.Millisecond)

	c2, err := p.Connect(context.Background(), dialer(addr))
	require.NoError(t, err)
	defer c2.Close()
	assert.False(t, c2.Reused())
	assert.False(t, c.Available())
	assert.Eventually(t, func() bool { return accepted.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPoolDropsExpired(t *testing.T) {
	addr, _, _ := echoServer(t)
	p := NewPool(2, 0, time.Millisecond)

	c, err := p.Connect(context.Background(), dialer(addr))
	require.NoError(t, err)
	c.Release()
	time.Sleep(5 * time.Millisecond)

	c2, err := p.Connect(context.Background(), dialer(addr))
	require.NoError(t, err)
	defer c2.Close()
	assert.False(t, c2.Reused())
}

func TestPoolIdleLimit(t *testing.T) {
	addr, _, _ := echoServer(t)
	p := NewPool(1, 0, 0)

	a, err := p.Connect(context.Background(), dialer(addr))
	require.NoError(t, err)
	b, err := p.Connect(context.Background(), dialer(addr))
	require.NoError(t, err)
	a.Release()
	b.Release()
	assert.Equal(t, 1, p.Idle())
	assert.False(t, b.Available())
	p.CloseIdle()
	assert.Equal(t, 0, p.Idle())
	assert.False(t, a.Available())
}

func TestPoolConnLimit(t *testing.T) {
	addr, _, _ := echoServer(t)
	p := NewPool(1, 1, 0)

	a, err := p.Connect(context.Background(), dialer(addr))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Connect(ctx, dialer(addr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	a.Close()
	b, err := p.Connect(context.Background(), dialer(addr))
	require.NoError(t, err)
	b.Close()
}

func TestPoolDialError(t *testing.T) {
	p := NewPool(1, 1, 0)
	boom := func(ctx context.Context) (net.Conn, error) { return nil, assert.AnError }
	_, err := p.Connect(context.Background(), boom)
	assert.ErrorIs(t, err, assert.AnError)
	_, err = p.Connect(context.Background(), boom)
	assert.ErrorIs(t, err, assert.AnError, "failed dial returned its ticket")
}

func TestGroupKeys(t *testing.T) {
	addr, _, _ := echoServer(t)
	g := NewGroup(0, 2, 0)

	c, err := g.Connect(context.Background(), "a", dialer(addr))
	require.NoError(t, err)
	c.Release()
	assert.Equal(t, 1, g.Idle("a"))
	assert.Equal(t, 0, g.Idle("b"))

	c2, err := g.Connect(context.Background(), "b", dialer(addr))
	require.NoError(t, err)
	assert.False(t, c2.Reused())
	c2.Close()
	g.CloseIdle()
	assert.Equal(t, 0, g.Idle("a"))
}
