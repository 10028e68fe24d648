package netpool

import (
	"bufio"
	"net"
	"sync/atomic"
	"time"
)

// Conn is a pooled connection. The reader is kept with the connection, bytes
// it buffered belong to the next response read from it.
type Conn struct {
	net.Conn
	Reader *bufio.Reader

	isClosed atomic.Bool
	reused   bool
	lastIdle time.Time
	pool     *Pool
	ticket   atomic.Bool // holds one of the pool's connection tickets
}

func newConn(c net.Conn, p *Pool, bufSize int) *Conn {
	return &Conn{
		Conn:   c,
		Reader: bufio.NewReaderSize(c, bufSize),
		pool:   p,
	}
}

func (c *Conn) Available() bool {
	return !c.isClosed.Load()
}

// Reused reports whether the connection came out of the idle pool.
func (c *Conn) Reused() bool {
	return c.reused
}

// Release hands the connection back to its pool for reuse. The caller must
// have consumed the previous response completely.
func (c *Conn) Release() {
	c.pool.release(c)
}

func (c *Conn) Close() error {
	if !c.isClosed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.Conn.Close()
	c.pool.returnTicket(c)
	return err
}
