// package netpool keeps idle HTTP/1.1 connections for reuse.
package netpool

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/frankli0324/go-asynchttp/utils/nettools"
)

const defaultBufferSize = 4096

type Pool struct {
	connTicket      chan struct{} // nil when unlimited
	idleTicket      chan *Conn
	maxIdleDuration time.Duration
	bufSize         int
	logger          *slog.Logger
}

func NewPool(maxIdle, maxConn uint, maxIdleDuration time.Duration) *Pool {
	p := &Pool{
		idleTicket:      make(chan *Conn, maxIdle),
		maxIdleDuration: maxIdleDuration,
		bufSize:         defaultBufferSize,
		logger:          slog.Default(),
	}
	if maxConn > 0 {
		p.connTicket = make(chan struct{}, maxConn)
	}
	return p
}

// Connect returns an idle connection if a live one is pooled, otherwise it
// dials a new one. It blocks while the pool is at its connection limit.
func (p *Pool) Connect(ctx context.Context, dial func(ctx context.Context) (net.Conn, error)) (*Conn, error) {
	for {
		select {
		case c := <-p.idleTicket:
			if p.maxIdleDuration != 0 && time.Since(c.lastIdle) > p.maxIdleDuration {
				p.logger.Debug("netpool: dropping expired connection", "remote", c.RemoteAddr().String())
				c.Close()
			} else if !c.Available() || nettools.Stale(c.Conn) {
				p.logger.Debug("netpool: dropping stale connection", "remote", c.RemoteAddr().String())
				c.Close()
			} else {
				c.reused = true
				return c, nil
			}
		default:
			if err := p.takeTicket(ctx); err != nil {
				return nil, err
			}
			raw, err := dial(ctx)
			if err != nil {
				p.putTicket()
				return nil, err
			}
			c := newConn(raw, p, p.bufSize)
			c.ticket.Store(p.connTicket != nil)
			return c, nil
		}
	}
}

func (p *Pool) release(c *Conn) {
	if !c.Available() {
		return
	}
	if c.Reader.Buffered() > 0 {
		// leftover bytes can't be matched to any request
		c.Close()
		return
	}
	c.lastIdle = time.Now()
	select {
	case p.idleTicket <- c:
	default:
		c.Close()
	}
}

// Idle is the number of pooled idle connections.
func (p *Pool) Idle() int {
	return len(p.idleTicket)
}

// CloseIdle closes every idle connection.
func (p *Pool) CloseIdle() {
	for {
		select {
		case c := <-p.idleTicket:
			c.Close()
		default:
			return
		}
	}
}

func (p *Pool) takeTicket(ctx context.Context) error {
	if p.connTicket == nil {
		return nil
	}
	select {
	case p.connTicket <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) putTicket() {
	if p.connTicket != nil {
		<-p.connTicket
	}
}

func (p *Pool) returnTicket(c *Conn) {
	if c.ticket.CompareAndSwap(true, false) {
		p.putTicket()
	}
}
