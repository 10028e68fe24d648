// package nettools inspects sockets below the net.Conn abstraction.
package nettools

import (
	"net"
	"syscall"
)

// Stale reports whether an idle connection can no longer carry a request:
// the peer closed it, or sent bytes nobody asked for. Connections whose
// descriptor can't be reached are assumed fine.
func Stale(c net.Conn) bool {
	rc := rawConn(c)
	if rc == nil {
		return false
	}
	stale := false
	// according to the source code errors would only happen before the
	// control action, here's an example on *[net.conn]:
	//
	//  if err := fd.incref(); err != nil {
	//  	return err
	//  }
	//  defer fd.decref()
	//  f(uintptr(fd.Sysfd))
	//  return nil
	if err := rc.Control(func(fd uintptr) {
		stale = readable(int(fd))
	}); err != nil {
		return true
	}
	return stale
}

func rawConn(raw net.Conn) syscall.RawConn {
	if t, ok := raw.(interface{ NetConn() net.Conn }); ok {
		// is *tls.Conn
		raw = t.NetConn()
	}
	if c, ok := raw.(syscall.Conn); ok {
		if c, err := c.SyscallConn(); err == nil {
			return c
		}
	}
	return nil
}
