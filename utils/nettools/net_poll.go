//go:build darwin || linux
// +build darwin linux

package nettools

import (
	"golang.org/x/sys/unix"
)

// readable polls fd without blocking. An idle HTTP/1.1 connection has nothing
// to read, so readiness means EOF, an error or garbage.
func readable(fd int) bool {
	s := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(s, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return true
		}
		return n > 0 && s[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
	}
}
