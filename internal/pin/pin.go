// package pin keeps the memory an asynchronous engine writes into at a fixed
// address until the write is known to be over.
package pin

import (
	"errors"
	"runtime"
	"sync"
	"unsafe"
)

var ErrClosed = errors.New("pin: cache closed")

// Cache pins at most one buffer at a time. The zero value is ready to use.
// A Cache holding a pinned buffer must be released before it is dropped.
type Cache struct {
	mu     sync.Mutex
	pinner runtime.Pinner
	buf    []byte
	closed bool
}

// Pin pins the backing array of buf and returns its address. Pinning the
// array that is already pinned is a no-op, any other array is pinned only
// after the previous one got unpinned. A closed cache pins nothing and
// returns ErrClosed.
func (c *Cache) Pin(buf []byte) (unsafe.Pointer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	p := unsafe.SliceData(buf)
	if p == nil {
		return nil, nil
	}
	if c.buf != nil && unsafe.SliceData(c.buf) == p {
		c.buf = buf
		return unsafe.Pointer(p), nil
	}
	c.pinner.Unpin()
	c.buf = nil
	c.pinner.Pin(p)
	c.buf = buf
	return unsafe.Pointer(p), nil
}

// Release unpins the cached buffer, if any.
func (c *Cache) Release() {
	c.mu.Lock()
	c.pinner.Unpin()
	c.buf = nil
	c.mu.Unlock()
}

// Close releases the cache for good, later pins fail with ErrClosed.
func (c *Cache) Close() {
	c.mu.Lock()
	c.pinner.Unpin()
	c.buf = nil
	c.closed = true
	c.mu.Unlock()
}

// Pinned returns the buffer currently pinned, nil if none.
func (c *Cache) Pinned() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf
}

// Count is 1 while a buffer is pinned, 0 otherwise.
func (c *Cache) Count() int {
	if c.Pinned() != nil {
		return 1
	}
	return 0
}
