package pin

import "errors"

var ErrFreed = errors.New("pin: buffer already freed")

// Buffer is receive memory allocated outside the Go heap where the platform
// allows it, so the collector never moves or reclaims it.
type Buffer struct {
	b    []byte
	free func([]byte) error
}

// Alloc allocates a buffer of size bytes.
func Alloc(size int) (*Buffer, error) {
	b, free, err := alloc(size)
	if err != nil {
		return nil, err
	}
	return &Buffer{b: b, free: free}, nil
}

func (b *Buffer) Bytes() []byte { return b.b }

func (b *Buffer) Free() error {
	if b.b == nil {
		return ErrFreed
	}
	buf := b.b
	b.b = nil
	return b.free(buf)
}
