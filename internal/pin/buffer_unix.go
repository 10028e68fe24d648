//go:build unix

package pin

import "golang.org/x/sys/unix"

func alloc(size int) ([]byte, func([]byte) error, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return b, unix.Munmap, nil
}
