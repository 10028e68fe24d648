//go:build !darwin && !linux
// +build !darwin,!linux

package nettools

func readable(fd int) bool {
	return false
}
