//go:build !debugassert
// +build !debugassert

package assert

const fatal = false
