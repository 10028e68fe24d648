// package handle anchors Go values for an asynchronous engine that can
// only carry an opaque word back into Go.
//
// An anchored value is strongly referenced by the package table, so it stays
// reachable while the engine holds its ID even if nothing else in Go does.
// IDs are never reused: resolving an ID after [Release] fails with
// [ErrInvalidHandle] instead of yielding whatever was registered later.
package handle

import (
	"errors"
	"fmt"
	"sync"
)

// ID is the opaque identity handed to the engine. The zero ID is never issued.
type ID uintptr

var ErrInvalidHandle = errors.New("handle: invalid or released handle")

var (
	mu      sync.RWMutex
	handles = make(map[ID]interface{})
	nextID  ID = 1
)

// Register stores v and returns its identity.
func Register(v interface{}) ID {
	mu.Lock()
	defer mu.Unlock()
	id := nextID
	nextID++
	handles[id] = v
	return id
}

// Resolve returns the value anchored under id.
func Resolve(id ID) (interface{}, error) {
	mu.RLock()
	v, ok := handles[id]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrInvalidHandle, uintptr(id))
	}
	return v, nil
}

// Lookup resolves id and asserts the anchored value to T.
func Lookup[T any](id ID) (T, error) {
	var zero T
	v, err := Resolve(id)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("handle: %#x anchors %T, want %T", uintptr(id), v, zero)
	}
	return t, nil
}

// Release drops the anchor, the value becomes collectable once Go code stops
// referencing it.
func Release(id ID) error {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := handles[id]; !ok {
		return fmt.Errorf("%w: %#x", ErrInvalidHandle, uintptr(id))
	}
	delete(handles, id)
	return nil
}

// Count returns the number of live anchors.
func Count() int {
	mu.RLock()
	defer mu.RUnlock()
	return len(handles)
}
