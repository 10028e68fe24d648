package handle_test

import (
	"sync"
	"testing"

	"github.com/frankli0324/go-asynchttp/internal/handle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type anchored struct{ name string }

func TestRegisterResolve(t *testing.T) {
	v := &anchored{"a"}
	id := handle.Register(v)
	defer handle.Release(id)

	got, err := handle.Lookup[*anchored](id)
	require.NoError(t, err)
	assert.Same(t, v, got)
}

func TestResolveAfterRelease(t *testing.T) {
	id := handle.Register(&anchored{"b"})
	require.NoError(t, handle.Release(id))

	_, err := handle.Resolve(id)
	assert.ErrorIs(t, err, handle.ErrInvalidHandle)
	assert.ErrorIs(t, handle.Release(id), handle.ErrInvalidHandle)

	// a new registration never takes over the released identity
	next := handle.Register(&anchored{"c"})
	defer handle.Release(next)
	assert.NotEqual(t, id, next)
	_, err = handle.Resolve(id)
	assert.ErrorIs(t, err, handle.ErrInvalidHandle)
}

func TestLookupWrongType(t *testing.T) {
	id := handle.Register("not a struct")
	defer handle.Release(id)

	_, err := handle.Lookup[*anchored](id)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, handle.ErrInvalidHandle)
}

func TestConcurrentRegister(t *testing.T) {
	before := handle.Count()
	var wg sync.WaitGroup
	ids := make([]handle.ID, 64)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = handle.Register(i)
		}(i)
	}
	wg.Wait()

	seen := map[handle.ID]bool{}
	for i, id := range ids {
		assert.False(t, seen[id], "duplicate id")
		seen[id] = true
		v, err := handle.Resolve(id)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, before+len(ids), handle.Count())
	for _, id := range ids {
		require.NoError(t, handle.Release(id))
	}
	assert.Equal(t, before, handle.Count())
}
