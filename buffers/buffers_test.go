package buffers

import (
	"testing"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/handles"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryObject(t *testing.T) {
	data := make([]byte, 16)
	obj := NewHostObject(data)
	assert.Equal(t, 16, obj.Size)
	assert.Equal(t, NoFD, obj.FD)
	assert.NotZero(t, obj.Address)
	b, err := obj.Bytes()
	require.NoError(t, err)
	assert.Len(t, b, 16)

	fdObj := NewFDObject(7, 32, 64)
	_, err = fdObj.Bytes()
	assert.Equal(t, status.InvalidArgument, status.Of(err))
	assert.Contains(t, fdObj.String(), "fd=7+64")
}

func TestHostAllocator(t *testing.T) {
	alloc := NewHostAllocator()
	obj, err := alloc.Allocate(24)
	require.NoError(t, err)
	assert.Equal(t, 24, obj.Size)
	obj.Data[0] = 0xFF
	assert.Equal(t, 1, alloc.Live())

	require.NoError(t, alloc.Free(obj))
	assert.Error(t, alloc.Free(obj), "double free must fail")
	assert.Equal(t, 0, alloc.Live())

	// Recycled objects come back zeroed.
	obj, err = alloc.Allocate(24)
	require.NoError(t, err)
	assert.Equal(t, byte(0), obj.Data[0])

	_, err = alloc.Allocate(0)
	assert.Equal(t, status.InvalidArgument, status.Of(err))
}

func TestAuxiliaryPool(t *testing.T) {
	alloc := NewHostAllocator()
	pool := NewAuxiliaryPool(alloc)
	m0, m1 := handles.ModelID(0), handles.ModelID(1)
	for _, size := range []int{8, 16} {
		_, err := pool.Allocate(m0, 0, size)
		require.NoError(t, err)
	}
	_, err := pool.Allocate(m0, 1, 4)
	require.NoError(t, err)
	_, err = pool.Allocate(m1, 0, 4)
	require.NoError(t, err)

	objs := pool.List(m0, 0)
	require.Len(t, objs, 2)
	assert.Equal(t, 8, objs[0].Size)
	assert.Equal(t, 32, pool.TotalBytes())

	require.NoError(t, pool.Release(m0, 0))
	assert.Empty(t, pool.List(m0, 0))
	assert.Equal(t, 2, alloc.Live())

	require.NoError(t, pool.ReleaseModel(m0))
	assert.Equal(t, 1, alloc.Live())
	assert.Len(t, pool.List(m1, 0), 1)

	// Freeing a single object, already released objects are ignored.
	obj, err := pool.Allocate(m1, 0, 8)
	require.NoError(t, err)
	require.NoError(t, pool.Free(m1, 0, obj))
	assert.Len(t, pool.List(m1, 0), 1)
	assert.Equal(t, 1, alloc.Live())
	require.NoError(t, pool.Free(m1, 0, obj))
	require.NoError(t, pool.ReleaseModel(m1))
	require.NoError(t, pool.Free(m1, 0, obj))
	assert.Zero(t, alloc.Live())
	assert.Zero(t, pool.TotalBytes())
}
