package binding

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/buffers"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/handles"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/regions"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtRegions(t *testing.T) {
	table, err := regions.NewTable(regions.Config{
		Regions: []regions.Region{
			{Index: 0, Name: "in", RequiredSize: 8},
			{Index: 1, Name: "scratch", RequiredSize: 64},
			{Index: 2, Name: "out", RequiredSize: 8},
			{Index: 3, Name: "workspace", RequiredSize: 32},
		},
		Descriptors: []regions.Descriptor{
			{RegionIndex: 0, Direction: regions.DirIn, Size: 8, Name: "in"},
			{RegionIndex: 3, Direction: regions.DirExt, DirectionIndex: 0, Size: 32, Name: "workspace"},
			{RegionIndex: 1, Direction: regions.DirExt, DirectionIndex: 1, Size: 64, Name: "scratch"},
			{RegionIndex: 1, Direction: regions.DirExt, DirectionIndex: 2, Offset: 32, Size: 32, Name: "scratch_hi"},
			{RegionIndex: 2, Direction: regions.DirOut, Size: 8, Name: "out"},
		},
	})
	require.NoError(t, err)
	r := NewRegistry()
	id := handles.ModelID(1)
	require.NoError(t, r.RegisterModel(id, table))
	require.NoError(t, r.Generate(id, 2))

	ext, err := r.ListExtRegions(id, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, ext)
	_, err = r.ListExtRegions(id, 2)
	assert.Equal(t, status.InvalidHandle, status.Of(err))

	require.NoError(t, r.BindByName(id, 0, "workspace", buffers.NewHostObject(make([]byte, 32))))
	unbound, err := r.UnboundExtRegions(id, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, unbound)

	alloc := buffers.NewHostAllocator()
	pool := buffers.NewAuxiliaryPool(alloc)
	n, err := r.BindExtRegions(pool, id, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 64, pool.TotalBytes(), "caller-bound regions are not allocated")
	n, err = r.BindExtRegions(pool, id, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, pool.List(id, 1), 2)

	// Only the caller's inputs and outputs are left.
	assert.Equal(t, status.IncompleteSet, status.Of(r.Verify(id, 0)))
	require.NoError(t, r.BindByDirection(id, 0, regions.DirIn, 0, buffers.NewHostObject(make([]byte, 8))))
	require.NoError(t, r.BindByDirection(id, 0, regions.DirOut, 0, buffers.NewHostObject(make([]byte, 8))))
	require.NoError(t, r.Verify(id, 0))

	// Auxiliary buffers go back to the pool with their execution set.
	assert.Equal(t, 32+64+64, pool.TotalBytes())
	require.NoError(t, r.Clear(id, 0))
	assert.Equal(t, 2*64, pool.TotalBytes())
	assert.Empty(t, pool.List(id, 0))
	require.NoError(t, pool.ReleaseModel(id))
	assert.Zero(t, alloc.Live())
	require.NoError(t, r.ClearAll(id), "objects already released by the pool are skipped")
	assert.Zero(t, alloc.Live())
}

// newExtRegistry registers model id with one input and two EXT regions, of 16 and 32 bytes.
func newExtRegistry(t *testing.T, id handles.ModelID) *Registry {
	table, err := regions.NewTable(regions.Config{
		Regions: []regions.Region{
			{Index: 0, Name: "in", RequiredSize: 8},
			{Index: 1, Name: "scratch0", RequiredSize: 16},
			{Index: 2, Name: "scratch1", RequiredSize: 32},
		},
		Descriptors: []regions.Descriptor{
			{RegionIndex: 0, Direction: regions.DirIn, Size: 8, Name: "in"},
			{RegionIndex: 1, Direction: regions.DirExt, DirectionIndex: 0, Size: 16, Name: "scratch0"},
			{RegionIndex: 2, Direction: regions.DirExt, DirectionIndex: 1, Size: 32, Name: "scratch1"},
		},
	})
	require.NoError(t, err)
	r := NewRegistry()
	require.NoError(t, r.RegisterModel(id, table))
	return r
}

func TestBindExtRegionsReleasesOnRegenerate(t *testing.T) {
	id := handles.ModelID(2)
	r := newExtRegistry(t, id)
	alloc := buffers.NewHostAllocator()
	pool := buffers.NewAuxiliaryPool(alloc)
	for range 3 {
		require.NoError(t, r.Generate(id, 2))
		for index := range 2 {
			n, err := r.BindExtRegions(pool, id, index)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
		}
		assert.Equal(t, 2*(16+32), pool.TotalBytes())
		assert.Equal(t, 4, alloc.Live())
	}

	// Fewer sets.
	require.NoError(t, r.Generate(id, 1))
	assert.Zero(t, pool.TotalBytes())
	assert.Zero(t, alloc.Live())
	_, err := r.BindExtRegions(pool, id, 0)
	require.NoError(t, err)

	// Re-registration and unregistration drop the sets too.
	table, err := r.Table(id)
	require.NoError(t, err)
	require.NoError(t, r.RegisterModel(id, table))
	assert.Zero(t, alloc.Live())
	require.NoError(t, r.Generate(id, 1))
	_, err = r.BindExtRegions(pool, id, 0)
	require.NoError(t, err)
	require.NoError(t, r.UnregisterModel(id))
	assert.Zero(t, alloc.Live())
	assert.Zero(t, pool.TotalBytes())
}

func TestBindExtRegionsConcurrently(t *testing.T) {
	id := handles.ModelID(2)
	r := newExtRegistry(t, id)
	alloc := buffers.NewHostAllocator()
	pool := buffers.NewAuxiliaryPool(alloc)
	require.NoError(t, r.Generate(id, 1))

	// Callers racing on the same set bind each region exactly once, and nothing they allocated leaks.
	const numCallers = 8
	var wg sync.WaitGroup
	var total atomic.Int64
	for range numCallers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := r.BindExtRegions(pool, id, 0)
			if err != nil {
				t.Errorf("BindExtRegions: %+v", err)
				return
			}
			total.Add(int64(n))
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(2), total.Load())
	assert.Equal(t, 16+32, pool.TotalBytes())
	assert.Equal(t, 2, alloc.Live())
	assert.Len(t, pool.List(id, 0), 2)

	unbound, err := r.UnboundExtRegions(id, 0)
	require.NoError(t, err)
	assert.Empty(t, unbound)
	n, err := r.BindExtRegions(pool, id, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// hookedAllocator calls onAllocate before every allocation.
type hookedAllocator struct {
	buffers.Allocator
	onAllocate func(size int)
}

func (a *hookedAllocator) Allocate(size int) (*buffers.MemoryObject, error) {
	if a.onAllocate != nil {
		a.onAllocate(size)
	}
	return a.Allocator.Allocate(size)
}

func TestBindExtRegionsFailure(t *testing.T) {
	id := handles.ModelID(2)
	r := newExtRegistry(t, id)
	alloc := buffers.NewHostAllocator()
	hooked := &hookedAllocator{Allocator: alloc}
	pool := buffers.NewAuxiliaryPool(hooked)
	require.NoError(t, r.Generate(id, 1))

	// scratch0 gets bound by the caller while its auxiliary buffer is being allocated: the buffer is
	// returned and the region skipped.
	callerObj := buffers.NewHostObject(make([]byte, 16))
	hooked.onAllocate = func(size int) {
		if size == 16 {
			require.NoError(t, r.BindByName(id, 0, "scratch0", callerObj))
		}
	}
	n, err := r.BindExtRegions(pool, id, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 32, pool.TotalBytes())
	assert.Equal(t, 1, alloc.Live())
	require.NoError(t, r.BindByName(id, 0, "in", buffers.NewHostObject(make([]byte, 8))))
	bt, err := r.Resolve(id, 0)
	require.NoError(t, err)
	assert.Equal(t, callerObj.Address, bt[1].Address)

	// The set is cleared while allocating: nothing allocated stays behind.
	require.NoError(t, r.Generate(id, 1))
	assert.Zero(t, alloc.Live())
	hooked.onAllocate = func(int) { require.NoError(t, r.Clear(id, 0)) }
	_, err = r.BindExtRegions(pool, id, 0)
	assert.Equal(t, status.NotGenerated, status.Of(err))
	assert.Zero(t, alloc.Live())
	assert.Zero(t, pool.TotalBytes())

	// Cleared before the call: nothing is allocated at all.
	hooked.onAllocate = func(int) { t.Error("unexpected allocation") }
	_, err = r.BindExtRegions(pool, id, 0)
	assert.Equal(t, status.NotGenerated, status.Of(err))
}
