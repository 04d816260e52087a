package binding

import (
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/buffers"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/handles"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/internal/sets"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/regions"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ListExtRegions returns the distinct indices, in ascending order, of the regions viewed by EXT
// descriptors of the model. The execution set index must exist.
func (r *Registry) ListExtRegions(id handles.ModelID, index int) ([]int, error) {
	m, err := r.model(id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	_, err = m.lockedSet(id, index)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return extRegions(m.table), nil
}

func extRegions(table *regions.Table) []int {
	ext := sets.Make[int]()
	for _, d := range table.Descriptors() {
		if d.Direction == regions.DirExt {
			ext.Insert(d.RegionIndex)
		}
	}
	return sets.Sorted(ext)
}

// UnboundExtRegions is like ListExtRegions, but only returns the regions still unbound in execution set index.
func (r *Registry) UnboundExtRegions(id handles.ModelID, index int) ([]int, error) {
	m, err := r.model(id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, err := m.lockedSet(id, index)
	if err != nil {
		return nil, err
	}
	var unbound []int
	for _, regionIdx := range extRegions(m.table) {
		if set.objects[regionIdx] == nil {
			unbound = append(unbound, regionIdx)
		}
	}
	return unbound, nil
}

// BindExtRegions allocates, from pool, memory for every EXT region still unbound in execution set index
// and binds it. The objects are grouped in the pool under (id, index), and are released back to it when
// the execution set is cleared or regenerated, or the model unregistered.
//
// A region bound concurrently by another caller is skipped. It returns the number of regions bound.
func (r *Registry) BindExtRegions(pool *buffers.AuxiliaryPool, id handles.ModelID, index int) (int, error) {
	unbound, err := r.UnboundExtRegions(id, index)
	if err != nil {
		return 0, err
	}
	m, err := r.model(id)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, regionIdx := range unbound {
		region, _ := m.table.Region(regionIdx)
		obj, err := pool.Allocate(id, handles.SessionID(index), region.RequiredSize)
		if err != nil {
			return count, err
		}
		err = m.bindRegion(id, index, region, obj, pool)
		if err == nil {
			count++
			continue
		}
		if freeErr := pool.Free(id, handles.SessionID(index), obj); freeErr != nil {
			klog.Warningf("%s: failed to release unused auxiliary buffer %s: %+v", id, obj, freeErr)
		}
		if status.Of(err) == status.AlreadyBound {
			continue
		}
		return count, errors.WithMessagef(err, "binding auxiliary buffer to %s", region)
	}
	return count, nil
}

// bindRegion binds obj to the region directly, bypassing descriptors.
func (m *modelBindings) bindRegion(id handles.ModelID, index int, region regions.Region, obj *buffers.MemoryObject,
	pool *buffers.AuxiliaryPool) error {
	return m.bind(id, index, regions.Descriptor{
		RegionIndex: region.Index,
		Direction:   regions.DirExt,
		Size:        region.RequiredSize,
		Name:        region.Name,
	}, obj, pool)
}
