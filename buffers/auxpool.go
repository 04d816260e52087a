package buffers

import (
	"slices"
	"sync"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/handles"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type groupKey struct {
	model   handles.ModelID
	session handles.SessionID
}

// AuxiliaryPool tracks the memory objects the framework allocated for the EXT regions of a
// (model, session), so they can be listed and released as a group.
type AuxiliaryPool struct {
	allocator Allocator

	mu     sync.Mutex
	groups map[groupKey][]*MemoryObject
}

// NewAuxiliaryPool returns a pool allocating from the given allocator.
func NewAuxiliaryPool(allocator Allocator) *AuxiliaryPool {
	return &AuxiliaryPool{
		allocator: allocator,
		groups:    make(map[groupKey][]*MemoryObject),
	}
}

// Allocate a memory object of size bytes for the (model, session) group.
func (p *AuxiliaryPool) Allocate(model handles.ModelID, session handles.SessionID, size int) (*MemoryObject, error) {
	obj, err := p.allocator.Allocate(size)
	if err != nil {
		return nil, errors.WithMessagef(err, "auxiliary buffer for %s/%s", model, session)
	}
	key := groupKey{model, session}
	p.mu.Lock()
	p.groups[key] = append(p.groups[key], obj)
	p.mu.Unlock()
	klog.V(2).Infof("Auxiliary buffer for %s/%s: %s", model, session, obj)
	return obj, nil
}

// List returns the objects allocated for the (model, session) group, in allocation order.
func (p *AuxiliaryPool) List(model handles.ModelID, session handles.SessionID) []*MemoryObject {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*MemoryObject(nil), p.groups[groupKey{model, session}]...)
}

// Release frees every object of the (model, session) group.
// It returns the first error from the allocator, but attempts to free all objects regardless.
func (p *AuxiliaryPool) Release(model handles.ModelID, session handles.SessionID) error {
	key := groupKey{model, session}
	p.mu.Lock()
	objs := p.groups[key]
	delete(p.groups, key)
	p.mu.Unlock()
	return p.free(objs)
}

// Free releases a single object of the (model, session) group. Objects no longer in the group, because
// the group was already released, are ignored.
func (p *AuxiliaryPool) Free(model handles.ModelID, session handles.SessionID, obj *MemoryObject) error {
	key := groupKey{model, session}
	p.mu.Lock()
	group := p.groups[key]
	idx := slices.Index(group, obj)
	if idx < 0 {
		p.mu.Unlock()
		return nil
	}
	group = slices.Delete(group, idx, idx+1)
	if len(group) == 0 {
		delete(p.groups, key)
	} else {
		p.groups[key] = group
	}
	p.mu.Unlock()
	return p.allocator.Free(obj)
}

// ReleaseModel frees the objects of every session of the model.
func (p *AuxiliaryPool) ReleaseModel(model handles.ModelID) error {
	var objs []*MemoryObject
	p.mu.Lock()
	for key, group := range p.groups {
		if key.model == model {
			objs = append(objs, group...)
			delete(p.groups, key)
		}
	}
	p.mu.Unlock()
	if len(objs) > 0 {
		klog.V(1).Infof("Releasing %d auxiliary buffers (%s) of %s", len(objs), humanize.IBytes(uint64(totalSize(objs))), model)
	}
	return p.free(objs)
}

// TotalBytes returns the number of bytes currently held by the pool.
func (p *AuxiliaryPool) TotalBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, group := range p.groups {
		total += totalSize(group)
	}
	return total
}

func (p *AuxiliaryPool) free(objs []*MemoryObject) error {
	var firstErr error
	for _, obj := range objs {
		if err := p.allocator.Free(obj); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func totalSize(objs []*MemoryObject) int {
	total := 0
	for _, obj := range objs {
		total += obj.Size
	}
	return total
}
