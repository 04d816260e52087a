// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package binding implements the registry binding caller-supplied memory objects to the memory regions of
// registered models.
//
// For each model the registry holds N independently resettable execution sets, created by Generate.
// An execution set maps every region of the model to at most one memory object. Once every region is
// bound (Verify), the set can be resolved into a BufferTable consumed by the execution scheduler.
//
// A region is the unit the hardware allocates, so a memory object must always cover a whole region:
// binding through a descriptor that only views part of a region is rejected as a partial update.
// Re-binding an already bound region fails as well: a set never changes an accepted binding until it is
// cleared or regenerated.
//
// All methods are safe for concurrent use.
package binding

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/buffers"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/handles"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/regions"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/status"
	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

// Generation identifies one execution set instance: every set created by Generate gets a new one, so a
// BufferTable resolved from a set that was later cleared or regenerated can be told apart.
type Generation uint64

// auxObject is a memory object allocated from an AuxiliaryPool by BindExtRegions.
type auxObject struct {
	pool *buffers.AuxiliaryPool
	obj  *buffers.MemoryObject
}

// executionSet holds the memory object bound to each region, indexed by region index.
type executionSet struct {
	generation Generation
	objects    []*buffers.MemoryObject
	bound      int

	// aux objects are released back to their pool when the set is dropped.
	aux []auxObject
}

// releaseAux frees the framework-allocated objects of the dropped sets.
func releaseAux(id handles.ModelID, sets []*executionSet) {
	for index, set := range sets {
		if set == nil {
			continue
		}
		for _, aux := range set.aux {
			if err := aux.pool.Free(id, handles.SessionID(index), aux.obj); err != nil {
				klog.Warningf("%s: failed to release auxiliary buffer of execution set %d: %+v", id, index, err)
			}
		}
	}
}

// modelBindings is the binding state of one registered model.
type modelBindings struct {
	// table is immutable, and can be read without holding mu.
	table *regions.Table

	mu sync.Mutex
	// sets[i] is nil if the set was cleared or never generated.
	sets []*executionSet
}

// Registry of models and their execution sets.
type Registry struct {
	mu     sync.RWMutex
	models map[handles.ModelID]*modelBindings

	lastGeneration atomic.Uint64
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[handles.ModelID]*modelBindings)}
}

// RegisterModel stores the region layout of the model. Registering an id again replaces its table and
// drops all of its execution sets.
func (r *Registry) RegisterModel(id handles.ModelID, table *regions.Table) error {
	if table == nil {
		return status.Errorf(status.ErrInvalidArgument, "RegisterModel(%s): nil region table", id)
	}
	r.mu.Lock()
	prev, found := r.models[id]
	r.models[id] = &modelBindings{table: table}
	r.mu.Unlock()
	if found {
		klog.V(1).Infof("RegisterModel(%s): replacing previous registration", id)
		prev.drop(id)
	}
	klog.V(1).Infof("Registered %s: %d regions, %s", id, table.NumRegions(), humanize.IBytes(uint64(table.TotalSize())))
	return nil
}

// UnregisterModel drops the model and all its execution sets.
func (r *Registry) UnregisterModel(id handles.ModelID) error {
	r.mu.Lock()
	m, found := r.models[id]
	delete(r.models, id)
	r.mu.Unlock()
	if !found {
		return status.Errorf(status.ErrInvalidHandle, "UnregisterModel(%s): model not registered", id)
	}
	m.drop(id)
	return nil
}

// drop every execution set of the model.
func (m *modelBindings) drop(id handles.ModelID) {
	m.mu.Lock()
	sets := m.sets
	m.sets = nil
	m.mu.Unlock()
	releaseAux(id, sets)
}

// Table returns the region table of a registered model.
func (r *Registry) Table(id handles.ModelID) (*regions.Table, error) {
	m, err := r.model(id)
	if err != nil {
		return nil, err
	}
	return m.table, nil
}

func (r *Registry) model(id handles.ModelID) (*modelBindings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, found := r.models[id]
	if !found {
		return nil, status.Errorf(status.ErrInvalidHandle, "%s not registered", id)
	}
	return m, nil
}

// Generate creates n fresh, fully unbound execution sets for the model, indexed 0 to n-1.
//
// Previously generated sets are discarded, regardless of n: bindings are never carried over, and the
// auxiliary buffers BindExtRegions allocated for them are released.
func (r *Registry) Generate(id handles.ModelID, n int) error {
	if n <= 0 {
		return status.Errorf(status.ErrInvalidArgument, "Generate(%s, %d): number of execution sets must be positive", id, n)
	}
	m, err := r.model(id)
	if err != nil {
		return err
	}
	sets := make([]*executionSet, n)
	for ii := range sets {
		sets[ii] = &executionSet{
			generation: Generation(r.lastGeneration.Add(1)),
			objects:    make([]*buffers.MemoryObject, m.table.NumRegions()),
		}
	}
	m.mu.Lock()
	prev := m.sets
	m.sets = sets
	m.mu.Unlock()
	releaseAux(id, prev)
	klog.V(1).Infof("Generated %d execution sets for %s", n, id)
	return nil
}

// NumSets returns the number of execution sets last generated for the model, including cleared ones.
func (r *Registry) NumSets(id handles.ModelID) (int, error) {
	m, err := r.model(id)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sets), nil
}

// lockedSet returns the execution set at index, validating it exists.
// It must be called with m.mu held.
func (m *modelBindings) lockedSet(id handles.ModelID, index int) (*executionSet, error) {
	if index < 0 || index >= len(m.sets) {
		return nil, status.Errorf(status.ErrInvalidHandle, "%s: execution set index %d out of range [0, %d)", id, index, len(m.sets))
	}
	set := m.sets[index]
	if set == nil {
		return nil, status.Errorf(status.ErrNotGenerated, "%s: execution set %d was cleared", id, index)
	}
	return set, nil
}

// BindByName binds obj to the region of the descriptor with the given name, in execution set index.
func (r *Registry) BindByName(id handles.ModelID, index int, name string, obj *buffers.MemoryObject) error {
	m, err := r.model(id)
	if err != nil {
		return err
	}
	desc, found := m.table.DescriptorByName(name)
	if !found {
		return status.Errorf(status.ErrInvalidArgument, "%s has no buffer named %q", id, name)
	}
	return m.bind(id, index, desc, obj, nil)
}

// BindByDirection binds obj to the region of the descriptor selected by its direction and index within
// that direction, in execution set index.
func (r *Registry) BindByDirection(id handles.ModelID, index int, dir regions.Direction, dirIndex int, obj *buffers.MemoryObject) error {
	m, err := r.model(id)
	if err != nil {
		return err
	}
	desc, found := m.table.DescriptorByDirection(dir, dirIndex)
	if !found {
		return status.Errorf(status.ErrInvalidArgument, "%s has no %s[%d] buffer", id, dir, dirIndex)
	}
	return m.bind(id, index, desc, obj, nil)
}

// bind validates the binding of obj through desc and records it. On failure the set is left untouched.
// If pool is given, obj was allocated from it and is released with the set.
func (m *modelBindings) bind(id handles.ModelID, index int, desc regions.Descriptor, obj *buffers.MemoryObject, pool *buffers.AuxiliaryPool) error {
	if obj == nil {
		return status.Errorf(status.ErrInvalidArgument, "%s: nil memory object for %s", id, desc)
	}
	region, _ := m.table.Region(desc.RegionIndex)
	switch {
	case desc.Offset != 0:
		return status.Errorf(status.ErrPartialUpdate, "%s: %s starts at offset %d of %s", id, desc, desc.Offset, region)
	case obj.Size != desc.Size:
		return status.Errorf(status.ErrSizeMismatch, "%s: %s for %s", id, obj, desc)
	case desc.Size != region.RequiredSize:
		return status.Errorf(status.ErrPartialUpdate, "%s: %s only covers %d bytes of %s", id, desc, desc.Size, region)
	case obj.Size != region.RequiredSize:
		return status.Errorf(status.ErrSizeMismatch, "%s: %s for %s", id, obj, region)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	set, err := m.lockedSet(id, index)
	if err != nil {
		return err
	}
	if prev := set.objects[region.Index]; prev != nil {
		return status.Errorf(status.ErrAlreadyBound, "%s: execution set %d, %s already bound to %s", id, index, region, prev)
	}
	set.objects[region.Index] = obj
	set.bound++
	if pool != nil {
		set.aux = append(set.aux, auxObject{pool: pool, obj: obj})
	}
	klog.V(2).Infof("%s: execution set %d, bound %s to %s", id, index, obj, region)
	return nil
}

// Verify checks that every region of execution set index has a memory object bound.
func (r *Registry) Verify(id handles.ModelID, index int) error {
	m, err := r.model(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, err := m.lockedSet(id, index)
	if err != nil {
		return err
	}
	return set.verify(id, index, m.table)
}

func (set *executionSet) verify(id handles.ModelID, index int, table *regions.Table) error {
	if set.bound == len(set.objects) {
		return nil
	}
	for ii, obj := range set.objects {
		if obj == nil {
			region, _ := table.Region(ii)
			return status.Errorf(status.ErrIncompleteSet, "%s: execution set %d has %d of %d regions bound, %s is missing",
				id, index, set.bound, len(set.objects), region)
		}
	}
	return nil
}

// Bound returns how many regions of execution set index are bound.
func (r *Registry) Bound(id handles.ModelID, index int) (int, error) {
	m, err := r.model(id)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, err := m.lockedSet(id, index)
	if err != nil {
		return 0, err
	}
	return set.bound, nil
}

// Resolve returns the BufferTable of execution set index. It fails if Verify would fail.
func (r *Registry) Resolve(id handles.ModelID, index int) (BufferTable, error) {
	bt, _, err := r.ResolveGeneration(id, index)
	return bt, err
}

// ResolveGeneration is like Resolve, and also returns the generation of the set, to be checked later
// with CheckGeneration.
func (r *Registry) ResolveGeneration(id handles.ModelID, index int) (BufferTable, Generation, error) {
	m, err := r.model(id)
	if err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, err := m.lockedSet(id, index)
	if err != nil {
		return nil, 0, err
	}
	if err = set.verify(id, index, m.table); err != nil {
		return nil, 0, err
	}
	return newBufferTable(set.objects), set.generation, nil
}

// CheckGeneration returns nil if execution set index is still the set of the given generation, that is,
// it wasn't cleared or regenerated since it was resolved. A complete set never changes its bindings, so a
// BufferTable resolved from it remains valid as long as this check passes.
func (r *Registry) CheckGeneration(id handles.ModelID, index int, generation Generation) error {
	m, err := r.model(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, err := m.lockedSet(id, index)
	if err != nil {
		return err
	}
	if set.generation != generation {
		return status.Errorf(status.ErrNotGenerated, "%s: execution set %d was regenerated", id, index)
	}
	return nil
}

// Clear drops the bindings of execution set index, releasing its auxiliary buffers. Binding to a cleared
// set fails until Generate is called again.
func (r *Registry) Clear(id handles.ModelID, index int) error {
	m, err := r.model(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	set, err := m.lockedSet(id, index)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.sets[index] = nil
	m.mu.Unlock()

	dropped := make([]*executionSet, index+1)
	dropped[index] = set
	releaseAux(id, dropped)
	return nil
}

// ClearAll drops the bindings of every execution set of the model.
func (r *Registry) ClearAll(id handles.ModelID) error {
	m, err := r.model(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	dropped := slices.Clone(m.sets)
	clear(m.sets)
	m.mu.Unlock()
	releaseAux(id, dropped)
	return nil
}
