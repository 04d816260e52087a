// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package buffers

import (
	"sync"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/status"
	"github.com/pkg/errors"
)

// Allocator provides memory objects the framework owns.
type Allocator interface {
	// Allocate returns a zeroed memory object of exactly size bytes.
	Allocate(size int) (*MemoryObject, error)

	// Free returns the object to the allocator. The object must not be used afterwards.
	Free(obj *MemoryObject) error
}

// HostAllocator allocates host memory, recycling freed objects of the same size.
type HostAllocator struct {
	pools sync.Map // size -> *sync.Pool

	mu   sync.Mutex
	live map[*MemoryObject]struct{}
}

// Compile-time check.
var _ Allocator = (*HostAllocator)(nil)

// NewHostAllocator returns a new HostAllocator.
func NewHostAllocator() *HostAllocator {
	return &HostAllocator{live: make(map[*MemoryObject]struct{})}
}

// getPool for the given size.
func (a *HostAllocator) getPool(size int) *sync.Pool {
	pool, ok := a.pools.Load(size)
	if !ok {
		pool, _ = a.pools.LoadOrStore(size, &sync.Pool{
			New: func() any {
				return NewHostObject(make([]byte, size))
			},
		})
	}
	return pool.(*sync.Pool)
}

// Allocate implements Allocator.
func (a *HostAllocator) Allocate(size int) (*MemoryObject, error) {
	if size <= 0 {
		return nil, status.Errorf(status.ErrInvalidArgument, "can't allocate %d bytes", size)
	}
	obj := a.getPool(size).Get().(*MemoryObject)
	clear(obj.Data)
	a.mu.Lock()
	a.live[obj] = struct{}{}
	a.mu.Unlock()
	return obj, nil
}

// Free implements Allocator.
func (a *HostAllocator) Free(obj *MemoryObject) error {
	a.mu.Lock()
	_, found := a.live[obj]
	delete(a.live, obj)
	a.mu.Unlock()
	if !found {
		return errors.Errorf("HostAllocator.Free(%s): object not allocated here, or already freed", obj)
	}
	a.getPool(obj.Size).Put(obj)
	return nil
}

// Live returns the number of allocated objects not yet freed.
func (a *HostAllocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}
