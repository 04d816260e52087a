// Package buffers holds the memory objects bound to model regions, and the allocators the framework
// uses for the regions the caller doesn't supply itself.
package buffers

import (
	"fmt"
	"unsafe"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/status"
	"github.com/dustin/go-humanize"
)

// NoFD is the FD of memory objects without a file descriptor (plain host memory).
const NoFD = -1

// MemoryObject is a handle to memory owned by the caller (or by an Allocator), to be bound to a region.
//
// The binding registry only keeps a reference to it: it must outlive every execution that uses it,
// and it should not be mutated while an execution using it is running.
type MemoryObject struct {
	// Address is the virtual address of the first byte of the object.
	Address uintptr

	// Size in bytes.
	Size int

	// FD is the file descriptor of the shared memory (e.g. dma-buf) backing the object, or NoFD.
	FD int

	// Offset of the object within FD.
	Offset int

	// Data is the host mapping of the object, if there is one. It has at least Size bytes.
	Data []byte
}

// NewHostObject returns a MemoryObject for a host memory slice, with no file descriptor.
func NewHostObject(data []byte) *MemoryObject {
	obj := &MemoryObject{
		Size: len(data),
		FD:   NoFD,
		Data: data,
	}
	if len(data) > 0 {
		obj.Address = uintptr(unsafe.Pointer(unsafe.SliceData(data)))
	}
	return obj
}

// NewFDObject returns a MemoryObject for shared memory identified by a file descriptor.
// It has no host mapping, so its contents can't be dumped nor used by the CPU driver.
func NewFDObject(fd, size, offset int) *MemoryObject {
	return &MemoryObject{
		Size:   size,
		FD:     fd,
		Offset: offset,
	}
}

// Bytes returns the host mapping of the object, exactly Size bytes long.
func (m *MemoryObject) Bytes() ([]byte, error) {
	if len(m.Data) < m.Size {
		return nil, status.Errorf(status.ErrInvalidArgument,
			"%s has no host mapping (%d bytes mapped)", m, len(m.Data))
	}
	return m.Data[:m.Size], nil
}

// String implements fmt.Stringer.
func (m *MemoryObject) String() string {
	if m == nil {
		return "MemoryObject(nil)"
	}
	if m.FD == NoFD {
		return fmt.Sprintf("MemoryObject(addr=0x%x, %s)", m.Address, humanize.IBytes(uint64(m.Size)))
	}
	return fmt.Sprintf("MemoryObject(fd=%d+%d, %s)", m.FD, m.Offset, humanize.IBytes(uint64(m.Size)))
}
