package binding

import (
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/buffers"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/regions"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/status"
)

// Entry of a BufferTable: the memory object bound to one region.
type Entry struct {
	RegionIndex int
	Address     uintptr
	FD          int
	Size        int
	Offset      int

	// Object is the bound memory object the other fields were copied from.
	Object *buffers.MemoryObject
}

// BufferTable maps each region index to the memory object bound to it. It is the flat view of a
// verified execution set the accelerator drivers consume.
type BufferTable []Entry

func newBufferTable(objects []*buffers.MemoryObject) BufferTable {
	bt := make(BufferTable, len(objects))
	for ii, obj := range objects {
		bt[ii] = Entry{
			RegionIndex: ii,
			Address:     obj.Address,
			FD:          obj.FD,
			Size:        obj.Size,
			Offset:      obj.Offset,
			Object:      obj,
		}
	}
	return bt
}

// View returns the host bytes of the descriptor: the slice of its region's memory object between
// desc.Offset and desc.Offset+desc.Size.
func (bt BufferTable) View(desc regions.Descriptor) ([]byte, error) {
	if desc.RegionIndex < 0 || desc.RegionIndex >= len(bt) {
		return nil, status.Errorf(status.ErrInvalidHandle, "%s: region not in buffer table of %d regions", desc, len(bt))
	}
	data, err := bt[desc.RegionIndex].Object.Bytes()
	if err != nil {
		return nil, err
	}
	if desc.Offset+desc.Size > len(data) {
		return nil, status.Errorf(status.ErrSizeMismatch, "%s doesn't fit in %d bytes", desc, len(data))
	}
	return data[desc.Offset : desc.Offset+desc.Size], nil
}

// TotalSize returns the sum of the sizes of the entries.
func (bt BufferTable) TotalSize() int {
	total := 0
	for _, e := range bt {
		total += e.Size
	}
	return total
}
