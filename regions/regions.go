// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package regions describes the memory layout of a compiled model: the named contiguous memory regions
// the hardware allocates and the buffer descriptors, logical views with an offset and a size, that live
// inside them.
//
// A Table is produced once per model by the model parser and is immutable afterwards, so it can be shared
// across goroutines without locking.
package regions

import (
	"fmt"
	"strings"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/status"
	"github.com/dustin/go-humanize"
)

// Direction of a buffer descriptor with respect to the execution.
type Direction int

const (
	// DirNone is used by descriptors internal to the model (e.g.: weights).
	DirNone Direction = iota

	// DirIn marks a model input.
	DirIn

	// DirOut marks a model output.
	DirOut

	// DirExt marks a buffer external to the caller's inputs and outputs, usually scratch space
	// supplied by the framework.
	DirExt
)

var directionNames = [...]string{
	DirNone: "NONE",
	DirIn:   "IN",
	DirOut:  "OUT",
	DirExt:  "EXT",
}

// String implements fmt.Stringer.
func (d Direction) String() string {
	if d < 0 || int(d) >= len(directionNames) {
		return fmt.Sprintf("Direction(%d)", int(d))
	}
	return directionNames[d]
}

// ParseDirection converts the name returned by Direction.String (case-insensitive) back to a Direction.
func ParseDirection(name string) (Direction, error) {
	for d, n := range directionNames {
		if strings.EqualFold(n, name) {
			return Direction(d), nil
		}
	}
	return DirNone, status.Errorf(status.ErrInvalidArgument, "unknown buffer direction %q", name)
}

// Region is a contiguous block of memory required by a model.
// It is the unit of allocation: callers always supply memory for whole regions.
type Region struct {
	Index        int
	Name         string
	RequiredSize int
	Attributes   uint32
}

// String implements fmt.Stringer.
func (r Region) String() string {
	return fmt.Sprintf("region[%d] %q (%s)", r.Index, r.Name, humanize.IBytes(uint64(r.RequiredSize)))
}

// Descriptor is a named view into a region.
type Descriptor struct {
	RegionIndex    int
	Direction      Direction
	DirectionIndex int
	Offset, Size   int
	Name           string
}

// String implements fmt.Stringer.
func (d Descriptor) String() string {
	return fmt.Sprintf("buffer %q (%s[%d], region %d, offset=%d, size=%d)",
		d.Name, d.Direction, d.DirectionIndex, d.RegionIndex, d.Offset, d.Size)
}

// CoversRegion returns whether the descriptor spans the whole region r.
func (d Descriptor) CoversRegion(r Region) bool {
	return d.Offset == 0 && d.Size == r.RequiredSize
}

// Config holds the raw layout of a model as handed over by the parser.
// Regions may be given in any order: they are sorted by their index.
type Config struct {
	Regions     []Region
	Descriptors []Descriptor
}

type directionKey struct {
	dir   Direction
	index int
}

// Table is the validated, immutable region layout of a model.
type Table struct {
	regions     []Region
	descriptors []Descriptor
	byName      map[string]int
	byDirection map[directionKey]int
	totalSize   int
}

// NewTable validates the configuration and returns the corresponding Table.
//
// Region indices must be exactly 0...N-1 and every region must have a positive size.
// Descriptors must reference an existing region and fit in it, and both their names and their
// (direction, direction index) pairs must be unique -- DirNone descriptors are only looked up by name.
func NewTable(config Config) (*Table, error) {
	if len(config.Regions) == 0 {
		return nil, status.Errorf(status.ErrInvalidArgument, "region table has no regions")
	}
	t := &Table{
		regions:     make([]Region, len(config.Regions)),
		descriptors: make([]Descriptor, len(config.Descriptors)),
		byName:      make(map[string]int, len(config.Descriptors)),
		byDirection: make(map[directionKey]int, len(config.Descriptors)),
	}
	seen := make([]bool, len(config.Regions))
	for _, r := range config.Regions {
		if r.Index < 0 || r.Index >= len(config.Regions) {
			return nil, status.Errorf(status.ErrInvalidArgument,
				"region %q has index %d, expected indices in [0, %d)", r.Name, r.Index, len(config.Regions))
		}
		if seen[r.Index] {
			return nil, status.Errorf(status.ErrInvalidArgument, "duplicate region index %d", r.Index)
		}
		if r.RequiredSize <= 0 {
			return nil, status.Errorf(status.ErrInvalidArgument,
				"region %d (%q) has invalid required size %d", r.Index, r.Name, r.RequiredSize)
		}
		seen[r.Index] = true
		t.regions[r.Index] = r
		t.totalSize += r.RequiredSize
	}

	for ii, d := range config.Descriptors {
		if d.Name == "" {
			return nil, status.Errorf(status.ErrInvalidArgument, "descriptor #%d has no name", ii)
		}
		if d.RegionIndex < 0 || d.RegionIndex >= len(t.regions) {
			return nil, status.Errorf(status.ErrInvalidArgument,
				"%s references unknown region %d", d, d.RegionIndex)
		}
		if d.Direction < DirNone || d.Direction > DirExt {
			return nil, status.Errorf(status.ErrInvalidArgument, "%s has invalid direction", d)
		}
		region := t.regions[d.RegionIndex]
		if d.Offset < 0 || d.Size <= 0 || d.Offset+d.Size > region.RequiredSize {
			return nil, status.Errorf(status.ErrInvalidArgument,
				"%s doesn't fit in %s", d, region)
		}
		if _, found := t.byName[d.Name]; found {
			return nil, status.Errorf(status.ErrInvalidArgument, "duplicate descriptor name %q", d.Name)
		}
		t.byName[d.Name] = ii
		if d.Direction != DirNone {
			key := directionKey{d.Direction, d.DirectionIndex}
			if prev, found := t.byDirection[key]; found {
				return nil, status.Errorf(status.ErrInvalidArgument,
					"descriptors %q and %q are both %s[%d]", config.Descriptors[prev].Name, d.Name,
					d.Direction, d.DirectionIndex)
			}
			t.byDirection[key] = ii
		}
		t.descriptors[ii] = d
	}
	return t, nil
}

// NumRegions returns the number of regions of the model.
func (t *Table) NumRegions() int { return len(t.regions) }

// Region returns the region with the given index.
func (t *Table) Region(index int) (Region, bool) {
	if index < 0 || index >= len(t.regions) {
		return Region{}, false
	}
	return t.regions[index], true
}

// Regions returns a copy of the regions, in index order.
func (t *Table) Regions() []Region {
	return append([]Region(nil), t.regions...)
}

// Descriptors returns a copy of the descriptors, in the order given by the parser.
func (t *Table) Descriptors() []Descriptor {
	return append([]Descriptor(nil), t.descriptors...)
}

// DescriptorByName looks up a descriptor by its name.
func (t *Table) DescriptorByName(name string) (Descriptor, bool) {
	ii, found := t.byName[name]
	if !found {
		return Descriptor{}, false
	}
	return t.descriptors[ii], true
}

// DescriptorByDirection looks up a descriptor by its direction and index within that direction.
func (t *Table) DescriptorByDirection(dir Direction, index int) (Descriptor, bool) {
	ii, found := t.byDirection[directionKey{dir, index}]
	if !found {
		return Descriptor{}, false
	}
	return t.descriptors[ii], true
}

// TotalSize is the sum of the required sizes of all regions.
func (t *Table) TotalSize() int { return t.totalSize }

// String returns a multi-line description of the table.
func (t *Table) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d regions, %s total:\n", len(t.regions), humanize.IBytes(uint64(t.totalSize)))
	for _, r := range t.regions {
		fmt.Fprintf(&sb, "  %s\n", r)
		for _, d := range t.descriptors {
			if d.RegionIndex == r.Index {
				fmt.Fprintf(&sb, "    %s\n", d)
			}
		}
	}
	return sb.String()
}
