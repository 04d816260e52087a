// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph holds the operator graph of a compiled model.
//
// Operators and tensors are stored in flat slices and reference each other by integer ids, so there are no
// pointer cycles between a tensor and the operators producing and consuming it: following the graph is
// always an id lookup.
package graph

import (
	"fmt"
	"slices"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/regions"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/status"
	"github.com/gomlx/gopjrt/dtypes"
)

// TensorID is the index of a tensor in the graph.
type TensorID int

// OperatorID is the index of an operator in the graph.
type OperatorID int

// NoOperator is returned as the producer of graph inputs.
const NoOperator OperatorID = -1

// OpType enumerates the operators the reference drivers know how to run.
type OpType int

const (
	OpCopy OpType = iota
	OpAdd
	OpSub
	OpMul
	OpRelu
	OpScale
)

var opTypeNames = [...]string{
	OpCopy:  "Copy",
	OpAdd:   "Add",
	OpSub:   "Sub",
	OpMul:   "Mul",
	OpRelu:  "Relu",
	OpScale: "Scale",
}

// String implements fmt.Stringer.
func (op OpType) String() string {
	if op < 0 || int(op) >= len(opTypeNames) {
		return fmt.Sprintf("OpType(%d)", int(op))
	}
	return opTypeNames[op]
}

// NumInputs returns the number of inputs the operator takes.
func (op OpType) NumInputs() int {
	switch op {
	case OpAdd, OpSub, OpMul:
		return 2
	default:
		return 1
	}
}

// Tensor is a typed, shaped value stored in the memory described by a buffer descriptor.
type Tensor struct {
	ID    TensorID
	Name  string
	DType dtypes.DType
	Shape []int

	// Descriptor is the name of the buffer descriptor holding the tensor data.
	Descriptor string
}

// Size returns the number of elements of the tensor.
func (t Tensor) Size() int {
	size := 1
	for _, dim := range t.Shape {
		size *= dim
	}
	return size
}

// Bytes returns the memory used by the tensor.
func (t Tensor) Bytes() int {
	return t.Size() * t.DType.Size()
}

// Operator reads its input tensors and writes its single output tensor.
type Operator struct {
	ID      OperatorID
	Type    OpType
	Inputs  []TensorID
	Outputs []TensorID

	// Scale is the multiplier used by OpScale.
	Scale float32
}

// Config lists the tensors and operators of a graph. The ID of each element must match its position.
type Config struct {
	Tensors   []Tensor
	Operators []Operator
}

// Graph is a validated, immutable operator graph.
type Graph struct {
	tensors   []Tensor
	operators []Operator
	producer  []OperatorID
	consumers [][]OperatorID
	order     []OperatorID
	position  []int // Position of each operator in order.
}

// New validates the configuration against the model's region table and returns the Graph.
//
// Every tensor must be stored in a descriptor of the table with exactly its size in bytes, every tensor
// can have at most one producer, and the graph must be acyclic.
func New(config Config, table *regions.Table) (*Graph, error) {
	g := &Graph{
		tensors:   slices.Clone(config.Tensors),
		operators: slices.Clone(config.Operators),
		producer:  make([]OperatorID, len(config.Tensors)),
		consumers: make([][]OperatorID, len(config.Tensors)),
	}
	for ii, t := range g.tensors {
		if int(t.ID) != ii {
			return nil, status.Errorf(status.ErrInvalidArgument, "tensor %q at position %d has id %d", t.Name, ii, t.ID)
		}
		if t.DType.Size() <= 0 {
			return nil, status.Errorf(status.ErrInvalidArgument, "tensor %q has unsupported dtype %s", t.Name, t.DType)
		}
		desc, found := table.DescriptorByName(t.Descriptor)
		if !found {
			return nil, status.Errorf(status.ErrInvalidArgument, "tensor %q stored in unknown buffer %q", t.Name, t.Descriptor)
		}
		if t.Bytes() != desc.Size {
			return nil, status.Errorf(status.ErrInvalidArgument,
				"tensor %q (%s%v) takes %d bytes, but %s has %d bytes", t.Name, t.DType, t.Shape, t.Bytes(), desc, desc.Size)
		}
		g.producer[ii] = NoOperator
	}

	validTensor := func(id TensorID) bool { return id >= 0 && int(id) < len(g.tensors) }
	for ii, op := range g.operators {
		if int(op.ID) != ii {
			return nil, status.Errorf(status.ErrInvalidArgument, "operator %s at position %d has id %d", op.Type, ii, op.ID)
		}
		if len(op.Inputs) != op.Type.NumInputs() || len(op.Outputs) != 1 {
			return nil, status.Errorf(status.ErrInvalidArgument, "operator #%d (%s) has %d inputs and %d outputs, wanted %d and 1",
				ii, op.Type, len(op.Inputs), len(op.Outputs), op.Type.NumInputs())
		}
		out := op.Outputs[0]
		if !validTensor(out) {
			return nil, status.Errorf(status.ErrInvalidArgument, "operator #%d (%s) outputs unknown tensor %d", ii, op.Type, out)
		}
		if g.producer[out] != NoOperator {
			return nil, status.Errorf(status.ErrInvalidArgument, "tensor %q produced by operators #%d and #%d",
				g.tensors[out].Name, g.producer[out], ii)
		}
		g.producer[out] = op.ID
		for _, in := range op.Inputs {
			if !validTensor(in) {
				return nil, status.Errorf(status.ErrInvalidArgument, "operator #%d (%s) reads unknown tensor %d", ii, op.Type, in)
			}
			if g.tensors[in].Size() != g.tensors[out].Size() {
				return nil, status.Errorf(status.ErrInvalidArgument, "operator #%d (%s): input %q and output %q sizes differ",
					ii, op.Type, g.tensors[in].Name, g.tensors[out].Name)
			}
			if !slices.Contains(g.consumers[in], op.ID) {
				g.consumers[in] = append(g.consumers[in], op.ID)
			}
		}
	}
	if err := g.sort(); err != nil {
		return nil, err
	}
	return g, nil
}

// sort operators topologically (Kahn's algorithm, ties broken by operator id).
func (g *Graph) sort() error {
	pending := make([]int, len(g.operators))
	var ready []OperatorID
	for ii, op := range g.operators {
		for _, in := range op.Inputs {
			if g.producer[in] != NoOperator {
				pending[ii]++
			}
		}
		if pending[ii] == 0 {
			ready = append(ready, op.ID)
		}
	}
	g.order = make([]OperatorID, 0, len(g.operators))
	for len(ready) > 0 {
		slices.Sort(ready)
		opID := ready[0]
		ready = ready[1:]
		g.order = append(g.order, opID)
		out := g.operators[opID].Outputs[0]
		for _, consumer := range g.consumers[out] {
			// An operator may read the same tensor twice.
			for _, in := range g.operators[consumer].Inputs {
				if in == out {
					pending[consumer]--
				}
			}
			if pending[consumer] == 0 {
				ready = append(ready, consumer)
			}
		}
	}
	if len(g.order) != len(g.operators) {
		return status.Errorf(status.ErrInvalidArgument, "operator graph has a cycle")
	}
	g.position = make([]int, len(g.operators))
	for pos, opID := range g.order {
		g.position[opID] = pos
	}
	return nil
}

// NumTensors in the graph.
func (g *Graph) NumTensors() int { return len(g.tensors) }

// NumOperators in the graph.
func (g *Graph) NumOperators() int { return len(g.operators) }

// Tensor returns the tensor with the given id. It panics if id is out of range.
func (g *Graph) Tensor(id TensorID) Tensor { return g.tensors[id] }

// Operator returns the operator with the given id. It panics if id is out of range.
func (g *Graph) Operator(id OperatorID) Operator { return g.operators[id] }

// Producer returns the operator writing the tensor, or NoOperator for graph inputs.
func (g *Graph) Producer(id TensorID) OperatorID { return g.producer[id] }

// Consumers returns the operators reading the tensor.
func (g *Graph) Consumers(id TensorID) []OperatorID { return slices.Clone(g.consumers[id]) }

// TopologicalOrder returns the operators ids in an order where every operator comes after the
// producers of its inputs.
func (g *Graph) TopologicalOrder() []OperatorID { return slices.Clone(g.order) }

// Next returns the operator following op in topological order, or NoOperator if op is the last one.
func (g *Graph) Next(op OperatorID) OperatorID {
	pos := g.position[op] + 1
	if pos >= len(g.order) {
		return NoOperator
	}
	return g.order[pos]
}

// Inputs returns the tensors not produced by any operator.
func (g *Graph) Inputs() []TensorID {
	var ids []TensorID
	for ii, p := range g.producer {
		if p == NoOperator {
			ids = append(ids, TensorID(ii))
		}
	}
	return ids
}

// Outputs returns the tensors produced by an operator and not consumed by any.
func (g *Graph) Outputs() []TensorID {
	var ids []TensorID
	for ii, p := range g.producer {
		if p != NoOperator && len(g.consumers[ii]) == 0 {
			ids = append(ids, TensorID(ii))
		}
	}
	return ids
}
