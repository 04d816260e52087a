// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpu

import (
	"encoding/binary"
	"math"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/driver"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/graph"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// execute runs the operators of the job in topological order.
func execute(job *driver.Job) error {
	g := job.Graph
	views := make([][]byte, g.NumTensors())
	view := func(id graph.TensorID) ([]byte, error) {
		if views[id] != nil {
			return views[id], nil
		}
		t := g.Tensor(id)
		desc, found := job.Table.DescriptorByName(t.Descriptor)
		if !found {
			return nil, errors.Errorf("tensor %q stored in unknown buffer %q", t.Name, t.Descriptor)
		}
		b, err := job.Buffers.View(desc)
		if err != nil {
			return nil, errors.WithMessagef(err, "tensor %q", t.Name)
		}
		views[id] = b
		return b, nil
	}

	for _, opID := range g.TopologicalOrder() {
		op := g.Operator(opID)
		out := g.Tensor(op.Outputs[0])
		outData, err := view(out.ID)
		if err != nil {
			return err
		}
		var inputs [2][]byte
		var inDTypes [2]dtypes.DType
		for ii, in := range op.Inputs {
			if inputs[ii], err = view(in); err != nil {
				return err
			}
			inDTypes[ii] = g.Tensor(in).DType
		}
		if err = checkDType(out.DType); err != nil {
			return errors.WithMessagef(err, "operator #%d (%s)", opID, op.Type)
		}
		for ii := range op.Inputs {
			if err = checkDType(inDTypes[ii]); err != nil {
				return errors.WithMessagef(err, "operator #%d (%s)", opID, op.Type)
			}
		}

		for idx := range out.Size() {
			x := load(inDTypes[0], inputs[0], idx)
			var y float32
			if len(op.Inputs) > 1 {
				y = load(inDTypes[1], inputs[1], idx)
			}
			var v float32
			switch op.Type {
			case graph.OpCopy:
				v = x
			case graph.OpAdd:
				v = x + y
			case graph.OpSub:
				v = x - y
			case graph.OpMul:
				v = x * y
			case graph.OpRelu:
				v = max(x, 0)
			case graph.OpScale:
				v = x * op.Scale
			default:
				return errors.Errorf("cpu driver: operator #%d has unsupported type %s", opID, op.Type)
			}
			store(out.DType, outData, idx, v)
		}
	}
	return nil
}

func checkDType(dtype dtypes.DType) error {
	switch dtype {
	case dtypes.Float32, dtypes.Float16:
		return nil
	}
	return errors.Errorf("cpu driver: dtype %s not supported", dtype)
}

// load the element idx of a little-endian flat buffer as float32.
func load(dtype dtypes.DType, data []byte, idx int) float32 {
	if dtype == dtypes.Float16 {
		return float16.Frombits(binary.LittleEndian.Uint16(data[2*idx:])).Float32()
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(data[4*idx:]))
}

// store v as the element idx of a little-endian flat buffer.
func store(dtype dtypes.DType, data []byte, idx int, v float32) {
	if dtype == dtypes.Float16 {
		binary.LittleEndian.PutUint16(data[2*idx:], float16.Fromfloat32(v).Bits())
		return
	}
	binary.LittleEndian.PutUint32(data[4*idx:], math.Float32bits(v))
}
