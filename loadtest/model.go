package loadtest

import (
	"encoding/binary"
	"math"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/graph"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/regions"
	"github.com/gomlx/gopjrt/dtypes"
)

// OutputScale is the factor applied by the last operator of the demo model.
const OutputScale = 0.5

// DemoModel returns the region table and graph of the model used by the load test, on vectors of
// numElements float32 values:
//
//	sum = a + b      (EXT)
//	act = relu(sum)  (EXT)
//	out = act * 0.5
//
// The inputs "a" and "b" and the output "out" are bound by the caller, the two intermediate values live in
// framework-allocated (EXT) regions.
func DemoModel(numElements int) (*regions.Table, graph.Config, error) {
	size := numElements * dtypes.Float32.Size()
	names := []string{"a", "b", "sum", "act", "out"}
	directions := []regions.Direction{regions.DirIn, regions.DirIn, regions.DirExt, regions.DirExt, regions.DirOut}
	var (
		tableConfig regions.Config
		graphConfig graph.Config
		dirCount    = make(map[regions.Direction]int)
	)
	for ii, name := range names {
		dir := directions[ii]
		tableConfig.Regions = append(tableConfig.Regions, regions.Region{Index: ii, Name: name, RequiredSize: size})
		tableConfig.Descriptors = append(tableConfig.Descriptors, regions.Descriptor{
			RegionIndex:    ii,
			Direction:      dir,
			DirectionIndex: dirCount[dir],
			Size:           size,
			Name:           name,
		})
		dirCount[dir]++
		graphConfig.Tensors = append(graphConfig.Tensors, graph.Tensor{
			ID:         graph.TensorID(ii),
			Name:       name,
			DType:      dtypes.Float32,
			Shape:      []int{numElements},
			Descriptor: name,
		})
	}
	graphConfig.Operators = []graph.Operator{
		{ID: 0, Type: graph.OpAdd, Inputs: []graph.TensorID{0, 1}, Outputs: []graph.TensorID{2}},
		{ID: 1, Type: graph.OpRelu, Inputs: []graph.TensorID{2}, Outputs: []graph.TensorID{3}},
		{ID: 2, Type: graph.OpScale, Inputs: []graph.TensorID{3}, Outputs: []graph.TensorID{4}, Scale: OutputScale},
	}
	table, err := regions.NewTable(tableConfig)
	if err != nil {
		return nil, graph.Config{}, err
	}
	return table, graphConfig, nil
}

// Expected output of the demo model for one element.
func Expected(a, b float32) float32 {
	return max(a+b, 0) * OutputScale
}

// FillInputs writes deterministic inputs for the given seed, about half of them yielding negative sums.
func FillInputs(a, b []byte, seed int) {
	for ii := range len(a) / 4 {
		putFloat32(a, ii, float32((seed+ii)%17)-8)
		putFloat32(b, ii, 0.25*float32((3*seed+ii)%11)-1)
	}
}

// CheckOutputs returns the number of output elements differing from Expected by more than tolerance.
func CheckOutputs(a, b, out []byte, tolerance float64) (mismatches int) {
	for ii := range len(out) / 4 {
		want := Expected(getFloat32(a, ii), getFloat32(b, ii))
		if math.Abs(float64(getFloat32(out, ii)-want)) > tolerance {
			mismatches++
		}
	}
	return
}

func putFloat32(data []byte, idx int, v float32) {
	binary.LittleEndian.PutUint32(data[4*idx:], math.Float32bits(v))
}

func getFloat32(data []byte, idx int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(data[4*idx:]))
}
