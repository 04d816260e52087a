package graph

import (
	"testing"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/regions"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/status"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTable has 4 float32 vectors of 4 elements.
func testTable(t *testing.T) *regions.Table {
	table, err := regions.NewTable(regions.Config{
		Regions: []regions.Region{
			{Index: 0, Name: "a", RequiredSize: 16},
			{Index: 1, Name: "b", RequiredSize: 16},
			{Index: 2, Name: "tmp", RequiredSize: 16},
			{Index: 3, Name: "out", RequiredSize: 16},
		},
		Descriptors: []regions.Descriptor{
			{RegionIndex: 0, Direction: regions.DirIn, DirectionIndex: 0, Size: 16, Name: "a"},
			{RegionIndex: 1, Direction: regions.DirIn, DirectionIndex: 1, Size: 16, Name: "b"},
			{RegionIndex: 2, Direction: regions.DirExt, DirectionIndex: 0, Size: 16, Name: "tmp"},
			{RegionIndex: 3, Direction: regions.DirOut, DirectionIndex: 0, Size: 16, Name: "out"},
		},
	})
	require.NoError(t, err)
	return table
}

func testConfig() Config {
	vec := func(id TensorID, name string) Tensor {
		return Tensor{ID: id, Name: name, DType: dtypes.Float32, Shape: []int{4}, Descriptor: name}
	}
	return Config{
		Tensors: []Tensor{vec(0, "a"), vec(1, "b"), vec(2, "tmp"), vec(3, "out")},
		// Operators listed out of topological order on purpose.
		Operators: []Operator{
			{ID: 0, Type: OpRelu, Inputs: []TensorID{2}, Outputs: []TensorID{3}},
			{ID: 1, Type: OpAdd, Inputs: []TensorID{0, 1}, Outputs: []TensorID{2}},
		},
	}
}

func TestNew(t *testing.T) {
	g, err := New(testConfig(), testTable(t))
	require.NoError(t, err)
	assert.Equal(t, 4, g.NumTensors())
	assert.Equal(t, 2, g.NumOperators())
	assert.Equal(t, []OperatorID{1, 0}, g.TopologicalOrder())
	assert.Equal(t, OperatorID(0), g.Next(1))
	assert.Equal(t, NoOperator, g.Next(0))
	assert.Equal(t, OperatorID(1), g.Producer(2))
	assert.Equal(t, NoOperator, g.Producer(0))
	assert.Equal(t, []OperatorID{0}, g.Consumers(2))
	assert.Equal(t, []TensorID{0, 1}, g.Inputs())
	assert.Equal(t, []TensorID{3}, g.Outputs())
	assert.Equal(t, 16, g.Tensor(3).Bytes())
}

func TestNewErrors(t *testing.T) {
	for name, mutate := range map[string]func(c *Config){
		"unknown descriptor": func(c *Config) { c.Tensors[0].Descriptor = "nope" },
		"size mismatch":      func(c *Config) { c.Tensors[0].Shape = []int{2} },
		"bad tensor id":      func(c *Config) { c.Tensors[1].ID = 5 },
		"bad arity":          func(c *Config) { c.Operators[1].Inputs = []TensorID{0} },
		"unknown input":      func(c *Config) { c.Operators[0].Inputs = []TensorID{9} },
		"two producers":      func(c *Config) { c.Operators[0].Outputs = []TensorID{2} },
		"cycle": func(c *Config) {
			// tmp = a + out, out = relu(tmp)
			c.Operators[1].Inputs = []TensorID{0, 3}
		},
	} {
		t.Run(name, func(t *testing.T) {
			c := testConfig()
			mutate(&c)
			_, err := New(c, testTable(t))
			require.Error(t, err)
			assert.Equal(t, status.InvalidArgument, status.Of(err))
		})
	}
}
