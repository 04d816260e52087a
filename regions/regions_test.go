package regions

import (
	"testing"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Regions: []Region{
			{Index: 1, Name: "output", RequiredSize: 40},
			{Index: 0, Name: "input", RequiredSize: 20},
		},
		Descriptors: []Descriptor{
			{RegionIndex: 0, Direction: DirIn, DirectionIndex: 0, Offset: 0, Size: 20, Name: "in0"},
			{RegionIndex: 1, Direction: DirOut, DirectionIndex: 0, Offset: 0, Size: 40, Name: "out0"},
			{RegionIndex: 1, Direction: DirNone, Offset: 8, Size: 8, Name: "out0_view"},
		},
	}
}

func TestNewTable(t *testing.T) {
	table, err := NewTable(testConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, table.NumRegions())
	assert.Equal(t, 60, table.TotalSize())

	r, ok := table.Region(0)
	require.True(t, ok)
	assert.Equal(t, "input", r.Name)
	_, ok = table.Region(2)
	assert.False(t, ok)

	byName, ok := table.DescriptorByName("out0")
	require.True(t, ok)
	byDir, ok := table.DescriptorByDirection(DirOut, 0)
	require.True(t, ok)
	assert.Equal(t, byName, byDir)
	assert.True(t, byName.CoversRegion(table.regions[1]))

	view, ok := table.DescriptorByName("out0_view")
	require.True(t, ok)
	assert.False(t, view.CoversRegion(table.regions[1]))
	_, ok = table.DescriptorByDirection(DirNone, 0)
	assert.False(t, ok, "DirNone descriptors are only reachable by name")
	assert.Contains(t, table.String(), "out0_view")
}

func TestNewTableErrors(t *testing.T) {
	for name, mutate := range map[string]func(c *Config){
		"no regions":           func(c *Config) { c.Regions = nil },
		"zero size":            func(c *Config) { c.Regions[0].RequiredSize = 0 },
		"duplicate index":      func(c *Config) { c.Regions[0].Index = 0 },
		"index out of range":   func(c *Config) { c.Regions[0].Index = 5 },
		"unknown region":       func(c *Config) { c.Descriptors[0].RegionIndex = 3 },
		"overflowing view":     func(c *Config) { c.Descriptors[2].Offset = 36 },
		"duplicate name":       func(c *Config) { c.Descriptors[2].Name = "in0" },
		"duplicate direction":  func(c *Config) { c.Descriptors[1].Direction = DirIn },
		"empty name":           func(c *Config) { c.Descriptors[0].Name = "" },
		"negative offset":      func(c *Config) { c.Descriptors[2].Offset = -1 },
		"invalid direction id": func(c *Config) { c.Descriptors[0].Direction = Direction(9) },
	} {
		t.Run(name, func(t *testing.T) {
			c := testConfig()
			mutate(&c)
			_, err := NewTable(c)
			require.Error(t, err)
			assert.Equal(t, status.InvalidArgument, status.Of(err))
		})
	}
}

func TestParseDirection(t *testing.T) {
	for _, d := range []Direction{DirNone, DirIn, DirOut, DirExt} {
		parsed, err := ParseDirection(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	}
	got, err := ParseDirection("ext")
	require.NoError(t, err)
	assert.Equal(t, DirExt, got)
	_, err = ParseDirection("sideways")
	require.Error(t, err)
}
