// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package regions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/status"
	cbor "github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// Format of a serialized region table.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
	FormatCBOR
)

// String implements fmt.Stringer.
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	case FormatCBOR:
		return "cbor"
	}
	return "unknown"
}

// FormatFromPath infers the format from the file extension: ".json", ".yaml"/".yml" or ".cbor".
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cbor":
		return FormatCBOR, nil
	}
	return 0, status.Errorf(status.ErrInvalidArgument, "can't infer region table format from file name %q", path)
}

// tableFile is the serialized form of the parser contract.
type tableFile struct {
	Regions     []regionFile     `json:"regions" yaml:"regions" cbor:"regions"`
	Descriptors []descriptorFile `json:"descriptors" yaml:"descriptors" cbor:"descriptors"`
}

type regionFile struct {
	Index        int    `json:"index" yaml:"index" cbor:"index"`
	Name         string `json:"name" yaml:"name" cbor:"name"`
	RequiredSize int    `json:"required_size" yaml:"required_size" cbor:"required_size"`
	Attributes   uint32 `json:"attributes,omitempty" yaml:"attributes,omitempty" cbor:"attributes,omitempty"`
}

type descriptorFile struct {
	RegionIndex    int    `json:"region_index" yaml:"region_index" cbor:"region_index"`
	Direction      string `json:"direction" yaml:"direction" cbor:"direction"`
	DirectionIndex int    `json:"direction_index" yaml:"direction_index" cbor:"direction_index"`
	Offset         int    `json:"offset" yaml:"offset" cbor:"offset"`
	Size           int    `json:"size" yaml:"size" cbor:"size"`
	Name           string `json:"name" yaml:"name" cbor:"name"`
}

// Encode serializes the table in the given format.
func Encode(t *Table, format Format) ([]byte, error) {
	var f tableFile
	for _, r := range t.regions {
		f.Regions = append(f.Regions, regionFile(r))
	}
	for _, d := range t.descriptors {
		f.Descriptors = append(f.Descriptors, descriptorFile{
			RegionIndex:    d.RegionIndex,
			Direction:      d.Direction.String(),
			DirectionIndex: d.DirectionIndex,
			Offset:         d.Offset,
			Size:           d.Size,
			Name:           d.Name,
		})
	}
	switch format {
	case FormatJSON:
		return json.MarshalIndent(&f, "", "  ")
	case FormatYAML:
		return yaml.Marshal(&f)
	case FormatCBOR:
		encMode, err := cbor.CanonicalEncOptions().EncMode()
		if err != nil {
			return nil, errors.Wrap(err, "failed to create CBOR encoder")
		}
		return encMode.Marshal(&f)
	}
	return nil, status.Errorf(status.ErrInvalidArgument, "unknown region table format %d", int(format))
}

// Decode parses a serialized table and validates it with NewTable.
func Decode(data []byte, format Format) (*Table, error) {
	var f tableFile
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &f)
	case FormatYAML:
		err = yaml.Unmarshal(data, &f)
	case FormatCBOR:
		err = cbor.Unmarshal(data, &f)
	default:
		return nil, status.Errorf(status.ErrInvalidArgument, "unknown region table format %d", int(format))
	}
	if err != nil {
		return nil, status.Errorf(status.ErrInvalidArgument, "failed to parse %s region table: %v", format, err)
	}
	var config Config
	for _, r := range f.Regions {
		config.Regions = append(config.Regions, Region(r))
	}
	for _, d := range f.Descriptors {
		dir, err := ParseDirection(d.Direction)
		if err != nil {
			return nil, errors.WithMessagef(err, "descriptor %q", d.Name)
		}
		config.Descriptors = append(config.Descriptors, Descriptor{
			RegionIndex:    d.RegionIndex,
			Direction:      dir,
			DirectionIndex: d.DirectionIndex,
			Offset:         d.Offset,
			Size:           d.Size,
			Name:           d.Name,
		})
	}
	return NewTable(config)
}

// Load reads a region table from a file, with the format inferred from its extension.
func Load(path string) (*Table, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read region table from %q", path)
	}
	t, err := Decode(data, format)
	if err != nil {
		return nil, errors.WithMessagef(err, "region table %q", path)
	}
	klog.V(1).Infof("Loaded region table from %q: %d regions, %d descriptors", path, t.NumRegions(), len(t.descriptors))
	return t, nil
}

// Save writes the table to a file, with the format inferred from its extension.
func Save(t *Table, path string) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	data, err := Encode(t, format)
	if err != nil {
		return err
	}
	if err = os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write region table to %q", path)
	}
	return nil
}
