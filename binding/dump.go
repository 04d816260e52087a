package binding

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/handles"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DumpFileName returns the name of the dump file of one region:
// "<prefix>_exec<model_id>_index<region_index>_offset<region_offset>.dump".
func DumpFileName(prefix string, id handles.ModelID, regionIndex, regionOffset int) string {
	return fmt.Sprintf("%s_exec%d_index%d_offset%d.dump", prefix, uint32(id), regionIndex, regionOffset)
}

// Dump writes the content of each region of execution set index to its own file, for offline verification.
//
// The offset in each file name is the offset of the region in the stream formed by concatenating all
// regions in index order. It returns the paths of the files written. The execution set must be complete
// and every memory object must have a host mapping.
func (r *Registry) Dump(id handles.ModelID, index int, prefix string) ([]string, error) {
	bt, err := r.Resolve(id, index)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(prefix); dir != "" {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create dump directory %q", dir)
		}
	}
	paths := make([]string, 0, len(bt))
	offset := 0
	for _, entry := range bt {
		data, err := entry.Object.Bytes()
		if err != nil {
			return paths, err
		}
		path := DumpFileName(prefix, id, entry.RegionIndex, offset)
		if err = os.WriteFile(path, data, 0o644); err != nil {
			return paths, errors.Wrapf(err, "failed to dump region %d of %s", entry.RegionIndex, id)
		}
		paths = append(paths, path)
		offset += entry.Size
	}
	klog.V(1).Infof("Dumped %d regions (%s) of %s, execution set %d, to %q", len(paths),
		humanize.IBytes(uint64(offset)), id, index, prefix)
	return paths, nil
}
