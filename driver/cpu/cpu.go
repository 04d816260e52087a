// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cpu implements a reference driver running the operator graph on host memory.
//
// It is registered as "cpu". Its configuration is a comma-separated list of options:
//
//   - "workers=N": maximum number of jobs executing at the same time. 0 runs jobs inline in a goroutine per
//     job, -1 removes the limit. Default is runtime.NumCPU().
package cpu

import (
	"strconv"
	"strings"
	"sync"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/driver"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/graph"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/handles"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/internal/workerspool"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/regions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DriverName to be used in the configuration to select this driver.
const DriverName = "cpu"

func init() {
	driver.Register(DriverName, func(config string) (driver.Driver, error) {
		return New(config)
	})
}

type preparedModel struct {
	graph *graph.Graph
	table *regions.Table
}

// Driver executes jobs on the CPU.
type Driver struct {
	pool *workerspool.Pool

	mu        sync.RWMutex
	models    map[handles.ModelID]preparedModel
	finalized bool
}

// Compile-time check.
var _ driver.Driver = (*Driver)(nil)

// New returns a new CPU driver configured by config (see package documentation).
func New(config string) (*Driver, error) {
	d := &Driver{
		pool:   workerspool.New(),
		models: make(map[handles.ModelID]preparedModel),
	}
	for _, option := range strings.Split(config, ",") {
		option = strings.TrimSpace(option)
		if option == "" {
			continue
		}
		key, value, _ := strings.Cut(option, "=")
		switch key {
		case "workers":
			workers, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.Wrapf(err, "cpu driver: invalid workers value %q", value)
			}
			d.pool.SetMaxParallelism(workers)
		default:
			return nil, errors.Errorf("cpu driver: unknown configuration option %q in %q", key, config)
		}
	}
	klog.V(1).Infof("cpu driver created with max parallelism %d", d.pool.MaxParallelism())
	return d, nil
}

// Name implements driver.Driver.
func (d *Driver) Name() string { return DriverName }

// Prepare implements driver.Driver.
func (d *Driver) Prepare(model handles.ModelID, g *graph.Graph, table *regions.Table) error {
	if g == nil || table == nil {
		return errors.Errorf("cpu driver: Prepare(%s) requires a graph and a region table", model)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.finalized {
		return errors.New("cpu driver: already finalized")
	}
	d.models[model] = preparedModel{graph: g, table: table}
	return nil
}

// Submit implements driver.Driver.
func (d *Driver) Submit(job *driver.Job) (driver.Completion, error) {
	d.mu.RLock()
	finalized := d.finalized
	prepared, found := d.models[job.Model]
	d.mu.RUnlock()
	if finalized {
		return nil, errors.New("cpu driver: already finalized")
	}
	if !found {
		return nil, errors.Errorf("cpu driver: %s was not prepared", job.Model)
	}
	if job.Graph == nil {
		job.Graph = prepared.graph
	}
	if job.Table == nil {
		job.Table = prepared.table
	}
	if len(job.Buffers) != job.Table.NumRegions() {
		return nil, errors.Errorf("cpu driver: %s/%s submitted with %d buffers, model has %d regions",
			job.Model, job.Session, len(job.Buffers), job.Table.NumRegions())
	}

	signal := driver.NewSignal()
	d.pool.Submit(func() {
		err := execute(job)
		if err != nil {
			klog.Warningf("cpu driver: %s/%s failed: %+v", job.Model, job.Session, err)
		}
		signal.Finish(err)
	})
	return signal, nil
}

// Release implements driver.Driver.
func (d *Driver) Release(model handles.ModelID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.models, model)
}

// Finalize implements driver.Driver.
func (d *Driver) Finalize() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finalized = true
	clear(d.models)
}
