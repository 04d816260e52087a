// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package engine ties the pieces of the runtime together for one driver: it registers parsed models in the
// binding registry, prepares them on the driver and hands out their model ids.
//
// Example:
//
//	drv := must.M1(driver.New())
//	e := engine.New(drv)
//	defer e.Finalize()
//	id, err := e.OpenModel(table, graphConfig)
//	...
//	err = e.Scheduler().GenerateBufferSpace(id, numSessions)
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/binding"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/buffers"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/driver"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/graph"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/handles"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/internal/sets"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/regions"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/scheduler"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Engine owns the registry, auxiliary buffer pool and scheduler of one driver.
type Engine struct {
	drv       driver.Driver
	allocator buffers.Allocator
	registry  *binding.Registry
	auxPool   *buffers.AuxiliaryPool
	sched     *scheduler.Scheduler

	nextID atomic.Uint32

	mu        sync.Mutex
	open      sets.Set[handles.ModelID]
	finalized bool
}

// Option configures an Engine.
type Option func(e *Engine)

// WithAllocator sets the allocator of the framework-owned (EXT) buffers. The default is a
// buffers.HostAllocator.
func WithAllocator(allocator buffers.Allocator) Option {
	return func(e *Engine) {
		e.allocator = allocator
	}
}

// New returns an Engine executing on drv.
func New(drv driver.Driver, options ...Option) *Engine {
	e := &Engine{
		drv:      drv,
		registry: binding.NewRegistry(),
		open:     sets.Make[handles.ModelID](),
	}
	for _, option := range options {
		option(e)
	}
	if e.allocator == nil {
		e.allocator = buffers.NewHostAllocator()
	}
	e.auxPool = buffers.NewAuxiliaryPool(e.allocator)
	e.sched = scheduler.New(e.registry, drv, scheduler.WithAuxiliaryPool(e.auxPool))
	return e
}

// Driver returns the driver of the engine.
func (e *Engine) Driver() driver.Driver { return e.drv }

// Registry returns the binding registry, where callers bind their memory objects.
func (e *Engine) Registry() *binding.Registry { return e.registry }

// Scheduler returns the scheduler driving the sessions of the opened models.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.sched }

// AuxiliaryPool returns the pool of framework-allocated buffers.
func (e *Engine) AuxiliaryPool() *buffers.AuxiliaryPool { return e.auxPool }

// OpenModel registers a parsed model, with its region table and operator graph, and prepares it on the
// driver. Model ids are assigned in increasing order, starting at 1, and never reused.
func (e *Engine) OpenModel(table *regions.Table, config graph.Config) (handles.ModelID, error) {
	if table == nil {
		return 0, status.Errorf(status.ErrInvalidArgument, "OpenModel: nil region table")
	}
	g, err := graph.New(config, table)
	if err != nil {
		return 0, errors.WithMessage(err, "OpenModel")
	}
	return e.OpenGraph(table, g)
}

// OpenGraph is like OpenModel, for an already validated graph.
func (e *Engine) OpenGraph(table *regions.Table, g *graph.Graph) (handles.ModelID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		return 0, status.Errorf(status.ErrInvalidHandle, "OpenModel: engine finalized")
	}
	id := handles.ModelID(e.nextID.Add(1))
	if err := e.registry.RegisterModel(id, table); err != nil {
		return 0, err
	}
	if err := e.sched.OpenModel(id, g); err != nil {
		_ = e.registry.UnregisterModel(id)
		return 0, err
	}
	e.open.Insert(id)
	return id, nil
}

// CloseModel waits for the running sessions of the model and releases everything it holds.
func (e *Engine) CloseModel(id handles.ModelID) error {
	e.mu.Lock()
	if !e.open.Has(id) {
		e.mu.Unlock()
		return status.Errorf(status.ErrInvalidHandle, "CloseModel(%s): model not opened", id)
	}
	delete(e.open, id)
	e.mu.Unlock()
	return e.sched.CloseModel(id)
}

// Models returns the ids of the opened models, in increasing order.
func (e *Engine) Models() []handles.ModelID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sets.Sorted(e.open)
}

// Finalize closes every opened model and finalizes the driver. The engine can't be used afterwards.
func (e *Engine) Finalize() {
	e.mu.Lock()
	if e.finalized {
		e.mu.Unlock()
		return
	}
	e.finalized = true
	ids := sets.Sorted(e.open)
	e.open = sets.Make[handles.ModelID]()
	e.mu.Unlock()

	for _, id := range ids {
		if err := e.sched.CloseModel(id); err != nil {
			klog.Warningf("Finalize: failed to close %s: %+v", id, err)
		}
	}
	e.drv.Finalize()
	klog.V(1).Infof("Engine on driver %q finalized", e.drv.Name())
}
