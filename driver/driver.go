// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package driver defines the interface to the accelerator drivers that execute a model's operator graph
// against a resolved BufferTable.
//
// There are no process-wide driver instances: drivers register a Constructor, and every call to New or
// NewWithConfig returns a fresh handle, which is then passed explicitly to the scheduler. This allows
// several drivers (or test doubles) to coexist.
package driver

import (
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/binding"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/graph"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/handles"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/regions"
	"github.com/pkg/errors"
)

// Job is one execution of a model, submitted by the scheduler.
type Job struct {
	Model   handles.ModelID
	Session handles.SessionID
	Graph   *graph.Graph
	Table   *regions.Table
	Buffers binding.BufferTable
}

// Driver is the API an accelerator driver implements.
type Driver interface {
	// Name returns the short name of the driver. E.g.: "cpu".
	Name() string

	// Prepare is called when a model is opened, before any of its jobs is submitted.
	// It can be called again for the same model id, replacing the previous graph.
	Prepare(model handles.ModelID, g *graph.Graph, table *regions.Table) error

	// Submit starts the job asynchronously and returns without waiting for it.
	// An error means the driver rejected the job outright and nothing was started.
	// Failures during the execution are reported by Completion.Wait.
	Submit(job *Job) (Completion, error)

	// Release frees the resources associated to the model. Jobs already submitted still complete.
	Release(model handles.ModelID)

	// Finalize releases all the associated resources immediately, and makes the driver invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Driver.
type Constructor func(config string) (Driver, error)

var (
	muRegistry             sync.Mutex
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register driver with the given name, and a constructor that takes as input a configuration string that is
// passed along to the driver.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List returns the names of the registered drivers, sorted.
func List() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig is the default driver configuration to use if ENN_DRIVER is not set.
var DefaultConfig string

// EnvDriver is the environment variable with the default driver configuration to use.
//
// The format of config is "<driver_name>:<driver_configuration>".
const EnvDriver = "ENN_DRIVER"

// New returns a new default Driver.
//
// The default is:
//
// 1. The environment ENN_DRIVER is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered driver is used with an empty configuration.
func New() (Driver, error) {
	if config, found := os.LookupEnv(EnvDriver); found {
		return NewWithConfig(config)
	}
	return NewWithConfig(DefaultConfig)
}

// NewWithConfig takes a configurations string formated as "<driver_name>:<driver_configuration>".
// The "<driver_name>" is the name of a registered driver (e.g.: "cpu") and "<driver_configuration>"
// is driver specific (e.g.: "workers=4" for the cpu driver).
func NewWithConfig(config string) (Driver, error) {
	muRegistry.Lock()
	if len(registeredConstructors) == 0 {
		muRegistry.Unlock()
		return nil, errors.New(`no registered drivers -- maybe import the CPU one with import _ "github.com/AaronZLT/CL-EDEN-kernel-sub009/driver/cpu"?`)
	}
	driverName := firstRegistered
	driverConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		driverName = config[:idx]
		driverConfig = config[idx+1:]
	} else if _, found := registeredConstructors[config]; found {
		driverName = config
		driverConfig = ""
	}
	constructor, found := registeredConstructors[driverName]
	muRegistry.Unlock()
	if !found {
		return nil, errors.Errorf("can't find driver %q for configuration %q given", driverName, config)
	}
	d, err := constructor(driverConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating driver %q", driverName)
	}
	return d, nil
}
