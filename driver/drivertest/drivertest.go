// Package drivertest provides a programmable driver.Driver for tests.
package drivertest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/driver"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/graph"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/handles"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/internal/xsync"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/regions"
	"github.com/pkg/errors"
)

type sessionKey struct {
	model   handles.ModelID
	session handles.SessionID
}

// Fake is a driver that doesn't execute anything: jobs finish after Delay, or when Gate is triggered,
// with ExecErr. It records overlapping jobs of the same session, which the scheduler must never submit.
//
// Configure it before submitting jobs.
type Fake struct {
	// SubmitErr, if set, is returned by Submit: jobs are rejected outright.
	SubmitErr error

	// ExecErr, if set, is the error every job finishes with.
	ExecErr error

	// Delay of every job.
	Delay time.Duration

	// Gate, if set, holds every job until it is triggered.
	Gate *xsync.Latch

	// OnExecute, if set, is called with each job, in the job's goroutine, before it finishes.
	OnExecute func(job *driver.Job)

	mu        sync.Mutex
	prepared  map[handles.ModelID]bool
	inFlight  map[sessionKey]int
	finalized bool

	submitted, completed, overlaps atomic.Int64
}

// Compile-time check.
var _ driver.Driver = (*Fake)(nil)

// NewFake returns a Fake driver whose jobs complete immediately and successfully.
func NewFake() *Fake {
	return &Fake{
		prepared: make(map[handles.ModelID]bool),
		inFlight: make(map[sessionKey]int),
	}
}

// Name implements driver.Driver.
func (f *Fake) Name() string { return "fake" }

// Prepare implements driver.Driver.
func (f *Fake) Prepare(model handles.ModelID, _ *graph.Graph, _ *regions.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared[model] = true
	return nil
}

// Prepared returns whether the model was prepared and not released.
func (f *Fake) Prepared(model handles.ModelID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prepared[model]
}

// Submit implements driver.Driver.
func (f *Fake) Submit(job *driver.Job) (driver.Completion, error) {
	if f.SubmitErr != nil {
		return nil, f.SubmitErr
	}
	key := sessionKey{job.Model, job.Session}
	f.mu.Lock()
	if f.finalized || !f.prepared[job.Model] {
		f.mu.Unlock()
		return nil, errors.Errorf("fake driver: %s not prepared", job.Model)
	}
	f.inFlight[key]++
	if f.inFlight[key] > 1 {
		f.overlaps.Add(1)
	}
	f.mu.Unlock()
	f.submitted.Add(1)

	signal := driver.NewSignal()
	go func() {
		if f.Gate != nil {
			f.Gate.Wait()
		}
		if f.Delay > 0 {
			time.Sleep(f.Delay)
		}
		if f.OnExecute != nil {
			f.OnExecute(job)
		}
		f.mu.Lock()
		f.inFlight[key]--
		f.mu.Unlock()
		f.completed.Add(1)
		signal.Finish(f.ExecErr)
	}()
	return signal, nil
}

// Release implements driver.Driver.
func (f *Fake) Release(model handles.ModelID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prepared, model)
}

// Finalize implements driver.Driver.
func (f *Fake) Finalize() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = true
}

// Submitted returns the number of jobs accepted.
func (f *Fake) Submitted() int { return int(f.submitted.Load()) }

// Completed returns the number of jobs finished.
func (f *Fake) Completed() int { return int(f.completed.Load()) }

// Overlaps returns the number of jobs submitted while another job of the same session was in flight.
func (f *Fake) Overlaps() int { return int(f.overlaps.Load()) }
