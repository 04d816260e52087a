// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scheduler implements the execution slot scheduler: a fixed pool of sessions per model, each one
// independently committed, executed asynchronously and waited on.
//
// A session goes through the states
//
//	Unallocated -> BufferSpaceReady -> Committed -> Running -> Completed -> Committed -> ...
//
// Session i executes with execution set i of the binding registry. Calls on the same session must be
// ordered by the caller (Commit, ExecuteAsync, Wait): out of order or overlapping calls are rejected, never
// queued. Distinct sessions are fully independent and may be driven concurrently from different goroutines.
package scheduler

import (
	"sync"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/binding"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/buffers"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/driver"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/graph"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/handles"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/regions"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// session is one execution slot.
type session struct {
	id handles.SessionID

	mu         sync.Mutex
	state      State
	waiting    bool // A goroutine is blocked in Wait.
	buffers    binding.BufferTable
	generation binding.Generation // Of the execution set buffers was resolved from.
	completion driver.Completion
	executions int
}

// modelSlots is the scheduling state of one opened model.
type modelSlots struct {
	id    handles.ModelID
	graph *graph.Graph
	table *regions.Table

	// mu protects the sessions slice: it is held for reading while driving a session, and for writing
	// while the slice is replaced or the model closed.
	mu       sync.RWMutex
	sessions []*session
	closed   bool
}

// Scheduler drives the sessions of the models opened on one driver.
type Scheduler struct {
	registry *binding.Registry
	driver   driver.Driver
	auxPool  *buffers.AuxiliaryPool

	mu     sync.RWMutex
	models map[handles.ModelID]*modelSlots
}

// Option configures a Scheduler.
type Option func(s *Scheduler)

// WithAuxiliaryPool sets the pool holding the framework-allocated buffers of the models: whatever the binding
// registry didn't already release is released when the model is closed.
func WithAuxiliaryPool(pool *buffers.AuxiliaryPool) Option {
	return func(s *Scheduler) {
		s.auxPool = pool
	}
}

// New returns a Scheduler executing the bindings of registry on the given driver.
func New(registry *binding.Registry, drv driver.Driver, options ...Option) *Scheduler {
	s := &Scheduler{
		registry: registry,
		driver:   drv,
		models:   make(map[handles.ModelID]*modelSlots),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Driver returns the driver the scheduler submits to.
func (s *Scheduler) Driver() driver.Driver { return s.driver }

// OpenModel prepares a model, already registered in the binding registry, for execution with the operator graph g.
//
// Opening an already opened model replaces its graph and drops its sessions, as long as none is running.
// The previous sessions are closed: calls still holding them fail with ErrInvalidHandle.
func (s *Scheduler) OpenModel(id handles.ModelID, g *graph.Graph) error {
	table, err := s.registry.Table(id)
	if err != nil {
		return err
	}
	if g == nil {
		return status.Errorf(status.ErrInvalidArgument, "OpenModel(%s): nil graph", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, found := s.models[id]
	if found {
		// Held until prev is closed, so no session can start running in between.
		prev.mu.Lock()
		defer prev.mu.Unlock()
		if err = prev.lockedCheckIdle(); err != nil {
			return err
		}
	}
	if err = s.driver.Prepare(id, g, table); err != nil {
		return errors.WithMessagef(err, "driver %q failed to prepare %s", s.driver.Name(), id)
	}
	if found {
		prev.closed = true
		prev.sessions = nil
	}
	s.models[id] = &modelSlots{id: id, graph: g, table: table}
	klog.V(1).Infof("Opened %s on driver %q: %d operators, %d regions", id, s.driver.Name(), g.NumOperators(), table.NumRegions())
	return nil
}

// lockedCheckIdle returns ErrSessionBusy if any session of the model is running.
// It must be called with m.mu held.
func (m *modelSlots) lockedCheckIdle() error {
	for _, sess := range m.sessions {
		sess.mu.Lock()
		running := sess.state == Running
		sess.mu.Unlock()
		if running {
			return status.Errorf(status.ErrSessionBusy, "%s: %s is running", m.id, sess.id)
		}
	}
	return nil
}

func (s *Scheduler) model(id handles.ModelID) (*modelSlots, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, found := s.models[id]
	if !found {
		return nil, status.Errorf(status.ErrInvalidHandle, "%s not opened", id)
	}
	return m, nil
}

// lockedSession returns the session, validating its id.
// It must be called with m.mu held (for reading or writing).
func (m *modelSlots) lockedSession(sid handles.SessionID) (*session, error) {
	if m.closed {
		return nil, status.Errorf(status.ErrInvalidHandle, "%s was closed", m.id)
	}
	if sid < 0 || int(sid) >= len(m.sessions) {
		return nil, status.Errorf(status.ErrInvalidHandle, "%s: %s out of range [0, %d)", m.id, sid, len(m.sessions))
	}
	return m.sessions[sid], nil
}

// GenerateBufferSpace fixes the number of sessions of the model: session ids are thereafter [0, n).
// It generates n fresh execution sets in the binding registry, one per session, and all sessions start in
// the BufferSpaceReady state.
//
// It fails with ErrSessionBusy if a session of the model is running.
func (s *Scheduler) GenerateBufferSpace(id handles.ModelID, n int) error {
	m, err := s.model(id)
	if err != nil {
		return err
	}
	if n <= 0 {
		return status.Errorf(status.ErrInvalidArgument, "GenerateBufferSpace(%s, %d): session count must be positive", id, n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return status.Errorf(status.ErrInvalidHandle, "%s was closed", id)
	}
	if err = m.lockedCheckIdle(); err != nil {
		return errors.WithMessagef(err, "GenerateBufferSpace(%s)", id)
	}
	if err = s.registry.Generate(id, n); err != nil {
		return err
	}
	m.sessions = make([]*session, n)
	for ii := range m.sessions {
		m.sessions[ii] = &session{id: handles.SessionID(ii), state: BufferSpaceReady}
	}
	klog.V(1).Infof("Generated buffer space for %d sessions of %s", n, id)
	return nil
}

// NumSessions returns the number of sessions of the model, 0 before GenerateBufferSpace.
func (s *Scheduler) NumSessions(id handles.ModelID) (int, error) {
	m, err := s.model(id)
	if err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

// State returns the current state of the session. A Running session whose execution already finished is
// reported as Completed, until Wait is called.
func (s *Scheduler) State(id handles.ModelID, sid handles.SessionID) (State, error) {
	m, err := s.model(id)
	if err != nil {
		return Unallocated, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, err := m.lockedSession(sid)
	if err != nil {
		return Unallocated, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.state == Running {
		select {
		case <-sess.completion.Done():
			return Completed, nil
		default:
		}
	}
	return sess.state, nil
}

// Commit finalizes the buffer bindings of the session: the execution set with the same index must be
// complete, and its BufferTable is kept for every following execution of the session.
//
// Committing an already committed session resolves its bindings again. It fails with ErrSessionBusy while
// the session is running.
func (s *Scheduler) Commit(id handles.ModelID, sid handles.SessionID) error {
	m, err := s.model(id)
	if err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, err := m.lockedSession(sid)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.state == Running {
		return status.Errorf(status.ErrSessionBusy, "Commit(%s, %s): session is running", id, sid)
	}
	bt, generation, err := s.registry.ResolveGeneration(id, int(sid))
	if err != nil {
		return errors.WithMessagef(err, "Commit(%s, %s)", id, sid)
	}
	sess.buffers = bt
	sess.generation = generation
	sess.state = Committed
	klog.V(2).Infof("Committed %s/%s: %d regions", id, sid, len(bt))
	return nil
}

// ExecuteAsync submits the execution of a committed session to the driver and returns without waiting
// for it. The model and session ids are validated before anything reaches the driver.
//
// If the execution set of the session was cleared or regenerated since Commit, the committed bindings are
// dropped: the session goes back to BufferSpaceReady and ErrNotCommitted is returned.
//
// If the driver rejects the job, its error is returned unchanged and the session stays committed.
// Otherwise the session is Running until Wait is called.
func (s *Scheduler) ExecuteAsync(id handles.ModelID, sid handles.SessionID) error {
	m, err := s.model(id)
	if err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, err := m.lockedSession(sid)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	switch sess.state {
	case Committed:
	case Running:
		return status.Errorf(status.ErrSessionBusy, "ExecuteAsync(%s, %s): previous execution not waited for", id, sid)
	default:
		return status.Errorf(status.ErrNotCommitted, "ExecuteAsync(%s, %s): session is %s", id, sid, sess.state)
	}
	if err = s.registry.CheckGeneration(id, int(sid), sess.generation); err != nil {
		sess.state = BufferSpaceReady
		sess.buffers = nil
		klog.V(1).Infof("ExecuteAsync(%s, %s): committed bindings are stale: %v", id, sid, err)
		return status.Errorf(status.ErrNotCommitted, "ExecuteAsync(%s, %s): bindings changed since Commit: %v", id, sid, err)
	}
	completion, err := s.driver.Submit(&driver.Job{
		Model:   id,
		Session: sid,
		Graph:   m.graph,
		Table:   m.table,
		Buffers: sess.buffers,
	})
	if err != nil {
		klog.V(1).Infof("ExecuteAsync(%s, %s): driver %q rejected the job: %v", id, sid, s.driver.Name(), err)
		return err
	}
	sess.completion = completion
	sess.state = Running
	sess.executions++
	klog.V(2).Infof("ExecuteAsync(%s, %s): submitted execution #%d", id, sid, sess.executions)
	return nil
}

// Wait blocks until the running execution of the session finishes and returns its result: nil, or the
// driver's error unchanged. There is no timeout and no cancellation.
//
// Either way the session goes back to Committed, ready to be executed again.
// It fails with ErrNotRunning if the session has no execution in flight, and with ErrSessionBusy if another
// goroutine is already waiting on it.
func (s *Scheduler) Wait(id handles.ModelID, sid handles.SessionID) error {
	m, err := s.model(id)
	if err != nil {
		return err
	}
	m.mu.RLock()
	sess, err := m.lockedSession(sid)
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	sess.mu.Lock()
	if sess.state != Running {
		state := sess.state
		sess.mu.Unlock()
		return status.Errorf(status.ErrNotRunning, "Wait(%s, %s): session is %s", id, sid, state)
	}
	if sess.waiting {
		sess.mu.Unlock()
		return status.Errorf(status.ErrSessionBusy, "Wait(%s, %s): already being waited on", id, sid)
	}
	sess.waiting = true
	completion := sess.completion
	sess.mu.Unlock()

	execErr := completion.Wait()

	sess.mu.Lock()
	sess.state = Committed
	sess.waiting = false
	sess.completion = nil
	sess.mu.Unlock()
	if execErr != nil {
		klog.V(1).Infof("Wait(%s, %s): execution failed: %v", id, sid, execErr)
	}
	return execErr
}

// CloseModel waits for the running sessions of the model, releases its driver and auxiliary resources,
// and unregisters it from the binding registry.
func (s *Scheduler) CloseModel(id handles.ModelID) error {
	s.mu.Lock()
	m, found := s.models[id]
	delete(s.models, id)
	s.mu.Unlock()
	if !found {
		return status.Errorf(status.ErrInvalidHandle, "CloseModel(%s): model not opened", id)
	}

	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = nil
	m.mu.Unlock()
	for _, sess := range sessions {
		sess.mu.Lock()
		completion := sess.completion
		sess.mu.Unlock()
		if completion != nil {
			if err := completion.Wait(); err != nil {
				klog.Warningf("CloseModel(%s): %s finished with error: %v", id, sess.id, err)
			}
		}
	}

	s.driver.Release(id)
	var firstErr error
	if s.auxPool != nil {
		firstErr = s.auxPool.ReleaseModel(id)
	}
	if err := s.registry.UnregisterModel(id); err != nil && firstErr == nil {
		firstErr = err
	}
	klog.V(1).Infof("Closed %s", id)
	return firstErr
}
