// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"sync"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/handles"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/internal/xsync"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/status"
	"github.com/pkg/errors"
)

// SlotPool hands out the session ids of a model to the goroutines driving them, guaranteeing that no two
// goroutines hold the same id at the same time.
//
// It is the bounded pool shared by a producer (Acquire an idle slot, fill its inputs, ExecuteAsync) and a
// consumer (Wait, read the outputs, Release the slot).
type SlotPool struct {
	free chan handles.SessionID

	mu   sync.Mutex
	held []bool
}

// NewSlotPool returns a pool with the session ids [0, numSessions), all idle.
func NewSlotPool(numSessions int) *SlotPool {
	p := &SlotPool{
		free: make(chan handles.SessionID, numSessions),
		held: make([]bool, numSessions),
	}
	for ii := range numSessions {
		p.free <- handles.SessionID(ii)
	}
	return p
}

// Size returns the number of session ids managed by the pool.
func (p *SlotPool) Size() int { return len(p.held) }

// Acquire blocks until a session id is idle and returns it, or until ctx is done.
func (p *SlotPool) Acquire(ctx context.Context) (handles.SessionID, error) {
	select {
	case sid := <-p.free:
		p.markHeld(sid)
		return sid, nil
	case <-ctx.Done():
		return -1, errors.Wrap(ctx.Err(), "SlotPool.Acquire")
	}
}

// TryAcquire returns an idle session id, if there is one, without blocking.
func (p *SlotPool) TryAcquire() (handles.SessionID, bool) {
	select {
	case sid := <-p.free:
		p.markHeld(sid)
		return sid, true
	default:
		return -1, false
	}
}

func (p *SlotPool) markHeld(sid handles.SessionID) {
	p.mu.Lock()
	p.held[sid] = true
	p.mu.Unlock()
}

// Release returns the session id to the pool. Releasing an id not currently held fails.
func (p *SlotPool) Release(sid handles.SessionID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sid < 0 || int(sid) >= len(p.held) {
		return status.Errorf(status.ErrInvalidHandle, "SlotPool.Release(%s): out of range [0, %d)", sid, len(p.held))
	}
	if !p.held[sid] {
		return status.Errorf(status.ErrInvalidArgument, "SlotPool.Release(%s): not acquired", sid)
	}
	p.held[sid] = false
	if xsync.SendNoBlock(p.free, sid) != 0 {
		// Can't happen: the channel has room for every id not held.
		panic(errors.Errorf("SlotPool.Release(%s): free list full", sid))
	}
	return nil
}
