// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package driver

import "github.com/AaronZLT/CL-EDEN-kernel-sub009/internal/xsync"

// Completion of a submitted job.
type Completion interface {
	// Wait blocks until the job finishes and returns its error, if any. It can be called any number of times.
	Wait() error

	// Done returns a channel closed when the job finishes.
	Done() <-chan struct{}
}

// Signal is a Completion triggered by the driver when the job finishes.
type Signal struct {
	latch *xsync.LatchWithValue[error]
}

// Compile-time check.
var _ Completion = (*Signal)(nil)

// NewSignal returns a Signal not yet finished.
func NewSignal() *Signal {
	return &Signal{latch: xsync.NewLatchWithValue[error]()}
}

// Finish the job with the given error (nil for success). Only the first call has an effect.
func (s *Signal) Finish(err error) {
	s.latch.Trigger(err)
}

// Wait implements Completion.
func (s *Signal) Wait() error {
	return s.latch.Wait()
}

// Done implements Completion.
func (s *Signal) Done() <-chan struct{} {
	return s.latch.WaitChan()
}
