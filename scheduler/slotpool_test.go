package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/driver/drivertest"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/handles"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSlotPool(t *testing.T) {
	pool := NewSlotPool(2)
	assert.Equal(t, 2, pool.Size())

	ctx := context.Background()
	first, err := pool.Acquire(ctx)
	require.NoError(t, err)
	second, ok := pool.TryAcquire()
	require.True(t, ok)
	assert.NotEqual(t, first, second)
	_, ok = pool.TryAcquire()
	assert.False(t, ok)

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(timeoutCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, pool.Release(second))
	assert.Equal(t, status.InvalidArgument, status.Of(pool.Release(second)))
	assert.Equal(t, status.InvalidHandle, status.Of(pool.Release(2)))
	assert.Equal(t, status.InvalidHandle, status.Of(pool.Release(-1)))
	sid, ok := pool.TryAcquire()
	require.True(t, ok)
	assert.Equal(t, second, sid)
}

// TestProducerConsumer drives the sessions from two goroutines: the producer submits executions on idle
// slots, the consumer waits on them and hands the slots back.
func TestProducerConsumer(t *testing.T) {
	fake := drivertest.NewFake()
	fake.Delay = 50 * time.Microsecond
	env := newTestEnv(t, fake)
	numSessions, numExecutions := 3, 100
	env.setup(t, numSessions)

	slots := NewSlotPool(numSessions)
	submitted := make(chan handles.SessionID, numSessions)
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		defer close(submitted)
		for range numExecutions {
			sid, err := slots.Acquire(ctx)
			if err != nil {
				return err
			}
			if err = env.sched.ExecuteAsync(testModel, sid); err != nil {
				return err
			}
			submitted <- sid
		}
		return nil
	})
	g.Go(func() error {
		for sid := range submitted {
			if err := env.sched.Wait(testModel, sid); err != nil {
				return err
			}
			if err := slots.Release(sid); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, g.Wait())
	assert.Equal(t, numExecutions, fake.Submitted())
	assert.Zero(t, fake.Overlaps())
}
