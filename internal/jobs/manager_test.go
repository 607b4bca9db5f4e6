package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"poolwatch/pkg/lock"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counting(name string, every time.Duration, counter *atomic.Int32) *Func {
	return &Func{
		JobName: name,
		Every:   every,
		Function: func(context.Context) error {
			counter.Add(1)
			return nil
		},
	}
}

func TestManager_RunsImmediatelyAndPeriodically(t *testing.T) {
	m := NewManager(context.Background())
	var runs atomic.Int32
	m.Register(counting("tick", 10*time.Millisecond, &runs))
	m.Register(nil)
	assert.Equal(t, []string{"tick"}, m.Names())

	m.Start()
	m.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Wait()
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestManager_IgnoresLateRegistration(t *testing.T) {
	m := NewManager(context.Background())
	m.Start()
	var runs atomic.Int32
	m.Register(counting("late", time.Millisecond, &runs))
	assert.Empty(t, m.Names())
	m.Stop()
	m.Wait()
}

func TestManager_SurvivesFailuresAndPanics(t *testing.T) {
	m := NewManager(context.Background())
	var runs atomic.Int32
	m.Register(&Func{JobName: "flaky", Every: 5 * time.Millisecond, Function: func(context.Context) error {
		n := runs.Add(1)
		if n == 1 {
			panic("first run")
		}
		return errors.New("still failing")
	}})

	m.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	m.Stop()
	m.Wait()
}

func TestWithLock_SkipsWhenHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	other := lock.NewRedisLock(client, "jobs:test")
	acquired, err := other.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	var runs atomic.Int32
	job := WithLock(counting("guarded", time.Minute, &runs), lock.NewRedisLock(client, "jobs:test"))

	require.NoError(t, job.Run(ctx))
	assert.Zero(t, runs.Load())

	require.NoError(t, other.Unlock(ctx))
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, int32(1), runs.Load())
	// released after the run
	assert.False(t, mr.Exists("jobs:test"))
}

func TestWithLock_NilLockerIsPassThrough(t *testing.T) {
	var runs atomic.Int32
	job := counting("plain", time.Minute, &runs)
	assert.Same(t, Job(job), WithLock(job, nil))
}

func TestWithLock_KeepsAlignment(t *testing.T) {
	var runs atomic.Int32
	job := counting("aligned", time.Minute, &runs)
	job.Aligned = true
	wrapped := WithLock(job, lock.NewRedisLock(nil, "x"))
	aligned, ok := wrapped.(AlignedJob)
	require.True(t, ok)
	assert.True(t, aligned.AlignToInterval())
	assert.Equal(t, "aligned", wrapped.Name())
}
