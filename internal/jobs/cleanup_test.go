package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweep struct {
	calls atomic.Int32
	count int64
	err   error
}

func (s *countingSweep) sweep(context.Context) (int64, error) {
	s.calls.Add(1)
	return s.count, s.err
}

func TestCleanupJob(t *testing.T) {
	t.Run("creates job with correct interval", func(t *testing.T) {
		job := NewCleanupJob(nil, 5*time.Minute)

		assert.NotNil(t, job)
		assert.Equal(t, 5*time.Minute, job.interval)
		assert.Empty(t, job.sweeps)
	})

	t.Run("skips nil sweeps", func(t *testing.T) {
		tokens := &countingSweep{}
		job := NewCleanupJob(map[string]Sweeper{
			"verification tokens": tokens.sweep,
			"unused":              nil,
		}, time.Hour)

		assert.Len(t, job.sweeps, 1)
	})

	t.Run("starts and stops without panic", func(t *testing.T) {
		tokens := &countingSweep{}
		job := NewCleanupJob(map[string]Sweeper{"verification tokens": tokens.sweep}, 100*time.Millisecond)

		job.Start()
		time.Sleep(50 * time.Millisecond)
		job.Stop()
	})

	t.Run("runs cleanup on start", func(t *testing.T) {
		tokens := &countingSweep{count: 2}
		failing := &countingSweep{err: errors.New("db down")}
		job := NewCleanupJob(map[string]Sweeper{
			"verification tokens": tokens.sweep,
			"broken":              failing.sweep,
		}, time.Hour)

		job.Start()
		defer job.Stop()

		require.Eventually(t, func() bool {
			return tokens.calls.Load() == 1 && failing.calls.Load() == 1
		}, time.Second, 5*time.Millisecond)
	})
}

type fakeChecker struct {
	mu     sync.Mutex
	calls  int
	result int
}

func (c *fakeChecker) CheckListeners(context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.result
}

func (c *fakeChecker) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestWatchdogJob(t *testing.T) {
	t.Run("polls on every tick", func(t *testing.T) {
		checker := &fakeChecker{result: 1}
		job := NewWatchdogJob(checker, 10*time.Millisecond)

		job.Start()
		require.Eventually(t, func() bool { return checker.count() >= 3 }, time.Second, 5*time.Millisecond)
		job.Stop()
	})

	t.Run("no checks after stop returns", func(t *testing.T) {
		checker := &fakeChecker{}
		job := NewWatchdogJob(checker, 5*time.Millisecond)

		job.Start()
		require.Eventually(t, func() bool { return checker.count() >= 1 }, time.Second, time.Millisecond)
		job.Stop()

		after := checker.count()
		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, after, checker.count())
	})
}
