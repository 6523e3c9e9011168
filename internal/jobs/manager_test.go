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

type countingJob struct {
	name     string
	interval time.Duration
	runs     atomic.Int32
	active   *atomic.Int32
	maxSeen  *atomic.Int32
	err      error
}

func newCountingJob(name string, interval time.Duration) *countingJob {
	return &countingJob{
		name:     name,
		interval: interval,
		active:   &atomic.Int32{},
		maxSeen:  &atomic.Int32{},
	}
}

func (j *countingJob) Name() string            { return j.name }
func (j *countingJob) Interval() time.Duration { return j.interval }

func (j *countingJob) Run(ctx context.Context) error {
	n := j.active.Add(1)
	defer j.active.Add(-1)
	for {
		cur := j.maxSeen.Load()
		if n <= cur || j.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	j.runs.Add(1)
	return j.err
}

func TestManager_RunsImmediatelyThenOnInterval(t *testing.T) {
	m := NewManager(context.Background())
	job := newCountingJob("release", 20*time.Millisecond)
	m.Register(job)
	m.Start()
	defer func() {
		m.Stop()
		m.Wait()
	}()

	require.Eventually(t, func() bool { return job.runs.Load() >= 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return job.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestManager_RescheduleKeepsSingleInstance(t *testing.T) {
	m := NewManager(context.Background())
	defer func() {
		m.Stop()
		m.Wait()
	}()

	shared := newCountingJob("push", 5*time.Millisecond)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Schedule(&countingJob{
				name:     "push",
				interval: 5 * time.Millisecond,
				active:   shared.active,
				maxSeen:  shared.maxSeen,
			})
		}()
	}
	wg.Wait()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []string{"push"}, m.Running())
	assert.Equal(t, int32(1), shared.maxSeen.Load())
}

func TestManager_Unschedule(t *testing.T) {
	m := NewManager(context.Background())
	defer func() {
		m.Stop()
		m.Wait()
	}()

	job := newCountingJob("simulators", 5*time.Millisecond)
	m.Schedule(job)
	require.Eventually(t, func() bool { return job.runs.Load() >= 1 }, time.Second, time.Millisecond)

	assert.True(t, m.Unschedule("simulators"))
	assert.False(t, m.Unschedule("simulators"))
	assert.Empty(t, m.Running())

	runs := job.runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, runs, job.runs.Load())
}

func TestManager_FailingJobKeepsRunning(t *testing.T) {
	m := NewManager(context.Background())
	job := newCountingJob("prune", 5*time.Millisecond)
	job.err = errors.New("hub unreachable")
	m.Schedule(job)

	require.Eventually(t, func() bool { return job.runs.Load() >= 3 }, time.Second, time.Millisecond)

	m.Stop()
	m.Wait()
}

func TestManager_ScheduleAfterStopIsIgnored(t *testing.T) {
	m := NewManager(context.Background())
	m.Stop()
	m.Wait()

	job := newCountingJob("late", time.Millisecond)
	m.Schedule(job)
	m.Wait()

	assert.Empty(t, m.Running())
	assert.Equal(t, int32(0), job.runs.Load())
}
