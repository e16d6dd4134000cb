package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-engine/pkg/logger"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	block chan struct{}
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "counts runs" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

func newTestScheduler(history int) *Scheduler {
	return NewScheduler(SchedulerConfig{
		Logger:         logger.Nop(),
		TickInterval:   5 * time.Millisecond,
		MaxHistorySize: history,
	})
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	s := newTestScheduler(10)
	job := &countingJob{name: "tick"}
	every, err := NewIntervalSchedule(10 * time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, s.Register(job, every))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool { return job.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	info, err := s.GetJobInfo("tick")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.RunCount, int64(2))
	assert.Equal(t, "@every 10ms", info.Schedule)
}

func TestScheduler_DoesNotOverlapScheduledRuns(t *testing.T) {
	s := newTestScheduler(10)
	job := &countingJob{name: "slow", block: make(chan struct{})}
	every, err := NewIntervalSchedule(time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, s.Register(job, every))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), job.runs.Load())

	close(job.block)
	require.NoError(t, s.Stop())
}

func TestScheduler_RunNowAndHistory(t *testing.T) {
	s := newTestScheduler(2)
	boom := errors.New("boom")
	ok := &countingJob{name: "ok"}
	bad := &countingJob{name: "bad", err: boom}
	hourly, err := NewIntervalSchedule(time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Register(ok, hourly))
	require.NoError(t, s.Register(bad, hourly))
	assert.ErrorIs(t, s.Register(ok, hourly), ErrJobAlreadyExists)

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)

	_, err = s.RunNow(context.Background(), "bad")
	assert.ErrorIs(t, err, boom)
	_, err = s.RunNow(context.Background(), "ok")
	require.NoError(t, err)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	history := s.GetHistory(0)
	require.Len(t, history, 2)
	assert.Equal(t, "bad", history[0].JobName)
	assert.Equal(t, "ok", history[1].JobName)

	jobs := s.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "bad", jobs[0].Name)
	assert.Equal(t, int64(1), jobs[0].FailCount)

	snap := s.Metrics().Snapshot()
	assert.Equal(t, int64(3), snap.TotalExecutions)
	assert.Equal(t, int64(1), snap.TotalFailures)
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("@every 30m")
	require.NoError(t, err)
	base := time.Date(2024, 3, 10, 12, 7, 0, 0, time.UTC)
	assert.Equal(t, base.Add(30*time.Minute), s.Next(base))

	s, err = ParseSchedule("0 * * * *")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC), s.Next(base))

	s, err = ParseSchedule("*/15 2-3 * * 1,3")
	require.NoError(t, err)
	// 2024-03-10 is a Sunday; the next Monday 02:00 is 03-11.
	assert.Equal(t, time.Date(2024, 3, 11, 2, 0, 0, 0, time.UTC), s.Next(base))

	for _, bad := range []string{"@every -1m", "@every soon", "* * *", "61 * * * *", "5-1 * * * *", "*/0 * * * *"} {
		_, err := ParseSchedule(bad)
		assert.Error(t, err, bad)
	}
}
