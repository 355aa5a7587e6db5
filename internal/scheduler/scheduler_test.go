package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToQuartzSpec(t *testing.T) {
	assert.Equal(t, "0 */5 * * * *", toQuartzSpec("*/5 * * * *"))
}

func TestScheduleIgnoresEmptyTimespec(t *testing.T) {
	s := New()
	var ran atomic.Bool
	s.Schedule(Job{Name: "noop", Timespec: "", Fn: func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}})
	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Shutdown(context.Background())
	assert.False(t, ran.Load())
}

func TestOneshotJobRunsExactlyOnce(t *testing.T) {
	s := New()
	var count atomic.Int32
	s.Schedule(Job{Name: "oneshot-job", Timespec: "oneshot", Fn: func(ctx context.Context) error {
		count.Add(1)
		return nil
	}})
	s.Start()
	s.Shutdown(context.Background())
	assert.Equal(t, int32(1), count.Load())
}

func TestShutdownWaitsForRunningJob(t *testing.T) {
	s := New()
	started := make(chan struct{})
	var finished atomic.Bool
	s.Schedule(Job{Name: "slow", Timespec: "oneshot", Fn: func(ctx context.Context) error {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
		return nil
	}})
	s.Start()
	<-started
	s.Shutdown(context.Background())
	assert.True(t, finished.Load())
}
