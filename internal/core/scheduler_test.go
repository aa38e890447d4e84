package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerRunsJobs(t *testing.T) {
	var count atomic.Int32
	sched := NewScheduler(10*time.Millisecond, nil)
	sched.Add("count", func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	sched.Add("fail", func(ctx context.Context) error {
		return errors.New("boom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	sched.Start(ctx)

	assert.Positive(t, count.Load())
	assert.Positive(t, sched.Failed())
	assert.Greater(t, sched.Runs(), sched.Failed())
}

func TestSchedulerSkipsBusyJob(t *testing.T) {
	var started atomic.Int32
	sched := NewScheduler(5*time.Millisecond, nil)
	sched.Add("slow", func(ctx context.Context) error {
		started.Add(1)
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	sched.Start(ctx)

	assert.Equal(t, int32(1), started.Load())
}
