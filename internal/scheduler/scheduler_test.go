package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Far enough away that gocron never fires it during a test.
const yearly = "0 0 1 1 *"

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestRegisterTask_Duplicate(t *testing.T) {
	s := newTestScheduler(t)

	task := &TaskConfig{ID: "a", Name: "A", Cron: yearly, Func: func(context.Context) error { return nil }}
	require.NoError(t, s.RegisterTask(task))

	err := s.RegisterTask(task)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegisterTask_InvalidCron(t *testing.T) {
	s := newTestScheduler(t)

	err := s.RegisterTask(&TaskConfig{ID: "bad", Cron: "not a cron", Func: func(context.Context) error { return nil }})
	assert.Error(t, err)
	assert.Empty(t, s.ListTasks())
}

func TestRegisterTask_NameDefaultsToID(t *testing.T) {
	s := newTestScheduler(t)

	require.NoError(t, s.RegisterTask(&TaskConfig{ID: "unnamed", Cron: yearly, Func: func(context.Context) error { return nil }}))

	info, err := s.GetTask("unnamed")
	require.NoError(t, err)
	assert.Equal(t, "unnamed", info.Name)
}

func TestRegisterTask_EmptyID(t *testing.T) {
	s := newTestScheduler(t)

	err := s.RegisterTask(&TaskConfig{Cron: yearly, Func: func(context.Context) error { return nil }})
	assert.Error(t, err)
	assert.Empty(t, s.ListTasks())
}

func TestRunTask_RecordsResult(t *testing.T) {
	s := newTestScheduler(t)
	boom := errors.New("boom")

	var fail atomic.Bool
	require.NoError(t, s.RegisterTask(&TaskConfig{
		ID:   "flaky",
		Name: "Flaky",
		Cron: yearly,
		Func: func(context.Context) error {
			if fail.Load() {
				return boom
			}
			return nil
		},
	}))

	require.NoError(t, s.RunTask(context.Background(), "flaky"))
	info, err := s.GetTask("flaky")
	require.NoError(t, err)
	require.NotNil(t, info.LastRun)
	assert.Empty(t, info.LastError)
	assert.False(t, info.Running)

	fail.Store(true)
	assert.ErrorIs(t, s.RunTask(context.Background(), "flaky"), boom)
	info, err = s.GetTask("flaky")
	require.NoError(t, err)
	assert.Equal(t, "boom", info.LastError)
}

func TestRunTask_NotFound(t *testing.T) {
	s := newTestScheduler(t)

	assert.ErrorIs(t, s.RunTask(context.Background(), "missing"), ErrTaskNotFound)
	assert.ErrorIs(t, s.RunNow("missing"), ErrTaskNotFound)

	_, err := s.GetTask("missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRunTask_NoOverlap(t *testing.T) {
	s := newTestScheduler(t)

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.RegisterTask(&TaskConfig{
		ID:   "slow",
		Cron: yearly,
		Func: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	}))

	done := make(chan error, 1)
	go func() { done <- s.RunTask(context.Background(), "slow") }()
	<-started

	assert.ErrorIs(t, s.RunTask(context.Background(), "slow"), ErrTaskRunning)
	assert.ErrorIs(t, s.RunNow("slow"), ErrTaskRunning)

	info, err := s.GetTask("slow")
	require.NoError(t, err)
	assert.True(t, info.Running)

	close(release)
	require.NoError(t, <-done)
}

func TestStart_RunsOnStartTasks(t *testing.T) {
	s := newTestScheduler(t)

	type ctxKey struct{}
	var onStart, other atomic.Int32
	var sawValue atomic.Bool

	require.NoError(t, s.RegisterTask(&TaskConfig{
		ID:         "startup",
		Cron:       yearly,
		RunOnStart: true,
		Func: func(ctx context.Context) error {
			sawValue.Store(ctx.Value(ctxKey{}) == "scheduler")
			onStart.Add(1)
			return nil
		},
	}))
	require.NoError(t, s.RegisterTask(&TaskConfig{
		ID:   "later",
		Cron: yearly,
		Func: func(context.Context) error {
			other.Add(1)
			return nil
		},
	}))

	ctx := context.WithValue(context.Background(), ctxKey{}, "scheduler")
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Stop())

	assert.Equal(t, int32(1), onStart.Load())
	assert.Equal(t, int32(0), other.Load())
	assert.True(t, sawValue.Load(), "tasks should receive the start context")
}

func TestRunNow(t *testing.T) {
	s := newTestScheduler(t)

	ran := make(chan struct{})
	require.NoError(t, s.RegisterTask(&TaskConfig{
		ID:   "manual",
		Cron: yearly,
		Func: func(context.Context) error {
			close(ran)
			return nil
		},
	}))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	require.NoError(t, s.RunNow("manual"))

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestListTasks(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.RegisterTask(&TaskConfig{ID: "b", Name: "B", Cron: yearly, Func: noop}))
	require.NoError(t, s.RegisterTask(&TaskConfig{ID: "a", Name: "A", Description: "first", Cron: "0 2 * * *", Func: noop}))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	tasks := s.ListTasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "a", tasks[0].ID)
	assert.Equal(t, "first", tasks[0].Description)
	assert.Equal(t, "0 2 * * *", tasks[0].Cron)
	assert.Equal(t, "b", tasks[1].ID)
	assert.Nil(t, tasks[0].LastRun)
	require.NotNil(t, tasks[0].NextRun)
	assert.True(t, tasks[0].NextRun.After(time.Now()))
}
