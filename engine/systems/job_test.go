package systems

import (
	"errors"
	"io"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/core"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

func TestNewJobSystemValidation(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}

func TestRunAllWaitsForEveryJob(t *testing.T) {
	js, err := NewJobSystem(4, 2)
	require.NoError(t, err)
	defer js.Shutdown()

	var done, completed atomic.Int32
	jobs := make([]Job, 0, 16)
	for i := 0; i < 16; i++ {
		jobs = append(jobs, Job{
			Name:       "count",
			Run:        func() error { done.Add(1); return nil },
			OnComplete: func() { completed.Add(1) },
		})
	}
	require.NoError(t, js.RunAll(jobs...))
	assert.EqualValues(t, 16, done.Load())
	assert.EqualValues(t, 16, completed.Load())
}

func TestRunAllJoinsFailures(t *testing.T) {
	js, err := NewJobSystem(2, 0)
	require.NoError(t, err)
	defer js.Shutdown()

	boom := errors.New("boom")
	var failures atomic.Int32
	err = js.RunAll(
		Job{Name: "ok", Run: func() error { return nil }},
		Job{Name: "bad", Run: func() error { return boom }, OnFailure: func(error) { failures.Add(1) }},
	)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "bad")
	assert.EqualValues(t, 1, failures.Load())
}

func TestSubmitAfterShutdown(t *testing.T) {
	js, err := NewJobSystem(1, 0)
	require.NoError(t, err)
	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown())
	assert.ErrorIs(t, js.Submit(Job{Run: func() error { return nil }}), ErrJobSystemClosed)
	assert.ErrorIs(t, js.RunAll(Job{Name: "late", Run: func() error { return nil }}), ErrJobSystemClosed)
}
