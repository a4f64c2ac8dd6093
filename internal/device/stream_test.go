package device

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_RunsOpsInOrder(t *testing.T) {
	t.Parallel()

	s := NewStream()
	defer s.Close() //nolint:errcheck // test cleanup

	var order []int
	for i := range 1000 {
		require.NoError(t, s.Launch(func() error {
			order = append(order, i)
			return nil
		}))
	}
	require.NoError(t, s.Synchronize())

	require.Len(t, order, 1000)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestStream_StickyError(t *testing.T) {
	t.Parallel()

	s := NewStream()
	defer s.Close() //nolint:errcheck // test cleanup

	boom := errors.New("boom")
	var ranAfter atomic.Bool
	require.NoError(t, s.Launch(func() error { return boom }))
	require.NoError(t, s.Launch(func() error {
		ranAfter.Store(true)
		return nil
	}))

	assert.ErrorIs(t, s.Synchronize(), boom)
	assert.ErrorIs(t, s.Synchronize(), boom)
	assert.False(t, ranAfter.Load())
	assert.ErrorIs(t, s.Err(), boom)
}

func TestStream_Close(t *testing.T) {
	t.Parallel()

	s := NewStream()
	var ran atomic.Bool
	require.NoError(t, s.Launch(func() error {
		time.Sleep(10 * time.Millisecond)
		ran.Store(true)
		return nil
	}))

	require.NoError(t, s.Close())
	assert.True(t, ran.Load())
	assert.NoError(t, s.Close())
	assert.ErrorIs(t, s.Launch(func() error { return nil }), ErrStreamClosed)
	assert.ErrorIs(t, s.Synchronize(), ErrStreamClosed)
}

func TestEvent_WaitsForPriorOps(t *testing.T) {
	t.Parallel()

	s := NewStream()
	defer s.Close() //nolint:errcheck // test cleanup

	release := make(chan struct{})
	require.NoError(t, s.Launch(func() error {
		<-release
		return nil
	}))

	e := NewEvent()
	assert.True(t, e.Query(), "unrecorded event is complete")
	require.NoError(t, e.Record(s))
	assert.False(t, e.Query())

	close(release)
	require.NoError(t, e.Synchronize())
	assert.True(t, e.Query())
}

func TestEvent_RecordReplacesEarlierPoint(t *testing.T) {
	t.Parallel()

	s := NewStream()
	defer s.Close() //nolint:errcheck // test cleanup

	e := NewEvent()
	require.NoError(t, e.Record(s))
	require.NoError(t, e.Synchronize())

	var ran atomic.Bool
	require.NoError(t, s.Launch(func() error {
		time.Sleep(5 * time.Millisecond)
		ran.Store(true)
		return nil
	}))
	require.NoError(t, e.Record(s))
	require.NoError(t, e.Synchronize())
	assert.True(t, ran.Load())
}

func TestEvent_ReportsStreamError(t *testing.T) {
	t.Parallel()

	s := NewStream()
	defer s.Close() //nolint:errcheck // test cleanup

	boom := errors.New("boom")
	require.NoError(t, s.Launch(func() error { return boom }))

	e := NewEvent()
	require.NoError(t, e.Record(s))
	assert.ErrorIs(t, e.Synchronize(), boom)
}
