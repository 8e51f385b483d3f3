package profiler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapRecordsSuccess(t *testing.T) {
	p := New(time.Hour)
	op := p.Wrap("fast", func(ctx context.Context) error { return nil })

	for i := 0; i < 3; i++ {
		require.NoError(t, op(context.Background()))
	}

	s, ok := p.Get("fast")
	require.True(t, ok)
	assert.Equal(t, int64(3), s.Count)
	assert.Zero(t, s.ErrorCount)
	assert.Zero(t, s.SlowCount)
	assert.LessOrEqual(t, s.MinTime, s.MaxTime)
	assert.Equal(t, s.TotalTime/3, s.AvgTime)
}

func TestWrapErrorAccounting(t *testing.T) {
	p := New(0) // every execution is slow
	boom := errors.New("boom")
	op := p.Wrap("failing", func(ctx context.Context) error {
		time.Sleep(time.Millisecond)
		return boom
	})

	const n = 5
	for i := 0; i < n; i++ {
		err := op(context.Background())
		assert.Same(t, boom, err, "error must be returned unchanged")
	}

	s, _ := p.Get("failing")
	assert.Equal(t, int64(n), s.Count)
	assert.Equal(t, s.Count, s.ErrorCount)
	assert.Equal(t, int64(n), s.SlowCount)
	assert.Equal(t, float64(100), s.SlowPercentage)
	assert.GreaterOrEqual(t, s.MinTime, time.Millisecond)
}

func TestWrapRecordsPanic(t *testing.T) {
	p := New(time.Hour)
	op := p.Wrap("panics", func(ctx context.Context) error { panic("kaboom") })

	assert.PanicsWithValue(t, "kaboom", func() { _ = op(context.Background()) })

	s, ok := p.Get("panics")
	require.True(t, ok)
	assert.Equal(t, int64(1), s.Count)
	assert.Equal(t, int64(1), s.ErrorCount)
}

func TestWrapAsync(t *testing.T) {
	p := New(time.Hour)
	boom := errors.New("boom")
	op := p.WrapAsync("async", func(ctx context.Context) error { return boom })

	err := <-op(context.Background())
	assert.ErrorIs(t, err, boom)

	s, _ := p.Get("async")
	assert.Equal(t, int64(1), s.ErrorCount)
}

func TestProfileReturnsValue(t *testing.T) {
	p := New(time.Hour)
	op := Profile(p, "value", func(ctx context.Context) (int, error) { return 42, nil })

	v, err := op(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	s, _ := p.Get("value")
	assert.Equal(t, int64(1), s.Count)
}

func TestManualTrack(t *testing.T) {
	p := New(100 * time.Millisecond)
	p.ManualTrack("manual", 10*time.Millisecond, false)
	p.ManualTrack("manual", 300*time.Millisecond, true)

	s, _ := p.Get("manual")
	assert.Equal(t, int64(2), s.Count)
	assert.Equal(t, int64(1), s.SlowCount)
	assert.Zero(t, s.ErrorCount)
	assert.Equal(t, 10*time.Millisecond, s.MinTime)
	assert.Equal(t, 300*time.Millisecond, s.MaxTime)
	assert.Equal(t, 155*time.Millisecond, s.AvgTime)
	assert.Equal(t, float64(50), s.SlowPercentage)
}

func TestSlowAndSlowestQueries(t *testing.T) {
	p := New(100 * time.Millisecond)
	p.ManualTrack("a", 50*time.Millisecond, false)
	p.ManualTrack("b", 200*time.Millisecond, true)
	p.ManualTrack("b", 400*time.Millisecond, true)
	p.ManualTrack("c", 150*time.Millisecond, true)

	slow := p.SlowQueries(1)
	require.Len(t, slow, 2)
	assert.Equal(t, "b", slow[0].Name)
	assert.Equal(t, "c", slow[1].Name)
	assert.Len(t, p.SlowQueries(2), 1)
	assert.Len(t, p.SlowQueries(0), 3)

	slowest := p.SlowestQueries(2)
	require.Len(t, slowest, 2)
	assert.Equal(t, "b", slowest[0].Name)
	assert.Equal(t, "c", slowest[1].Name)
	assert.Nil(t, p.SlowestQueries(0))
}

func TestReset(t *testing.T) {
	p := New(time.Second)
	p.ManualTrack("a", time.Millisecond, false)
	p.ManualTrack("b", time.Millisecond, false)

	assert.True(t, p.Reset("a"))
	assert.False(t, p.Reset("a"))
	assert.Len(t, p.Stats(), 1)

	p.ResetAll()
	assert.Empty(t, p.Stats())
}

func TestConcurrentRecording(t *testing.T) {
	p := New(time.Hour)
	op := p.Wrap("shared", func(ctx context.Context) error { return nil })

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = op(context.Background())
				p.ManualTrack("manual", time.Microsecond, false)
			}
		}()
	}
	wg.Wait()

	s, _ := p.Get("shared")
	assert.Equal(t, int64(1600), s.Count)
	m, _ := p.Get("manual")
	assert.Equal(t, int64(1600), m.Count)
}
