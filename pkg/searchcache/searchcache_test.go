package searchcache

import (
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/migadu/soradb/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	ID    int
	Score float64
}

func newTestCache(ttl time.Duration) (*Cache[result], *testclock.Clock) {
	clk := testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New[result](ttl, WithClock(clk), WithName("test")), clk
}

func TestPutGet(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	want := []result{{ID: 1, Score: 0.9}, {ID: 2, Score: 0.5}}
	c.Put("q", 10, NoScope, want)

	got, ok := c.Get("q", 10, NoScope)
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = c.Get("q", 5, NoScope)
	assert.False(t, ok, "top_k distinguishes entries")
	_, ok = c.Get("q", 10, "proj")
	assert.False(t, ok, "scope distinguishes entries")

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(2), s.Misses)
	assert.Equal(t, int64(3), s.TotalRequests)
	assert.Equal(t, "33.3%", s.HitRate)
	assert.Equal(t, 1, s.CacheSize)
	assert.Equal(t, 60.0, s.TTLSeconds)
}

func TestExpiry(t *testing.T) {
	c, clk := newTestCache(time.Minute)
	c.Put("q", 10, NoScope, []result{{ID: 1}})

	clk.Advance(59 * time.Second)
	_, ok := c.Get("q", 10, NoScope)
	assert.True(t, ok)

	clk.Advance(time.Second)
	_, ok = c.Get("q", 10, NoScope)
	assert.False(t, ok, "entry whose age reached the TTL is expired")
	assert.Equal(t, 0, c.Len())

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(0), s.Misses)
	assert.Equal(t, int64(1), s.Expirations)
	assert.Equal(t, int64(2), s.TotalRequests)
}

func TestExpiryOnReadUpdatesEntriesGauge(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := New[result](time.Minute, WithClock(clk), WithName("expiry-gauge"))
	gauge := metrics.CacheEntries.WithLabelValues("expiry-gauge")

	c.Put("a", 10, NoScope, nil)
	c.Put("b", 10, NoScope, nil)
	assert.Equal(t, 2.0, testutil.ToFloat64(gauge))

	clk.Advance(time.Minute)
	_, ok := c.Get("a", 10, NoScope)
	require.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(gauge))
}

func TestPutOverwritesAndRefreshes(t *testing.T) {
	c, clk := newTestCache(time.Minute)
	c.Put("q", 10, NoScope, []result{{ID: 1}})
	clk.Advance(50 * time.Second)
	c.Put("q", 10, NoScope, []result{{ID: 2}})
	clk.Advance(50 * time.Second)

	got, ok := c.Get("q", 10, NoScope)
	require.True(t, ok)
	assert.Equal(t, []result{{ID: 2}}, got)
}

func TestInvalidateProject(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Put("q1", 10, "alpha", []result{{ID: 1}})
	c.Put("q2", 5, "alpha", []result{{ID: 2}})
	c.Put("q1", 10, "beta", []result{{ID: 3}})
	c.Put("q1", 10, NoScope, []result{{ID: 4}})

	assert.Equal(t, 2, c.InvalidateProject("alpha"))
	assert.Equal(t, 0, c.InvalidateProject("alpha"))
	assert.Equal(t, 0, c.InvalidateProject("unknown"))

	_, ok := c.Get("q1", 10, "alpha")
	assert.False(t, ok)
	_, ok = c.Get("q1", 10, "beta")
	assert.True(t, ok)
	_, ok = c.Get("q1", 10, NoScope)
	assert.True(t, ok)
}

func TestInvalidateQuery(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Put("q", 10, NoScope, nil)
	c.Put("q", 5, "alpha", nil)
	c.Put("other", 10, NoScope, nil)

	assert.Equal(t, 2, c.InvalidateQuery("q"))
	assert.Equal(t, 0, c.InvalidateQuery("q"))
	assert.Equal(t, 1, c.Len())
}

func TestInvalidateQueryTopKIgnoresScope(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Put("q", 10, NoScope, nil)
	c.Put("q", 10, "alpha", nil)
	c.Put("q", 5, "alpha", nil)

	assert.Equal(t, 2, c.InvalidateQueryTopK("q", 10))
	_, ok := c.Get("q", 5, "alpha")
	assert.True(t, ok)
}

func TestInvalidateKey(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Put("q", 10, NoScope, nil)
	c.Put("q", 10, "alpha", nil)

	assert.Equal(t, 1, c.InvalidateKey("q", 10, "alpha"))
	assert.Equal(t, 0, c.InvalidateKey("q", 10, "alpha"))
	_, ok := c.Get("q", 10, NoScope)
	assert.True(t, ok)
}

func TestCleanupExpired(t *testing.T) {
	c, clk := newTestCache(time.Minute)
	c.Put("old", 10, NoScope, nil)
	clk.Advance(30 * time.Second)
	c.Put("new", 10, NoScope, nil)
	clk.Advance(30 * time.Second)

	assert.Equal(t, 1, c.CleanupExpired())
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("new", 10, NoScope)
	assert.True(t, ok)
}

func TestCleanupLoop(t *testing.T) {
	c, clk := newTestCache(time.Minute)
	c.Put("q", 10, NoScope, nil)
	c.StartCleanup(10 * time.Second)
	defer c.Stop()

	clk.Advance(time.Minute)
	require.NoError(t, clk.WaitAdvance(10*time.Second, time.Second, 1))

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStopIdempotent(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.StartCleanup(time.Second)
	c.Stop()
	c.Stop()
}

func TestStartCleanupRunsOneSweeper(t *testing.T) {
	c, clk := newTestCache(time.Minute)
	c.StartCleanup(10 * time.Second)
	c.lifeMu.Lock()
	first := c.cleanupStopped
	c.lifeMu.Unlock()

	c.StartCleanup(10 * time.Second)
	c.lifeMu.Lock()
	second := c.cleanupStopped
	c.lifeMu.Unlock()
	assert.Equal(t, first, second, "second call must not replace the sweeper")

	require.NoError(t, clk.WaitAdvance(10*time.Second, time.Second, 1))
	c.Stop()
	select {
	case <-first:
	default:
		t.Fatal("sweeper still running after Stop")
	}
}

func TestStartCleanupAfterStopIsNoop(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Stop()
	c.StartCleanup(time.Second)

	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	assert.False(t, c.started)
	assert.Nil(t, c.cleanupStopped)
}

func TestClearKeepsCounters(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Put("q", 10, NoScope, nil)
	c.Get("q", 10, NoScope)
	c.Clear()

	s := c.Stats()
	assert.Equal(t, 0, s.CacheSize)
	assert.Equal(t, int64(1), s.Hits)

	c.ResetStats()
	s = c.Stats()
	assert.Equal(t, int64(0), s.TotalRequests)
	assert.Equal(t, "0.0%", s.HitRate)
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Put("q", j%5, "alpha", []result{{ID: i}})
				c.Get("q", j%5, "alpha")
				if j%50 == 0 {
					c.InvalidateProject("alpha")
				}
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 5)
}
