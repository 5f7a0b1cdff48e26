package bruteforce

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/config"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/metrics"
)

func defaultCfg() config.BruteForceConfig {
	return config.BruteForceConfig{MaxAttempts: 5, Window: 15 * time.Minute, BlockDuration: time.Hour}
}

// newDefense создаёт защиту с управляемыми часами.
func newDefense(t *testing.T, cfg config.BruteForceConfig) (*Defense, *time.Time) {
	t.Helper()

	d := New(cfg, nil)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	return d, &now
}

func TestRecordAttempt_BlocksExactlyAtThreshold(t *testing.T) {
	d, now := newDefense(t, defaultCfg())
	const key = "203.0.113.5"

	for i := 1; i <= 4; i++ {
		require.True(t, d.RecordAttempt(key), "attempt %d", i)
		require.Equal(t, 5-i, d.RemainingAttempts(key))
		require.False(t, d.IsBlocked(key))
		*now = now.Add(time.Second)
	}

	require.False(t, d.RecordAttempt(key))
	require.True(t, d.IsBlocked(key))
	require.Zero(t, d.RemainingAttempts(key))

	until, blocked := d.BlockedUntil(key)
	require.True(t, blocked)
	require.Equal(t, now.Add(time.Hour), until)

	// Дальнейшие попытки не меняют историю и не продлевают блокировку.
	attempts := len(d.keys[key].attempts)
	for i := 0; i < 3; i++ {
		*now = now.Add(time.Minute)
		require.False(t, d.RecordAttempt(key))
	}
	require.Len(t, d.keys[key].attempts, attempts)

	again, _ := d.BlockedUntil(key)
	require.Equal(t, until, again)
}

func TestRecordSuccess_FullReset(t *testing.T) {
	d, _ := newDefense(t, defaultCfg())
	const key = "user@example.com"

	for i := 0; i < 3; i++ {
		require.True(t, d.RecordAttempt(key))
	}
	require.Equal(t, 2, d.RemainingAttempts(key))

	d.RecordSuccess(key)
	require.Equal(t, 5, d.RemainingAttempts(key))
	require.False(t, d.IsBlocked(key))

	// Сброс работает и из состояния Blocked.
	for i := 0; i < 5; i++ {
		d.RecordAttempt(key)
	}
	require.True(t, d.IsBlocked(key))

	d.RecordSuccess(key)
	require.False(t, d.IsBlocked(key))
	require.Equal(t, 5, d.RemainingAttempts(key))
}

func TestLazyUnblock(t *testing.T) {
	d, now := newDefense(t, defaultCfg())
	const key = "k"

	for i := 0; i < 5; i++ {
		d.RecordAttempt(key)
	}
	require.True(t, d.IsBlocked(key))

	*now = now.Add(time.Hour - time.Nanosecond)
	require.True(t, d.IsBlocked(key))

	*now = now.Add(time.Nanosecond)
	require.False(t, d.IsBlocked(key))
	require.Equal(t, 5, d.RemainingAttempts(key))
	require.Zero(t, d.Len(), "expired block clears the key entirely")

	require.True(t, d.RecordAttempt(key))
	require.Equal(t, 4, d.RemainingAttempts(key))
}

func TestAttemptsOutsideWindowAreForgotten(t *testing.T) {
	d, now := newDefense(t, defaultCfg())
	const key = "k"

	for i := 0; i < 4; i++ {
		require.True(t, d.RecordAttempt(key))
	}

	*now = now.Add(15*time.Minute + time.Second)
	require.Equal(t, 5, d.RemainingAttempts(key))

	// Старые неудачи не суммируются с новыми.
	for i := 0; i < 4; i++ {
		require.True(t, d.RecordAttempt(key))
	}
	require.False(t, d.IsBlocked(key))
}

func TestCheck_ReturnsTypedError(t *testing.T) {
	d, now := newDefense(t, defaultCfg())

	require.NoError(t, d.Check("k"))

	for i := 0; i < 5; i++ {
		d.RecordAttempt("k")
	}

	err := d.Check("k")
	require.ErrorIs(t, err, ErrBlocked)

	var be *BlockedError
	require.True(t, errors.As(err, &be))
	require.Equal(t, now.Add(time.Hour), be.Until)
	require.Equal(t, time.Hour, be.RetryAfter(*now))
	require.Equal(t, time.Second, be.RetryAfter(now.Add(2*time.Hour)))

	wrapped := fmt.Errorf("service.Login: %w", err)
	require.ErrorIs(t, wrapped, ErrBlocked)
}

func TestSweep(t *testing.T) {
	d, now := newDefense(t, defaultCfg())

	d.RecordAttempt("stale")
	*now = now.Add(10 * time.Minute)
	d.RecordAttempt("fresh")
	for i := 0; i < 5; i++ {
		d.RecordAttempt("blocked")
	}
	require.Equal(t, 3, d.Len())

	// "stale" вышла из окна, "fresh" нет, блокировка ещё действует.
	removed := d.Sweep(now.Add(6 * time.Minute))
	require.Equal(t, 1, removed)
	require.Equal(t, 2, d.Len())

	removed = d.Sweep(now.Add(2 * time.Hour))
	require.Equal(t, 2, removed)
	require.Zero(t, d.Len())
}

func TestNew_Defaults(t *testing.T) {
	d := New(config.BruteForceConfig{}, nil)

	require.Equal(t, 5, d.MaxAttempts())
	require.Equal(t, 15*time.Minute, d.window)
	require.Equal(t, time.Hour, d.block)
}

func TestConcurrentAttempts(t *testing.T) {
	d, _ := newDefense(t, config.BruteForceConfig{MaxAttempts: 10, Window: time.Hour, BlockDuration: time.Hour})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		fail int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := d.RecordAttempt("shared")
			mu.Lock()
			defer mu.Unlock()
			if ok {
				oks++
			} else {
				fail++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 9, oks)
	require.Equal(t, 41, fail)
	require.True(t, d.IsBlocked("shared"))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := New(config.BruteForceConfig{MaxAttempts: 2, Window: time.Minute, BlockDuration: time.Minute}, metrics.New(reg))

	d.RecordAttempt("k")
	d.RecordAttempt("k")
	d.RecordAttempt("k")
	d.RecordSuccess("k")

	// failure, blocked, rejected, success.
	n, err := testutil.GatherAndCount(reg, "authguard_bruteforce_events_total")
	require.NoError(t, err)
	require.Equal(t, 4, n)
}
