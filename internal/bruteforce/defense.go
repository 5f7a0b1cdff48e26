// Package bruteforce — защита от перебора паролей с явным состоянием
// блокировки. В отличие от rate limit, заблокированный ключ отклоняется
// безусловно до истечения таймера или до успешного входа.
//
// Состояния ключа: Clear -> Tracking (1..max-1 неудач в окне) -> Blocked.
// Разблокировка ленивая: при следующем обращении после blockedUntil
// ключ удаляется целиком.
package bruteforce

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/config"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/metrics"
)

// ErrBlocked — ключ заблокирован. Транспорт: HTTP 429 + Retry-After.
var ErrBlocked = errors.New("too many failed attempts")

// BlockedError несёт момент окончания блокировки.
type BlockedError struct {
	Until time.Time
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s: blocked until %s", ErrBlocked, e.Until.UTC().Format(time.RFC3339))
}

// Is позволяет проверять errors.Is(err, ErrBlocked).
func (e *BlockedError) Is(target error) bool { return target == ErrBlocked }

// RetryAfter возвращает оставшееся время блокировки, не меньше секунды.
func (e *BlockedError) RetryAfter(now time.Time) time.Duration {
	d := e.Until.Sub(now)
	if d < time.Second {
		return time.Second
	}

	return d
}

type state struct {
	attempts     []time.Time
	blockedUntil time.Time
}

// Defense — потокобезопасное хранилище состояний по ключам.
type Defense struct {
	mu      sync.Mutex
	keys    map[string]*state
	max     int
	window  time.Duration
	block   time.Duration
	metrics *metrics.Metrics

	now func() time.Time
}

// New создаёт Defense. Нулевые значения cfg заменяются на 5 / 15m / 1h.
func New(cfg config.BruteForceConfig, m *metrics.Metrics) *Defense {
	d := &Defense{
		keys:    make(map[string]*state),
		max:     cfg.MaxAttempts,
		window:  cfg.Window,
		block:   cfg.BlockDuration,
		metrics: m,
		now:     time.Now,
	}

	if d.max <= 0 {
		d.max = 5
	}
	if d.window <= 0 {
		d.window = 15 * time.Minute
	}
	if d.block <= 0 {
		d.block = time.Hour
	}

	return d
}

// MaxAttempts возвращает порог блокировки.
func (d *Defense) MaxAttempts() int { return d.max }

// lookup возвращает состояние ключа, снимая истёкшую блокировку.
// Вызывается под мьютексом.
func (d *Defense) lookup(key string, now time.Time) *state {
	st, ok := d.keys[key]
	if !ok {
		return nil
	}

	if !st.blockedUntil.IsZero() && !now.Before(st.blockedUntil) {
		delete(d.keys, key)
		return nil
	}

	return st
}

// RecordAttempt фиксирует неудачную попытку. Возвращает true, если ключ
// остаётся ниже порога, и false, если попытка вызвала блокировку или
// ключ уже заблокирован (тогда история не меняется).
func (d *Defense) RecordAttempt(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	st := d.lookup(key, now)

	if st != nil && !st.blockedUntil.IsZero() {
		d.metrics.BruteForce("rejected")
		return false
	}

	if st == nil {
		st = &state{}
		d.keys[key] = st
	}

	st.attempts = pruneBefore(st.attempts, now.Add(-d.window))
	st.attempts = append(st.attempts, now)

	if len(st.attempts) >= d.max {
		st.blockedUntil = now.Add(d.block)
		d.metrics.BruteForce("blocked")
		return false
	}

	d.metrics.BruteForce("failure")
	return true
}

// RecordSuccess полностью сбрасывает состояние ключа.
func (d *Defense) RecordSuccess(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.keys, key)
	d.metrics.BruteForce("success")
}

// IsBlocked сообщает, заблокирован ли ключ сейчас.
func (d *Defense) IsBlocked(key string) bool {
	_, blocked := d.BlockedUntil(key)
	return blocked
}

// BlockedUntil возвращает момент снятия блокировки.
func (d *Defense) BlockedUntil(key string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.lookup(key, d.now())
	if st == nil || st.blockedUntil.IsZero() {
		return time.Time{}, false
	}

	return st.blockedUntil, true
}

// Check возвращает *BlockedError, если ключ заблокирован.
func (d *Defense) Check(key string) error {
	if until, blocked := d.BlockedUntil(key); blocked {
		return &BlockedError{Until: until}
	}

	return nil
}

// RemainingAttempts возвращает число попыток до блокировки (0 при блокировке).
func (d *Defense) RemainingAttempts(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	st := d.lookup(key, now)
	if st == nil {
		return d.max
	}

	if !st.blockedUntil.IsZero() {
		return 0
	}

	live := 0
	threshold := now.Add(-d.window)
	for _, t := range st.attempts {
		if t.After(threshold) {
			live++
		}
	}

	return max(0, d.max-live)
}

// Sweep удаляет ключи без живых попыток и без действующей блокировки.
// Возвращает число удалённых ключей.
func (d *Defense) Sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	threshold := now.Add(-d.window)
	removed := 0

	for key, st := range d.keys {
		if !st.blockedUntil.IsZero() {
			if !now.Before(st.blockedUntil) {
				delete(d.keys, key)
				removed++
			}
			continue
		}

		if len(st.attempts) == 0 || !st.attempts[len(st.attempts)-1].After(threshold) {
			delete(d.keys, key)
			removed++
		}
	}

	return removed
}

// Len возвращает число отслеживаемых ключей.
func (d *Defense) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.keys)
}

func pruneBefore(stamps []time.Time, threshold time.Time) []time.Time {
	kept := stamps[:0]
	for _, t := range stamps {
		if t.After(threshold) {
			kept = append(kept, t)
		}
	}

	return kept
}
