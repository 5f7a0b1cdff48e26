package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_BoundedCardinality(t *testing.T) {
	s := NewMemoryStore(3, time.Minute)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 10; i++ {
		_, err := s.Hit(ctx, fmt.Sprintf("k%d", i), now, time.Minute)
		require.NoError(t, err)
		require.LessOrEqual(t, s.Len(), 3)
	}
	require.Equal(t, 3, s.Len())

	// Самый старый ключ вытеснен: счёт начинается заново.
	n, err := s.Hit(ctx, "k0", now, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Недавний ключ сохранил историю.
	n, err = s.Hit(ctx, "k9", now, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestMemoryStore_RecentlyUsedSurvives(t *testing.T) {
	s := NewMemoryStore(2, time.Minute)
	ctx := context.Background()
	now := time.Now()

	_, _ = s.Hit(ctx, "a", now, time.Minute)
	_, _ = s.Hit(ctx, "b", now, time.Minute)
	_, _ = s.Hit(ctx, "a", now, time.Minute) // a становится самым свежим
	_, _ = s.Hit(ctx, "c", now, time.Minute) // вытесняет b

	n, _ := s.Hit(ctx, "a", now, time.Minute)
	require.Equal(t, 3, n)

	n, _ = s.Hit(ctx, "b", now, time.Minute)
	require.Equal(t, 1, n)
}

func TestMemoryStore_ConcurrentHits(t *testing.T) {
	s := NewMemoryStore(10, time.Minute)
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Hit(ctx, "shared", now, time.Minute)
		}()
	}
	wg.Wait()

	n, err := s.Hit(ctx, "shared", now, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 51, n)
}

func TestPrune(t *testing.T) {
	base := time.Unix(1000, 0)
	stamps := []time.Time{base, base.Add(time.Second), base.Add(2 * time.Second)}

	require.Len(t, prune(stamps, base.Add(-time.Second)), 3)
	require.Len(t, prune(stamps, base), 2)
	require.Len(t, prune(stamps, base.Add(2*time.Second)), 0)
	require.Empty(t, prune(nil, base))
}

func TestRedisStore_SlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := NewRedisStore(rdb, "rl:")
	ctx := context.Background()
	t0 := time.Now()

	for i := 1; i <= 3; i++ {
		n, err := s.Hit(ctx, "ip", t0, time.Second)
		require.NoError(t, err)
		require.Equal(t, i, n)
	}

	n, err := s.Hit(ctx, "ip", t0.Add(500*time.Millisecond), time.Second)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	// Отметки t0 выпадают из окна, остаются t0+500ms и новая.
	n, err = s.Hit(ctx, "ip", t0.Add(time.Second+time.Millisecond), time.Second)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.Greater(t, mr.TTL("rl:ip"), time.Duration(0))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want Endpoint
	}{
		{"/auth/login", EndpointLogin},
		{"/api/v1/auth/login", EndpointLogin},
		{"/auth/register", EndpointRegister},
		{"/auth/password-reset/request", EndpointPasswordReset},
		{"/payments/charge", EndpointPayment},
		{"/uploads", EndpointUpload},
		{"/admin/users/42/sessions", EndpointAdmin},
		{"/auth/me", EndpointDefault},
		{"/auth/loginx", EndpointDefault},
		{"/administer", EndpointDefault},
		{"/", EndpointDefault},
		{"", EndpointDefault},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			require.Equal(t, tt.want, Classify(tt.path))
		})
	}
}

func TestDefaultPolicies_Table(t *testing.T) {
	p := DefaultPolicies()

	require.Equal(t, Policy{Window: 15 * time.Minute, Max: 100, Message: defaultMessage}, p[EndpointDefault])
	require.Equal(t, 5, p[EndpointLogin].Max)
	require.Equal(t, time.Hour, p[EndpointRegister].Window)
	require.Equal(t, 3, p[EndpointPasswordReset].Max)
	require.Equal(t, time.Minute, p[EndpointPayment].Window)
	require.Equal(t, 20, p[EndpointUpload].Max)
	require.Equal(t, 30, p[EndpointAdmin].Max)

	// Копия независима.
	p[EndpointLogin] = Policy{}
	require.Equal(t, 5, DefaultPolicies()[EndpointLogin].Max)
}

func TestClientIP_Precedence(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"cf_first", map[string]string{
			"CF-Connecting-IP": "203.0.113.1",
			"X-Forwarded-For":  "198.51.100.1",
			"X-Real-IP":        "192.0.2.9",
		}, "10.0.0.1:1", "203.0.113.1"},
		{"xff_first_entry", map[string]string{
			"X-Forwarded-For": " 198.51.100.1 , 10.0.0.2",
			"X-Real-IP":       "192.0.2.9",
		}, "10.0.0.1:1", "198.51.100.1"},
		{"real_ip", map[string]string{"X-Real-IP": "192.0.2.9"}, "10.0.0.1:1", "192.0.2.9"},
		{"invalid_headers_skipped", map[string]string{
			"CF-Connecting-IP": "garbage",
			"X-Forwarded-For":  "unknown",
			"X-Real-IP":        "192.0.2.9",
		}, "10.0.0.1:1", "192.0.2.9"},
		{"remote_addr", nil, "10.0.0.1:5555", "10.0.0.1"},
		{"ipv6_mapped", map[string]string{"X-Real-IP": "::ffff:192.0.2.7"}, "", "192.0.2.7"},
		{"loopback_fallback", nil, "", "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			require.Equal(t, tt.want, ClientIP(r))
		})
	}
}
