package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/config"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/models"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/ratelimit"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/token"
)

// Файл unit-тестов HTTP-мидлваров:
// - порядок Chain, X-Request-Id, дедлайн Timeout, Recover -> 500;
// - Logging пишет одну запись с request_id (capHandler вместо I/O);
// - Authenticate/RequireRole: Bearer, cookie, 401/403 в формате {error};
// - RateLimit: заголовки X-RateLimit-*, 429 с Retry-After и телом,
//   пользовательский DenyHandler.

// capHandler — тестовый slog.Handler, который:
//   - аккумулирует базовые attrs, приходящие через Logger.With(...);
//   - собирает attrs из каждой записи в map[string]any.
type capHandler struct {
	base    []slog.Attr
	lastMsg string
	attrs   map[string]any
	count   int
}

func (h *capHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capHandler) Handle(_ context.Context, r slog.Record) error {
	out := make(map[string]any, len(h.base)+8)
	for _, a := range h.base {
		out[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.Any()
		return true
	})

	h.count++
	h.lastMsg = r.Message
	h.attrs = out

	return nil
}

func (h *capHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.base = append(h.base, attrs...)
	return h
}

func (h *capHandler) WithGroup(string) slog.Handler { return h }

func makeReq(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = (&net.TCPAddr{IP: net.ParseIP("203.0.113.5"), Port: 12345}).String()
	return req
}

type errEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) errEnvelope {
	t.Helper()

	var env errEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestChain_Order(t *testing.T) {
	order := []string{}

	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name+"-begin")
				next.ServeHTTP(w, r)
				order = append(order, name+"-end")
			})
		}
	}

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	Chain(final, mw("m1"), mw("m2")).ServeHTTP(rr, makeReq(http.MethodGet, "/chain"))

	require.Equal(t, []string{"m1-begin", "m2-begin", "handler", "m2-end", "m1-end"}, order)
	require.Equal(t, http.StatusTeapot, rr.Code)
}

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	var seenHeader, seenCtx string

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenHeader = r.Header.Get(HeaderRequestID)
		seenCtx = RequestIDFrom(r.Context())
	})

	rr := httptest.NewRecorder()
	Chain(h, RequestID()).ServeHTTP(rr, makeReq(http.MethodGet, "/rid"))

	respID := rr.Header().Get(HeaderRequestID)
	require.Len(t, respID, 32)
	require.Equal(t, respID, seenHeader)
	require.Equal(t, respID, seenCtx)
}

func TestRequestID_UseExisting(t *testing.T) {
	const given = "abc123-existing-id"
	var seenCtx string

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCtx = RequestIDFrom(r.Context())
	})

	rr := httptest.NewRecorder()
	req := makeReq(http.MethodGet, "/rid")
	req.Header.Set(HeaderRequestID, given)
	Chain(h, RequestID()).ServeHTTP(rr, req)

	require.Equal(t, given, rr.Header().Get(HeaderRequestID))
	require.Equal(t, given, seenCtx)
}

func TestTimeout_SetsDeadline_WhenAbsent(t *testing.T) {
	var hasDeadline bool

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	})

	Chain(h, Timeout(50*time.Millisecond)).ServeHTTP(httptest.NewRecorder(), makeReq(http.MethodGet, "/t"))
	require.True(t, hasDeadline)

	hasDeadline = false
	Chain(h, Timeout(0)).ServeHTTP(httptest.NewRecorder(), makeReq(http.MethodGet, "/t"))
	require.False(t, hasDeadline)
}

func TestTimeout_KeepsShorterParentDeadline(t *testing.T) {
	var childDL time.Time

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		childDL, _ = r.Context().Deadline()
	})

	parent, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	Chain(h, Timeout(time.Second)).ServeHTTP(httptest.NewRecorder(), makeReq(http.MethodGet, "/t").WithContext(parent))

	parentDL, _ := parent.Deadline()
	require.WithinDuration(t, parentDL, childDL, time.Millisecond)
}

func TestTimeout_ShortensLongParentDeadline(t *testing.T) {
	var childDL time.Time

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		childDL, _ = r.Context().Deadline()
	})

	parent, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	Chain(h, Timeout(50*time.Millisecond)).ServeHTTP(httptest.NewRecorder(), makeReq(http.MethodGet, "/t").WithContext(parent))

	require.WithinDuration(t, time.Now().Add(50*time.Millisecond), childDL, 50*time.Millisecond)
}

func TestTimeout_SilentHandlerGets504(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	rr := httptest.NewRecorder()
	Chain(h, Timeout(10*time.Millisecond)).ServeHTTP(rr, makeReq(http.MethodGet, "/slow"))

	require.Equal(t, http.StatusGatewayTimeout, rr.Code)
	require.Equal(t, "deadline_exceeded", decodeEnvelope(t, rr).Error.Code)
}

func TestRecover_ConvertsPanicTo500(t *testing.T) {
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rr := httptest.NewRecorder()
	Chain(panicHandler, RequestID(), Recover()).ServeHTTP(rr, makeReq(http.MethodGet, "/panic"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	env := decodeEnvelope(t, rr)
	require.Equal(t, "internal", env.Error.Code)
	require.NotContains(t, env.Error.Message, "boom")
	require.Equal(t, rr.Header().Get(HeaderRequestID), env.Error.RequestID)
}

func TestLogging_WritesRecord_WithStatusBytesAndRequestID(t *testing.T) {
	h := &capHandler{}
	const rid = "rid-456"

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	})

	rr := httptest.NewRecorder()
	req := makeReq(http.MethodGet, "/log")
	req.Header.Set(HeaderRequestID, rid)
	Chain(final, RequestID(), Logging(slog.New(h))).ServeHTTP(rr, req)

	require.Equal(t, 1, h.count)
	require.Equal(t, "http", h.lastMsg)
	require.Equal(t, rid, h.attrs["request_id"])
	require.Equal(t, "/log", h.attrs["path"])
	require.EqualValues(t, http.StatusOK, h.attrs["status"])
	require.EqualValues(t, 10, h.attrs["bytes"])
	require.NotEqual(t, "203.0.113.5", h.attrs["ip"])
}

func TestMeter_DefaultStatusAndFirstWins(t *testing.T) {
	m := newMeter(httptest.NewRecorder())
	require.False(t, m.Written())
	require.Equal(t, http.StatusOK, m.Status())

	_, _ = m.Write([]byte("abcd"))
	m.WriteHeader(http.StatusTeapot)
	require.True(t, m.Written())
	require.Equal(t, http.StatusOK, m.Status())
	require.Equal(t, 4, m.bytes)
}

func TestChain_SkipsNil(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	final := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "h") })
	Chain(final, mw("a"), nil, mw("b")).ServeHTTP(httptest.NewRecorder(), makeReq(http.MethodGet, "/"))

	require.Equal(t, []string{"a", "b", "h"}, order)
}

// fakeAuth принимает только токены из карты.
type fakeAuth map[string]models.TokenPayload

func (f fakeAuth) Authenticate(_ context.Context, raw string) (models.TokenPayload, error) {
	p, ok := f[raw]
	if !ok {
		return models.TokenPayload{}, token.ErrInvalidToken
	}
	return p, nil
}

func TestAuthenticate(t *testing.T) {
	auth := fakeAuth{
		"user-token":  {UserID: "u-1", Role: models.RoleUser},
		"admin-token": {UserID: "a-1", Role: models.RoleAdmin},
	}

	var seen models.TokenPayload
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFrom(r.Context())
	})
	chain := Chain(h, Authenticate(auth, "access_token"))

	t.Run("bearer", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := makeReq(http.MethodGet, "/auth/me")
		req.Header.Set("Authorization", "Bearer user-token")
		chain.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		require.Equal(t, "u-1", seen.UserID)
	})

	t.Run("cookie", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := makeReq(http.MethodGet, "/auth/me")
		req.AddCookie(&http.Cookie{Name: "access_token", Value: "admin-token"})
		chain.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		require.Equal(t, "a-1", seen.UserID)
	})

	t.Run("missing", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := makeReq(http.MethodGet, "/auth/me")
		req.Header.Set("Authorization", "Basic abc")
		chain.ServeHTTP(rr, req)

		require.Equal(t, http.StatusUnauthorized, rr.Code)
		require.Equal(t, "unauthenticated", decodeEnvelope(t, rr).Error.Code)
	})

	t.Run("invalid", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := makeReq(http.MethodGet, "/auth/me")
		req.Header.Set("Authorization", "Bearer forged")
		chain.ServeHTTP(rr, req)

		require.Equal(t, http.StatusUnauthorized, rr.Code)
		require.Equal(t, "invalid_token", decodeEnvelope(t, rr).Error.Code)
	})
}

func TestRequireRole(t *testing.T) {
	chain := Chain(okHandler, RequireRole(models.RoleAdmin))

	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, makeReq(http.MethodGet, "/admin/x"))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	req := makeReq(http.MethodGet, "/admin/x")
	req = req.WithContext(WithUser(req.Context(), models.TokenPayload{UserID: "u-1", Role: models.RoleUser}))
	chain.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "permission_denied", decodeEnvelope(t, rr).Error.Code)

	rr = httptest.NewRecorder()
	req = makeReq(http.MethodGet, "/admin/x")
	req = req.WithContext(WithUser(req.Context(), models.TokenPayload{UserID: "a-1", Role: models.RoleAdmin}))
	chain.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}

func loginLimiter(t *testing.T, opts ...ratelimit.Option) *ratelimit.Limiter {
	t.Helper()

	cfg := config.RateLimitConfig{
		Enabled:  true,
		Backend:  config.BackendMemory,
		Capacity: 100,
		Policies: map[string]config.PolicyConfig{
			"login": {Window: time.Minute, Max: 2, Message: "slow down"},
		},
	}

	l, err := ratelimit.NewLimiter(cfg, nil, nil, opts...)
	require.NoError(t, err)
	return l
}

func TestRateLimit_HeadersAnd429(t *testing.T) {
	chain := Chain(okHandler, RateLimit(loginLimiter(t)))

	for i, wantRemaining := range []string{"1", "0"} {
		rr := httptest.NewRecorder()
		chain.ServeHTTP(rr, makeReq(http.MethodPost, "/auth/login"))

		require.Equal(t, http.StatusOK, rr.Code, "request %d", i)
		require.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
		require.Equal(t, wantRemaining, rr.Header().Get("X-RateLimit-Remaining"))
	}

	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, makeReq(http.MethodPost, "/auth/login"))

	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	require.Equal(t, "60", rr.Header().Get("Retry-After"))

	reset, err := strconv.ParseInt(rr.Header().Get("X-RateLimit-Reset"), 10, 64)
	require.NoError(t, err)
	require.InDelta(t, time.Now().Add(time.Minute).Unix(), reset, 2)

	var body struct {
		Error      string `json:"error"`
		Message    string `json:"message"`
		RetryAfter string `json:"retryAfter"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "Too Many Requests", body.Error)
	require.Equal(t, "slow down", body.Message)

	at, err := time.Parse(time.RFC3339, body.RetryAfter)
	require.NoError(t, err)
	require.Equal(t, reset, at.Unix())

	// Другой класс эндпойнтов считается отдельно.
	rr = httptest.NewRecorder()
	chain.ServeHTTP(rr, makeReq(http.MethodGet, "/auth/me"))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "100", rr.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_CustomDenyHandler(t *testing.T) {
	deny := func(w http.ResponseWriter, r *http.Request, d ratelimit.Decision) {
		w.Header().Set("X-Endpoint", string(d.Endpoint))
		w.WriteHeader(http.StatusTeapot)
	}
	chain := Chain(okHandler, RateLimit(loginLimiter(t, ratelimit.WithDenyHandler(deny))))

	var rr *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		rr = httptest.NewRecorder()
		chain.ServeHTTP(rr, makeReq(http.MethodPost, "/auth/login"))
	}

	require.Equal(t, http.StatusTeapot, rr.Code)
	require.Equal(t, "login", rr.Header().Get("X-Endpoint"))
	require.Empty(t, rr.Header().Get("Retry-After"))
}

func TestRateLimit_SkippedHasNoHeaders(t *testing.T) {
	l := loginLimiter(t, ratelimit.WithSkip(func(*http.Request) bool { return true }))

	rr := httptest.NewRecorder()
	Chain(okHandler, RateLimit(l)).ServeHTTP(rr, makeReq(http.MethodPost, "/auth/login"))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
}
