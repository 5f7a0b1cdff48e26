package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/pribylovaa/go-news-aggregator/authguard/internal/errors"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/ratelimit"
)

// rateLimitBody — тело ответа 429.
type rateLimitBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter string `json:"retryAfter"`
}

// RateLimit учитывает запрос в лимитере. На каждый учтённый запрос
// выставляются X-RateLimit-Limit, X-RateLimit-Remaining и X-RateLimit-Reset
// (unix-секунды). При отказе отвечает 429 с Retry-After, либо отдаёт
// ответ пользовательскому DenyHandler лимитера.
func RateLimit(l *ratelimit.Limiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.CheckRateLimit(r)

			if !d.Skipped {
				h := w.Header()
				h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
				h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
				h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			}

			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			if deny := l.DenyHandler(); deny != nil {
				deny(w, r, d)
				return
			}

			w.Header().Set("Retry-After", apierrors.RetryAfterSeconds(d.RetryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(rateLimitBody{
				Error:      http.StatusText(http.StatusTooManyRequests),
				Message:    d.Message,
				RetryAfter: d.ResetAt.UTC().Format(time.RFC3339),
			})
		})
	}
}
