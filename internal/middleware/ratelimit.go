package myMiddleware

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// WriteLimiter throttles mutating requests per authenticated user.
type WriteLimiter struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   rate.Limit
	burst int
}

func NewWriteLimiter(rps, burst int) *WriteLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &WriteLimiter{m: make(map[string]*rate.Limiter), rps: rate.Limit(rps), burst: burst}
}

func (l *WriteLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.m[key]; ok {
		return lim
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	l.m[key] = lim
	return lim
}

func (l *WriteLimiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Handle applies the limit to every method except GET, HEAD and OPTIONS.
// It must run after AuthMiddleware.
func (l *WriteLimiter) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		userID, _, ok := Identity(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if !l.Allow(userID) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
