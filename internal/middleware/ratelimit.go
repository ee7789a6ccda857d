package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL       = 10 * time.Minute
	limiterSweepInterval = 5 * time.Minute
)

// RateLimiter enforces a per-client token-bucket limit on the callback
// surface. Each client IP gets its own bucket; idle buckets are swept
// opportunistically on the request path rather than by a background
// goroutine.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu        sync.Mutex
	clients   map[string]*clientBucket
	lastSweep time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter allowing rps sustained requests per second
// per client with the given burst capacity.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		clients:   make(map[string]*clientBucket),
		lastSweep: time.Now(),
	}
}

// Middleware wraps next with the rate limit check. Rejected requests get a
// 429 with a Retry-After hint; accepted ones carry X-RateLimit headers.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := rl.bucketFor(clientIP(r))

		reservation := limiter.Reserve()
		if !reservation.OK() {
			writeTooManyRequests(w, 0)
			return
		}
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			writeTooManyRequests(w, int(delay.Seconds())+1)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) bucketFor(ip string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) > limiterSweepInterval {
		for ip, b := range rl.clients {
			if now.Sub(b.lastSeen) > limiterIdleTTL {
				delete(rl.clients, ip)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.clients[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[ip] = b
	}
	b.lastSeen = now
	return b.limiter
}

// clientIP keys the bucket by RemoteAddr with the port stripped. Forwarding
// headers are ignored: inside the container platform the agent is not behind
// a trusted proxy that sets them, and honoring them would let a caller pick
// its own bucket.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	if retryAfterSecs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    429,
		"message": "rate limit exceeded",
	})
}
