package sessions

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"hawx.me/code/signin"
)

const (
	loginRate    = rate.Limit(0.5)
	loginBurst   = 5
	limiterTTL   = 10 * time.Minute
	limiterCount = 4096
)

// loginLimiters hands out a token bucket per remote address, so one address
// hammering the login route cannot trigger a flood of outbound fetches or
// emails.
type loginLimiters struct {
	buckets *signin.TimedStore[string, *rate.Limiter]
}

func newLoginLimiters() *loginLimiters {
	return &loginLimiters{
		buckets: signin.NewTimedStore[string, *rate.Limiter](limiterTTL, limiterCount),
	}
}

func (l *loginLimiters) allow(addr string) bool {
	bucket, ok := l.buckets.Get(addr)
	if !ok {
		bucket = rate.NewLimiter(loginRate, loginBurst)
	}
	l.buckets.Set(addr, bucket)

	return bucket.Allow()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

func tooManyRequests(w http.ResponseWriter) {
	retryAfter := int(1 / float64(loginRate))
	if retryAfter < 1 {
		retryAfter = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	http.Error(w, "Too many login attempts. Please try again later.", http.StatusTooManyRequests)
}
