package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	scopeAPI    = "api"
	scopeReload = "reload"
)

// Default buckets. A reload re-reads key.properties and local.properties from
// disk, so it gets a much smaller budget than the read endpoints.
var (
	defaultAPILimit    = limitSpec{rps: 25, burst: 50}
	defaultReloadLimit = limitSpec{rps: 0.5, burst: 2}
)

// rateLimiter decides whether a request may proceed right now.
type rateLimiter interface {
	Allow() bool
}

// retryHinter is implemented by limiters that can tell when the next token
// becomes available.
type retryHinter interface {
	RetryAfter() time.Duration
}

// limitSpec is a requested bucket shape. An explicit limiter wins over rps
// and burst; a zero rps or burst disables the bucket.
type limitSpec struct {
	rps     float64
	burst   int
	limiter rateLimiter
}

func (s limitSpec) build(clock clockwork.Clock) rateLimiter {
	if s.limiter != nil {
		return s.limiter
	}
	if s.rps <= 0 || s.burst <= 0 {
		return nil
	}
	return newTokenBucketLimiter(s.rps, s.burst, clock)
}

// tokenBucket reads time from a clockwork clock so tests can refill it by
// advancing a fake clock.
type tokenBucket struct {
	limiter *rate.Limiter
	clock   clockwork.Clock
}

func newTokenBucketLimiter(ratePerSecond float64, burst int, clock clockwork.Clock) *tokenBucket {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &tokenBucket{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		clock:   clock,
	}
}

func (b *tokenBucket) Allow() bool {
	return b.limiter.AllowN(b.clock.Now(), 1)
}

// RetryAfter reports how long until one token is available, without
// consuming it.
func (b *tokenBucket) RetryAfter() time.Duration {
	now := b.clock.Now()
	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return time.Second
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return delay
}

// retryAfterSeconds rounds up to whole seconds as the header requires.
func retryAfterSeconds(limiter rateLimiter) string {
	secs := 1
	if h, ok := limiter.(retryHinter); ok {
		if d := h.RetryAfter(); d > 0 {
			secs = int(math.Ceil(d.Seconds()))
		}
	}
	return strconv.Itoa(secs)
}

// rateLimitMiddleware rejects requests the limiter refuses. scope names the
// bucket in logs and in the error body.
func rateLimitMiddleware(scope string, limiter rateLimiter, logger *zap.Logger, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limiter.Allow() {
			next.ServeHTTP(w, r)
			return
		}
		retry := retryAfterSeconds(limiter)
		logger.Debug("request rate limited",
			zap.String("scope", scope),
			zap.String("path", r.URL.Path),
			zap.String("retry_after", retry),
			zap.String("request_id", requestIDFromContext(r.Context())),
		)
		w.Header().Set("Retry-After", retry)
		writeError(w, http.StatusTooManyRequests, "Too many requests", scope+" rate limit exceeded, retry in "+retry+"s")
	})
}
