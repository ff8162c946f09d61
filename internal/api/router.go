package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// RouterOption configures the behaviour of NewRouter.
type RouterOption func(*routerConfig)

// WithLogging controls whether access logs are emitted.
func WithLogging(enabled bool) RouterOption {
	return func(cfg *routerConfig) {
		cfg.enableLogging = enabled
	}
}

// WithRateLimiter overrides the limiter shared by every endpoint (primarily for tests).
func WithRateLimiter(limiter rateLimiter) RouterOption {
	return func(cfg *routerConfig) {
		cfg.apiLimit = limitSpec{limiter: limiter}
	}
}

// WithRateLimit configures the token bucket shared by every endpoint. A zero
// rate or burst disables it.
func WithRateLimit(ratePerSecond float64, burst int) RouterOption {
	return func(cfg *routerConfig) {
		cfg.apiLimit = limitSpec{rps: ratePerSecond, burst: burst}
	}
}

// WithReloadRateLimiter overrides the limiter in front of POST /api/reload.
func WithReloadRateLimiter(limiter rateLimiter) RouterOption {
	return func(cfg *routerConfig) {
		cfg.reloadLimit = limitSpec{limiter: limiter}
	}
}

// WithReloadRateLimit configures the bucket in front of POST /api/reload. It
// applies on top of the shared bucket. A zero rate or burst disables it.
func WithReloadRateLimit(ratePerSecond float64, burst int) RouterOption {
	return func(cfg *routerConfig) {
		cfg.reloadLimit = limitSpec{rps: ratePerSecond, burst: burst}
	}
}

// WithRouterClock sets the clock used by access logs and token buckets.
func WithRouterClock(clock clockwork.Clock) RouterOption {
	return func(cfg *routerConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

type routerConfig struct {
	enableLogging bool
	logger        *zap.Logger
	clock         clockwork.Clock
	apiLimit      limitSpec
	reloadLimit   limitSpec
}

// NewRouter creates an HTTP router with standard middleware.
func NewRouter(handler *Handler, logger *zap.Logger, opts ...RouterOption) http.Handler {
	cfg := routerConfig{
		enableLogging: true,
		logger:        logger,
		clock:         clockwork.NewRealClock(),
		apiLimit:      defaultAPILimit,
		reloadLimit:   defaultReloadLimit,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	reload := rateLimitMiddleware(scopeReload, cfg.reloadLimit.build(cfg.clock), cfg.logger,
		http.HandlerFunc(handler.handleReload))

	mux := http.NewServeMux()
	mux.Handle("GET /api/health", http.HandlerFunc(handler.handleHealth))
	mux.Handle("GET /api/descriptor", http.HandlerFunc(handler.handleGetDescriptor))
	mux.Handle("GET /api/signing", http.HandlerFunc(handler.handleGetSigning))
	mux.Handle("POST /api/reload", reload)

	var root http.Handler = mux
	root = corsMiddleware(root)
	root = recoveryMiddleware(cfg.logger, root)
	if cfg.enableLogging {
		root = loggingMiddleware(cfg.logger, cfg.clock, root)
	}
	root = rateLimitMiddleware(scopeAPI, cfg.apiLimit.build(cfg.clock), cfg.logger, root)
	root = requestIDMiddleware(root)

	return root
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type,X-Request-ID")
		h.Set("Access-Control-Expose-Headers", "X-Request-ID,Retry-After")
		h.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware writes one access log line per request. The matched mux
// pattern is logged as route so reloads are easy to pick out.
func loggingMiddleware(logger *zap.Logger, clock clockwork.Clock, next http.Handler) http.Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := clock.Now()
		next.ServeHTTP(rec, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("duration", clock.Since(start)),
			zap.String("request_id", requestIDFromContext(r.Context())),
		}
		if r.Pattern != "" {
			fields = append(fields, zap.String("route", r.Pattern))
		}

		switch {
		case rec.status >= http.StatusInternalServerError:
			logger.Error("request failed", fields...)
		case rec.status == http.StatusUnprocessableEntity || rec.status == http.StatusTooManyRequests:
			logger.Warn("request rejected", fields...)
		default:
			logger.Info("request completed", fields...)
		}
	})
}

func recoveryMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered",
					zap.Any("error", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestIDFromContext(r.Context())),
				)
				writeError(w, http.StatusInternalServerError, "Internal error", "unexpected server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware keeps a caller supplied X-Request-ID and otherwise
// assigns a UUID.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(contextWithRequestID(r.Context(), requestID)))
	})
}

func contextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}

// responseRecorder captures the status and body size for access logs.
type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}
